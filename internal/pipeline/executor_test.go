package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/validate"
	"github.com/jorge-barreto/docgen/internal/version"
)

func pending(s registry.DocumentSpec) DocumentInstance {
	if s.OutputVariable == "" {
		s.OutputVariable = s.ID
	}
	return DocumentInstance{Spec: s, Status: DocGenerating}
}

func TestBackoff(t *testing.T) {
	base, limit := 2*time.Second, 30*time.Second
	cases := []struct {
		attempt int
		hint    time.Duration
		limit   time.Duration
		want    time.Duration
	}{
		{1, 0, limit, 2 * time.Second},
		{2, 0, limit, 4 * time.Second},
		{3, 0, limit, 8 * time.Second},
		{5, 0, limit, 30 * time.Second},
		{60, 0, limit, 30 * time.Second},
		{1, 10 * time.Second, limit, 10 * time.Second},
		{3, 5 * time.Second, limit, 8 * time.Second},
		{1, time.Minute, limit, 30 * time.Second},
		{4, 0, 0, 16 * time.Second},
	}
	for _, c := range cases {
		if got := Backoff(c.attempt, base, c.limit, c.hint); got != c.want {
			t.Fatalf("Backoff(%d, hint %v, limit %v) = %v, want %v", c.attempt, c.hint, c.limit, got, c.want)
		}
	}
}

func TestExecute_FailsTwiceThenSucceeds(t *testing.T) {
	gw := &fakeGateway{reply: func(_ context.Context, n int, req provider.Request) (provider.Response, error) {
		if n < 3 {
			return provider.Response{}, failure.Transientf("upstream 503")
		}
		return echo(req), nil
	}}
	store := version.NewMemoryStore()
	d := &delays{}
	ex := newExecutor(gw, store, d)

	var stages []Stage
	ex.OnAttempt = func(ev AttemptEvent) { stages = append(stages, ev.Stage) }

	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "Write about {{project_name}}")), nil)
	if outcome != OutcomeCompleted || inst.Status != DocCompleted {
		t.Fatalf("outcome = %v, status = %s", outcome, inst.Status)
	}
	if inst.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3", inst.Attempts)
	}
	if len(inst.Versions) != 1 || inst.Versions[0].Sequence != 1 {
		t.Fatalf("Versions = %+v", inst.Versions)
	}
	hist, _ := store.History(context.Background(), "a")
	if len(hist) != 1 {
		t.Fatalf("store holds %d versions, want 1", len(hist))
	}
	if got := d.list(); len(got) != 2 || got[0] != time.Second || got[1] != 2*time.Second {
		t.Fatalf("backoff = %v", got)
	}
	want := []Stage{AttemptStarted, AttemptRetrying, AttemptStarted, AttemptRetrying, AttemptStarted, AttemptSucceeded}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}
	if v, _ := ex.Vars.Lookup("a"); !strings.Contains(v, "Write about Acme") {
		t.Fatalf("output variable = %q", v)
	}
}

func TestExecute_Exhausted(t *testing.T) {
	gw := &fakeGateway{reply: func(context.Context, int, provider.Request) (provider.Response, error) {
		return provider.Response{}, failure.Transientf("connection reset")
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "x")), nil)
	if outcome != OutcomeFailed || inst.Status != DocFailed {
		t.Fatalf("outcome = %v", outcome)
	}
	if inst.Attempts != 3 || inst.LastError != "connection reset" || inst.ErrorKind != failure.Transient {
		t.Fatalf("inst = %+v", inst)
	}
	if _, ok := ex.Vars.Lookup("a"); ok {
		t.Fatal("failed document bound its output")
	}
}

func TestExecute_PermanentNotRetried(t *testing.T) {
	gw := &fakeGateway{reply: func(context.Context, int, provider.Request) (provider.Response, error) {
		return provider.Response{}, failure.Permanentf("invalid api key")
	}}
	d := &delays{}
	ex := newExecutor(gw, version.NewMemoryStore(), d)
	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "x")), nil)
	if outcome != OutcomeFailed || inst.Attempts != 1 || inst.ErrorKind != failure.Permanent {
		t.Fatalf("outcome = %v inst = %+v", outcome, inst)
	}
	if len(d.list()) != 0 {
		t.Fatal("permanent failure should not back off")
	}
}

func TestExecute_RateLimitHint(t *testing.T) {
	gw := &fakeGateway{reply: func(_ context.Context, n int, req provider.Request) (provider.Response, error) {
		if n == 1 {
			return provider.Response{}, failure.RateLimitedf(7*time.Second, "rate limit exceeded")
		}
		return echo(req), nil
	}}
	d := &delays{}
	ex := newExecutor(gw, version.NewMemoryStore(), d)
	if _, outcome := ex.Execute(context.Background(), pending(spec("a", "x")), nil); outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v", outcome)
	}
	if got := d.list(); len(got) != 1 || got[0] != 7*time.Second {
		t.Fatalf("backoff = %v, want [7s]", got)
	}
}

func TestExecute_MissingVariable(t *testing.T) {
	gw := &fakeGateway{}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "Use {{nope}}")), nil)
	if outcome != OutcomeFailed || inst.ErrorKind != failure.MissingVariable {
		t.Fatalf("outcome = %v inst = %+v", outcome, inst)
	}
	if inst.Attempts != 0 || len(gw.documents()) != 0 {
		t.Fatal("provider must not be called when a variable is missing")
	}
	if !strings.Contains(inst.LastError, "nope") {
		t.Fatalf("LastError = %q", inst.LastError)
	}
}

func TestExecute_ValidationHint(t *testing.T) {
	gw := &fakeGateway{reply: func(_ context.Context, n int, req provider.Request) (provider.Response, error) {
		if n == 1 {
			return provider.Response{Text: "too short"}, nil
		}
		return provider.Response{Text: "# Scope\n\nlong enough"}, nil
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	ex.HintOnRetry = true
	ex.Validator = validate.Func(func(_ registry.DocumentSpec, content string) validate.Result {
		if !strings.Contains(content, "# Scope") {
			return validate.Result{Reason: "missing heading Scope", Hint: "Include a '# Scope' heading."}
		}
		return validate.Pass
	})
	var sunk []string
	ex.PromptSink = func(_ string, p string) { sunk = append(sunk, p) }

	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "Write it")), nil)
	if outcome != OutcomeCompleted || inst.Attempts != 2 || len(inst.Versions) != 1 {
		t.Fatalf("outcome = %v inst = %+v", outcome, inst)
	}
	prompts := gw.prompts("a")
	if prompts[0] != "Write it" || !strings.HasSuffix(prompts[1], "Include a '# Scope' heading.") {
		t.Fatalf("prompts = %q", prompts)
	}
	if len(sunk) != 2 || sunk[1] != prompts[1] {
		t.Fatalf("prompt sink = %q", sunk)
	}
}

func TestExecute_ValidationExhaustedKind(t *testing.T) {
	gw := &fakeGateway{reply: func(context.Context, int, provider.Request) (provider.Response, error) {
		return provider.Response{Text: "   "}, nil
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	ex.Validator = validate.Structural()
	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "x")), nil)
	if outcome != OutcomeFailed || inst.Attempts != 3 || inst.ErrorKind != failure.Validation {
		t.Fatalf("outcome = %v inst = %+v", outcome, inst)
	}
	if !strings.HasPrefix(inst.LastError, "validation failed: ") {
		t.Fatalf("LastError = %q", inst.LastError)
	}
}

type failingStore struct{ version.Store }

func (failingStore) Commit(context.Context, string, string) (version.Version, error) {
	return version.Version{}, failure.Storagef("disk full")
}

func TestExecute_StorageFatal(t *testing.T) {
	gw := &fakeGateway{}
	ex := newExecutor(gw, failingStore{version.NewMemoryStore()}, nil)
	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "x")), nil)
	if outcome != OutcomeStorageFatal || inst.ErrorKind != failure.Storage || inst.Attempts != 1 {
		t.Fatalf("outcome = %v inst = %+v", outcome, inst)
	}
	if len(gw.documents()) != 1 {
		t.Fatal("storage failures must not be retried")
	}
}

func TestExecute_BlockVariables(t *testing.T) {
	gw := &fakeGateway{reply: func(context.Context, int, provider.Request) (provider.Response, error) {
		return provider.Response{Text: "# Arch\n\n```variables\nstack = Go\ndb = postgres\n```\n"}, nil
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	inst, outcome := ex.Execute(context.Background(), pending(spec("architecture", "x")), nil)
	if outcome != OutcomeCompleted {
		t.Fatalf("outcome = %v (%s)", outcome, inst.LastError)
	}
	if v, _ := ex.Vars.Lookup("architecture"); v != "# Arch" {
		t.Fatalf("architecture = %q", v)
	}
	if v, _ := ex.Vars.Lookup("architecture.db"); v != "postgres" {
		t.Fatalf("architecture.db = %q", v)
	}
	// the stored version keeps the block
	if !strings.Contains(inst.Versions[0].Content, "```variables") {
		t.Fatal("committed content lost its variables block")
	}
}

func TestExecute_CancelAbortsWithoutCounting(t *testing.T) {
	gw := &fakeGateway{reply: func(ctx context.Context, _ int, _ provider.Request) (provider.Response, error) {
		<-ctx.Done()
		return provider.Response{}, ctx.Err()
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(ErrCancelled)
	}()
	inst, outcome := ex.Execute(ctx, pending(spec("a", "x")), nil)
	if outcome != OutcomeCancelled || inst.Attempts != 0 {
		t.Fatalf("outcome = %v attempts = %d", outcome, inst.Attempts)
	}
}

func TestExecute_PauseCause(t *testing.T) {
	gw := &fakeGateway{reply: func(ctx context.Context, _ int, _ provider.Request) (provider.Response, error) {
		<-ctx.Done()
		return provider.Response{}, context.Cause(ctx)
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(ErrPaused)
	}()
	inst, outcome := ex.Execute(ctx, pending(spec("a", "x")), nil)
	if outcome != OutcomeInterrupted || inst.Attempts != 0 {
		t.Fatalf("outcome = %v attempts = %d", outcome, inst.Attempts)
	}
}

func TestExecute_YieldDuringBackoff(t *testing.T) {
	gw := &fakeGateway{reply: func(context.Context, int, provider.Request) (provider.Response, error) {
		return provider.Response{}, failure.Transientf("busy")
	}}
	ex := newExecutor(gw, version.NewMemoryStore(), nil)
	yield := make(chan struct{})
	ex.after = func(time.Duration) <-chan time.Time {
		close(yield)
		return make(chan time.Time) // never fires
	}
	inst, outcome := ex.Execute(context.Background(), pending(spec("a", "x")), yield)
	if outcome != OutcomeInterrupted {
		t.Fatalf("outcome = %v", outcome)
	}
	// the completed attempt still counts
	if inst.Attempts != 1 {
		t.Fatalf("Attempts = %d, want 1", inst.Attempts)
	}
}

func TestOutcomeString(t *testing.T) {
	for o, want := range map[Outcome]string{
		OutcomeCompleted: "completed", OutcomeInterrupted: "interrupted", OutcomeStorageFatal: "storage_fatal",
	} {
		if o.String() != want {
			t.Fatalf("%d.String() = %q, want %q", int(o), o.String(), want)
		}
	}
}
