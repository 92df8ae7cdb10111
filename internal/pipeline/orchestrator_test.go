package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/status"
	"github.com/jorge-barreto/docgen/internal/version"
)

func TestRun_ProgressScenario(t *testing.T) {
	reg := mustRegistry(t,
		spec("a", "Requirements for {{project_name}}"),
		spec("b", "Architecture from {{a}}", "a"),
		spec("c", "Plan from {{a}}", "a"),
	)
	gw := &fakeGateway{}
	pub := status.NewPublisher()
	var mu sync.Mutex
	progress := []int{}
	o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil),
		WithPublisher(pub), WithProject("Acme"),
		WithDocumentHook(func(d DocumentInstance) {
			if d.Status == DocCompleted {
				mu.Lock()
				progress = append(progress, pub.Current().Progress)
				mu.Unlock()
			}
		}))

	if s := pub.Current(); s.Progress != 0 || s.Status != "ready" || s.Total != 3 || s.ProjectName != "Acme" {
		t.Fatalf("initial snapshot = %+v", s)
	}
	run, err := execute(t, o)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != Completed || run.FinishedAt.IsZero() {
		t.Fatalf("run = %+v", run)
	}
	if got := strings.Join(gw.documents(), ","); got != "a,b,c" {
		t.Fatalf("order = %s", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(progress) != "[33 67 100]" {
		t.Fatalf("progress = %v", progress)
	}
	final := pub.Current()
	if final.Status != "completed" || final.Progress != 100 || final.Completed != 3 {
		t.Fatalf("final snapshot = %+v", final)
	}
	for _, d := range final.Documents {
		if d.Status != "completed" || d.Versions != 1 {
			t.Fatalf("document = %+v", d)
		}
	}
	// B saw A's content
	if p := gw.prompts("b")[0]; !strings.Contains(p, "Requirements for Acme") {
		t.Fatalf("b prompt = %q", p)
	}
}

func TestRun_FailsTwiceThenSucceeds(t *testing.T) {
	reg := mustRegistry(t, spec("a", "x"))
	gw := &fakeGateway{reply: func(_ context.Context, n int, req provider.Request) (provider.Response, error) {
		if n <= 2 {
			return provider.Response{}, failure.Transientf("timeout")
		}
		return echo(req), nil
	}}
	store := version.NewMemoryStore()
	pub := status.NewPublisher()
	o := mustNew(t, reg, newExecutor(gw, store, nil), WithPublisher(pub))
	run, err := execute(t, o)
	if err != nil {
		t.Fatal(err)
	}
	d, _ := run.Doc("a")
	if d.Attempts != 3 || len(d.Versions) != 1 || d.Versions[0].Sequence != 1 {
		t.Fatalf("doc = %+v", d)
	}
	retries := 0
	for _, m := range pub.Current().Messages {
		if m.Level == status.LevelWarning && strings.Contains(m.Text, "retrying") {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("retry messages = %d, want 2: %+v", retries, pub.Current().Messages)
	}
}

func TestRun_PermanentFailureBlocksDependents(t *testing.T) {
	reg := mustRegistry(t,
		spec("a", "x"),
		spec("b", "y {{a}}", "a"),
		spec("c", "z {{b}}", "b"),
		spec("d", "independent"),
	)
	gw := &fakeGateway{reply: func(_ context.Context, _ int, req provider.Request) (provider.Response, error) {
		if req.Document == "b" {
			return provider.Response{}, failure.Permanentf("authentication failed")
		}
		return echo(req), nil
	}}
	pub := status.NewPublisher()
	o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil), WithPublisher(pub))
	run, err := execute(t, o)
	if failure.KindOf(err) != failure.Permanent {
		t.Fatalf("err = %v", err)
	}
	if run.Status != Failed || run.FailedDocument != "b" {
		t.Fatalf("run = %+v", run)
	}
	b, _ := run.Doc("b")
	if b.Status != DocFailed || b.Attempts != 1 || b.LastError != "authentication failed" {
		t.Fatalf("b = %+v", b)
	}
	c, _ := run.Doc("c")
	if c.Status != DocFailed || c.ErrorKind != failure.BlockedByDependency || c.LastError != "blocked by failed dependency b" {
		t.Fatalf("c = %+v", c)
	}
	if d, _ := run.Doc("d"); d.Status != DocPending {
		t.Fatalf("independent document = %s, want pending", d.Status)
	}
	if strings.Contains(strings.Join(gw.documents(), ","), "c") {
		t.Fatal("blocked document was generated")
	}
	s := pub.Current()
	if s.Status != "failed" || s.FailedDocument != "b" || !strings.Contains(s.Reason, "authentication failed") {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.Documents[1].LastError != "authentication failed" || s.Documents[1].Attempts != 1 {
		t.Fatalf("snapshot b = %+v", s.Documents[1])
	}
}

func TestRun_ExhaustionFailsRun(t *testing.T) {
	reg := mustRegistry(t, spec("a", "x"), spec("b", "y", "a"))
	gw := &fakeGateway{reply: func(context.Context, int, provider.Request) (provider.Response, error) {
		return provider.Response{}, failure.Transientf("503")
	}}
	o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil))
	run, err := execute(t, o)
	if err == nil || run.Status != Failed {
		t.Fatalf("run = %+v err = %v", run, err)
	}
	a, _ := run.Doc("a")
	if a.Attempts != 3 {
		t.Fatalf("attempts = %d", a.Attempts)
	}
	if b, _ := run.Doc("b"); b.ErrorKind != failure.BlockedByDependency {
		t.Fatalf("b = %+v", b)
	}
}

func TestRun_StorageFailureIsFatal(t *testing.T) {
	reg := mustRegistry(t, spec("a", "x"), spec("b", "y"))
	o := mustNew(t, reg, newExecutor(&fakeGateway{}, failingStore{version.NewMemoryStore()}, nil))
	run, err := execute(t, o)
	if failure.KindOf(err) != failure.Storage {
		t.Fatalf("err = %v", err)
	}
	if !strings.HasPrefix(run.Reason, "storage error: ") {
		t.Fatalf("reason = %q", run.Reason)
	}
	if b, _ := run.Doc("b"); b.Status != DocPending {
		t.Fatalf("b = %s", b.Status)
	}
}

func TestRun_MissingVariableFailsRun(t *testing.T) {
	reg := mustRegistry(t, spec("a", "{{undefined}}"))
	gw := &fakeGateway{}
	o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil))
	run, err := execute(t, o)
	if failure.KindOf(err) != failure.MissingVariable || run.Status != Failed {
		t.Fatalf("run = %+v err = %v", run, err)
	}
	if len(gw.documents()) != 0 {
		t.Fatal("provider called")
	}
}

func TestRun_TopologicalOrderRandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 25; trial++ {
		n := 2 + rng.Intn(12)
		specs := make([]registry.DocumentSpec, n)
		for i := range specs {
			var deps []string
			for j := 0; j < i; j++ {
				if rng.Intn(3) == 0 {
					deps = append(deps, fmt.Sprintf("d%d", j))
				}
			}
			specs[i] = spec(fmt.Sprintf("d%d", i), "p", deps...)
		}
		rng.Shuffle(n, func(i, j int) { specs[i], specs[j] = specs[j], specs[i] })
		reg := mustRegistry(t, specs...)

		gw := &fakeGateway{}
		o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil))
		if _, err := execute(t, o); err != nil {
			t.Fatal(err)
		}
		order := gw.documents()
		pos := map[string]int{}
		for i, id := range order {
			pos[id] = i
		}
		for _, s := range reg.List() {
			for _, dep := range s.DependsOn {
				if pos[dep] >= pos[s.ID] {
					t.Fatalf("trial %d: %s ran before its dependency %s: %v", trial, s.ID, dep, order)
				}
			}
		}
		if got, want := strings.Join(order, ","), strings.Join(reg.Order(), ","); got != want {
			t.Fatalf("trial %d: order %s, want declaration tie-break %s", trial, got, want)
		}
	}
}

// blockingGateway blocks the first call for doc until its context ends.
func blockingGateway(doc string, entered chan<- struct{}) *fakeGateway {
	return &fakeGateway{reply: func(ctx context.Context, n int, req provider.Request) (provider.Response, error) {
		if req.Document == doc && n == 1 {
			entered <- struct{}{}
			<-ctx.Done()
			return provider.Response{}, ctx.Err()
		}
		return echo(req), nil
	}}
}

func contents(t *testing.T, store version.Store, ids ...string) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, id := range ids {
		v, ok, err := store.Latest(context.Background(), id)
		if err != nil || !ok {
			t.Fatalf("latest %s: %v %v", id, ok, err)
		}
		out[id] = v.Content
	}
	return out
}

func TestRun_PauseResumeMatchesUninterrupted(t *testing.T) {
	specs := []registry.DocumentSpec{
		spec("a", "Requirements for {{project_name}}"),
		spec("b", "Architecture from {{a}}", "a"),
		spec("c", "Plan from {{a}} and {{b}}", "a", "b"),
	}

	baseline := version.NewMemoryStore()
	if _, err := execute(t, mustNew(t, mustRegistry(t, specs...), newExecutor(&fakeGateway{}, baseline, nil))); err != nil {
		t.Fatal(err)
	}

	entered := make(chan struct{}, 1)
	store := version.NewMemoryStore()
	gw := blockingGateway("b", entered)
	pub := status.NewPublisher()
	o := mustNew(t, mustRegistry(t, specs...), newExecutor(gw, store, nil),
		WithPauseGrace(0), WithPublisher(pub))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := o.Pause(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "b back to pending", func() bool { return docStatus(o, "b") == DocPending })

	run := o.Run()
	if run.Status != Paused || !run.PauseRequested {
		t.Fatalf("run = %+v", run)
	}
	if b, _ := run.Doc("b"); b.Attempts != 0 {
		t.Fatalf("aborted attempt counted: %d", b.Attempts)
	}
	if s := pub.Current(); s.Status != "paused" || s.Completed != 1 || s.Progress != 33 {
		t.Fatalf("paused snapshot = %+v", s)
	}
	if err := o.Resume(); err != nil {
		t.Fatal(err)
	}
	run, err := o.Wait(ctx)
	if err != nil || run.Status != Completed {
		t.Fatalf("run = %+v err = %v", run, err)
	}
	got, want := contents(t, store, "a", "b", "c"), contents(t, baseline, "a", "b", "c")
	for id := range want {
		if got[id] != want[id] {
			t.Fatalf("%s differs after pause/resume:\n%s\nvs\n%s", id, got[id], want[id])
		}
	}
	// a was not regenerated
	if n := len(gw.prompts("a")); n != 1 {
		t.Fatalf("a generated %d times", n)
	}
}

func TestRun_PauseGraceLetsAttemptFinish(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	gw := &fakeGateway{reply: func(_ context.Context, _ int, req provider.Request) (provider.Response, error) {
		if req.Document == "a" {
			entered <- struct{}{}
			<-release
		}
		return echo(req), nil
	}}
	o := mustNew(t, mustRegistry(t, spec("a", "x"), spec("b", "y", "a")),
		newExecutor(gw, version.NewMemoryStore(), nil), WithPauseGrace(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := o.Pause(); err != nil {
		t.Fatal(err)
	}
	close(release)
	eventually(t, "a completed within grace", func() bool { return docStatus(o, "a") == DocCompleted })
	time.Sleep(20 * time.Millisecond)
	if st := docStatus(o, "b"); st != DocPending {
		t.Fatalf("b started while paused: %s", st)
	}
	if err := o.Resume(); err != nil {
		t.Fatal(err)
	}
	if run, err := o.Wait(ctx); err != nil || run.Status != Completed {
		t.Fatalf("run = %+v err = %v", run, err)
	}
}

func TestRun_CancelInFlight(t *testing.T) {
	entered := make(chan struct{}, 1)
	gw := blockingGateway("b", entered)
	store := version.NewMemoryStore()
	o := mustNew(t, mustRegistry(t, spec("a", "x"), spec("b", "y", "a"), spec("c", "z", "b")),
		newExecutor(gw, store, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := o.Cancel(); err != nil {
		t.Fatal(err)
	}
	run, err := o.Wait(ctx)
	if failure.KindOf(err) != failure.Cancelled {
		t.Fatalf("err = %v", err)
	}
	if run.Status != Failed || run.Reason != "cancelled" || !run.CancelRequested {
		t.Fatalf("run = %+v", run)
	}
	if b, _ := run.Doc("b"); b.Status != DocFailed || b.ErrorKind != failure.Cancelled {
		t.Fatalf("b = %+v", b)
	}
	if c, _ := run.Doc("c"); c.Status != DocPending {
		t.Fatalf("c = %+v", c)
	}
	if _, ok, _ := store.Latest(context.Background(), "a"); !ok {
		t.Fatal("cancel discarded a committed version")
	}
	if err := o.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Resume after cancel = %v", err)
	}
}

func TestRun_ContextCancelCancelsRun(t *testing.T) {
	entered := make(chan struct{}, 1)
	o := mustNew(t, mustRegistry(t, spec("a", "x")), newExecutor(blockingGateway("a", entered), version.NewMemoryStore(), nil))
	ctx, cancel := context.WithCancel(context.Background())
	if err := o.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-entered
	cancel()
	run, err := o.Wait(context.Background())
	if failure.KindOf(err) != failure.Cancelled || run.Reason != "cancelled" {
		t.Fatalf("run = %+v err = %v", run, err)
	}
}

func TestCancelBeforeStart(t *testing.T) {
	o := mustNew(t, mustRegistry(t, spec("a", "x")), newExecutor(&fakeGateway{}, version.NewMemoryStore(), nil))
	if err := o.Cancel(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	run, err := o.Wait(ctx)
	if run.Status != Failed || failure.KindOf(err) != failure.Cancelled {
		t.Fatalf("run = %+v err = %v", run, err)
	}
	if err := o.Start(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Start after cancel = %v", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	o := mustNew(t, mustRegistry(t, spec("a", "x")), newExecutor(&fakeGateway{}, version.NewMemoryStore(), nil))
	for name, cmd := range map[string]func() error{"pause": o.Pause, "resume": o.Resume} {
		if err := cmd(); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s on READY = %v", name, err)
		}
	}
	if o.Run().Status != Ready {
		t.Fatal("invalid command changed state")
	}
	if _, err := execute(t, o); err != nil {
		t.Fatal(err)
	}
	for name, cmd := range map[string]func() error{"pause": o.Pause, "resume": o.Resume, "cancel": o.Cancel} {
		if err := cmd(); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s on COMPLETED = %v", name, err)
		}
	}
	if err := o.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start = %v", err)
	}
}

func TestWithCompleted_CarriesForward(t *testing.T) {
	reg := mustRegistry(t,
		spec("a", "x"),
		spec("b", "uses {{a}}", "a"),
		spec("c", "uses {{b}}", "b"),
	)
	prev := version.NewMemoryStore()
	va, _ := prev.Commit(context.Background(), "a", "# A\n\nfrom last run")
	vc, _ := prev.Commit(context.Background(), "c", "# C stale")

	gw := &fakeGateway{}
	o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil),
		WithCompleted(map[string]version.Version{"a": va, "c": vc}))
	if st := docStatus(o, "c"); st != DocPending {
		t.Fatalf("c carried without its dependency: %s", st)
	}
	run, err := execute(t, o)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(gw.documents(), ","); got != "b,c" {
		t.Fatalf("generated %s, want b,c", got)
	}
	if p := gw.prompts("b")[0]; p != "uses # A\n\nfrom last run" {
		t.Fatalf("b prompt = %q", p)
	}
	if a, _ := run.Doc("a"); a.Versions[0].Sequence != va.Sequence {
		t.Fatalf("a = %+v", a)
	}
}

func TestWithCompleted_DeclaredBeforeDependency(t *testing.T) {
	reg := mustRegistry(t,
		spec("b", "uses {{a}}", "a"),
		spec("a", "x"),
		spec("c", "uses {{b}}", "b"),
	)
	prev := version.NewMemoryStore()
	va, _ := prev.Commit(context.Background(), "a", "# A")
	vb, _ := prev.Commit(context.Background(), "b", "# B from last run")

	gw := &fakeGateway{}
	o := mustNew(t, reg, newExecutor(gw, version.NewMemoryStore(), nil),
		WithCompleted(map[string]version.Version{"a": va, "b": vb}))
	if st := docStatus(o, "b"); st != DocCompleted {
		t.Fatalf("b status after New = %s, want completed", st)
	}
	if _, err := execute(t, o); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(gw.documents(), ","); got != "c" {
		t.Fatalf("generated %s, want c only", got)
	}
	if p := gw.prompts("c")[0]; p != "uses # B from last run" {
		t.Fatalf("c prompt = %q", p)
	}
}

func TestStart_NothingEligible(t *testing.T) {
	reg := mustRegistry(t, spec("a", "x"))
	prev := version.NewMemoryStore()
	va, _ := prev.Commit(context.Background(), "a", "done")
	o := mustNew(t, reg, newExecutor(&fakeGateway{}, version.NewMemoryStore(), nil),
		WithCompleted(map[string]version.Version{"a": va}))
	if err := o.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Start = %v", err)
	}
}

func TestCheckpointAndHooks(t *testing.T) {
	var mu sync.Mutex
	var statuses []RunStatus
	var attempts []Stage
	ex := newExecutor(&fakeGateway{}, version.NewMemoryStore(), nil)
	ex.OnAttempt = func(ev AttemptEvent) {
		mu.Lock()
		attempts = append(attempts, ev.Stage)
		mu.Unlock()
	}
	o := mustNew(t, mustRegistry(t, spec("a", "x")), ex,
		WithCheckpoint(func(r Run) error {
			mu.Lock()
			statuses = append(statuses, r.Status)
			mu.Unlock()
			return errors.New("disk full")
		}))
	if _, err := execute(t, o); err != nil {
		t.Fatalf("checkpoint errors must not fail the run: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if statuses[0] != Generating || statuses[len(statuses)-1] != Completed {
		t.Fatalf("checkpoints = %v", statuses)
	}
	if len(attempts) != 2 || attempts[0] != AttemptStarted || attempts[1] != AttemptSucceeded {
		t.Fatalf("user OnAttempt hook = %v", attempts)
	}
}

func TestRunCopiesAreIndependent(t *testing.T) {
	o := mustNew(t, mustRegistry(t, spec("a", "x")), newExecutor(&fakeGateway{}, version.NewMemoryStore(), nil))
	r := o.Run()
	r.Documents[0].Status = DocFailed
	r.Status = Failed
	if got := o.Run(); got.Status != Ready || got.Documents[0].Status != DocPending {
		t.Fatal("Run() exposed internal state")
	}
	if r.ID == "" || len(r.ID) != 36 {
		t.Fatalf("run id = %q", r.ID)
	}
}
