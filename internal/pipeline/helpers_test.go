package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/vars"
	"github.com/jorge-barreto/docgen/internal/version"
)

// fakeGateway records requests. reply gets the per-document call number
// (1-based); nil echoes the prompt back as a markdown document.
type fakeGateway struct {
	mu     sync.Mutex
	calls  []provider.Request
	perDoc map[string]int
	reply  func(ctx context.Context, n int, req provider.Request) (provider.Response, error)
}

func (g *fakeGateway) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	if g.perDoc == nil {
		g.perDoc = map[string]int{}
	}
	g.perDoc[req.Document]++
	n := g.perDoc[req.Document]
	reply := g.reply
	g.mu.Unlock()
	if reply == nil {
		return echo(req), nil
	}
	return reply(ctx, n, req)
}

func (g *fakeGateway) documents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		out = append(out, c.Document)
	}
	return out
}

func (g *fakeGateway) prompts(doc string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, c := range g.calls {
		if c.Document == doc {
			out = append(out, c.Prompt)
		}
	}
	return out
}

func echo(req provider.Request) provider.Response {
	return provider.Response{Text: "# " + req.Document + "\n\n" + req.Prompt, Model: "fake"}
}

func spec(id, prompt string, deps ...string) registry.DocumentSpec {
	return registry.DocumentSpec{ID: id, Title: strings.ToUpper(id), PromptTemplate: prompt, DependsOn: deps}
}

func mustRegistry(t *testing.T, specs ...registry.DocumentSpec) *registry.Registry {
	t.Helper()
	reg, err := registry.New(specs)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

// delays records backoff waits and returns immediately.
type delays struct {
	mu  sync.Mutex
	got []time.Duration
}

func (d *delays) after(dur time.Duration) <-chan time.Time {
	d.mu.Lock()
	d.got = append(d.got, dur)
	d.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (d *delays) list() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.got...)
}

func newExecutor(gw provider.Gateway, store version.Store, d *delays) *Executor {
	if d == nil {
		d = &delays{}
	}
	return &Executor{
		Vars:        vars.New(map[string]string{"project_name": "Acme"}),
		Gateway:     gw,
		Store:       store,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		after:       d.after,
	}
}

func mustNew(t *testing.T, reg *registry.Registry, ex *Executor, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(reg, ex, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func execute(t *testing.T, o *Orchestrator) (Run, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := o.Execute(ctx)
	if ctx.Err() != nil {
		t.Fatalf("run did not finish: %+v", run)
	}
	return run, err
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func docStatus(o *Orchestrator, id string) DocStatus {
	d, _ := o.Run().Doc(id)
	return d.Status
}
