package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/logging"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/status"
	"github.com/jorge-barreto/docgen/internal/version"
)

// DefaultPauseGrace is how long an in-flight attempt may run after Pause.
const DefaultPauseGrace = 30 * time.Second

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher publishes a snapshot on every state change.
func WithPublisher(p *status.Publisher) Option {
	return func(o *Orchestrator) { o.pub = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithPauseGrace bounds how long Pause lets the in-flight attempt finish.
func WithPauseGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.pauseGrace = d }
}

// WithCheckpoint is called with a copy of the run after every state change.
// Errors are logged and do not stop the run.
func WithCheckpoint(fn func(Run) error) Option {
	return func(o *Orchestrator) { o.checkpoint = fn }
}

// WithCompleted carries documents completed by an earlier run. Their
// content is bound into the variable context and they are not regenerated.
// A document is only carried when all of its dependencies are too.
func WithCompleted(active map[string]version.Version) Option {
	return func(o *Orchestrator) { o.carried = active }
}

// WithProject sets the project id reported in the run and snapshots.
func WithProject(id string) Option {
	return func(o *Orchestrator) { o.project = id }
}

// WithDocumentHook is called when a document starts generating and again
// when it settles.
func WithDocumentHook(fn func(DocumentInstance)) Option {
	return func(o *Orchestrator) { o.onDocument = fn }
}

// Orchestrator owns the run and its documents. All methods are safe for
// concurrent use.
type Orchestrator struct {
	reg        *registry.Registry
	exec       Executor
	pub        *status.Publisher
	log        *logging.Logger
	pauseGrace time.Duration
	checkpoint func(Run) error
	carried    map[string]version.Version
	project    string
	onDocument func(DocumentInstance)
	now        func() time.Time

	mu            sync.Mutex
	run           Run
	err           error
	started       bool
	cancelAttempt context.CancelCauseFunc
	yield         chan struct{}
	graceTimer    *time.Timer
	wake          chan struct{}
	done          chan struct{}
	doneOnce      sync.Once
}

// New builds a READY run with one pending instance per registered document.
func New(reg *registry.Registry, exec *Executor, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		reg:        reg,
		exec:       *exec,
		pauseGrace: DefaultPauseGrace,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pub == nil {
		o.pub = status.NewPublisher()
	}
	o.log = o.log.With("component", "orchestrator")

	userHook := o.exec.OnAttempt
	o.exec.OnAttempt = func(ev AttemptEvent) {
		o.onAttempt(ev)
		if userHook != nil {
			userHook(ev)
		}
	}
	if o.exec.Logger == nil {
		o.exec.Logger = o.log
	}

	o.run = Run{ID: uuid.NewString(), ProjectID: o.project, Status: Ready}
	for _, spec := range reg.List() {
		o.run.Documents = append(o.run.Documents, DocumentInstance{Spec: spec, Status: DocPending})
	}
	// dependency order, so a document declared before its dependency is
	// still carried
	done := make(map[string]bool)
	for _, id := range reg.Order() {
		inst := &o.run.Documents[reg.Index(id)]
		v, ok := o.carried[id]
		if !ok || !depsIn(inst.Spec, done) {
			continue
		}
		if err := bindOutput(o.exec.Vars, inst.Spec, v.Content, o.log); err != nil {
			return nil, fmt.Errorf("restoring %s: %w", id, err)
		}
		inst.Status = DocCompleted
		inst.Versions = []version.Version{v}
		done[id] = true
	}
	o.exec.Logger = o.exec.Logger.WithRun(o.run.ID)
	o.log = o.log.WithRun(o.run.ID)
	o.publishLocked()
	return o, nil
}

func depsIn(spec registry.DocumentSpec, done map[string]bool) bool {
	for _, d := range spec.DependsOn {
		if !done[d] {
			return false
		}
	}
	return true
}

// Publisher returns the status publisher the run reports to.
func (o *Orchestrator) Publisher() *status.Publisher { return o.pub }

// Run returns a copy of the current run state.
func (o *Orchestrator) Run() Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.clone()
}

// Start moves READY to GENERATING and begins scheduling. It fails unless
// some pending document has all of its dependencies completed.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Status != Ready {
		return fmt.Errorf("%w: cannot start a %s run", ErrInvalidTransition, o.run.Status)
	}
	if o.nextEligibleLocked() < 0 {
		return fmt.Errorf("%w: no pending document has its dependencies completed", ErrInvalidTransition)
	}
	o.run.Status = Generating
	o.run.StartedAt = o.now()
	o.started = true
	remaining := len(o.run.Documents) - o.run.Completed()
	o.log.Info("run started", "documents", len(o.run.Documents), "remaining", remaining)
	o.postLocked(status.LevelInfo, fmt.Sprintf("Started generating %d of %d documents", remaining, len(o.run.Documents)))
	o.changedLocked()
	go o.loop(ctx)
	return nil
}

// Wait blocks until the run reaches a terminal state or ctx ends. The error
// describes why a FAILED run failed.
func (o *Orchestrator) Wait(ctx context.Context) (Run, error) {
	select {
	case <-o.done:
	case <-ctx.Done():
		return o.Run(), ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.clone(), o.err
}

// Execute is Start followed by Wait.
func (o *Orchestrator) Execute(ctx context.Context) (Run, error) {
	if err := o.Start(ctx); err != nil {
		return o.Run(), err
	}
	return o.Wait(ctx)
}

// Pause stops scheduling. The in-flight attempt may finish within the
// pause grace; after that it is aborted and its document returns to pending.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Status != Generating {
		return fmt.Errorf("%w: cannot pause a %s run", ErrInvalidTransition, o.run.Status)
	}
	o.run.Status = Paused
	o.run.PauseRequested = true
	if o.yield != nil {
		close(o.yield)
		o.yield = nil
	}
	if cancel := o.cancelAttempt; cancel != nil && o.graceTimer == nil {
		o.graceTimer = time.AfterFunc(o.pauseGrace, func() { cancel(ErrPaused) })
	}
	done := o.run.Completed()
	o.log.Info("run paused", "completed", done, "remaining", len(o.run.Documents)-done)
	o.postLocked(status.LevelWarning, fmt.Sprintf("Paused: %d of %d documents completed, %d remaining",
		done, len(o.run.Documents), len(o.run.Documents)-done))
	o.changedLocked()
	return nil
}

// Resume continues a paused run.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Status != Paused {
		return fmt.Errorf("%w: cannot resume a %s run", ErrInvalidTransition, o.run.Status)
	}
	o.run.Status = Generating
	o.run.PauseRequested = false
	o.stopGraceLocked()
	o.log.Info("run resumed")
	o.postLocked(status.LevelInfo, "Resumed")
	o.changedLocked()
	o.signal()
	return nil
}

// Cancel fails the run with reason "cancelled" and aborts the in-flight
// attempt. Committed versions are kept.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run.Status.Terminal() {
		return fmt.Errorf("%w: cannot cancel a %s run", ErrInvalidTransition, o.run.Status)
	}
	o.cancelLocked()
	if !o.started {
		o.finish()
	}
	return nil
}

func (o *Orchestrator) cancelLocked() {
	o.run.Status = Failed
	o.run.CancelRequested = true
	o.run.PauseRequested = false
	o.run.Reason = "cancelled"
	o.run.FinishedAt = o.now()
	o.err = &failure.Error{Kind: failure.Cancelled, Err: ErrCancelled}
	o.stopGraceLocked()
	if o.cancelAttempt != nil {
		o.cancelAttempt(ErrCancelled)
	}
	o.log.Warn("run cancelled")
	o.postLocked(status.LevelError, "Run cancelled")
	o.changedLocked()
	o.signal()
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) finish() {
	o.doneOnce.Do(func() { close(o.done) })
}

func (o *Orchestrator) stopGraceLocked() {
	if o.graceTimer != nil {
		o.graceTimer.Stop()
		o.graceTimer = nil
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.finish()
	for {
		o.mu.Lock()
		if ctx.Err() != nil && !o.run.Status.Terminal() {
			o.cancelLocked()
		}
		switch o.run.Status {
		case Completed, Failed:
			o.mu.Unlock()
			return
		case Paused:
			o.mu.Unlock()
			select {
			case <-o.wake:
			case <-ctx.Done():
			}
			continue
		}

		idx := o.nextEligibleLocked()
		if idx < 0 {
			o.settleLocked()
			o.mu.Unlock()
			continue
		}
		attemptCtx, cancel := context.WithCancelCause(ctx)
		yield := make(chan struct{})
		o.cancelAttempt, o.yield = cancel, yield
		doc := &o.run.Documents[idx]
		doc.Status = DocGenerating
		o.run.CurrentDocument = doc.Spec.ID
		inst := doc.clone()
		o.publishLocked()
		o.mu.Unlock()

		if o.onDocument != nil {
			o.onDocument(inst)
		}
		result, outcome := o.exec.Execute(attemptCtx, inst, yield)
		cancel(nil)

		o.mu.Lock()
		o.cancelAttempt, o.yield = nil, nil
		o.stopGraceLocked()
		o.applyLocked(idx, result, outcome)
		settled := o.run.Documents[idx].clone()
		o.mu.Unlock()

		if o.onDocument != nil {
			o.onDocument(settled)
		}
	}
}

// nextEligibleLocked returns the earliest-declared pending document whose
// dependencies are all completed, or -1.
func (o *Orchestrator) nextEligibleLocked() int {
	completed := make(map[string]bool, len(o.run.Documents))
	for _, d := range o.run.Documents {
		if d.Status == DocCompleted {
			completed[d.Spec.ID] = true
		}
	}
	for i, d := range o.run.Documents {
		if d.Status == DocPending && depsIn(d.Spec, completed) {
			return i
		}
	}
	return -1
}

// settleLocked ends a run that has nothing left to schedule.
func (o *Orchestrator) settleLocked() {
	if o.run.Completed() == len(o.run.Documents) {
		o.run.Status = Completed
		o.run.FinishedAt = o.now()
		o.log.Info("run completed", "duration", o.run.FinishedAt.Sub(o.run.StartedAt).String())
		o.postLocked(status.LevelSuccess, "All documents generated")
		o.changedLocked()
		return
	}
	for i, d := range o.run.Documents {
		if d.Status == DocFailed {
			o.failLocked(i)
			return
		}
	}
	o.run.Status = Failed
	o.run.Reason = "no document is eligible to run"
	o.run.FinishedAt = o.now()
	o.err = failure.Permanentf("%s", o.run.Reason)
	o.changedLocked()
}

func (o *Orchestrator) applyLocked(idx int, inst DocumentInstance, outcome Outcome) {
	o.run.Documents[idx] = inst
	o.run.CurrentDocument = ""
	id, title := inst.Spec.ID, inst.Spec.Title
	switch outcome {
	case OutcomeCompleted:
		seq := 0
		if n := len(inst.Versions); n > 0 {
			seq = inst.Versions[n-1].Sequence
		}
		o.postLocked(status.LevelSuccess, fmt.Sprintf("%s completed (version %d)", title, seq))
		o.changedLocked()
	case OutcomeInterrupted:
		o.run.Documents[idx].Status = DocPending
		o.log.Info("document interrupted", "document", id, "attempts", inst.Attempts)
		o.postLocked(status.LevelWarning, fmt.Sprintf("%s interrupted; it restarts on resume", title))
		o.changedLocked()
	case OutcomeCancelled:
		d := &o.run.Documents[idx]
		d.Status = DocFailed
		d.ErrorKind = failure.Cancelled
		d.LastError = "cancelled"
		if !o.run.Status.Terminal() {
			o.cancelLocked()
			return
		}
		o.changedLocked()
	default:
		o.run.Documents[idx].Status = DocFailed
		if o.run.Status.Terminal() {
			// cancelled while the attempt was returning
			o.changedLocked()
			return
		}
		o.failLocked(idx)
	}
}

// failLocked fails the run because document idx failed, blocking every
// document that depends on it.
func (o *Orchestrator) failLocked(idx int) {
	d := o.run.Documents[idx]
	id := d.Spec.ID
	for _, dep := range o.reg.Dependents(id) {
		j := o.reg.Index(dep)
		if o.run.Documents[j].Status != DocPending {
			continue
		}
		o.run.Documents[j].Status = DocFailed
		o.run.Documents[j].ErrorKind = failure.BlockedByDependency
		o.run.Documents[j].LastError = "blocked by failed dependency " + id
	}
	o.run.Status = Failed
	o.run.FailedDocument = id
	o.run.FinishedAt = o.now()
	if d.ErrorKind == failure.Storage {
		o.run.Reason = "storage error: " + d.LastError
	} else {
		o.run.Reason = fmt.Sprintf("document %s failed after %d attempt(s): %s", id, d.Attempts, d.LastError)
	}
	o.err = d.Err()
	o.log.Error("run failed", "document", id, "kind", d.ErrorKind.String(), "attempts", d.Attempts, "error", d.LastError)
	o.postLocked(status.LevelError, fmt.Sprintf("%s failed after %d attempt(s): %s", d.Spec.Title, d.Attempts, d.LastError))
	o.changedLocked()
}

func (o *Orchestrator) onAttempt(ev AttemptEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.reg.Index(ev.Document)
	if i < 0 {
		return
	}
	d := &o.run.Documents[i]
	title := d.Spec.Title
	switch ev.Stage {
	case AttemptStarted:
		if ev.Attempt == 1 {
			o.postLocked(status.LevelInfo, fmt.Sprintf("Generating %s", title))
		} else {
			o.postLocked(status.LevelInfo, fmt.Sprintf("Generating %s (attempt %d/%d)", title, ev.Attempt, ev.MaxAttempts))
		}
	case AttemptRejected:
		d.Attempts = ev.Attempt
		d.LastError = ev.Err.Error()
		o.postLocked(status.LevelWarning, fmt.Sprintf("%s rejected: %s", title, strings.TrimPrefix(ev.Err.Error(), "validation failed: ")))
	case AttemptRetrying:
		d.Attempts = ev.Attempt
		d.LastError = ev.Err.Error()
		o.postLocked(status.LevelWarning, fmt.Sprintf("%s attempt %d/%d failed: %s; retrying in %s",
			title, ev.Attempt, ev.MaxAttempts, ev.Err, ev.Delay.Round(time.Millisecond)))
	default:
		return
	}
	o.publishLocked()
}

func (o *Orchestrator) postLocked(level, text string) {
	o.pub.Post(level, text)
}

// changedLocked republishes and checkpoints after a state change.
func (o *Orchestrator) changedLocked() {
	o.publishLocked()
	if o.checkpoint != nil {
		if err := o.checkpoint(o.run.clone()); err != nil {
			o.log.Warn("checkpoint failed", "error", err)
		}
	}
}

func (o *Orchestrator) publishLocked() {
	o.pub.Publish(Snapshot(o.run))
}

// Snapshot projects a run onto the published status shape.
func Snapshot(r Run) status.Snapshot {
	docs := make([]status.Document, len(r.Documents))
	for i, d := range r.Documents {
		docs[i] = status.Document{
			ID:        d.Spec.ID,
			Name:      d.Spec.Title,
			Status:    string(d.Status),
			Attempts:  d.Attempts,
			LastError: d.LastError,
			Versions:  len(d.Versions),
		}
	}
	completed := r.Completed()
	return status.Snapshot{
		ProjectName:     r.ProjectID,
		RunID:           r.ID,
		Progress:        status.Progress(completed, len(r.Documents)),
		Status:          strings.ToLower(string(r.Status)),
		CurrentDocument: r.CurrentDocument,
		Completed:       completed,
		Total:           len(r.Documents),
		Documents:       docs,
		FailedDocument:  r.FailedDocument,
		Reason:          r.Reason,
	}
}
