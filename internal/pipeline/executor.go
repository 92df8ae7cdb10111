package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jorge-barreto/docgen/internal/failure"
	"github.com/jorge-barreto/docgen/internal/logging"
	"github.com/jorge-barreto/docgen/internal/provider"
	"github.com/jorge-barreto/docgen/internal/registry"
	"github.com/jorge-barreto/docgen/internal/validate"
	"github.com/jorge-barreto/docgen/internal/vars"
	"github.com/jorge-barreto/docgen/internal/version"
)

// DefaultMaxAttempts is the per-document attempt budget when none is set.
const DefaultMaxAttempts = 3

// Outcome is how a call to Execute ended.
type Outcome int

const (
	// OutcomeCompleted: a version was committed and the output bound.
	OutcomeCompleted Outcome = iota
	// OutcomeFailed: the document failed permanently or ran out of attempts.
	OutcomeFailed
	// OutcomeInterrupted: a pause stopped the document; it goes back to pending.
	OutcomeInterrupted
	// OutcomeCancelled: the run was cancelled mid-document.
	OutcomeCancelled
	// OutcomeStorageFatal: the version store failed; the run cannot continue.
	OutcomeStorageFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeStorageFatal:
		return "storage_fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Stage identifies an attempt event.
type Stage int

const (
	AttemptStarted Stage = iota
	AttemptRejected
	AttemptRetrying
	AttemptSucceeded
	AttemptFailed
)

// AttemptEvent reports progress inside Execute.
type AttemptEvent struct {
	Document    string
	Attempt     int
	MaxAttempts int
	Stage       Stage
	Err         error
	// Delay is the backoff before the next attempt (AttemptRetrying only).
	Delay time.Duration
	// Version is the committed sequence (AttemptSucceeded only).
	Version int
}

// Executor runs a single document: render, generate with retries,
// validate, commit and bind.
type Executor struct {
	Vars      *vars.Context
	Gateway   provider.Gateway
	Validator validate.Validator
	Store     version.Store
	Params    provider.Params
	System    string

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	HintOnRetry bool

	OnAttempt  func(AttemptEvent)
	PromptSink func(doc, prompt string)
	Logger     *logging.Logger

	// after is replaced in tests to skip real sleeps.
	after func(time.Duration) <-chan time.Time
}

func (e *Executor) maxAttempts() int {
	if e.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return e.MaxAttempts
}

func (e *Executor) emit(ev AttemptEvent) {
	ev.MaxAttempts = e.maxAttempts()
	if e.OnAttempt != nil {
		e.OnAttempt(ev)
	}
}

func (e *Executor) wait(d time.Duration) <-chan time.Time {
	if e.after != nil {
		return e.after(d)
	}
	return time.After(d)
}

// Backoff is base*2^(attempt-1), raised to hint, capped at limit. A zero
// limit leaves it uncapped.
func Backoff(attempt int, base, limit, hint time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		if limit > 0 && d >= limit {
			break
		}
		d *= 2
	}
	if hint > d {
		d = hint
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d
}

// Execute drives inst until it completes, fails, or is interrupted. ctx
// cancellation with cause ErrPaused yields OutcomeInterrupted, any other
// cancellation OutcomeCancelled; an attempt aborted that way is not
// counted. Closing yield stops the document at the next attempt boundary
// or backoff wait.
func (e *Executor) Execute(ctx context.Context, inst DocumentInstance, yield <-chan struct{}) (DocumentInstance, Outcome) {
	inst = inst.clone()
	spec := inst.Spec
	log := e.Logger.WithDocument(spec.ID)

	base, err := e.Vars.Render(spec.PromptTemplate)
	if err != nil {
		log.Error("prompt render failed", "error", err)
		inst.Status = DocFailed
		inst.LastError = err.Error()
		inst.ErrorKind = failure.KindOf(err)
		e.emit(AttemptEvent{Document: spec.ID, Attempt: inst.Attempts, Stage: AttemptFailed, Err: err})
		return inst, OutcomeFailed
	}

	budget := e.maxAttempts()
	for inst.Attempts < budget {
		if yielded(yield) {
			return inst, OutcomeInterrupted
		}
		if ctx.Err() != nil {
			return inst, aborted(ctx)
		}

		attempt := inst.Attempts + 1
		prompt := base
		if e.HintOnRetry && inst.hint != "" {
			prompt += "\n\n" + inst.hint
		}
		if e.PromptSink != nil {
			e.PromptSink(spec.ID, prompt)
		}
		e.emit(AttemptEvent{Document: spec.ID, Attempt: attempt, Stage: AttemptStarted})
		log.Info("attempt started", "attempt", attempt, "max_attempts", budget)

		start := time.Now()
		resp, err := e.Gateway.Generate(ctx, provider.Request{
			Document: spec.ID,
			Prompt:   prompt,
			System:   e.System,
			Params:   e.Params,
		})
		if ctx.Err() != nil {
			log.Warn("attempt aborted", "attempt", attempt, "cause", context.Cause(ctx))
			return inst, aborted(ctx)
		}
		inst.Attempts = attempt

		if err == nil {
			res := e.validate(spec, resp.Text)
			if res.OK {
				v, err := e.Store.Commit(ctx, spec.ID, resp.Text)
				if err != nil {
					if ctx.Err() != nil {
						inst.Attempts--
						return inst, aborted(ctx)
					}
					log.Error("commit failed", "error", err)
					inst.Status = DocFailed
					inst.LastError = err.Error()
					inst.ErrorKind = failure.Storage
					e.emit(AttemptEvent{Document: spec.ID, Attempt: attempt, Stage: AttemptFailed, Err: err})
					return inst, OutcomeStorageFatal
				}
				inst.Versions = append(inst.Versions, v)
				if err := bindOutput(e.Vars, spec, resp.Text, log); err != nil {
					log.Error("binding output failed", "error", err)
					inst.Status = DocFailed
					inst.LastError = err.Error()
					inst.ErrorKind = failure.Permanent
					e.emit(AttemptEvent{Document: spec.ID, Attempt: attempt, Stage: AttemptFailed, Err: err})
					return inst, OutcomeFailed
				}
				inst.Status = DocCompleted
				inst.LastError = ""
				inst.ErrorKind = failure.Unknown
				inst.hint = ""
				log.Info("document completed", "attempt", attempt, "version", v.Sequence,
					"duration_ms", time.Since(start).Milliseconds(), "model", resp.Model)
				e.emit(AttemptEvent{Document: spec.ID, Attempt: attempt, Stage: AttemptSucceeded, Version: v.Sequence})
				return inst, OutcomeCompleted
			}
			err = failure.New(failure.Validation, errors.New("validation failed: "+res.Reason))
			inst.hint = res.Hint
			e.emit(AttemptEvent{Document: spec.ID, Attempt: attempt, Stage: AttemptRejected, Err: err})
			log.Warn("content rejected", "attempt", attempt, "reason", res.Reason)
		}

		inst.LastError = err.Error()
		inst.ErrorKind = failure.KindOf(err)
		if !failure.Retryable(err) {
			log.Error("attempt failed permanently", "attempt", attempt, "kind", inst.ErrorKind.String(), "error", err)
			break
		}
		if attempt >= budget {
			log.Error("attempts exhausted", "attempt", attempt, "error", err)
			break
		}

		delay := Backoff(attempt, e.BaseDelay, e.MaxDelay, failure.RetryAfter(err))
		log.Warn("attempt failed, retrying", "attempt", attempt, "kind", inst.ErrorKind.String(),
			"error", err, "delay", delay.String())
		e.emit(AttemptEvent{Document: spec.ID, Attempt: attempt, Stage: AttemptRetrying, Err: err, Delay: delay})
		select {
		case <-ctx.Done():
			return inst, aborted(ctx)
		case <-yield:
			return inst, OutcomeInterrupted
		case <-e.wait(delay):
		}
	}

	inst.Status = DocFailed
	e.emit(AttemptEvent{Document: spec.ID, Attempt: inst.Attempts, Stage: AttemptFailed, Err: inst.Err()})
	return inst, OutcomeFailed
}

func (e *Executor) validate(spec registry.DocumentSpec, content string) validate.Result {
	if e.Validator == nil {
		return validate.Pass
	}
	return e.Validator.Validate(spec, content)
}

func yielded(yield <-chan struct{}) bool {
	select {
	case <-yield:
		return true
	default:
		return false
	}
}

func aborted(ctx context.Context) Outcome {
	if errors.Is(context.Cause(ctx), ErrPaused) {
		return OutcomeInterrupted
	}
	return OutcomeCancelled
}

// bindOutput binds the document's output variable to content with any
// variables blocks removed, then each block entry as <output>.<name>.
// A block entry that cannot be bound is logged and skipped.
func bindOutput(vc *vars.Context, spec registry.DocumentSpec, content string, log *logging.Logger) error {
	body, entries := vars.ExtractBlocks(content)
	if err := vc.Bind(spec.OutputVariable, body); err != nil {
		return fmt.Errorf("binding %s: %w", spec.OutputVariable, err)
	}
	for _, e := range entries {
		name := spec.OutputVariable + "." + e.Name
		if err := vc.Bind(name, e.Value); err != nil {
			log.Warn("skipping block variable", "variable", name, "error", err)
		}
	}
	return nil
}
