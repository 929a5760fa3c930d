package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/matcher"
	"github.com/drillsergeant/coach/internal/proof"
	"github.com/drillsergeant/coach/internal/store"
)

// ErrInvariantViolation is returned when COMMIT is attempted without a
// verified proof. Correct routing never reaches it.
var ErrInvariantViolation = errors.New("invariant violation: commit without verified proof")

// Stage is one step of a completion pipeline.
type Stage string

const (
	StageIdentify Stage = "IDENTIFY"
	StageMatch    Stage = "MATCH"
	StageVerify   Stage = "VERIFY"
	StageCommit   Stage = "COMMIT"
)

// Reason names a terminal FAILED state.
type Reason string

const (
	ReasonProofRequired      Reason = "proof-required"
	ReasonInvalidImage       Reason = "invalid-image"
	ReasonInvalidInput       Reason = "invalid-input"
	ReasonRouterError        Reason = "router-error"
	ReasonAnalysisError      Reason = "analysis-error"
	ReasonUnidentifiable     Reason = "unidentifiable"
	ReasonNoMatchingHabit    Reason = "no-matching-habit"
	ReasonProofRejected      Reason = "proof-rejected"
	ReasonStoreError         Reason = "store-error"
	ReasonInvariantViolation Reason = "invariant-violation"
)

// Failure is a terminal FAILED(reason) state.
type Failure struct {
	Stage  Stage
	Reason Reason
	// Detail is user-facing text carried into the reply (the rejection
	// reasoning, the unmatched description).
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	msg := string(f.Reason)
	if f.Stage != "" {
		msg = string(f.Stage) + ": " + msg
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Trace lists the stages entered, in order.
	Trace          []Stage
	Failure        *Failure
	Identification *domain.ImageIdentification
	Verification   *domain.ProofVerification
	Habit          *domain.Habit
	Completion     *domain.Completion
	// AlreadyDone is set when the store kept a completion recorded by an
	// earlier run for the same day instead of inserting a new one.
	AlreadyDone bool
}

// OK reports whether the run reached DONE.
func (r *Result) OK() bool {
	return r.Failure == nil && r.Completion != nil
}

// pipelineInput is one completion attempt.
type pipelineInput struct {
	image     proof.Image
	reference string
	text      string
	// habitName is set for the explicit pipeline.
	habitName string
}

var uninformative = map[string]bool{
	"": true, "unknown": true, "none": true, "n/a": true, "na": true,
	"unclear": true, "nothing": true, "unidentifiable": true,
}

// runSmart executes IDENTIFY -> MATCH -> VERIFY -> COMMIT.
func (o *Orchestrator) runSmart(ctx context.Context, in pipelineInput) *Result {
	res := &Result{}

	var ident domain.ImageIdentification
	err := o.stage(ctx, res, StageIdentify, func(ctx context.Context) error {
		var err error
		ident, err = o.analyzer.Identify(ctx, in.image, in.text)
		return err
	})
	if err != nil {
		return o.fail(res, StageIdentify, ReasonAnalysisError, "", err)
	}
	res.Identification = &ident

	described := strings.TrimSpace(ident.HabitIdentified)
	if uninformative[strings.ToLower(described)] {
		return o.fail(res, StageIdentify, ReasonUnidentifiable, "", nil)
	}

	return o.matchVerifyCommit(ctx, res, in, described, ident.KeyDetails)
}

// runExplicit executes MATCH -> VERIFY -> COMMIT for a habit the user named.
func (o *Orchestrator) runExplicit(ctx context.Context, in pipelineInput) *Result {
	return o.matchVerifyCommit(ctx, &Result{}, in, in.habitName, "")
}

func (o *Orchestrator) matchVerifyCommit(ctx context.Context, res *Result, in pipelineInput, description, details string) *Result {
	var match domain.MatchResult
	err := o.stage(ctx, res, StageMatch, func(ctx context.Context) error {
		habits, err := o.habits.ListHabits(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", errStore, err)
		}
		match, err = o.matcher.Match(ctx, description, habits)
		return err
	})
	switch {
	case errors.Is(err, errStore):
		return o.fail(res, StageMatch, ReasonStoreError, "", err)
	case errors.Is(err, matcher.ErrEmptyDescription):
		return o.fail(res, StageMatch, ReasonUnidentifiable, "", err)
	case err != nil:
		return o.fail(res, StageMatch, ReasonAnalysisError, "", err)
	case !match.Matched():
		return o.fail(res, StageMatch, ReasonNoMatchingHabit, description, nil)
	}
	habit := *match.Habit
	res.Habit = &habit

	userContext := in.text
	if details != "" {
		userContext = strings.TrimSpace(fmt.Sprintf("%s\nImage details: %s", in.text, details))
	}
	var verdict domain.ProofVerification
	err = o.stage(ctx, res, StageVerify, func(ctx context.Context) error {
		var err error
		verdict, err = o.analyzer.Verify(ctx, in.image, habit.Name, userContext)
		return err
	})
	if err != nil {
		return o.fail(res, StageVerify, ReasonAnalysisError, "", err)
	}
	res.Verification = &verdict
	if !verdict.Verified {
		return o.fail(res, StageVerify, ReasonProofRejected, verdict.Reasoning, nil)
	}

	return o.commit(ctx, res, habit, res.Verification, in.reference)
}

// commit records the completion. It refuses unconditionally unless the
// verification says verified.
func (o *Orchestrator) commit(ctx context.Context, res *Result, habit domain.Habit, verdict *domain.ProofVerification, reference string) *Result {
	if verdict == nil || !verdict.Verified {
		res.Trace = append(res.Trace, StageCommit)
		slog.Error("Refusing to commit completion without verified proof",
			"habit_id", habit.ID, "habit", habit.Name, "trace", res.Trace)
		return o.fail(res, StageCommit, ReasonInvariantViolation, "", ErrInvariantViolation)
	}

	runStart := o.now()
	date := domain.DayOf(runStart, o.loc)
	descriptor := &domain.ProofDescriptor{
		Reference:  reference,
		Verified:   true,
		Confidence: verdict.Confidence,
		Reasoning:  verdict.Reasoning,
	}

	var (
		completion *domain.Completion
		created    bool
	)
	err := o.stage(ctx, res, StageCommit, func(ctx context.Context) error {
		var err error
		completion, created, err = o.habits.RecordCompletion(ctx, habit.ID, date, descriptor)
		return err
	})
	if errors.Is(err, store.ErrHabitNotFound) {
		return o.fail(res, StageCommit, ReasonNoMatchingHabit, habit.Name, err)
	}
	if err != nil {
		return o.fail(res, StageCommit, ReasonStoreError, "", err)
	}

	res.Completion = completion
	res.AlreadyDone = !created
	return res
}

var errStore = errors.New("habit store")

// stage runs fn as the named stage under the stage timeout, appending it to
// the trace and recording metrics.
func (o *Orchestrator) stage(ctx context.Context, res *Result, s Stage, fn func(context.Context) error) error {
	res.Trace = append(res.Trace, s)
	slog.Info("Pipeline stage started", "stage", s)

	stageCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(stageCtx)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		slog.Warn("Pipeline stage failed", "stage", s, "duration", time.Since(start), "error", err)
	} else {
		slog.Info("Pipeline stage finished", "stage", s, "duration", time.Since(start))
	}
	o.metrics.ObserveStage(s, outcome, time.Since(start))
	return err
}

func (o *Orchestrator) fail(res *Result, s Stage, reason Reason, detail string, err error) *Result {
	res.Failure = &Failure{Stage: s, Reason: reason, Detail: detail, Err: err}
	o.metrics.IncFailure(reason)

	attrs := []any{"stage", s, "reason", reason, "trace", res.Trace}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	switch reason {
	case ReasonInvariantViolation:
		slog.Error("Pipeline failed", attrs...)
	case ReasonAnalysisError, ReasonStoreError:
		slog.Warn("Pipeline failed", attrs...)
	default:
		slog.Info("Pipeline failed", attrs...)
	}
	return res
}
