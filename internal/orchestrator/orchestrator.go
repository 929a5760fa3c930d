// Package orchestrator turns one inbound message into tool invocations and
// drives the proof-gated completion pipelines.
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
	"github.com/drillsergeant/coach/internal/session"
)

// HabitStore is the subset of the habit store the orchestrator uses.
type HabitStore interface {
	ListHabits(ctx context.Context) ([]domain.Habit, error)
	AddHabit(ctx context.Context, name, startTime, deadlineTime string) (*domain.Habit, error)
	RemoveHabit(ctx context.Context, id string) (bool, error)
	RecordCompletion(ctx context.Context, habitID, date string, proof *domain.ProofDescriptor) (c *domain.Completion, created bool, err error)
	TodayStatus(ctx context.Context, date string) ([]domain.HabitStatus, error)
}

// HabitMatcher resolves a description against candidates.
type HabitMatcher interface {
	Match(ctx context.Context, description string, candidates []domain.Habit) (domain.MatchResult, error)
}

// ProofAnalyzer identifies and verifies proof images.
type ProofAnalyzer interface {
	Identify(ctx context.Context, img proof.Image, hint string) (domain.ImageIdentification, error)
	Verify(ctx context.Context, img proof.Image, habitName, userContext string) (domain.ProofVerification, error)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Sessions *session.Store
	Habits   HabitStore
	Router   Router
	Matcher  HabitMatcher
	Analyzer ProofAnalyzer
	Metrics  *Metrics
}

// Orchestrator handles inbound messages. It is safe for concurrent use;
// messages for the same user key are serialized by the session store.
type Orchestrator struct {
	sessions     *session.Store
	habits       HabitStore
	router       Router
	matcher      HabitMatcher
	analyzer     ProofAnalyzer
	metrics      *Metrics
	loc          *time.Location
	now          func() time.Time
	stageTimeout time.Duration
	maxImage     int64
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLocation sets the timezone used for "today".
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithStageTimeout bounds every external call made by a stage.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stageTimeout = d
	}
}

// WithMaxImageBytes bounds accepted proof images.
func WithMaxImageBytes(n int64) Option {
	return func(o *Orchestrator) {
		o.maxImage = n
	}
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.Habits == nil || deps.Router == nil ||
		deps.Matcher == nil || deps.Analyzer == nil {
		return nil, errors.New("orchestrator: missing dependency")
	}
	o := &Orchestrator{
		sessions:     deps.Sessions,
		habits:       deps.Habits,
		router:       deps.Router,
		matcher:      deps.Matcher,
		analyzer:     deps.Analyzer,
		metrics:      deps.Metrics,
		loc:          time.Local,
		now:          time.Now,
		stageTimeout: 45 * time.Second,
		maxImage:     proof.DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Outcome is the full result of handling one message.
type Outcome struct {
	Reply domain.OutboundReply
	Tool  Tool
	// Pipeline is set when a completion pipeline ran or was refused.
	Pipeline *Result
}

// Handle processes one message and always produces exactly one reply.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply {
	return o.HandleDetailed(ctx, msg).Reply
}

// HandleDetailed is Handle with the routed tool and pipeline result exposed.
func (o *Orchestrator) HandleDetailed(ctx context.Context, msg domain.InboundMessage) Outcome {
	o.metrics.turnStarted()
	defer o.metrics.turnFinished()

	turn, err := o.sessions.Begin(ctx, msg.UserKey)
	if err != nil {
		slog.Warn("Could not start turn", "user_id", msg.UserKey, "error", err)
		f := &Failure{Reason: ReasonRouterError, Err: err}
		o.metrics.IncFailure(f.Reason)
		return Outcome{Reply: domain.OutboundReply{Text: f.Reply()}}
	}
	defer turn.End()

	out := o.dispatch(ctx, turn, msg)

	turn.Append(domain.RoleUser, UserEntry(msg.Text, msg.HasImage()))
	turn.Append(domain.RoleAssistant, out.Reply.Text)

	slog.Info("Message handled", "user_id", msg.UserKey, "tool", out.Tool,
		"image", msg.HasImage(), "failed", out.Pipeline != nil && out.Pipeline.Failure != nil)
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, turn *session.Turn, msg domain.InboundMessage) Outcome {
	var img proof.Image
	if msg.HasImage() {
		var err error
		img, err = proof.DecodeImage(msg.Image, o.maxImage)
		if err != nil {
			res := o.fail(&Result{}, "", ReasonInvalidImage, "", err)
			return Outcome{Reply: reply(res.Reply()), Pipeline: res}
		}
	}

	call, err := o.route(ctx, turn, msg)
	if err != nil {
		if !msg.HasImage() {
			f := &Failure{Reason: ReasonRouterError, Err: err}
			o.metrics.IncFailure(f.Reason)
			slog.Warn("Routing failed", "user_id", msg.UserKey, "error", err)
			return Outcome{Reply: reply(f.Reply())}
		}
		slog.Warn("Routing failed, treating image as smart completion", "user_id", msg.UserKey, "error", err)
		call = Call{Tool: ToolSmartImageComplete}
	}

	if msg.HasImage() {
		in := pipelineInput{image: img, reference: msg.ImageRef, text: msg.Text}
		if in.reference == "" {
			in.reference = img.Digest()
		}
		// An image always means a completion attempt; the router only
		// decides whether the habit was named.
		if call.Tool == ToolExplicitComplete && call.HabitName != "" {
			o.metrics.IncTool(ToolExplicitComplete)
			in.habitName = call.HabitName
			res := o.runExplicit(ctx, in)
			return Outcome{Reply: reply(res.Reply()), Tool: ToolExplicitComplete, Pipeline: res}
		}
		o.metrics.IncTool(ToolSmartImageComplete)
		res := o.runSmart(ctx, in)
		return Outcome{Reply: reply(res.Reply()), Tool: ToolSmartImageComplete, Pipeline: res}
	}

	o.metrics.IncTool(call.Tool)
	out := Outcome{Tool: call.Tool}
	switch call.Tool {
	case ToolExplicitComplete, ToolSmartImageComplete:
		res := o.fail(&Result{}, "", ReasonProofRequired, "", nil)
		out.Pipeline = res
		out.Reply = reply(res.Reply())
	case ToolAddHabit:
		out.Reply = reply(o.addHabit(ctx, call))
	case ToolRemoveHabit:
		out.Reply = reply(o.removeHabit(ctx, call))
	case ToolStatus:
		out.Reply = reply(o.status(ctx))
	case ToolConverse:
		out.Reply = reply(call.Reply)
	default:
		out.Reply = reply((&Failure{Reason: ReasonRouterError}).Reply())
	}
	return out
}

func (o *Orchestrator) route(ctx context.Context, turn *session.Turn, msg domain.InboundMessage) (Call, error) {
	rctx, cancel := o.callContext(ctx)
	defer cancel()
	call, err := o.router.Route(rctx, RouteRequest{
		History:  turn.History(),
		Text:     msg.Text,
		HasImage: msg.HasImage(),
		Baseline: o.baseline(ctx),
	})
	if err != nil {
		return Call{}, err
	}
	// Routers other than LLMRouter may skip validation.
	if err := call.Validate(); err != nil {
		return Call{}, fmt.Errorf("invalid route: %w", err)
	}
	return call, nil
}

func (o *Orchestrator) addHabit(ctx context.Context, call Call) string {
	start, err := domain.NormalizeClock(call.StartTime)
	if err != nil {
		return o.inputFailure("start " + err.Error())
	}
	deadline, err := domain.NormalizeClock(call.DeadlineTime)
	if err != nil {
		return o.inputFailure("deadline " + err.Error())
	}

	cctx, cancel := o.callContext(ctx)
	defer cancel()
	h, err := o.habits.AddHabit(cctx, call.HabitName, start, deadline)
	if err != nil {
		return o.storeFailure("add habit", err)
	}
	return addedReply(h)
}

func (o *Orchestrator) removeHabit(ctx context.Context, call Call) string {
	cctx, cancel := o.callContext(ctx)
	defer cancel()

	habits, err := o.habits.ListHabits(cctx)
	if err != nil {
		return o.storeFailure("list habits", err)
	}
	match, err := o.matcher.Match(cctx, call.HabitName, habits)
	if errors.Is(err, matcher.ErrEmptyDescription) {
		return o.inputFailure("tell me which habit to remove")
	}
	if err != nil {
		f := &Failure{Reason: ReasonRouterError, Err: err}
		o.metrics.IncFailure(f.Reason)
		slog.Warn("Remove habit match failed", "habit", call.HabitName, "error", err)
		return f.Reply()
	}
	if !match.Matched() {
		f := &Failure{Reason: ReasonNoMatchingHabit, Detail: call.HabitName}
		o.metrics.IncFailure(f.Reason)
		return f.Reply()
	}

	removed, err := o.habits.RemoveHabit(cctx, match.Habit.ID)
	if err != nil {
		return o.storeFailure("remove habit", err)
	}
	if !removed {
		f := &Failure{Reason: ReasonNoMatchingHabit, Detail: call.HabitName}
		o.metrics.IncFailure(f.Reason)
		return f.Reply()
	}
	return removedReply(match.Habit)
}

func (o *Orchestrator) status(ctx context.Context) string {
	cctx, cancel := o.callContext(ctx)
	defer cancel()
	statuses, err := o.habits.TodayStatus(cctx, domain.DayOf(o.now(), o.loc))
	if err != nil {
		return o.storeFailure("today status", err)
	}
	return StatusReply(statuses)
}

// baseline describes the current time and today's habits for the router.
// Store errors degrade to time only.
func (o *Orchestrator) baseline(ctx context.Context) string {
	now := o.now().In(o.loc)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current time: %s (%s)\n", now.Format("Monday, 2006-01-02 15:04"), o.loc)

	cctx, cancel := o.callContext(ctx)
	defer cancel()
	statuses, err := o.habits.TodayStatus(cctx, domain.DayOf(now, o.loc))
	if err != nil {
		slog.Warn("Baseline context without habits", "error", err)
		return sb.String()
	}
	if len(statuses) == 0 {
		sb.WriteString("The user has no habits yet.")
		return sb.String()
	}
	sb.WriteString("Today's habits:\n")
	for _, st := range statuses {
		state := "pending"
		if st.Completed {
			state = "done"
		}
		fmt.Fprintf(&sb, "- %s: %s", st.Habit.Name, state)
		if st.Habit.StartTime != "" {
			fmt.Fprintf(&sb, ", start %s", st.Habit.StartTime)
		}
		if st.Habit.DeadlineTime != "" {
			fmt.Fprintf(&sb, ", deadline %s", st.Habit.DeadlineTime)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (o *Orchestrator) inputFailure(detail string) string {
	f := &Failure{Reason: ReasonInvalidInput, Detail: detail}
	o.metrics.IncFailure(f.Reason)
	return f.Reply()
}

func (o *Orchestrator) storeFailure(op string, err error) string {
	f := &Failure{Reason: ReasonStoreError, Err: err}
	o.metrics.IncFailure(f.Reason)
	slog.Warn("Habit store call failed", "op", op, "error", err)
	return f.Reply()
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stageTimeout > 0 {
		return context.WithTimeout(ctx, o.stageTimeout)
	}
	return context.WithCancel(ctx)
}

func reply(text string) domain.OutboundReply {
	return domain.OutboundReply{Text: text}
}
