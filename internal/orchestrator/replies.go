package orchestrator

import (
	"fmt"
	"strings"

	"github.com/drillsergeant/coach/internal/domain"
)

// Reply renders the single user-facing message for a failure.
func (f *Failure) Reply() string {
	switch f.Reason {
	case ReasonProofRequired:
		return "Proof required. Send a photo or screenshot showing you completed the habit."
	case ReasonInvalidImage:
		return "I couldn't read that image. Please send a clear photo (JPEG, PNG or GIF)."
	case ReasonInvalidInput:
		if f.Detail != "" {
			return "That doesn't look right: " + f.Detail
		}
		return "That doesn't look right. Please try again."
	case ReasonRouterError:
		return "I couldn't process that message right now. Please try again in a moment."
	case ReasonAnalysisError:
		return "I couldn't analyze your proof right now. Please try again in a moment."
	case ReasonUnidentifiable:
		return "I couldn't tell which habit this image shows. Send it again and tell me the habit name."
	case ReasonNoMatchingHabit:
		if f.Detail != "" {
			return fmt.Sprintf("No matching habit found for %q. Add it first with \"add habit <name>\".", f.Detail)
		}
		return "No matching habit found. Add it first with \"add habit <name>\"."
	case ReasonProofRejected:
		return "Proof rejected: " + f.Detail
	case ReasonStoreError:
		return "I couldn't save that right now. Please try again."
	case ReasonInvariantViolation:
		return "Something went wrong recording that completion. Nothing was saved."
	default:
		return "Something went wrong. Please try again."
	}
}

// Reply renders the message for a pipeline result.
func (r *Result) Reply() string {
	if r.Failure != nil {
		return r.Failure.Reply()
	}
	if r.AlreadyDone {
		return fmt.Sprintf("%q is already completed for today.", r.Habit.Name)
	}
	return fmt.Sprintf("Completed %q for today. Proof verified.", r.Habit.Name)
}

func addedReply(h *domain.Habit) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Added habit %q", h.Name)
	switch {
	case h.StartTime != "" && h.DeadlineTime != "":
		fmt.Fprintf(&sb, " (start %s, deadline %s)", h.StartTime, h.DeadlineTime)
	case h.StartTime != "":
		fmt.Fprintf(&sb, " (start %s)", h.StartTime)
	case h.DeadlineTime != "":
		fmt.Fprintf(&sb, " (deadline %s)", h.DeadlineTime)
	}
	sb.WriteString(".")
	return sb.String()
}

func removedReply(h *domain.Habit) string {
	return fmt.Sprintf("Removed habit %q.", h.Name)
}

// StatusReply renders today's habits.
func StatusReply(statuses []domain.HabitStatus) string {
	if len(statuses) == 0 {
		return "You have no habits yet. Add one with \"add habit <name>\"."
	}
	done := 0
	var sb strings.Builder
	for _, st := range statuses {
		if st.Completed {
			done++
		}
	}
	fmt.Fprintf(&sb, "Today: %d/%d done.\n", done, len(statuses))
	for _, st := range statuses {
		mark := "[ ]"
		if st.Completed {
			mark = "[x]"
		}
		fmt.Fprintf(&sb, "%s %s", mark, st.Habit.Name)
		if st.Habit.DeadlineTime != "" {
			fmt.Fprintf(&sb, " (by %s)", st.Habit.DeadlineTime)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
