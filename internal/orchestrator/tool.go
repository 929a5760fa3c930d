package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Tool is the fixed vocabulary the router selects from.
type Tool string

const (
	ToolAddHabit           Tool = "add_habit"
	ToolRemoveHabit        Tool = "remove_habit"
	ToolExplicitComplete   Tool = "complete_habit"
	ToolSmartImageComplete Tool = "complete_habit_from_image"
	ToolStatus             Tool = "status"
	ToolConverse           Tool = "converse"
)

// Tools lists every valid tag.
var Tools = []Tool{
	ToolAddHabit, ToolRemoveHabit, ToolExplicitComplete,
	ToolSmartImageComplete, ToolStatus, ToolConverse,
}

// IsCompletion reports whether t asks to record a completion.
func (t Tool) IsCompletion() bool {
	return t == ToolExplicitComplete || t == ToolSmartImageComplete
}

// Call is one routed tool invocation with its typed arguments.
type Call struct {
	Tool         Tool   `json:"tool"`
	HabitName    string `json:"habit_name,omitempty"`
	StartTime    string `json:"start_time,omitempty"`
	DeadlineTime string `json:"deadline_time,omitempty"`
	Reply        string `json:"reply,omitempty"`
}

// Validate checks the tag and its required arguments.
func (c *Call) Validate() error {
	c.Tool = Tool(strings.ToLower(strings.TrimSpace(string(c.Tool))))
	c.HabitName = strings.TrimSpace(c.HabitName)
	c.Reply = strings.TrimSpace(c.Reply)

	switch c.Tool {
	case ToolAddHabit, ToolRemoveHabit:
		if c.HabitName == "" {
			return fmt.Errorf("%s requires habit_name", c.Tool)
		}
	case ToolConverse:
		if c.Reply == "" {
			return errors.New("converse requires reply")
		}
	case ToolExplicitComplete, ToolSmartImageComplete, ToolStatus:
	case "":
		return errors.New("missing tool")
	default:
		return fmt.Errorf("unknown tool %q", c.Tool)
	}
	return nil
}
