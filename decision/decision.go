// Package decision - turns the detected phase labels of one frame into a single servo command.
package decision

import (
	"fmt"

	"github.com/nvr-ai/go-phase/phases"
)

// Outcome is the result of applying the Policy to one frame's labels.
type Outcome struct {
	// Labels are the detected phases, highest confidence first.
	Labels []string `json:"labels"`
	// Actuate is false when nothing was detected and no command must be sent.
	Actuate bool `json:"actuate"`
	// Selected is the label the command was derived from.
	Selected string `json:"selected,omitempty"`
	// Command is the servo angle to publish. Meaningless when Actuate is false.
	Command int `json:"command"`
	// Fallback is true when Selected had no table entry and Command is the neutral value.
	Fallback bool `json:"fallback"`
}

// String renders the outcome the way it is written to the journal.
func (o Outcome) String() string {
	if !o.Actuate {
		return "no phase detected"
	}
	s := fmt.Sprintf("detected phases: %v | command: %d", o.Labels, o.Command)
	if o.Fallback {
		s += fmt.Sprintf(" (neutral fallback: %s has no angle)", o.Selected)
	}
	return s
}

// Policy selects the command for a frame.
//
// Only the first (highest confidence) label is used. Labels after the first
// are reported but never aggregated.
type Policy struct {
	table   *phases.Table
	neutral int
}

// NewPolicy creates a policy over table.
//
// Arguments:
//   - table: The phase-to-angle table.
//   - neutral: The command used when the selected label has no table entry.
//
// Returns:
//   - *Policy: The policy.
func NewPolicy(table *phases.Table, neutral int) *Policy {
	return &Policy{table: table, neutral: neutral}
}

// Decide applies the policy to labels.
//
// Arguments:
//   - labels: Phase labels, highest confidence first. May be empty.
//
// Returns:
//   - Outcome: Actuate is false for an empty list; otherwise Command is the
//     angle of labels[0], or the neutral value with Fallback set.
func (p *Policy) Decide(labels []string) Outcome {
	out := Outcome{Labels: append([]string{}, labels...)}
	if len(labels) == 0 {
		return out
	}

	out.Actuate = true
	out.Selected = labels[0]
	if angle, ok := p.table.Angle(out.Selected); ok {
		out.Command = angle
		return out
	}

	out.Command = p.neutral
	out.Fallback = true
	return out
}
