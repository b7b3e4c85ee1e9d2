package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvr-ai/go-phase/phases"
)

func TestDecide(t *testing.T) {
	p := NewPolicy(phases.Default(), 0)

	tests := []struct {
		name   string
		labels []string
		want   Outcome
	}{
		{
			name:   "empty means no actuation",
			labels: nil,
			want:   Outcome{Labels: []string{}},
		},
		{
			name:   "single label",
			labels: []string{"fase_1"},
			want:   Outcome{Labels: []string{"fase_1"}, Actuate: true, Selected: "fase_1", Command: 30},
		},
		{
			name:   "first label wins, no averaging",
			labels: []string{"fase_3", "fase_1", "fase_2"},
			want:   Outcome{Labels: []string{"fase_3", "fase_1", "fase_2"}, Actuate: true, Selected: "fase_3", Command: 90},
		},
		{
			name:   "unknown label falls back to neutral",
			labels: []string{"fase_9"},
			want:   Outcome{Labels: []string{"fase_9"}, Actuate: true, Selected: "fase_9", Command: 0, Fallback: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.labels))
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	p := NewPolicy(phases.Default(), 0)
	labels := []string{"fase_2", "fase_3"}
	first := p.Decide(labels)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, p.Decide(labels))
	}
	assert.Equal(t, 60, first.Command)
}

func TestDecide_NeutralIsConfigurable(t *testing.T) {
	out := NewPolicy(phases.Default(), 45).Decide([]string{"fase_7"})
	assert.True(t, out.Fallback)
	assert.Equal(t, 45, out.Command)
}

func TestOutcomeString(t *testing.T) {
	p := NewPolicy(phases.Default(), 0)
	assert.Equal(t, "no phase detected", p.Decide(nil).String())
	assert.Equal(t, "detected phases: [fase_1 fase_2] | command: 30", p.Decide([]string{"fase_1", "fase_2"}).String())
	assert.Equal(t, "detected phases: [fase_5] | command: 0 (neutral fallback: fase_5 has no angle)",
		p.Decide([]string{"fase_5"}).String())
}
