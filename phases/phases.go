// Package phases - the fixed table of growth phases the detector can report and
// the servo angle each one commands.
package phases

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Prefix is the symbolic name prefix of every phase label.
const Prefix = "fase_"

// Servo limits for a command angle, in degrees.
const (
	MinAngle = 0
	MaxAngle = 180
)

// NameFor returns the phase label for a zero-based class index.
//
// Class 0 is "fase_1", class 1 is "fase_2", and so on.
func NameFor(class int) string {
	return Prefix + strconv.Itoa(class+1)
}

// Table is an immutable phase-to-angle mapping.
//
// Build one with New or Default. A Table is safe for concurrent use.
type Table struct {
	angles map[string]int
	names  []string
}

// New validates and copies a phase-to-angle mapping.
//
// Arguments:
//   - angles: Phase label to servo angle, e.g. {"fase_1": 30}.
//
// Returns:
//   - *Table: The validated table.
//   - error: An error if the table is empty, a label is not "fase_<n>" with n ≥ 1,
//     or an angle falls outside [MinAngle, MaxAngle].
func New(angles map[string]int) (*Table, error) {
	if len(angles) == 0 {
		return nil, errors.New("phase table is empty")
	}

	t := &Table{angles: make(map[string]int, len(angles))}
	for name, angle := range angles {
		if _, err := indexOf(name); err != nil {
			return nil, err
		}
		if angle < MinAngle || angle > MaxAngle {
			return nil, errors.Errorf("phase %s: angle %d outside [%d, %d]", name, angle, MinAngle, MaxAngle)
		}
		t.angles[name] = angle
		t.names = append(t.names, name)
	}

	sort.Slice(t.names, func(i, j int) bool {
		a, _ := indexOf(t.names[i])
		b, _ := indexOf(t.names[j])
		return a < b
	})

	return t, nil
}

// Default returns the table the hydroponics servo was calibrated with.
func Default() *Table {
	t, err := New(map[string]int{"fase_1": 30, "fase_2": 60, "fase_3": 90})
	if err != nil {
		panic(err)
	}
	return t
}

// indexOf parses the class number out of a label.
func indexOf(name string) (int, error) {
	if !strings.HasPrefix(name, Prefix) {
		return 0, errors.Errorf("phase %q: name must start with %q", name, Prefix)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, Prefix))
	if err != nil || n < 1 {
		return 0, errors.Errorf("phase %q: want %s<n> with n >= 1", name, Prefix)
	}
	return n, nil
}

// Angle returns the command angle for a label.
func (t *Table) Angle(name string) (int, bool) {
	a, ok := t.angles[name]
	return a, ok
}

// Contains reports whether name is a known phase.
func (t *Table) Contains(name string) bool {
	_, ok := t.angles[name]
	return ok
}

// Names returns the known phases in class order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Len returns the number of known phases.
func (t *Table) Len() int {
	return len(t.names)
}

// Label returns the phase label of a zero-based class index, and false when
// the table has no such phase.
func (t *Table) Label(class int) (string, bool) {
	name := NameFor(class)
	if !t.Contains(name) {
		return "", false
	}
	return name, true
}

// String renders the table as "fase_1=30 fase_2=60".
func (t *Table) String() string {
	parts := make([]string, len(t.names))
	for i, n := range t.names {
		parts[i] = fmt.Sprintf("%s=%d", n, t.angles[n])
	}
	return strings.Join(parts, " ")
}
