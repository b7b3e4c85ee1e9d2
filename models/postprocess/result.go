// Package postprocess - Postprocessing utilities for detection models.
package postprocess

import "github.com/nvr-ai/go-phase/images"

// Candidate represents a single scored detection candidate.
//
// A candidate is derived once from a model output row and never mutated.
type Candidate struct {
	// The bounding box of the candidate in corner form, in model input units.
	Box images.Rect
	// The best class confidence (max over the class slice).
	Score float32
	// The best class index (first maximum wins).
	Class int
	// The anchor row the candidate came from; breaks score ties.
	Index int
}

// Filter keeps candidates whose score is strictly greater than threshold.
//
// The relative order of the kept candidates is preserved.
//
// Arguments:
//   - candidates: The scored candidates.
//   - threshold: The exclusive confidence threshold.
//
// Returns:
//   - []Candidate: The kept candidates, possibly empty.
func Filter(candidates []Candidate, threshold float32) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score > threshold {
			kept = append(kept, c)
		}
	}
	return kept
}
