// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/go-phase/images"
)

// SortByScore orders candidates by descending score, ties by ascending anchor index.
//
// The input slice is not modified.
//
// Arguments:
//   - candidates: The candidates to order.
//
// Returns:
//   - []Candidate: A sorted copy.
func SortByScore(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Index < sorted[j].Index
	})
	return sorted
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Suppression is class-agnostic: the highest scoring remaining candidate is
// emitted and every remaining candidate overlapping it with an IoU strictly
// greater than iouThreshold is discarded, until none remain.
//
// Arguments:
//   - candidates: The candidates to suppress, in any order.
//   - iouThreshold: IoU above which an overlapping candidate is suppressed.
//
// Returns:
//   - []Candidate: Survivors, highest score first. Nil when candidates is empty.
//
// Example:
//
// ```go
//
//	kept := postprocess.ApplyGreedyNMS(postprocess.Filter(candidates, 0.25), 0.7)
//
// ```
func ApplyGreedyNMS(candidates []Candidate, iouThreshold float32) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	sorted := SortByScore(candidates)
	filtered := make([]Candidate, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, sorted[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
