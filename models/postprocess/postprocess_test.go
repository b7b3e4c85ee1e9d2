package postprocess

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-phase/images"
	"github.com/nvr-ai/go-phase/inference"
)

// headTensor lays out anchor rows [cx, cy, w, h, c0, c1, ...] attribute-major, as a
// (1, 4+C, A) detection head emits them.
func headTensor(anchors [][]float32) inference.Tensor {
	rows := len(anchors[0])
	data := make([]float32, rows*len(anchors))
	for a, row := range anchors {
		for r, v := range row {
			data[r*len(anchors)+a] = v
		}
	}
	return inference.Tensor{Shape: []int64{1, int64(rows), int64(len(anchors))}, Data: data}
}

func randomCandidates(r *rand.Rand, n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		cx, cy := r.Float32()*640, r.Float32()*640
		w, h := 10+r.Float32()*200, 10+r.Float32()*200
		out[i] = Candidate{
			Box:   images.FromCenter(cx, cy, w, h),
			Score: float32(r.Intn(20)) / 20,
			Class: r.Intn(3),
			Index: i,
		}
	}
	return out
}

func TestDecode(t *testing.T) {
	t.Run("single anchor", func(t *testing.T) {
		out := headTensor([][]float32{{320, 320, 100, 50, 0.9, 0.1, 0.05}})
		candidates, err := Decode([]inference.Tensor{out}, 3)
		require.NoError(t, err)
		require.Len(t, candidates, 1)

		c := candidates[0]
		assert.Equal(t, 0, c.Class)
		assert.InDelta(t, 0.9, c.Score, 1e-6)
		assert.Equal(t, images.Rect{X1: 270, Y1: 295, X2: 370, Y2: 345}, c.Box)
	})

	t.Run("transposes every anchor", func(t *testing.T) {
		anchors := [][]float32{
			{10, 10, 4, 4, 0.1, 0.7},
			{20, 20, 4, 4, 0.6, 0.2},
			{30, 30, 4, 4, 0.3, 0.3},
		}
		candidates, err := Decode([]inference.Tensor{headTensor(anchors)}, 0)
		require.NoError(t, err)
		require.Len(t, candidates, 3)

		want := []Candidate{
			{Box: images.Rect{X1: 8, Y1: 8, X2: 12, Y2: 12}, Score: 0.7, Class: 1, Index: 0},
			{Box: images.Rect{X1: 18, Y1: 18, X2: 22, Y2: 22}, Score: 0.6, Class: 0, Index: 1},
			// first maximum wins on equal class scores
			{Box: images.Rect{X1: 28, Y1: 28, X2: 32, Y2: 32}, Score: 0.3, Class: 0, Index: 2},
		}
		if diff := cmp.Diff(want, candidates); diff != "" {
			t.Errorf("Decode mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ignores extra outputs", func(t *testing.T) {
		first := headTensor([][]float32{{1, 1, 1, 1, 0.5}})
		second := inference.Tensor{Shape: []int64{2}, Data: []float32{0, 0}}
		candidates, err := Decode([]inference.Tensor{first, second}, 1)
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})
}

func TestDecode_OutputShapeErrors(t *testing.T) {
	tests := []struct {
		name       string
		outputs    []inference.Tensor
		numClasses int
	}{
		{name: "no outputs", outputs: nil},
		{name: "rank 2", outputs: []inference.Tensor{{Shape: []int64{5, 1}, Data: make([]float32, 5)}}},
		{name: "batch of 2", outputs: []inference.Tensor{{Shape: []int64{2, 5, 1}, Data: make([]float32, 10)}}},
		{name: "no classes", outputs: []inference.Tensor{{Shape: []int64{1, 4, 3}, Data: make([]float32, 12)}}},
		{name: "no anchors", outputs: []inference.Tensor{{Shape: []int64{1, 7, 0}, Data: nil}}},
		{name: "short data", outputs: []inference.Tensor{{Shape: []int64{1, 7, 2}, Data: make([]float32, 13)}}},
		{name: "overflowing anchors", outputs: []inference.Tensor{{Shape: []int64{1, 8, 1 << 61}}}},
		{name: "overflowing rows", outputs: []inference.Tensor{{Shape: []int64{1, 1 << 62, 4}, Data: make([]float32, 8)}}},
		{name: "negative anchors", outputs: []inference.Tensor{{Shape: []int64{1, 7, -2}, Data: make([]float32, 14)}}},
		{
			name:       "class count mismatch",
			outputs:    []inference.Tensor{{Shape: []int64{1, 7, 2}, Data: make([]float32, 14)}},
			numClasses: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.outputs, tt.numClasses)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrOutputShape), "got %v", err)
		})
	}
}

// The transpose goes through gorgonia.org/tensor, whose assume-no-moving-gc
// dependency must initialize without ASSUME_NO_MOVING_GC_UNSAFE_RISK_IT_WITH.
func TestDecode_RunsWithoutGCOverride(t *testing.T) {
	t.Setenv("ASSUME_NO_MOVING_GC_UNSAFE_RISK_IT_WITH", "")

	candidates, err := Decode([]inference.Tensor{headTensor([][]float32{
		{320, 320, 100, 100, 0.9, 0.1},
		{100, 100, 50, 50, 0.2, 0.7},
	})}, 2)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, 0, candidates[0].Class)
	assert.Equal(t, 1, candidates[1].Class)
}

func TestFilter(t *testing.T) {
	candidates := []Candidate{
		{Score: 0.9, Index: 0},
		{Score: 0.25, Index: 1},
		{Score: 0.26, Index: 2},
		{Score: 0.1, Index: 3},
	}

	kept := Filter(candidates, 0.25)
	require.Len(t, kept, 2, "threshold is exclusive")
	assert.Equal(t, 0, kept[0].Index)
	assert.Equal(t, 2, kept[1].Index)

	assert.Empty(t, Filter(candidates, 0.95))
	assert.Empty(t, Filter(nil, 0.25))
}

// TestFilter_Monotonic checks that raising the threshold never adds candidates.
func TestFilter_Monotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	candidates := randomCandidates(r, 200)

	prev := Filter(candidates, 0)
	for _, th := range []float32{0.1, 0.25, 0.5, 0.7, 0.95} {
		next := Filter(candidates, th)
		assert.LessOrEqual(t, len(next), len(prev))

		kept := make(map[int]bool, len(prev))
		for _, c := range prev {
			kept[c.Index] = true
		}
		for _, c := range next {
			assert.True(t, kept[c.Index], "index %d kept at %.2f but not at a lower threshold", c.Index, th)
		}
		prev = next
	}
}

func TestApplyGreedyNMS(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Nil(t, ApplyGreedyNMS(nil, 0.7))
	})

	t.Run("heavy overlap keeps the higher score", func(t *testing.T) {
		candidates := []Candidate{
			{Box: images.Rect{X1: 100, Y1: 100, X2: 200, Y2: 200}, Score: 0.6, Class: 0, Index: 0},
			{Box: images.Rect{X1: 102, Y1: 100, X2: 202, Y2: 200}, Score: 0.8, Class: 0, Index: 1},
		}
		require.Greater(t, images.CalculateIoU(candidates[0].Box, candidates[1].Box), float32(0.9))

		kept := ApplyGreedyNMS(candidates, 0.7)
		require.Len(t, kept, 1)
		assert.InDelta(t, 0.8, kept[0].Score, 1e-6)
	})

	t.Run("disjoint boxes all survive in score order", func(t *testing.T) {
		candidates := []Candidate{
			{Box: images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Score: 0.3, Index: 0},
			{Box: images.Rect{X1: 20, Y1: 20, X2: 30, Y2: 30}, Score: 0.9, Index: 1},
			{Box: images.Rect{X1: 40, Y1: 40, X2: 50, Y2: 50}, Score: 0.5, Index: 2},
		}
		kept := ApplyGreedyNMS(candidates, 0.7)
		require.Len(t, kept, 3)
		assert.Equal(t, []int{1, 2, 0}, []int{kept[0].Index, kept[1].Index, kept[2].Index})
	})

	t.Run("IoU equal to the threshold is not suppressed", func(t *testing.T) {
		candidates := []Candidate{
			{Box: images.Rect{X1: 0, Y1: 0, X2: 2, Y2: 1}, Score: 0.9, Index: 0},
			{Box: images.Rect{X1: 0, Y1: 0, X2: 1, Y2: 1}, Score: 0.8, Index: 1},
		}
		require.Equal(t, float32(0.5), images.CalculateIoU(candidates[0].Box, candidates[1].Box))
		assert.Len(t, ApplyGreedyNMS(candidates, 0.5), 2)
	})

	t.Run("ties broken by original index", func(t *testing.T) {
		box := images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
		candidates := []Candidate{
			{Box: box, Score: 0.5, Class: 2, Index: 4},
			{Box: box, Score: 0.5, Class: 1, Index: 1},
			{Box: box, Score: 0.5, Class: 0, Index: 3},
		}
		kept := ApplyGreedyNMS(candidates, 0.7)
		require.Len(t, kept, 1)
		assert.Equal(t, 1, kept[0].Index)
		assert.Equal(t, 1, kept[0].Class)
	})

	t.Run("does not modify the input", func(t *testing.T) {
		candidates := []Candidate{{Score: 0.1, Index: 0}, {Score: 0.9, Index: 1}}
		ApplyGreedyNMS(candidates, 0.7)
		assert.Equal(t, 0, candidates[0].Index)
	})
}

// TestApplyGreedyNMS_Properties checks idempotence, top survival and pairwise overlap on random input.
func TestApplyGreedyNMS_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 25; round++ {
		candidates := randomCandidates(r, 60)
		const th = float32(0.45)

		once := ApplyGreedyNMS(candidates, th)
		twice := ApplyGreedyNMS(once, th)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Fatalf("round %d: NMS not idempotent (-once +twice):\n%s", round, diff)
		}

		top := SortByScore(candidates)[0]
		assert.Equal(t, top, once[0], "round %d: top candidate must survive", round)

		for i := range once {
			for j := i + 1; j < len(once); j++ {
				assert.LessOrEqual(t, images.CalculateIoU(once[i].Box, once[j].Box), th)
				assert.GreaterOrEqual(t, once[i].Score, once[j].Score)
			}
		}
	}
}
