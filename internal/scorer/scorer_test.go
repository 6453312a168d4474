package scorer

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webfabrica/leadgen-cli/internal/model"
)

// scoreTime is the fixed reference time every scoring test anchors on.
var scoreTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func recentActivity() *time.Time {
	t := scoreTime.AddDate(0, -2, 0)
	return &t
}

func staleActivity() *time.Time {
	t := scoreTime.AddDate(0, -18, 0)
	return &t
}

func TestScoreStrongLead(t *testing.T) {
	w := DefaultWeights()
	sig := model.Signals{
		Rating:         4.5,
		ReviewCount:    120,
		PhotoCount:     15,
		Category:       "restaurant",
		Neighborhood:   "Villa Morra",
		City:           "Asuncion",
		HasPhone:       true,
		LastActivityAt: recentActivity(),
	}

	res := Score(sig, w, scoreTime)

	// reviews 20 + rating 13.5 + photos 10 + category 25 + location 15 +
	// contact 10 + activity 5 = 98.5
	assert.Equal(t, 99, res.Score)
	assert.Equal(t, TierQualified, res.Tier)
	assert.InDelta(t, 20, res.Breakdown["reviews"], 0.001)
	assert.InDelta(t, 13.5, res.Breakdown["rating"], 0.001)
	assert.InDelta(t, 25, res.Breakdown["category"], 0.001)
	assert.InDelta(t, 15, res.Breakdown["location"], 0.001)
}

func TestScoreZeroSignals(t *testing.T) {
	w := DefaultWeights()
	res := Score(model.Signals{Category: "unknown thing"}, w, scoreTime)

	// Only the category and location defaults contribute: 0.8*25 = 20 and
	// 0.75/1.2*15 = 9.375.
	assert.Equal(t, 29, res.Score)
	assert.Equal(t, TierLowPriority, res.Tier)
	assert.Zero(t, res.Breakdown["reviews"])
	assert.Zero(t, res.Breakdown["contact"])
}

func TestScoreTierBoundaries(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name string
		sig  model.Signals
		tier Tier
	}{
		{
			name: "pharmacy with phone clears threshold",
			sig: model.Signals{
				Rating:      4.0,
				ReviewCount: 10,
				Category:    "pharmacy",
				HasPhone:    true,
			},
			// reviews 2 + rating 12 + category 17.5 + location 9.375 +
			// contact 10 = 50.875... pharmacy 0.7*25
			tier: TierQualified,
		},
		{
			name: "stale activity earns nothing",
			sig: model.Signals{
				Rating:         3.0,
				Category:       "hotel",
				LastActivityAt: staleActivity(),
			},
			// rating 9 + category 22.5 + location 9.375 = 40.875
			tier: TierReview,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Score(tt.sig, w, scoreTime)
			assert.Equal(t, tt.tier, res.Tier, "score=%d", res.Score)
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	w := DefaultWeights()
	sig := model.Signals{
		Rating:       4.2,
		ReviewCount:  44,
		PhotoCount:   3,
		Category:     "salon",
		Neighborhood: "Carmelitas",
		HasPhone:     true,
	}

	first := Score(sig, w, scoreTime)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Score(sig, w, scoreTime))
	}
}

func TestScoreActivityAnchoredOnReferenceTime(t *testing.T) {
	w := DefaultWeights()
	sig := model.Signals{LastActivityAt: recentActivity()}

	res := Score(sig, w, scoreTime)
	assert.InDelta(t, w.ActivityMax, res.Breakdown["activity"], 0.001)

	// Re-scoring the same stored signals a year later with the original
	// reference time reproduces the component; with the later time the
	// activity has aged out.
	assert.Equal(t, res, Score(sig, w, scoreTime))
	later := Score(sig, w, scoreTime.AddDate(1, 0, 0))
	assert.Zero(t, later.Breakdown["activity"])
}

func TestScoreCategorySubstringMatch(t *testing.T) {
	w := DefaultWeights()

	exact := Score(model.Signals{Category: "restaurant"}, w, scoreTime)
	compound := Score(model.Signals{Category: "Restaurante Paraguayo"}, w, scoreTime)
	assert.Equal(t, exact.Breakdown["category"], compound.Breakdown["category"])
}

func TestScoreRatingClamped(t *testing.T) {
	w := DefaultWeights()
	res := Score(model.Signals{Rating: 9.9}, w, scoreTime)
	assert.InDelta(t, w.RatingMax, res.Breakdown["rating"], 0.001)
}

func TestValidateWeights(t *testing.T) {
	t.Run("defaults valid", func(t *testing.T) {
		require.NoError(t, ValidateWeights(DefaultWeights()))
	})

	t.Run("bands must sum to 100", func(t *testing.T) {
		w := DefaultWeights()
		w.ReviewMax = 50
		err := ValidateWeights(w)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum to 100")
	})

	t.Run("category weight out of range", func(t *testing.T) {
		w := DefaultWeights()
		w.CategoryWeights["casino"] = 2.0
		err := ValidateWeights(w)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "casino")
	})

	t.Run("missing default tier", func(t *testing.T) {
		w := DefaultWeights()
		delete(w.LocationTiers, "default")
		require.Error(t, ValidateWeights(w))
	})

	t.Run("review tier above threshold", func(t *testing.T) {
		w := DefaultWeights()
		w.ReviewTierMin = 60
		require.Error(t, ValidateWeights(w))
	})
}

func TestLoadWeightsFile(t *testing.T) {
	t.Run("empty path is noop", func(t *testing.T) {
		w := DefaultWeights()
		require.NoError(t, LoadWeightsFile("", &w))
		assert.Equal(t, DefaultWeights().QualificationThreshold, w.QualificationThreshold)
	})

	t.Run("overlay replaces only present keys", func(t *testing.T) {
		path := t.TempDir() + "/weights.yaml"
		data := []byte("qualification_threshold: 60\ncategory_weights:\n  florist: 1.1\n")
		require.NoError(t, writeFile(path, data))

		w := DefaultWeights()
		require.NoError(t, LoadWeightsFile(path, &w))
		assert.Equal(t, 60, w.QualificationThreshold)
		assert.InDelta(t, 1.1, w.CategoryWeights["florist"], 0.001)
		assert.InDelta(t, 1.3, w.CategoryWeights["restaurant"], 0.001)
	})

	t.Run("invalid overlay rejected", func(t *testing.T) {
		path := t.TempDir() + "/weights.yaml"
		data := []byte("category_weights:\n  casino: 9.0\n")
		require.NoError(t, writeFile(path, data))

		w := DefaultWeights()
		require.Error(t, LoadWeightsFile(path, &w))
	})
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
