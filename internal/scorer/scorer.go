// Package scorer implements the weighted lead-quality score that decides
// whether a discovered business is worth building a website for.
package scorer

import (
	"math"
	"strings"
	"time"

	"github.com/webfabrica/leadgen-cli/internal/model"
)

// Tier buckets a score into the qualification outcome.
type Tier string

const (
	TierQualified   Tier = "qualified"
	TierReview      Tier = "manual_review"
	TierLowPriority Tier = "low_priority"
)

// Result holds the scoring output for a single business.
type Result struct {
	Score     int                `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
	Tier      Tier               `json:"tier"`
}

// Score computes the composite 0-100 lead score from the stored signals.
// The activity window is anchored on now, so the caller fixes the
// reference time. Pure: same signals, weights and reference time always
// produce the same result, so any score is recomputable at audit time.
func Score(sig model.Signals, w Weights, now time.Time) Result {
	components := map[string]float64{
		"reviews":  scoreReviews(sig.ReviewCount, w.ReviewMax),
		"rating":   scoreRating(sig.Rating, w.RatingMax),
		"photos":   scorePhotos(sig.PhotoCount, w.PhotoMax),
		"category": scoreCategory(sig.Category, w),
		"location": scoreLocation(sig.Neighborhood, sig.City, w),
		"contact":  scoreContact(sig.HasPhone, w.ContactMax),
		"activity": scoreActivity(sig.LastActivityAt, w, now),
	}

	var total float64
	for _, c := range components {
		total += c
	}
	score := int(math.Round(math.Min(math.Max(total, 0), 100)))

	return Result{
		Score:     score,
		Breakdown: components,
		Tier:      tierOf(score, w),
	}
}

// tierOf maps a score to its qualification tier.
func tierOf(score int, w Weights) Tier {
	switch {
	case score >= w.QualificationThreshold:
		return TierQualified
	case score >= w.ReviewTierMin:
		return TierReview
	default:
		return TierLowPriority
	}
}

// scoreReviews saturates at 100 reviews.
func scoreReviews(count int, max float64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(float64(count)/100, 1.0) * max
}

// scoreRating scales a 0-5 star rating linearly.
func scoreRating(rating, max float64) float64 {
	r := math.Min(math.Max(rating, 0), 5)
	return r / 5 * max
}

// scorePhotos saturates at 10 photos.
func scorePhotos(count int, max float64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(float64(count)/10, 1.0) * max
}

// scoreCategory looks up the business vertical's conversion weight.
// Weights above 1.0 mark high-intent verticals; the component still caps
// at its band so no single vertical dominates the composite.
func scoreCategory(category string, w Weights) float64 {
	weight := w.categoryWeight(category)
	return math.Min(weight*w.CategoryMax, w.CategoryMax)
}

// scoreLocation scores by neighborhood tier, falling back to the city and
// then the default tier. Tier weights are normalized against the top tier
// so the component stays inside its band.
func scoreLocation(neighborhood, city string, w Weights) float64 {
	tier := w.locationTier(neighborhood, city)
	top := w.maxLocationTier()
	if top <= 0 {
		return 0
	}
	return math.Min(tier/top, 1.0) * w.LocationMax
}

// scoreContact is all-or-nothing: outreach needs a reachable phone.
func scoreContact(hasPhone bool, max float64) float64 {
	if hasPhone {
		return max
	}
	return 0
}

// scoreActivity rewards listings with owner activity inside the window
// ending at the reference time.
func scoreActivity(last *time.Time, w Weights, now time.Time) float64 {
	if last == nil {
		return 0
	}
	cutoff := now.AddDate(0, -w.ActivityWindowMonths, 0)
	if last.After(cutoff) {
		return w.ActivityMax
	}
	return 0
}

func (w Weights) categoryWeight(category string) float64 {
	key := strings.ToLower(strings.TrimSpace(category))
	if weight, ok := w.CategoryWeights[key]; ok {
		return weight
	}
	// Multi-word categories from the scraper ("restaurante paraguayo")
	// still match their base vertical.
	for name, weight := range w.CategoryWeights {
		if name != defaultKey && strings.Contains(key, name) {
			return weight
		}
	}
	return w.CategoryWeights[defaultKey]
}

func (w Weights) locationTier(neighborhood, city string) float64 {
	for _, key := range []string{keyOf(neighborhood), keyOf(city)} {
		if key == "" {
			continue
		}
		if tier, ok := w.LocationTiers[key]; ok {
			return tier
		}
	}
	return w.LocationTiers[defaultKey]
}

func (w Weights) maxLocationTier() float64 {
	var top float64
	for _, tier := range w.LocationTiers {
		if tier > top {
			top = tier
		}
	}
	return top
}

// keyOf canonicalizes a place name into a weight-table key.
func keyOf(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}
