package scorer

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// defaultKey is the fallback entry in the category and location tables.
const defaultKey = "default"

// Weights holds the component bands and lookup tables for the composite
// score. Component maxima must sum to 100.
type Weights struct {
	ReviewMax   float64 `yaml:"review_max"`
	RatingMax   float64 `yaml:"rating_max"`
	PhotoMax    float64 `yaml:"photo_max"`
	CategoryMax float64 `yaml:"category_max"`
	LocationMax float64 `yaml:"location_max"`
	ContactMax  float64 `yaml:"contact_max"`
	ActivityMax float64 `yaml:"activity_max"`

	ActivityWindowMonths int `yaml:"activity_window_months"`

	// CategoryWeights maps a vertical to its conversion multiplier,
	// 0 to 1.5. Values of 1.0 and above saturate the category band.
	CategoryWeights map[string]float64 `yaml:"category_weights"`

	// LocationTiers maps a neighborhood or city key to its commercial
	// tier. Normalized against the top tier at scoring time.
	LocationTiers map[string]float64 `yaml:"location_tiers"`

	QualificationThreshold int `yaml:"qualification_threshold"`
	ReviewTierMin          int `yaml:"review_tier_min"`
}

// DefaultWeights returns the production weight tables. Component maxima
// sum to 100.
func DefaultWeights() Weights {
	return Weights{
		ReviewMax:   20,
		RatingMax:   15,
		PhotoMax:    10,
		CategoryMax: 25,
		LocationMax: 15,
		ContactMax:  10,
		ActivityMax: 5,

		ActivityWindowMonths: 12,

		CategoryWeights: map[string]float64{
			"restaurant":  1.3,
			"restaurante": 1.3,
			"cafe":        1.2,
			"bakery":      1.1,
			"panaderia":   1.1,
			"salon":       1.4,
			"peluqueria":  1.4,
			"barber":      1.3,
			"dental":      1.5,
			"clinic":      1.2,
			"gym":         1.1,
			"hotel":       0.9,
			"pharmacy":    0.7,
			"farmacia":    0.7,
			defaultKey:    0.8,
		},

		LocationTiers: map[string]float64{
			"villa_morra":     1.2,
			"carmelitas":      1.1,
			"recoleta":        1.05,
			"asuncion_centro": 1.0,
			"asuncion":        1.0,
			"lambare":         0.85,
			"luque":           0.8,
			"san_lorenzo":     0.8,
			defaultKey:        0.75,
		},

		QualificationThreshold: 50,
		ReviewTierMin:          35,
	}
}

// LoadWeightsFile overlays the yaml weights file at path onto w. Only the
// keys present in the file are replaced; an empty path is a no-op.
func LoadWeightsFile(path string, w *Weights) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "scorer: read weights file")
	}

	var overlay Weights
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return eris.Wrap(err, "scorer: parse weights file")
	}

	bands := []struct {
		dst *float64
		src float64
	}{
		{&w.ReviewMax, overlay.ReviewMax},
		{&w.RatingMax, overlay.RatingMax},
		{&w.PhotoMax, overlay.PhotoMax},
		{&w.CategoryMax, overlay.CategoryMax},
		{&w.LocationMax, overlay.LocationMax},
		{&w.ContactMax, overlay.ContactMax},
		{&w.ActivityMax, overlay.ActivityMax},
	}
	for _, band := range bands {
		if band.src > 0 {
			*band.dst = band.src
		}
	}
	if overlay.ActivityWindowMonths > 0 {
		w.ActivityWindowMonths = overlay.ActivityWindowMonths
	}
	if overlay.QualificationThreshold > 0 {
		w.QualificationThreshold = overlay.QualificationThreshold
	}
	if overlay.ReviewTierMin > 0 {
		w.ReviewTierMin = overlay.ReviewTierMin
	}
	for k, v := range overlay.CategoryWeights {
		w.CategoryWeights[strings.ToLower(k)] = v
	}
	for k, v := range overlay.LocationTiers {
		w.LocationTiers[strings.ToLower(k)] = v
	}

	return ValidateWeights(*w)
}

// ValidateWeights checks that a weight table is internally consistent.
func ValidateWeights(w Weights) error {
	var errs []string

	bands := map[string]float64{
		"review_max":   w.ReviewMax,
		"rating_max":   w.RatingMax,
		"photo_max":    w.PhotoMax,
		"category_max": w.CategoryMax,
		"location_max": w.LocationMax,
		"contact_max":  w.ContactMax,
		"activity_max": w.ActivityMax,
	}
	var sum float64
	for name, band := range bands {
		if band < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
		sum += band
	}

	// Bands must sum to 100 so the composite stays a percentage.
	if math.Abs(sum-100) > 1 {
		errs = append(errs, fmt.Sprintf("component bands should sum to 100, got %.1f", sum))
	}

	for name, weight := range w.CategoryWeights {
		if weight < 0 || weight > 1.5 {
			errs = append(errs, fmt.Sprintf("category weight %q must be between 0 and 1.5", name))
		}
	}
	if _, ok := w.CategoryWeights[defaultKey]; !ok {
		errs = append(errs, "category_weights must include a default entry")
	}

	for name, tier := range w.LocationTiers {
		if tier <= 0 {
			errs = append(errs, fmt.Sprintf("location tier %q must be > 0", name))
		}
	}
	if _, ok := w.LocationTiers[defaultKey]; !ok {
		errs = append(errs, "location_tiers must include a default entry")
	}

	if w.ActivityWindowMonths <= 0 {
		errs = append(errs, "activity_window_months must be > 0")
	}
	if w.QualificationThreshold < 0 || w.QualificationThreshold > 100 {
		errs = append(errs, "qualification_threshold must be between 0 and 100")
	}
	if w.ReviewTierMin < 0 || w.ReviewTierMin > w.QualificationThreshold {
		errs = append(errs, "review_tier_min must be between 0 and qualification_threshold")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: weights validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
