// Package model defines the core entities of the lead pipeline.
package model

import (
	"encoding/json"
	"time"
)

// WebsiteStatus classifies what kind of web presence a business already has.
type WebsiteStatus string

const (
	WebsiteNone       WebsiteStatus = "none"
	WebsiteSocialOnly WebsiteStatus = "social_only"
	WebsiteBroken     WebsiteStatus = "broken"
	WebsiteActive     WebsiteStatus = "active"
)

// Business is the central entity advancing through the pipeline.
type Business struct {
	ID         string `json:"id" db:"id"`
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	// Identity fields. Never overwritten once set.
	Name              string   `json:"name" db:"name"`
	NormalizedName    string   `json:"normalized_name" db:"normalized_name"`
	Category          string   `json:"category,omitempty" db:"category"`
	SecondaryCategory string   `json:"secondary_category,omitempty" db:"secondary_category"`
	Address           string   `json:"address,omitempty" db:"address"`
	City              string   `json:"city,omitempty" db:"city"`
	Neighborhood      string   `json:"neighborhood,omitempty" db:"neighborhood"`
	Latitude          *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude         *float64 `json:"longitude,omitempty" db:"longitude"`
	Phone             string   `json:"phone,omitempty" db:"phone"`
	NormalizedPhone   string   `json:"normalized_phone,omitempty" db:"normalized_phone"`
	Email             string   `json:"email,omitempty" db:"email"`

	// Signal fields. Overwritten on every re-scrape.
	Rating         float64       `json:"rating" db:"rating"`
	ReviewCount    int           `json:"review_count" db:"review_count"`
	PhotoCount     int           `json:"photo_count" db:"photo_count"`
	HasWebsite     bool          `json:"has_website" db:"has_website"`
	WebsiteURL     string        `json:"website_url,omitempty" db:"website_url"`
	WebsiteStatus  WebsiteStatus `json:"website_status" db:"website_status"`
	LastActivityAt *time.Time    `json:"last_activity_at,omitempty" db:"last_activity_at"`

	// Derived fields. Written only by the scorer and lifecycle controller.
	Score          int                `json:"score" db:"score"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty" db:"score_breakdown"`
	Status         Status             `json:"status" db:"status"`

	DiscoveredAt time.Time  `json:"discovered_at" db:"discovered_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty" db:"archived_at"`
}

// Signals is the subset of Business fields the scorer reads. Extracted so
// the score stays recomputable from stored fields alone.
type Signals struct {
	Rating         float64    `json:"rating"`
	ReviewCount    int        `json:"review_count"`
	PhotoCount     int        `json:"photo_count"`
	Category       string     `json:"category"`
	Neighborhood   string     `json:"neighborhood"`
	City           string     `json:"city"`
	HasPhone       bool       `json:"has_phone"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// SignalsOf extracts the scoring signals from a business.
func SignalsOf(b *Business) Signals {
	return Signals{
		Rating:         b.Rating,
		ReviewCount:    b.ReviewCount,
		PhotoCount:     b.PhotoCount,
		Category:       b.Category,
		Neighborhood:   b.Neighborhood,
		City:           b.City,
		HasPhone:       b.NormalizedPhone != "",
		LastActivityAt: b.LastActivityAt,
	}
}

// RawRecord is a scraped listing as handed over by the discovery collaborator.
type RawRecord struct {
	ExternalID    string          `json:"external_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category,omitempty"`
	Address       string          `json:"address,omitempty"`
	City          string          `json:"city,omitempty"`
	Neighborhood  string          `json:"neighborhood,omitempty"`
	Latitude      *float64        `json:"latitude,omitempty"`
	Longitude     *float64        `json:"longitude,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Email         string          `json:"email,omitempty"`
	Rating        float64         `json:"rating"`
	ReviewCount   int             `json:"review_count"`
	PhotoCount    int             `json:"photo_count"`
	HasWebsite    bool            `json:"has_website"`
	WebsiteURL    string          `json:"website_url,omitempty"`
	WebsiteStatus WebsiteStatus   `json:"website_status,omitempty"`
	PriceLevel    int             `json:"price_level,omitempty"`
	SocialMedia   map[string]string `json:"social_media,omitempty"`
	LastReviewAt  *time.Time      `json:"last_review_at,omitempty"`
	ScrapedAt     *time.Time      `json:"scraped_at,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// StatusTransition is one entry in the append-only status history.
type StatusTransition struct {
	BusinessID string    `json:"business_id" db:"business_id"`
	From       Status    `json:"from" db:"from_status"`
	To         Status    `json:"to" db:"to_status"`
	Actor      string    `json:"actor" db:"actor"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// StageAttempt tracks retry bookkeeping for one (business, stage) pair.
type StageAttempt struct {
	BusinessID    string     `json:"business_id" db:"business_id"`
	Stage         Stage      `json:"stage" db:"stage"`
	Attempts      int        `json:"attempts" db:"attempts"`
	Failed        bool       `json:"failed" db:"failed"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
}

// Website is the deploy-completion signal recorded for a business.
type Website struct {
	BusinessID string    `json:"business_id" db:"business_id"`
	URL        string    `json:"url" db:"url"`
	DeployedAt time.Time `json:"deployed_at" db:"deployed_at"`
}

// Outreach is one outreach-completion signal for a business.
type Outreach struct {
	BusinessID     string     `json:"business_id" db:"business_id"`
	SentAt         time.Time  `json:"sent_at" db:"sent_at"`
	FollowUpCount  int        `json:"follow_up_count" db:"follow_up_count"`
	NextFollowUpAt *time.Time `json:"next_follow_up_at,omitempty" db:"next_follow_up_at"`
	RespondedAt    *time.Time `json:"responded_at,omitempty" db:"responded_at"`
}

// FunnelReport is the current status distribution plus the count of
// businesses flagged for manual attention after exhausting stage retries.
type FunnelReport struct {
	Counts         map[Status]int `json:"counts"`
	NeedsAttention int            `json:"needs_attention"`
}
