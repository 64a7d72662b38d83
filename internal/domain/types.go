// Package domain holds the core record types shared across the pipeline.
package domain

import "time"

// House identifies which chamber of Parliament a sitting belongs to.
type House string

const (
	HouseNationalAssembly House = "national assembly"
	HouseSenate           House = "senate"
	HouseAll              House = "all"
	HouseUnspecified      House = "unspecified"
)

// Candidate is a scraped, pre-metadata-resolution stream reference: enough
// to decide whether it is new, but not yet enriched with a transcript or
// summary.
type Candidate struct {
	VideoID           string
	Title             string
	ViewCount         string
	PublishedRelative string
	Duration          string
}

// StreamRecord is the persisted representation of one processed sitting.
type StreamRecord struct {
	VideoID         string
	Title           string
	ViewCount       string
	StreamTimestamp time.Time
	Duration        string
	SummaryMD       *string
	TimestampMD     *string
	IsPublished     bool
	// House is derived from Title by the storage backend; callers never set it.
	House House
}
