// Package ledger implements the append-only, per-batch hash chain of
// supply-chain events: content hashing, business-rule validation, append
// semantics with optimistic concurrency, and provenance reconstruction.
package ledger

import "time"

// EventType identifies one lifecycle step of a batch.
type EventType string

// Known event types, in their logical lifecycle order.
const (
	EventHarvest       EventType = "harvest"
	EventCollection    EventType = "collection"
	EventProcessing    EventType = "processing"
	EventQualityTest   EventType = "quality_test"
	EventManufacturing EventType = "manufacturing"
)

// Known reports whether t is a member of the closed event-type set.
func (t EventType) Known() bool {
	switch t {
	case EventHarvest, EventCollection, EventProcessing, EventQualityTest, EventManufacturing:
		return true
	}
	return false
}

// Coordinates is a GPS position attached to an event.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Metadata is the type-dependent key/value payload of an event.
type Metadata map[string]interface{}

// Event is one immutable, hash-linked record of a lifecycle step for a batch.
// Events are created only by Service.AppendEvent and never updated or deleted.
type Event struct {
	ID               string       `json:"id"`
	BatchID          string       `json:"batch_id"`
	HerbID           string       `json:"herb_id"`
	EventType        EventType    `json:"event_type"`
	ActorID          string       `json:"actor_id"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
	Metadata         Metadata     `json:"metadata"`
	Timestamp        time.Time    `json:"timestamp"`
	CreatedAt        time.Time    `json:"created_at"`
	PreviousHash     string       `json:"previous_hash"`
	BlockHash        string       `json:"block_hash"`
	IsValid          bool         `json:"is_valid"`
	ValidationErrors []string     `json:"validation_errors,omitempty"`
}

// Actor is a role-tagged party acting on the supply chain.
type Actor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Role     string   `json:"role"` // farmer, collector, processor, lab, manufacturer
	Location string   `json:"location,omitempty"`
	Contact  Metadata `json:"contact_info,omitempty"`
}

// Region is a named bounding box an approved harvest may fall inside.
type Region struct {
	Name   string  `json:"name"`
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether c falls inside the region.
func (r Region) Contains(c Coordinates) bool {
	return c.Lat >= r.MinLat && c.Lat <= r.MaxLat &&
		c.Lng >= r.MinLng && c.Lng <= r.MaxLng
}

// Herb is a reference record for one herb species.
type Herb struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	ScientificName     string   `json:"scientific_name,omitempty"`
	ConservationStatus string   `json:"conservation_status,omitempty"`
	HarvestSeason      string   `json:"harvest_season,omitempty"`
	ApprovedRegions    []Region `json:"approved_regions,omitempty"`
}

// Product is a finished, market-ready unit derived from a batch whose chain
// reached a manufacturing event with the quality gate passed.
type Product struct {
	ID                string    `json:"id"`
	Code              string    `json:"qr_code"`
	Name              string    `json:"product_name"`
	BatchID           string    `json:"batch_id"`
	HerbID            string    `json:"herb_id"`
	ManufacturerID    string    `json:"manufacturer_id"`
	ManufacturingDate time.Time `json:"manufacturing_date"`
	ExpiryDate        time.Time `json:"expiry_date"`
	FinalTestsPassed  bool      `json:"final_tests_passed"`
	ChainHash         string    `json:"chain_hash"`
	CreatedAt         time.Time `json:"created_at"`
}

// Stats is an aggregate snapshot of the ledger, for dashboards.
type Stats struct {
	TotalBatches  int64            `json:"total_batches"`
	TotalEvents   int64            `json:"total_events"`
	TotalProducts int64            `json:"total_products"`
	InvalidEvents int64            `json:"invalid_events"`
	EventsByType  map[string]int64 `json:"events_by_type"`
	QualityPassed int64            `json:"quality_tests_passed"`
	QualityFailed int64            `json:"quality_tests_failed"`
}
