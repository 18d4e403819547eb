package models

import "time"

// Herb is a reference record for one herb species.
type Herb struct {
	ID                 string    `gorm:"column:herb_id;primaryKey;type:varchar(50)"`
	Name               string    `gorm:"column:name;type:varchar(100);uniqueIndex;not null"`
	ScientificName     string    `gorm:"column:scientific_name;type:varchar(150)"`
	ConservationStatus string    `gorm:"column:conservation_status;type:varchar(50)"`
	HarvestSeason      string    `gorm:"column:harvest_season;type:varchar(100)"`
	ApprovedRegions    string    `gorm:"column:approved_regions;type:text"` // JSON array of named bounding boxes
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Actor is a role-tagged supply-chain party.
type Actor struct {
	ID          string    `gorm:"column:actor_id;primaryKey;type:varchar(50)"`
	Name        string    `gorm:"column:name;type:varchar(100);uniqueIndex;not null"`
	Role        string    `gorm:"column:role;type:varchar(20);not null"` // farmer, collector, processor, lab, manufacturer
	Location    string    `gorm:"column:location;type:varchar(150)"`
	ContactInfo string    `gorm:"column:contact_info;type:text"` // JSON object
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Event is one immutable, hash-linked supply-chain record. The composite
// unique index on (batch_id, previous_hash) is the conditional-insert guard:
// two events of one batch can never link to the same predecessor, so a lost
// head race surfaces as a duplicate-key error instead of a forked chain.
type Event struct {
	ID               string    `gorm:"column:event_id;primaryKey;type:varchar(50)"`
	BatchID          string    `gorm:"column:batch_id;type:varchar(64);not null;index:idx_events_batch_created,priority:1;uniqueIndex:idx_events_batch_prev,priority:1"`
	HerbID           string    `gorm:"column:herb_id;type:varchar(50);not null"`
	EventType        string    `gorm:"column:event_type;type:varchar(20);not null"`
	ActorID          string    `gorm:"column:actor_id;type:varchar(50);not null"`
	GPSCoordinates   *string   `gorm:"column:gps_coordinates;type:varchar(100)"` // "(lat,lng)" text
	Metadata         string    `gorm:"column:metadata;type:jsonb;not null"`
	Timestamp        time.Time `gorm:"column:timestamp;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index:idx_events_batch_created,priority:2"`
	PreviousHash     string    `gorm:"column:previous_hash;type:char(64);not null;uniqueIndex:idx_events_batch_prev,priority:2"`
	BlockHash        string    `gorm:"column:block_hash;type:char(64);not null"`
	IsValid          bool      `gorm:"column:is_valid;not null;default:true"`
	ValidationErrors string    `gorm:"column:validation_errors;type:text"` // JSON array of violation strings

	// Relationships
	Herb  *Herb  `gorm:"foreignKey:HerbID"`
	Actor *Actor `gorm:"foreignKey:ActorID"`
}

// Product is a finished, market-ready unit derived from a batch.
type Product struct {
	ID                string    `gorm:"column:product_id;primaryKey;type:varchar(50)"`
	QRCode            string    `gorm:"column:qr_code;type:varchar(100);uniqueIndex;not null"`
	ProductName       string    `gorm:"column:product_name;type:varchar(150);not null"`
	BatchID           string    `gorm:"column:batch_id;type:varchar(64);not null"`
	HerbID            string    `gorm:"column:herb_id;type:varchar(50);not null"`
	ManufacturerID    string    `gorm:"column:manufacturer_id;type:varchar(50);not null"`
	ManufacturingDate time.Time `gorm:"column:manufacturing_date;not null"`
	ExpiryDate        time.Time `gorm:"column:expiry_date"`
	FinalTestsPassed  bool      `gorm:"column:final_tests_passed;not null;default:false"`
	ChainHash         string    `gorm:"column:chain_hash;type:char(64);not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`

	// Relationships
	Herb         *Herb  `gorm:"foreignKey:HerbID"`
	Manufacturer *Actor `gorm:"foreignKey:ManufacturerID"`
}
