// Package repository implements the ledger's persistence interface on
// PostgreSQL via GORM.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/herbtrace/herbtrace/internal/ledger"
	"github.com/herbtrace/herbtrace/internal/pkg/logger"
	"github.com/herbtrace/herbtrace/internal/repository/models"
)

// RepositoryError represents repository layer errors.
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Detail)
}

// Repository handles all database operations for the traceability service.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance.
func NewRepository() *Repository {
	return &Repository{}
}

// ConnectDB establishes the database connection with bounded retries.
func (r *Repository) ConnectDB(dsn string, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		logger.Info("connecting to database", zap.Int("attempt", i+1))
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			logger.Warn("database connection failed", zap.Int("attempt", i+1), zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = db
		logger.Info("connected to database")
		return nil
	}
	return fmt.Errorf("failed to connect to database after %d attempts", attempts)
}

// Migrate performs database schema migrations.
func (r *Repository) Migrate() error {
	logger.Info("running database migrations")

	// Order matters due to foreign keys
	tables := []interface{}{
		&models.Herb{},
		&models.Actor{},
		&models.Event{},
		&models.Product{},
	}
	if err := r.db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	logger.Info("database migrations completed")
	return nil
}

// Seed initializes the herb and actor reference tables with test data.
func (r *Repository) Seed() {
	var herbCount int64
	r.db.Model(&models.Herb{}).Count(&herbCount)
	if herbCount > 0 {
		logger.Info("seed data already exists, skipping")
		return
	}

	logger.Info("seeding reference data")

	herbs := []models.Herb{
		{
			ID:                 "HRB-001",
			Name:               "Ashwagandha",
			ScientificName:     "Withania somnifera",
			ConservationStatus: "Least Concern",
			HarvestSeason:      "October - December",
			ApprovedRegions:    mustJSON([]ledger.Region{{Name: "Madhya Pradesh", MinLat: 21.0, MaxLat: 26.9, MinLng: 74.0, MaxLng: 82.8}, {Name: "Rajasthan", MinLat: 23.0, MaxLat: 30.2, MinLng: 69.5, MaxLng: 78.3}}),
		},
		{
			ID:                 "HRB-002",
			Name:               "Turmeric",
			ScientificName:     "Curcuma longa",
			ConservationStatus: "Least Concern",
			HarvestSeason:      "January - March",
			ApprovedRegions:    mustJSON([]ledger.Region{{Name: "Kerala", MinLat: 8.2, MaxLat: 12.8, MinLng: 74.9, MaxLng: 77.4}, {Name: "Tamil Nadu", MinLat: 8.1, MaxLat: 13.6, MinLng: 76.2, MaxLng: 80.3}}),
		},
		{
			ID:                 "HRB-003",
			Name:               "Tulsi",
			ScientificName:     "Ocimum tenuiflorum",
			ConservationStatus: "Least Concern",
			HarvestSeason:      "Year round",
			ApprovedRegions:    mustJSON([]ledger.Region{{Name: "Uttar Pradesh", MinLat: 23.9, MaxLat: 30.4, MinLng: 77.1, MaxLng: 84.6}}),
		},
		{
			ID:                 "HRB-004",
			Name:               "Brahmi",
			ScientificName:     "Bacopa monnieri",
			ConservationStatus: "Vulnerable",
			HarvestSeason:      "June - September",
			ApprovedRegions:    mustJSON([]ledger.Region{{Name: "West Bengal", MinLat: 21.5, MaxLat: 27.2, MinLng: 85.8, MaxLng: 89.9}}),
		},
	}
	for _, herb := range herbs {
		r.db.Create(&herb)
	}

	actors := []models.Actor{
		{ID: "ACT-001", Name: "Ramesh Kumar", Role: "farmer", Location: "Neemuch, Madhya Pradesh"},
		{ID: "ACT-002", Name: "Sita Devi", Role: "farmer", Location: "Erode, Tamil Nadu"},
		{ID: "ACT-003", Name: "Green Valley Collectors", Role: "collector", Location: "Indore, Madhya Pradesh"},
		{ID: "ACT-004", Name: "Himalaya Processing Unit", Role: "processor", Location: "Dehradun, Uttarakhand"},
		{ID: "ACT-005", Name: "AyurLab Quality Services", Role: "lab", Location: "Bengaluru, Karnataka"},
		{ID: "ACT-006", Name: "Vedic Wellness Pharma", Role: "manufacturer", Location: "Mumbai, Maharashtra"},
	}
	for _, actor := range actors {
		r.db.Create(&actor)
	}

	logger.Info("reference data seeding completed")
}

// InsertEvent persists one chain event. The unique (batch_id, previous_hash)
// index turns a lost head race into a duplicate-key error, reported to the
// ledger as ErrHeadConflict for its retry loop.
func (r *Repository) InsertEvent(ctx context.Context, ev *ledger.Event) error {
	record, err := eventToModel(ev)
	if err != nil {
		return &RepositoryError{Code: "ENCODE_FAILED", Message: "Failed to encode event", Detail: err.Error()}
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("insert event for batch %s: %w", ev.BatchID, ledger.ErrHeadConflict)
		}
		return &RepositoryError{Code: "CREATE_FAILED", Message: "Failed to insert event", Detail: err.Error()}
	}
	return nil
}

// LatestEvent returns the batch head, or nil when the batch has no chain.
func (r *Repository) LatestEvent(ctx context.Context, batchID string) (*ledger.Event, error) {
	var record models.Event
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	return eventFromModel(&record)
}

// ListEvents returns all events of a batch ascending by creation time.
func (r *Repository) ListEvents(ctx context.Context, batchID string) ([]ledger.Event, error) {
	var records []models.Event
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}

	events := make([]ledger.Event, 0, len(records))
	for _, record := range records {
		ev, err := eventFromModel(&record)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, nil
}

// FindHerbByName looks up one herb by its display name.
func (r *Repository) FindHerbByName(ctx context.Context, name string) (*ledger.Herb, error) {
	var record models.Herb
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	return herbFromModel(&record)
}

// FindHerbByID looks up one herb by id.
func (r *Repository) FindHerbByID(ctx context.Context, id string) (*ledger.Herb, error) {
	var record models.Herb
	err := r.db.WithContext(ctx).Where("herb_id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	return herbFromModel(&record)
}

// ListHerbs returns the herb reference catalog.
func (r *Repository) ListHerbs(ctx context.Context) ([]ledger.Herb, error) {
	var records []models.Herb
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&records).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	herbs := make([]ledger.Herb, 0, len(records))
	for _, record := range records {
		herb, err := herbFromModel(&record)
		if err != nil {
			return nil, err
		}
		herbs = append(herbs, *herb)
	}
	return herbs, nil
}

// FindActorByName looks up one actor by display name.
func (r *Repository) FindActorByName(ctx context.Context, name string) (*ledger.Actor, error) {
	var record models.Actor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	return actorFromModel(&record), nil
}

// ActorsByIDs resolves actor display info for provenance enrichment.
func (r *Repository) ActorsByIDs(ctx context.Context, ids []string) (map[string]ledger.Actor, error) {
	if len(ids) == 0 {
		return map[string]ledger.Actor{}, nil
	}
	var records []models.Actor
	if err := r.db.WithContext(ctx).Where("actor_id IN ?", ids).Find(&records).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	actors := make(map[string]ledger.Actor, len(records))
	for _, record := range records {
		actors[record.ID] = *actorFromModel(&record)
	}
	return actors, nil
}

// FindProductByCode looks up a product by traceability code, nil if absent.
func (r *Repository) FindProductByCode(ctx context.Context, code string) (*ledger.Product, error) {
	var record models.Product
	err := r.db.WithContext(ctx).Where("qr_code = ?", code).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	return productFromModel(&record), nil
}

// InsertProduct persists a newly created product.
func (r *Repository) InsertProduct(ctx context.Context, p *ledger.Product) error {
	record := &models.Product{
		ID:                p.ID,
		QRCode:            p.Code,
		ProductName:       p.Name,
		BatchID:           p.BatchID,
		HerbID:            p.HerbID,
		ManufacturerID:    p.ManufacturerID,
		ManufacturingDate: p.ManufacturingDate,
		ExpiryDate:        p.ExpiryDate,
		FinalTestsPassed:  p.FinalTestsPassed,
		ChainHash:         p.ChainHash,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return &RepositoryError{Code: "CREATE_FAILED", Message: "Failed to insert product", Detail: err.Error()}
	}
	return nil
}

// Stats aggregates ledger-wide counters for dashboards.
func (r *Repository) Stats(ctx context.Context) (*ledger.Stats, error) {
	db := r.db.WithContext(ctx)
	stats := &ledger.Stats{EventsByType: map[string]int64{}}

	if err := db.Model(&models.Event{}).Distinct("batch_id").Count(&stats.TotalBatches).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	if err := db.Model(&models.Event{}).Count(&stats.TotalEvents).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	if err := db.Model(&models.Product{}).Count(&stats.TotalProducts).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	if err := db.Model(&models.Event{}).Where("is_valid = ?", false).Count(&stats.InvalidEvents).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}

	type typeCount struct {
		EventType string
		Count     int64
	}
	var counts []typeCount
	if err := db.Model(&models.Event{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&counts).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	for _, c := range counts {
		stats.EventsByType[c.EventType] = c.Count
	}

	if err := db.Model(&models.Event{}).
		Where("event_type = ? AND metadata->>'test_result' = ?", string(ledger.EventQualityTest), "pass").
		Count(&stats.QualityPassed).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}
	if err := db.Model(&models.Event{}).
		Where("event_type = ? AND metadata->>'test_result' = ?", string(ledger.EventQualityTest), "fail").
		Count(&stats.QualityFailed).Error; err != nil {
		return nil, &RepositoryError{Code: "DATABASE_ERROR", Message: "Database error", Detail: err.Error()}
	}

	return stats, nil
}

// --- model conversions ---

func eventToModel(ev *ledger.Event) (*models.Event, error) {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	violations, err := json.Marshal(ev.ValidationErrors)
	if err != nil {
		return nil, fmt.Errorf("marshal validation errors: %w", err)
	}

	record := &models.Event{
		ID:               ev.ID,
		BatchID:          ev.BatchID,
		HerbID:           ev.HerbID,
		EventType:        string(ev.EventType),
		ActorID:          ev.ActorID,
		Metadata:         string(metadata),
		Timestamp:        ev.Timestamp,
		CreatedAt:        ev.CreatedAt,
		PreviousHash:     ev.PreviousHash,
		BlockHash:        ev.BlockHash,
		IsValid:          ev.IsValid,
		ValidationErrors: string(violations),
	}
	if ev.Coordinates != nil {
		point := ledger.FormatPoint(*ev.Coordinates)
		record.GPSCoordinates = &point
	}
	return record, nil
}

func eventFromModel(record *models.Event) (*ledger.Event, error) {
	var metadata ledger.Metadata
	if record.Metadata != "" {
		if err := json.Unmarshal([]byte(record.Metadata), &metadata); err != nil {
			return nil, &RepositoryError{Code: "DECODE_FAILED", Message: "Failed to decode event metadata", Detail: err.Error()}
		}
	}
	var violations []string
	if record.ValidationErrors != "" {
		if err := json.Unmarshal([]byte(record.ValidationErrors), &violations); err != nil {
			return nil, &RepositoryError{Code: "DECODE_FAILED", Message: "Failed to decode validation errors", Detail: err.Error()}
		}
	}

	ev := &ledger.Event{
		ID:               record.ID,
		BatchID:          record.BatchID,
		HerbID:           record.HerbID,
		EventType:        ledger.EventType(record.EventType),
		ActorID:          record.ActorID,
		Metadata:         metadata,
		Timestamp:        record.Timestamp,
		CreatedAt:        record.CreatedAt,
		PreviousHash:     record.PreviousHash,
		BlockHash:        record.BlockHash,
		IsValid:          record.IsValid,
		ValidationErrors: violations,
	}
	if record.GPSCoordinates != nil {
		// Malformed points drop to absent rather than failing the read.
		if coords, ok := ledger.ParsePoint(*record.GPSCoordinates); ok {
			ev.Coordinates = coords
		}
	}
	return ev, nil
}

func herbFromModel(record *models.Herb) (*ledger.Herb, error) {
	herb := &ledger.Herb{
		ID:                 record.ID,
		Name:               record.Name,
		ScientificName:     record.ScientificName,
		ConservationStatus: record.ConservationStatus,
		HarvestSeason:      record.HarvestSeason,
	}
	if record.ApprovedRegions != "" {
		if err := json.Unmarshal([]byte(record.ApprovedRegions), &herb.ApprovedRegions); err != nil {
			return nil, &RepositoryError{Code: "DECODE_FAILED", Message: "Failed to decode approved regions", Detail: err.Error()}
		}
	}
	return herb, nil
}

func actorFromModel(record *models.Actor) *ledger.Actor {
	actor := &ledger.Actor{
		ID:       record.ID,
		Name:     record.Name,
		Role:     record.Role,
		Location: record.Location,
	}
	if record.ContactInfo != "" {
		// Contact info is display-only; a decode failure just hides it.
		_ = json.Unmarshal([]byte(record.ContactInfo), &actor.Contact)
	}
	return actor
}

func productFromModel(record *models.Product) *ledger.Product {
	return &ledger.Product{
		ID:                record.ID,
		Code:              record.QRCode,
		Name:              record.ProductName,
		BatchID:           record.BatchID,
		HerbID:            record.HerbID,
		ManufacturerID:    record.ManufacturerID,
		ManufacturingDate: record.ManufacturingDate,
		ExpiryDate:        record.ExpiryDate,
		FinalTestsPassed:  record.FinalTestsPassed,
		ChainHash:         record.ChainHash,
		CreatedAt:         record.CreatedAt,
	}
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
