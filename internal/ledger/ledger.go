package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tune the ledger service.
type Options struct {
	// MaxAppendAttempts bounds the optimistic-concurrency retry loop.
	MaxAppendAttempts int
	// ShelfLifeYears sets product expiry relative to the manufacturing date.
	ShelfLifeYears int
}

// Service owns the append semantics of the event chain and the privileged
// product-creation operation layered on top of it.
type Service struct {
	store       Store
	engine      *Engine
	maxAttempts int
	shelfYears  int
	log         *zap.Logger
	now         func() time.Time
}

// NewService creates the ledger service.
func NewService(store Store, engine *Engine, opts Options, log *zap.Logger) *Service {
	maxAttempts := opts.MaxAppendAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	shelfYears := opts.ShelfLifeYears
	if shelfYears < 1 {
		shelfYears = 2
	}
	return &Service{
		store:       store,
		engine:      engine,
		maxAttempts: maxAttempts,
		shelfYears:  shelfYears,
		log:         log,
		now:         time.Now,
	}
}

// AppendRequest describes one event to add to a batch chain.
type AppendRequest struct {
	BatchID   string
	EventType EventType
	// HerbName anchors a harvest event to its species; later events inherit
	// the herb from the batch head.
	HerbName    string
	ActorName   string
	Coordinates *Coordinates
	Metadata    Metadata
	// Timestamp is the event occurrence time; zero means now.
	Timestamp time.Time
}

// AppendEvent appends one event to the batch chain: resolve the head,
// validate, compute the block hash against the head's hash, and insert
// conditionally. Concurrent appends to the same batch race on the
// (batch, previous hash) link; the loser re-reads the head and retries up
// to the bounded attempt budget before surfacing SequenceConflictError.
//
// Validation failures do not abort the append: the event is persisted
// flagged invalid, with its violation list, preserving the audit trail.
func (s *Service) AppendEvent(ctx context.Context, req AppendRequest) (*Event, error) {
	if req.BatchID == "" {
		return nil, &MissingFieldError{Field: "batch_id"}
	}
	if req.ActorName == "" {
		return nil, &MissingFieldError{Field: "actor_name"}
	}
	if req.EventType == "" {
		return nil, &MissingFieldError{Field: "event_type"}
	}

	actor, err := s.store.FindActorByName(ctx, req.ActorName)
	if err != nil {
		return nil, fmt.Errorf("look up actor: %w", err)
	}
	if actor == nil {
		return nil, &NotFoundError{Resource: "actor", Key: req.ActorName}
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		head, err := s.store.LatestEvent(ctx, req.BatchID)
		if err != nil {
			return nil, fmt.Errorf("resolve batch head: %w", err)
		}

		herb, err := s.resolveHerb(ctx, req, head)
		if err != nil {
			return nil, err
		}

		candidate := s.buildCandidate(req, actor, herb)

		isValid, violations, err := s.engine.Validate(candidate, head, herb)
		if err != nil {
			return nil, err
		}
		candidate.IsValid = isValid
		candidate.ValidationErrors = violations

		prevHash := GenesisHash
		if head != nil {
			prevHash = head.BlockHash
		}
		candidate.PreviousHash = prevHash
		candidate.BlockHash = ComputeHash(
			candidate.EventType, candidate.BatchID, candidate.ActorID,
			candidate.Metadata, candidate.Timestamp, prevHash,
		)

		err = s.store.InsertEvent(ctx, candidate)
		if err == nil {
			if !isValid {
				s.log.Warn("appended invalid event",
					zap.String("batch_id", candidate.BatchID),
					zap.String("event_id", candidate.ID),
					zap.Strings("violations", violations),
				)
			}
			return candidate, nil
		}
		if errors.Is(err, ErrHeadConflict) {
			s.log.Info("append lost head race, retrying",
				zap.String("batch_id", req.BatchID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return nil, &SequenceConflictError{BatchID: req.BatchID, Attempts: s.maxAttempts}
}

// resolveHerb anchors the candidate to a species: harvest events name the
// herb explicitly, everything later inherits it from the batch head.
func (s *Service) resolveHerb(ctx context.Context, req AppendRequest, head *Event) (*Herb, error) {
	if req.EventType == EventHarvest {
		if req.HerbName == "" {
			return nil, &MissingFieldError{Field: "herb_name"}
		}
		herb, err := s.store.FindHerbByName(ctx, req.HerbName)
		if err != nil {
			return nil, fmt.Errorf("look up herb: %w", err)
		}
		if herb == nil {
			return nil, &NotFoundError{Resource: "herb", Key: req.HerbName}
		}
		return herb, nil
	}

	if head == nil {
		return nil, &NotFoundError{Resource: "batch", Key: req.BatchID}
	}
	herb, err := s.store.FindHerbByID(ctx, head.HerbID)
	if err != nil {
		return nil, fmt.Errorf("look up herb: %w", err)
	}
	if herb == nil {
		return nil, &NotFoundError{Resource: "herb", Key: head.HerbID}
	}
	return herb, nil
}

// buildCandidate assembles the event record, merging the type-specific
// metadata defaults and computed fields.
func (s *Service) buildCandidate(req AppendRequest, actor *Actor, herb *Herb) *Event {
	// timestamptz keeps microsecond precision, so anything finer in the hash
	// input would break recomputation after a round trip through the store.
	now := s.now().Truncate(time.Microsecond)
	ts := req.Timestamp.Truncate(time.Microsecond)
	if ts.IsZero() {
		ts = now
	}

	md := Metadata{}
	for k, v := range req.Metadata {
		md[k] = v
	}

	switch req.EventType {
	case EventHarvest:
		setDefault(md, "temperature", "25°C")
		setDefault(md, "humidity", "60%")
		setDefault(md, "soil_condition", "Good")
	case EventProcessing:
		setDefault(md, "processing_method", "Drying")
		setDefault(md, "temperature", "40°C")
		setDefault(md, "duration", "24 hours")
	case EventQualityTest:
		passed, _ := s.engine.EvaluateQuality(md)
		md["test_result"] = "fail"
		if passed {
			md["test_result"] = "pass"
		}
		md["test_date"] = ts.UTC().Format(time.RFC3339)
		setDefault(md, "certificate_number", fmt.Sprintf("CERT-%s-%d", req.BatchID, now.UnixMilli()))
	case EventManufacturing:
		setDefault(md, "manufacturing_date", ts.UTC().Format(time.RFC3339))
	}

	return &Event{
		ID:          fmt.Sprintf("EVT-%s", uuid.New().String()[:8]),
		BatchID:     req.BatchID,
		HerbID:      herb.ID,
		EventType:   req.EventType,
		ActorID:     actor.ID,
		Coordinates: req.Coordinates,
		Metadata:    md,
		Timestamp:   ts,
		CreatedAt:   now,
	}
}

func setDefault(md Metadata, key string, value interface{}) {
	if _, ok := md[key]; !ok {
		md[key] = value
	}
}

// CreateProductRequest describes the privileged finished-product operation.
type CreateProductRequest struct {
	BatchID          string
	ProductName      string
	ManufacturerName string
	BatchSize        string
	Formulation      string
}

// CreateProduct turns a batch into a finished, market-ready product. It
// refuses with QualityGateError unless the batch's latest quality test was
// valid and passed, appends the terminal manufacturing event, and persists
// the product with its generated traceability code.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error) {
	if req.BatchID == "" {
		return nil, &MissingFieldError{Field: "batch_id"}
	}
	if req.ProductName == "" {
		return nil, &MissingFieldError{Field: "product_name"}
	}

	manufacturer, err := s.store.FindActorByName(ctx, req.ManufacturerName)
	if err != nil {
		return nil, fmt.Errorf("look up manufacturer: %w", err)
	}
	if manufacturer == nil {
		return nil, &NotFoundError{Resource: "actor", Key: req.ManufacturerName}
	}

	events, err := s.store.ListEvents(ctx, req.BatchID)
	if err != nil {
		return nil, fmt.Errorf("load batch chain: %w", err)
	}
	if len(events) == 0 {
		return nil, &NoEventsError{BatchID: req.BatchID}
	}

	if err := s.checkQualityGate(req.BatchID, events); err != nil {
		return nil, err
	}

	now := s.now()
	code := fmt.Sprintf("QR-%s-%d", req.BatchID, now.UnixMilli())

	batchSize := req.BatchSize
	if batchSize == "" {
		batchSize = "1000 units"
	}
	formulation := req.Formulation
	if formulation == "" {
		formulation = "Capsules"
	}

	mfgEvent, err := s.AppendEvent(ctx, AppendRequest{
		BatchID:   req.BatchID,
		EventType: EventManufacturing,
		ActorName: req.ManufacturerName,
		Metadata: Metadata{
			"product_name":       req.ProductName,
			"manufacturing_date": now.UTC().Format(time.RFC3339),
			"qr_code":            code,
			"batch_size":         batchSize,
			"formulation":        formulation,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("append manufacturing event: %w", err)
	}

	product := &Product{
		ID:                fmt.Sprintf("PRD-%s", uuid.New().String()[:8]),
		Code:              code,
		Name:              req.ProductName,
		BatchID:           req.BatchID,
		HerbID:            mfgEvent.HerbID,
		ManufacturerID:    manufacturer.ID,
		ManufacturingDate: now,
		ExpiryDate:        now.AddDate(s.shelfYears, 0, 0),
		FinalTestsPassed:  true,
		ChainHash:         mfgEvent.BlockHash,
		CreatedAt:         now,
	}
	if err := s.store.InsertProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}

	s.log.Info("product created",
		zap.String("batch_id", req.BatchID),
		zap.String("qr_code", code),
		zap.String("chain_hash", product.ChainHash),
	)
	return product, nil
}

// checkQualityGate enforces the product precondition: the latest quality
// test on the chain must exist, be valid, and have passed.
func (s *Service) checkQualityGate(batchID string, events []Event) error {
	var latest *Event
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == EventQualityTest {
			latest = &events[i]
			break
		}
	}
	if latest == nil {
		return &QualityGateError{BatchID: batchID, Reason: "no quality test recorded"}
	}
	if !latest.IsValid || testResult(latest.Metadata) != "pass" {
		return &QualityGateError{BatchID: batchID, Reason: "latest quality test failed"}
	}
	return nil
}

// Herbs lists the herb reference catalog.
func (s *Service) Herbs(ctx context.Context) ([]Herb, error) {
	return s.store.ListHerbs(ctx)
}

// Stats aggregates ledger-wide counters for dashboards.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.store.Stats(ctx)
}
