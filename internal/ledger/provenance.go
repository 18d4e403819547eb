package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProvenanceView is the reconstructed, ordered, UI-ready representation of a
// batch's full event chain plus summary.
type ProvenanceView struct {
	Product *ProductView    `json:"product,omitempty"`
	Herb    *Herb           `json:"herb,omitempty"`
	Events  []TimelineEvent `json:"events"`
	Summary Summary         `json:"summary"`
	// Warnings carries chain-integrity findings. They are surfaced here as
	// a read-time signal rather than failing the query: the data stays
	// inspectable even when the chain does not verify.
	Warnings []string `json:"warnings,omitempty"`
}

// ProductView is the product header of a provenance response.
type ProductView struct {
	ID                string    `json:"id"`
	Name              string    `json:"product_name"`
	BatchID           string    `json:"batch_id"`
	Code              string    `json:"qr_code"`
	ManufacturingDate time.Time `json:"manufacturing_date"`
	ExpiryDate        time.Time `json:"expiry_date"`
	FinalTestsPassed  bool      `json:"final_tests_passed"`
}

// TimelineEvent is one chain event enriched with actor display info.
type TimelineEvent struct {
	Event
	Actor *Actor `json:"actor,omitempty"`
}

// Summary is the derived batch-level roll-up.
type Summary struct {
	TotalEvents int `json:"total_events"`
	// HarvestDate is the first harvest event's timestamp, when present.
	HarvestDate *time.Time `json:"harvest_date,omitempty"`
	// QualityTestsPassed is true only if every quality test passed.
	QualityTestsPassed bool `json:"quality_tests_passed"`
	// IsValidBatch is true only if every event validated cleanly.
	IsValidBatch bool `json:"is_valid_batch"`
}

// GetProvenance reconstructs the journey of a batch. The identifier is
// either a product traceability code or a bare batch id; NotFoundError when
// neither resolves.
func (s *Service) GetProvenance(ctx context.Context, identifier string) (*ProvenanceView, error) {
	if identifier == "" {
		return nil, &MissingFieldError{Field: "identifier"}
	}

	batchID := identifier
	var productView *ProductView

	product, err := s.store.FindProductByCode(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("look up product: %w", err)
	}
	if product != nil {
		batchID = product.BatchID
		productView = &ProductView{
			ID:                product.ID,
			Name:              product.Name,
			BatchID:           product.BatchID,
			Code:              product.Code,
			ManufacturingDate: product.ManufacturingDate,
			ExpiryDate:        product.ExpiryDate,
			FinalTestsPassed:  product.FinalTestsPassed,
		}
	}

	events, err := s.store.ListEvents(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch chain: %w", err)
	}
	if product == nil && len(events) == 0 {
		return nil, &NotFoundError{Resource: "batch or product", Key: identifier}
	}

	view := &ProvenanceView{
		Product: productView,
		Events:  make([]TimelineEvent, 0, len(events)),
		Summary: summarize(events),
	}

	if len(events) > 0 {
		herb, err := s.store.FindHerbByID(ctx, events[0].HerbID)
		if err != nil {
			return nil, fmt.Errorf("look up herb: %w", err)
		}
		view.Herb = herb
	}

	actorIDs := make([]string, 0, len(events))
	seen := map[string]bool{}
	for _, ev := range events {
		if !seen[ev.ActorID] {
			seen[ev.ActorID] = true
			actorIDs = append(actorIDs, ev.ActorID)
		}
	}
	actors, err := s.store.ActorsByIDs(ctx, actorIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve actors: %w", err)
	}

	for _, ev := range events {
		te := TimelineEvent{Event: ev}
		if actor, ok := actors[ev.ActorID]; ok {
			a := actor
			te.Actor = &a
		}
		view.Events = append(view.Events, te)
	}

	if err := VerifyChain(batchID, events); err != nil {
		var integrity *ChainIntegrityError
		if errors.As(err, &integrity) {
			for _, b := range integrity.Breaks {
				view.Warnings = append(view.Warnings, b.String())
			}
		} else {
			view.Warnings = append(view.Warnings, err.Error())
		}
	}

	return view, nil
}

func summarize(events []Event) Summary {
	s := Summary{
		TotalEvents:        len(events),
		QualityTestsPassed: true,
		IsValidBatch:       true,
	}
	for _, ev := range events {
		if !ev.IsValid {
			s.IsValidBatch = false
		}
		switch ev.EventType {
		case EventHarvest:
			if s.HarvestDate == nil {
				t := ev.Timestamp
				s.HarvestDate = &t
			}
		case EventQualityTest:
			if testResult(ev.Metadata) == "fail" {
				s.QualityTestsPassed = false
			}
		}
	}
	return s
}

// BatchChain returns the raw ascending chain of a batch together with any
// integrity warnings from re-verifying it.
func (s *Service) BatchChain(ctx context.Context, batchID string) ([]Event, []string, error) {
	if batchID == "" {
		return nil, nil, &MissingFieldError{Field: "batch_id"}
	}
	events, err := s.store.ListEvents(ctx, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("load batch chain: %w", err)
	}
	if len(events) == 0 {
		return nil, nil, &NotFoundError{Resource: "batch", Key: batchID}
	}

	var warnings []string
	if err := VerifyChain(batchID, events); err != nil {
		var integrity *ChainIntegrityError
		if errors.As(err, &integrity) {
			for _, b := range integrity.Breaks {
				warnings = append(warnings, b.String())
			}
		} else {
			warnings = append(warnings, err.Error())
		}
	}
	return events, warnings, nil
}

// VerifyChain walks an ascending event sequence, recomputing each block hash
// and checking every previous-hash link. It is the read-side analogue of the
// append-time chaining; a mismatch signals tampering or a lost update.
func VerifyChain(batchID string, events []Event) error {
	var breaks []ChainBreak
	expectedPrev := GenesisHash
	for i, ev := range events {
		if ev.PreviousHash != expectedPrev {
			breaks = append(breaks, ChainBreak{
				Index:   i,
				EventID: ev.ID,
				Detail:  fmt.Sprintf("previous hash %s does not match predecessor hash %s", short(ev.PreviousHash), short(expectedPrev)),
			})
		}
		recomputed := ComputeHash(ev.EventType, ev.BatchID, ev.ActorID, ev.Metadata, ev.Timestamp, ev.PreviousHash)
		if recomputed != ev.BlockHash {
			breaks = append(breaks, ChainBreak{
				Index:   i,
				EventID: ev.ID,
				Detail:  fmt.Sprintf("stored hash %s does not match recomputed content hash %s", short(ev.BlockHash), short(recomputed)),
			})
		}
		expectedPrev = ev.BlockHash
	}
	if len(breaks) > 0 {
		return &ChainIntegrityError{BatchID: batchID, Breaks: breaks}
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12] + "…"
	}
	return hash
}

// ParsePoint parses the stored "(lat,lng)" coordinate text. Malformed input
// yields (nil, false) so a bad point drops from the timeline instead of
// failing the whole query.
func ParsePoint(s string) (*Coordinates, bool) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")
	parts := strings.Split(trimmed, ",")
	if len(parts) != 2 {
		return nil, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return &Coordinates{Lat: lat, Lng: lng}, true
}

// FormatPoint renders coordinates in the stored "(lat,lng)" text form.
func FormatPoint(c Coordinates) string {
	return fmt.Sprintf("(%s,%s)",
		strconv.FormatFloat(c.Lat, 'f', -1, 64),
		strconv.FormatFloat(c.Lng, 'f', -1, 64),
	)
}
