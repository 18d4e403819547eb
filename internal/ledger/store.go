package ledger

import "context"

// Store is the persistence interface the ledger core consumes. The concrete
// implementation lives in internal/repository; tests use an in-memory fake.
//
// Lookup methods return (nil, nil) when the record does not exist; the
// ledger turns that into a NotFoundError with caller context.
type Store interface {
	// InsertEvent persists ev conditionally: it must fail with
	// ErrHeadConflict (possibly wrapped) when another event for the same
	// batch already links to the same previous hash. This is the atomic
	// compare-and-swap that serializes appends per batch.
	InsertEvent(ctx context.Context, ev *Event) error

	// LatestEvent returns the batch head: the most recent event by
	// creation time, or nil when the batch has no chain yet.
	LatestEvent(ctx context.Context, batchID string) (*Event, error)

	// ListEvents returns all events of a batch ascending by creation time.
	ListEvents(ctx context.Context, batchID string) ([]Event, error)

	FindHerbByName(ctx context.Context, name string) (*Herb, error)
	FindHerbByID(ctx context.Context, id string) (*Herb, error)
	ListHerbs(ctx context.Context) ([]Herb, error)

	FindActorByName(ctx context.Context, name string) (*Actor, error)
	// ActorsByIDs resolves display info for provenance enrichment.
	ActorsByIDs(ctx context.Context, ids []string) (map[string]Actor, error)

	FindProductByCode(ctx context.Context, code string) (*Product, error)
	InsertProduct(ctx context.Context, p *Product) error

	// Stats aggregates ledger-wide counters for dashboards.
	Stats(ctx context.Context) (*Stats, error)
}
