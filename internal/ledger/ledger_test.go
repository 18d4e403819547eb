package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(store Store, opts Options) *Service {
	return NewService(store, testEngine(), opts, zap.NewNop())
}

func appendHarvest(t *testing.T, svc *Service, batchID string) *Event {
	t.Helper()
	ev, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   batchID,
		EventType: EventHarvest,
		HerbName:  "Ashwagandha",
		ActorName: "Ramesh Kumar",
		Metadata:  Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"},
	})
	require.NoError(t, err)
	return ev
}

func appendQualityTest(t *testing.T, svc *Service, batchID string, moisture float64, pesticide string) *Event {
	t.Helper()
	ev, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   batchID,
		EventType: EventQualityTest,
		ActorName: "AyurLab Quality Services",
		Metadata: Metadata{
			"moisture_content":  moisture,
			"pesticide_residue": pesticide,
			"dna_authenticity":  "Confirmed",
		},
	})
	require.NoError(t, err)
	return ev
}

func TestAppendFirstHarvestEvent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})

	ev := appendHarvest(t, svc, "ASH-2024-001")

	assert.Equal(t, GenesisHash, ev.PreviousHash)
	assert.True(t, ev.IsValid)
	assert.Empty(t, ev.ValidationErrors)
	assert.Equal(t, "HRB-001", ev.HerbID)
	assert.Equal(t, "ACT-001", ev.ActorID)

	// Defaults are merged without clobbering supplied values.
	assert.Equal(t, 45.0, ev.Metadata["quantity"])
	assert.Equal(t, "25°C", ev.Metadata["temperature"])
	assert.Equal(t, "60%", ev.Metadata["humidity"])

	// Tamper evidence: the stored hash reproduces from stored fields.
	recomputed := ComputeHash(ev.EventType, ev.BatchID, ev.ActorID, ev.Metadata, ev.Timestamp, ev.PreviousHash)
	assert.Equal(t, ev.BlockHash, recomputed)
}

func TestAppendUnknownActor(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})

	_, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   "ASH-2024-001",
		EventType: EventHarvest,
		HerbName:  "Ashwagandha",
		ActorName: "Nobody",
	})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "actor", notFound.Resource)
}

func TestAppendUnknownHerb(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})

	_, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   "ASH-2024-001",
		EventType: EventHarvest,
		HerbName:  "Mandrake",
		ActorName: "Ramesh Kumar",
	})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "herb", notFound.Resource)
}

func TestAppendNonHarvestOnEmptyBatch(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})

	_, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   "ASH-2024-404",
		EventType: EventProcessing,
		ActorName: "Himalaya Processing Unit",
		Metadata:  Metadata{"processing_method": "Drying"},
	})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "batch", notFound.Resource)
}

func TestAppendChainLinkage(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})
	ctx := context.Background()
	const batchID = "ASH-2024-001"

	harvest := appendHarvest(t, svc, batchID)

	processing, err := svc.AppendEvent(ctx, AppendRequest{
		BatchID:   batchID,
		EventType: EventProcessing,
		ActorName: "Himalaya Processing Unit",
		Metadata:  Metadata{"processing_method": "Shade drying"},
	})
	require.NoError(t, err)
	assert.Equal(t, harvest.BlockHash, processing.PreviousHash)
	assert.Equal(t, harvest.HerbID, processing.HerbID, "herb is inherited from the batch head")

	quality := appendQualityTest(t, svc, batchID, 10.5, "Not Detected")
	assert.Equal(t, processing.BlockHash, quality.PreviousHash)

	events, err := store.ListEvents(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.NoError(t, VerifyChain(batchID, events))
}

func TestAppendInvalidEventStillRecorded(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})

	ev, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   "ASH-2024-001",
		EventType: EventHarvest,
		HerbName:  "Ashwagandha",
		ActorName: "Ramesh Kumar",
		Metadata:  Metadata{}, // missing quantity and harvest_method
	})
	require.NoError(t, err, "validation failures must not abort the append")
	assert.False(t, ev.IsValid)
	assert.Len(t, ev.ValidationErrors, 2)

	events, err := store.ListEvents(context.Background(), "ASH-2024-001")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsValid)
}

func TestQualityTestComputesResult(t *testing.T) {
	svc := newTestService(newMemStore(), Options{})
	const batchID = "ASH-2024-001"
	appendHarvest(t, svc, batchID)

	pass := appendQualityTest(t, svc, batchID, 10.5, "Not Detected")
	assert.Equal(t, "pass", pass.Metadata["test_result"])
	assert.True(t, pass.IsValid)
	assert.Contains(t, pass.Metadata["certificate_number"], "CERT-"+batchID)

	fail := appendQualityTest(t, svc, batchID, 15.5, "Detected")
	assert.Equal(t, "fail", fail.Metadata["test_result"])
	assert.False(t, fail.IsValid)
	assert.Len(t, fail.ValidationErrors, 2)
}

func TestAppendSequenceConflictAfterRetries(t *testing.T) {
	store := newMemStore()
	store.insertHook = func(ev *Event) error {
		return fmt.Errorf("insert event for batch %s: %w", ev.BatchID, ErrHeadConflict)
	}
	svc := newTestService(store, Options{MaxAppendAttempts: 3})

	_, err := svc.AppendEvent(context.Background(), AppendRequest{
		BatchID:   "ASH-2024-001",
		EventType: EventHarvest,
		HerbName:  "Ashwagandha",
		ActorName: "Ramesh Kumar",
		Metadata:  Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"},
	})
	var conflict *SequenceConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.Attempts)
}

func TestConcurrentAppendsNeverFork(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{MaxAppendAttempts: 10})
	ctx := context.Background()
	const batchID = "ASH-2024-001"

	appendHarvest(t, svc, batchID)

	const racers = 4
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.AppendEvent(ctx, AppendRequest{
				BatchID:   batchID,
				EventType: EventProcessing,
				ActorName: "Himalaya Processing Unit",
				Metadata:  Metadata{"processing_method": fmt.Sprintf("Stage %d", i)},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "racer %d", i)
	}

	events, err := store.ListEvents(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, events, racers+1)

	// No two events share a previous hash: the chain never forked.
	seen := map[string]bool{}
	for _, ev := range events {
		require.False(t, seen[ev.PreviousHash], "two events link to %s", ev.PreviousHash)
		seen[ev.PreviousHash] = true
	}
}

func TestCreateProduct(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{ShelfLifeYears: 2})
	ctx := context.Background()
	const batchID = "ASH-2024-001"

	appendHarvest(t, svc, batchID)
	appendQualityTest(t, svc, batchID, 10.5, "Not Detected")

	product, err := svc.CreateProduct(ctx, CreateProductRequest{
		BatchID:          batchID,
		ProductName:      "Ashwagandha Capsules",
		ManufacturerName: "Vedic Wellness Pharma",
	})
	require.NoError(t, err)

	assert.Contains(t, product.Code, "QR-"+batchID)
	assert.True(t, product.FinalTestsPassed)
	assert.Equal(t, "ACT-006", product.ManufacturerID)
	assert.Equal(t, product.ManufacturingDate.AddDate(2, 0, 0), product.ExpiryDate)

	// The terminal manufacturing event was appended and the product
	// references its hash.
	events, err := store.ListEvents(ctx, batchID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	mfg := events[2]
	assert.Equal(t, EventManufacturing, mfg.EventType)
	assert.Equal(t, product.ChainHash, mfg.BlockHash)
	assert.Equal(t, product.Code, mfg.Metadata["qr_code"])
	require.NoError(t, VerifyChain(batchID, events))
}

func TestCreateProductQualityGate(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})
	ctx := context.Background()

	t.Run("no events at all", func(t *testing.T) {
		_, err := svc.CreateProduct(ctx, CreateProductRequest{
			BatchID:          "ASH-2024-404",
			ProductName:      "Ashwagandha Capsules",
			ManufacturerName: "Vedic Wellness Pharma",
		})
		var noEvents *NoEventsError
		require.ErrorAs(t, err, &noEvents)
	})

	t.Run("no quality test recorded", func(t *testing.T) {
		appendHarvest(t, svc, "ASH-2024-002")
		_, err := svc.CreateProduct(ctx, CreateProductRequest{
			BatchID:          "ASH-2024-002",
			ProductName:      "Ashwagandha Capsules",
			ManufacturerName: "Vedic Wellness Pharma",
		})
		var gate *QualityGateError
		require.ErrorAs(t, err, &gate)
		assert.Contains(t, gate.Reason, "no quality test")
	})

	t.Run("latest quality test failed", func(t *testing.T) {
		appendHarvest(t, svc, "ASH-2024-003")
		appendQualityTest(t, svc, "ASH-2024-003", 10.5, "Not Detected")
		appendQualityTest(t, svc, "ASH-2024-003", 15.5, "Detected")
		_, err := svc.CreateProduct(ctx, CreateProductRequest{
			BatchID:          "ASH-2024-003",
			ProductName:      "Ashwagandha Capsules",
			ManufacturerName: "Vedic Wellness Pharma",
		})
		var gate *QualityGateError
		require.ErrorAs(t, err, &gate)
		assert.Contains(t, gate.Reason, "latest quality test failed")
	})

	t.Run("retest after failure passes the gate", func(t *testing.T) {
		appendHarvest(t, svc, "ASH-2024-004")
		appendQualityTest(t, svc, "ASH-2024-004", 15.5, "Detected")
		appendQualityTest(t, svc, "ASH-2024-004", 10.5, "Not Detected")
		_, err := svc.CreateProduct(ctx, CreateProductRequest{
			BatchID:          "ASH-2024-004",
			ProductName:      "Ashwagandha Capsules",
			ManufacturerName: "Vedic Wellness Pharma",
		})
		require.NoError(t, err)
	})

	t.Run("unknown manufacturer", func(t *testing.T) {
		appendHarvest(t, svc, "ASH-2024-005")
		_, err := svc.CreateProduct(ctx, CreateProductRequest{
			BatchID:          "ASH-2024-005",
			ProductName:      "Ashwagandha Capsules",
			ManufacturerName: "Nobody Pharma",
		})
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestHashSurvivesTimestampStorageRoundTrip(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})
	// A wall clock always carries sub-microsecond digits that timestamptz
	// cannot hold.
	svc.now = func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC)
	}

	ev := appendHarvest(t, svc, "ASH-2024-001")

	assert.Zero(t, ev.Timestamp.Nanosecond()%1000, "hash input must not be finer than the column precision")

	// Simulate the database round trip: microsecond precision is all that
	// comes back, and the stored hash must still reproduce from it.
	stored := *ev
	stored.Timestamp = stored.Timestamp.Truncate(time.Microsecond)
	recomputed := ComputeHash(stored.EventType, stored.BatchID, stored.ActorID, stored.Metadata, stored.Timestamp, stored.PreviousHash)
	assert.Equal(t, ev.BlockHash, recomputed)
	require.NoError(t, VerifyChain("ASH-2024-001", []Event{stored}))
}

func TestServiceTimeInjection(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, Options{})
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	ev := appendHarvest(t, svc, "ASH-2024-001")
	assert.Equal(t, fixed, ev.Timestamp)
	assert.Equal(t, fixed, ev.CreatedAt)
}
