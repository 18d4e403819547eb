package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *Engine {
	return NewEngine(QualityThresholds{
		MaxMoisture:       12.0,
		PesticideExpected: "Not Detected",
		DNAExpected:       "Confirmed",
	})
}

func testHerb() *Herb {
	return &Herb{
		ID:   "HRB-001",
		Name: "Ashwagandha",
		ApprovedRegions: []Region{
			{Name: "Madhya Pradesh", MinLat: 21.0, MaxLat: 26.9, MinLng: 74.0, MaxLng: 82.8},
		},
	}
}

func harvestEvent(md Metadata) *Event {
	return &Event{
		BatchID:   "ASH-2024-001",
		EventType: EventHarvest,
		ActorID:   "ACT-001",
		Metadata:  md,
	}
}

func TestValidateMissingIdentifiers(t *testing.T) {
	engine := testEngine()

	_, _, err := engine.Validate(&Event{EventType: EventHarvest, ActorID: "ACT-001"}, nil, nil)
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "batch_id", missing.Field)

	_, _, err = engine.Validate(&Event{BatchID: "B-1", EventType: EventHarvest}, nil, nil)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "actor_id", missing.Field)

	_, _, err = engine.Validate(&Event{BatchID: "B-1", ActorID: "ACT-001"}, nil, nil)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "event_type", missing.Field)
}

func TestValidateFirstEventMustBeHarvest(t *testing.T) {
	engine := testEngine()

	valid, errs, err := engine.Validate(&Event{
		BatchID:   "ASH-2024-001",
		EventType: EventProcessing,
		ActorID:   "ACT-004",
		Metadata:  Metadata{"processing_method": "Drying"},
	}, nil, nil)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Contains(t, errs[0], "first event for a batch must be harvest")
}

func TestValidateHarvestRequiredFields(t *testing.T) {
	engine := testEngine()

	valid, errs, err := engine.Validate(harvestEvent(Metadata{}), nil, testHerb())
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Len(t, errs, 2)
	assert.Contains(t, errs[0], `"quantity"`)
	assert.Contains(t, errs[1], `"harvest_method"`)
}

func TestValidateHarvestClean(t *testing.T) {
	engine := testEngine()

	valid, errs, err := engine.Validate(harvestEvent(Metadata{
		"quantity":       45.0,
		"harvest_method": "Hand-picked",
	}), nil, testHerb())
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Empty(t, errs)
}

func TestValidateGeoFence(t *testing.T) {
	engine := testEngine()
	herb := testHerb()

	inside := harvestEvent(Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"})
	inside.Coordinates = &Coordinates{Lat: 23.5, Lng: 77.5}
	valid, errs, err := engine.Validate(inside, nil, herb)
	require.NoError(t, err)
	assert.True(t, valid, "coordinates inside an approved region pass: %v", errs)

	outside := harvestEvent(Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"})
	outside.Coordinates = &Coordinates{Lat: 51.5, Lng: -0.1}
	valid, errs, err = engine.Validate(outside, nil, herb)
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "outside the approved regions for Ashwagandha")

	// Absent coordinates are not a geo-fence violation.
	noCoords := harvestEvent(Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"})
	valid, _, err = engine.Validate(noCoords, nil, herb)
	require.NoError(t, err)
	assert.True(t, valid)
}

func qualityEvent(md Metadata) *Event {
	return &Event{
		BatchID:   "ASH-2024-001",
		EventType: EventQualityTest,
		ActorID:   "ACT-005",
		Metadata:  md,
	}
}

func TestEvaluateQualityPass(t *testing.T) {
	engine := testEngine()

	passed, errs := engine.EvaluateQuality(Metadata{
		"moisture_content":  10.5,
		"pesticide_residue": "Not Detected",
		"dna_authenticity":  "Confirmed",
	})
	assert.True(t, passed)
	assert.Empty(t, errs)
}

func TestEvaluateQualityFailuresListed(t *testing.T) {
	engine := testEngine()

	passed, errs := engine.EvaluateQuality(Metadata{
		"moisture_content":  15.5,
		"pesticide_residue": "Detected",
		"dna_authenticity":  "Confirmed",
	})
	assert.False(t, passed)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "15.5")
	assert.Contains(t, errs[0], "12.0")
	assert.Contains(t, errs[1], `"Detected"`)
}

func TestValidateQualityTestEvent(t *testing.T) {
	engine := testEngine()
	prior := harvestEvent(Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"})

	valid, errs, err := engine.Validate(qualityEvent(Metadata{
		"moisture_content":  15.5,
		"pesticide_residue": "Detected",
		"dna_authenticity":  "Confirmed",
	}), prior, testHerb())
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Len(t, errs, 2)
}

func TestValidateQualityMoistureNotANumber(t *testing.T) {
	engine := testEngine()

	passed, errs := engine.EvaluateQuality(Metadata{
		"moisture_content":  "damp",
		"pesticide_residue": "Not Detected",
		"dna_authenticity":  "Confirmed",
	})
	assert.False(t, passed)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "is not a number")
}

func TestValidateQualityNumericString(t *testing.T) {
	engine := testEngine()

	passed, errs := engine.EvaluateQuality(Metadata{
		"moisture_content":  "11.2",
		"pesticide_residue": "Not Detected",
		"dna_authenticity":  "Confirmed",
	})
	assert.True(t, passed, "numeric strings are tolerated: %v", errs)
}

func TestValidateManufacturingSequencing(t *testing.T) {
	engine := testEngine()

	mfg := &Event{
		BatchID:   "ASH-2024-001",
		EventType: EventManufacturing,
		ActorID:   "ACT-006",
		Metadata:  Metadata{"product_name": "Ashwagandha Capsules"},
	}

	valid, errs, err := engine.Validate(mfg, nil, testHerb())
	require.NoError(t, err)
	assert.False(t, valid)
	// Both the harvest-first rule and the terminal-step rule fire.
	assert.Len(t, errs, 2)

	// A harvest head means no quality test has been recorded yet.
	harvestHead := harvestEvent(Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"})
	valid, errs, err = engine.Validate(mfg, harvestHead, testHerb())
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "requires a quality test")

	failedTest := qualityEvent(Metadata{"test_result": "fail"})
	valid, errs, err = engine.Validate(mfg, failedTest, testHerb())
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "failed quality test")

	passedTest := qualityEvent(Metadata{"test_result": "pass"})
	valid, _, err = engine.Validate(mfg, passedTest, testHerb())
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestValidateUnknownEventType(t *testing.T) {
	engine := testEngine()

	valid, errs, err := engine.Validate(&Event{
		BatchID:   "ASH-2024-001",
		EventType: EventType("teleportation"),
		ActorID:   "ACT-001",
	}, &Event{EventType: EventHarvest}, nil)
	require.NoError(t, err)
	assert.False(t, valid)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown event type "teleportation"`)
}

func TestValidateSkippedIntermediateStepsTolerated(t *testing.T) {
	engine := testEngine()
	prior := harvestEvent(Metadata{"quantity": 45.0, "harvest_method": "Hand-picked"})

	// harvest → quality_test without collection or processing is fine.
	valid, errs, err := engine.Validate(qualityEvent(Metadata{
		"moisture_content":  10.0,
		"pesticide_residue": "Not Detected",
		"dna_authenticity":  "Confirmed",
	}), prior, testHerb())
	require.NoError(t, err)
	assert.True(t, valid, "%v", errs)
}
