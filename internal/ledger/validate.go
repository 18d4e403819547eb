package ledger

import (
	"fmt"
	"strconv"
)

// QualityThresholds are the laboratory pass/fail limits.
type QualityThresholds struct {
	MaxMoisture       float64
	PesticideExpected string
	DNAExpected       string
}

// Engine evaluates the fixed business-rule set against a candidate event and
// the batch's prior event. It is stateless: all inputs arrive per call.
//
// Validation never fails hard for malformed-but-present data; it returns a
// structured violation list. The only hard error is a missing mandatory
// identifier on the candidate.
type Engine struct {
	thresholds QualityThresholds
}

// NewEngine creates a validation engine with the given thresholds.
func NewEngine(t QualityThresholds) *Engine {
	return &Engine{thresholds: t}
}

// ruleInput is everything a rule may inspect.
type ruleInput struct {
	candidate  *Event
	prior      *Event
	herb       *Herb
	thresholds QualityThresholds
}

// rule is one row of the declarative rule table. Nothing in the table blocks
// the append itself: every violation is recorded on the event and invalid
// events are still written to the chain.
type rule struct {
	name    string
	applies func(*Event) bool
	check   func(ruleInput) []string
}

func appliesToAll(*Event) bool { return true }

func appliesTo(t EventType) func(*Event) bool {
	return func(ev *Event) bool { return ev.EventType == t }
}

// requiredMetadata is the minimal metadata schema per event type.
var requiredMetadata = map[EventType][]string{
	EventHarvest:       {"quantity", "harvest_method"},
	EventCollection:    {"quantity"},
	EventProcessing:    {"processing_method"},
	EventQualityTest:   {"moisture_content", "pesticide_residue", "dna_authenticity"},
	EventManufacturing: {"product_name"},
}

var rules = []rule{
	{
		name:    "known_event_type",
		applies: appliesToAll,
		check: func(in ruleInput) []string {
			if !in.candidate.EventType.Known() {
				return []string{fmt.Sprintf("unknown event type %q", in.candidate.EventType)}
			}
			return nil
		},
	},
	{
		name:    "first_event_is_harvest",
		applies: appliesToAll,
		check: func(in ruleInput) []string {
			if in.prior == nil && in.candidate.EventType != EventHarvest {
				return []string{fmt.Sprintf("first event for a batch must be harvest, got %s", in.candidate.EventType)}
			}
			return nil
		},
	},
	{
		name:    "required_metadata",
		applies: appliesToAll,
		check: func(in ruleInput) []string {
			var errs []string
			for _, key := range requiredMetadata[in.candidate.EventType] {
				if v, ok := in.candidate.Metadata[key]; !ok || v == nil || v == "" {
					errs = append(errs, fmt.Sprintf("missing required metadata field %q for %s event", key, in.candidate.EventType))
				}
			}
			return errs
		},
	},
	{
		name:    "quality_thresholds",
		applies: appliesTo(EventQualityTest),
		check: func(in ruleInput) []string {
			_, errs := evaluateQuality(in.candidate.Metadata, in.thresholds)
			return errs
		},
	},
	{
		name:    "manufacturing_after_passing_test",
		applies: appliesTo(EventManufacturing),
		check: func(in ruleInput) []string {
			// Only the batch head is visible here; the full chain walk
			// happens at product creation. A harvest head still proves no
			// quality test has been recorded yet.
			if in.prior == nil {
				return []string{"manufacturing event requires a prior quality test"}
			}
			if in.prior.EventType == EventHarvest {
				return []string{"manufacturing event requires a quality test before it"}
			}
			if in.prior.EventType == EventQualityTest && testResult(in.prior.Metadata) != "pass" {
				return []string{"manufacturing event follows a failed quality test"}
			}
			return nil
		},
	},
	{
		name:    "harvest_geo_fence",
		applies: appliesTo(EventHarvest),
		check: func(in ruleInput) []string {
			if in.candidate.Coordinates == nil || in.herb == nil || len(in.herb.ApprovedRegions) == 0 {
				return nil
			}
			for _, region := range in.herb.ApprovedRegions {
				if region.Contains(*in.candidate.Coordinates) {
					return nil
				}
			}
			return []string{fmt.Sprintf(
				"harvest location (%.4f, %.4f) is outside the approved regions for %s",
				in.candidate.Coordinates.Lat, in.candidate.Coordinates.Lng, in.herb.Name,
			)}
		},
	},
}

// Validate runs the rule table against the candidate event. prior is the
// batch head at read time (nil for a brand-new batch); herb supplies the
// approved regions for the geo-fence.
//
// All violations are recorded and isValid reflects them, but none of them
// blocks the append: invalid events stay on the chain so the audit trail is
// never silently hidden.
func (e *Engine) Validate(candidate *Event, prior *Event, herb *Herb) (bool, []string, error) {
	if candidate.BatchID == "" {
		return false, nil, &MissingFieldError{Field: "batch_id"}
	}
	if candidate.ActorID == "" {
		return false, nil, &MissingFieldError{Field: "actor_id"}
	}
	if candidate.EventType == "" {
		return false, nil, &MissingFieldError{Field: "event_type"}
	}

	in := ruleInput{candidate: candidate, prior: prior, herb: herb, thresholds: e.thresholds}
	var violations []string
	for _, r := range rules {
		if !r.applies(candidate) {
			continue
		}
		violations = append(violations, r.check(in)...)
	}
	return len(violations) == 0, violations, nil
}

// EvaluateQuality computes the pass/fail outcome of a quality test payload.
// Each threshold breach yields an error naming the failed check and the
// measured value.
func (e *Engine) EvaluateQuality(md Metadata) (bool, []string) {
	return evaluateQuality(md, e.thresholds)
}

func evaluateQuality(md Metadata, t QualityThresholds) (bool, []string) {
	var errs []string

	moisture, ok := toFloat(md["moisture_content"])
	if !ok {
		errs = append(errs, fmt.Sprintf("moisture content %v is not a number", md["moisture_content"]))
	} else if moisture > t.MaxMoisture {
		errs = append(errs, fmt.Sprintf("moisture content %.1f%% exceeds the %.1f%% ceiling", moisture, t.MaxMoisture))
	}

	if pesticide := toString(md["pesticide_residue"]); pesticide != t.PesticideExpected {
		errs = append(errs, fmt.Sprintf("pesticide residue reported as %q, expected %q", pesticide, t.PesticideExpected))
	}

	if dna := toString(md["dna_authenticity"]); dna != t.DNAExpected {
		errs = append(errs, fmt.Sprintf("DNA authenticity reported as %q, expected %q", dna, t.DNAExpected))
	}

	return len(errs) == 0, errs
}

// testResult reads the recorded pass/fail outcome of a quality test event.
func testResult(md Metadata) string {
	return toString(md["test_result"])
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}
