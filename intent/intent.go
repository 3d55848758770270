// Package intent classifies inbound user messages into the labels the
// workflow routes on. A deterministic rule classifier handles the common
// pt-BR phrasings; an LLM-backed classifier covers the long tail, with a
// cache layer in front to keep repeated phrasings cheap.
package intent

import "context"

// Label is a classification outcome.
type Label string

// The label set. "unclear" is the explicit low-information label;
// "off_topic" marks messages outside the receptionist's scope.
const (
	Greeting            Label = "greeting"
	ProvideName         Label = "provide_name"
	QualificationAnswer Label = "qualification_answer"
	InfoMethod          Label = "info_method"
	InfoProgram         Label = "info_program"
	InfoPricing         Label = "info_pricing"
	SchedulingRequest   Label = "scheduling_request"
	SlotSelection       Label = "slot_selection"
	ProvideEmail        Label = "provide_email"
	ConfirmationYes     Label = "confirmation_yes"
	ConfirmationNo      Label = "confirmation_no"
	HumanRequest        Label = "human_request"
	DataDeletionRequest Label = "data_deletion_request"
	OffTopic            Label = "off_topic"
	Unclear             Label = "unclear"
)

// Classification is a labeled message with confidence and diagnostics.
type Classification struct {
	Label      Label
	Confidence float64
	Features   map[string]string
}

// Classifier labels a normalized message given the conversation stage.
type Classifier interface {
	Classify(ctx context.Context, text string, stage string) (Classification, error)
}

// Thresholds partition confidence into routing bands.
type Thresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultThresholds is the strict default banding.
var DefaultThresholds = Thresholds{High: 0.85, Medium: 0.70, Low: 0.30}

// Band is a confidence band used for routing.
type Band int

// Bands, strongest first.
const (
	BandHigh Band = iota
	BandMedium
	BandLow
	BandFloor
)

func (b Band) String() string {
	switch b {
	case BandHigh:
		return "high"
	case BandMedium:
		return "medium"
	case BandLow:
		return "low"
	default:
		return "floor"
	}
}

// BandFor maps a confidence to its band.
func (t Thresholds) BandFor(confidence float64) Band {
	switch {
	case confidence >= t.High:
		return BandHigh
	case confidence >= t.Medium:
		return BandMedium
	case confidence >= t.Low:
		return BandLow
	default:
		return BandFloor
	}
}
