package feature

import (
	"fmt"
	"math"
	"strconv"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// Feature is one element of an encoded context vector
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Encoder turns subject context attributes into a flat feature list.
// Categorical fields become one-hot "field_value" tokens; cyclical fields
// become sin/cos pairs over their period.
type Encoder struct {
	categorical []string
	cyclical    []policy.CyclicalField
	enabled     bool
}

// NewEncoder builds an encoder from a policy's context block.
// A nil or empty block yields a disabled encoder.
func NewEncoder(cfg *policy.ContextConfig) *Encoder {
	if cfg == nil || (len(cfg.Categorical) == 0 && len(cfg.Cyclical) == 0) {
		return &Encoder{}
	}
	return &Encoder{
		categorical: cfg.Categorical,
		cyclical:    cfg.Cyclical,
		enabled:     true,
	}
}

// Enabled reports whether the encoder produces any features
func (e *Encoder) Enabled() bool {
	return e.enabled
}

// Encode produces the feature list for a set of context attributes.
// Returns an empty list when encoding is disabled or context is absent.
// Fields missing from the context are skipped, not zero-filled.
func (e *Encoder) Encode(context map[string]string) []Feature {
	if !e.enabled || len(context) == 0 {
		return nil
	}

	var features []Feature

	for _, field := range e.categorical {
		value, ok := context[field]
		if !ok || value == "" {
			continue
		}
		features = append(features, Feature{
			Name:  fmt.Sprintf("%s_%s", field, value),
			Value: 1,
		})
	}

	for _, cyc := range e.cyclical {
		raw, ok := context[cyc.Field]
		if !ok {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		angle := 2 * math.Pi * value / cyc.Period
		features = append(features,
			Feature{Name: cyc.Field + "_sin", Value: math.Sin(angle)},
			Feature{Name: cyc.Field + "_cos", Value: math.Cos(angle)},
		)
	}

	return features
}

// SegmentKey derives a stable segment label from the categorical part of
// a context. Contextual policies key per-segment posteriors by it.
func (e *Encoder) SegmentKey(context map[string]string) string {
	if !e.enabled || len(context) == 0 {
		return ""
	}

	key := ""
	for _, field := range e.categorical {
		value, ok := context[field]
		if !ok || value == "" {
			continue
		}
		if key != "" {
			key += "|"
		}
		key += field + "=" + value
	}
	return key
}
