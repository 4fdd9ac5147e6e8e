package feature

import (
	"math"
	"testing"

	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

func TestEncode_Categorical(t *testing.T) {
	enc := NewEncoder(&policy.ContextConfig{
		Categorical: []string{"platform", "region"},
	})

	features := enc.Encode(map[string]string{
		"platform": "ios",
		"region":   "eu",
		"ignored":  "x",
	})

	if len(features) != 2 {
		t.Fatalf("expected 2 features, got %d: %v", len(features), features)
	}
	if features[0].Name != "platform_ios" || features[0].Value != 1 {
		t.Errorf("unexpected first feature: %+v", features[0])
	}
	if features[1].Name != "region_eu" || features[1].Value != 1 {
		t.Errorf("unexpected second feature: %+v", features[1])
	}
}

func TestEncode_Cyclical(t *testing.T) {
	enc := NewEncoder(&policy.ContextConfig{
		Cyclical: []policy.CyclicalField{{Field: "hour", Period: 24}},
	})

	features := enc.Encode(map[string]string{"hour": "6"})

	if len(features) != 2 {
		t.Fatalf("expected sin/cos pair, got %d features", len(features))
	}

	// hour=6 of 24 is a quarter turn: sin=1, cos=0
	if math.Abs(features[0].Value-1) > 1e-9 {
		t.Errorf("hour_sin = %v, want 1", features[0].Value)
	}
	if math.Abs(features[1].Value) > 1e-9 {
		t.Errorf("hour_cos = %v, want 0", features[1].Value)
	}
}

func TestEncode_DisabledOrAbsent(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *policy.ContextConfig
		context map[string]string
	}{
		{"nil config", nil, map[string]string{"platform": "ios"}},
		{"empty config", &policy.ContextConfig{}, map[string]string{"platform": "ios"}},
		{"absent context", &policy.ContextConfig{Categorical: []string{"platform"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if features := NewEncoder(tt.cfg).Encode(tt.context); len(features) != 0 {
				t.Errorf("expected empty feature list, got %v", features)
			}
		})
	}
}

func TestEncode_SkipsMalformedCyclical(t *testing.T) {
	enc := NewEncoder(&policy.ContextConfig{
		Cyclical: []policy.CyclicalField{{Field: "hour", Period: 24}},
	})

	if features := enc.Encode(map[string]string{"hour": "noon"}); len(features) != 0 {
		t.Errorf("non-numeric cyclical value should be skipped, got %v", features)
	}
}

func TestSegmentKey(t *testing.T) {
	enc := NewEncoder(&policy.ContextConfig{
		Categorical: []string{"platform", "region"},
	})

	key := enc.SegmentKey(map[string]string{"platform": "ios", "region": "eu"})
	if key != "platform=ios|region=eu" {
		t.Errorf("unexpected segment key: %q", key)
	}

	if got := enc.SegmentKey(nil); got != "" {
		t.Errorf("absent context should produce empty key, got %q", got)
	}
}
