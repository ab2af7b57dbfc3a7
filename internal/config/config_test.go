package config

import "testing"

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	c := Default()
	if c.QuickenThreshold != 16 {
		t.Errorf("QuickenThreshold = %d, want 16", c.QuickenThreshold)
	}
	if c.HotLoopThreshold != 100 {
		t.Errorf("HotLoopThreshold = %d, want 100", c.HotLoopThreshold)
	}
	if c.MegamorphicThreshold != 4 {
		t.Errorf("MegamorphicThreshold = %d, want 4", c.MegamorphicThreshold)
	}
	if c.Heap.PromotionAge != 2 {
		t.Errorf("PromotionAge = %d, want 2", c.Heap.PromotionAge)
	}
}

func TestOverridesAppliesKnownKeys(t *testing.T) {
	c, errs := Default().Overrides(map[string]string{
		"call_depth_limit":  "1000",
		"quicken_threshold": "32",
	})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if c.CallDepthLimit != 1000 || c.QuickenThreshold != 32 {
		t.Fatalf("overrides not applied: %+v", c)
	}
}

func TestOverridesReportsUnknownKey(t *testing.T) {
	_, errs := Default().Overrides(map[string]string{"bogus": "1"})
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
}
