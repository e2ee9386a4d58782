package classifier

import "testing"

func TestClassifySimpleTask(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	result := c.Classify("Create a summary report", []string{"draft", "review", "finalize"}, "document", Metadata{})
	if result.Label != Simple {
		t.Fatalf("label = %v, want simple", result.Label)
	}
}

func TestClassifyCredentialsGateFailsToComplex(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	result := c.Classify("Rotate the api_key for this service", []string{"step1"}, "general", Metadata{})
	if result.Label != Complex {
		t.Fatalf("label = %v, want complex", result.Label)
	}
	if result.GateResults["credentials"].Status != GateFail {
		t.Errorf("expected credentials gate to fail")
	}
	if result.GateResults["determinism"].Status != GateSkipped {
		t.Errorf("expected determinism gate skipped after credentials failure")
	}
}

func TestClassifyManualReviewOnTooManySteps(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	steps := make([]string, 20)
	for i := range steps {
		steps[i] = "step"
	}
	result := c.Classify("large plan", steps, "general", Metadata{})
	if result.Label != ManualReview {
		t.Fatalf("label = %v, want manual_review", result.Label)
	}
}

func TestClassifyPermissionsGateRequiresAllowlist(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil, nil)
	result := c.Classify("Request access to the external reporting endpoint", []string{"1", "2", "3"}, "code", Metadata{})
	if result.Label != Complex {
		t.Fatalf("label = %v, want complex", result.Label)
	}
	if result.GateResults["permissions"].Status != GateFail {
		t.Errorf("expected permissions gate to fail without an allowlist")
	}
}

func TestClassifyPermissionsGatePassesWithAllowlistedService(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExternalServicesAllowlist = []string{"internal-billing"}
	c := New(cfg, nil, nil)
	result := c.Classify("Send an API request to internal-billing", []string{"1", "2"}, "code", Metadata{})
	if result.GateResults["permissions"].Status != GatePass {
		t.Errorf("expected permissions gate to pass with allowlisted service, got %+v", result.GateResults["permissions"])
	}
}

func TestClassifyOverrideSkipsGatesAndDecidesOnStepCount(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	steps := []string{"1", "2", "3", "4", "5", "6"}
	result := c.Classify("contains password but overridden", steps, "general", Metadata{Override: true})
	if result.Label != Complex {
		t.Fatalf("label = %v, want complex (step count > max simple)", result.Label)
	}
	if result.GateResults["credentials"].Status != GateSkipped {
		t.Errorf("expected gates skipped under override")
	}
}
