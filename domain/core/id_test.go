package core

import (
	"testing"
)

// TestNewIDUniqueness tests that NewID generates unique identifiers
func TestNewIDUniqueness(t *testing.T) {
	const numIDs = 10000

	ids := make(map[ID]bool, numIDs)
	for i := 0; i < numIDs; i++ {
		id := NewID()
		if id.IsEmpty() {
			t.Errorf("Generated empty ID at iteration %d", i)
		}
		if ids[id] {
			t.Errorf("Generated duplicate ID: %s", id)
		}
		ids[id] = true
	}
}

func TestParseRunID(t *testing.T) {
	if _, err := ParseRunID("  "); err == nil {
		t.Error("Expected error for blank run ID")
	}
	id, err := ParseRunID("run-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if id.String() != "run-1" {
		t.Errorf("Expected 'run-1', got '%s'", id)
	}
}

func TestGeneListHashIgnoresOrder(t *testing.T) {
	a := ComputeGeneListHash([]string{"Snap25", "Gad1", "Slc17a7"})
	b := ComputeGeneListHash([]string{"Slc17a7", "Snap25", "Gad1"})
	if a != b {
		t.Errorf("Expected order-independent hash, got %s vs %s", a, b)
	}
	c := ComputeGeneListHash([]string{"Snap25", "Gad1"})
	if a == c {
		t.Error("Expected different gene sets to hash differently")
	}
}

func TestGeneListHashShort(t *testing.T) {
	h := ComputeGeneListHash([]string{"Snap25", "Gad1"})
	if got := h.Short(); len(got) != 12 || got != string(h)[:12] {
		t.Errorf("Expected 12-char prefix of %s, got %q", h, got)
	}
}

func TestDatasetHashSensitiveToCounts(t *testing.T) {
	genes := []string{"g1", "g2"}
	samples := []string{"s1", "s2"}
	a := ComputeDatasetHash(genes, samples, [][]int{{1, 2}, {3, 4}})
	b := ComputeDatasetHash(genes, samples, [][]int{{1, 2}, {3, 5}})
	if a == b {
		t.Error("Expected count change to alter dataset hash")
	}
	if len(Hash(a).Short()) != 12 {
		t.Errorf("Expected 12-char short hash, got %q", Hash(a).Short())
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsValidationError(NewMissingColumnError("age", "s1")) {
		t.Error("Missing column should classify as validation error")
	}
	if !IsModelFitError(ErrMixtureDegenerate) {
		t.Error("Degenerate mixture should classify as model-fit error")
	}
	if IsValidationError(ErrServiceUnavailable) {
		t.Error("Service errors are not validation errors")
	}
}
