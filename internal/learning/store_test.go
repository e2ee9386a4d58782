package learning

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestWelfordMatchesClosedForm(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "learning.db"), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	samples := []float64{100, 200, 150, 400, 250}
	for _, x := range samples {
		if !s.Record("document", x, true, 0, false, false) {
			t.Fatalf("record failed for %v", x)
		}
	}

	m, ok := s.Query("document")
	if !ok {
		t.Fatalf("expected metrics for document")
	}

	var sum float64
	for _, x := range samples {
		sum += x
	}
	wantMean := sum / float64(len(samples))

	var sq float64
	for _, x := range samples {
		d := x - wantMean
		sq += d * d
	}
	wantVariance := sq / float64(len(samples))

	if math.Abs(m.Mean-wantMean) > 1e-9 {
		t.Errorf("mean = %v, want %v", m.Mean, wantMean)
	}
	if math.Abs(m.Variance()-wantVariance) > 1e-6 {
		t.Errorf("variance = %v, want %v", m.Variance(), wantVariance)
	}
	if m.Total != int64(len(samples)) {
		t.Errorf("total = %d, want %d", m.Total, len(samples))
	}
}

func TestMaintenancePurgesOutsideWindow(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "learning.db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Record("email", 1000, true, 0, false, false)
	s.Record("email", 2000, false, 1, true, true)

	if err := s.Maintenance(); err != nil {
		t.Fatalf("maintenance: %v", err)
	}

	m, ok := s.Query("email")
	if !ok {
		t.Fatalf("expected a (possibly empty) snapshot for email")
	}
	if m.Total != 0 {
		t.Errorf("zero-day window should purge everything, got total=%d", m.Total)
	}
}

func TestQueryColdStart(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "learning.db"), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, ok := s.Query("unknown"); ok {
		t.Errorf("expected cold-start miss for unknown task type")
	}
}

func TestFailureRateAndCompliance(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "learning.db"), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	s.Record("code", 100, true, 0, false, false)
	s.Record("code", 100, false, 0, false, true)

	m, _ := s.Query("code")
	if m.FailureRate() != 0.5 {
		t.Errorf("failure rate = %v, want 0.5", m.FailureRate())
	}
	if m.SLACompliance() != 0.5 {
		t.Errorf("sla compliance = %v, want 0.5", m.SLACompliance())
	}
}
