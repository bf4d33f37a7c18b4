package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ctslices/internal/models"
	"ctslices/pkg/filters"
)

// TestDefaultConfig verifies the defaults are usable as-is
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.NumCores <= 0 {
		t.Errorf("Expected positive core count, got %d", cfg.Processing.NumCores)
	}
	if cfg.Filters.Median.Kernel != (filters.Kernel{Width: 3, Height: 3, Depth: 3}) {
		t.Errorf("Expected 3x3x3 median kernel, got %+v", cfg.Filters.Median.Kernel)
	}
	if cfg.Export.PatientName != "Doe^John" {
		t.Errorf("Expected dummy patient Doe^John, got %q", cfg.Export.PatientName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

// TestLoadMissingConfig verifies that a missing file yields the defaults
func TestLoadMissingConfig(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for a missing file, got %v", err)
	}
	if cfg.Viewer.HistogramBins != 64 {
		t.Errorf("Expected 64 histogram bins, got %d", cfg.Viewer.HistogramBins)
	}
}

// TestSaveAndLoadConfig verifies that a saved config round trips
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "ctslices.yaml")

	cfg := DefaultConfig()
	cfg.Filters.Threshold.Lower = -200
	cfg.Filters.Threshold.Upper = 300
	cfg.Export.PatientID = "PID42"
	cfg.Journal.Path = "jobs.db"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}
	// metadata fields sit directly under export
	if !strings.Contains(string(data), "patientID: PID42") {
		t.Errorf("Expected inline patientID in saved config, got:\n%s", data)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if loaded.Filters.Threshold.Lower != -200 || loaded.Filters.Threshold.Upper != 300 {
		t.Errorf("Expected threshold [-200, 300], got [%d, %d]",
			loaded.Filters.Threshold.Lower, loaded.Filters.Threshold.Upper)
	}
	if loaded.Export.PatientID != "PID42" {
		t.Errorf("Expected patient ID PID42, got %q", loaded.Export.PatientID)
	}
	if loaded.Journal.Path != "jobs.db" {
		t.Errorf("Expected journal path jobs.db, got %q", loaded.Journal.Path)
	}
}

// TestPartialConfigKeepsDefaults verifies that unset keys keep their defaults
func TestPartialConfigKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	yaml := "filters:\n  median:\n    kernel:\n      width: 5\n      height: 5\n      depth: 1\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Filters.Median.Kernel != (filters.Kernel{Width: 5, Height: 5, Depth: 1}) {
		t.Errorf("Expected 5x5x1 kernel, got %+v", cfg.Filters.Median.Kernel)
	}
	if cfg.Filters.Gradient.Variant != "sobel" {
		t.Errorf("Expected default variant sobel, got %q", cfg.Filters.Gradient.Variant)
	}
}

// TestInvalidConfig verifies that bad values are rejected on load
func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"swapped threshold", "filters:\n  threshold:\n    lower: 10\n    upper: 5\n"},
		{"zero kernel", "filters:\n  median:\n    kernel:\n      width: 0\n"},
		{"bad variant", "filters:\n  gradient:\n    variant: median\n"},
		{"no bins", "viewer:\n  histogramBins: 0\n"},
		{"not yaml", "filters: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

// TestFilterRequest verifies that requests pick up configured parameters
func TestFilterRequest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Filters.Gradient.Variant = "roberts"

	req, err := cfg.FilterRequest("gradient", models.ActivePlanesOnly)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if req.Kind != filters.Gradient || req.Variant != filters.Roberts {
		t.Errorf("Expected Roberts gradient, got %s", req)
	}

	req, err = cfg.FilterRequest("threshold", models.AllSlices)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if req.Lower != 0 || req.Upper != 1000 || req.Scope != models.AllSlices {
		t.Errorf("Expected threshold [0, 1000] over all slices, got %+v", req)
	}

	if _, err := cfg.FilterRequest("blur", models.AllSlices); err == nil {
		t.Error("Expected error for unknown filter, got nil")
	}
}
