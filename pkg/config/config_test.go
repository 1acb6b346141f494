package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hashstore/pkg/config"
)

func TestNewAppliesDefaultsThenOptions(t *testing.T) {
	cfg := config.New()
	if cfg.BucketSize != config.DefaultBucketSize {
		t.Errorf("BucketSize = %d, want default %d", cfg.BucketSize, config.DefaultBucketSize)
	}

	cfg = config.New(config.WithBucketSize(8192), config.WithAnalyzeInterval(time.Minute))
	if cfg.BucketSize != 8192 {
		t.Errorf("BucketSize = %d, want 8192", cfg.BucketSize)
	}
	if cfg.AnalyzeInterval != time.Minute {
		t.Errorf("AnalyzeInterval = %v, want 1m", cfg.AnalyzeInterval)
	}
	// Untouched fields still carry their defaults.
	if cfg.ExtentSize != config.DefaultExtentSize {
		t.Errorf("ExtentSize = %d, want default %d", cfg.ExtentSize, config.DefaultExtentSize)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.jsonc"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := config.New()
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("Load(missing) mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadParsesJSONWithCommentsAndOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashstore.jsonc")
	body := `{
		// bucket size in bytes
		"bucketSize": 8192,
		"analyzeIntervalSeconds": 60,
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BucketSize != 8192 {
		t.Errorf("BucketSize = %d, want 8192", cfg.BucketSize)
	}
	if cfg.AnalyzeInterval != 60*time.Second {
		t.Errorf("AnalyzeInterval = %v, want 60s", cfg.AnalyzeInterval)
	}
	if cfg.ExtentSize != config.DefaultExtentSize {
		t.Errorf("ExtentSize = %d, want untouched default %d", cfg.ExtentSize, config.DefaultExtentSize)
	}
}
