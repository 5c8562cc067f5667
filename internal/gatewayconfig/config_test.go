package gatewayconfig

import (
	"testing"
	"time"
)

func TestLoad_DefaultsWithNoConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pool.Size != 3 {
		t.Errorf("Pool.Size = %d, want 3", cfg.Pool.Size)
	}
	if cfg.Pool.BasePort != 8765 {
		t.Errorf("Pool.BasePort = %d, want 8765", cfg.Pool.BasePort)
	}
	if cfg.Dispatcher.MaxAttempts != 3 {
		t.Errorf("Dispatcher.MaxAttempts = %d, want 3", cfg.Dispatcher.MaxAttempts)
	}
	if cfg.Dispatcher.RetryDelay != 500*time.Millisecond {
		t.Errorf("Dispatcher.RetryDelay = %v, want 500ms", cfg.Dispatcher.RetryDelay)
	}
	if cfg.Dispatcher.StickyFailRateCutoff != 0.30 {
		t.Errorf("Dispatcher.StickyFailRateCutoff = %v, want 0.30", cfg.Dispatcher.StickyFailRateCutoff)
	}
	if cfg.ServiceManager.MaxRestarts != 3 {
		t.Errorf("ServiceManager.MaxRestarts = %d, want 3", cfg.ServiceManager.MaxRestarts)
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoad_NonexistentExplicitPathErrors(t *testing.T) {
	if _, err := Load("/no/such/path/gatewaypool.yaml"); err == nil {
		t.Fatal("expected an error for an explicit, missing config file")
	}
}
