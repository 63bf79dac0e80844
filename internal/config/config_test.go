package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Load()

	if Cfg.EngineBinary != "xray" {
		t.Errorf("EngineBinary = %q, want xray", Cfg.EngineBinary)
	}
	if Cfg.ShortIDLength != 16 {
		t.Errorf("ShortIDLength = %d, want 16", Cfg.ShortIDLength)
	}
	if Cfg.PropagateWorkers != 4 {
		t.Errorf("PropagateWorkers = %d, want 4", Cfg.PropagateWorkers)
	}
	if Cfg.RotationSchedule != "0 4 * * *" {
		t.Errorf("RotationSchedule = %q", Cfg.RotationSchedule)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ENGINE_BINARY", "xray-custom")
	t.Setenv("SHORT_ID_LENGTH", "8")
	Load()
	t.Cleanup(Load)

	if Cfg.EngineBinary != "xray-custom" {
		t.Errorf("EngineBinary = %q, want xray-custom", Cfg.EngineBinary)
	}
	if Cfg.ShortIDLength != 8 {
		t.Errorf("ShortIDLength = %d, want 8", Cfg.ShortIDLength)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("15s", time.Minute); got != 15*time.Second {
		t.Errorf("Duration(15s) = %v", got)
	}
	if got := Duration("garbage", time.Minute); got != time.Minute {
		t.Errorf("malformed value = %v, want fallback", got)
	}
	if got := Duration("-3s", time.Minute); got != time.Minute {
		t.Errorf("negative value = %v, want fallback", got)
	}
}
