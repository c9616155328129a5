package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReturnWindowFallback(t *testing.T) {
	t.Setenv("RETURN_WINDOW_DAYS", "not-a-number")

	cfg := Load()
	if cfg.ReturnWindowDays != 14 {
		t.Fatalf("expected fallback return window 14, got %d", cfg.ReturnWindowDays)
	}

	t.Setenv("RETURN_WINDOW_DAYS", "30")
	cfg = Load()
	if cfg.ReturnWindowDays != 30 {
		t.Fatalf("expected return window 30, got %d", cfg.ReturnWindowDays)
	}
}
