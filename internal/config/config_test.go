package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "admin@example.com")
	t.Setenv("ADMIN_PASSWORD", "secret")
	t.Setenv("SESSION_SECRET", "s3cr3t")
	t.Setenv("DB_PATH", "")
	t.Setenv("PORT", "")
	t.Setenv("APP_ENV", "")

	cfg := Load()
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want default %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.Port != defaultPort {
		t.Errorf("Port = %q, want default %q", cfg.Port, defaultPort)
	}
	if !cfg.IsDev() {
		t.Error("expected dev mode when APP_ENV is unset")
	}
}

func TestLoadRespectsEnv(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "admin@example.com")
	t.Setenv("ADMIN_PASSWORD", "secret")
	t.Setenv("SESSION_SECRET", "s3cr3t")
	t.Setenv("DB_PATH", "/tmp/shop.db")
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")

	cfg := Load()
	if cfg.DBPath != "/tmp/shop.db" || cfg.Port != "9090" {
		t.Errorf("cfg = %+v, want env values respected", cfg)
	}
	if cfg.IsDev() {
		t.Error("production must not report dev mode")
	}
}
