package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MODEL_PATH", "")
	t.Setenv("DATABASE_DSN", "")

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.ModelPath != "models/kidney_segmentation.onnx" {
		t.Fatalf("unexpected model path: %s", cfg.ModelPath)
	}
	if cfg.DatabaseDSN != "" {
		t.Fatalf("database must be optional, got %s", cfg.DatabaseDSN)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_PATH", "/opt/models/seg.onnx")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "shh")

	cfg := Load()
	if cfg.Port != "9090" || cfg.ModelPath != "/opt/models/seg.onnx" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RedisAddr != "redis:6379" || cfg.JWTSecret != "shh" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}
