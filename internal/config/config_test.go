package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("COORD_BACKEND", "")
	cfg := Load()

	if cfg.JobTimeout() != 650*time.Second {
		t.Fatalf("expected 650s job timeout, got %s", cfg.JobTimeout())
	}
	if cfg.NotifyPerItem() != 3*time.Second || cfg.NotifyCeiling() != 10*time.Second {
		t.Fatalf("expected 3s/10s notification delays, got %s/%s", cfg.NotifyPerItem(), cfg.NotifyCeiling())
	}
	if cfg.QualityMinBytes != 10*1024 || cfg.QualityMinDimension != 50 {
		t.Fatalf("unexpected quality defaults: %d/%d", cfg.QualityMinBytes, cfg.QualityMinDimension)
	}
	if cfg.ResolvedCoordBackend() != "memory" {
		t.Fatalf("expected memory backend without redis, got %s", cfg.ResolvedCoordBackend())
	}
}

func TestResolvedCoordBackend(t *testing.T) {
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("COORD_BACKEND", "")
	if got := Load().ResolvedCoordBackend(); got != "redis" {
		t.Fatalf("expected redis with an address, got %s", got)
	}

	t.Setenv("COORD_BACKEND", "FILE")
	if got := Load().ResolvedCoordBackend(); got != "file" {
		t.Fatalf("expected explicit file backend, got %s", got)
	}
}

func TestLoadListAndInvalidNumbers(t *testing.T) {
	t.Setenv("DAMAGE_FEATURES", "damage_recognition, ,vehicle_model_detection")
	t.Setenv("WORKER_CONCURRENCY", "many")
	cfg := Load()

	if len(cfg.DamageFeatures) != 2 || cfg.DamageFeatures[1] != "vehicle_model_detection" {
		t.Fatalf("unexpected features: %v", cfg.DamageFeatures)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Fatalf("expected fallback concurrency 4, got %d", cfg.WorkerConcurrency)
	}
}

func TestLoadDotEnvKeepsProcessEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local settings\n" +
		"export DOTENV_TEST_PLAIN=plain # trailing\n" +
		"DOTENV_TEST_QUOTED=\"line\\nnext\"\n" +
		"DOTENV_TEST_SINGLE='keep # this'\n" +
		"DOTENV_TEST_EXISTING=from-file\n" +
		"not a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOTENV_TEST_EXISTING", "from-env")
	for _, key := range []string{"DOTENV_TEST_PLAIN", "DOTENV_TEST_QUOTED", "DOTENV_TEST_SINGLE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != path {
		t.Fatalf("expected only %s loaded, got %v", path, loaded)
	}

	checks := map[string]string{
		"DOTENV_TEST_PLAIN":    "plain",
		"DOTENV_TEST_QUOTED":   "line\nnext",
		"DOTENV_TEST_SINGLE":   "keep # this",
		"DOTENV_TEST_EXISTING": "from-env",
	}
	for key, expected := range checks {
		if got := os.Getenv(key); got != expected {
			t.Fatalf("expected %s=%q, got %q", key, expected, got)
		}
	}
}
