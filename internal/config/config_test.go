package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingConfigReturnsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ProjectKey != "default" {
		t.Errorf("ProjectKey = %q, want default", cfg.ProjectKey)
	}
	if cfg.Embedding.Dimension != 1024 {
		t.Errorf("Embedding.Dimension = %d, want 1024", cfg.Embedding.Dimension)
	}
	if cfg.RepoRoot != dir {
		t.Errorf("RepoRoot = %q, want %q", cfg.RepoRoot, dir)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, Dir), 0755); err != nil {
		t.Fatal(err)
	}

	content := `
projectKey: payments-core
embedding:
  baseUrl: http://embed.internal:8000
  batchSize: 32
guard:
  dailyQuestionQuota: 10
`
	if err := os.WriteFile(filepath.Join(dir, Dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ProjectKey != "payments-core" {
		t.Errorf("ProjectKey = %q", cfg.ProjectKey)
	}
	if cfg.Embedding.BatchSize != 32 {
		t.Errorf("BatchSize = %d, want 32", cfg.Embedding.BatchSize)
	}
	if cfg.Guard.DailyQuestionQuota != 10 {
		t.Errorf("DailyQuestionQuota = %d, want 10", cfg.Guard.DailyQuestionQuota)
	}
}

func TestEndpointsTOMLOverridesInline(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, Dir), 0755); err != nil {
		t.Fatal(err)
	}

	tomlContent := `
[[endpoints]]
name = "primary"
base_url = "https://llm-a.internal/v1"
api_key = "key-a"
model = "glm-4"
max_tokens = 8192
enabled = true

[[endpoints]]
name = "fallback"
base_url = "https://llm-b.internal/v1"
model = "glm-4"
enabled = true
`
	if err := os.WriteFile(filepath.Join(dir, Dir, "endpoints.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Llm.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.Llm.Endpoints))
	}
	if cfg.Llm.Endpoints[0].BaseURL != "https://llm-a.internal/v1" {
		t.Errorf("endpoint[0].BaseURL = %q", cfg.Llm.Endpoints[0].BaseURL)
	}
	if cfg.Llm.Endpoints[1].Name != "fallback" {
		t.Errorf("endpoint[1].Name = %q", cfg.Llm.Endpoints[1].Name)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}

	cfg.ProjectKey = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty projectKey")
	}

	cfg = DefaultConfig()
	cfg.Llm.Endpoints = []EndpointConfig{{Name: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for endpoint without baseUrl")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ProjectKey = "saved-project"
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.ProjectKey != "saved-project" {
		t.Errorf("round-tripped ProjectKey = %q", loaded.ProjectKey)
	}
}
