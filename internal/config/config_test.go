package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected defaults, got nil config")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Court.Tier.ExpertPanelSize != 10 {
		t.Fatalf("expert panel size = %d, want 10", cfg.Court.Tier.ExpertPanelSize)
	}
	if cfg.Court.ChallengeWindowHours != 48 {
		t.Fatalf("challenge window = %d, want 48", cfg.Court.ChallengeWindowHours)
	}
}

func TestLoadOrDefaultReadsFile(t *testing.T) {
	dir := t.TempDir()
	yml := GenerateDefault("proj-x")
	if err := os.WriteFile(filepath.Join(dir, "court.yml"), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Project.ID != "proj-x" {
		t.Fatalf("project id = %s, want proj-x", cfg.Project.ID)
	}
}

func TestLoadOrDefaultSurfacesBadYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "court.yml"), []byte("court: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(dir); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
}
