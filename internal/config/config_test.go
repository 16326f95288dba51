package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	runtimePath := writeTempFile(t, dir, "runtime.yaml", `
runtime:
  instance_id: node-a
`)
	dsPath := writeTempFile(t, dir, "datasources.yaml", `
data_sources:
  - id: primary
    driver: postgres
    host: db.internal
    max: 10
`)

	cfg, err := Load(runtimePath, dsPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Runtime.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.Runtime.LogLevel)
	}
	if cfg.Runtime.HealthCheckPort != 8080 {
		t.Errorf("HealthCheckPort default = %d, want 8080", cfg.Runtime.HealthCheckPort)
	}
	if cfg.Runtime.MetricsPort != 9090 {
		t.Errorf("MetricsPort default = %d, want 9090", cfg.Runtime.MetricsPort)
	}
	ds, ok := cfg.DataSourceByID("primary")
	if !ok {
		t.Fatal("data source primary not found")
	}
	if ds.IdleTimeout != 5*time.Minute {
		t.Errorf("IdleTimeout default = %v, want 5m", ds.IdleTimeout)
	}
	if ds.SweepInterval != 60*time.Second {
		t.Errorf("SweepInterval default = %v, want 60s", ds.SweepInterval)
	}
	if ds.ConnectionTimeout != 30*time.Second {
		t.Errorf("ConnectionTimeout default = %v, want 30s", ds.ConnectionTimeout)
	}
}

func TestLoadRejectsDataSourceMissingRequiredFields(t *testing.T) {
	dir := t.TempDir()
	runtimePath := writeTempFile(t, dir, "runtime.yaml", "runtime:\n  instance_id: node-a\n")
	dsPath := writeTempFile(t, dir, "datasources.yaml", `
data_sources:
  - id: primary
    driver: postgres
    max: 10
`) // host missing

	if _, err := Load(runtimePath, dsPath); err == nil {
		t.Fatal("expected validation error for missing host, got nil")
	}
}

func TestLoadRejectsInitialAboveMax(t *testing.T) {
	dir := t.TempDir()
	runtimePath := writeTempFile(t, dir, "runtime.yaml", "runtime:\n  instance_id: node-a\n")
	dsPath := writeTempFile(t, dir, "datasources.yaml", `
data_sources:
  - id: primary
    driver: postgres
    host: db.internal
    max: 2
    initial: 5
`)

	if _, err := Load(runtimePath, dsPath); err == nil {
		t.Fatal("expected validation error for initial > max, got nil")
	}
}

func TestLoadRejectsEmptyDataSources(t *testing.T) {
	dir := t.TempDir()
	runtimePath := writeTempFile(t, dir, "runtime.yaml", "runtime:\n  instance_id: node-a\n")
	dsPath := writeTempFile(t, dir, "datasources.yaml", "data_sources: []\n")

	if _, err := Load(runtimePath, dsPath); err == nil {
		t.Fatal("expected validation error for empty data sources, got nil")
	}
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Runtime: RuntimeConfig{LogLevel: "debug", MetricsPort: 1234},
	}
	cfg.applyDefaults()

	if cfg.Runtime.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug (explicit value must not be overwritten)", cfg.Runtime.LogLevel)
	}
	if cfg.Runtime.MetricsPort != 1234 {
		t.Errorf("MetricsPort = %d, want 1234", cfg.Runtime.MetricsPort)
	}
}
