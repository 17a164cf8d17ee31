package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTempConfig writes content to a temporary YAML file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `skinflow:
  name: "TestApp"
  version: "1.0"
storage:
  mysql:
    dsn: "user:pass@tcp(localhost:3306)/prices"
`

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Skinflow.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Skinflow.Name)
	}
	if len(cfg.Sources) != 4 {
		t.Fatalf("expected built-in registry of 4 sources, got %d", len(cfg.Sources))
	}
	want := []string{SourceSkinport, SourceCSFloat, SourceSteam, SourceBuff163}
	for i, s := range cfg.Sources {
		if s.Name != want[i] {
			t.Errorf("source %d = %s, want %s", i, s.Name, want[i])
		}
	}
	if cfg.Run.Concurrency != 1 {
		t.Errorf("expected sequential default, got %d", cfg.Run.Concurrency)
	}
	if cfg.Storage.MySQL.Table != "market_prices" {
		t.Errorf("unexpected table: %s", cfg.Storage.MySQL.Table)
	}
}

func TestLoadConfigSourceOverrides(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	content := minimalConfig + `sources:
  - name: buff163
    batch_size: 300
  - name: custom
    url: "http://example.com/custom.json"
    enabled: false
run:
  deadline: 2m
`
	cfg, err := LoadConfig(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	buff := cfg.Sources[0]
	if buff.BatchSize != 300 {
		t.Errorf("batch size override lost: %d", buff.BatchSize)
	}
	if buff.URL == "" || buff.DBChunkSize != 250 || buff.WriteTimeout != 45*time.Second {
		t.Errorf("buff163 defaults not applied: %+v", buff)
	}
	if cfg.Sources[1].Pace != 250*time.Millisecond {
		t.Errorf("generic pace default not applied: %s", cfg.Sources[1].Pace)
	}
	enabled := cfg.EnabledSources()
	if len(enabled) != 1 || enabled[0].Name != SourceBuff163 {
		t.Fatalf("expected only buff163 enabled, got %+v", enabled)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MYSQL_DSN", "env:dsn@tcp(db:3306)/prices")
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.MySQL.DSN != "env:dsn@tcp(db:3306)/prices" {
		t.Errorf("MYSQL_DSN override not applied: %s", cfg.Storage.MySQL.DSN)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("S3_BUCKET", "")
	cases := map[string]struct {
		content string
		wantErr string
	}{
		"missing dsn": {
			content: "skinflow:\n  name: x\n",
			wantErr: "storage.mysql.dsn",
		},
		"duplicate source": {
			content: minimalConfig + "sources:\n  - name: steam\n  - name: steam\n",
			wantErr: "duplicated",
		},
		"write timeout beyond deadline": {
			content: minimalConfig + "run:\n  deadline: 10s\nsources:\n  - name: steam\n    write_timeout: 20s\n",
			wantErr: "write_timeout",
		},
		"s3 without bucket": {
			content: minimalConfig + "  s3:\n    enabled: true\n    region: eu-west-1\n",
			wantErr: "storage.s3.bucket",
		},
		"schedule without cron": {
			content: minimalConfig + "schedule:\n  enabled: true\n  cron: \"\"\n",
			wantErr: "schedule.cron",
		},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, c.content))
			if err == nil {
				t.Fatalf("expected error containing %q", c.wantErr)
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Fatalf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte(minimalConfig), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolveConfigPath(base); got != prod {
		t.Errorf("ResolveConfigPath = %s, want %s", got, prod)
	}

	t.Setenv("APP_ENV", "staging")
	if got := ResolveConfigPath(base); got != base {
		t.Errorf("ResolveConfigPath = %s, want %s", got, base)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
