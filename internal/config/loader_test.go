package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kebairia/snapkeep/internal/compress"
)

func writeYAML(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}
	return p
}

func TestLoadConfig_ParsesBackupSection(t *testing.T) {
	yaml := `
backup:
  output_directory: "/tmp/backups"
  max_snapshots: 3
  compression: zstd
  compression_level: 19
  lock_timeout: 5s
  exclude: ["*.log"]
  differential:
    enabled: true
    max_chain: 2
consolidate:
  dedup_keep: modification_time
`
	path := writeYAML(t, t.TempDir(), "cfg.yaml", yaml)

	var cfg Config
	if err := cfg.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backup.OutputDirectory != "/tmp/backups" {
		t.Errorf("output_directory = %q", cfg.Backup.OutputDirectory)
	}
	if cfg.Backup.Compression != compress.Zstd || cfg.Backup.CompressionLevel != 19 {
		t.Errorf("compression = %s/%d", cfg.Backup.Compression, cfg.Backup.CompressionLevel)
	}
	if cfg.Backup.LockTimeout != 5*time.Second {
		t.Errorf("lock_timeout = %s", cfg.Backup.LockTimeout)
	}
	if cfg.Backup.Differential.MaxChain != 2 {
		t.Errorf("max_chain = %d", cfg.Backup.Differential.MaxChain)
	}
	if cfg.Consolidate.DedupKeep != KeepModificationTime {
		t.Errorf("dedup_keep = %s", cfg.Consolidate.DedupKeep)
	}
	// Untouched keys keep their defaults.
	if cfg.Backup.ChunkSize != 8192 {
		t.Errorf("chunk_size = %d, want default", cfg.Backup.ChunkSize)
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Load(""); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	d := Default()
	if cfg.Backup.Compression != d.Backup.Compression || cfg.Backup.MaxSnapshots != d.Backup.MaxSnapshots {
		t.Errorf("defaults not applied: %+v", cfg.Backup)
	}
	if len(cfg.Consolidate.TransientPatterns) != len(d.Consolidate.TransientPatterns) {
		t.Errorf("transient patterns = %v", cfg.Consolidate.TransientPatterns)
	}
}

func TestLoadConfig_MergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "extra.yaml", "backup:\n  max_snapshots: 11\n")
	path := writeYAML(t, dir, "cfg.yaml", "include: [extra.yaml]\nbackup:\n  max_snapshots: 2\n")

	var cfg Config
	if err := cfg.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backup.MaxSnapshots != 11 {
		t.Errorf("max_snapshots = %d, want include to win", cfg.Backup.MaxSnapshots)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SNAPKEEP_BACKUP_COMPRESSION", "gzip")
	t.Setenv("SNAPKEEP_BACKUP_COMPRESSION_LEVEL", "6")

	var cfg Config
	if err := cfg.Load(""); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backup.Compression != compress.Gzip || cfg.Backup.CompressionLevel != 6 {
		t.Errorf("env override not applied: %s/%d", cfg.Backup.Compression, cfg.Backup.CompressionLevel)
	}
}

func TestLoadConfig_RejectsUnknownKey(t *testing.T) {
	path := writeYAML(t, t.TempDir(), "cfg.yaml", "backup:\n  compresion: zip\n")
	var cfg Config
	err := cfg.Load(path)
	if !errors.Is(err, ErrLoadConfig) {
		t.Fatalf("want ErrLoadConfig, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown format":  func(c *Config) { c.Backup.Compression = "rar" },
		"level too high":  func(c *Config) { c.Backup.Compression, c.Backup.CompressionLevel = compress.Gzip, 10 },
		"zero chunk":      func(c *Config) { c.Backup.ChunkSize = 0 },
		"negative keep":   func(c *Config) { c.Backup.MaxSnapshots = -1 },
		"bad exclude":     func(c *Config) { c.Backup.Exclude = []string{"[unclosed"} },
		"no key":          func(c *Config) { c.Backup.Encryption.Enabled = true },
		"zero chain":      func(c *Config) { c.Backup.Differential.MaxChain = 0 },
		"bad keep policy": func(c *Config) { c.Consolidate.DedupKeep = "newest" },
		"bad transient":   func(c *Config) { c.Consolidate.TransientPatterns = []string{"["} },
		"nothing kept":    func(c *Config) { c.Backup.Compression, c.Backup.KeepStaged = compress.None, false },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrValidateConfig) {
				t.Fatalf("want ErrValidateConfig, got %v", err)
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestResolveOutputDirectory(t *testing.T) {
	b := Default().Backup
	if got := b.ResolveOutputDirectory("/srv/project"); got != filepath.Join("/srv/project", "backups") {
		t.Errorf("got %q", got)
	}
	b.OutputDirectory = "/elsewhere"
	if got := b.ResolveOutputDirectory("/srv/project"); got != "/elsewhere" {
		t.Errorf("got %q", got)
	}
}
