package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kebairia/snapkeep/internal/compress"
	"github.com/kebairia/snapkeep/internal/crypt"
	"github.com/kebairia/snapkeep/internal/fsutil"
	"github.com/kebairia/snapkeep/internal/progress"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix namespaces environment overrides, e.g. SNAPKEEP_BACKUP_COMPRESSION.
const EnvPrefix = "SNAPKEEP"

// DefaultOutputDirName is the backup directory created under the source root
// when no output directory is configured.
const DefaultOutputDirName = "backups"

// Config represents the top-level YAML configuration file.
type Config struct {
	Include     []string          `mapstructure:"include"     yaml:"include,omitempty"`
	Backup      BackupConfig      `mapstructure:"backup"      yaml:"backup"`
	Vault       VaultConfig       `mapstructure:"vault"       yaml:"vault"`
	Consolidate ConsolidateConfig `mapstructure:"consolidate" yaml:"consolidate"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address     string `mapstructure:"address"      yaml:"address"`
	RoleID      string `mapstructure:"role_id"      yaml:"role_id,omitempty"`
	ApproleName string `mapstructure:"approle_name" yaml:"approle_name,omitempty"`
}

// BackupConfig is the immutable input of a snapshot run. Slices are copied
// by the engine; callers must not rely on later mutation.
type BackupConfig struct {
	// Empty means <root>/backups.
	OutputDirectory string `mapstructure:"output_directory" yaml:"output_directory"`
	// Number of snapshots kept by retention; 0 keeps everything.
	MaxSnapshots     int             `mapstructure:"max_snapshots"     yaml:"max_snapshots"`
	Compression      compress.Format `mapstructure:"compression"       yaml:"compression"`
	CompressionLevel int             `mapstructure:"compression_level" yaml:"compression_level"`
	// Read size used for streamed hashing and copying.
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
	// Maximum simultaneous file operations; 0 means one per CPU.
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
	Exclude     []string `mapstructure:"exclude"     yaml:"exclude"`
	// Keep the uncompressed staged tree next to the archive.
	KeepStaged   bool               `mapstructure:"keep_staged"  yaml:"keep_staged"`
	LockTimeout  time.Duration      `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	Differential DifferentialConfig `mapstructure:"differential" yaml:"differential"`
	Encryption   EncryptionConfig   `mapstructure:"encryption"   yaml:"encryption"`

	// Observer receives progress updates. It is never read from a file.
	Observer progress.Observer `mapstructure:"-" yaml:"-"`
}

// DifferentialConfig controls differential snapshots.
type DifferentialConfig struct {
	Enabled bool `mapstructure:"enabled"   yaml:"enabled"`
	// Longest allowed run of differentials on top of one full snapshot.
	MaxChain int `mapstructure:"max_chain" yaml:"max_chain"`
}

// EncryptionConfig controls archive encryption. The passphrase comes from
// Passphrase or, when VaultPath is set, from that Vault secret.
type EncryptionConfig struct {
	Enabled    bool   `mapstructure:"enabled"     yaml:"enabled"`
	Passphrase string `mapstructure:"passphrase"  yaml:"passphrase,omitempty"`
	VaultPath  string `mapstructure:"vault_path"  yaml:"vault_path,omitempty"`
	VaultField string `mapstructure:"vault_field" yaml:"vault_field,omitempty"`
	WorkFactor int    `mapstructure:"work_factor" yaml:"work_factor,omitempty"`
}

// KeepPolicy picks the survivor of a duplicate group.
type KeepPolicy string

const (
	// KeepCreationTime keeps the file with the earliest birth time. Groups
	// whose birth times cannot be read are left alone and reported.
	KeepCreationTime KeepPolicy = "creation_time"
	// KeepModificationTime keeps the file with the earliest mtime.
	KeepModificationTime KeepPolicy = "modification_time"
	// KeepFirstSeen keeps the first file in sorted path order.
	KeepFirstSeen KeepPolicy = "first_seen"
)

// ConsolidateConfig controls the consolidation workflow.
type ConsolidateConfig struct {
	Organize          bool       `mapstructure:"organize"           yaml:"organize"`
	Dedup             bool       `mapstructure:"dedup"              yaml:"dedup"`
	Clean             bool       `mapstructure:"clean"              yaml:"clean"`
	DedupKeep         KeepPolicy `mapstructure:"dedup_keep"         yaml:"dedup_keep"`
	TransientPatterns []string   `mapstructure:"transient_patterns" yaml:"transient_patterns"`
}

// Default returns the configuration used when no file overrides a key.
func Default() Config {
	return Config{
		Backup: BackupConfig{
			MaxSnapshots:     5,
			Compression:      compress.Zip,
			CompressionLevel: 9,
			ChunkSize:        8192,
			Concurrency:      runtime.NumCPU(),
			Exclude: []string{
				"__pycache__", "*.pyc", "*.pyo", "*.pyd",
				".git", ".idea", ".vscode", "venv", DefaultOutputDirName,
			},
			KeepStaged:  true,
			LockTimeout: 30 * time.Second,
			Differential: DifferentialConfig{
				Enabled:  true,
				MaxChain: 5,
			},
			Encryption: EncryptionConfig{
				VaultField: "passphrase",
				WorkFactor: crypt.DefaultWorkFactor,
			},
		},
		Consolidate: ConsolidateConfig{
			Organize:  true,
			Dedup:     true,
			Clean:     true,
			DedupKeep: KeepCreationTime,
			TransientPatterns: []string{
				"*.tmp", "*.temp", "*.bak", "*.swp", "~*",
				"*.cache", "*.log", "*.pyc", "__pycache__", ".DS_Store",
			},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("include", []string{})
	v.SetDefault("backup.output_directory", d.Backup.OutputDirectory)
	v.SetDefault("backup.max_snapshots", d.Backup.MaxSnapshots)
	v.SetDefault("backup.compression", string(d.Backup.Compression))
	v.SetDefault("backup.compression_level", d.Backup.CompressionLevel)
	v.SetDefault("backup.chunk_size", d.Backup.ChunkSize)
	v.SetDefault("backup.concurrency", d.Backup.Concurrency)
	v.SetDefault("backup.exclude", d.Backup.Exclude)
	v.SetDefault("backup.keep_staged", d.Backup.KeepStaged)
	v.SetDefault("backup.lock_timeout", d.Backup.LockTimeout)
	v.SetDefault("backup.differential.enabled", d.Backup.Differential.Enabled)
	v.SetDefault("backup.differential.max_chain", d.Backup.Differential.MaxChain)
	v.SetDefault("backup.encryption.enabled", d.Backup.Encryption.Enabled)
	v.SetDefault("backup.encryption.passphrase", "")
	v.SetDefault("backup.encryption.vault_path", "")
	v.SetDefault("backup.encryption.vault_field", d.Backup.Encryption.VaultField)
	v.SetDefault("backup.encryption.work_factor", d.Backup.Encryption.WorkFactor)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.role_id", "")
	v.SetDefault("vault.approle_name", "")
	v.SetDefault("consolidate.organize", d.Consolidate.Organize)
	v.SetDefault("consolidate.dedup", d.Consolidate.Dedup)
	v.SetDefault("consolidate.clean", d.Consolidate.Clean)
	v.SetDefault("consolidate.dedup_keep", string(d.Consolidate.DedupKeep))
	v.SetDefault("consolidate.transient_patterns", d.Consolidate.TransientPatterns)
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, applies SNAPKEEP_* environment overrides, and
// unmarshals into the Config struct. An empty path loads defaults and
// environment only.
func (c *Config) Load(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		// Read base configuration
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
		}

		// Merge include files (if any), relative to the base file
		for _, inc := range v.GetStringSlice("include") {
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(path), inc)
			}
			data, err := os.ReadFile(inc)
			if err != nil {
				return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
			}
			if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
				return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
			}
		}
	}

	var loaded Config
	if err := v.UnmarshalExact(&loaded); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}
	*c = loaded
	return c.Validate()
}

// Validate checks every field that would otherwise fail later, mid-run.
func (c *Config) Validate() error {
	if err := c.Backup.Validate(); err != nil {
		return err
	}
	switch c.Consolidate.DedupKeep {
	case KeepCreationTime, KeepModificationTime, KeepFirstSeen:
	default:
		return fmt.Errorf("%w: consolidate.dedup_keep %q must be one of %s, %s, %s",
			ErrValidateConfig, c.Consolidate.DedupKeep,
			KeepCreationTime, KeepModificationTime, KeepFirstSeen)
	}
	if _, err := fsutil.NewMatcher(c.Consolidate.TransientPatterns); err != nil {
		return fmt.Errorf("%w: consolidate.transient_patterns: %w", ErrValidateConfig, err)
	}
	return nil
}

// Validate checks a BackupConfig on its own, for library callers that
// build one without a file.
func (b BackupConfig) Validate() error {
	if err := compress.Validate(b.Compression, b.CompressionLevel); err != nil {
		return fmt.Errorf("%w: backup.compression: %w", ErrValidateConfig, err)
	}
	if b.MaxSnapshots < 0 {
		return fmt.Errorf("%w: backup.max_snapshots must be >= 0", ErrValidateConfig)
	}
	if b.ChunkSize <= 0 {
		return fmt.Errorf("%w: backup.chunk_size must be > 0", ErrValidateConfig)
	}
	if b.Concurrency < 0 {
		return fmt.Errorf("%w: backup.concurrency must be >= 0", ErrValidateConfig)
	}
	if _, err := fsutil.NewMatcher(b.Exclude); err != nil {
		return fmt.Errorf("%w: backup.exclude: %w", ErrValidateConfig, err)
	}
	if b.Differential.Enabled && b.Differential.MaxChain < 1 {
		return fmt.Errorf("%w: backup.differential.max_chain must be >= 1", ErrValidateConfig)
	}
	if b.Compression == compress.None && !b.KeepStaged {
		return fmt.Errorf("%w: compression none requires keep_staged", ErrValidateConfig)
	}
	if e := b.Encryption; e.Enabled {
		if b.Compression == compress.None {
			return fmt.Errorf("%w: encryption needs an archive, compression must not be none", ErrValidateConfig)
		}
		if e.Passphrase == "" && e.VaultPath == "" {
			return fmt.Errorf("%w: backup.encryption needs a passphrase or vault_path", ErrValidateConfig)
		}
		if e.WorkFactor < 0 || e.WorkFactor > 30 {
			return fmt.Errorf("%w: backup.encryption.work_factor must be in 1..30", ErrValidateConfig)
		}
	}
	return nil
}

// ResolveOutputDirectory returns the backup directory for a source root.
func (b BackupConfig) ResolveOutputDirectory(root string) string {
	if b.OutputDirectory != "" {
		return b.OutputDirectory
	}
	return filepath.Join(root, DefaultOutputDirName)
}

// Workers returns the effective worker-pool size.
func (b BackupConfig) Workers() int {
	if b.Concurrency > 0 {
		return b.Concurrency
	}
	return runtime.NumCPU()
}
