package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"github.com/kebairia/snapkeep/internal/config"
	"github.com/kebairia/snapkeep/internal/crypt"
	"github.com/kebairia/snapkeep/internal/hasher"
	"github.com/kebairia/snapkeep/internal/logger"
	"github.com/kebairia/snapkeep/internal/metadata"
	"github.com/kebairia/snapkeep/internal/metrics"
	"github.com/kebairia/snapkeep/internal/vault"
)

// ErrConfig marks every configuration problem detected before a run
// touches the filesystem.
var ErrConfig = errors.New("backup configuration error")

// KeySource yields the passphrase used to encrypt and decrypt archives.
type KeySource func(ctx context.Context) (string, error)

// VaultKey reads the passphrase from a Vault secret field.
func VaultKey(c *vault.Client, path, field string) KeySource {
	return func(ctx context.Context) (string, error) {
		return c.GetField(ctx, path, field)
	}
}

type Option func(*Engine)

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics records every run into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithKeySource is consulted when the configuration carries no passphrase.
func WithKeySource(k KeySource) Option {
	return func(e *Engine) { e.keys = k }
}

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// Engine creates, verifies, restores and prunes the snapshots of one
// backup directory.
type Engine struct {
	cfg     config.BackupConfig
	dir     string
	store   *metadata.Store
	hasher  *hasher.Hasher
	log     logger.Logger
	metrics *metrics.Collector
	keys    KeySource
	clock   clock.Clock

	cipherMu sync.Mutex
	cipher   *crypt.Cipher
}

// NewEngine returns an Engine that keeps its snapshots and index in dir.
// The configuration is checked at the start of every run rather than here,
// so that a bad value surfaces as a failed run.
func NewEngine(dir string, cfg config.BackupConfig, opts ...Option) *Engine {
	cfg.Exclude = append([]string(nil), cfg.Exclude...)
	e := &Engine{
		cfg:   cfg,
		dir:   dir,
		log:   logger.Global(),
		clock: clock.WallClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hasher = hasher.New(
		hasher.WithChunkSize(cfg.ChunkSize),
		hasher.WithConcurrency(cfg.Workers()),
	)
	e.store = metadata.NewStore(dir,
		metadata.WithLogger(e.log),
		metadata.WithLockTimeout(cfg.LockTimeout),
		metadata.WithClock(e.clock),
	)
	return e
}

// Dir is the backup directory.
func (e *Engine) Dir() string { return e.dir }

// Store exposes the snapshot index.
func (e *Engine) Store() *metadata.Store { return e.store }

// ListSnapshots returns every recorded snapshot in creation order.
func (e *Engine) ListSnapshots() ([]metadata.Snapshot, error) {
	return e.store.List()
}

func (e *Engine) validate() error {
	if err := e.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// cipherFor resolves key material once per Engine.
func (e *Engine) cipherFor(ctx context.Context) (*crypt.Cipher, error) {
	e.cipherMu.Lock()
	defer e.cipherMu.Unlock()
	if e.cipher != nil {
		return e.cipher, nil
	}

	pass := e.cfg.Encryption.Passphrase
	if pass == "" && e.keys != nil {
		p, err := e.keys(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch encryption key: %w", err)
		}
		pass = p
	}
	c, err := crypt.New(pass, e.cfg.Encryption.WorkFactor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	e.cipher = c
	return c, nil
}
