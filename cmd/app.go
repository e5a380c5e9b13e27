package cmd

import (
	"context"
	"fmt"

	"github.com/kebairia/snapkeep/internal/config"
	"github.com/kebairia/snapkeep/internal/logger"
	"github.com/kebairia/snapkeep/internal/metrics"
	"github.com/kebairia/snapkeep/internal/operations"
	"github.com/kebairia/snapkeep/internal/progress"
	"github.com/kebairia/snapkeep/internal/vault"
)

// app bundles what every command needs: the loaded config and an engine
// bound to the backup directory of the project root.
type app struct {
	cfg     config.Config
	log     logger.Logger
	metrics *metrics.Collector
	engine  *operations.Engine
}

func newApp(root string) (*app, error) {
	var cfg config.Config
	if err := cfg.Load(ConfigFile); err != nil {
		return nil, err
	}
	log := logger.Global()
	cfg.Backup.Observer = progress.ObserverFunc(func(p progress.BackupProgress) {
		if p.CurrentFile != "" {
			log.Debug("copying", "file", p.CurrentFile, "done", p.ProcessedFiles, "total", p.TotalFiles)
		}
	})

	a := &app{cfg: cfg, log: log, metrics: metrics.NewCollector()}
	opts := []operations.Option{
		operations.WithLogger(log),
		operations.WithMetrics(a.metrics),
	}
	if enc := cfg.Backup.Encryption; enc.Passphrase == "" && enc.VaultPath != "" {
		opts = append(opts, operations.WithKeySource(vaultKeys(cfg.Vault, enc.VaultPath, enc.VaultField)))
	}
	a.engine = operations.NewEngine(cfg.Backup.ResolveOutputDirectory(root), cfg.Backup, opts...)
	return a, nil
}

// vaultKeys logs in to Vault only when a passphrase is first needed.
func vaultKeys(vc config.VaultConfig, path, field string) operations.KeySource {
	return func(ctx context.Context) (string, error) {
		client, err := vault.NewClient(ctx,
			vault.WithAddress(vc.Address),
			vault.WithAppRole(vc.RoleID, vc.ApproleName),
		)
		if err != nil {
			return "", err
		}
		return operations.VaultKey(client, path, field)(ctx)
	}
}

// finish writes the metrics textfile when one was requested.
func (a *app) finish() error {
	if metricsTextfile == "" {
		return nil
	}
	if err := a.metrics.WriteTextfile(metricsTextfile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
