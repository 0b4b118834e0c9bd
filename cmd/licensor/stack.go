package main

import (
	"fmt"
	"time"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/config"
	"github.com/autobrr/licensor/internal/database"
	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/keyvault"
	"github.com/autobrr/licensor/internal/metrics"
	"github.com/autobrr/licensor/internal/models"
)

// stack is the wired service graph shared by serve and the admin commands
type stack struct {
	cfg         *config.AppConfig
	db          *database.DB
	licenses    *models.LicenseStore
	activations *models.ActivationStore
	directory   *models.DirectoryStore
	vault       *keyvault.Vault
	factory     *generation.Factory
	engine      *activation.Engine
	sweeper     *activation.Sweeper
	metrics     *metrics.Manager
}

func loadConfig(configDir, dataDir string) (*config.AppConfig, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}

	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}
	return cfg, nil
}

// openStack opens the database and builds every service on top of it.
// Metrics are only wired when withMetrics is set.
func openStack(cfg *config.AppConfig, withMetrics bool) (*stack, error) {
	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &stack{
		cfg:         cfg,
		db:          db,
		licenses:    models.NewLicenseStore(db.Conn()),
		activations: models.NewActivationStore(db.Conn()),
		directory:   models.NewDirectoryStore(db.Conn()),
	}

	s.vault, err = keyvault.New(models.NewKeyPairStore(db.Conn()), cfg.GetEncryptionKey(), keyvault.Config{
		Algorithm: cfg.Config.Keys.Algorithm,
		KeySize:   cfg.Config.Keys.Size,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize key vault: %w", err)
	}

	var (
		generated generation.Recorder
		attempts  activation.Recorder
		observer  activation.SweepObserver
	)
	if withMetrics {
		s.metrics = metrics.NewManager(s.licenses, s.activations)
		generated, attempts, observer = s.metrics, s.metrics, s.metrics
	}

	s.factory = generation.NewFactory(s.vault, s.licenses, s.activations, s.directory, generation.Options{
		DefaultValidity: time.Duration(cfg.Config.Licensing.DefaultValidityDays) * 24 * time.Hour,
		Recorder:        generated,
	})

	s.engine = activation.NewEngine(s.licenses, s.activations, activation.Options{
		Recorder: attempts,
	})

	s.sweeper = activation.NewSweeper(s.engine, s.timing, observer)

	return s, nil
}

// timing is read on every sweep so config reloads apply without a restart
func (s *stack) timing() activation.Timing {
	return activation.Timing{
		Interval:           s.cfg.SweepInterval(),
		HeartbeatStaleness: s.cfg.HeartbeatStaleness(),
		SlotStaleness:      s.cfg.SlotStaleness(),
	}
}

func (s *stack) Close() {
	s.vault.Close()
	s.db.Close()
}
