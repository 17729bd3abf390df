// Package main запускает сервис holidayd.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mmeshcher/holidayd/internal/config"
	"github.com/mmeshcher/holidayd/internal/ledger"
	"github.com/mmeshcher/holidayd/internal/mailer"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/notify"
	"github.com/mmeshcher/holidayd/internal/repository"
	"github.com/mmeshcher/holidayd/internal/repository/memstore"
	"github.com/mmeshcher/holidayd/internal/settlement"
	"github.com/mmeshcher/holidayd/internal/sweeper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// store объединяет операции хранилища, нужные всем сервисам.
type store interface {
	ledger.Store
	settlement.Store
	sweeper.Store
	notify.Store
	Ping(ctx context.Context) error
	Close() error
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var (
		a      app
		loader *config.Loader
	)

	root := &cobra.Command{
		Use:           "holidayd",
		Short:         "Token ledger, expiration sweeper and agent settlement for Holiday Sri Lanka",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loader.Load()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "configuration error:", err)
				return err
			}

			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	loader = config.BindFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(&a),
		newSweepCmd(&a),
		newMigrateCmd(&a),
		newTokenCmd(&a),
	)
	return root
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func (a *app) openStore() (store, error) {
	if a.cfg.InMemory {
		a.logger.Warn("using in-memory store, data is lost on exit")
		return memstore.New(), nil
	}

	repo, err := repository.NewPostgresRepository(a.cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("database initialization: %w", err)
	}
	return repo, nil
}

func (a *app) newMailer() mailer.Mailer {
	if a.cfg.Mail.URL == "" {
		a.logger.Info("mail relay is not configured, emails are logged only")
		return mailer.NewLogMailer(a.logger)
	}
	return mailer.NewClient(mailer.Config{
		URL:      a.cfg.Mail.URL,
		APIKey:   a.cfg.Mail.APIKey,
		From:     a.cfg.Mail.From,
		Timeout:  a.cfg.Mail.Timeout,
		RetryMax: a.cfg.Mail.Retries,
	}, a.logger)
}

// services содержит собранные сервисы предметной области.
type services struct {
	ledger     *ledger.Service
	settlement *settlement.Service
	sweeper    *sweeper.Sweeper
}

func (a *app) newServices(st store) services {
	clock := clockwork.NewRealClock()

	notifier := notify.New(st, a.newMailer(), a.logger,
		notify.WithClock(clock),
		notify.WithLocation(a.cfg.Location()),
		notify.WithEmailTimeout(a.cfg.Mail.Timeout),
	)

	rates := ledger.Rates{
		model.TokenHSC: a.cfg.Rates.HSC,
		model.TokenHSG: a.cfg.Rates.HSG,
		model.TokenHSD: a.cfg.Rates.HSD,
	}

	sweepCfg := sweeper.Config{
		Limit:      a.cfg.Sweep.Limit,
		BatchSize:  a.cfg.Sweep.BatchSize,
		BatchDelay: a.cfg.Sweep.BatchDelay,
	}

	return services{
		ledger:     ledger.NewService(st, rates, clock, a.logger.Named("ledger")),
		settlement: settlement.NewService(st, notifier, a.cfg.Rates.Commission, clock, a.logger.Named("settlement")),
		sweeper:    sweeper.New(st, notifier, clock, sweepCfg, a.logger.Named("sweeper"), nil),
	}
}
