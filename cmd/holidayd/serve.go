package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/holidayd/internal/handler"
	"github.com/mmeshcher/holidayd/internal/middleware"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/scheduler"
	"github.com/mmeshcher/holidayd/internal/sweeper"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sweep scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(parent context.Context) error {
	sugar := a.logger.Sugar()

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	svc := a.newServices(st)

	sched, err := a.newScheduler(svc.sweeper)
	if err != nil {
		return err
	}

	if a.cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is empty, issued tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(a.cfg.JWTSecret)

	h := handler.NewHandler(handler.Services{
		Ledger:     svc.ledger,
		Settlement: svc.settlement,
		Sweeper:    svc.sweeper,
		Store:      st,
	}, a.logger.Named("http"), authMiddleware)

	server := &http.Server{
		Addr:              a.cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Планировщик чистильщика
	g.Go(func() error {
		return sched.Run(ctx)
	})

	// HTTP-сервер
	g.Go(func() error {
		sugar.Infow("starting holidayd server", "addr", a.cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
		return err
	}
	return nil
}

func (a *app) newScheduler(sw *sweeper.Sweeper) (*scheduler.Scheduler, error) {
	sched := scheduler.New(clockwork.NewRealClock(), a.cfg.Location(), a.cfg.Sweep.StartupDelay, a.logger.Named("scheduler"))

	specs := map[sweeper.Mode]string{
		sweeper.ModeWarn:   a.cfg.Sweep.ScheduleWarn,
		sweeper.ModeExpire: a.cfg.Sweep.ScheduleExpire,
	}

	for _, kind := range model.EntityKinds {
		for _, mode := range sweeper.Modes {
			err := sched.Add(scheduler.Job{
				Name: sweeper.JobName(kind, mode),
				Spec: specs[mode],
				Run: func(ctx context.Context) {
					sw.Run(ctx, kind, mode)
				},
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return sched, nil
}
