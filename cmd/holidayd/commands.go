package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/holidayd/internal/middleware"
	"github.com/mmeshcher/holidayd/internal/model"
	"github.com/mmeshcher/holidayd/internal/repository"
	"github.com/mmeshcher/holidayd/internal/sweeper"
)

const allTargets = "all"

func newSweepCmd(a *app) *cobra.Command {
	var kindFlag, modeFlag string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run expiration sweeps once and print the results as JSON",
		Example: `  holidayd sweep --kind ads --mode expire
  holidayd sweep --kind all --mode warn`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds, err := sweepKinds(kindFlag)
			if err != nil {
				return err
			}
			modes, err := sweepModes(modeFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			sw := a.newServices(st).sweeper

			var (
				results []sweeper.Result
				failed  bool
			)
			for _, kind := range kinds {
				for _, mode := range modes {
					res := sw.Run(ctx, kind, mode)
					failed = failed || !res.Success
					results = append(results, res)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}

			if failed {
				return errors.New("one or more sweeps failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", allTargets, "entity kind: ads, membership, partners, promo or all")
	cmd.Flags().StringVar(&modeFlag, "mode", allTargets, "sweep mode: warn, expire or all")
	return cmd
}

func sweepKinds(s string) ([]model.EntityKind, error) {
	if s == allTargets {
		return model.EntityKinds, nil
	}
	kind, err := model.ParseEntityKind(s)
	if err != nil {
		return nil, err
	}
	return []model.EntityKind{kind}, nil
}

func sweepModes(s string) ([]sweeper.Mode, error) {
	if s == allTargets {
		return sweeper.Modes, nil
	}
	mode, err := sweeper.ParseMode(s)
	if err != nil {
		return nil, err
	}
	return []sweeper.Mode{mode}, nil
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(*cobra.Command, []string) error {
			if a.cfg.InMemory {
				return errors.New("migrate requires a database, drop --in-memory")
			}

			repo, err := repository.NewPostgresRepository(a.cfg.DatabaseURI)
			if err != nil {
				return fmt.Errorf("database initialization: %w", err)
			}
			defer repo.Close()

			a.logger.Info("database schema is up to date")
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API access token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET must be set to issue tokens")
			}
			if userID <= 0 {
				return errors.New("--user must be a positive id")
			}
			switch role {
			case middleware.RoleUser, middleware.RoleAgent, middleware.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			token, err := middleware.NewAuthMiddleware(a.cfg.JWTSecret).IssueToken(userID, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&role, "role", middleware.RoleUser, "role: user, agent or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", middleware.DefaultTokenTTL, "token lifetime")
	return cmd
}
