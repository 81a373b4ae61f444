package reconcile

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/veevpn/panel/internal/application/reconcile"
	domainserver "github.com/veevpn/panel/internal/domain/server"
	"github.com/veevpn/panel/internal/infrastructure/config"
	"github.com/veevpn/panel/internal/infrastructure/database"
	"github.com/veevpn/panel/internal/infrastructure/persistence/gormrepo"
	"github.com/veevpn/panel/internal/shared/logger"
	"github.com/veevpn/panel/internal/vpn/backend"
)

var (
	env   string
	apply bool
)

// NewCommand builds the one-shot fleet reconciliation command: dry-run by
// default, apply to actually delete drifted remote keys and deactivate
// orphan subscriptions (their rows are kept).
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the local key catalog against every active server",
		Long:  `Classify drift between this service's key records and what each active Outline/V2Ray server actually reports, and optionally correct it.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "development", "Environment (development, test, production)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Delete orphan remote keys and deactivate empty subscriptions instead of only reporting drift")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&cfg.Logger); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	log := logger.NewLogger()

	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	defer database.Close()

	db := database.Get()
	keyRepo := gormrepo.NewKeyRepository(db)
	serverRepo := gormrepo.NewServerRepository(db)
	subRepo := gormrepo.NewSubscriptionRepository(db)

	clientFor := func(s *domainserver.Server) (backend.VpnBackend, error) {
		return backend.NewClientForServer(s, cfg.Bundle.InsecureSkipVerify)
	}

	reconciler := reconcile.NewReconciler(keyRepo, serverRepo, subRepo, clientFor, log)

	log.Infow("running fleet reconciliation", "apply", apply)
	results, err := reconciler.Run(cmd.Context(), !apply)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	for _, r := range results {
		log.Infow("server reconciled",
			zap.Uint("server_id", r.ServerID),
			zap.Int("missing_on_server", len(r.MissingOnServer)),
			zap.Int("missing_in_local", len(r.MissingInLocal)),
		)
	}

	fmt.Printf("reconciled %d servers (apply=%v)\n", len(results), apply)
	return nil
}
