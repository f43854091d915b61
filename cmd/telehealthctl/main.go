package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-booking/internal/appointment"
	"github.com/hackgods/telehealth-booking/internal/audit"
	"github.com/hackgods/telehealth-booking/internal/auth"
	"github.com/hackgods/telehealth-booking/internal/config"
	"github.com/hackgods/telehealth-booking/internal/db"
	"github.com/hackgods/telehealth-booking/internal/logging"
	redisclient "github.com/hackgods/telehealth-booking/internal/redis"
	"github.com/hackgods/telehealth-booking/internal/reminder"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "telehealthctl",
		Short:         "Operator tooling for the telehealth booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(paymentsCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// runtime holds what every database-backed command needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
}

func open(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.WithApplicationName("telehealthctl"), db.WithMaxConns(4))
	if err != nil {
		return nil, err
	}
	return &runtime{cfg: cfg, logger: logger, pool: pool}, nil
}

func (rt *runtime) Close() {
	rt.pool.Close()
	_ = rt.logger.Sync()
}

func (rt *runtime) service() *appointment.Service {
	return appointment.NewService(
		appointment.NewPgRepository(rt.pool),
		redisclient.NoopLocker{},
		reminder.NewPgGenerator(rt.pool),
		audit.NewPgSink(rt.pool, rt.logger),
		rt.cfg,
		rt.logger,
	)
}

func (rt *runtime) migrator() (*db.Migrator, error) {
	return db.NewMigrator(rt.pool, rt.logger)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			m, err := rt.migrator()
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Up(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			m, err := rt.migrator()
			if err != nil {
				return err
			}
			defer m.Close()
			return m.Status(cmd.Context())
		},
	})

	return cmd
}

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment operations",
	}
	cmd.AddCommand(markPaidCmd())
	cmd.AddCommand(expireCmd())
	return cmd
}

func markPaidCmd() *cobra.Command {
	var adminID, reason string

	cmd := &cobra.Command{
		Use:   "mark-paid <prescription-id>",
		Short: "Settle a prescription without a gateway payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prescriptionID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("prescription id: %w", err)
			}
			admin, err := uuid.Parse(adminID)
			if err != nil {
				return fmt.Errorf("--admin: %w", err)
			}

			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			settled, err := rt.service().ForceMarkPaid(cmd.Context(), admin, prescriptionID, reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "payment %s settled prescription %s (appointment %s, %d reminders)\n",
				settled.PaymentID, settled.PrescriptionID, settled.AppointmentID, settled.RemindersCreated)
			return nil
		},
	}

	cmd.Flags().StringVar(&adminID, "admin", "", "id of the admin performing the override")
	cmd.Flags().StringVar(&reason, "reason", "", "why the payment is being settled manually")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Fail pending payments older than PAYMENT_PENDING_TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.service().ExpireStalePayments(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d pending payments\n", n)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("--user: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			token, err := auth.NewVerifier(cfg.JWTSigningKey, cfg.JWTIssuer).
				Issue(auth.Principal{UserID: id, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "patient, doctor or admin id")
	cmd.Flags().StringVar(&role, "role", auth.RolePatient, "patient, doctor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
