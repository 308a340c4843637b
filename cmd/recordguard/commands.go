package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/ehr/recordguard/internal/config"
	"github.com/ehr/recordguard/internal/domain/auditevent"
	"github.com/ehr/recordguard/internal/domain/consent"
	"github.com/ehr/recordguard/internal/domain/identity"
	"github.com/ehr/recordguard/internal/platform/auth"
	"github.com/ehr/recordguard/internal/platform/db"
)

// passwordEnv supplies the password for identity create when stdin is not used.
const passwordEnv = "RECORDGUARD_PASSWORD"

// withDatabase loads config, connects, and runs fn. Commands that touch the
// database refuse to run without DATABASE_URL.
func withDatabase(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, sqlDB *sql.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	sqlDB := db.OpenSQL(pool)
	defer sqlDB.Close()

	return fn(ctx, cfg, pool, sqlDB)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, _ *sql.DB) error {
				count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool, _ *sql.DB) error {
				statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
				if err != nil {
					return fmt.Errorf("migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func consentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage consent grants",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Mark grants whose expiry has passed as Expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, _ *config.Config, _ *pgxpool.Pool, sqlDB *sql.DB) error {
				svc := consent.NewService(consent.NewRepoPG(sqlDB), identity.NewRepoPG(sqlDB), time.Now)
				n, err := svc.ExpireStale(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Expired %d grant(s).\n", n)
				return nil
			})
		},
	})
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Invalidate every refresh token of an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("identity")
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--identity must be a UUID: %w", err)
			}
			return withDatabase(cmd, func(ctx context.Context, cfg *config.Config, _ *pgxpool.Pool, sqlDB *sql.DB) error {
				tokens, err := newTokenService(cfg, identity.NewRepoPG(sqlDB))
				if err != nil {
					return err
				}
				v, err := tokens.Revoke(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked sessions of %s (token version %d).\n", id, v)
				return nil
			})
		},
	}
	revoke.Flags().String("identity", "", "Identity id")
	_ = revoke.MarkFlagRequired("identity")
	cmd.AddCommand(revoke)
	return cmd
}

func identityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Manage identities",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an identity; the password is read from " + passwordEnv + " or stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			rawRole, _ := cmd.Flags().GetString("role")
			role, err := identity.ParseRole(rawRole)
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			return withDatabase(cmd, func(ctx context.Context, _ *config.Config, _ *pgxpool.Pool, sqlDB *sql.DB) error {
				i, err := identity.NewService(identity.NewRepoPG(sqlDB)).Register(ctx, email, hash, role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s (%s).\n", i.Role, i.Email, i.ID)
				return nil
			})
		},
	}
	create.Flags().String("email", "", "Login email")
	create.Flags().String("role", "", "Patient, Doctor, HospitalAdmin or SuperAdmin")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("role")
	cmd.AddCommand(create)

	deactivate := &cobra.Command{
		Use:   "deactivate",
		Short: "Disable an identity and revoke its sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("id")
			id, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("--id must be a UUID: %w", err)
			}
			return withDatabase(cmd, func(ctx context.Context, cfg *config.Config, _ *pgxpool.Pool, sqlDB *sql.DB) error {
				repo := identity.NewRepoPG(sqlDB)
				tokens, err := newTokenService(cfg, repo)
				if err != nil {
					return err
				}
				i, err := identity.NewService(repo).Deactivate(ctx, id)
				if err != nil {
					return err
				}
				if _, err := tokens.Revoke(ctx, id); err != nil {
					return fmt.Errorf("revoke sessions of %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s (%s).\n", i.Email, i.ID)
				return nil
			})
		},
	}
	deactivate.Flags().String("id", "", "Identity id")
	_ = deactivate.MarkFlagRequired("id")
	cmd.AddCommand(deactivate)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Walk the audit chain and report the first tampered, missing or unlinked entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd, func(ctx context.Context, cfg *config.Config, _ *pgxpool.Pool, sqlDB *sql.DB) error {
				sealer, err := auditevent.NewSealer([]byte(cfg.AuditHMACKey))
				if err != nil {
					return err
				}
				report, err := auditevent.NewService(auditevent.NewRepoPG(sqlDB, sealer), sealer).VerifyChain(ctx)
				if err != nil {
					return err
				}
				return printChainReport(cmd.OutOrStdout(), report)
			})
		},
	})
	return cmd
}

// printChainReport writes the report and returns an error when the chain is
// broken, so the command exits non-zero.
func printChainReport(w io.Writer, r *auditevent.ChainReport) error {
	if r.Valid {
		fmt.Fprintf(w, "Audit chain intact: %d entries, head %d.\n", r.Checked, r.Head.Seq)
		return nil
	}
	fmt.Fprintf(w, "Audit chain broken at entry %d after %d valid entries: %s.\n", r.BrokenAt, r.Checked, r.Problem)
	return fmt.Errorf("audit chain broken at entry %d", r.BrokenAt)
}

func newTokenService(cfg *config.Config, store auth.IdentityStore) (*auth.TokenService, error) {
	return auth.NewTokenService(auth.TokenConfig{
		SigningKey: []byte(cfg.AuthSigningKey),
		Issuer:     cfg.AuthIssuer,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	}, store)
}

func readPassword(stdin io.Reader) (string, error) {
	if p := os.Getenv(passwordEnv); p != "" {
		return p, nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
