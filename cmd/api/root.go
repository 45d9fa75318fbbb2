package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/config"
	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/observability"
	"github.com/spec-kit/lab-status-service/internal/persistence"
	"github.com/spec-kit/lab-status-service/internal/repository"
	"github.com/spec-kit/lab-status-service/internal/service"
)

// cliEnv is the configuration and logger shared by every command.
type cliEnv struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	rt := &cliEnv{}
	rootCmd := &cobra.Command{
		Use:           "labstatus",
		Short:         "Lab PC status and service ticket service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := observability.NewLogger(cfg.Logger)
			if err != nil {
				log.Printf("failed to init logger: %v", err)
				return err
			}
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	rootCmd.AddCommand(
		newServeCmd(rt),
		newMigrateCmd(rt),
		newProvisionCmd(rt),
		newAddUserCmd(rt),
	)
	return rootCmd
}

func newMigrateCmd(rt *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			pg, err := openPostgres(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := persistence.RunMigrations(cmd.Context(), pg.PoolHandle(), dir, rt.logger); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "migrations", "Directory containing the migration files")
	return cmd
}

func newProvisionCmd(rt *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create Working PCs 01..N in a room. Existing PCs are left untouched.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			room, _ := cmd.Flags().GetString("room")
			count, _ := cmd.Flags().GetInt("pcs")
			pg, err := openPostgres(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer pg.Close()

			created, err := provisionRoom(cmd.Context(), repository.NewUnitOfWork(pg.PoolHandle()), room, count)
			if err != nil {
				return err
			}
			rt.logger.Info("room provisioned", zap.String("room_id", room), zap.Int("pcs", count), zap.Int("created", created))
			return nil
		},
	}
	cmd.Flags().String("room", "", "Room id, e.g. MPO310")
	cmd.Flags().Int("pcs", 0, "Number of PCs in the room")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("pcs")
	return cmd
}

func newAddUserCmd(rt *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adduser <username>",
		Short: "Add a directory user that can log in.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			first, _ := cmd.Flags().GetString("first-name")
			last, _ := cmd.Flags().GetString("last-name")
			role, _ := cmd.Flags().GetString("role")
			pg, err := openPostgres(cmd.Context(), rt)
			if err != nil {
				return err
			}
			defer pg.Close()

			authService := service.NewAuthService(rt.cfg.Auth, repository.NewUserRepository(pg.PoolHandle()))
			user, err := authService.CreateUser(cmd.Context(), service.CreateUserInput{
				Username:  args[0],
				Password:  password,
				FirstName: first,
				LastName:  last,
				Role:      domain.UserRole(role),
			})
			if err != nil {
				return err
			}
			rt.logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("username", user.Username), zap.String("role", string(user.Role)))
			return nil
		},
	}
	cmd.Flags().String("password", "", "Login password")
	cmd.Flags().String("first-name", "", "First name shown in reports")
	cmd.Flags().String("last-name", "", "Last name shown in reports")
	cmd.Flags().String("role", string(domain.UserRoleTechnician), "technician or admin")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// openPostgres connects for the maintenance commands, which have no in-memory mode.
func openPostgres(ctx context.Context, rt *cliEnv) (*persistence.Postgres, error) {
	if rt.cfg.Postgres.DSN == "" {
		return nil, errors.New("POSTGRES_DSN is required for this command")
	}
	pg, err := persistence.NewPostgres(ctx, rt.cfg.Postgres, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pg, nil
}

// provisionRoom creates PCs "01".."NN" in room through one unit of work.
func provisionRoom(ctx context.Context, uow repository.UnitOfWork, room string, count int) (int, error) {
	room = strings.TrimSpace(room)
	if room == "" || count <= 0 {
		return 0, errors.New("room and a positive PC count are required")
	}
	pcs := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		pcs = append(pcs, fmt.Sprintf("%02d", i))
	}
	var created int
	err := uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		created, err = tx.Assets().Provision(ctx, room, pcs)
		return err
	})
	return created, err
}

// parseRoomSpec reads "ROOM=N".
func parseRoomSpec(spec string) (string, int, error) {
	room, n, ok := strings.Cut(spec, "=")
	if !ok {
		return "", 0, fmt.Errorf("invalid room spec %q, want ROOM=N", spec)
	}
	count, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil || count <= 0 {
		return "", 0, fmt.Errorf("invalid PC count in %q", spec)
	}
	return strings.TrimSpace(room), count, nil
}
