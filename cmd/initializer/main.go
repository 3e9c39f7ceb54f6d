package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/farmsight/farmsight-backend/cmd/initializer/pkg"
	"github.com/farmsight/farmsight-backend/internal/auth"
	"github.com/farmsight/farmsight-backend/internal/config"
	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/db/entities"
	"github.com/farmsight/farmsight-backend/internal/farms"
	"github.com/farmsight/farmsight-backend/internal/initializer"
	"github.com/farmsight/farmsight-backend/internal/log"
	"github.com/farmsight/farmsight-backend/internal/videos"
	"github.com/farmsight/farmsight-backend/pkg/kv"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/file"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/memory"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/redis"
)

type options struct {
	reset    bool
	out      string
	password string
	admin    string
}

func main() {
	var opts options
	flag.BoolVar(&opts.reset, "reset", false, "delete all rows before seeding")
	flag.StringVar(&opts.out, "out", "", "seed report file; written after seeding, read back when already seeded")
	flag.StringVar(&opts.password, "password", "", "demo account password (defaults to FS_DEMO_PASSWORD)")
	flag.StringVar(&opts.admin, "admin", "", "grant the admin role to the account with this email")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "initializer: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.password == "" {
		opts.password = cfg.Seed.DemoPassword
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	kvCfg := cfg.KVConfig()
	kvCfg.Logger = logger.Infow
	kvStore, err := kv.NewStoreFromConfig(kvCfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer kvStore.Close()

	store := db.New(kvStore, logger, db.WithKey(cfg.Storage.Key))
	defer store.Close()

	if _, err := store.Initialize(ctx); err != nil {
		return err
	}
	if opts.reset {
		if err := store.Reset(ctx); err != nil {
			return err
		}
	}

	authSvc := auth.NewService(store, logger, auth.WithBcryptCost(cfg.Auth.BcryptCost), auth.WithSessionTTL(cfg.Auth.SessionTTL))
	seeder := initializer.New(store, authSvc, farms.NewService(store, logger), videos.NewService(store, logger), logger)

	if seeder.IsDatabaseInitialized(ctx) {
		logger.Infow("Database already seeded; use -reset to start over")
		if opts.out != "" {
			report, err := pkg.ReadReport(opts.out)
			switch {
			case err == nil:
				report.Print(os.Stdout)
			case errors.Is(err, fs.ErrNotExist), errors.Is(err, pkg.ErrEmptyReport):
				logger.Infow("No previous seed report", "path", opts.out)
			default:
				return fmt.Errorf("failed to read report: %w", err)
			}
		}
		return grantAdmin(ctx, authSvc, opts.admin)
	}

	result, err := seeder.MigrateMockData(ctx, opts.password)
	if err != nil {
		return err
	}

	report := pkg.SeedReport{
		UserID:     result.UserID,
		Email:      result.Email,
		FarmIDs:    result.FarmIDs,
		NDVIPoints: result.NDVIPoints,
		Alerts:     result.Alerts,
		Videos:     result.Videos,
		SeededAt:   result.SeededAt,
	}
	report.Print(os.Stdout)

	if opts.out != "" {
		if err := pkg.WriteReport(opts.out, report); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Seed report written to %s\n", opts.out)
	}
	return grantAdmin(ctx, authSvc, opts.admin)
}

func grantAdmin(ctx context.Context, authSvc *auth.Service, email string) error {
	if email == "" {
		return nil
	}
	if err := authSvc.SetRoleByEmail(ctx, email, entities.RoleAdmin); err != nil {
		return fmt.Errorf("failed to grant admin to %s: %w", email, err)
	}
	fmt.Printf("admin role granted to %s\n", email)
	return nil
}
