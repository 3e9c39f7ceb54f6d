package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/farmsight/farmsight-backend/cmd/initializer/pkg"
	"github.com/farmsight/farmsight-backend/internal/config"
	"github.com/farmsight/farmsight-backend/internal/db"
	"github.com/farmsight/farmsight-backend/internal/log"
	"github.com/farmsight/farmsight-backend/pkg/kv"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/file"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/memory"
	_ "github.com/farmsight/farmsight-backend/pkg/kv/redis"
)

const usage = `Usage: migrate COMMAND

Commands:
  up             apply pending migrations
  down           roll back the latest migration
  status         print migration status
  export FILE    write the database image to FILE
  import FILE    replace the database with the image in FILE`

var (
	flags   = flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout = flags.Duration("timeout", time.Minute, "overall timeout")
)

func main() {
	flags.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flags.Parse(os.Args[1:])
	args := flags.Args()

	if len(args) < 1 {
		flags.Usage()
		os.Exit(2)
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	kvCfg := cfg.KVConfig()
	kvCfg.Logger = logger.Infow
	kvStore, err := kv.NewStoreFromConfig(kvCfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer kvStore.Close()

	// goose drives the schema here, so the store must not migrate on open
	store := db.New(kvStore, logger, db.WithKey(cfg.Storage.Key), db.WithAutoMigrate(false))
	defer store.Close()

	command := args[0]
	if command == "import" {
		path, err := fileArg(args)
		if err != nil {
			return err
		}
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		if err := store.ImportBytes(ctx, image); err != nil {
			return err
		}
		logger.Infow("Database imported", "file", path, "bytes", len(image))
		return nil
	}

	conn, err := store.Initialize(ctx)
	if err != nil {
		return err
	}
	if err := db.ConfigureGoose(logger); err != nil {
		return err
	}

	switch command {
	case "up":
		if err := goose.UpContext(ctx, conn, db.MigrationsDir); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
	case "down":
		if err := goose.DownContext(ctx, conn, db.MigrationsDir); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
	case "status":
		return goose.StatusContext(ctx, conn, db.MigrationsDir)
	case "export":
		path, err := fileArg(args)
		if err != nil {
			return err
		}
		image, err := store.ExportBytes(ctx)
		if err != nil {
			return err
		}
		if err := pkg.WriteFileAtomic(path, image); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		logger.Infow("Database exported", "file", path, "bytes", len(image))
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", command, usage)
	}

	// up and down changed the schema; write it back
	return store.Persist(ctx)
}

func fileArg(args []string) (string, error) {
	if len(args) < 2 || args[1] == "" {
		return "", fmt.Errorf("%s requires a file argument", args[0])
	}
	return args[1], nil
}
