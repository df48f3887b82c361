package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stayledger/cmd/accrualctl/cli"
	"github.com/odyssey-erp/stayledger/internal/app"
	"github.com/odyssey-erp/stayledger/internal/platform/cache"
	"github.com/odyssey-erp/stayledger/internal/platform/db"
	"github.com/odyssey-erp/stayledger/jobs"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return cli.ExitError
	}
	logger := app.NewLoggerTo(os.Stderr, cfg)

	var pool *pgxpool.Pool
	defer func() {
		if pool != nil {
			pool.Close()
		}
	}()

	factory := cli.Factory{
		Accruals: func(ctx context.Context) (*cli.AccrualCLI, error) {
			p, err := db.New(ctx, cfg.PGDSN)
			if err != nil {
				return nil, err
			}
			pool = p
			services, err := app.NewServices(cfg, pool, nil, nil, logger)
			if err != nil {
				return nil, err
			}
			return cli.NewAccrualCLI(cli.Deps{
				Poster:     services.Accruals,
				Bookings:   services.Bookings,
				Selector:   services.Accruals,
				Batch:      services.Batch,
				Verifier:   services.Accruals,
				Summarizer: services.Accruals,
			}), nil
		},
		Redis: func(ctx context.Context) (redis.UniversalClient, error) {
			client, err := cache.New(ctx, cfg.RedisAddr)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		Jobs: func() (*cli.JobsCLI, error) {
			opts, err := jobs.RedisOpts(cfg.RedisAddr)
			if err != nil {
				return nil, err
			}
			return cli.NewJobsCLI(opts), nil
		},
	}

	return cli.Execute(ctx, cli.NewRootCommand(factory, os.Stdout, os.Stderr))
}
