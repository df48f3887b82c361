package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stayledger/internal/accruals"
	"github.com/odyssey-erp/stayledger/internal/bookings"
	"github.com/odyssey-erp/stayledger/internal/calendar"
	jobmetrics "github.com/odyssey-erp/stayledger/internal/jobs"
	"github.com/odyssey-erp/stayledger/internal/shared"
)

// Services is the core wired over one pool. The owner closes the pool.
type Services struct {
	Accruals *accruals.Service
	Bookings *bookings.Service
	Batch    *accruals.Batch
	Audit    *shared.AuditLogger
}

// NewServices builds repositories and services. A nil redis client disables
// posting notifications; nil metrics fall back to the default registerer.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient redis.UniversalClient, metrics *jobmetrics.Metrics, logger *slog.Logger) (*Services, error) {
	locations, err := calendar.NewLocations(cfg.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("app: timezone cache: %w", err)
	}
	auditLogger := shared.NewAuditLogger(pool)

	accrualService := accruals.NewService(accruals.NewRepository(pool), locations, logger)
	accrualService.WithMetrics(metrics)
	if redisClient != nil {
		accrualService.WithPublisher(accruals.NewRedisNotifier(redisClient))
	}

	bookingService := bookings.NewService(bookings.NewRepository(pool), accrualService, logger)
	bookingService.WithAudit(auditLogger)
	if metrics != nil {
		bookingService.WithLineCounter(metrics)
	}

	return &Services{
		Accruals: accrualService,
		Bookings: bookingService,
		Batch:    accruals.NewBatch(accrualService, cfg.PostingConcurrency, cfg.PostingTimeout, logger),
		Audit:    auditLogger,
	}, nil
}
