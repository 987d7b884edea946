package erpsync

import (
	"context"
	"fmt"
	"time"

	"github.com/pdvjgm/pos-backend/pkg/enums"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/jobs"
	"github.com/pdvjgm/pos-backend/pkg/logger"
	"github.com/pdvjgm/pos-backend/pkg/metrics"
)

// SyncSummary reports what one full cycle enqueued.
type SyncSummary struct {
	Products   int `json:"products"`
	Stocks     int `json:"stocks"`
	Prices     int `json:"prices"`
	Suppressed int `json:"suppressed"`
}

// Service triggers full catalog synchronization cycles.
type Service interface {
	TriggerFullSync(ctx context.Context) (*SyncSummary, error)
}

type producer interface {
	Enqueue(ctx context.Context, name enums.JobName, payload any, opts jobs.Options) (bool, error)
}

type service struct {
	source      Source
	queue       producer
	logg        *logger.Logger
	syncMetrics *metrics.SyncMetrics
}

func NewService(source Source, queue producer, logg *logger.Logger, syncMetrics *metrics.SyncMetrics) (Service, error) {
	if source == nil {
		return nil, fmt.Errorf("feed source required")
	}
	if queue == nil {
		return nil, fmt.Errorf("job producer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{source: source, queue: queue, logg: logg, syncMetrics: syncMetrics}, nil
}

// TriggerFullSync fetches all three feed stages, then fans each record out
// as one job. All fetches happen before the first enqueue, so a broken feed
// never produces a half-enqueued cycle.
func (s *service) TriggerFullSync(ctx context.Context) (*SyncSummary, error) {
	start := time.Now()

	products, err := s.source.FetchProducts(ctx)
	if err != nil {
		s.syncMetrics.IncFailure()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching product feed")
	}
	stocks, err := s.source.FetchStocks(ctx)
	if err != nil {
		s.syncMetrics.IncFailure()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching stock feed")
	}
	prices, err := s.source.FetchPrices(ctx)
	if err != nil {
		s.syncMetrics.IncFailure()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetching price feed")
	}

	summary := &SyncSummary{}

	for _, record := range products {
		created, err := s.queue.Enqueue(ctx, enums.JobNameProductUpdate, record, jobs.Options{
			DedupeKey:      fmt.Sprintf("product-%s", record.Code),
			PurgeOnSuccess: true,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueueing product update")
		}
		if created {
			summary.Products++
		} else {
			summary.Suppressed++
		}
	}
	s.syncMetrics.AddEnqueued("products", summary.Products)

	for _, record := range stocks {
		created, err := s.queue.Enqueue(ctx, enums.JobNameStockUpdate, record, jobs.Options{
			DedupeKey:      fmt.Sprintf("stock-%s-%s", record.Code, record.WarehouseID),
			PurgeOnSuccess: true,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueueing stock update")
		}
		if created {
			summary.Stocks++
		} else {
			summary.Suppressed++
		}
	}
	s.syncMetrics.AddEnqueued("stocks", summary.Stocks)

	for _, record := range prices {
		created, err := s.queue.Enqueue(ctx, enums.JobNamePriceUpdate, record, jobs.Options{
			DedupeKey:      fmt.Sprintf("price-%s-%s", record.Code, record.PriceList),
			PurgeOnSuccess: true,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enqueueing price update")
		}
		if created {
			summary.Prices++
		} else {
			summary.Suppressed++
		}
	}
	s.syncMetrics.AddEnqueued("prices", summary.Prices)

	s.syncMetrics.ObserveCycle(time.Since(start))

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"products":   summary.Products,
		"stocks":     summary.Stocks,
		"prices":     summary.Prices,
		"suppressed": summary.Suppressed,
	})
	s.logg.Info(logCtx, "full sync cycle enqueued")

	return summary, nil
}
