package scheduler

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	businessflow "github.com/sondeo-app/sondeo/business_flow"
	"github.com/sondeo-app/sondeo/config"
	"github.com/sondeo-app/sondeo/utils"
	"golang.org/x/sync/errgroup"
)

var (
	capturesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sondeo_captures_processed_total",
		Help: "Raw captures pulled off the queue, labeled by outcome",
	}, []string{"outcome"})

	captureQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sondeo_capture_queue_depth",
		Help: "Captures currently waiting on the extraction queue",
	})
)

// CaptureWorkerPool consumes the capture queue and runs blobs through the
// extraction pipeline. Claims are conditional database updates, so running
// several pools against the same queue is safe.
type CaptureWorkerPool struct {
	captureFlow businessflow.CaptureFlow
	redisClient *redis.Client
	cfg         config.SchedulerConfig
	logger      *log.Logger
}

// NewCaptureWorkerPool creates a new capture worker pool
func NewCaptureWorkerPool(
	captureFlow businessflow.CaptureFlow,
	redisClient *redis.Client,
	cfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *CaptureWorkerPool {
	if cfg.CaptureWorkers <= 0 {
		cfg.CaptureWorkers = 4
	}
	return &CaptureWorkerPool{
		captureFlow: captureFlow,
		redisClient: redisClient,
		cfg:         cfg,
		logger:      newWorkerLogger("captures ", logCfg),
	}
}

// Start launches the workers and returns a stop function that blocks until
// they drain
func (p *CaptureWorkerPool) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.CaptureWorkers; i++ {
		worker := i
		g.Go(func() error {
			p.consume(gctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		p.moveDueRetries(gctx)
		return nil
	})

	p.recoverPending(ctx)

	return func() {
		cancel()
		_ = g.Wait()
	}
}

// consume pops capture UUIDs off the queue one at a time
func (p *CaptureWorkerPool) consume(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := p.redisClient.BRPop(ctx, 5*time.Second, utils.CaptureQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.logger.Printf("captures: worker %d queue pop failed: %v", worker, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}
		captureUUID := res[1]

		if depth, err := p.redisClient.LLen(ctx, utils.CaptureQueueKey).Result(); err == nil {
			captureQueueDepth.Set(float64(depth))
		}

		if err := p.captureFlow.ProcessCapture(ctx, captureUUID); err != nil {
			switch {
			case errors.Is(err, businessflow.ErrCaptureNotClaimable):
				capturesProcessed.WithLabelValues("skipped").Inc()
			case errors.Is(err, businessflow.ErrCaptureNotFound):
				capturesProcessed.WithLabelValues("missing").Inc()
				p.logger.Printf("captures: worker %d capture %s not found", worker, captureUUID)
			default:
				capturesProcessed.WithLabelValues("failed").Inc()
				p.logger.Printf("captures: worker %d capture %s failed: %v", worker, captureUUID, err)
			}
			continue
		}

		capturesProcessed.WithLabelValues("extracted").Inc()
		p.logger.Printf("captures: worker %d capture %s extracted", worker, captureUUID)
	}
}

// moveDueRetries shifts captures whose backoff elapsed from the retry set
// back onto the work queue
func (p *CaptureWorkerPool) moveDueRetries(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
		due, err := p.redisClient.ZRangeByScore(ctx, utils.CaptureRetryQueueKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: now,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Printf("captures: retry scan failed: %v", err)
			}
			continue
		}

		for _, captureUUID := range due {
			if err := p.redisClient.ZRem(ctx, utils.CaptureRetryQueueKey, captureUUID).Err(); err != nil {
				continue
			}
			if err := p.redisClient.LPush(ctx, utils.CaptureQueueKey, captureUUID).Err(); err != nil {
				p.logger.Printf("captures: requeue of %s failed: %v", captureUUID, err)
			}
		}
	}
}

// recoverPending requeues captures that are pending in the database but
// absent from the queue, typically after a restart that lost Redis state.
// Captures stuck in processing past the deadline are released back to
// pending first so they get swept up with the rest.
func (p *CaptureWorkerPool) recoverPending(ctx context.Context) {
	released, err := p.captureFlow.ReleaseStalled(ctx, utils.CaptureProcessingDeadline)
	if err != nil {
		p.logger.Printf("captures: stalled release failed: %v", err)
	} else if released > 0 {
		p.logger.Printf("captures: released %d stalled captures back to pending", released)
	}

	uuids, err := p.captureFlow.PendingCaptureUUIDs(ctx, 1000)
	if err != nil {
		p.logger.Printf("captures: pending recovery failed: %v", err)
		return
	}
	if len(uuids) == 0 {
		return
	}

	for _, captureUUID := range uuids {
		if err := p.redisClient.LPush(ctx, utils.CaptureQueueKey, captureUUID).Err(); err != nil {
			p.logger.Printf("captures: recovery enqueue of %s failed: %v", captureUUID, err)
		}
	}
	p.logger.Printf("captures: recovered %d pending captures onto the queue", len(uuids))
}
