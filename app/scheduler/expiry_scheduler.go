// Package scheduler runs the background maintenance loops
package scheduler

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	businessflow "github.com/sondeo-app/sondeo/business_flow"
	"github.com/sondeo-app/sondeo/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ExpiryScheduler periodically sweeps overdue deliveries into expired and
// drops conversations that went quiet
type ExpiryScheduler struct {
	deliveryFlow     businessflow.DeliveryFlow
	conversationFlow businessflow.ConversationFlow
	cfg              config.SchedulerConfig
	logger           *log.Logger
}

// NewExpiryScheduler creates a new expiry scheduler instance
func NewExpiryScheduler(
	deliveryFlow businessflow.DeliveryFlow,
	conversationFlow businessflow.ConversationFlow,
	cfg config.SchedulerConfig,
	logCfg config.LoggingConfig,
) *ExpiryScheduler {
	if cfg.ExpiryBatchSize <= 0 {
		cfg.ExpiryBatchSize = 500
	}
	return &ExpiryScheduler{
		deliveryFlow:     deliveryFlow,
		conversationFlow: conversationFlow,
		cfg:              cfg,
		logger:           newWorkerLogger("expiry ", logCfg),
	}
}

// Start launches the sweep loop in a background goroutine and returns a stop
// function. A zero interval disables the scheduler entirely.
func (s *ExpiryScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	if s.cfg.ExpiryInterval <= 0 {
		s.logger.Printf("expiry: disabled by configuration")
		return cancel
	}

	go func() {
		ticker := time.NewTicker(s.cfg.ExpiryInterval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *ExpiryScheduler) runOnce(ctx context.Context) {
	for {
		expired, err := s.deliveryFlow.ExpireOverdue(ctx, s.cfg.ExpiryBatchSize)
		if err != nil {
			s.logger.Printf("expiry: sweep failed: %v", err)
			break
		}
		if expired > 0 {
			s.logger.Printf("expiry: moved %d deliveries to expired", expired)
		}
		// A full batch means more overdue rows are likely waiting.
		if expired < s.cfg.ExpiryBatchSize {
			break
		}
	}

	if s.cfg.ConversationIdleLimit > 0 {
		dropped, err := s.conversationFlow.CleanupStale(ctx, s.cfg.ConversationIdleLimit)
		if err != nil {
			s.logger.Printf("expiry: conversation cleanup failed: %v", err)
			return
		}
		if dropped > 0 {
			s.logger.Printf("expiry: dropped %d stale conversations", dropped)
		}
	}
}

// newWorkerLogger builds a logger writing to stdout, and also to a rotated
// file when worker logging is enabled
func newWorkerLogger(prefix string, cfg config.LoggingConfig) *log.Logger {
	var w io.Writer = os.Stdout
	if cfg.EnableWorkerLog && cfg.WorkerLogPath != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.WorkerLogPath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds|log.LUTC)
}
