package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfoltran/pglogstream/internal/replication"
	"github.com/jfoltran/pglogstream/internal/stream"
)

// runPoll waits until the slot exists and is inactive, optionally
// creating it once. It shares nothing with the streaming path beyond the
// configuration and the replication package.
func runPoll(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := replication.OpenPool(ctx, cfg.Conn.ConnString(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("connection to database failed")
		return &exitErr{status: stream.StatusInitFailed}
	}
	defer pool.Close()

	outcome, err := replication.Poll(ctx, pool, replication.PollConfig{
		Slot:       cfg.Slot,
		Plugin:     cfg.Plugin,
		Interval:   cfg.PollInterval,
		Deadline:   cfg.PollDuration,
		CreateOnce: cfg.CreateSlot,
	}, logger)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("signal received, exiting")
			return nil
		}
		logger.Error().Err(err).Msg("slot poll failed")
		return &exitErr{status: stream.StatusInitFailed}
	}

	switch outcome {
	case replication.PollSlotInUse:
		logger.Error().Str("slot", cfg.Slot).Msg("slot is still in use")
		return &exitErr{status: stream.StatusSlotInUse}
	case replication.PollSlotNotExist:
		logger.Error().Str("slot", cfg.Slot).Msg("slot does not exist")
		return &exitErr{status: stream.StatusSlotNotExist}
	}
	logger.Debug().Str("slot", cfg.Slot).Msg("slot is available")
	return nil
}
