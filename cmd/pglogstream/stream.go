package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfoltran/pglogstream/internal/command"
	"github.com/jfoltran/pglogstream/internal/emit"
	"github.com/jfoltran/pglogstream/internal/fdio"
	"github.com/jfoltran/pglogstream/internal/replication"
	"github.com/jfoltran/pglogstream/internal/stream"
)

// runStream connects in replication mode, enters the copy-both stream,
// and hands control to the event loop until it reports a terminal status.
func runStream(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shared, err := fdio.Setup(cfg.CmdFD, cfg.OutFD)
	if err != nil {
		logger.Error().Err(err).Msg("failed to prepare descriptors")
		return &exitErr{status: stream.StatusInitFailed}
	}
	if shared {
		logger.Debug().Msg("command and output descriptors share flag state")
	}

	sess, err := replication.Connect(ctx, cfg.Conn.ReplicationConnString(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("connection to database failed")
		return &exitErr{status: stream.StatusInitFailed}
	}
	defer sess.Close(context.Background())

	if _, err := sess.Identify(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to identify system")
		return &exitErr{status: stream.StatusInitFailed}
	}

	if cfg.CreateSlot {
		if err := sess.CreateSlot(ctx, cfg.Slot, cfg.Plugin); err != nil {
			logger.Error().Err(err).Msg("failed to create replication slot")
			return &exitErr{status: stream.StatusInitFailed}
		}
	}

	outcome, err := sess.Start(ctx, cfg.Slot, 0, cfg.PluginOptions)
	if err != nil {
		logger.Error().Err(err).Stringer("outcome", outcome).Msg("failed to start replication")
		switch outcome {
		case replication.StartSlotInUse:
			return &exitErr{status: stream.StatusSlotInUse}
		case replication.StartSlotNotExist:
			return &exitErr{status: stream.StatusSlotNotExist}
		default:
			return &exitErr{status: stream.StatusInitFailed}
		}
	}
	logger.Debug().Str("slot", cfg.Slot).Msg("replication started")

	reader := command.NewReader(cfg.CmdFD, logger)
	reader.Start()

	out := emit.NewWriter(os.NewFile(uintptr(cfg.OutFD), "output"), cfg.WriteHeader, cfg.WriteNL)
	loop := stream.New(&stream.PGTransport{Conn: sess.Conn()}, out, reader.Events(), &cfg, logger)

	if st := loop.Run(ctx); st != stream.StatusOK {
		return &exitErr{status: st}
	}
	return nil
}
