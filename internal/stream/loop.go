// Package stream drives the replication session: it drains the copy-both
// stream, applies control commands, and keeps the server's confirmed
// flush position moving via standby status updates.
package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/rs/zerolog"

	"github.com/jfoltran/pglogstream/internal/command"
	"github.com/jfoltran/pglogstream/internal/config"
	"github.com/jfoltran/pglogstream/internal/emit"
	"github.com/jfoltran/pglogstream/internal/feedback"
	"github.com/jfoltran/pglogstream/internal/wire"
	"github.com/jfoltran/pglogstream/pkg/lsn"
)

const (
	// drainPoll is the receive deadline while the stream is hot: long
	// enough to pick up an already-buffered message, short enough not to
	// stall the iteration when the stream has gone quiet.
	drainPoll = time.Millisecond
	// maxRecvWait caps the blocking receive so pending control commands
	// are picked up promptly even when the policy would allow a longer
	// sleep.
	maxRecvWait = time.Second
)

// Loop is the single-owner state machine of a streaming session. All LSN
// state is confined to the Run goroutine.
type Loop struct {
	transport Transport
	out       *emit.Writer
	cmds      <-chan command.Event
	policy    feedback.Policy
	auto      bool
	logger    zerolog.Logger

	receivedLSN       pglogrepl.LSN
	nextFeedbackLSN   pglogrepl.LSN
	lastSentLSN       pglogrepl.LSN
	lastSentAt        time.Time
	feedbackRequested bool
	quitRequested     bool

	// srvReady means the transport may have more data without blocking;
	// it is cleared only when a receive reports "would block".
	srvReady bool
}

// New assembles a loop over an established copy-both stream.
func New(t Transport, out *emit.Writer, cmds <-chan command.Event, cfg *config.Config, logger zerolog.Logger) *Loop {
	return &Loop{
		transport: t,
		out:       out,
		cmds:      cmds,
		policy: feedback.Policy{
			FeedbackInterval: cfg.FeedbackInterval,
			StatusInterval:   cfg.StatusInterval,
		},
		auto:     cfg.AutoFeedback,
		logger:   logger.With().Str("component", "stream").Logger(),
		srvReady: true,
	}
}

// Run drives the session until a terminal status. The output buffer is
// flushed on every exit path.
func (l *Loop) Run(ctx context.Context) Status {
	defer l.flushFinal()

	for {
		now := time.Now()

		if l.policy.Needed(now, l.state()) {
			if err := l.sendFeedback(ctx, now); err != nil {
				if ctx.Err() != nil {
					return l.abort()
				}
				l.logger.Error().Err(err).Msg("failed to send standby status update")
				return StatusServerError
			}
		}

		if ctx.Err() != nil {
			return l.abort()
		}
		if l.quitRequested {
			l.logger.Debug().Msg("quit command honored")
			return StatusOK
		}

		if st, done := l.drainCommands(); done {
			return st
		}
		if l.quitRequested {
			// Loop back so the final feedback goes out before exit.
			continue
		}

		if st, done := l.receiveOne(ctx); done {
			return st
		}
	}
}

func (l *Loop) state() feedback.State {
	return feedback.State{
		Requested:   l.feedbackRequested,
		NextLSN:     l.nextFeedbackLSN,
		LastSentLSN: l.lastSentLSN,
		LastSentAt:  l.lastSentAt,
	}
}

func (l *Loop) sendFeedback(ctx context.Context, now time.Time) error {
	write := l.receivedLSN
	if write < l.nextFeedbackLSN {
		write = l.nextFeedbackLSN
	}
	if err := l.transport.SendStatus(ctx, write, l.nextFeedbackLSN, now); err != nil {
		return err
	}
	l.logger.Debug().
		Stringer("write_lsn", write).
		Stringer("flush_lsn", l.nextFeedbackLSN).
		Msg("sent standby status update")
	l.lastSentAt = now
	l.lastSentLSN = l.nextFeedbackLSN
	l.feedbackRequested = false
	return nil
}

// drainCommands consumes every command already delivered by the reader.
func (l *Loop) drainCommands() (Status, bool) {
	for {
		select {
		case ev, ok := <-l.cmds:
			if !ok {
				return StatusCommandClosed, true
			}
			if ev.Err != nil {
				if errors.Is(ev.Err, io.EOF) {
					l.logger.Info().Msg("command channel closed")
					return StatusCommandClosed, true
				}
				l.logger.Error().Err(ev.Err).Msg("command channel failed")
				return StatusCommandError, true
			}
			switch ev.Cmd.Kind {
			case command.KindFeedback:
				if ev.Cmd.LSN > l.nextFeedbackLSN {
					l.nextFeedbackLSN = ev.Cmd.LSN
				}
			case command.KindQuit:
				l.quitRequested = true
				l.feedbackRequested = true
			}
		default:
			return 0, false
		}
	}
}

// receiveOne performs at most one receive. While the stream is hot it
// polls with a tiny deadline; once drained it flushes the output and
// blocks for the policy timeout.
func (l *Loop) receiveOne(ctx context.Context) (Status, bool) {
	timeout := drainPoll
	if !l.srvReady {
		if err := l.out.Flush(); err != nil {
			l.logger.Error().Err(err).Msg("failed to write data to output")
			return StatusSystemError, true
		}
		timeout = l.policy.WaitTimeout(time.Now(), l.state())
		if timeout > maxRecvWait {
			timeout = maxRecvWait
		}
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	msg, err := l.transport.Receive(rctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return l.abort(), true
		}
		if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
			l.srvReady = false
			return 0, false
		}
		if l.transport.Closed() {
			l.logger.Info().Msg("replication stream closed")
			return StatusStreamClosed, true
		}
		l.logger.Error().Err(err).Msg("failed to receive replication data")
		return StatusServerError, true
	}

	l.srvReady = true
	return l.handleMessage(msg)
}

func (l *Loop) handleMessage(msg pgproto3.BackendMessage) (Status, bool) {
	switch m := msg.(type) {
	case *pgproto3.CopyData:
		return l.handleCopyData(m.Data)
	case *pgproto3.CopyDone:
		l.logger.Info().Msg("replication stream closed")
		return StatusStreamClosed, true
	case *pgproto3.ErrorResponse:
		l.logger.Error().
			Str("severity", m.Severity).
			Str("code", m.Code).
			Str("message", m.Message).
			Str("detail", m.Detail).
			Msg("server error on replication stream")
		return StatusServerError, true
	default:
		// NoticeResponse, ParameterStatus and friends carry nothing the
		// loop acts on.
		return 0, false
	}
}

func (l *Loop) handleCopyData(data []byte) (Status, bool) {
	msg, err := wire.Decode(data)
	if err != nil {
		l.logger.Error().Err(err).Msg("protocol error on replication stream")
		return StatusServerError, true
	}

	switch m := msg.(type) {
	case *wire.Keepalive:
		if m.ReplyRequested {
			l.feedbackRequested = true
		}
		if l.nextFeedbackLSN == 0 {
			// No position has been acknowledged yet, but a keepalive
			// reply is a feedback message; seed the position from the
			// server's walEnd so the reply can be sent.
			l.nextFeedbackLSN = m.WALEnd
		}
		l.logger.Debug().
			Stringer("wal_end", m.WALEnd).
			Bool("reply_requested", m.ReplyRequested).
			Str("lag", lsn.FormatLag(lsn.Lag(l.receivedLSN, m.WALEnd))).
			Msg("keepalive")

	case *wire.XLogData:
		if err := l.out.Emit(m); err != nil {
			l.logger.Error().Err(err).Msg("failed to write data to output")
			return StatusSystemError, true
		}
		if l.auto && m.WALEnd > l.nextFeedbackLSN {
			l.nextFeedbackLSN = m.WALEnd
		}
		if m.DataStart > l.receivedLSN {
			l.receivedLSN = m.DataStart
		}
	}
	return 0, false
}

func (l *Loop) abort() Status {
	l.logger.Info().Msg("signal received, exiting")
	return StatusOK
}

func (l *Loop) flushFinal() {
	if err := l.out.Flush(); err != nil {
		l.logger.Error().Err(err).Msg("failed to flush output")
	}
}
