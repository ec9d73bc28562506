// Package replication owns connection-level session operations: system
// identification, slot creation, entering the copy-both stream, and the
// slot-availability poll. No loop logic lives here.
package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/jfoltran/pglogstream/internal/config"
)

// PostgreSQL SQLSTATE codes distinguishing the expected slot outcomes.
const (
	sqlstateObjectInUse     = "55006"
	sqlstateUndefinedObject = "42704"
	sqlstateDuplicateObject = "42710"
)

// StartOutcome classifies the result of entering the replication stream.
type StartOutcome int

const (
	StartOK StartOutcome = iota
	StartSlotInUse
	StartSlotNotExist
	StartFailed
)

// String returns a human-readable name for a StartOutcome.
func (o StartOutcome) String() string {
	switch o {
	case StartOK:
		return "ok"
	case StartSlotInUse:
		return "slot-in-use"
	case StartSlotNotExist:
		return "slot-not-exist"
	default:
		return "failed"
	}
}

// Session owns a replication-protocol connection.
type Session struct {
	conn   *pgconn.PgConn
	logger zerolog.Logger
}

// Connect establishes a streaming-replication connection. The connection
// string must carry replication=database (see config.ConnParams).
func Connect(ctx context.Context, connString string, logger zerolog.Logger) (*Session, error) {
	conn, err := pgconn.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Session{
		conn:   conn,
		logger: logger.With().Str("component", "replication").Logger(),
	}, nil
}

// Conn returns the underlying connection for the event loop.
func (s *Session) Conn() *pgconn.PgConn {
	return s.conn
}

// Identify runs IDENTIFY_SYSTEM and logs the reported system state.
func (s *Session) Identify(ctx context.Context) (pglogrepl.IdentifySystemResult, error) {
	res, err := pglogrepl.IdentifySystem(ctx, s.conn)
	if err != nil {
		return res, fmt.Errorf("identify system: %w", err)
	}
	s.logger.Debug().
		Str("system_id", res.SystemID).
		Int32("timeline", res.Timeline).
		Stringer("xlogpos", res.XLogPos).
		Str("dbname", res.DBName).
		Msg("system identified")
	return res, nil
}

// CreateSlot creates the logical slot with the given plugin. A slot that
// already exists is a successful no-op.
func (s *Session) CreateSlot(ctx context.Context, slot, plugin string) error {
	_, err := pglogrepl.CreateReplicationSlot(ctx, s.conn, QuoteIdentifier(slot), plugin,
		pglogrepl.CreateReplicationSlotOptions{Mode: pglogrepl.LogicalReplication})
	if err != nil {
		if sqlState(err) == sqlstateDuplicateObject {
			s.logger.Debug().Str("slot", slot).Msg("slot already exists")
			return nil
		}
		return fmt.Errorf("create replication slot %s: %w", slot, err)
	}
	s.logger.Debug().Str("slot", slot).Str("plugin", plugin).Msg("slot created")
	return nil
}

// Start issues START_REPLICATION for the slot at startLSN and classifies
// the outcome. The slot name and plugin options are escaped; a zero
// startLSN resumes from the slot's confirmed position.
func (s *Session) Start(ctx context.Context, slot string, startLSN pglogrepl.LSN, opts []config.Option) (StartOutcome, error) {
	args := make([]string, 0, len(opts))
	for _, o := range opts {
		if o.HasValue {
			args = append(args, QuoteIdentifier(o.Key)+" "+QuoteLiteral(o.Value))
		} else {
			args = append(args, QuoteIdentifier(o.Key))
		}
	}

	err := pglogrepl.StartReplication(ctx, s.conn, QuoteIdentifier(slot), startLSN,
		pglogrepl.StartReplicationOptions{
			Mode:       pglogrepl.LogicalReplication,
			PluginArgs: args,
		})
	if err != nil {
		outcome := ClassifyStartError(err)
		return outcome, fmt.Errorf("start replication: %w", err)
	}
	s.logger.Debug().Str("slot", slot).Stringer("start_lsn", startLSN).Msg("replication started")
	return StartOK, nil
}

// Close finishes the connection.
func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// ClassifyStartError maps a START_REPLICATION failure to the expected
// slot outcomes so a supervising process can act on them.
func ClassifyStartError(err error) StartOutcome {
	switch sqlState(err) {
	case sqlstateObjectInUse:
		return StartSlotInUse
	case sqlstateUndefinedObject:
		return StartSlotNotExist
	default:
		return StartFailed
	}
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// QuoteIdentifier escapes an identifier for a replication command.
func QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteLiteral escapes a string literal for a replication command.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
