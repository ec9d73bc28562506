package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PollOutcome is the terminal result of a slot-availability poll.
type PollOutcome int

const (
	PollReady PollOutcome = iota
	PollSlotInUse
	PollSlotNotExist
)

// String returns a human-readable name for a PollOutcome.
func (o PollOutcome) String() string {
	switch o {
	case PollReady:
		return "ready"
	case PollSlotInUse:
		return "slot-in-use"
	default:
		return "slot-not-exist"
	}
}

// SlotProber observes and creates replication slots.
type SlotProber interface {
	// SlotStatus reports whether the slot exists and is currently held
	// by a consumer.
	SlotStatus(ctx context.Context, slot string) (exists, active bool, err error)
	// CreateSlot creates the logical slot; an existing slot is a no-op.
	CreateSlot(ctx context.Context, slot, plugin string) error
}

// Pool is a regular SQL connection for catalog access. Poll mode does not
// need the replication protocol, and a plain connection keeps parameter
// binding available.
type Pool struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// OpenPool connects and pings.
func OpenPool(ctx context.Context, connString string, logger zerolog.Logger) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection parameters: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Pool{
		pool:   pool,
		logger: logger.With().Str("component", "poll").Logger(),
	}, nil
}

// Close releases the pool.
func (p *Pool) Close() {
	p.pool.Close()
}

// SlotStatus implements SlotProber against pg_replication_slots.
func (p *Pool) SlotStatus(ctx context.Context, slot string) (exists, active bool, err error) {
	err = p.pool.QueryRow(ctx,
		"SELECT active FROM pg_replication_slots WHERE slot_name = $1", slot,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("query pg_replication_slots: %w", err)
	}
	return true, active, nil
}

// CreateSlot implements SlotProber via the catalog function.
func (p *Pool) CreateSlot(ctx context.Context, slot, plugin string) error {
	_, err := p.pool.Exec(ctx,
		"SELECT pg_create_logical_replication_slot($1, $2)", slot, plugin)
	if err != nil {
		if sqlState(err) == sqlstateDuplicateObject {
			p.logger.Debug().Str("slot", slot).Msg("slot already exists")
			return nil
		}
		return fmt.Errorf("create replication slot %s: %w", slot, err)
	}
	p.logger.Debug().Str("slot", slot).Str("plugin", plugin).Msg("slot created")
	return nil
}

// PollConfig parameterizes a slot-availability poll.
type PollConfig struct {
	Slot     string
	Plugin   string
	Interval time.Duration
	// Deadline bounds the whole poll; zero means unlimited.
	Deadline time.Duration
	// CreateOnce permits creating the slot the first time it is found
	// missing.
	CreateOnce bool
}

// Poll probes the slot until it exists and is inactive, the deadline
// passes, or ctx is canceled. On deadline the outcome reports the last
// observation: in-use if the slot existed, not-exist otherwise.
func Poll(ctx context.Context, prober SlotProber, cfg PollConfig, logger zerolog.Logger) (PollOutcome, error) {
	log := logger.With().Str("component", "poll").Logger()

	var deadline time.Time
	if cfg.Deadline > 0 {
		deadline = time.Now().Add(cfg.Deadline)
	}

	created := false
	for {
		exists, active, err := prober.SlotStatus(ctx, cfg.Slot)
		if err != nil {
			return PollSlotNotExist, err
		}
		if exists && !active {
			log.Debug().Str("slot", cfg.Slot).Msg("slot is available")
			return PollReady, nil
		}
		if !exists && cfg.CreateOnce && !created {
			if err := prober.CreateSlot(ctx, cfg.Slot, cfg.Plugin); err != nil {
				return PollSlotNotExist, err
			}
			created = true
			continue
		}
		log.Debug().Str("slot", cfg.Slot).Bool("exists", exists).Bool("active", active).Msg("slot not available yet")

		if !deadline.IsZero() && !time.Now().Add(cfg.Interval).Before(deadline) {
			if exists {
				return PollSlotInUse, nil
			}
			return PollSlotNotExist, nil
		}

		select {
		case <-ctx.Done():
			return PollSlotNotExist, ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}
}
