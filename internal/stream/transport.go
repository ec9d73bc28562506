package stream

import (
	"context"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/jfoltran/pglogstream/internal/wire"
)

// Transport is the server side of the copy-both stream as the event loop
// sees it.
type Transport interface {
	// Receive returns the next backend message, honoring ctx's deadline.
	Receive(ctx context.Context) (pgproto3.BackendMessage, error)
	// SendStatus transmits a standby status update with the given write
	// and flush positions. The apply position is never reported.
	SendStatus(ctx context.Context, write, flush pglogrepl.LSN, sentAt time.Time) error
	// Closed reports whether the underlying connection is gone.
	Closed() bool
}

// PGTransport adapts a replication connection to Transport.
type PGTransport struct {
	Conn *pgconn.PgConn
}

func (t *PGTransport) Receive(ctx context.Context) (pgproto3.BackendMessage, error) {
	return t.Conn.ReceiveMessage(ctx)
}

func (t *PGTransport) SendStatus(ctx context.Context, write, flush pglogrepl.LSN, sentAt time.Time) error {
	payload := wire.EncodeStandbyStatus(write, flush, 0, sentAt)
	buf, err := (&pgproto3.CopyData{Data: payload}).Encode(nil)
	if err != nil {
		return err
	}
	return t.Conn.Frontend().SendUnbufferedEncodedCopyData(buf)
}

func (t *PGTransport) Closed() bool {
	return t.Conn.IsClosed()
}
