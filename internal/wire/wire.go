// Package wire encodes and decodes the control messages of the logical
// replication copy-both sub-protocol. All integers are big-endian and LSN
// arithmetic is unsigned; timestamps on the wire are microseconds since
// midnight UTC 2000-01-01, the PostgreSQL epoch.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
)

const (
	// Minimum lengths include the tag byte.
	keepaliveMinLen = 1 + 8 + 8 + 1
	xLogDataMinLen  = 1 + 8 + 8 + 8

	// StandbyStatusLen is the size of an encoded standby status update
	// payload, before the CopyData envelope.
	StandbyStatusLen = 1 + 8 + 8 + 8 + 8 + 1
)

var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ProtocolError reports a malformed or unrecognized copy-both message.
// It is fatal to the session.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return e.msg }

func protoErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// Kind identifies a decoded copy-both message.
type Kind int

const (
	KindKeepalive Kind = iota
	KindXLogData
)

// String returns a human-readable name for a Kind.
func (k Kind) String() string {
	switch k {
	case KindKeepalive:
		return "Keepalive"
	case KindXLogData:
		return "XLogData"
	default:
		return "Unknown"
	}
}

// Message is a decoded server-to-client copy-both message.
type Message interface {
	Kind() Kind
}

// Keepalive is the primary keepalive message ('k'). ReplyRequested demands
// an immediate standby status update.
type Keepalive struct {
	WALEnd         pglogrepl.LSN
	SendTime       time.Time
	ReplyRequested bool
}

func (m *Keepalive) Kind() Kind { return KindKeepalive }

// XLogData carries one decoded record ('w'). Data is the plugin's opaque
// payload and may be empty.
type XLogData struct {
	DataStart pglogrepl.LSN
	WALEnd    pglogrepl.LSN
	SendTime  time.Time
	Data      []byte
}

func (m *XLogData) Kind() Kind { return KindXLogData }

// Decode interprets one CopyData payload received on the replication
// stream. The returned XLogData aliases data; callers that retain the
// payload past the next receive must copy it.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, protoErrorf("empty streaming message")
	}
	switch data[0] {
	case pglogrepl.PrimaryKeepaliveMessageByteID:
		if len(data) < keepaliveMinLen {
			return nil, protoErrorf("streaming header too small: %d bytes", len(data))
		}
		return &Keepalive{
			WALEnd:         pglogrepl.LSN(binary.BigEndian.Uint64(data[1:])),
			SendTime:       PGTime(int64(binary.BigEndian.Uint64(data[9:]))),
			ReplyRequested: data[17] != 0,
		}, nil
	case pglogrepl.XLogDataByteID:
		if len(data) < xLogDataMinLen {
			return nil, protoErrorf("streaming header too small: %d bytes", len(data))
		}
		return &XLogData{
			DataStart: pglogrepl.LSN(binary.BigEndian.Uint64(data[1:])),
			WALEnd:    pglogrepl.LSN(binary.BigEndian.Uint64(data[9:])),
			SendTime:  PGTime(int64(binary.BigEndian.Uint64(data[17:]))),
			Data:      data[25:],
		}, nil
	default:
		return nil, protoErrorf("unrecognized streaming header %q, size=%d bytes", data[0], len(data))
	}
}

// EncodeStandbyStatus builds the payload of a standby status update ('r')
// carrying the given write, flush, and apply positions. The reply-requested
// byte is always zero. The result still needs the CopyData envelope.
func EncodeStandbyStatus(write, flush, apply pglogrepl.LSN, sentAt time.Time) []byte {
	buf := make([]byte, StandbyStatusLen)
	buf[0] = pglogrepl.StandbyStatusUpdateByteID
	binary.BigEndian.PutUint64(buf[1:], uint64(write))
	binary.BigEndian.PutUint64(buf[9:], uint64(flush))
	binary.BigEndian.PutUint64(buf[17:], uint64(apply))
	binary.BigEndian.PutUint64(buf[25:], uint64(PGTimestamp(sentAt)))
	buf[33] = 0
	return buf
}

// PGTime converts microseconds since the PostgreSQL epoch to a time.Time.
func PGTime(micros int64) time.Time {
	return pgEpoch.Add(time.Duration(micros) * time.Microsecond)
}

// PGTimestamp converts a time.Time to microseconds since the PostgreSQL
// epoch.
func PGTimestamp(t time.Time) int64 {
	return int64(t.Sub(pgEpoch) / time.Microsecond)
}
