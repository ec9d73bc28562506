// Package command parses the line-oriented control protocol arriving on
// the command descriptor. The downstream consumer acknowledges progress
// with `F <hex>/<hex>` lines and requests shutdown with `q`; empty lines
// and `#` comments are ignored. Anything else is fatal.
package command

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jackc/pglogrepl"
)

// BufSize caps a single command line. Commands are short; the cap bounds
// memory for a misbehaving producer.
const BufSize = 4096

// Kind identifies a parsed command.
type Kind int

const (
	KindNop Kind = iota
	KindFeedback
	KindQuit
)

// String returns a human-readable name for a Kind.
func (k Kind) String() string {
	switch k {
	case KindNop:
		return "Nop"
	case KindFeedback:
		return "Feedback"
	case KindQuit:
		return "Quit"
	default:
		return "Unknown"
	}
}

// Command is one parsed control command.
type Command struct {
	Kind Kind
	// LSN is the acknowledged position for KindFeedback.
	LSN pglogrepl.LSN
}

// Parser assembles newline-delimited commands from a byte stream. Reads
// land directly in its fixed buffer via Tail; Advance consumes complete
// lines and compacts the remainder to the buffer head. A line that fills
// the buffer without a terminating newline can never complete and is
// reported as an error rather than dropped.
type Parser struct {
	buf [BufSize]byte
	n   int
}

// Tail returns the writable remainder of the buffer.
func (p *Parser) Tail() []byte {
	return p.buf[p.n:]
}

// Advance records that n bytes were read into Tail and parses every
// complete line now in the buffer. Parsing stops at the first malformed
// command; commands preceding it are still returned.
func (p *Parser) Advance(n int) ([]Command, error) {
	p.n += n

	var cmds []Command
	pos := 0
	for {
		i := bytes.IndexByte(p.buf[pos:p.n], '\n')
		if i < 0 {
			break
		}
		cmd, err := parseLine(p.buf[pos : pos+i])
		if err != nil {
			return cmds, err
		}
		if cmd.Kind != KindNop {
			cmds = append(cmds, cmd)
		}
		pos += i + 1
	}

	copy(p.buf[:], p.buf[pos:p.n])
	p.n -= pos

	if p.n == BufSize {
		return cmds, fmt.Errorf("command exceeds %d bytes without a newline", BufSize)
	}
	return cmds, nil
}

func parseLine(line []byte) (Command, error) {
	if len(line) == 0 || line[0] == '#' {
		return Command{Kind: KindNop}, nil
	}
	switch line[0] {
	case 'F':
		fields := strings.Fields(string(line))
		if len(fields) != 2 || fields[0] != "F" {
			return Command{}, fmt.Errorf("invalid F command: %q", line)
		}
		lsn, err := pglogrepl.ParseLSN(fields[1])
		if err != nil {
			return Command{}, fmt.Errorf("invalid F command: %q: %w", line, err)
		}
		return Command{Kind: KindFeedback, LSN: lsn}, nil
	case 'q':
		if len(line) != 1 {
			return Command{}, fmt.Errorf("invalid command: %q", line)
		}
		return Command{Kind: KindQuit}, nil
	default:
		return Command{}, fmt.Errorf("invalid command: %q", line)
	}
}
