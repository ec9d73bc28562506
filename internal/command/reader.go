package command

import (
	"os"

	"github.com/rs/zerolog"
)

// Event is one reader result: a parsed command, or a terminal error.
// Err is io.EOF when the command channel was closed cleanly.
type Event struct {
	Cmd Command
	Err error
}

// Reader owns the command descriptor and feeds parsed commands to the
// event loop over a channel. After delivering an error event the reader
// stops and closes the channel.
type Reader struct {
	f      *os.File
	parser Parser
	logger zerolog.Logger
	events chan Event
}

// NewReader wraps the given descriptor. The descriptor should already be
// in non-blocking mode (see fdio.Setup) so reads park the goroutine in the
// runtime poller instead of pinning a thread.
func NewReader(fd int, logger zerolog.Logger) *Reader {
	return &Reader{
		f:      os.NewFile(uintptr(fd), "command-channel"),
		logger: logger.With().Str("component", "command").Logger(),
		events: make(chan Event, 16),
	}
}

// Events returns the channel of parsed commands.
func (r *Reader) Events() <-chan Event {
	return r.events
}

// Start launches the reader goroutine.
func (r *Reader) Start() {
	go r.run()
}

func (r *Reader) run() {
	defer close(r.events)
	for {
		n, err := r.f.Read(r.parser.Tail())
		if n > 0 {
			cmds, perr := r.parser.Advance(n)
			for _, c := range cmds {
				r.logger.Debug().Stringer("kind", c.Kind).Stringer("lsn", c.LSN).Msg("command received")
				r.events <- Event{Cmd: c}
			}
			if perr != nil {
				r.events <- Event{Err: perr}
				return
			}
		}
		if err != nil {
			r.events <- Event{Err: err}
			return
		}
	}
}
