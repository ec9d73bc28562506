// Package fdio prepares the inherited descriptors for the session: the
// command descriptor must be non-blocking (so the runtime poller can park
// readers), the output descriptor must stay blocking.
package fdio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Setup clears O_NONBLOCK on the output descriptor and sets it on the
// command descriptor. On some platforms the two descriptors share flag
// state (a duplex socket or tty), in which case flagging the command side
// also flags the output side; Setup re-checks, clears the output side
// again, and reports that the pair is shared.
func Setup(cmdFD, outFD int) (shared bool, err error) {
	if err := unix.SetNonblock(outFD, false); err != nil {
		return false, fmt.Errorf("clear nonblock on output fd %d: %w", outFD, err)
	}
	if err := unix.SetNonblock(cmdFD, true); err != nil {
		return false, fmt.Errorf("set nonblock on command fd %d: %w", cmdFD, err)
	}

	flags, err := unix.FcntlInt(uintptr(outFD), unix.F_GETFL, 0)
	if err != nil {
		return false, fmt.Errorf("get flags of output fd %d: %w", outFD, err)
	}
	if flags&unix.O_NONBLOCK != 0 {
		if err := unix.SetNonblock(outFD, false); err != nil {
			return false, fmt.Errorf("clear nonblock on output fd %d: %w", outFD, err)
		}
		return true, nil
	}
	return false, nil
}
