package command

import (
	"testing"

	"github.com/jackc/pglogrepl"
)

func feed(t *testing.T, p *Parser, data []byte) ([]Command, error) {
	t.Helper()
	var cmds []Command
	for len(data) > 0 {
		tail := p.Tail()
		if len(tail) == 0 {
			t.Fatal("parser buffer full before Advance reported it")
		}
		n := copy(tail, data)
		data = data[n:]
		got, err := p.Advance(n)
		cmds = append(cmds, got...)
		if err != nil {
			return cmds, err
		}
	}
	return cmds, nil
}

func TestParseFeedbackCommand(t *testing.T) {
	var p Parser
	cmds, err := feed(t, &p, []byte("F 0/16B3760\n"))
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1", len(cmds))
	}
	if cmds[0].Kind != KindFeedback || cmds[0].LSN != 0x16B3760 {
		t.Errorf("got %+v, want Feedback 0/16B3760", cmds[0])
	}
}

func TestParseHighHalf(t *testing.T) {
	var p Parser
	cmds, err := feed(t, &p, []byte("F DEADBEEF/CAFE0000\n"))
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	want := pglogrepl.LSN(0xDEADBEEFCAFE0000)
	if cmds[0].LSN != want {
		t.Errorf("LSN = %s, want %s", cmds[0].LSN, want)
	}
}

func TestParseQuit(t *testing.T) {
	var p Parser
	cmds, err := feed(t, &p, []byte("q\n"))
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Kind != KindQuit {
		t.Errorf("got %+v, want one Quit", cmds)
	}
}

func TestNopLines(t *testing.T) {
	var p Parser
	cmds, err := feed(t, &p, []byte("\n# a comment\n\nF 0/10\n"))
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].Kind != KindFeedback {
		t.Errorf("got %+v, want the feedback command only", cmds)
	}
}

func TestMalformedCommands(t *testing.T) {
	tests := []string{
		"x\n",
		"F\n",
		"F zzzz\n",
		"F 0/10 trailing\n",
		"quit\n",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			var p Parser
			if _, err := feed(t, &p, []byte(input)); err == nil {
				t.Errorf("Advance(%q) error = nil, want error", input)
			}
		})
	}
}

func TestMalformedStopsAfterValidPrefix(t *testing.T) {
	var p Parser
	cmds, err := feed(t, &p, []byte("F 0/10\nbogus\nF 0/20\n"))
	if err == nil {
		t.Fatal("Advance() error = nil, want error")
	}
	if len(cmds) != 1 || cmds[0].LSN != 0x10 {
		t.Errorf("got %+v, want only the command before the malformed line", cmds)
	}
}

// Chunk boundaries in the input stream must not change the result.
func TestChunkBoundaryInvariance(t *testing.T) {
	input := []byte("# lead-in\nF 0/1000\nF 0/2000\nF A/BCDEF012\nq\n")

	var whole Parser
	want, err := feed(t, &whole, input)
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}

	for size := 1; size <= len(input); size++ {
		var p Parser
		var got []Command
		for off := 0; off < len(input); off += size {
			end := off + size
			if end > len(input) {
				end = len(input)
			}
			cmds, err := feed(t, &p, input[off:end])
			if err != nil {
				t.Fatalf("chunk size %d: Advance() error = %v", size, err)
			}
			got = append(got, cmds...)
		}
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: got %d commands, want %d", size, len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("chunk size %d: command %d = %+v, want %+v", size, i, got[i], want[i])
			}
		}
	}
}

func TestOverfullLineIsAnError(t *testing.T) {
	var p Parser
	long := make([]byte, BufSize)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := feed(t, &p, long); err == nil {
		t.Fatal("Advance() error = nil, want overflow error")
	}
}

func TestPartialLineRetained(t *testing.T) {
	var p Parser
	cmds, err := feed(t, &p, []byte("F 0/10\nF 0/2"))
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1", len(cmds))
	}
	cmds, err = feed(t, &p, []byte("0\n"))
	if err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].LSN != 0x20 {
		t.Errorf("got %+v, want Feedback 0/20", cmds)
	}
}
