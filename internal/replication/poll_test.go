package replication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeProber scripts a sequence of slot observations.
type fakeProber struct {
	states  []slotState
	idx     int
	created int
}

type slotState struct {
	exists bool
	active bool
}

func (f *fakeProber) SlotStatus(ctx context.Context, slot string) (bool, bool, error) {
	st := f.states[f.idx]
	if f.idx < len(f.states)-1 {
		f.idx++
	}
	return st.exists, st.active, nil
}

func (f *fakeProber) CreateSlot(ctx context.Context, slot, plugin string) error {
	f.created++
	// Creation makes the slot visible to subsequent probes.
	f.states = append(f.states[:f.idx], slotState{exists: true})
	f.idx = len(f.states) - 1
	return nil
}

func TestPollReadyImmediately(t *testing.T) {
	p := &fakeProber{states: []slotState{{exists: true, active: false}}}
	got, err := Poll(context.Background(), p, PollConfig{Slot: "cdc", Interval: time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != PollReady {
		t.Errorf("Poll() = %v, want PollReady", got)
	}
}

func TestPollWaitsForRelease(t *testing.T) {
	p := &fakeProber{states: []slotState{
		{exists: true, active: true},
		{exists: true, active: true},
		{exists: true, active: false},
	}}
	got, err := Poll(context.Background(), p, PollConfig{Slot: "cdc", Interval: time.Millisecond}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != PollReady {
		t.Errorf("Poll() = %v, want PollReady", got)
	}
}

func TestPollCreatesOnce(t *testing.T) {
	p := &fakeProber{states: []slotState{{exists: false}}}
	cfg := PollConfig{Slot: "cdc", Plugin: "test_decoding", Interval: 10 * time.Millisecond, Deadline: time.Second, CreateOnce: true}
	got, err := Poll(context.Background(), p, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != PollReady {
		t.Errorf("Poll() = %v, want PollReady", got)
	}
	if p.created != 1 {
		t.Errorf("CreateSlot called %d times, want 1", p.created)
	}
}

func TestPollDeadlineSlotInUse(t *testing.T) {
	p := &fakeProber{states: []slotState{{exists: true, active: true}}}
	cfg := PollConfig{Slot: "cdc", Interval: 10 * time.Millisecond, Deadline: 35 * time.Millisecond}
	got, err := Poll(context.Background(), p, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != PollSlotInUse {
		t.Errorf("Poll() = %v, want PollSlotInUse", got)
	}
}

func TestPollDeadlineSlotNotExist(t *testing.T) {
	p := &fakeProber{states: []slotState{{exists: false}}}
	cfg := PollConfig{Slot: "cdc", Interval: 10 * time.Millisecond, Deadline: 35 * time.Millisecond}
	got, err := Poll(context.Background(), p, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if got != PollSlotNotExist {
		t.Errorf("Poll() = %v, want PollSlotNotExist", got)
	}
}

func TestPollCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakeProber{states: []slotState{{exists: false}}}
	_, err := Poll(ctx, p, PollConfig{Slot: "cdc", Interval: time.Hour}, zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}
}

type errProber struct{}

func (errProber) SlotStatus(ctx context.Context, slot string) (bool, bool, error) {
	return false, false, errors.New("connection refused")
}
func (errProber) CreateSlot(ctx context.Context, slot, plugin string) error { return nil }

func TestPollProbeError(t *testing.T) {
	_, err := Poll(context.Background(), errProber{}, PollConfig{Slot: "cdc", Interval: time.Millisecond}, zerolog.Nop())
	if err == nil {
		t.Fatal("Poll() error = nil, want probe error")
	}
}
