package lsn

import (
	"testing"

	"github.com/jackc/pglogrepl"
)

func TestLag(t *testing.T) {
	tests := []struct {
		name    string
		current pglogrepl.LSN
		latest  pglogrepl.LSN
		want    uint64
	}{
		{"behind", 0x1000, 0x2000, 0x1000},
		{"caught up", 0x2000, 0x2000, 0},
		{"ahead", 0x3000, 0x2000, 0},
		{"high halves", 0x100000000, 0x200000000, 0x100000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Lag(tt.current, tt.latest); got != tt.want {
				t.Errorf("Lag(%s, %s) = %d, want %d", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestFormatLag(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{3 << 20, "3.00 MB"},
		{5 << 30, "5.00 GB"},
	}
	for _, tt := range tests {
		if got := FormatLag(tt.bytes); got != tt.want {
			t.Errorf("FormatLag(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
