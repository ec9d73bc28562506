package replication

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cdc_slot", `"cdc_slot"`},
		{`weird"name`, `"weird""name"`},
		{"", `""`},
	}
	for _, tt := range tests {
		if got := QuoteIdentifier(tt.in); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2", `'2'`},
		{"o'brien", `'o''brien'`},
		{"", `''`},
	}
	for _, tt := range tests {
		if got := QuoteLiteral(tt.in); got != tt.want {
			t.Errorf("QuoteLiteral(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestClassifyStartError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want StartOutcome
	}{
		{"slot in use", &pgconn.PgError{Code: "55006"}, StartSlotInUse},
		{"slot missing", &pgconn.PgError{Code: "42704"}, StartSlotNotExist},
		{"other server error", &pgconn.PgError{Code: "58P01"}, StartFailed},
		{"wrapped", fmt.Errorf("start replication: %w", &pgconn.PgError{Code: "55006"}), StartSlotInUse},
		{"not a server error", errors.New("broken pipe"), StartFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStartError(tt.err); got != tt.want {
				t.Errorf("ClassifyStartError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStartOutcomeString(t *testing.T) {
	tests := []struct {
		o    StartOutcome
		want string
	}{
		{StartOK, "ok"},
		{StartSlotInUse, "slot-in-use"},
		{StartSlotNotExist, "slot-not-exist"},
		{StartFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
