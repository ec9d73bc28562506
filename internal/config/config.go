// Package config holds the immutable per-session configuration, built
// once by the CLI and threaded through the session.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPlugin is the logical decoding plugin used when creating a slot
// without an explicit --plugin.
const DefaultPlugin = "test_decoding"

// Option is one plugin option passed to START_REPLICATION. An option
// without a value renders as a bare key.
type Option struct {
	Key      string
	Value    string
	HasValue bool
}

// Param is one extra libpq connection parameter.
type Param struct {
	Key   string
	Value string
}

// ConnParams holds libpq-style connection parameters. Empty fields are
// omitted so libpq defaults (environment, service files) still apply.
type ConnParams struct {
	Host   string
	Port   uint16
	User   string
	DBName string
	Extra  []Param
}

// ConnString renders the parameters as a keyword/value connection string.
func (p ConnParams) ConnString() string {
	return strings.Join(p.keywords(), " ")
}

// ReplicationConnString renders the parameters for a streaming session.
// Setting replication=database makes the server speak the replication
// protocol instead of the regular SQL protocol.
func (p ConnParams) ReplicationConnString() string {
	return strings.Join(append(p.keywords(), "replication=database"), " ")
}

func (p ConnParams) keywords() []string {
	var parts []string
	if p.Host != "" {
		parts = append(parts, "host="+quoteConnValue(p.Host))
	}
	if p.Port != 0 {
		parts = append(parts, fmt.Sprintf("port=%d", p.Port))
	}
	if p.User != "" {
		parts = append(parts, "user="+quoteConnValue(p.User))
	}
	if p.DBName != "" {
		parts = append(parts, "dbname="+quoteConnValue(p.DBName))
	}
	for _, kv := range p.Extra {
		parts = append(parts, kv.Key+"="+quoteConnValue(kv.Value))
	}
	return parts
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Config is the complete configuration for one session.
type Config struct {
	Slot          string
	Plugin        string
	CreateSlot    bool
	PluginOptions []Option

	PollMode     bool
	PollInterval time.Duration
	PollDuration time.Duration // 0 means unlimited

	OutFD int
	CmdFD int

	FeedbackInterval time.Duration
	StatusInterval   time.Duration // 0 disables the periodic send
	AutoFeedback     bool
	WriteHeader      bool
	WriteNL          bool
	Verbose          bool

	Conn ConnParams
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Slot == "" {
		errs = append(errs, errors.New("slot name is required"))
	}
	if c.OutFD < 0 || c.OutFD == c.CmdFD {
		errs = append(errs, fmt.Errorf("invalid output descriptor %d", c.OutFD))
	}
	if c.FeedbackInterval < 0 {
		errs = append(errs, errors.New("feedback interval must not be negative"))
	}
	if c.StatusInterval < 0 {
		errs = append(errs, errors.New("status interval must not be negative"))
	}
	if c.PollMode && c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.PollDuration < 0 {
		errs = append(errs, errors.New("poll duration must not be negative"))
	}
	if c.Plugin == "" {
		c.Plugin = DefaultPlugin
	}

	return errors.Join(errs...)
}
