// Package config holds the validated configuration surfaces for the
// broadcaster and the execution engine, in the shape of
// preconf.TxPoolConfig / preconf.MinerConfig: plain structs with
// Validate() and String() methods, defaults exposed as package vars.
package config

import (
	"errors"
	"fmt"
	"time"
)

// BroadcastMode selects how transactions are mapped onto RPC endpoints.
type BroadcastMode int

const (
	Pairwise BroadcastMode = iota
	ReplicateSingle
	RoundRobin
	FullFanout
)

func (m BroadcastMode) String() string {
	switch m {
	case Pairwise:
		return "pairwise"
	case ReplicateSingle:
		return "replicate_single"
	case RoundRobin:
		return "round_robin"
	case FullFanout:
		return "full_fanout"
	default:
		return "unknown"
	}
}

// ParseBroadcastMode parses the CLI-facing spelling of a BroadcastMode.
func ParseBroadcastMode(s string) (BroadcastMode, error) {
	switch s {
	case "pairwise":
		return Pairwise, nil
	case "replicate_single":
		return ReplicateSingle, nil
	case "round_robin":
		return RoundRobin, nil
	case "full_fanout":
		return FullFanout, nil
	default:
		return Pairwise, fmt.Errorf("config: unknown broadcast mode %q", s)
	}
}

// DefaultBroadcasterConfig mirrors the defaults named in the external
// interfaces: Pairwise mode, 8s per-send timeout, early-cancel threshold
// equal to the endpoint count (resolved at Validate time if left at 0).
var DefaultBroadcasterConfig = BroadcasterConfig{
	BroadcastMode:        Pairwise,
	RPCTimeout:           8 * time.Second,
	EarlyCancelThreshold: 0, // 0 means "= len(Endpoints)"; resolved by Validate
}

// BroadcasterConfig configures the RPC broadcaster.
type BroadcasterConfig struct {
	Endpoints            []string
	BroadcastMode        BroadcastMode
	RPCTimeout           time.Duration
	EarlyCancelThreshold int
}

// Validate checks the configuration is internally consistent and fills
// in the zero-value EarlyCancelThreshold default. It mutates c so the
// caller need not resolve the default a second time.
func (c *BroadcasterConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("config: broadcaster requires at least one rpc endpoint")
	}
	if c.RPCTimeout <= 0 {
		return errors.New("config: broadcaster rpc_timeout must be positive")
	}
	if c.EarlyCancelThreshold <= 0 {
		c.EarlyCancelThreshold = len(c.Endpoints)
	}
	return nil
}

func (c *BroadcasterConfig) String() string {
	return fmt.Sprintf("BroadcasterConfig{endpoints=%d, mode=%s, rpc_timeout=%s, early_cancel_threshold=%d}",
		len(c.Endpoints), c.BroadcastMode, c.RPCTimeout, c.EarlyCancelThreshold)
}

// SnifferMode names the external candidate source. It is pass-through
// configuration: the engine itself is agnostic to which sniffer emits the
// candidate channel it reads, and cmd/sniper only validates and logs it
// (it wires no sniffer).
type SnifferMode int

const (
	SnifferReal SnifferMode = iota
	SnifferMock
)

func (m SnifferMode) String() string {
	if m == SnifferMock {
		return "mock"
	}
	return "real"
}

// ParseSnifferMode parses the CLI-facing spelling of a SnifferMode.
func ParseSnifferMode(s string) (SnifferMode, error) {
	switch s {
	case "real":
		return SnifferReal, nil
	case "mock":
		return SnifferMock, nil
	default:
		return SnifferReal, fmt.Errorf("config: unknown sniffer mode %q", s)
	}
}

// DefaultEngineConfig mirrors the defaults named in the external
// interfaces section.
var DefaultEngineConfig = EngineConfig{
	NonceCount:           5,
	CandidateTTL:         30 * time.Second,
	CandidateBufferSize:  1024,
	RateLimitWindow:      60 * time.Second,
	RateLimitMaxAttempts: 5,
	GUIUpdateInterval:    250 * time.Millisecond,
	SnifferMode:          SnifferReal,
}

// EngineConfig configures the execution engine. GUIUpdateInterval and
// SnifferMode are pass-through fields: the engine never reads them
// itself. The supervisor process uses GUIUpdateInterval as its status
// printer's refresh interval and only validates and logs SnifferMode;
// both are carried here rather than invented ad hoc at the call site.
type EngineConfig struct {
	NonceCount           int
	CandidateTTL         time.Duration
	CandidateBufferSize  int
	RateLimitWindow      time.Duration
	RateLimitMaxAttempts int
	GUIUpdateInterval    time.Duration
	SnifferMode          SnifferMode
}

// Validate checks the configuration is internally consistent.
func (c *EngineConfig) Validate() error {
	if c.NonceCount <= 0 {
		return errors.New("config: engine nonce_count must be positive")
	}
	if c.CandidateTTL < 0 {
		return errors.New("config: engine candidate_ttl must not be negative")
	}
	if c.CandidateBufferSize <= 0 {
		return errors.New("config: engine candidate_buffer_size must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("config: engine rate_limit_window must be positive")
	}
	if c.RateLimitMaxAttempts <= 0 {
		return errors.New("config: engine rate_limit_max_attempts must be positive")
	}
	if c.GUIUpdateInterval < 0 {
		return errors.New("config: engine gui_update_interval must not be negative")
	}
	return nil
}

func (c *EngineConfig) String() string {
	return fmt.Sprintf("EngineConfig{nonce_count=%d, candidate_ttl=%s, candidate_buffer_size=%d, rate_limit=%d/%s, gui_update_interval=%s, sniffer_mode=%s}",
		c.NonceCount, c.CandidateTTL, c.CandidateBufferSize, c.RateLimitMaxAttempts, c.RateLimitWindow, c.GUIUpdateInterval, c.SnifferMode)
}
