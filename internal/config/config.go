// Package config parses the flat configuration keys defined in spec.md §6
// into a typed, validated Config tree. The source map mirrors what the
// (out-of-scope) control plane hands the transport core at startup.
package config

import (
	"fmt"
	"time"
)

// LinkConfig describes one configured path.
type LinkConfig struct {
	ID                  int
	URI                 string
	Interface           string
	SignalThresholdDBm  *float64
	CapacityPenalty     float64
}

// ReceiverConfig holds reassembly-side tunables.
type ReceiverConfig struct {
	StartLatency        time.Duration
	MaxLatency           time.Duration
	SkipAfter             time.Duration
	JitterMultiplier    float64
}

// SchedulerConfig holds scheduler tunables.
type SchedulerConfig struct {
	CriticalBroadcast bool
	BlestThreshold    time.Duration
	BlestMaxPenalty   float64
}

// FECConfig holds FEC codec tunables.
type FECConfig struct {
	K            int
	R            int
	TarotEnabled bool
}

// SenderConfig holds sender-side tunables.
type SenderConfig struct {
	PoolCapacity int
	MaxRetries   int
	PacketTTL    time.Duration
}

// Config is the fully validated, typed configuration tree.
type Config struct {
	Receiver  ReceiverConfig
	Scheduler SchedulerConfig
	FEC       FECConfig
	Sender    SenderConfig
	Links     []LinkConfig
}

// Default returns the configuration with every default named in spec.md §6.
func Default() Config {
	return Config{
		Receiver: ReceiverConfig{
			StartLatency:     40 * time.Millisecond,
			MaxLatency:       400 * time.Millisecond,
			SkipAfter:        100 * time.Millisecond,
			JitterMultiplier: 4.0,
		},
		Scheduler: SchedulerConfig{
			CriticalBroadcast: true,
			BlestThreshold:    50 * time.Millisecond,
			BlestMaxPenalty:   4.0,
		},
		FEC: FECConfig{
			K:            32,
			R:            4,
			TarotEnabled: true,
		},
		Sender: SenderConfig{
			PoolCapacity: 4096,
			MaxRetries:   4,
			PacketTTL:    500 * time.Millisecond,
		},
	}
}

// FromMap parses the flat key set in spec.md §6 onto a copy of Default().
// Unknown keys are ignored (the map may carry keys for out-of-scope
// collaborators); recognized keys are validated and type-checked.
func FromMap(m map[string]any) (Config, error) {
	cfg := Default()

	if v, ok := m["receiver.start_latency_ms"]; ok {
		ms, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("receiver.start_latency_ms: %w", err)
		}
		cfg.Receiver.StartLatency = time.Duration(ms) * time.Millisecond
	}
	if v, ok := m["receiver.max_latency_ms"]; ok {
		ms, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("receiver.max_latency_ms: %w", err)
		}
		cfg.Receiver.MaxLatency = time.Duration(ms) * time.Millisecond
	}
	if v, ok := m["receiver.skip_after_ms"]; ok {
		ms, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("receiver.skip_after_ms: %w", err)
		}
		cfg.Receiver.SkipAfter = time.Duration(ms) * time.Millisecond
	}
	if v, ok := m["receiver.jitter_latency_multiplier"]; ok {
		f, err := asFloat(v)
		if err != nil {
			return cfg, fmt.Errorf("receiver.jitter_latency_multiplier: %w", err)
		}
		cfg.Receiver.JitterMultiplier = f
	}

	if v, ok := m["scheduler.critical_broadcast"]; ok {
		b, ok := v.(bool)
		if !ok {
			return cfg, fmt.Errorf("scheduler.critical_broadcast: not a bool")
		}
		cfg.Scheduler.CriticalBroadcast = b
	}
	if v, ok := m["scheduler.blest_threshold_ms"]; ok {
		ms, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("scheduler.blest_threshold_ms: %w", err)
		}
		cfg.Scheduler.BlestThreshold = time.Duration(ms) * time.Millisecond
	}
	if v, ok := m["scheduler.blest_max_penalty"]; ok {
		f, err := asFloat(v)
		if err != nil {
			return cfg, fmt.Errorf("scheduler.blest_max_penalty: %w", err)
		}
		cfg.Scheduler.BlestMaxPenalty = f
	}

	if v, ok := m["fec.k"]; ok {
		n, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("fec.k: %w", err)
		}
		cfg.FEC.K = n
	}
	if v, ok := m["fec.r"]; ok {
		n, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("fec.r: %w", err)
		}
		cfg.FEC.R = n
	}
	if v, ok := m["fec.tarot_enabled"]; ok {
		b, ok := v.(bool)
		if !ok {
			return cfg, fmt.Errorf("fec.tarot_enabled: not a bool")
		}
		cfg.FEC.TarotEnabled = b
	}

	if v, ok := m["sender.pool_capacity"]; ok {
		n, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("sender.pool_capacity: %w", err)
		}
		cfg.Sender.PoolCapacity = n
	}
	if v, ok := m["sender.max_retries"]; ok {
		n, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("sender.max_retries: %w", err)
		}
		cfg.Sender.MaxRetries = n
	}
	if v, ok := m["sender.packet_ttl_ms"]; ok {
		ms, err := asInt(v)
		if err != nil {
			return cfg, fmt.Errorf("sender.packet_ttl_ms: %w", err)
		}
		cfg.Sender.PacketTTL = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// behavior deep in the scheduler or FEC codec.
func (c Config) Validate() error {
	if c.FEC.K <= 0 {
		return fmt.Errorf("fec.k must be positive, got %d", c.FEC.K)
	}
	if c.FEC.R < 0 {
		return fmt.Errorf("fec.r must be non-negative, got %d", c.FEC.R)
	}
	if c.Receiver.MaxLatency < c.Receiver.StartLatency {
		return fmt.Errorf("receiver.max_latency_ms must be >= receiver.start_latency_ms")
	}
	if c.Sender.PoolCapacity <= 0 {
		return fmt.Errorf("sender.pool_capacity must be positive")
	}
	return nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
