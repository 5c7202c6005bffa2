package market

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the static configuration of one market.
type Config struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	Address string        `mapstructure:"address"`
	Events  []EventConfig `mapstructure:"events"`
}

// EventConfig is the static configuration of one market event.
type EventConfig struct {
	Name      string         `mapstructure:"name"`
	Signature string         `mapstructure:"signature"`
	Trigger   *TriggerConfig `mapstructure:"trigger"`
	Fields    FieldMap       `mapstructure:"fields"`
}

// TriggerConfig is the static configuration of an event trigger.
type TriggerConfig struct {
	Signature string `mapstructure:"signature"`
	Address   string `mapstructure:"address"`
}

// Registry is the immutable set of configured markets.
type Registry struct {
	markets []*Market
}

// NewRegistry validates the configs and parses every signature once.
func NewRegistry(configs []Config) (*Registry, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("at least one market is required")
	}

	markets := make([]*Market, 0, len(configs))
	for i, cfg := range configs {
		m, err := buildMarket(cfg)
		if err != nil {
			return nil, fmt.Errorf("market %d (%s): %w", i, cfg.Name, err)
		}
		markets = append(markets, m)
	}
	return &Registry{markets: markets}, nil
}

// Markets returns the configured markets in configuration order.
func (r *Registry) Markets() []*Market {
	out := make([]*Market, len(r.markets))
	copy(out, r.markets)
	return out
}

// Pairs flattens the registry into (market, event) pairs.
func (r *Registry) Pairs() []Pair {
	var pairs []Pair
	for _, m := range r.markets {
		for _, ev := range m.Events {
			pairs = append(pairs, Pair{Market: m, Event: ev})
		}
	}
	return pairs
}

func buildMarket(cfg Config) (*Market, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	address, err := parseAddress(cfg.Address)
	if err != nil {
		return nil, err
	}
	if len(cfg.Events) == 0 {
		return nil, fmt.Errorf("at least one event is required")
	}

	m := &Market{
		Name:    name,
		URL:     cfg.URL,
		Address: address,
		Events:  make([]*Event, 0, len(cfg.Events)),
	}
	for i, evCfg := range cfg.Events {
		ev, err := buildEvent(evCfg)
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", i, evCfg.Name, err)
		}
		m.Events = append(m.Events, ev)
	}
	return m, nil
}

func buildEvent(cfg EventConfig) (*Event, error) {
	sig, err := ParseSignature(cfg.Signature)
	if err != nil {
		return nil, err
	}
	if err := cfg.Fields.Validate(); err != nil {
		return nil, err
	}

	ev := &Event{
		Name:      strings.TrimSpace(cfg.Name),
		Signature: sig,
		Fields:    cfg.Fields,
	}
	if ev.Name == "" {
		ev.Name = sig.Name()
	}

	if cfg.Trigger != nil {
		triggerSig, err := ParseSignature(cfg.Trigger.Signature)
		if err != nil {
			return nil, fmt.Errorf("trigger: %w", err)
		}
		triggerAddress, err := parseAddress(cfg.Trigger.Address)
		if err != nil {
			return nil, fmt.Errorf("trigger: %w", err)
		}
		ev.Trigger = &Trigger{Signature: triggerSig, Address: triggerAddress}
	}
	return ev, nil
}

func parseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address: %q", input)
	}
	return common.HexToAddress(input), nil
}
