package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"salesbot/internal/backfill"
	"salesbot/internal/market"
)

const configYAML = `
rpc: wss://rpc.example/ws
collections:
  - "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
  - " 0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb "
kafka-brokers: "k1:9092, k2:9092"
markets:
  - name: Two Log Market
    url: https://market.example
    address: "0x1111111111111111111111111111111111111111"
    events:
      - name: Sale
        signature: "Settled(address collection, uint256 tokenId, address seller, address buyer)"
        trigger:
          signature: "Accepted(uint256 price)"
          address: "0x2222222222222222222222222222222222222222"
        fields:
          token_id: tokenId
          value: price
          seller: seller
          buyer: buyer
          collection: collection
`

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(configYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.RPCURL != "wss://rpc.example/ws" {
		t.Fatalf("rpc mismatch: %q", cfg.RPCURL)
	}
	if cfg.ChunkSize != backfill.DefaultChunkSize || cfg.ReceiptRetries != 3 || cfg.PollInterval != 4*time.Second || cfg.PollMaxFailures != 5 {
		t.Fatalf("defaults mismatch: %+v", cfg)
	}
	if len(cfg.Collections) != 2 || cfg.Collections[1] != "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Fatalf("collections mismatch: %v", cfg.Collections)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers mismatch: %v", cfg.KafkaBrokers)
	}

	if len(cfg.Markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(cfg.Markets))
	}
	ev := cfg.Markets[0].Events[0]
	if ev.Trigger == nil || ev.Trigger.Address != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("trigger mismatch: %+v", ev.Trigger)
	}
	if ev.Fields.TokenID != "tokenId" || ev.Fields.Value != "price" {
		t.Fatalf("fields mismatch: %+v", ev.Fields)
	}

	if _, err := market.NewRegistry(cfg.Markets); err != nil {
		t.Fatalf("registry from config: %v", err)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SALESBOT_CHUNK_SIZE", "500")
	t.Setenv("SALESBOT_REDIS_STREAM", "sales-stream")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Uint64("history", 0, "")
	if err := flags.Parse([]string{"--rpc", "https://rpc.example", "--history", "1000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCURL != "https://rpc.example" {
		t.Fatalf("rpc mismatch: %q", cfg.RPCURL)
	}
	if cfg.ChunkSize != 500 {
		t.Fatalf("chunk size mismatch: %d", cfg.ChunkSize)
	}
	if cfg.Redis.Stream != "sales-stream" || cfg.Redis.Channel != "salesbot:sales" {
		t.Fatalf("redis mismatch: %+v", cfg.Redis)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].Name != "Facet NFT" {
		t.Fatalf("expected default market, got %+v", cfg.Markets)
	}

	r, err := cfg.ReplayRange()
	if err != nil || r == nil {
		t.Fatalf("replay range: %v %v", r, err)
	}
	if *r != backfill.Trailing(1000) {
		t.Fatalf("replay range mismatch: %v", r)
	}
}

func TestReplayRange(t *testing.T) {
	cfg := Config{Range: "10,20", History: 5}
	r, err := cfg.ReplayRange()
	if err != nil {
		t.Fatalf("replay range: %v", err)
	}
	if *r != backfill.Between(10, 20) {
		t.Fatalf("explicit range should win: %v", r)
	}

	if r, err := (Config{}).ReplayRange(); err != nil || r != nil {
		t.Fatalf("expected no range, got %v %v", r, err)
	}
	if _, err := (Config{Range: "20,10"}).ReplayRange(); err == nil {
		t.Fatalf("expected invalid range error")
	}
}
