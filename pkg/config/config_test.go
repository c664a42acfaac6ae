package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Settlement.BatchMaxSize != 100 {
		t.Errorf("BatchMaxSize = %d, want 100", cfg.Settlement.BatchMaxSize)
	}
	if len(cfg.Trading.Pairs) != 1 || cfg.Trading.Pairs[0].Symbol != "WETH-USDC" {
		t.Fatalf("expected a default WETH-USDC pair, got %+v", cfg.Trading.Pairs)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
server:
  listen_addr: ":9090"
settlement:
  batch_max_size: 50
trading:
  pairs:
    - symbol: "WETH-DAI"
      base_token: "0x1"
      quote_token: "0x2"
      tick_size: "0.01"
      lot_size: "0.001"
      min_notional: "5"
      maker_fee_bps: 5
      taker_fee_bps: 15
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Settlement.BatchMaxSize != 50 {
		t.Errorf("BatchMaxSize = %d, want 50", cfg.Settlement.BatchMaxSize)
	}
	if len(cfg.Trading.Pairs) != 1 || cfg.Trading.Pairs[0].Symbol != "WETH-DAI" {
		t.Fatalf("expected the file's WETH-DAI pair to replace the default, got %+v", cfg.Trading.Pairs)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SERVER_LISTEN_ADDR", ":7070")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Errorf("ListenAddr = %q, want :7070 from env override", cfg.Server.ListenAddr)
	}
}

func TestMustDecimal(t *testing.T) {
	if got := MustDecimal(""); !got.Equal(decimal.Zero) {
		t.Errorf("MustDecimal(\"\") = %s, want 0", got)
	}
	if got := MustDecimal("1.5"); !got.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("MustDecimal(\"1.5\") = %s, want 1.5", got)
	}
	if got := MustDecimal("not-a-number"); !got.Equal(decimal.Zero) {
		t.Errorf("MustDecimal(invalid) = %s, want 0", got)
	}
}
