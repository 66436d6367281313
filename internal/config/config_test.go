package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.CommissionBasisPoints() != 1000 || cfg.ConnectFeeBasisPoints() != 200 {
		t.Fatalf("unexpected basis points %d %d", cfg.CommissionBasisPoints(), cfg.ConnectFeeBasisPoints())
	}
	tier, ok := cfg.Tier("premium")
	if !ok || tier.PenaltyRate != 0.02 || tier.BonusRate != 0.03 || tier.MaxPenalty != 0.05 {
		t.Fatalf("unexpected premium tier %+v", tier)
	}
	if cfg.TransferTimeout().Seconds() != 15 {
		t.Fatalf("unexpected transfer timeout %v", cfg.TransferTimeout())
	}
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("routing:\n  commission_percent: 12.5\nsla:\n  tiers:\n    basic: {penalty_rate: 0.06, bonus_rate: 0, max_penalty: 0.12}\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.CommissionBasisPoints() != 1250 {
		t.Fatalf("expected 1250 bps, got %d", cfg.CommissionBasisPoints())
	}
	if cfg.Routing.MaxLimit != 50 || cfg.Payouts.MinPayoutCents != 1000 {
		t.Fatalf("defaults lost: %+v", cfg.Routing)
	}
	if basic, _ := cfg.Tier("basic"); basic.PenaltyRate != 0.06 {
		t.Fatalf("tier override lost: %+v", basic)
	}
	if _, ok := cfg.Tier("enterprise"); !ok {
		t.Fatalf("untouched tiers must survive")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"weights":  "routing:\n  weights: {quality: 0.5, cost: 0.5, lead_time: 0.5, performance: 0}\n",
		"currency": "currency: euro\n",
		"hour":     "payouts:\n  schedule_hour: 24\n",
		"penalty":  "sla:\n  tiers:\n    basic: {penalty_rate: 0.05, bonus_rate: 0, max_penalty: 1.5}\n",
		"limits":   "routing:\n  default_limit: 60\n",
		"timezone": "payouts:\n  timezone: Mars/Olympus\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestPayoutLocation(t *testing.T) {
	cfg := Default()
	if cfg.PayoutLocation() != time.UTC {
		t.Fatalf("expected UTC by default, got %v", cfg.PayoutLocation())
	}
	cfg, err := FromYAML([]byte("payouts:\n  timezone: Europe/Paris\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.PayoutLocation().String() != "Europe/Paris" {
		t.Fatalf("unexpected location %v", cfg.PayoutLocation())
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Currency != "eur" {
		t.Fatalf("expected default currency, got %q", cfg.Currency)
	}
	if err := os.WriteFile(Path(dir), []byte("currency: usd\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(dir)
	if err != nil || cfg.Currency != "usd" {
		t.Fatalf("expected usd, got %v %v", cfg, err)
	}
}

func TestParseEnv(t *testing.T) {
	t.Setenv("ATELIER_JWT_SECRET", "s3cret")
	t.Setenv("ATELIER_APP_URL", "https://shop.example")
	env, err := ParseEnv()
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if env.JWTSecret != "s3cret" || env.LogLevel != "info" {
		t.Fatalf("unexpected env %+v", env)
	}
	if !strings.HasPrefix(env.OnboardingReturnURL(), "https://shop.example/") {
		t.Fatalf("unexpected return url %s", env.OnboardingReturnURL())
	}
}
