package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"atelier/internal/domain"
)

// Config models atelier.yml, the marketplace calibration.
type Config struct {
	Currency string `yaml:"currency"`
	Routing  struct {
		CommissionPercent   float64 `yaml:"commission_percent"`
		PriceCeilingCents   int64   `yaml:"price_ceiling_cents"`
		LeadTimeCeilingDays int     `yaml:"lead_time_ceiling_days"`
		ExpressDaysSaved    int     `yaml:"express_days_saved"`
		DefaultLimit        int     `yaml:"default_limit"`
		MaxLimit            int     `yaml:"max_limit"`
		Weights             Weights `yaml:"weights"`
	} `yaml:"routing"`
	SLA struct {
		EarlyBonusHours int                `yaml:"early_bonus_hours"`
		Tiers           map[string]SLATier `yaml:"tiers"`
	} `yaml:"sla"`
	Quality struct {
		RecentReports int              `yaml:"recent_reports"`
		Quarantine    QuarantinePolicy `yaml:"quarantine"`
	} `yaml:"quality"`
	Payouts struct {
		ConnectFeePercent      float64 `yaml:"connect_fee_percent"`
		MinPayoutCents         int64   `yaml:"min_payout_cents"`
		TransferTimeoutSeconds int     `yaml:"transfer_timeout_seconds"`
		ScheduleHour           int     `yaml:"schedule_hour"`
		Timezone               string  `yaml:"timezone"`
		RetryAfterMinutes      int     `yaml:"retry_after_minutes"`
	} `yaml:"payouts"`
	Scheduler struct {
		SLAIntervalMinutes    int `yaml:"sla_interval_minutes"`
		PayoutIntervalMinutes int `yaml:"payout_interval_minutes"`
		RetryIntervalMinutes  int `yaml:"retry_interval_minutes"`
		LeaseSeconds          int `yaml:"lease_seconds"`
	} `yaml:"scheduler"`
}

// Weights are the composite routing score weights; they must sum to 1.
type Weights struct {
	Quality     float64 `yaml:"quality"`
	Cost        float64 `yaml:"cost"`
	LeadTime    float64 `yaml:"lead_time"`
	Performance float64 `yaml:"performance"`
}

// SLATier holds the penalty and bonus rates of one service tier, as fractions.
type SLATier struct {
	PenaltyRate float64 `yaml:"penalty_rate"`
	BonusRate   float64 `yaml:"bonus_rate"`
	MaxPenalty  float64 `yaml:"max_penalty"`
}

type QuarantinePolicy struct {
	MaxDefectRate   float64 `yaml:"max_defect_rate"`
	MaxReturnRate   float64 `yaml:"max_return_rate"`
	MinOnTimeRate   float64 `yaml:"min_on_time_rate"`
	MinQualityScore float64 `yaml:"min_quality_score"`
	Days            int     `yaml:"days"`
}

// Load reads and validates config from workspace, falling back to defaults
// when the file is absent.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Currency) != 3 {
		return fmt.Errorf("config.currency must be an ISO 4217 code")
	}
	if c.Routing.CommissionPercent < 0 || c.Routing.CommissionPercent > 100 {
		return fmt.Errorf("config.routing.commission_percent must be within [0,100]")
	}
	if c.Routing.PriceCeilingCents <= 0 {
		return fmt.Errorf("config.routing.price_ceiling_cents must be positive")
	}
	if c.Routing.LeadTimeCeilingDays <= 0 {
		return fmt.Errorf("config.routing.lead_time_ceiling_days must be positive")
	}
	if c.Routing.DefaultLimit <= 0 || c.Routing.MaxLimit < c.Routing.DefaultLimit {
		return fmt.Errorf("config.routing limits invalid: default %d max %d", c.Routing.DefaultLimit, c.Routing.MaxLimit)
	}
	w := c.Routing.Weights
	if sum := w.Quality + w.Cost + w.LeadTime + w.Performance; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("config.routing.weights must sum to 1, got %.4f", sum)
	}
	for _, tier := range []string{domain.TierBasic, domain.TierStandard, domain.TierPremium, domain.TierEnterprise} {
		t, ok := c.SLA.Tiers[tier]
		if !ok {
			return fmt.Errorf("config.sla.tiers.%s is required", tier)
		}
		if t.PenaltyRate < 0 || t.BonusRate < 0 || t.MaxPenalty < 0 || t.MaxPenalty > 1 {
			return fmt.Errorf("config.sla.tiers.%s has out of range rates", tier)
		}
	}
	q := c.Quality.Quarantine
	if q.Days <= 0 {
		return fmt.Errorf("config.quality.quarantine.days must be positive")
	}
	if q.MinQualityScore < 0 || q.MinQualityScore > 5 {
		return fmt.Errorf("config.quality.quarantine.min_quality_score must be within [0,5]")
	}
	if c.Quality.RecentReports <= 0 {
		return fmt.Errorf("config.quality.recent_reports must be positive")
	}
	if c.Payouts.ConnectFeePercent < 0 || c.Payouts.ConnectFeePercent > 100 {
		return fmt.Errorf("config.payouts.connect_fee_percent must be within [0,100]")
	}
	if c.Payouts.MinPayoutCents < 0 {
		return fmt.Errorf("config.payouts.min_payout_cents must not be negative")
	}
	if c.Payouts.ScheduleHour < 0 || c.Payouts.ScheduleHour > 23 {
		return fmt.Errorf("config.payouts.schedule_hour must be within [0,23]")
	}
	if _, err := time.LoadLocation(c.Payouts.Timezone); err != nil {
		return fmt.Errorf("config.payouts.timezone %q is not a known zone", c.Payouts.Timezone)
	}
	if c.Payouts.TransferTimeoutSeconds <= 0 {
		return fmt.Errorf("config.payouts.transfer_timeout_seconds must be positive")
	}
	return nil
}

// Tier returns the SLA rates for a service tier and whether it is configured.
func (c *Config) Tier(name string) (SLATier, bool) {
	t, ok := c.SLA.Tiers[name]
	return t, ok
}

func (c *Config) CommissionBasisPoints() int64 { return BasisPoints(c.Routing.CommissionPercent) }

func (c *Config) ConnectFeeBasisPoints() int64 { return BasisPoints(c.Payouts.ConnectFeePercent) }

// PayoutLocation is the zone schedule_hour and payout weekdays are read in.
// An empty timezone means UTC.
func (c *Config) PayoutLocation() *time.Location {
	loc, err := time.LoadLocation(c.Payouts.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Payouts.TransferTimeoutSeconds) * time.Second
}

// BasisPoints converts a percentage such as 2.5 into 250 basis points.
func BasisPoints(percent float64) int64 {
	return int64(math.Round(percent * 100))
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "atelier.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `currency: eur

routing:
  commission_percent: 10
  price_ceiling_cents: 100000
  lead_time_ceiling_days: 30
  express_days_saved: 2
  default_limit: 5
  max_limit: 50
  weights:
    quality: 0.40
    cost: 0.25
    lead_time: 0.20
    performance: 0.15

sla:
  early_bonus_hours: 24
  tiers:
    basic:      {penalty_rate: 0.05, bonus_rate: 0.00, max_penalty: 0.10}
    standard:   {penalty_rate: 0.03, bonus_rate: 0.02, max_penalty: 0.08}
    premium:    {penalty_rate: 0.02, bonus_rate: 0.03, max_penalty: 0.05}
    enterprise: {penalty_rate: 0.01, bonus_rate: 0.05, max_penalty: 0.03}

quality:
  recent_reports: 10
  quarantine:
    max_defect_rate: 0.15
    max_return_rate: 0.20
    min_on_time_rate: 0.70
    min_quality_score: 3.5
    days: 30

payouts:
  connect_fee_percent: 2
  min_payout_cents: 1000
  transfer_timeout_seconds: 15
  schedule_hour: 2
  timezone: UTC
  retry_after_minutes: 30

scheduler:
  sla_interval_minutes: 60
  payout_interval_minutes: 60
  retry_interval_minutes: 15
  lease_seconds: 300
`
