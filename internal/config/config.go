package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"seasonbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Logging      LoggingConfig      `yaml:"logging"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Broker       BrokerConfig       `yaml:"broker"`
	Locks        LockConfig         `yaml:"locks"`
	Pricing      PricingConfig      `yaml:"pricing"`
	Availability AvailabilityConfig `yaml:"availability"`
	Workflow     WorkflowConfig     `yaml:"workflow"`
	Worker       WorkerConfig       `yaml:"worker"`
	CatalogPath  string             `yaml:"catalog_path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// BrokerConfig enables forwarding of booking events to RabbitMQ when URL is set.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type LockConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// Band maps a participant or day threshold to a discount fraction.
type Band struct {
	Min      int     `yaml:"min"`
	Discount float64 `yaml:"discount"`
}

type MultiplierBand struct {
	Min        float64 `yaml:"min"`
	Multiplier float64 `yaml:"multiplier"`
}

type LastMinuteBand struct {
	WithinHours int     `yaml:"within_hours"`
	Multiplier  float64 `yaml:"multiplier"`
}

type PromoCode struct {
	Percent  float64 `yaml:"percent"`
	Amount   float64 `yaml:"amount"`
	MaxValue float64 `yaml:"max_value"`
}

type SeasonalConfig struct {
	PeakMonths          []int   `yaml:"peak_months"`
	PeakMultiplier      float64 `yaml:"peak_multiplier"`
	ShoulderMonths      []int   `yaml:"shoulder_months"`
	ShoulderMultiplier  float64 `yaml:"shoulder_multiplier"`
	OffSeasonMonths     []int   `yaml:"off_season_months"`
	OffSeasonMultiplier float64 `yaml:"off_season_multiplier"`
}

type DynamicPricingConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Demand     []MultiplierBand `yaml:"demand"`
	Seasonal   SeasonalConfig   `yaml:"seasonal"`
	LastMinute []LastMinuteBand `yaml:"last_minute"`
}

type PricingConfig struct {
	Currency         string               `yaml:"currency"`
	TaxRate          *float64             `yaml:"tax_rate"` // nil means the default rate
	SchoolTaxRates   map[int64]float64    `yaml:"school_tax_rates"`
	InsuranceRate    float64              `yaml:"insurance_rate"`
	InsuranceFixed   float64              `yaml:"insurance_fixed"`
	GroupAdjustment  []Band               `yaml:"group_adjustment"`
	DurationDiscount []Band               `yaml:"duration_discount"`
	EarlyBird        []Band               `yaml:"early_bird"` // min = days before start
	GroupDiscount    []Band               `yaml:"group_discount"`
	LoyaltyTiers     []Band               `yaml:"loyalty_tiers"` // min = completed bookings
	PromoCodes       map[string]PromoCode `yaml:"promo_codes"`
	Dynamic          DynamicPricingConfig `yaml:"dynamic"`
	DamageFeeRate    float64              `yaml:"damage_fee_rate"`
}

type DateRange struct {
	Name  string `yaml:"name"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type AvailabilityConfig struct {
	IgnorePendingHolds      bool        `yaml:"ignore_pending_holds"`
	MaxConcurrentPerMonitor int         `yaml:"max_concurrent_per_monitor"`
	RecommendedMaxDaily     int         `yaml:"recommended_max_daily"`
	LastMinuteHours         int         `yaml:"last_minute_hours"`
	SuggestionWindowDays    int         `yaml:"suggestion_window_days"`
	MaxSuggestions          int         `yaml:"max_suggestions"`
	PeakPeriods             []DateRange `yaml:"peak_periods"`
	Holidays                []string    `yaml:"holidays"`
	WeatherDependentTypes   []string    `yaml:"weather_dependent_types"`
}

type RefundTier struct {
	MinHoursBefore int     `yaml:"min_hours_before"`
	RefundRate     float64 `yaml:"refund_rate"`
}

type WorkflowConfig struct {
	PendingTTL              time.Duration `yaml:"pending_ttl"`
	AutoConfirmMinPaidRatio float64       `yaml:"auto_confirm_min_paid_ratio"`
	SweepInterval           time.Duration `yaml:"sweep_interval"`
	CancellationPolicy      []RefundTier  `yaml:"cancellation_policy"`
}

type WorkerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

func Load(configPath string) (*Config, error) {
	// .env необязателен
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	for _, p := range c.Availability.PeakPeriods {
		if _, err := time.Parse(models.DateLayout, p.Start); err != nil {
			return fmt.Errorf("availability: peak period %q start: %w", p.Name, err)
		}
		if _, err := time.Parse(models.DateLayout, p.End); err != nil {
			return fmt.Errorf("availability: peak period %q end: %w", p.Name, err)
		}
	}
	for _, h := range c.Availability.Holidays {
		if _, err := time.Parse(models.DateLayout, h); err != nil {
			return fmt.Errorf("availability: holiday %q: %w", h, err)
		}
	}
	return nil
}

func (p *PricingConfig) Validate() error {
	if rate := p.GlobalTaxRate(); rate < 0 || rate >= 1 {
		return fmt.Errorf("tax_rate %.4f out of range", rate)
	}
	for school, rate := range p.SchoolTaxRates {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("school %d tax rate %.4f out of range", school, rate)
		}
	}
	for _, bands := range [][]Band{p.GroupAdjustment, p.DurationDiscount, p.EarlyBird, p.GroupDiscount, p.LoyaltyTiers} {
		for _, b := range bands {
			if b.Discount < 0 || b.Discount >= 1 {
				return fmt.Errorf("discount %.4f at threshold %d out of range", b.Discount, b.Min)
			}
		}
	}
	for code, promo := range p.PromoCodes {
		if promo.Percent < 0 || promo.Percent > 1 || promo.Amount < 0 || promo.MaxValue < 0 {
			return fmt.Errorf("promo code %q has invalid values", code)
		}
	}
	return nil
}

// ApplyDefaults fills every unset field. Tables are sorted so that the highest threshold wins.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "seasonbook"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "bookings"
	}
	if c.Locks.TTL == 0 {
		c.Locks.TTL = 10 * time.Second
	}
	if c.Locks.RetryDelay == 0 {
		c.Locks.RetryDelay = 25 * time.Millisecond
	}
	if c.Locks.WaitTimeout == 0 {
		c.Locks.WaitTimeout = 5 * time.Second
	}

	c.Pricing.ApplyDefaults()
	c.Availability.ApplyDefaults()
	c.Workflow.ApplyDefaults()

	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 2 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Worker.RatePerSecond == 0 {
		c.Worker.RatePerSecond = 10
	}
}

// GlobalTaxRate is the rate applied to schools without an override. Zero when unset.
func (p PricingConfig) GlobalTaxRate() float64 {
	if p.TaxRate == nil {
		return 0
	}
	return *p.TaxRate
}

func (p *PricingConfig) ApplyDefaults() {
	if p.Currency == "" {
		p.Currency = models.DefaultCurrency
	}
	if p.TaxRate == nil {
		rate := 0.21
		p.TaxRate = &rate
	}
	if p.InsuranceRate == 0 {
		p.InsuranceRate = 0.05
	}
	if p.GroupAdjustment == nil {
		p.GroupAdjustment = []Band{{Min: 3, Discount: 0.05}, {Min: 5, Discount: 0.10}, {Min: 10, Discount: 0.15}}
	}
	if p.DurationDiscount == nil {
		p.DurationDiscount = []Band{{Min: 3, Discount: 0.05}, {Min: 7, Discount: 0.15}}
	}
	if p.EarlyBird == nil {
		p.EarlyBird = []Band{{Min: 30, Discount: 0.05}, {Min: 60, Discount: 0.10}}
	}
	if p.GroupDiscount == nil {
		p.GroupDiscount = []Band{{Min: 10, Discount: 0.05}, {Min: 20, Discount: 0.10}}
	}
	if p.DamageFeeRate == 0 {
		p.DamageFeeRate = models.DefaultDamageFeeRate
	}
	SortBands(p.GroupAdjustment)
	SortBands(p.DurationDiscount)
	SortBands(p.EarlyBird)
	SortBands(p.GroupDiscount)
	SortBands(p.LoyaltyTiers)

	if p.Dynamic.LastMinute == nil {
		p.Dynamic.LastMinute = []LastMinuteBand{{WithinHours: 24, Multiplier: 1.15}, {WithinHours: 72, Multiplier: 1.05}}
	}
	// the narrowest last-minute window and the highest demand threshold match first
	sort.Slice(p.Dynamic.LastMinute, func(i, j int) bool {
		return p.Dynamic.LastMinute[i].WithinHours < p.Dynamic.LastMinute[j].WithinHours
	})
	sort.Slice(p.Dynamic.Demand, func(i, j int) bool {
		return p.Dynamic.Demand[i].Min > p.Dynamic.Demand[j].Min
	})
}

func (a *AvailabilityConfig) ApplyDefaults() {
	if a.MaxConcurrentPerMonitor == 0 {
		a.MaxConcurrentPerMonitor = 1
	}
	if a.RecommendedMaxDaily == 0 {
		a.RecommendedMaxDaily = 4
	}
	if a.LastMinuteHours == 0 {
		a.LastMinuteHours = 48
	}
	if a.SuggestionWindowDays == 0 {
		a.SuggestionWindowDays = 7
	}
	if a.MaxSuggestions == 0 {
		a.MaxSuggestions = 3
	}
}

func (w *WorkflowConfig) ApplyDefaults() {
	if w.PendingTTL == 0 {
		w.PendingTTL = 24 * time.Hour
	}
	if w.AutoConfirmMinPaidRatio == 0 {
		w.AutoConfirmMinPaidRatio = 0.3
	}
	if w.SweepInterval == 0 {
		w.SweepInterval = 5 * time.Minute
	}
	if w.CancellationPolicy == nil {
		w.CancellationPolicy = []RefundTier{
			{MinHoursBefore: 168, RefundRate: 1.0},
			{MinHoursBefore: 72, RefundRate: 0.5},
			{MinHoursBefore: 24, RefundRate: 0.25},
		}
	}
	sort.Slice(w.CancellationPolicy, func(i, j int) bool {
		return w.CancellationPolicy[i].MinHoursBefore > w.CancellationPolicy[j].MinHoursBefore
	})
}

// SortBands orders bands by descending threshold.
func SortBands(bands []Band) {
	sort.Slice(bands, func(i, j int) bool { return bands[i].Min > bands[j].Min })
}

// Default returns a config with every default applied; used by tests and tools.
func Default() *Config {
	c := &Config{Database: DatabaseConfig{Path: ":memory:"}}
	c.ApplyDefaults()
	return c
}
