package config

import (
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/AngelCh415/salesinsight/internal/models"
)

// Forecast series measures.
const (
	MeasureRevenue  = "revenue"
	MeasureQuantity = "quantity"
	MeasureAmount   = "amount"
)

// Decomposition seasonality modes.
const (
	SeasonalityAdditive       = "additive"
	SeasonalityMultiplicative = "multiplicative"
)

// MaxHorizonDays bounds forecast_horizon_days.
const MaxHorizonDays = 90

type AnalysisConfig struct {
	Workers  int            `mapstructure:"workers"`
	RFM      RFMConfig      `mapstructure:"rfm"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Stock    StockConfig    `mapstructure:"stock"`
}

type RFMConfig struct {
	RecencyBins    []float64     `mapstructure:"recency_bins"`
	FrequencyBins  []float64     `mapstructure:"frequency_bins"`
	MonetaryBins   []float64     `mapstructure:"monetary_bins"`
	Segments       []SegmentRule `mapstructure:"segments"`
	DefaultSegment string        `mapstructure:"default_segment"`
}

// SegmentRule matches score triples inside inclusive bounds. A zero bound is open.
type SegmentRule struct {
	Label string `mapstructure:"label"`
	RMin  int    `mapstructure:"r_min"`
	RMax  int    `mapstructure:"r_max"`
	FMin  int    `mapstructure:"f_min"`
	FMax  int    `mapstructure:"f_max"`
	MMin  int    `mapstructure:"m_min"`
	MMax  int    `mapstructure:"m_max"`
}

type ForecastConfig struct {
	HorizonDays      int           `mapstructure:"horizon_days"`
	ConfidenceLevel  float64       `mapstructure:"confidence_level"`
	Measure          string        `mapstructure:"measure"`
	SeasonalityMode  string        `mapstructure:"seasonality_mode"`
	WeeklyOrder      int           `mapstructure:"weekly_order"`
	YearlyOrder      int           `mapstructure:"yearly_order"`
	Changepoints     int           `mapstructure:"changepoints"`
	MaxP             int           `mapstructure:"max_p"`
	MaxD             int           `mapstructure:"max_d"`
	MaxQ             int           `mapstructure:"max_q"`
	MaxIterations    int           `mapstructure:"max_iterations"`
	FitTimeout       time.Duration `mapstructure:"fit_timeout"`
	MinRelativeSigma float64       `mapstructure:"min_relative_sigma"`
	IncludeAggregate bool          `mapstructure:"include_aggregate"`
}

type StockConfig struct {
	ReviewWindowDays     int               `mapstructure:"review_window_days"`
	VolatilityWindowDays int               `mapstructure:"volatility_window_days"`
	Urgency              UrgencyThresholds `mapstructure:"urgency"`
}

// UrgencyThresholds band stock/projected-demand ratios: below Critical is Critical, and so on.
type UrgencyThresholds struct {
	Critical float64 `mapstructure:"critical"`
	High     float64 `mapstructure:"high"`
	Medium   float64 `mapstructure:"medium"`
}

func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Workers: 4,
		RFM: RFMConfig{
			RecencyBins:   []float64{7, 30, 90, 180},
			FrequencyBins: []float64{2, 3, 4, 5},
			MonetaryBins:  []float64{100, 500, 1000, 5000},
			Segments: []SegmentRule{
				{Label: "Champions", RMin: 4, FMin: 4, MMin: 4},
				{Label: "Loyal", RMin: 3, FMin: 3, MMin: 3},
				{Label: "New", RMin: 4, FMax: 1},
				{Label: "At Risk", RMax: 2, MMin: 3},
				{Label: "Lost", RMax: 1},
			},
			DefaultSegment: "Needs Attention",
		},
		Forecast: ForecastConfig{
			HorizonDays:      30,
			ConfidenceLevel:  0.95,
			Measure:          MeasureRevenue,
			SeasonalityMode:  SeasonalityAdditive,
			WeeklyOrder:      3,
			YearlyOrder:      6,
			Changepoints:     5,
			MaxP:             2,
			MaxD:             1,
			MaxQ:             2,
			MaxIterations:    50,
			FitTimeout:       5 * time.Second,
			MinRelativeSigma: 0.01,
			IncludeAggregate: true,
		},
		Stock: StockConfig{
			ReviewWindowDays:     7,
			VolatilityWindowDays: 28,
			Urgency:              UrgencyThresholds{Critical: 0.25, High: 0.5, Medium: 1.0},
		},
	}
}

// LoadAnalysis reads analysis.yml. An explicit path must exist; without one the usual locations are
// searched and defaults are used when nothing is found. SALES_* env vars override file values.
func LoadAnalysis(path string) (AnalysisConfig, error) {
	v, err := newAnalysisViper(path)
	if err != nil {
		return AnalysisConfig{}, err
	}
	return decodeAnalysis(v)
}

func newAnalysisViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setAnalysisDefaults(v, DefaultAnalysisConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("analysis")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/salesinsight")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("SALES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &nf) {
			return nil, err
		}
	}
	return v, nil
}

func setAnalysisDefaults(v *viper.Viper, d AnalysisConfig) {
	v.SetDefault("workers", d.Workers)
	v.SetDefault("rfm.recency_bins", d.RFM.RecencyBins)
	v.SetDefault("rfm.frequency_bins", d.RFM.FrequencyBins)
	v.SetDefault("rfm.monetary_bins", d.RFM.MonetaryBins)
	v.SetDefault("rfm.segments", d.RFM.Segments)
	v.SetDefault("rfm.default_segment", d.RFM.DefaultSegment)
	v.SetDefault("forecast.horizon_days", d.Forecast.HorizonDays)
	v.SetDefault("forecast.confidence_level", d.Forecast.ConfidenceLevel)
	v.SetDefault("forecast.measure", d.Forecast.Measure)
	v.SetDefault("forecast.seasonality_mode", d.Forecast.SeasonalityMode)
	v.SetDefault("forecast.weekly_order", d.Forecast.WeeklyOrder)
	v.SetDefault("forecast.yearly_order", d.Forecast.YearlyOrder)
	v.SetDefault("forecast.changepoints", d.Forecast.Changepoints)
	v.SetDefault("forecast.max_p", d.Forecast.MaxP)
	v.SetDefault("forecast.max_d", d.Forecast.MaxD)
	v.SetDefault("forecast.max_q", d.Forecast.MaxQ)
	v.SetDefault("forecast.max_iterations", d.Forecast.MaxIterations)
	v.SetDefault("forecast.fit_timeout", d.Forecast.FitTimeout)
	v.SetDefault("forecast.min_relative_sigma", d.Forecast.MinRelativeSigma)
	v.SetDefault("forecast.include_aggregate", d.Forecast.IncludeAggregate)
	v.SetDefault("stock.review_window_days", d.Stock.ReviewWindowDays)
	v.SetDefault("stock.volatility_window_days", d.Stock.VolatilityWindowDays)
	v.SetDefault("stock.urgency.critical", d.Stock.Urgency.Critical)
	v.SetDefault("stock.urgency.high", d.Stock.Urgency.High)
	v.SetDefault("stock.urgency.medium", d.Stock.Urgency.Medium)
}

func decodeAnalysis(v *viper.Viper) (AnalysisConfig, error) {
	var cfg AnalysisConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AnalysisConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AnalysisConfig{}, err
	}
	return cfg, nil
}

// Validate checks ranges and orderings. Segment table totality is checked by the RFM engine when it
// compiles the table.
func (c AnalysisConfig) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, models.ConfigErr(field, format, args...))
	}

	if c.Workers < 1 {
		add("workers", "must be >= 1, got %d", c.Workers)
	}
	for _, b := range []struct {
		name string
		bins []float64
	}{
		{"rfm.recency_bins", c.RFM.RecencyBins},
		{"rfm.frequency_bins", c.RFM.FrequencyBins},
		{"rfm.monetary_bins", c.RFM.MonetaryBins},
	} {
		if msg := checkAscending(b.bins); msg != "" {
			add(b.name, "%s", msg)
		}
	}
	for i, r := range c.RFM.Segments {
		if strings.TrimSpace(r.Label) == "" {
			add("rfm.segments", "rule %d has no label", i)
		}
		if (r.RMax > 0 && r.RMin > r.RMax) || (r.FMax > 0 && r.FMin > r.FMax) || (r.MMax > 0 && r.MMin > r.MMax) {
			add("rfm.segments", "rule %q has min above max", r.Label)
		}
	}

	f := c.Forecast
	if f.HorizonDays < 1 || f.HorizonDays > MaxHorizonDays {
		add("forecast.horizon_days", "must be in [1, %d], got %d", MaxHorizonDays, f.HorizonDays)
	}
	if !(f.ConfidenceLevel > 0 && f.ConfidenceLevel < 1) {
		add("forecast.confidence_level", "must be in (0, 1), got %v", f.ConfidenceLevel)
	}
	switch f.Measure {
	case MeasureRevenue, MeasureQuantity, MeasureAmount:
	default:
		add("forecast.measure", "unknown measure %q", f.Measure)
	}
	switch f.SeasonalityMode {
	case SeasonalityAdditive, SeasonalityMultiplicative:
	default:
		add("forecast.seasonality_mode", "unknown mode %q", f.SeasonalityMode)
	}
	if f.WeeklyOrder < 0 || f.WeeklyOrder > 3 {
		add("forecast.weekly_order", "must be in [0, 3], got %d", f.WeeklyOrder)
	}
	if f.YearlyOrder < 0 || f.YearlyOrder > 20 {
		add("forecast.yearly_order", "must be in [0, 20], got %d", f.YearlyOrder)
	}
	if f.Changepoints < 0 {
		add("forecast.changepoints", "must be >= 0, got %d", f.Changepoints)
	}
	if f.MaxP < 0 || f.MaxP > 5 || f.MaxQ < 0 || f.MaxQ > 5 {
		add("forecast.max_p", "max_p and max_q must be in [0, 5]")
	}
	if f.MaxD < 0 || f.MaxD > 2 {
		add("forecast.max_d", "must be in [0, 2], got %d", f.MaxD)
	}
	if f.MaxIterations < 1 {
		add("forecast.max_iterations", "must be >= 1, got %d", f.MaxIterations)
	}
	if f.FitTimeout <= 0 {
		add("forecast.fit_timeout", "must be positive, got %s", f.FitTimeout)
	}
	if f.MinRelativeSigma < 0 || math.IsNaN(f.MinRelativeSigma) {
		add("forecast.min_relative_sigma", "must be >= 0, got %v", f.MinRelativeSigma)
	}

	s := c.Stock
	if s.ReviewWindowDays < 1 || s.ReviewWindowDays > f.HorizonDays {
		add("stock.review_window_days", "must be in [1, horizon_days=%d], got %d", f.HorizonDays, s.ReviewWindowDays)
	}
	if s.VolatilityWindowDays < 2 {
		add("stock.volatility_window_days", "must be >= 2, got %d", s.VolatilityWindowDays)
	}
	u := s.Urgency
	if !(u.Critical > 0 && u.Critical < u.High && u.High < u.Medium) {
		add("stock.urgency", "thresholds must satisfy 0 < critical < high < medium, got %v/%v/%v", u.Critical, u.High, u.Medium)
	}

	return errors.Join(errs...)
}

func checkAscending(bins []float64) string {
	if len(bins) == 0 {
		return "needs at least one boundary"
	}
	for i, b := range bins {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return "boundaries must be finite"
		}
		if i > 0 && b <= bins[i-1] {
			return "boundaries must be strictly ascending"
		}
	}
	return ""
}

// AnalysisHolder serves the current analysis config and swaps it when the file changes.
type AnalysisHolder struct {
	current atomic.Value // holds AnalysisConfig
}

// NewAnalysisHolder loads the config and, when it came from a file, watches it. check runs on every
// candidate (initial and reloaded) so callers can reject configs their engines cannot compile.
func NewAnalysisHolder(path string, log *slog.Logger, check func(AnalysisConfig) error) (*AnalysisHolder, error) {
	v, err := newAnalysisViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeAnalysis(v)
	if err != nil {
		return nil, err
	}
	if check != nil {
		if err := check(cfg); err != nil {
			return nil, err
		}
	}

	h := &AnalysisHolder{}
	h.current.Store(cfg)

	if v.ConfigFileUsed() == "" {
		return h, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeAnalysis(v)
		if err == nil && check != nil {
			err = check(updated)
		}
		if err != nil {
			log.Warn("analysis config reload ignored", slog.String("file", e.Name), slog.String("err", err.Error()))
			return
		}
		h.current.Store(updated)
		log.Info("analysis config reloaded", slog.String("file", e.Name))
	})
	v.WatchConfig()
	return h, nil
}

// NewStaticHolder wraps an already validated config.
func NewStaticHolder(cfg AnalysisConfig) *AnalysisHolder {
	h := &AnalysisHolder{}
	h.current.Store(cfg)
	return h
}

func (h *AnalysisHolder) Get() AnalysisConfig {
	return h.current.Load().(AnalysisConfig)
}
