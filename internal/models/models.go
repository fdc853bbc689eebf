package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateEntity is the entity id of the all-products series.
const AggregateEntity = "ALL"

// SalesEvent is one normalized sales line.
type SalesEvent struct {
	Date       time.Time       `json:"date"`
	ProductID  string          `json:"product_id"`
	Category   string          `json:"category,omitempty"`
	Quantity   int             `json:"quantity"`
	Amount     decimal.Decimal `json:"amount"`
	CustomerID string          `json:"customer_id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
}

// Revenue is quantity times amount.
func (e SalesEvent) Revenue() decimal.Decimal {
	return e.Amount.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

type CustomerProfile struct {
	CustomerID  string          `json:"customer_id"`
	RecencyDays int             `json:"recency_days"`
	Frequency   int             `json:"frequency"`
	Monetary    decimal.Decimal `json:"monetary"`
}

type Segment string

type RFMScore struct {
	CustomerID     string  `json:"customer_id"`
	RecencyScore   int     `json:"recency_score"`
	FrequencyScore int     `json:"frequency_score"`
	MonetaryScore  int     `json:"monetary_score"`
	Segment        Segment `json:"segment"`
}

// SegmentSummary is the per-segment rollup shown next to the score table.
type SegmentSummary struct {
	Segment     Segment `json:"segment"`
	Customers   int     `json:"customers"`
	AvgRecency  float64 `json:"avg_recency_days"`
	AvgFreq     float64 `json:"avg_frequency"`
	AvgMonetary float64 `json:"avg_monetary"`
}

type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// TimeSeries holds strictly increasing, gap-free daily points.
type TimeSeries struct {
	EntityID string  `json:"entity_id"`
	Points   []Point `json:"points"`
}

func (s TimeSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

func (s TimeSeries) LastDate() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

type ForecastPoint struct {
	Date  time.Time `json:"date"`
	Point float64   `json:"point"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
}

type ForecastResult struct {
	EntityID        string          `json:"entity_id"`
	Points          []ForecastPoint `json:"points"`
	HorizonDays     int             `json:"horizon_days"`
	ConfidenceLevel float64         `json:"confidence_level"`
	// ModelAgreement is nil when only one model produced a forecast.
	ModelAgreement *float64 `json:"model_agreement"`
	Models         []string `json:"models"`
	Degraded       bool     `json:"degraded"`
	// Notes lists per-model failures behind a degraded forecast.
	Notes []string `json:"notes,omitempty"`
}

type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
	UrgencyUnknown  Urgency = "Unknown"
)

type StockRecommendation struct {
	ProductID                string   `json:"product_id"`
	CurrentStock             *int     `json:"current_stock"`
	ProjectedDemand          float64  `json:"projected_demand"`
	DemandVolatility         float64  `json:"demand_volatility"`
	SafetyStock              float64  `json:"safety_stock"`
	ReorderPoint             float64  `json:"reorder_point"`
	RecommendedOrderQuantity int      `json:"recommended_order_quantity"`
	TargetStockLevel         bool     `json:"target_stock_level"`
	DaysOfCover              *float64 `json:"days_of_cover,omitempty"`
	Urgency                  Urgency  `json:"urgency_level"`
	ReviewWindowDays         int      `json:"review_window_days"`
}

// Issue kinds recorded in a run manifest.
const (
	IssueDataQuality    = "data_quality"
	IssueUnavailable    = "forecast_unavailable"
	IssueDegraded       = "forecast_degraded"
	IssueStockSkipped   = "stock_skipped"
	IssueCancelled      = "cancelled"
	IssueRFMUnavailable = "rfm_unavailable"
)

// Issue is one manifest line: an entity or record that was skipped or degraded, and why.
type Issue struct {
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id,omitempty"`
	Record   int    `json:"record,omitempty"`
	Reason   string `json:"reason"`
}

type RunMeta struct {
	AnalysisDate          time.Time `json:"analysis_date"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
	Records               int       `json:"records"`
	Rejected              int       `json:"rejected"`
	Customers             int       `json:"customers"`
	EventsWithoutCustomer int       `json:"events_without_customer"`
	Entities              int       `json:"entities"`
	Forecasted            int       `json:"forecasted"`
	Degraded              int       `json:"degraded"`
	Unavailable           int       `json:"unavailable"`
	StockRecommended      int       `json:"stock_recommended"`
	StockSkipped          int       `json:"stock_skipped"`
}

type RunResult struct {
	ID           string                         `json:"id"`
	Meta         RunMeta                        `json:"meta"`
	RFMAvailable bool                           `json:"rfm_available"`
	RFM          []RFMScore                     `json:"rfm"`
	Segments     []SegmentSummary               `json:"segments"`
	Forecasts    map[string]ForecastResult      `json:"forecasts"`
	Stock        map[string]StockRecommendation `json:"stock"`
	Manifest     []Issue                        `json:"manifest"`
	Partial      bool                           `json:"partial"`
}

// DailyAggKey keys the store's per-day rollup.
type DailyAggKey struct {
	Date      time.Time
	ProductID string
	Category  string
}

type DailyAgg struct {
	Key      DailyAggKey
	Quantity int
	Revenue  float64
	Lines    int
	Orders   int
}

type CategoryMetrics struct {
	Category        string  `json:"category"`
	Revenue         float64 `json:"revenue"`
	MeanLineRevenue float64 `json:"mean_line_revenue"`
	Orders          int     `json:"orders"`
	Quantity        int     `json:"quantity"`
	// MoMGrowthPct compares the last month in range with the one before; nil without a base.
	MoMGrowthPct *float64 `json:"mom_growth_pct"`
}

type ProductMetrics struct {
	ProductID string  `json:"product_id"`
	Category  string  `json:"category,omitempty"`
	Quantity  int     `json:"quantity"`
	Revenue   float64 `json:"revenue"`
	Orders    int     `json:"orders"`
	DaysSold  int     `json:"days_sold"`
}

type DailyMetrics struct {
	Date      string   `json:"date"`
	Revenue   float64  `json:"revenue"`
	Quantity  int      `json:"quantity"`
	MA7       *float64 `json:"ma7"`
	MA30      *float64 `json:"ma30"`
	GrowthPct *float64 `json:"growth_pct"`
}

type PeriodTotals struct {
	From      string  `json:"from"`
	To        string  `json:"to"`
	Revenue   float64 `json:"revenue"`
	Orders    int     `json:"orders"`
	Quantity  int     `json:"quantity"`
	AvgBasket float64 `json:"avg_basket"`
}

type PeriodComparison struct {
	Period           string       `json:"period"`
	Current          PeriodTotals `json:"current"`
	Previous         PeriodTotals `json:"previous"`
	RevenueChangePct *float64     `json:"revenue_change_pct"`
	OrdersChangePct  *float64     `json:"orders_change_pct"`
	BasketChangePct  *float64     `json:"basket_change_pct"`
}
