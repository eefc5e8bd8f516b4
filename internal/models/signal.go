package models

import "time"

// SignalKind tags the variant carried by a Signal.
type SignalKind string

const (
	KindVolumeSpike SignalKind = "volume_spike"
	KindBigBuy      SignalKind = "big_buy"
	KindPriceChange SignalKind = "price_change"
	KindNewMarket   SignalKind = "new_market"
)

// PriceMove is the largest absolute price change across a market's outcomes.
type PriceMove struct {
	OutcomeKey string  `json:"outcome_key"`
	Delta      float64 `json:"delta"`
	PrevPrice  float64 `json:"prev_price"`
	CurrPrice  float64 `json:"curr_price"`
}

// Signal is a per-cycle alert candidate. Which fields are meaningful depends on Kind:
// horizon signals fill the volume window fields, BigBuy and PriceChange carry Move,
// NewMarket fills VolumeUSD and LiquidityUSD.
type Signal struct {
	Kind     SignalKind `json:"kind"`
	MarketID string     `json:"market_id"`

	Window         time.Duration `json:"window,omitempty"`
	FromTime       time.Time     `json:"from_time,omitempty"`
	FromVolumeUSD  float64       `json:"from_volume_usd,omitempty"`
	ToVolumeUSD    float64       `json:"to_volume_usd,omitempty"`
	VolumeDeltaUSD float64       `json:"volume_delta_usd,omitempty"`
	PctOfTotal     float64       `json:"pct_of_total,omitempty"`
	Move           *PriceMove    `json:"move,omitempty"`

	VolumeUSD    float64 `json:"volume_usd,omitempty"`
	LiquidityUSD float64 `json:"liquidity_usd,omitempty"`

	Score float64 `json:"score"`
}

// AlertKey identifies the cooldown slot for this signal. BigBuy and
// PriceChange are qualified by outcome so each outcome alerts independently.
func (s Signal) AlertKey() string {
	switch s.Kind {
	case KindBigBuy, KindPriceChange:
		if s.Move != nil && s.Move.OutcomeKey != "" {
			return string(s.Kind) + ":" + s.Move.OutcomeKey
		}
	}
	return string(s.Kind)
}
