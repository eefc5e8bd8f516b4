package monitor

import (
	"math"
	"sort"
	"time"

	"github.com/vov-code/polymarket-bot/internal/models"
)

// Lookback horizons.
const (
	VolumeSpikeWindow = 30 * time.Minute
	BigMoveWindow     = 10 * time.Minute
)

const (
	minStaleTolerance = 5 * time.Minute
	moveEpsilon       = 1e-9
)

type VolumeSpikeConfig struct {
	Enabled       bool
	MinDeltaUSD   float64
	MinPctOfTotal float64
}

type BigBuyConfig struct {
	Enabled       bool
	MinDeltaUSD   float64
	MinPctOfTotal float64
	MinPriceMove  float64
}

type PriceChangeConfig struct {
	Enabled     bool
	MinAbsMove  float64
	MinDeltaUSD float64
	ScoreScale  float64
}

type NewMarketConfig struct {
	Enabled         bool
	MinVolumeUSD    float64
	MinLiquidityUSD float64
	MaxAge          time.Duration
}

// SignalConfig holds the detection thresholds. PollInterval sizes the
// staleness tolerance of the lookback horizons.
type SignalConfig struct {
	PollInterval time.Duration
	VolumeSpike  VolumeSpikeConfig
	BigBuy       BigBuyConfig
	PriceChange  PriceChangeConfig
	NewMarket    NewMarketConfig
}

func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		PollInterval: time.Minute,
		VolumeSpike:  VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 20000, MinPctOfTotal: 0.25},
		BigBuy:       BigBuyConfig{Enabled: true, MinDeltaUSD: 10000, MinPctOfTotal: 0.10, MinPriceMove: 0.08},
		PriceChange:  PriceChangeConfig{Enabled: true, MinAbsMove: 0.15, MinDeltaUSD: 1000, ScoreScale: 100000},
		NewMarket:    NewMarketConfig{Enabled: true, MinVolumeUSD: 1, MinLiquidityUSD: 0, MaxAge: 24 * time.Hour},
	}
}

// StaleTolerance is how much older than its horizon a past sample may be
// before the horizon is skipped.
func (c SignalConfig) StaleTolerance() time.Duration {
	return max(minStaleTolerance, 2*max(time.Second, c.PollInterval))
}

// MinRetention is the shortest sample retention that still keeps a usable
// past sample for the longest lookback at the given poll interval.
func MinRetention(poll time.Duration) time.Duration {
	return VolumeSpikeWindow + SignalConfig{PollInterval: poll}.StaleTolerance()
}

// window is the volume change between a past sample and the current one.
type window struct {
	from       models.Sample
	fromVolume float64
	toVolume   float64
	delta      float64
	pctOfTotal float64
}

func (w window) fill(sig *models.Signal, horizon time.Duration) {
	sig.Window = horizon
	sig.FromTime = w.from.Timestamp
	sig.FromVolumeUSD = w.fromVolume
	sig.ToVolumeUSD = w.toVolume
	sig.VolumeDeltaUSD = w.delta
	sig.PctOfTotal = w.pctOfTotal
}

// Detect derives the horizon signals for one tracked market. It reads the
// entry without modifying it, so repeated calls on the same state agree.
func Detect(marketID string, entry *models.MarketEntry, now time.Time, cfg SignalConfig) []models.Signal {
	if entry == nil || len(entry.Samples) < 2 {
		return nil
	}
	current := entry.Samples[len(entry.Samples)-1]
	tol := cfg.StaleTolerance()

	var out []models.Signal

	if w, ok := lookback(entry.Samples, current, now, VolumeSpikeWindow, tol); ok && cfg.VolumeSpike.Enabled {
		if w.delta >= cfg.VolumeSpike.MinDeltaUSD && w.pctOfTotal >= cfg.VolumeSpike.MinPctOfTotal {
			sig := models.Signal{Kind: models.KindVolumeSpike, MarketID: marketID, Score: w.delta}
			w.fill(&sig, VolumeSpikeWindow)
			if move, ok := DominantMove(w.from, current); ok {
				sig.Move = &move
			}
			out = append(out, sig)
		}
	}

	w, ok := lookback(entry.Samples, current, now, BigMoveWindow, tol)
	if !ok {
		return out
	}
	move, hasMove := DominantMove(w.from, current)
	if !hasMove {
		return out
	}
	absMove := math.Abs(move.Delta)

	if cfg.BigBuy.Enabled &&
		w.delta >= cfg.BigBuy.MinDeltaUSD &&
		w.pctOfTotal >= cfg.BigBuy.MinPctOfTotal &&
		absMove >= cfg.BigBuy.MinPriceMove {
		sig := models.Signal{Kind: models.KindBigBuy, MarketID: marketID, Score: w.delta}
		w.fill(&sig, BigMoveWindow)
		m := move
		sig.Move = &m
		out = append(out, sig)
	}

	if cfg.PriceChange.Enabled &&
		absMove >= cfg.PriceChange.MinAbsMove &&
		w.delta >= cfg.PriceChange.MinDeltaUSD {
		sig := models.Signal{Kind: models.KindPriceChange, MarketID: marketID, Score: absMove * cfg.PriceChange.ScoreScale}
		w.fill(&sig, BigMoveWindow)
		m := move
		sig.Move = &m
		out = append(out, sig)
	}

	return out
}

// DetectNewMarket reports a NewMarket signal for a market tracked for the
// first time this cycle. Nothing fires before the store is bootstrapped.
// An unknown creation time counts as too old.
func DetectNewMarket(m models.Market, isNew, bootstrapped bool, now time.Time, cfg NewMarketConfig) (models.Signal, bool) {
	if !cfg.Enabled || !isNew || !bootstrapped {
		return models.Signal{}, false
	}
	if m.VolumeUSD < cfg.MinVolumeUSD || m.LiquidityUSD < cfg.MinLiquidityUSD {
		return models.Signal{}, false
	}
	if m.CreatedAt.IsZero() || now.Sub(m.CreatedAt) > cfg.MaxAge {
		return models.Signal{}, false
	}
	return models.Signal{
		Kind:         models.KindNewMarket,
		MarketID:     m.ID,
		VolumeUSD:    m.VolumeUSD,
		LiquidityUSD: m.LiquidityUSD,
		Score:        m.VolumeUSD,
	}, true
}

func lookback(samples []models.Sample, current models.Sample, now time.Time, horizon, tol time.Duration) (window, bool) {
	past, ok := nearestAtOrBefore(samples, now.Add(-horizon))
	if !ok || now.Sub(past.Timestamp) > horizon+tol {
		return window{}, false
	}
	delta := current.VolumeUSD - past.VolumeUSD
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return window{}, false
	}
	w := window{
		from:       past,
		fromVolume: past.VolumeUSD,
		toVolume:   current.VolumeUSD,
		delta:      delta,
	}
	if current.VolumeUSD > 0 {
		w.pctOfTotal = delta / current.VolumeUSD
	}
	return w, true
}

// nearestAtOrBefore returns the latest sample with timestamp <= cutoff.
// samples must be sorted by timestamp.
func nearestAtOrBefore(samples []models.Sample, cutoff time.Time) (models.Sample, bool) {
	i := sort.Search(len(samples), func(i int) bool {
		return samples[i].Timestamp.After(cutoff)
	})
	if i == 0 {
		return models.Sample{}, false
	}
	return samples[i-1], true
}

// DominantMove finds the outcome whose price changed most between past and
// current. Equal magnitudes prefer the positive delta, then the smaller key.
func DominantMove(past, current models.Sample) (models.PriceMove, bool) {
	keys := make([]string, 0, len(current.Prices))
	for k := range current.Prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var best models.PriceMove
	found := false
	for _, k := range keys {
		prev, ok := past.Prices[k]
		if !ok {
			continue
		}
		curr := current.Prices[k]
		delta := curr - prev
		if math.IsNaN(delta) {
			continue
		}
		cand := models.PriceMove{OutcomeKey: k, Delta: delta, PrevPrice: prev, CurrPrice: curr}
		if !found {
			best, found = cand, true
			continue
		}
		diff := math.Abs(delta) - math.Abs(best.Delta)
		if diff > moveEpsilon || (diff >= -moveEpsilon && delta > 0 && best.Delta < 0) {
			best = cand
		}
	}
	return best, found
}
