// Package models defines the core domain entities: markets, samples, tracked entries, and signals.
package models

import (
	"errors"
	"strings"
	"time"
)

// Outcome is one tradable side of a market with its current price.
type Outcome struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Market is a normalized prediction market observed in the current cycle.
// It is rebuilt from the upstream catalog every poll.
type Market struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	EventTitle   string    `json:"event_title"`
	URL          string    `json:"url"`
	EndDate      time.Time `json:"end_date"`
	CreatedAt    time.Time `json:"created_at"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	VolumeUSD    float64   `json:"volume_usd"`
	Outcomes     []Outcome `json:"outcomes"`
}

// Validate checks market field constraints.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if len(m.Outcomes) < 2 {
		return errors.New("market must have at least two outcomes")
	}
	for _, o := range m.Outcomes {
		if strings.TrimSpace(o.Name) == "" {
			return errors.New("outcome name must not be empty")
		}
		if o.Price <= 0 || o.Price > 1 {
			return errors.New("outcome price must be in (0, 1]")
		}
	}
	if m.LiquidityUSD < 0 {
		return errors.New("liquidity must not be negative")
	}
	if m.VolumeUSD < 0 {
		return errors.New("volume must not be negative")
	}
	return nil
}

// Meta returns the display snapshot stored with a tracked entry.
func (m *Market) Meta() MarketMeta {
	return MarketMeta{
		Title:      m.Title,
		EventTitle: m.EventTitle,
		URL:        m.URL,
	}
}

// OutcomeKey normalizes an outcome name so samples from different cycles
// compare equal regardless of case or spacing.
func OutcomeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// MarketMeta is the display information kept for a tracked market.
type MarketMeta struct {
	Title      string `json:"title"`
	EventTitle string `json:"event_title,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Sample is one timestamped observation of cumulative volume and prices.
type Sample struct {
	Timestamp time.Time          `json:"t"`
	VolumeUSD float64            `json:"volume_usd"`
	Prices    map[string]float64 `json:"prices"`
}

// MarketEntry is the persisted sliding-window state for one market.
type MarketEntry struct {
	Meta     MarketMeta           `json:"meta"`
	Samples  []Sample             `json:"samples"`
	LastSeen time.Time            `json:"last_seen"`
	Alerts   map[string]time.Time `json:"alerts"`
}
