package polymarket

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/vov-code/polymarket-bot/internal/models"
)

// Reasons a raw record is discarded during normalization.
var (
	ErrInactive       = errors.New("market closed or inactive")
	ErrTooFewOutcomes = errors.New("fewer than two usable outcomes")
	ErrLowLiquidity   = errors.New("liquidity below floor")
	ErrEnded          = errors.New("end date too far in the past")
	ErrMissingID      = errors.New("no id or slug")
	ErrIgnoredWord    = errors.New("title matches an ignored word")
	ErrInvalid        = errors.New("market fails validation")
)

const marketURLPrefix = "https://polymarket.com/market/"

// Filter holds the record-level admission rules.
type Filter struct {
	MinLiquidity   float64
	EndDateMaxPast time.Duration
	IgnoreWords    []string
}

// Normalize converts one raw market into a models.Market or explains why it
// was discarded. It is pure apart from the supplied clock value.
//
// A missing or unparsable end date counts as recent, so markets with sparse
// metadata stay visible.
func Normalize(event APIEvent, m APIMarket, f Filter, now time.Time) (models.Market, error) {
	if bool(m.Closed) || (m.Active != nil && !bool(*m.Active)) {
		return models.Market{}, ErrInactive
	}

	outcomes := buildOutcomes(m)
	if len(outcomes) < 2 {
		return models.Market{}, ErrTooFewOutcomes
	}

	liquidity := firstNumber(m.LiquidityNum, m.Liquidity)
	if liquidity < f.MinLiquidity {
		return models.Market{}, ErrLowLiquidity
	}

	endRaw := firstNonEmpty(m.EndDate, event.EndDate)
	endDate := parseTime(endRaw)
	if !endDate.IsZero() && endDate.Before(now.Add(-f.EndDateMaxPast)) {
		return models.Market{}, ErrEnded
	}

	id := firstNonEmpty(string(m.ID), m.Slug)
	if id == "" {
		return models.Market{}, ErrMissingID
	}

	slug := strings.TrimSpace(m.Slug)
	market := models.Market{
		ID:           id,
		Slug:         slug,
		Title:        firstNonEmpty(m.Question, event.Title, slug),
		EventTitle:   strings.TrimSpace(event.Title),
		EndDate:      endDate,
		CreatedAt:    parseTime(firstNonEmpty(m.CreatedAt, m.CreationDate)),
		LiquidityUSD: liquidity,
		VolumeUSD:    firstNumber(m.VolumeNum, m.Volume),
		Outcomes:     outcomes,
	}
	if slug != "" {
		market.URL = marketURLPrefix + slug
	}

	if matchesIgnored(market, f.IgnoreWords) {
		return models.Market{}, ErrIgnoredWord
	}

	if err := market.Validate(); err != nil {
		return models.Market{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return market, nil
}

func buildOutcomes(m APIMarket) []models.Outcome {
	n := min(len(m.Outcomes), len(m.OutcomePrices))
	out := make([]models.Outcome, 0, n)
	for i := 0; i < n; i++ {
		name := strings.TrimSpace(m.Outcomes[i])
		if name == "" {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(m.OutcomePrices[i]), 64)
		if err != nil || math.IsNaN(price) || price <= 0 || price > 1 {
			continue
		}
		out = append(out, models.Outcome{Name: name, Price: price})
	}
	return out
}

func firstNumber(num *float64, loose flexFloat) float64 {
	var v float64
	switch {
	case num != nil:
		v = *num
	case loose.Set:
		v = loose.Value
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime returns the zero time when s is empty or unparsable.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func matchesIgnored(m models.Market, words []string) bool {
	if len(words) == 0 {
		return false
	}
	haystack := strings.ToLower(m.Title + "\n" + m.EventTitle)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
