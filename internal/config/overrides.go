package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vov-code/polymarket-bot/internal/monitor"
)

// OverrideKey names a setting that may be changed at runtime without
// editing the config file.
type OverrideKey string

const (
	KeyPollInterval          OverrideKey = "POLL_INTERVAL"
	KeyRequestTimeout        OverrideKey = "REQUEST_TIMEOUT"
	KeyMaxAlertsPerCycle     OverrideKey = "MAX_ALERTS_PER_CYCLE"
	KeyAlertCooldown         OverrideKey = "ALERT_COOLDOWN"
	KeyAlternateRouteURL     OverrideKey = "ALTERNATE_ROUTE_URL"
	KeyBaseURL               OverrideKey = "POLYMARKET_BASE_URL"
	KeyCategory              OverrideKey = "POLYMARKET_CATEGORY"
	KeyIgnoreWords           OverrideKey = "POLYMARKET_IGNORE_WORDS"
	KeyEventsLimit           OverrideKey = "POLYMARKET_EVENTS_LIMIT"
	KeyPageSize              OverrideKey = "POLYMARKET_PAGE_SIZE"
	KeyMaxRetries            OverrideKey = "POLYMARKET_MAX_RETRIES"
	KeyRetryBase             OverrideKey = "POLYMARKET_RETRY_BASE"
	KeyMinLiquidity          OverrideKey = "POLYMARKET_MIN_LIQUIDITY"
	KeyEndDateMaxPastHours   OverrideKey = "MARKET_ENDDATE_MAX_PAST_HOURS"
	KeyEnableVolumeSpike     OverrideKey = "ENABLE_VOLUME_SPIKE"
	KeyEnableBigBuy          OverrideKey = "ENABLE_BIG_BUY"
	KeyEnablePriceChange     OverrideKey = "ENABLE_PRICE_CHANGE"
	KeyEnableNewMarket       OverrideKey = "ENABLE_NEW_MARKET"
	KeyVolumeSpikeUSD        OverrideKey = "VOLUME_SPIKE_USD_30M"
	KeyVolumeSpikeMinPct     OverrideKey = "VOLUME_SPIKE_MIN_PCT_TOTAL_30M"
	KeyBigBuyUSD             OverrideKey = "BIG_BUY_USD_10M"
	KeyBigBuyMinPct          OverrideKey = "BIG_BUY_MIN_PCT_TOTAL_10M"
	KeyPriceMoveAbs          OverrideKey = "PRICE_MOVE_ABS_10M"
	KeyPriceChangeAbs        OverrideKey = "PRICE_CHANGE_ABS_10M"
	KeyPriceChangeMinUSD     OverrideKey = "PRICE_CHANGE_MIN_VOLUME_USD_10M"
	KeyPriceChangeScale      OverrideKey = "PRICE_CHANGE_SCORE_SCALE"
	KeyNewMarketMinVolume    OverrideKey = "NEW_MARKET_MIN_VOLUME_USD"
	KeyNewMarketMinLiq       OverrideKey = "NEW_MARKET_MIN_LIQUIDITY_USD"
	KeyNewMarketMaxAgeHrs    OverrideKey = "NEW_MARKET_MAX_AGE_HOURS"
	KeyStateRetentionMinutes OverrideKey = "STATE_RETENTION_MINUTES"
	KeyDebug                 OverrideKey = "DEBUG"
)

// ErrUnknownOverride is returned for keys outside the registry.
var ErrUnknownOverride = errors.New("unknown override key")

// setting parses, validates and applies one typed value.
type setting[T any] struct {
	parse    func(string) (T, error)
	validate func(T) error
	apply    func(*Config, T)
}

func (s setting[T]) set(c *Config, raw string) error {
	v, err := s.parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if s.validate != nil {
		if err := s.validate(v); err != nil {
			return err
		}
	}
	s.apply(c, v)
	return nil
}

type setter interface {
	set(c *Config, raw string) error
}

var overrides = map[OverrideKey]setter{
	KeyPollInterval: setting[time.Duration]{parseDuration, atLeast(5 * time.Second),
		func(c *Config, v time.Duration) { c.Polymarket.PollInterval = v }},
	KeyRequestTimeout: setting[time.Duration]{parseDuration, atLeast(time.Second),
		func(c *Config, v time.Duration) { c.Polymarket.Timeout = v }},
	KeyMaxAlertsPerCycle: setting[int]{parseInt, atLeast(1),
		func(c *Config, v int) { c.Alerts.MaxPerCycle = v }},
	KeyAlertCooldown: setting[time.Duration]{parseDuration, atLeast(time.Minute),
		func(c *Config, v time.Duration) { c.Alerts.Cooldown = v }},
	KeyAlternateRouteURL: setting[string]{parseString, optionalURL,
		func(c *Config, v string) { c.Polymarket.AlternateRouteURL = v }},
	KeyBaseURL: setting[string]{parseString, requiredURL,
		func(c *Config, v string) { c.Polymarket.BaseURL = strings.TrimRight(v, "/") }},
	KeyCategory: setting[string]{parseString, nil,
		func(c *Config, v string) { c.Polymarket.Category = v }},
	KeyIgnoreWords: setting[[]string]{parseList, nil,
		func(c *Config, v []string) { c.Polymarket.IgnoreWords = v }},
	KeyEventsLimit: setting[int]{parseInt, atLeast(1),
		func(c *Config, v int) { c.Polymarket.EventsLimit = v }},
	KeyPageSize: setting[int]{parseInt, between(1, 500),
		func(c *Config, v int) { c.Polymarket.PageSize = v }},
	KeyMaxRetries: setting[int]{parseInt, between(0, 10),
		func(c *Config, v int) { c.Polymarket.MaxRetries = v }},
	KeyRetryBase: setting[time.Duration]{parseDuration, atLeast(50 * time.Millisecond),
		func(c *Config, v time.Duration) { c.Polymarket.RetryBase = v }},
	KeyMinLiquidity: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Polymarket.MinLiquidity = v }},
	KeyEndDateMaxPastHours: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Polymarket.EndDateMaxPast = hours(v) }},
	KeyEnableVolumeSpike: setting[bool]{parseBool, nil,
		func(c *Config, v bool) { c.Signals.VolumeSpike.Enabled = v }},
	KeyEnableBigBuy: setting[bool]{parseBool, nil,
		func(c *Config, v bool) { c.Signals.BigBuy.Enabled = v }},
	KeyEnablePriceChange: setting[bool]{parseBool, nil,
		func(c *Config, v bool) { c.Signals.PriceChange.Enabled = v }},
	KeyEnableNewMarket: setting[bool]{parseBool, nil,
		func(c *Config, v bool) { c.Signals.NewMarket.Enabled = v }},
	KeyVolumeSpikeUSD: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Signals.VolumeSpike.MinDeltaUSD = v }},
	KeyVolumeSpikeMinPct: setting[float64]{parseFloat, between(0.0, 1.0),
		func(c *Config, v float64) { c.Signals.VolumeSpike.MinPctOfTotal = v }},
	KeyBigBuyUSD: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Signals.BigBuy.MinDeltaUSD = v }},
	KeyBigBuyMinPct: setting[float64]{parseFloat, between(0.0, 1.0),
		func(c *Config, v float64) { c.Signals.BigBuy.MinPctOfTotal = v }},
	KeyPriceMoveAbs: setting[float64]{parseFloat, between(0.0, 1.0),
		func(c *Config, v float64) { c.Signals.BigBuy.MinPriceMove = v }},
	KeyPriceChangeAbs: setting[float64]{parseFloat, between(0.0, 1.0),
		func(c *Config, v float64) { c.Signals.PriceChange.MinAbsMove = v }},
	KeyPriceChangeMinUSD: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Signals.PriceChange.MinDeltaUSD = v }},
	KeyPriceChangeScale: setting[float64]{parseFloat, positive,
		func(c *Config, v float64) { c.Signals.PriceChange.ScoreScale = v }},
	KeyNewMarketMinVolume: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Signals.NewMarket.MinVolumeUSD = v }},
	KeyNewMarketMinLiq: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Signals.NewMarket.MinLiquidityUSD = v }},
	KeyNewMarketMaxAgeHrs: setting[float64]{parseFloat, atLeast(0.0),
		func(c *Config, v float64) { c.Signals.NewMarket.MaxAge = hours(v) }},
	KeyStateRetentionMinutes: setting[int]{parseInt, atLeast(int(monitor.MinRetention(0) / time.Minute)),
		func(c *Config, v int) { c.Storage.Retention = time.Duration(v) * time.Minute }},
	KeyDebug: setting[bool]{parseBool, nil,
		func(c *Config, v bool) {
			if v {
				c.Logging.Level = "debug"
			} else {
				c.Logging.Level = "info"
			}
		}},
}

// parseOverrideKey normalizes s and reports whether it names a known key.
func parseOverrideKey(s string) (OverrideKey, bool) {
	k := OverrideKey(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := overrides[k]
	return k, ok
}

// ApplyOverride sets key from its raw text form. The config is unchanged
// when parsing or validation fails.
func (c *Config) ApplyOverride(key OverrideKey, raw string) error {
	s, ok := overrides[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOverride, key)
	}
	if err := s.set(c, raw); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

// LoadOverrides reads a JSON object of {KEY: value} pairs. Keys are matched
// case-insensitively. A missing file yields no overrides. Values may be JSON strings, numbers or booleans.
func LoadOverrides(path string) (map[OverrideKey]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[OverrideKey]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode overrides: %w", err)
	}

	out := make(map[OverrideKey]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			s = strings.TrimSpace(string(v))
		}
		key, ok := parseOverrideKey(k)
		if !ok {
			key = OverrideKey(k)
		}
		out[key] = s
	}
	return out, nil
}

// ApplyOverrides applies every entry and returns one error per rejected
// key; valid entries are applied regardless.
func (c *Config) ApplyOverrides(values map[OverrideKey]string) []error {
	keys := make([]OverrideKey, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var errs []error
	for _, k := range keys {
		if err := c.ApplyOverride(k, values[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func parseString(s string) (string, error) { return s, nil }

func parseInt(s string) (int, error) {
	f, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	return int(math.Floor(f)), nil
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("value must be a number")
	}
	return f, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on", "enable", "enabled":
		return true, nil
	case "0", "false", "no", "off", "disable", "disabled":
		return false, nil
	}
	return false, errors.New("value must be boolean (true/false)")
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("value must be a duration such as 90s or 5m")
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

type ordered interface {
	~int | ~int64 | ~float64
}

func atLeast[T ordered](lo T) func(T) error {
	return func(v T) error {
		if v < lo {
			return fmt.Errorf("value must be at least %v", lo)
		}
		return nil
	}
}

func between[T ordered](lo, hi T) func(T) error {
	return func(v T) error {
		if v < lo || v > hi {
			return fmt.Errorf("value must be between %v and %v", lo, hi)
		}
		return nil
	}
}

func positive(v float64) error {
	if v <= 0 {
		return errors.New("value must be positive")
	}
	return nil
}

func requiredURL(s string) error {
	if s == "" {
		return errors.New("value must not be empty")
	}
	return optionalURL(s)
}

func optionalURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("value must be an absolute URL")
	}
	return nil
}
