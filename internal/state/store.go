// Package state keeps the per-market sliding windows, cooldown tables and
// scan metadata, and persists them as one JSON snapshot.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vov-code/polymarket-bot/internal/models"
)

// Meta describes the store itself and the outcome of the last scan.
type Meta struct {
	CreatedAt    time.Time `json:"created_at"`
	Bootstrapped bool      `json:"bootstrapped"`

	LastScanAt             time.Time     `json:"last_scan_at,omitempty"`
	LastScanMarkets        int           `json:"last_scan_markets"`
	LastScanNewMarkets     int           `json:"last_scan_new_markets"`
	LastScanSignals        int           `json:"last_scan_signals"`
	LastScanAlertsSent     int           `json:"last_scan_alerts_sent"`
	LastScanRemovedMarkets int           `json:"last_scan_removed_markets"`
	LastCycleDuration      time.Duration `json:"last_cycle_duration"`

	LastErrorAt time.Time `json:"last_error_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Store is the tracked-market map. It is not safe for concurrent use;
// cycles run one at a time.
type Store struct {
	Meta    Meta                           `json:"meta"`
	Markets map[string]*models.MarketEntry `json:"markets"`
}

// New returns an empty, not yet bootstrapped store.
func New(now time.Time) *Store {
	return &Store{
		Meta:    Meta{CreatedAt: now},
		Markets: make(map[string]*models.MarketEntry),
	}
}

// Upsert records one observation of m at now and reports whether the market
// was tracked for the first time. Samples older than now-retention are
// trimmed from the front of the window.
func (s *Store) Upsert(m models.Market, now time.Time, retention time.Duration) bool {
	entry, ok := s.Markets[m.ID]
	if !ok {
		entry = &models.MarketEntry{Alerts: make(map[string]time.Time)}
		s.Markets[m.ID] = entry
	}
	entry.Meta = m.Meta()
	entry.LastSeen = now

	prices := make(map[string]float64, len(m.Outcomes))
	for _, o := range m.Outcomes {
		key := models.OutcomeKey(o.Name)
		if key == "" {
			continue
		}
		if _, dup := prices[key]; !dup {
			prices[key] = o.Price
		}
	}

	// Keep timestamps strictly increasing if the clock stepped back.
	n := len(entry.Samples)
	for n > 0 && !entry.Samples[n-1].Timestamp.Before(now) {
		n--
	}
	entry.Samples = append(entry.Samples[:n], models.Sample{
		Timestamp: now,
		VolumeUSD: m.VolumeUSD,
		Prices:    prices,
	})

	cutoff := now.Add(-retention)
	drop := 0
	for drop < len(entry.Samples) && entry.Samples[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		entry.Samples = append([]models.Sample(nil), entry.Samples[drop:]...)
	}

	return !ok
}

// Prune deletes entries not seen since now-retention and returns how many
// were removed.
func (s *Store) Prune(now time.Time, retention time.Duration) int {
	cutoff := now.Add(-retention)
	removed := 0
	for id, entry := range s.Markets {
		if entry == nil || entry.LastSeen.Before(cutoff) {
			delete(s.Markets, id)
			removed++
		}
	}
	return removed
}

// ShouldAlert is a check-and-set on the entry's cooldown table: it returns
// false while key is cooling down, otherwise it marks key as sent at now and
// returns true.
func ShouldAlert(entry *models.MarketEntry, key string, now time.Time, cooldown time.Duration) bool {
	if entry.Alerts == nil {
		entry.Alerts = make(map[string]time.Time)
	}
	if last, ok := entry.Alerts[key]; ok && now.Sub(last) < cooldown {
		return false
	}
	entry.Alerts[key] = now
	return true
}

// Save writes the snapshot atomically: a temp file in the target directory
// is synced and then renamed over path.
func (s *Store) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Load reads a snapshot. A missing file yields an empty store and no error.
// A corrupt file yields an empty store and the decode error, which callers
// log and otherwise ignore.
func Load(path string, now time.Time) (*Store, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(now), nil
	}
	if err != nil {
		return New(now), fmt.Errorf("failed to read state: %w", err)
	}

	var s Store
	if err := json.Unmarshal(data, &s); err != nil {
		return New(now), fmt.Errorf("failed to decode state: %w", err)
	}

	if s.Markets == nil {
		s.Markets = make(map[string]*models.MarketEntry)
	}
	for id, entry := range s.Markets {
		if entry == nil {
			delete(s.Markets, id)
			continue
		}
		if entry.Alerts == nil {
			entry.Alerts = make(map[string]time.Time)
		}
	}
	if s.Meta.CreatedAt.IsZero() {
		s.Meta.CreatedAt = now
		// Snapshots without meta but with markets come from a running bot.
		s.Meta.Bootstrapped = len(s.Markets) > 0
	}
	return &s, nil
}
