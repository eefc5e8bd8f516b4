package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vov-code/polymarket-bot/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testMarket(id string, volume float64, yes float64) models.Market {
	return models.Market{
		ID:           id,
		Slug:         id,
		Title:        "Market " + id,
		EventTitle:   "Event",
		URL:          "https://polymarket.com/market/" + id,
		VolumeUSD:    volume,
		LiquidityUSD: 100,
		Outcomes: []models.Outcome{
			{Name: "Yes", Price: yes},
			{Name: "No", Price: 1 - yes},
		},
	}
}

func TestUpsertTracksAndTrims(t *testing.T) {
	s := New(t0)
	retention := 30 * time.Minute

	require.True(t, s.Upsert(testMarket("a", 100, 0.4), t0, retention))
	require.False(t, s.Upsert(testMarket("a", 200, 0.5), t0.Add(time.Minute), retention))

	entry := s.Markets["a"]
	require.Len(t, entry.Samples, 2)
	require.InDelta(t, 0.5, entry.Samples[1].Prices["yes"], 1e-9)
	require.InDelta(t, 0.5, entry.Samples[1].Prices["no"], 1e-9)

	for i := 2; i <= 60; i++ {
		now := t0.Add(time.Duration(i) * time.Minute)
		s.Upsert(testMarket("a", float64(i*100), 0.5), now, retention)

		cutoff := now.Add(-retention)
		for j, sample := range entry.Samples {
			require.False(t, sample.Timestamp.Before(cutoff), "sample %d older than retention", j)
			if j > 0 {
				require.True(t, entry.Samples[j-1].Timestamp.Before(sample.Timestamp))
			}
		}
	}
	require.Len(t, entry.Samples, 31)
	require.True(t, entry.LastSeen.Equal(t0.Add(60*time.Minute)))
}

func TestUpsertKeepsOrderWhenClockStepsBack(t *testing.T) {
	s := New(t0)
	s.Upsert(testMarket("a", 100, 0.4), t0, time.Hour)
	s.Upsert(testMarket("a", 200, 0.4), t0.Add(2*time.Minute), time.Hour)
	s.Upsert(testMarket("a", 300, 0.4), t0.Add(time.Minute), time.Hour)

	samples := s.Markets["a"].Samples
	require.Len(t, samples, 2)
	require.True(t, samples[1].Timestamp.Equal(t0.Add(time.Minute)))
	require.InDelta(t, 300, samples[1].VolumeUSD, 1e-9)
}

func TestUpsertOverwritesMeta(t *testing.T) {
	s := New(t0)
	m := testMarket("a", 100, 0.4)
	s.Upsert(m, t0, time.Hour)

	m.Title = "Renamed"
	s.Upsert(m, t0.Add(time.Minute), time.Hour)
	require.Equal(t, "Renamed", s.Markets["a"].Meta.Title)
}

func TestPrune(t *testing.T) {
	s := New(t0)
	retention := time.Hour
	s.Upsert(testMarket("old", 1, 0.5), t0, retention)
	s.Upsert(testMarket("fresh", 1, 0.5), t0.Add(50*time.Minute), retention)

	now := t0.Add(90 * time.Minute)
	require.Equal(t, 1, s.Prune(now, retention))
	require.Contains(t, s.Markets, "fresh")
	require.NotContains(t, s.Markets, "old")
	for _, e := range s.Markets {
		require.False(t, e.LastSeen.Before(now.Add(-retention)))
	}
}

func TestShouldAlertCooldown(t *testing.T) {
	cooldown := 30 * time.Minute
	entry := &models.MarketEntry{}

	require.True(t, ShouldAlert(entry, "volume_spike", t0, cooldown))
	for _, d := range []time.Duration{0, time.Second, 29*time.Minute + 59*time.Second} {
		require.False(t, ShouldAlert(entry, "volume_spike", t0.Add(d), cooldown), "offset %s", d)
	}
	// Other keys on the same market are independent.
	require.True(t, ShouldAlert(entry, "big_buy:yes", t0.Add(time.Minute), cooldown))

	require.True(t, ShouldAlert(entry, "volume_spike", t0.Add(cooldown), cooldown))
	require.False(t, ShouldAlert(entry, "volume_spike", t0.Add(cooldown+time.Minute), cooldown))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	s := New(t0)
	s.Meta.Bootstrapped = true
	s.Meta.LastScanMarkets = 2
	s.Upsert(testMarket("a", 100, 0.4), t0, time.Hour)
	s.Upsert(testMarket("a", 150, 0.45), t0.Add(time.Minute), time.Hour)
	s.Upsert(testMarket("b", 10, 0.9), t0.Add(time.Minute), time.Hour)
	ShouldAlert(s.Markets["a"], "big_buy:yes", t0.Add(time.Minute), time.Hour)

	require.NoError(t, s.Save(path))

	loaded, err := Load(path, t0.Add(time.Hour))
	require.NoError(t, err)

	want, err := json.Marshal(s)
	require.NoError(t, err)
	got, err := json.Marshal(loaded)
	require.NoError(t, err)
	require.JSONEq(t, string(want), string(got))
	require.True(t, loaded.Markets["a"].Alerts["big_buy:yes"].Equal(t0.Add(time.Minute)))

	// No temp files are left next to the snapshot.
	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	s, err := Load(filepath.Join(dir, "missing.json"), t0)
	require.NoError(t, err)
	require.Empty(t, s.Markets)
	require.False(t, s.Meta.Bootstrapped)
	require.True(t, s.Meta.CreatedAt.Equal(t0))

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"markets": [`), 0o644))
	s, err = Load(corrupt, t0)
	require.Error(t, err)
	require.NotNil(t, s)
	require.Empty(t, s.Markets)
}

func TestLoadWithoutMetaInfersBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	raw := `{"markets":{"a":{"meta":{"title":"A"},"samples":[],"last_seen":"2026-03-01T12:00:00Z"},"b":null}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	s, err := Load(path, t0)
	require.NoError(t, err)
	require.True(t, s.Meta.Bootstrapped)
	require.Len(t, s.Markets, 1)
	require.NotNil(t, s.Markets["a"].Alerts)
}
