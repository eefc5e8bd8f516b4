package monitor

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/vov-code/polymarket-bot/internal/models"
	"github.com/vov-code/polymarket-bot/internal/state"
	"github.com/vov-code/polymarket-bot/internal/storage"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(at time.Time, volume float64, prices map[string]float64) models.Sample {
	return models.Sample{Timestamp: at, VolumeUSD: volume, Prices: prices}
}

func findSignal(sigs []models.Signal, kind models.SignalKind) (models.Signal, bool) {
	for _, s := range sigs {
		if s.Kind == kind {
			return s, true
		}
	}
	return models.Signal{}, false
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

// ─── Signal engine ───────────────────────────────────────────────────────────

func TestDominantMove_TieBreaksTowardPositive(t *testing.T) {
	past := sample(baseTime, 0, map[string]float64{"a": 0.40, "b": 0.60})
	curr := sample(baseTime.Add(time.Minute), 0, map[string]float64{"a": 0.50, "b": 0.50})

	move, ok := DominantMove(past, curr)
	if !ok {
		t.Fatal("expected a dominant move")
	}
	if move.OutcomeKey != "a" {
		t.Errorf("expected outcome a, got %s", move.OutcomeKey)
	}
	if !approx(move.Delta, 0.10) {
		t.Errorf("expected delta +0.10, got %f", move.Delta)
	}

	// Same result regardless of which key sorts first.
	past = sample(baseTime, 0, map[string]float64{"down": 0.60, "up": 0.40})
	curr = sample(baseTime.Add(time.Minute), 0, map[string]float64{"down": 0.50, "up": 0.50})
	move, _ = DominantMove(past, curr)
	if move.OutcomeKey != "up" {
		t.Errorf("expected outcome up, got %s", move.OutcomeKey)
	}
}

func TestDominantMove_IgnoresOutcomesMissingFromPast(t *testing.T) {
	past := sample(baseTime, 0, map[string]float64{"yes": 0.5})
	curr := sample(baseTime.Add(time.Minute), 0, map[string]float64{"yes": 0.52, "maybe": 0.9})

	move, ok := DominantMove(past, curr)
	if !ok || move.OutcomeKey != "yes" {
		t.Errorf("expected yes, got %+v (ok=%v)", move, ok)
	}

	if _, ok := DominantMove(sample(baseTime, 0, nil), curr); ok {
		t.Error("expected no move without common outcomes")
	}
}

func TestDetect_VolumeSpike(t *testing.T) {
	now := baseTime
	entry := &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-30*time.Minute), 10000, map[string]float64{"yes": 0.5}),
		sample(now, 16000, map[string]float64{"yes": 0.5}),
	}}

	tests := []struct {
		name      string
		threshold float64
		wantFire  bool
	}{
		{"fires at $5,000", 5000, true},
		{"fires at exact delta", 6000, true},
		{"silent at $6,001", 6001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSignalConfig()
			cfg.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: tt.threshold, MinPctOfTotal: 0.25}

			sig, ok := findSignal(Detect("m1", entry, now, cfg), models.KindVolumeSpike)
			if ok != tt.wantFire {
				t.Fatalf("fired=%v, want %v", ok, tt.wantFire)
			}
			if !ok {
				return
			}
			if !approx(sig.VolumeDeltaUSD, 6000) || !approx(sig.PctOfTotal, 0.375) {
				t.Errorf("unexpected metrics: delta=%f pct=%f", sig.VolumeDeltaUSD, sig.PctOfTotal)
			}
			if !approx(sig.Score, 6000) {
				t.Errorf("score = %f, want 6000", sig.Score)
			}
			if sig.Window != VolumeSpikeWindow || sig.MarketID != "m1" {
				t.Errorf("unexpected window or id: %+v", sig)
			}
		})
	}
}

func TestDetect_VolumeSpikeNeedsPct(t *testing.T) {
	now := baseTime
	entry := &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-30*time.Minute), 100000, nil),
		sample(now, 106000, nil),
	}}
	cfg := DefaultSignalConfig()
	cfg.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 5000, MinPctOfTotal: 0.25}

	if _, ok := findSignal(Detect("m", entry, now, cfg), models.KindVolumeSpike); ok {
		t.Error("6k on a 106k market is under 25% and must not fire")
	}
}

func bigBuyEntry(now time.Time) *models.MarketEntry {
	return &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-10*time.Minute), 68000, map[string]float64{"yes": 0.41, "no": 0.55}),
		sample(now, 80000, map[string]float64{"yes": 0.50, "no": 0.50}),
	}}
}

func TestDetect_BigBuy(t *testing.T) {
	now := baseTime
	cfg := DefaultSignalConfig()
	cfg.BigBuy = BigBuyConfig{Enabled: true, MinDeltaUSD: 10000, MinPctOfTotal: 0.10, MinPriceMove: 0.08}

	sig, ok := findSignal(Detect("m1", bigBuyEntry(now), now, cfg), models.KindBigBuy)
	if !ok {
		t.Fatal("expected big buy to fire")
	}
	if sig.Move == nil || sig.Move.OutcomeKey != "yes" {
		t.Fatalf("expected move on yes, got %+v", sig.Move)
	}
	if !approx(sig.Move.Delta, 0.09) {
		t.Errorf("delta price = %f, want 0.09", sig.Move.Delta)
	}
	if !approx(sig.VolumeDeltaUSD, 12000) || !approx(sig.PctOfTotal, 0.15) {
		t.Errorf("unexpected metrics: delta=%f pct=%f", sig.VolumeDeltaUSD, sig.PctOfTotal)
	}
	if sig.AlertKey() != "big_buy:yes" {
		t.Errorf("alert key = %s", sig.AlertKey())
	}
}

func TestDetect_BigBuyRequiresAllThree(t *testing.T) {
	now := baseTime
	tests := []struct {
		name string
		cfg  BigBuyConfig
	}{
		{"volume too small", BigBuyConfig{Enabled: true, MinDeltaUSD: 12001, MinPctOfTotal: 0.10, MinPriceMove: 0.08}},
		{"pct too small", BigBuyConfig{Enabled: true, MinDeltaUSD: 10000, MinPctOfTotal: 0.16, MinPriceMove: 0.08}},
		{"price move too small", BigBuyConfig{Enabled: true, MinDeltaUSD: 10000, MinPctOfTotal: 0.10, MinPriceMove: 0.10}},
		{"disabled", BigBuyConfig{Enabled: false, MinDeltaUSD: 10000, MinPctOfTotal: 0.10, MinPriceMove: 0.08}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSignalConfig()
			cfg.BigBuy = tt.cfg
			if _, ok := findSignal(Detect("m", bigBuyEntry(now), now, cfg), models.KindBigBuy); ok {
				t.Error("big buy should not fire")
			}
		})
	}
}

func TestDetect_PriceChange(t *testing.T) {
	now := baseTime
	entry := &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-10*time.Minute), 50000, map[string]float64{"yes": 0.30}),
		sample(now, 52000, map[string]float64{"yes": 0.50}),
	}}
	cfg := DefaultSignalConfig()
	cfg.PriceChange = PriceChangeConfig{Enabled: true, MinAbsMove: 0.15, MinDeltaUSD: 1000, ScoreScale: 100000}

	sig, ok := findSignal(Detect("m", entry, now, cfg), models.KindPriceChange)
	if !ok {
		t.Fatal("expected price change to fire")
	}
	if !approx(sig.Score, 20000) {
		t.Errorf("score = %f, want 20000", sig.Score)
	}
	if sig.AlertKey() != "price_change:yes" {
		t.Errorf("alert key = %s", sig.AlertKey())
	}
	// Spike-level volume is not required.
	if _, ok := findSignal(Detect("m", entry, now, cfg), models.KindBigBuy); ok {
		t.Error("big buy should not fire on $2,000")
	}

	cfg.PriceChange.MinDeltaUSD = 2001
	if _, ok := findSignal(Detect("m", entry, now, cfg), models.KindPriceChange); ok {
		t.Error("price change must respect the volume floor")
	}
}

func TestDetect_StaleHorizonSkipped(t *testing.T) {
	now := baseTime
	cfg := DefaultSignalConfig() // poll 1m, tolerance 5m
	cfg.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 1, MinPctOfTotal: 0}

	fresh := &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-35*time.Minute), 1000, nil),
		sample(now, 5000, nil),
	}}
	if _, ok := findSignal(Detect("m", fresh, now, cfg), models.KindVolumeSpike); !ok {
		t.Error("sample within horizon+tolerance should be used")
	}

	stale := &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-36*time.Minute), 1000, nil),
		sample(now, 5000, nil),
	}}
	if _, ok := findSignal(Detect("m", stale, now, cfg), models.KindVolumeSpike); ok {
		t.Error("sample older than horizon+tolerance must be skipped")
	}

	cfg.PollInterval = 5 * time.Minute // tolerance 10m
	if _, ok := findSignal(Detect("m", stale, now, cfg), models.KindVolumeSpike); !ok {
		t.Error("longer poll interval widens the tolerance")
	}
}

func TestDetect_UsesNearestAtOrBefore(t *testing.T) {
	now := baseTime
	cfg := DefaultSignalConfig()
	cfg.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 1, MinPctOfTotal: 0}

	entry := &models.MarketEntry{Samples: []models.Sample{
		sample(now.Add(-40*time.Minute), 1000, nil),
		sample(now.Add(-31*time.Minute), 2000, nil),
		sample(now.Add(-29*time.Minute), 3000, nil),
		sample(now, 5000, nil),
	}}
	sig, ok := findSignal(Detect("m", entry, now, cfg), models.KindVolumeSpike)
	if !ok {
		t.Fatal("expected spike")
	}
	if !sig.FromTime.Equal(now.Add(-31*time.Minute)) || !approx(sig.FromVolumeUSD, 2000) {
		t.Errorf("expected baseline at -31m, got %v %.0f", sig.FromTime, sig.FromVolumeUSD)
	}
}

func TestDetect_NeedsTwoSamplesAndIsIdempotent(t *testing.T) {
	now := baseTime
	one := &models.MarketEntry{Samples: []models.Sample{sample(now, 1e6, nil)}}
	if sigs := Detect("m", one, now, DefaultSignalConfig()); len(sigs) != 0 {
		t.Errorf("expected no signals for one sample, got %d", len(sigs))
	}

	cfg := DefaultSignalConfig()
	cfg.BigBuy.MinDeltaUSD = 10000
	entry := bigBuyEntry(now)
	first := Detect("m", entry, now, cfg)
	second := Detect("m", entry, now, cfg)
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("expected identical non-empty results, got %d and %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.Kind != b.Kind || a.Score != b.Score || *a.Move != *b.Move {
			t.Errorf("signal %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestDetectNewMarket(t *testing.T) {
	now := baseTime
	cfg := NewMarketConfig{Enabled: true, MinVolumeUSD: 1, MinLiquidityUSD: 0, MaxAge: 24 * time.Hour}
	market := models.Market{ID: "n", VolumeUSD: 2000, LiquidityUSD: 500, CreatedAt: now.Add(-3 * time.Hour)}

	tests := []struct {
		name         string
		mutate       func(m *models.Market)
		isNew        bool
		bootstrapped bool
		want         bool
	}{
		{"fires", nil, true, true, true},
		{"bootstrap cycle", nil, true, false, false},
		{"already tracked", nil, false, true, false},
		{"unknown creation time", func(m *models.Market) { m.CreatedAt = time.Time{} }, true, true, false},
		{"too old", func(m *models.Market) { m.CreatedAt = now.Add(-25 * time.Hour) }, true, true, false},
		{"no volume", func(m *models.Market) { m.VolumeUSD = 0.5 }, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := market
			if tt.mutate != nil {
				tt.mutate(&m)
			}
			sig, ok := DetectNewMarket(m, tt.isNew, tt.bootstrapped, now, cfg)
			if ok != tt.want {
				t.Fatalf("fired=%v, want %v", ok, tt.want)
			}
			if ok && (sig.Score != 2000 || sig.LiquidityUSD != 500) {
				t.Errorf("unexpected signal: %+v", sig)
			}
		})
	}
}

// ─── Scheduler ───────────────────────────────────────────────────────────────

func TestRank(t *testing.T) {
	sigs := []models.Signal{
		{MarketID: "a", Score: 10},
		{MarketID: "b", Score: 30},
		{MarketID: "c", Score: 20},
	}
	got := Rank(sigs, 2)
	if len(got) != 2 || got[0].MarketID != "b" || got[1].MarketID != "c" {
		t.Errorf("unexpected ranking: %+v", got)
	}
	if got := Rank(sigs, 0); len(got) != 1 || got[0].MarketID != "b" {
		t.Errorf("limit 0 should keep the top signal, got %+v", got)
	}
	if got := Rank(nil, 5); len(got) != 0 {
		t.Errorf("expected empty, got %+v", got)
	}
	if sigs[0].MarketID != "a" {
		t.Error("Rank must not reorder its input")
	}
}

type fakeNotifier struct {
	sent    []string
	failOn  int // 1-based call that fails; 0 never fails
	calls   int
	failErr error
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.calls++
	if f.failOn > 0 && f.calls >= f.failOn {
		return f.failErr
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeSource struct {
	markets []models.Market
	err     error
}

func (f *fakeSource) ListMarkets(context.Context) ([]models.Market, error) {
	return f.markets, f.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func plainFormat(_ models.MarketMeta, sig models.Signal) string {
	return string(sig.Kind) + ":" + sig.MarketID
}

func testMarket(id string, volume, yes float64) models.Market {
	return models.Market{
		ID:           id,
		Slug:         id,
		Title:        "Market " + id,
		VolumeUSD:    volume,
		LiquidityUSD: 500,
		CreatedAt:    baseTime.Add(-3 * time.Hour),
		Outcomes:     []models.Outcome{{Name: "Yes", Price: yes}, {Name: "No", Price: 1 - yes}},
	}
}

func newTestMonitor(src *fakeSource, n *fakeNotifier, clock *fakeClock, journal Journal) *Monitor {
	cfg := DefaultConfig()
	cfg.MaxAlertsPerCycle = 10
	return New(state.New(clock.t), cfg, Deps{
		Source:   src,
		Notifier: n,
		Format:   plainFormat,
		Journal:  journal,
		Now:      clock.now,
	})
}

func countPrefix(texts []string, prefix string) int {
	n := 0
	for _, s := range texts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func TestRunCycle_NewMarketAfterBootstrap(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	src := &fakeSource{markets: []models.Market{testMarket("a", 5000, 0.5)}}
	n := &fakeNotifier{}
	m := newTestMonitor(src, n, clock, nil)

	report, err := m.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if report.NewMarkets != 1 || len(n.sent) != 0 {
		t.Fatalf("bootstrap cycle must only observe: report=%+v sent=%v", report, n.sent)
	}
	if !m.Status().Meta.Bootstrapped {
		t.Fatal("store should be bootstrapped after the first cycle")
	}

	clock.t = clock.t.Add(time.Minute)
	b := testMarket("b", 2000, 0.5)
	src.markets = append(src.markets, b)
	if _, err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if countPrefix(n.sent, "new_market:b") != 1 {
		t.Fatalf("expected one new market alert for b, got %v", n.sent)
	}

	clock.t = clock.t.Add(time.Minute)
	if _, err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if got := countPrefix(n.sent, "new_market:"); got != 1 {
		t.Errorf("new market must fire once, got %d alerts: %v", got, n.sent)
	}
}

func TestProcess_CooldownSuppressesRepeat(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	n := &fakeNotifier{}
	m := newTestMonitor(&fakeSource{}, n, clock, nil)
	m.config.Signals.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 1000, MinPctOfTotal: 0.01}
	m.config.Cooldown = 30 * time.Minute

	ctx := context.Background()
	volume := 10000.0
	var sentPerCycle []int
	for i := 0; i <= 45; i++ {
		now := baseTime.Add(time.Duration(i) * time.Minute)
		volume += 2000
		report, err := m.Process(ctx, []models.Market{testMarket("a", volume, 0.5)}, now)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		sentPerCycle = append(sentPerCycle, report.AlertsSent)
	}

	// First spike at minute 30, then cooling down until minute 60.
	if got := countPrefix(n.sent, "volume_spike:a"); got != 1 {
		t.Errorf("expected exactly one spike alert in 45 minutes, got %d (%v)", got, sentPerCycle)
	}
}

func TestProcess_RetentionFloorKeepsSpikeLookback(t *testing.T) {
	run := func(retention time.Duration) int {
		clock := &fakeClock{t: baseTime}
		n := &fakeNotifier{}
		m := newTestMonitor(&fakeSource{}, n, clock, nil)
		m.config.Signals.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 1000, MinPctOfTotal: 0.01}
		m.config.Cooldown = time.Minute
		m.config.Retention = retention

		volume := 10000.0
		for i := 0; i < 60; i++ {
			// Cycles drift by up to 600ms, as a real ticker does.
			jitter := time.Duration(i*137%600) * time.Millisecond
			now := baseTime.Add(time.Duration(i)*time.Minute + jitter)
			volume += 2000
			if _, err := m.Process(context.Background(), []models.Market{testMarket("a", volume, 0.5)}, now); err != nil {
				t.Fatalf("cycle %d: %v", i, err)
			}
		}
		return countPrefix(n.sent, "volume_spike:a")
	}

	if got := run(VolumeSpikeWindow); got != 0 {
		t.Fatalf("expected retention equal to the lookback to lose the past sample, got %d alerts", got)
	}
	if got := run(MinRetention(time.Minute)); got == 0 {
		t.Errorf("expected spike alerts at retention %s", MinRetention(time.Minute))
	}
}

func TestMinRetention(t *testing.T) {
	if got := MinRetention(time.Minute); got != 35*time.Minute {
		t.Errorf("MinRetention(1m) = %s, want 35m", got)
	}
	if got := MinRetention(10 * time.Minute); got != 50*time.Minute {
		t.Errorf("MinRetention(10m) = %s, want 50m", got)
	}
}

func TestProcess_SinkFailureAbortsDispatch(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	sinkErr := errors.New("telegram down")
	n := &fakeNotifier{failOn: 2, failErr: sinkErr}
	m := newTestMonitor(&fakeSource{}, n, clock, nil)
	m.config.Signals.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 1000, MinPctOfTotal: 0.01}

	ctx := context.Background()
	ids := []string{"a", "b", "c"}
	var first []models.Market
	for _, id := range ids {
		first = append(first, testMarket(id, 10000, 0.5))
	}
	if _, err := m.Process(ctx, first, baseTime.Add(-30*time.Minute)); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	var second []models.Market
	for i, id := range ids {
		second = append(second, testMarket(id, 20000+float64(i)*1000, 0.5))
	}
	report, err := m.Process(ctx, second, baseTime)
	if !errors.Is(err, ErrSinkFailure) || !errors.Is(err, sinkErr) {
		t.Fatalf("expected sink failure, got %v", err)
	}
	if !IsSinkFailure(err) {
		t.Error("IsSinkFailure should recognise the error")
	}
	if report.AlertsSent != 1 || n.calls != 2 {
		t.Errorf("expected 1 sent and dispatch stopped after 2 calls, got sent=%d calls=%d", report.AlertsSent, n.calls)
	}
	// Highest score (c) goes first.
	if len(n.sent) != 1 || n.sent[0] != "volume_spike:c" {
		t.Errorf("unexpected deliveries: %v", n.sent)
	}
	meta := m.Store().Meta
	if meta.LastError == "" || meta.LastErrorAt.IsZero() {
		t.Error("sink failure should be recorded in meta")
	}
	if meta.LastScanSignals != 3 || meta.LastScanAlertsSent != 1 {
		t.Errorf("bookkeeping incomplete: %+v", meta)
	}
}

func TestProcess_CapsAlertsPerCycle(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	n := &fakeNotifier{}
	m := newTestMonitor(&fakeSource{}, n, clock, nil)
	m.config.MaxAlertsPerCycle = 2
	m.config.Signals.VolumeSpike = VolumeSpikeConfig{Enabled: true, MinDeltaUSD: 1000, MinPctOfTotal: 0.01}

	ctx := context.Background()
	var before, after []models.Market
	for i, id := range []string{"a", "b", "c", "d"} {
		before = append(before, testMarket(id, 10000, 0.5))
		after = append(after, testMarket(id, 20000+float64(i)*1000, 0.5))
	}
	m.Process(ctx, before, baseTime.Add(-30*time.Minute)) //nolint:errcheck
	report, err := m.Process(ctx, after, baseTime)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if report.Signals != 4 || report.AlertsSent != 2 {
		t.Errorf("expected 4 signals and 2 sent, got %+v", report)
	}
	if n.sent[0] != "volume_spike:d" || n.sent[1] != "volume_spike:c" {
		t.Errorf("expected top two by score, got %v", n.sent)
	}
}

func TestProcess_PrunesUnseenMarkets(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	m := newTestMonitor(&fakeSource{}, &fakeNotifier{}, clock, nil)
	m.config.Retention = time.Hour

	ctx := context.Background()
	m.Process(ctx, []models.Market{testMarket("gone", 1, 0.5), testMarket("kept", 1, 0.5)}, baseTime) //nolint:errcheck
	report, _ := m.Process(ctx, []models.Market{testMarket("kept", 1, 0.5)}, baseTime.Add(61*time.Minute))
	if report.RemovedMarkets != 1 {
		t.Errorf("expected 1 pruned market, got %d", report.RemovedMarkets)
	}
	if _, ok := m.Store().Markets["gone"]; ok {
		t.Error("unseen market should be pruned")
	}
}

func TestRunCycle_CatalogFailure(t *testing.T) {
	clock := &fakeClock{t: baseTime}
	src := &fakeSource{err: errors.New("upstream 503")}
	m := newTestMonitor(src, &fakeNotifier{}, clock, nil)

	_, err := m.RunCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "upstream 503") {
		t.Fatalf("expected catalog error, got %v", err)
	}
	st := m.Status()
	if st.Meta.Bootstrapped {
		t.Error("a failed cycle must not complete the bootstrap")
	}
	if !strings.Contains(st.Meta.LastError, "upstream 503") {
		t.Errorf("last error not recorded: %q", st.Meta.LastError)
	}
}

func TestRunCycle_Journal(t *testing.T) {
	journal, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer journal.Close()

	clock := &fakeClock{t: baseTime}
	src := &fakeSource{markets: []models.Market{testMarket("a", 5000, 0.5)}}
	m := newTestMonitor(src, &fakeNotifier{}, clock, journal)

	if _, err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	clock.t = clock.t.Add(time.Minute)
	src.markets = append(src.markets, testMarket("b", 2000, 0.5))
	if _, err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	ctx := context.Background()
	last, err := journal.LastCycle(ctx)
	if err != nil || last == nil {
		t.Fatalf("LastCycle: %v %v", last, err)
	}
	if last.Markets != 2 || last.NewMarkets != 1 || last.AlertsSent != 1 {
		t.Errorf("unexpected cycle record: %+v", last)
	}
	alerts, err := journal.RecentAlerts(ctx, 5)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].MarketID != "b" || alerts[0].Kind != "new_market" {
		t.Errorf("unexpected journal alerts: %+v", alerts)
	}
}
