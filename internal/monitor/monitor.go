// Package monitor runs scan cycles: it records catalog observations in the
// state store, derives signals, and dispatches the top-ranked alerts.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vov-code/polymarket-bot/internal/logger"
	"github.com/vov-code/polymarket-bot/internal/models"
	"github.com/vov-code/polymarket-bot/internal/state"
	"github.com/vov-code/polymarket-bot/internal/storage"
)

type Config struct {
	Signals           SignalConfig
	Retention         time.Duration
	MaxAlertsPerCycle int
	Cooldown          time.Duration
	JournalRetention  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Signals:           DefaultSignalConfig(),
		Retention:         180 * time.Minute,
		MaxAlertsPerCycle: 10,
		Cooldown:          30 * time.Minute,
		JournalRetention:  7 * 24 * time.Hour,
	}
}

// MarketSource lists the current catalog. *polymarket.Catalog implements it.
type MarketSource interface {
	ListMarkets(ctx context.Context) ([]models.Market, error)
}

// Deps are the collaborators of a Monitor. Journal is optional.
type Deps struct {
	Source   MarketSource
	Notifier Notifier
	Format   Formatter
	Journal  Journal
	Now      func() time.Time
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Markets        int
	NewMarkets     int
	Signals        int
	AlertsSent     int
	RemovedMarkets int
}

// Status is a point-in-time copy of the store metadata, safe to read from
// other goroutines.
type Status struct {
	Meta           state.Meta
	TrackedMarkets int
}

type Monitor struct {
	store    *state.Store
	source   MarketSource
	notifier Notifier
	format   Formatter
	journal  Journal
	config   Config
	now      func() time.Time

	mu     sync.RWMutex
	status Status
}

func New(store *state.Store, config Config, deps Deps) *Monitor {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Monitor{
		store:    store,
		source:   deps.Source,
		notifier: deps.Notifier,
		format:   deps.Format,
		journal:  deps.Journal,
		config:   config,
		now:      deps.Now,
	}
	m.publishStatus()
	return m
}

// Store returns the state store. Callers must not use it while a cycle runs.
func (m *Monitor) Store() *state.Store {
	return m.store
}

// Status returns the metadata published at the end of the last cycle.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Monitor) publishStatus() {
	st := Status{Meta: m.store.Meta, TrackedMarkets: len(m.store.Markets)}
	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
}

// RunCycle fetches the catalog and processes it. A catalog failure leaves
// tracked state untouched and is returned for the caller to retry next
// interval. A sink failure still completes the cycle's bookkeeping and is
// returned wrapped in ErrSinkFailure.
func (m *Monitor) RunCycle(ctx context.Context) (CycleReport, error) {
	started := m.now()

	markets, err := m.source.ListMarkets(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list markets: %w", err)
		m.recordError(started, err)
		m.journalCycle(ctx, started, CycleReport{}, err)
		m.publishStatus()
		return CycleReport{}, err
	}
	logger.Info("Scan: %d markets", len(markets))

	report, err := m.Process(ctx, markets, m.now())

	m.store.Meta.Bootstrapped = true
	m.store.Meta.LastCycleDuration = m.now().Sub(started)
	m.journalCycle(ctx, started, report, err)
	m.publishStatus()
	return report, err
}

// Process runs one cycle over an already fetched catalog at time now.
func (m *Monitor) Process(ctx context.Context, markets []models.Market, now time.Time) (CycleReport, error) {
	report := CycleReport{Markets: len(markets)}
	bootstrapped := m.store.Meta.Bootstrapped

	var signals []models.Signal
	for _, market := range markets {
		isNew := m.store.Upsert(market, now, m.config.Retention)
		if isNew {
			report.NewMarkets++
		}
		if sig, ok := DetectNewMarket(market, isNew, bootstrapped, now, m.config.Signals.NewMarket); ok {
			signals = append(signals, sig)
		}
	}
	for _, market := range markets {
		signals = append(signals, Detect(market.ID, m.store.Markets[market.ID], now, m.config.Signals)...)
	}
	report.Signals = len(signals)
	if len(signals) == 0 {
		logger.Debug("No signals this cycle")
	}

	sent, sinkErr := m.dispatch(ctx, Rank(signals, m.config.MaxAlertsPerCycle), now)
	report.AlertsSent = sent
	if sinkErr != nil {
		logger.Error("Alert dispatch aborted: %v", sinkErr)
		m.recordError(m.now(), sinkErr)
	}

	report.RemovedMarkets = m.store.Prune(now, m.config.Retention)

	meta := &m.store.Meta
	meta.LastScanAt = now
	meta.LastScanMarkets = report.Markets
	meta.LastScanNewMarkets = report.NewMarkets
	meta.LastScanSignals = report.Signals
	meta.LastScanAlertsSent = report.AlertsSent
	meta.LastScanRemovedMarkets = report.RemovedMarkets

	return report, sinkErr
}

func (m *Monitor) recordError(at time.Time, err error) {
	m.store.Meta.LastErrorAt = at
	m.store.Meta.LastError = err.Error()
}

func (m *Monitor) journalCycle(ctx context.Context, started time.Time, report CycleReport, cycleErr error) {
	if m.journal == nil {
		return
	}
	rec := storage.CycleRecord{
		StartedAt:      started,
		Duration:       m.now().Sub(started),
		Markets:        report.Markets,
		NewMarkets:     report.NewMarkets,
		Signals:        report.Signals,
		AlertsSent:     report.AlertsSent,
		RemovedMarkets: report.RemovedMarkets,
	}
	if cycleErr != nil {
		rec.Error = cycleErr.Error()
	}
	// Record the cycle even when shutdown cancelled it.
	ctx = context.WithoutCancel(ctx)
	if err := m.journal.RecordCycle(ctx, rec); err != nil {
		logger.Warn("Failed to journal cycle: %v", err)
	}
	if m.config.JournalRetention > 0 {
		if n, err := m.journal.PruneBefore(ctx, started.Add(-m.config.JournalRetention)); err != nil {
			logger.Warn("Failed to prune journal: %v", err)
		} else if n > 0 {
			logger.Debug("Pruned %d journal rows", n)
		}
	}
}

// IsSinkFailure reports whether err came from the notification channel.
func IsSinkFailure(err error) bool {
	return errors.Is(err, ErrSinkFailure)
}
