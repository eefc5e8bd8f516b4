package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vov-code/polymarket-bot/internal/logger"
	"github.com/vov-code/polymarket-bot/internal/models"
	"github.com/vov-code/polymarket-bot/internal/state"
	"github.com/vov-code/polymarket-bot/internal/storage"
)

// ErrSinkFailure marks a cycle whose alert dispatch stopped because the
// notification channel failed.
var ErrSinkFailure = errors.New("notification sink failed")

// Notifier delivers pre-rendered alert text.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Formatter renders one signal for the notifier.
type Formatter func(meta models.MarketMeta, sig models.Signal) string

// Journal records delivered alerts and cycle summaries. *storage.Storage
// implements it.
type Journal interface {
	RecordAlert(ctx context.Context, a storage.AlertRecord) error
	RecordCycle(ctx context.Context, c storage.CycleRecord) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Rank orders signals by descending score and keeps at most limit of them.
// A limit below one is treated as one.
func Rank(signals []models.Signal, limit int) []models.Signal {
	if len(signals) == 0 {
		return nil
	}
	ranked := make([]models.Signal, len(signals))
	copy(ranked, signals)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked[:min(max(1, limit), len(ranked))]
}

// dispatch sends the selected signals that are not cooling down. It stops at
// the first notifier failure; alerts already sent stay sent.
func (m *Monitor) dispatch(ctx context.Context, selected []models.Signal, now time.Time) (int, error) {
	sent := 0
	for _, sig := range selected {
		entry := m.store.Markets[sig.MarketID]
		if entry == nil {
			continue
		}
		key := sig.AlertKey()
		if !state.ShouldAlert(entry, key, now, m.config.Cooldown) {
			logger.Debug("Cooldown active for %s %s", sig.MarketID, key)
			continue
		}

		if err := m.notifier.Notify(ctx, m.format(entry.Meta, sig)); err != nil {
			return sent, fmt.Errorf("%w: %w", ErrSinkFailure, err)
		}
		sent++
		logger.Info("Alert sent: %s %s (score %.2f)", sig.MarketID, key, sig.Score)

		if m.journal != nil {
			rec := storage.AlertRecord{
				MarketID: sig.MarketID,
				Kind:     string(sig.Kind),
				AlertKey: key,
				Title:    entry.Meta.Title,
				URL:      entry.Meta.URL,
				Score:    sig.Score,
				SentAt:   now,
			}
			if err := m.journal.RecordAlert(ctx, rec); err != nil {
				logger.Warn("Failed to journal alert for %s: %v", sig.MarketID, err)
			}
		}
	}
	return sent, nil
}
