package telegram

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vov-code/polymarket-bot/internal/fetch"
	"github.com/vov-code/polymarket-bot/internal/models"
	"github.com/vov-code/polymarket-bot/internal/monitor"
	"github.com/vov-code/polymarket-bot/internal/storage"
)

var headers = map[models.SignalKind]string{
	models.KindVolumeSpike: "🔥 *Volume spike*",
	models.KindBigBuy:      "🐳 *Big move*",
	models.KindPriceChange: "⚡ *Price change*",
	models.KindNewMarket:   "🆕 *New market*",
}

// FormatSignal renders one alert as MarkdownV2. It satisfies monitor.Formatter.
func FormatSignal(meta models.MarketMeta, sig models.Signal) string {
	var b strings.Builder

	header, ok := headers[sig.Kind]
	if !ok {
		header = "*Polymarket signal*"
	}
	b.WriteString(header)
	b.WriteString("\n")

	if meta.EventTitle != "" && meta.EventTitle != meta.Title {
		fmt.Fprintf(&b, "Event: %s\n", escapeMarkdownV2(meta.EventTitle))
	}
	if meta.URL != "" {
		fmt.Fprintf(&b, "Market: [%s](%s)\n", escapeMarkdownV2(meta.Title), escapeLinkURL(meta.URL))
	} else {
		fmt.Fprintf(&b, "Market: %s\n", escapeMarkdownV2(meta.Title))
	}

	window := escapeMarkdownV2(fmt.Sprintf("%dm", int(sig.Window.Minutes())))
	switch sig.Kind {
	case models.KindVolumeSpike:
		fmt.Fprintf(&b, "💰 Volume \\(%s\\): %s\n", window, volumeLine(sig))
		if sig.Move != nil && sig.Move.Delta != 0 {
			fmt.Fprintf(&b, "Largest move: %s %s\n", escapeMarkdownV2(sig.Move.OutcomeKey), priceLine(*sig.Move))
		}
	case models.KindBigBuy, models.KindPriceChange:
		if sig.Move != nil {
			fmt.Fprintf(&b, "🎯 Outcome: %s\n", escapeMarkdownV2(sig.Move.OutcomeKey))
			fmt.Fprintf(&b, "Price \\(%s\\): %s\n", window, priceLine(*sig.Move))
		}
		fmt.Fprintf(&b, "💰 Volume \\(%s\\): %s\n", window, volumeLine(sig))
	case models.KindNewMarket:
		fmt.Fprintf(&b, "💰 Volume: %s\n", escapeMarkdownV2(usd(sig.VolumeUSD)))
		fmt.Fprintf(&b, "💧 Liquidity: %s\n", escapeMarkdownV2(usd(sig.LiquidityUSD)))
	}

	return strings.TrimRight(b.String(), "\n")
}

func volumeLine(sig models.Signal) string {
	return escapeMarkdownV2(fmt.Sprintf("%s → %s (+%s, %.1f%% of total)",
		usd(sig.FromVolumeUSD), usd(sig.ToVolumeUSD), usd(sig.VolumeDeltaUSD), sig.PctOfTotal*100))
}

func priceLine(m models.PriceMove) string {
	arrow := "📈"
	if m.Delta < 0 {
		arrow = "📉"
	}
	return escapeMarkdownV2(fmt.Sprintf("%.1f%% → %.1f%% (%s %.1fpp)",
		m.PrevPrice*100, m.CurrPrice*100, arrow, math.Abs(m.Delta)*100))
}

func usd(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return "$" + humanize.CommafWithDigits(math.Round(v), 0)
}

// FormatStatus renders the plain-text /status reply. last and recent come
// from the journal and may be empty.
func FormatStatus(st monitor.Status, route fetch.RouteState, forcedUntil time.Time, last *storage.CycleRecord, recent []storage.AlertRecord, now time.Time) string {
	meta := st.Meta
	lines := []string{
		"Status:",
		fmt.Sprintf("Tracked markets: %d", st.TrackedMarkets),
	}
	if !meta.LastScanAt.IsZero() {
		lines = append(lines,
			fmt.Sprintf("Last scan: %s (%s)", meta.LastScanAt.UTC().Format(time.DateTime), humanize.RelTime(meta.LastScanAt, now, "ago", "from now")),
			fmt.Sprintf("Last cycle: %s", meta.LastCycleDuration.Round(time.Millisecond)),
			fmt.Sprintf("Last scan markets: %d", meta.LastScanMarkets),
			fmt.Sprintf("New markets this scan: %d", meta.LastScanNewMarkets),
			fmt.Sprintf("Signals this scan: %d", meta.LastScanSignals),
			fmt.Sprintf("Alerts sent this scan: %d", meta.LastScanAlertsSent),
			fmt.Sprintf("Pruned markets this scan: %d", meta.LastScanRemovedMarkets),
		)
	} else {
		lines = append(lines, "No completed scan yet")
	}
	if !meta.Bootstrapped {
		lines = append(lines, "Bootstrap pending: new-market alerts start after the first scan")
	}
	if route == fetch.StateForcedAlternate {
		lines = append(lines, fmt.Sprintf("Route: alternate until %s", forcedUntil.UTC().Format(time.TimeOnly)))
	} else {
		lines = append(lines, "Route: direct")
	}
	if !meta.LastErrorAt.IsZero() {
		lines = append(lines, fmt.Sprintf("Last error at: %s (%s)", meta.LastErrorAt.UTC().Format(time.DateTime), humanize.RelTime(meta.LastErrorAt, now, "ago", "from now")))
		if meta.LastError != "" {
			lines = append(lines, "Last error: "+truncate(meta.LastError, 300))
		}
	}
	if last != nil {
		line := fmt.Sprintf("Journaled cycle: %s, took %s, %d alerts", humanize.RelTime(last.StartedAt, now, "ago", "from now"), last.Duration.Round(time.Millisecond), last.AlertsSent)
		if last.Error != "" {
			line += ", failed: " + truncate(last.Error, 200)
		}
		lines = append(lines, line)
	}
	if len(recent) > 0 {
		lines = append(lines, "", "Recent alerts:")
		for _, a := range recent {
			lines = append(lines, fmt.Sprintf("- %s %s: %s", humanize.RelTime(a.SentAt, now, "ago", "from now"), a.AlertKey, a.Title))
		}
	}
	return strings.Join(lines, "\n")
}
