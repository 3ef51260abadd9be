package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"CoinWatch/internal/calculator"
	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
)

var one = decimal.NewFromInt(1)

// FormatUSD renders a price with thousands separators. Prices under one
// dollar keep six decimals so small coins stay readable.
func FormatUSD(v float64) string {
	d := decimal.NewFromFloat(v)
	places := int32(2)
	if d.Abs().LessThan(one) {
		places = 6
	}
	s := d.StringFixed(places)

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + "$" + b.String() + frac
}

func label(names map[string]model.Instrument, id string) string {
	if inst, ok := names[id]; ok {
		return fmt.Sprintf("%s (%s)", html.EscapeString(inst.Name), html.EscapeString(inst.Symbol))
	}
	return html.EscapeString(id)
}

func changeArrow(pct float64) string {
	if pct >= 0 {
		return "🟢"
	}
	return "🔴"
}

// FormatPrices formats the price list in instrument order.
func FormatPrices(instruments []model.Instrument, prices map[string]model.PriceSnapshot, stale bool) string {
	var b strings.Builder
	b.WriteString("💹 <b>Prices</b>\n\n")
	shown := 0
	for _, inst := range instruments {
		snap, ok := prices[inst.ID]
		if !ok {
			continue
		}
		shown++
		b.WriteString(fmt.Sprintf("%s <b>%s</b> %s (%+.2f%%)\n",
			changeArrow(snap.Change24hPercent), html.EscapeString(inst.Symbol), FormatUSD(snap.Price), snap.Change24hPercent))
	}
	if shown == 0 {
		b.WriteString("No prices yet.\n")
	}
	if stale {
		b.WriteString("\n⚠️ Data may be outdated.\n")
	}
	return b.String()
}

// FormatPrice formats one instrument in detail.
func FormatPrice(inst model.Instrument, snap model.PriceSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("<b>%s</b>\n\n", label(map[string]model.Instrument{inst.ID: inst}, inst.ID)))
	b.WriteString(fmt.Sprintf("Price: %s\n", FormatUSD(snap.Price)))
	b.WriteString(fmt.Sprintf("24h: %s %+.2f%%\n", changeArrow(snap.Change24hPercent), snap.Change24hPercent))
	if snap.MarketCapUSD > 0 {
		b.WriteString(fmt.Sprintf("Market cap: %s\n", FormatUSD(decimal.NewFromFloat(snap.MarketCapUSD).Round(0).InexactFloat64())))
	}
	b.WriteString(fmt.Sprintf("Updated: %s\n", time.UnixMilli(snap.ObservedAtMs).Format("2006-01-02 15:04:05")))
	return b.String()
}

// FormatChart formats chart statistics. A non-nil err marks the data as
// stale.
func FormatChart(inst model.Instrument, tf model.Timeframe, s model.ChartSummary, err *fetch.Error) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>%s</b> | %s\n\n", html.EscapeString(inst.Symbol), tf))
	b.WriteString(fmt.Sprintf("Last: %s (%+.2f%%)\n", FormatUSD(s.Last), s.ChangePercent))
	b.WriteString(fmt.Sprintf("High: %s | Low: %s\n", FormatUSD(s.High), FormatUSD(s.Low)))
	b.WriteString(fmt.Sprintf("Range position: %.0f%%\n", s.Position*100))
	b.WriteString(fmt.Sprintf("SMA%d: %s | RSI: %.0f\n", smaWindow(s.Points), FormatUSD(s.SMA), s.RSI))
	if s.TotalVolume > 0 {
		b.WriteString(fmt.Sprintf("Volume: %s\n", FormatUSD(s.TotalVolume)))
	}
	b.WriteString(fmt.Sprintf("Points: %d\n", s.Points))
	if err != nil {
		b.WriteString("\n⚠️ Showing cached data: " + FormatFetchError(err) + "\n")
	}
	return b.String()
}

func smaWindow(points int) int {
	if points < calculator.SMAPeriod {
		return points
	}
	return calculator.SMAPeriod
}

// FormatFetchError turns a classified error into a user message.
func FormatFetchError(err *fetch.Error) string {
	if err == nil {
		return ""
	}
	var msg string
	switch err.Kind {
	case fetch.KindNetwork:
		msg = "network unavailable"
	case fetch.KindTimeout:
		msg = "the request timed out"
	case fetch.KindRateLimit:
		msg = "rate limited by the pricing service"
	case fetch.KindNotFound:
		msg = "not found"
	case fetch.KindServerError:
		msg = "the pricing service is unavailable"
	case fetch.KindParseError:
		msg = "the pricing service returned unusable data"
	case fetch.KindUnknown:
		msg = html.EscapeString(err.Message)
	default:
		msg = "unexpected error"
	}
	if err.Retryable {
		msg += ", try again later"
	}
	return msg
}

// FormatAlertCreated confirms a new alert.
func FormatAlertCreated(inst model.Instrument, a model.Alert, current *model.PriceSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔔 Alert set: <b>%s</b> %s %s\n",
		html.EscapeString(inst.Symbol), a.Direction, FormatUSD(a.ThresholdPrice)))
	if current != nil {
		b.WriteString(fmt.Sprintf("Current price: %s\n", FormatUSD(current.Price)))
	}
	return b.String()
}

// FormatAlerts lists the active alerts.
func FormatAlerts(names map[string]model.Instrument, alerts []model.Alert) string {
	if len(alerts) == 0 {
		return "No active alerts."
	}
	var b strings.Builder
	b.WriteString("🔔 <b>Active alerts</b>\n\n")
	for _, a := range alerts {
		b.WriteString(fmt.Sprintf("• %s %s %s\n", label(names, a.InstrumentID), a.Direction, FormatUSD(a.ThresholdPrice)))
	}
	return b.String()
}

// FormatTriggered is the notification sent when an alert fires.
func FormatTriggered(names map[string]model.Instrument, t model.TriggeredAlert) string {
	return fmt.Sprintf("🚨 <b>Price alert</b>\n\n%s is %s %s\nPrice: %s\nAt: %s",
		label(names, t.Alert.InstrumentID),
		t.Alert.Direction,
		FormatUSD(t.Alert.ThresholdPrice),
		FormatUSD(t.TriggeredPrice),
		time.UnixMilli(t.TriggeredAtMs).Format("2006-01-02 15:04:05"),
	)
}

// FormatTriggeredList lists fired alerts, marking the unviewed ones.
func FormatTriggeredList(names map[string]model.Instrument, list []model.TriggeredAlert) string {
	if len(list) == 0 {
		return "No triggered alerts."
	}
	var b strings.Builder
	b.WriteString("🚨 <b>Triggered alerts</b>\n\n")
	for i, t := range list {
		marker := "•"
		if !t.Viewed {
			marker = "🆕"
		}
		b.WriteString(fmt.Sprintf("%d. %s %s %s %s at %s (%s)\n",
			i+1,
			marker,
			label(names, t.Alert.InstrumentID),
			t.Alert.Direction,
			FormatUSD(t.Alert.ThresholdPrice),
			FormatUSD(t.TriggeredPrice),
			time.UnixMilli(t.TriggeredAtMs).Format("01-02 15:04"),
		))
	}
	return b.String()
}

// StatusReport is the content of the /status reply.
type StatusReport struct {
	Connection          string
	Source              string
	Polling             bool
	LastFetch           time.Time
	Stale               bool
	ConsecutiveFailures int
	LastError           *fetch.Error
	ActiveAlerts        int
	UnviewedAlerts      int
	CachedCharts        int
	Notifications       bool
}

// FormatStatus formats the service status.
func FormatStatus(r StatusReport) string {
	var b strings.Builder
	b.WriteString("🩺 <b>Status</b>\n\n")
	b.WriteString(fmt.Sprintf("Connection: %s\n", r.Connection))
	b.WriteString(fmt.Sprintf("Source: %s\n", r.Source))
	b.WriteString(fmt.Sprintf("Polling: %v\n", r.Polling))
	if r.LastFetch.IsZero() {
		b.WriteString("Last update: never\n")
	} else {
		b.WriteString(fmt.Sprintf("Last update: %s", r.LastFetch.Format("2006-01-02 15:04:05")))
		if r.Stale {
			b.WriteString(" (stale)")
		}
		b.WriteString("\n")
	}
	if r.ConsecutiveFailures > 0 {
		b.WriteString(fmt.Sprintf("Failures in a row: %d\n", r.ConsecutiveFailures))
	}
	if r.LastError != nil {
		b.WriteString(fmt.Sprintf("Last error: %s\n", FormatFetchError(r.LastError)))
	}
	b.WriteString(fmt.Sprintf("Alerts: %d active, %d unviewed\n", r.ActiveAlerts, r.UnviewedAlerts))
	b.WriteString(fmt.Sprintf("Cached charts: %d\n", r.CachedCharts))
	b.WriteString(fmt.Sprintf("Notifications: %v\n", r.Notifications))
	return b.String()
}

// HelpText lists the supported commands.
const HelpText = `Commands:
/prices - all tracked prices
/price &lt;id&gt; - one instrument
/chart &lt;id&gt; [1h|24h|7d|30d|90d|1y] - chart statistics
/alert &lt;id&gt; above|below &lt;price&gt; - set an alert
/unalert &lt;id&gt; - remove an alert
/alerts - active alerts
/triggered - fired alerts (marks them viewed)
/dismiss &lt;n&gt; - remove fired alert n
/clear - clear fired alerts
/status - service status
/refresh - refresh prices now
/notify on|off - alert notifications
/timeframe &lt;tf&gt; - default chart timeframe`
