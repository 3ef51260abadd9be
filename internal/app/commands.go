package app

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"CoinWatch/internal/alert"
	"CoinWatch/internal/calculator"
	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
	"CoinWatch/internal/notifier"
)

// HandleCommand processes a user command and returns a reply.
func (a *App) HandleCommand(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start", "/help":
		return notifier.HelpText
	case "/prices":
		return a.pricesReply()
	case "/price":
		return a.priceReply(ctx, args)
	case "/chart":
		return a.chartReply(ctx, args)
	case "/alert":
		return a.addAlertReply(ctx, args)
	case "/unalert":
		return a.removeAlertReply(ctx, args)
	case "/alerts":
		return notifier.FormatAlerts(a.names, a.alerts.Alerts())
	case "/triggered":
		list := a.alerts.Triggered()
		a.alerts.MarkAllAsViewed(ctx)
		return notifier.FormatTriggeredList(a.names, list)
	case "/dismiss":
		return a.dismissReply(ctx, args)
	case "/clear":
		a.alerts.ClearTriggered(ctx)
		return "Triggered alerts cleared."
	case "/status":
		return notifier.FormatStatus(a.Stats())
	case "/refresh":
		if err := a.prices.RefreshPrices(ctx); err != nil {
			return "❌ Refresh failed: " + notifier.FormatFetchError(fetch.Classify(err))
		}
		return a.pricesReply()
	case "/notify":
		return a.notifyReply(ctx, args)
	case "/timeframe":
		return a.timeframeReply(ctx, args)
	default:
		return "Unknown command. Send /help for the list."
	}
}

// resolve finds a tracked instrument by id or symbol.
func (a *App) resolve(arg string) (model.Instrument, bool) {
	for _, inst := range a.instruments {
		if strings.EqualFold(inst.ID, arg) || strings.EqualFold(inst.Symbol, arg) {
			return inst, true
		}
	}
	return model.Instrument{}, false
}

func unknownInstrument(arg string) string {
	return "Unknown instrument: " + html.EscapeString(arg)
}

func (a *App) pricesReply() string {
	snap := a.prices.Snapshot()
	reply := notifier.FormatPrices(a.instruments, snap.Prices, a.prices.IsStale())
	if snap.Err != nil {
		reply += "\n⚠️ Last update failed: " + notifier.FormatFetchError(snap.Err)
	}
	return reply
}

func (a *App) priceReply(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /price &lt;id&gt;"
	}
	inst, ok := a.resolve(args[0])
	if !ok {
		return unknownInstrument(args[0])
	}
	if snap, ok := a.prices.Price(inst.ID); ok {
		return notifier.FormatPrice(inst, snap)
	}

	snap, err := a.source.FetchSinglePrice(ctx, inst.ID)
	if err != nil {
		return "❌ " + notifier.FormatFetchError(fetch.Classify(err))
	}
	return notifier.FormatPrice(inst, snap)
}

func (a *App) chartReply(ctx context.Context, args []string) string {
	if len(args) < 1 || len(args) > 2 {
		return "Usage: /chart &lt;id&gt; [timeframe]"
	}
	inst, ok := a.resolve(args[0])
	if !ok {
		return unknownInstrument(args[0])
	}
	tf := a.settings.Get().DefaultTimeframe
	if len(args) == 2 {
		tf = model.Timeframe(strings.ToLower(args[1]))
		if !tf.Valid() {
			return "Unsupported timeframe: " + html.EscapeString(args[1])
		}
	}

	res := a.charts.GetChartData(ctx, inst.ID, tf)
	summary, err := calculator.Summarize(model.ChartData{Prices: res.Prices, Volumes: res.Volumes})
	if err != nil {
		if res.Err != nil {
			return "❌ " + notifier.FormatFetchError(res.Err)
		}
		return "No chart data."
	}
	return notifier.FormatChart(inst, tf, summary, res.Err)
}

func (a *App) addAlertReply(ctx context.Context, args []string) string {
	if len(args) != 3 {
		return "Usage: /alert &lt;id&gt; above|below &lt;price&gt;"
	}
	inst, ok := a.resolve(args[0])
	if !ok {
		return unknownInstrument(args[0])
	}
	direction, err := alert.ParseDirection(args[1])
	if err != nil {
		return "Direction must be above or below."
	}
	threshold, err := alert.ParseThreshold(args[2])
	if err != nil {
		return "Price must be a positive number."
	}

	created, err := a.alerts.AddAlert(ctx, inst.ID, direction, threshold)
	if err != nil {
		a.logger.Warn("add alert failed", zap.Error(err))
		return "❌ Could not set the alert."
	}
	var current *model.PriceSnapshot
	if snap, ok := a.prices.Price(inst.ID); ok {
		current = &snap
	}
	return notifier.FormatAlertCreated(inst, created, current)
}

func (a *App) removeAlertReply(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /unalert &lt;id&gt;"
	}
	inst, ok := a.resolve(args[0])
	if !ok {
		return unknownInstrument(args[0])
	}
	existing, ok := a.alerts.AlertFor(inst.ID)
	if !ok {
		return "No alert for " + html.EscapeString(inst.Symbol) + "."
	}
	if err := a.alerts.RemoveAlert(ctx, existing.ID); err != nil {
		if errors.Is(err, alert.ErrAlertNotFound) {
			return "No alert for " + html.EscapeString(inst.Symbol) + "."
		}
		return "❌ Could not remove the alert."
	}
	return "Alert for " + html.EscapeString(inst.Symbol) + " removed."
}

func (a *App) dismissReply(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /dismiss &lt;n&gt;"
	}
	list := a.alerts.Triggered()
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(list) {
		return "No triggered alert number " + html.EscapeString(args[0]) + "."
	}
	if err := a.alerts.RemoveTriggered(ctx, list[n-1].ID); err != nil {
		return "No triggered alert number " + html.EscapeString(args[0]) + "."
	}
	return "Triggered alert dismissed."
}

func (a *App) notifyReply(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /notify on|off"
	}
	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on":
		enabled = true
	case "off":
	default:
		return "Usage: /notify on|off"
	}
	if err := a.settings.SetNotifications(ctx, enabled); err != nil {
		a.logger.Warn("save settings failed", zap.Error(err))
		return "❌ Could not save the setting."
	}
	if enabled {
		return "Notifications on."
	}
	return "Notifications off."
}

func (a *App) timeframeReply(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: /timeframe &lt;tf&gt;"
	}
	tf := model.Timeframe(strings.ToLower(args[0]))
	if !tf.Valid() {
		return "Unsupported timeframe: " + html.EscapeString(args[0])
	}
	if err := a.settings.SetDefaultTimeframe(ctx, tf); err != nil {
		a.logger.Warn("save settings failed", zap.Error(err))
		return "❌ Could not save the setting."
	}
	return "Default timeframe set to " + string(tf) + "."
}
