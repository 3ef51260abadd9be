package collector

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"CoinWatch/internal/fetch"
	"CoinWatch/internal/model"
)

// DefaultBaseURL is the public CoinGecko v3 API.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// CoinGeckoSource implements Source against a CoinGecko-compatible API.
// It never retries on its own; retries belong to the fetch client.
type CoinGeckoSource struct {
	BaseURL string
	IDs     []string
	Client  *fetch.Client

	now    func() time.Time
	logger *zap.Logger
}

// NewCoinGeckoSource creates a source for the given instrument IDs.
func NewCoinGeckoSource(baseURL string, ids []string, client *fetch.Client, logger *zap.Logger) *CoinGeckoSource {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoinGeckoSource{
		BaseURL: strings.TrimRight(baseURL, "/"),
		IDs:     ids,
		Client:  client,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "coingecko")),
	}
}

func (s *CoinGeckoSource) Name() string { return "coingecko" }

// simplePrice is one entry of the /simple/price response.
type simplePrice = map[string]interface{}

func (s *CoinGeckoSource) priceURL(ids []string) string {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")
	q.Set("include_market_cap", "true")
	return s.BaseURL + "/simple/price?" + q.Encode()
}

// fetchSimplePrice returns the entries that are JSON objects; anything else
// is treated like a missing entry.
func (s *CoinGeckoSource) fetchSimplePrice(ctx context.Context, ids []string) (map[string]simplePrice, error) {
	var body map[string]interface{}
	if err := s.Client.FetchJSON(ctx, s.priceURL(ids), &body); err != nil {
		return nil, err
	}
	entries := make(map[string]simplePrice, len(body))
	for id, v := range body {
		if entry, ok := v.(map[string]interface{}); ok {
			entries[id] = entry
		}
	}
	return entries, nil
}

// toSnapshot validates one price entry. ok is false when the price is
// missing, non-numeric, non-finite or not positive.
func toSnapshot(id string, entry simplePrice, observedAtMs int64) (model.PriceSnapshot, bool) {
	price, ok := toFloat(entry["usd"])
	if !ok || price <= 0 {
		return model.PriceSnapshot{}, false
	}
	change, _ := toFloat(entry["usd_24h_change"])
	marketCap, ok := toFloat(entry["usd_market_cap"])
	if !ok || marketCap < 0 {
		marketCap = 0
	}
	return model.PriceSnapshot{
		InstrumentID:     id,
		Price:            price,
		Change24hPercent: change,
		MarketCapUSD:     marketCap,
		ObservedAtMs:     observedAtMs,
	}, true
}

// FetchPrices fetches all tracked instruments in one request. Invalid
// entries are dropped; a response with no valid entry is a PARSE_ERROR.
func (s *CoinGeckoSource) FetchPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	if len(s.IDs) == 0 {
		return nil, &fetch.Error{Kind: fetch.KindUnknown, Message: "no instruments configured"}
	}

	body, err := s.fetchSimplePrice(ctx, s.IDs)
	if err != nil {
		return nil, err
	}

	observedAt := s.now().UnixMilli()
	snapshots := make([]model.PriceSnapshot, 0, len(s.IDs))
	for _, id := range s.IDs {
		entry, ok := body[id]
		if !ok {
			continue
		}
		snap, ok := toSnapshot(id, entry, observedAt)
		if !ok {
			s.logger.Debug("dropping invalid price entry", zap.String("id", id))
			continue
		}
		snapshots = append(snapshots, snap)
	}
	if len(snapshots) == 0 {
		return nil, fetch.NewError(fetch.KindParseError, "no valid prices in response", nil)
	}
	return snapshots, nil
}

// FetchSinglePrice fetches one instrument. A missing ID is NOT_FOUND.
func (s *CoinGeckoSource) FetchSinglePrice(ctx context.Context, id string) (model.PriceSnapshot, error) {
	body, err := s.fetchSimplePrice(ctx, []string{id})
	if err != nil {
		return model.PriceSnapshot{}, err
	}
	entry, ok := body[id]
	if !ok {
		return model.PriceSnapshot{}, fetch.NewError(fetch.KindNotFound, fmt.Sprintf("no price for %q", id), nil)
	}
	snap, ok := toSnapshot(id, entry, s.now().UnixMilli())
	if !ok {
		return model.PriceSnapshot{}, fetch.NewError(fetch.KindParseError, fmt.Sprintf("invalid price for %q", id), nil)
	}
	return snap, nil
}

// marketChart is the /coins/{id}/market_chart response. Points stay
// untyped so one malformed pair does not reject the whole document.
type marketChart struct {
	Prices       []interface{} `json:"prices"`
	TotalVolumes []interface{} `json:"total_volumes"`
}

// FetchChartSeries fetches and sanitizes the price and volume series of
// id over tf. The 1h timeframe is cut from the one-day series.
func (s *CoinGeckoSource) FetchChartSeries(ctx context.Context, id string, tf model.Timeframe) (model.ChartData, error) {
	days, ok := tf.Days()
	if !ok {
		return model.ChartData{}, &fetch.Error{
			Kind:    fetch.KindUnknown,
			Message: fmt.Sprintf("unsupported timeframe %q", tf),
		}
	}

	q := url.Values{}
	q.Set("vs_currency", "usd")
	q.Set("days", days)
	u := fmt.Sprintf("%s/coins/%s/market_chart?%s", s.BaseURL, url.PathEscape(id), q.Encode())

	var body marketChart
	if err := s.Client.FetchJSON(ctx, u, &body); err != nil {
		return model.ChartData{}, err
	}

	data := model.ChartData{
		Prices:  SanitizeSeries(body.Prices, false),
		Volumes: SanitizeSeries(body.TotalVolumes, true),
	}
	if tf == model.Timeframe1H {
		since := s.now().UnixMilli() - oneHourMs
		data.Prices = filterSince(data.Prices, since)
		data.Volumes = filterSince(data.Volumes, since)
	}
	if len(data.Prices) == 0 {
		return model.ChartData{}, fetch.NewError(fetch.KindParseError,
			fmt.Sprintf("no valid chart points for %s %s", id, tf), nil)
	}
	return data, nil
}
