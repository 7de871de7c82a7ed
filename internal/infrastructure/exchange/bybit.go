package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_gc_bot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"
)

// BybitAdapter implements domain.Exchange against the Bybit V5 API.
// REST calls share a rate limiter; the WebSocket feed streams public
// trades to registered callbacks.
type BybitAdapter struct {
	apiKey         string
	apiSecret      string
	baseURL        string
	wsURL          string
	category       string
	client         *http.Client
	limiter        *rate.Limiter
	logger         *zap.Logger
	wsConn         *websocket.Conn
	tradeCallbacks []func(symbol string, side string, size float64, price float64)
	mu             sync.Mutex
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		category:  "spot",
		client:    &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		logger:    logger,
	}
}

// Name identifies the venue. Callers must match it against the
// configured exchange id rather than assuming a default.
func (b *BybitAdapter) Name() string { return "bybit" }

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

func (b *BybitAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	path := "/v5/market/tickers?category=" + b.category + "&symbol=" + symbol
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if len(result.Result.List) == 0 {
		return 0, fmt.Errorf("symbol %s not found", symbol)
	}
	return strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
}

// GetCandles fetches klines, returned oldest first with UTC close
// times. Bybit reports the bar start time and newest-first ordering.
func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	path := fmt.Sprintf("/v5/market/kline?category=%s&symbol=%s&interval=%s&limit=%d", b.category, symbol, interval, limit)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline error: %s", result.RetMsg)
	}

	period, err := intervalDuration(interval)
	if err != nil {
		return nil, err
	}

	var candles []domain.Candle
	for _, raw := range result.Result.List {
		// Format: [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		open, _ := strconv.ParseFloat(raw[1], 64)
		high, _ := strconv.ParseFloat(raw[2], 64)
		low, _ := strconv.ParseFloat(raw[3], 64)
		closePrice, _ := strconv.ParseFloat(raw[4], 64)
		volume, _ := strconv.ParseFloat(raw[5], 64)

		candles = append(candles, domain.Candle{
			Time:   time.UnixMilli(ts).UTC().Add(period),
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}

	// Reverse to chronological (oldest -> newest).
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// GetMarketConstraints reads the lot-size filter for a symbol.
func (b *BybitAdapter) GetMarketConstraints(ctx context.Context, symbol string) (domain.MarketConstraints, error) {
	path := fmt.Sprintf("/v5/market/instruments-info?category=%s&symbol=%s", b.category, symbol)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.MarketConstraints{}, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol        string `json:"symbol"`
				LotSizeFilter struct {
					MinOrderQty string `json:"minOrderQty"`
					BasePrecis  string `json:"basePrecision"`
					QtyStep     string `json:"qtyStep"`
				} `json:"lotSizeFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return domain.MarketConstraints{}, err
	}
	if result.RetCode != 0 {
		return domain.MarketConstraints{}, fmt.Errorf("bybit instruments error: %s", result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return domain.MarketConstraints{}, fmt.Errorf("symbol %s not found", symbol)
	}

	filter := result.Result.List[0].LotSizeFilter
	minQty, _ := strconv.ParseFloat(filter.MinOrderQty, 64)
	step, _ := strconv.ParseFloat(filter.QtyStep, 64)
	if step == 0 {
		step, _ = strconv.ParseFloat(filter.BasePrecis, 64)
	}
	return domain.MarketConstraints{MinQty: minQty, QtyStep: step}, nil
}

// PlaceMarketOrder submits a market order and reads back the fill.
func (b *BybitAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (*domain.ExchangeFill, error) {
	bybitSide := "Buy"
	if side == domain.SideSell {
		bybitSide = "Sell"
	}
	payload := map[string]interface{}{
		"category":    b.category,
		"symbol":      symbol,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"timeInForce": "IOC",
	}

	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", payload)
	if err != nil {
		return nil, err
	}

	var created struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &created); err != nil {
		return nil, err
	}
	if created.RetCode != 0 {
		return nil, fmt.Errorf("bybit order error: %s", created.RetMsg)
	}

	fill, err := b.fetchFill(ctx, symbol, created.Result.OrderID)
	if err != nil {
		// The order is live on the exchange even though we could not
		// confirm it; the caller reconciles on the next cycle.
		b.logger.Error("order submitted but fill fetch failed",
			zap.String("order_id", created.Result.OrderID), zap.Error(err))
		return nil, err
	}
	return fill, nil
}

// fetchFill polls the order until the exchange reports execution.
func (b *BybitAdapter) fetchFill(ctx context.Context, symbol, orderID string) (*domain.ExchangeFill, error) {
	path := fmt.Sprintf("/v5/order/realtime?category=%s&symbol=%s&orderId=%s", b.category, symbol, orderID)

	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}

		resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}

		var result struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				List []struct {
					OrderStatus string `json:"orderStatus"`
					AvgPrice    string `json:"avgPrice"`
					CumExecQty  string `json:"cumExecQty"`
					CumExecFee  string `json:"cumExecFee"`
				} `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return nil, err
		}
		if result.RetCode != 0 {
			return nil, fmt.Errorf("bybit order query error: %s", result.RetMsg)
		}
		if len(result.Result.List) == 0 {
			continue
		}

		raw := result.Result.List[0]
		switch raw.OrderStatus {
		case "Filled", "PartiallyFilledCanceled":
			avg, _ := strconv.ParseFloat(raw.AvgPrice, 64)
			filled, _ := strconv.ParseFloat(raw.CumExecQty, 64)
			fee, _ := strconv.ParseFloat(raw.CumExecFee, 64)
			return &domain.ExchangeFill{OrderID: orderID, FilledQty: filled, AvgPrice: avg, Fee: fee}, nil
		case "Rejected", "Cancelled":
			return nil, fmt.Errorf("order %s %s", orderID, strings.ToLower(raw.OrderStatus))
		}
	}
	return nil, fmt.Errorf("order %s not confirmed filled", orderID)
}

// --- WebSocket ---

func (b *BybitAdapter) OnTradeUpdate(callback func(symbol string, side string, size float64, price float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradeCallbacks = append(b.tradeCallbacks, callback)
}

func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
		if err != nil {
			return err
		}
		b.wsConn = c
		go b.readLoop(c)
	}
	return b.subscribe(symbols)
}

func (b *BybitAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "publicTrade." + s
	}
	return b.wsConn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("websocket read error", zap.Error(err))
			return
		}

		var msg struct {
			Topic string `json:"topic"`
			Data  []struct {
				Symbol string `json:"s"`
				Side   string `json:"S"`
				Size   string `json:"v"`
				Price  string `json:"p"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if !strings.HasPrefix(msg.Topic, "publicTrade.") {
			continue
		}

		b.mu.Lock()
		callbacks := make([]func(string, string, float64, float64), len(b.tradeCallbacks))
		copy(callbacks, b.tradeCallbacks)
		b.mu.Unlock()

		for _, trade := range msg.Data {
			price, _ := strconv.ParseFloat(trade.Price, 64)
			size, _ := strconv.ParseFloat(trade.Size, 64)
			for _, cb := range callbacks {
				cb(trade.Symbol, trade.Side, size, price)
			}
		}
	}
}

func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "D":
		return 24 * time.Hour, nil
	case "W":
		return 7 * 24 * time.Hour, nil
	default:
		minutes, err := strconv.Atoi(interval)
		if err != nil {
			return 0, fmt.Errorf("unsupported kline interval %q", interval)
		}
		return time.Duration(minutes) * time.Minute, nil
	}
}
