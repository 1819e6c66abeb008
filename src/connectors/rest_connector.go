package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// RestConnector talks to sequence-authenticated derivatives exchanges over
// signed REST. Signing: HMAC-SHA512 over sha256(body + sequence + path) with
// the base64-decoded secret; the sequence value travels in its own header,
// which is why callers must hold the call lock across the entire request.
type RestConnector struct {
	name      string
	apiKey    string
	apiSecret string // base64-encoded
	http      *resty.Client
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewRestConnector(name, apiKey, apiSecret, baseURL string) *RestConnector {
	cfg := GetConfig()

	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.RetryAttempts - 1).
		SetRetryWaitTime(cfg.RetryBaseDelay).
		SetRetryMaxWaitTime(cfg.RetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &RestConnector{
		name:      name,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      httpClient,
	}
}

func (c *RestConnector) Name() string {
	return c.name
}

// computeAuthent signs one request:
//  1. message = body + sequence + path
//  2. sha256(message)
//  3. hmac-sha512(base64-decoded secret, digest)
//  4. base64 encode
func computeAuthent(body, sequence, path, apiSecretB64 string) (string, error) {
	msg := body + sequence + path

	sum := sha256.Sum256([]byte(msg))

	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

type baseResp struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// sequenceRejected recognizes the exchange's stale-counter rejections.
// Those are terminal for the call: the same value must never be resent.
func sequenceRejected(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "nonce") || strings.Contains(m, "sequence") || strings.Contains(m, "invalidauth")
}

// SignAndSend executes one signed request. Transient transport failures are
// retried by the underlying client; sequence rejections surface as
// ErrStaleSequence and are never retried here.
func (c *RestConnector) SignAndSend(ctx context.Context, method, path string, body []byte, sequence int64) ([]byte, error) {
	seq := strconv.FormatInt(sequence, 10)

	authent, err := computeAuthent(string(body), seq, path, c.apiSecret)
	if err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("APIKey", c.apiKey).
		SetHeader("Sequence", seq).
		SetHeader("Authent", authent)

	if len(body) > 0 {
		req = req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		logger.WithFields(map[string]interface{}{
			"exchange": c.name,
			"path":     path,
			"sequence": sequence,
		}).Error("request rejected by exchange authentication")
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrStaleSequence, resp.StatusCode(), string(raw))
	}

	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	// Some exchanges return HTTP 200 even on errors, with
	// {result:"error", error:"..."}.
	var base baseResp
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w. raw=%s", err, string(raw))
	}
	if strings.EqualFold(base.Result, "error") {
		if sequenceRejected(base.Error) {
			return nil, fmt.Errorf("%w: %s", ErrStaleSequence, base.Error)
		}
		return nil, fmt.Errorf("%s error: %s", c.name, base.Error)
	}

	return raw, nil
}

type sendOrderResponse struct {
	Result string `json:"result"`
	Order  struct {
		OrderID     string  `json:"order_id"`
		FilledPrice float64 `json:"filled_price"`
		FilledSize  float64 `json:"filled_size"`
		Status      string  `json:"status"`
	} `json:"order"`
}

// PlaceMarketOrder submits a market order and returns the confirmed fill.
func (c *RestConnector) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity decimal.Decimal, sequence int64) (*OrderResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"orderType": "mkt",
		"symbol":    symbol,
		"side":      side,
		"size":      quantity.String(),
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.SignAndSend(ctx, "POST", "/api/v3/sendorder", payload, sequence)
	if err != nil {
		return nil, err
	}

	var resp sendOrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("json unmarshal sendorder failed: %w. raw=%s", err, string(raw))
	}

	return &OrderResult{
		OrderID:        resp.Order.OrderID,
		FilledPrice:    decimal.NewFromFloat(resp.Order.FilledPrice),
		FilledQuantity: decimal.NewFromFloat(resp.Order.FilledSize),
		Status:         resp.Order.Status,
	}, nil
}

type openOrdersResponse struct {
	OpenOrders []struct {
		OrderID      string  `json:"order_id"`
		Symbol       string  `json:"symbol"`
		Side         string  `json:"side"`
		LimitPrice   float64 `json:"limitPrice"`
		UnfilledSize float64 `json:"unfilledSize"`
		Status       string  `json:"status"`
	} `json:"openOrders"`
}

func (c *RestConnector) GetOpenOrders(ctx context.Context) ([]RawOrder, error) {
	raw, err := c.doPublic(ctx, "GET", "/api/v3/openorders")
	if err != nil {
		return nil, err
	}

	var resp openOrdersResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("json unmarshal openorders failed: %w", err)
	}

	orders := make([]RawOrder, 0, len(resp.OpenOrders))
	for _, o := range resp.OpenOrders {
		orders = append(orders, RawOrder{
			OrderID:  o.OrderID,
			Symbol:   o.Symbol,
			Side:     o.Side,
			Price:    decimal.NewFromFloat(o.LimitPrice),
			Quantity: decimal.NewFromFloat(o.UnfilledSize),
			Status:   o.Status,
		})
	}
	return orders, nil
}

type openPositionsResponse struct {
	OpenPositions []struct {
		Symbol string  `json:"symbol"`
		Side   string  `json:"side"`
		Size   float64 `json:"size"`
		Price  float64 `json:"price"`
	} `json:"openPositions"`
}

func (c *RestConnector) GetPositions(ctx context.Context) ([]RawPosition, error) {
	raw, err := c.doPublic(ctx, "GET", "/api/v3/openpositions")
	if err != nil {
		return nil, err
	}

	var resp openPositionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("json unmarshal openpositions failed: %w", err)
	}

	positions := make([]RawPosition, 0, len(resp.OpenPositions))
	for _, p := range resp.OpenPositions {
		positions = append(positions, RawPosition{
			Symbol:          p.Symbol,
			Side:            p.Side,
			Quantity:        decimal.NewFromFloat(p.Size),
			EntryPrice:      decimal.NewFromFloat(p.Price),
			EntryPriceKnown: p.Price > 0,
		})
	}
	return positions, nil
}

type tickerResponse struct {
	Ticker struct {
		Symbol string  `json:"symbol"`
		Last   float64 `json:"last"`
	} `json:"ticker"`
	Error string `json:"error,omitempty"`
}

func (c *RestConnector) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := c.doPublic(ctx, "GET", "/api/v3/tickers/"+symbol)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown symbol") {
			return decimal.Zero, ErrUnsupportedSymbol
		}
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	var resp tickerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad ticker payload", ErrPriceUnavailable)
	}

	if resp.Ticker.Last <= 0 {
		return decimal.Zero, ErrPriceUnavailable
	}

	return decimal.NewFromFloat(resp.Ticker.Last), nil
}

func (c *RestConnector) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	payload, err := json.Marshal(map[string]string{"order_id": orderID})
	if err != nil {
		return false, err
	}

	// Cancels are signed but carry no sequence on this dialect.
	raw, err := c.SignAndSend(ctx, "POST", "/api/v3/cancelorder", payload, 0)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return false, nil
		}
		return false, err
	}

	var resp baseResp
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, err
	}
	return !strings.EqualFold(resp.Result, "error"), nil
}

type balanceResponse struct {
	Account struct {
		Available float64 `json:"available"`
	} `json:"account"`
}

func (c *RestConnector) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.doPublic(ctx, "GET", "/api/v3/accounts")
	if err != nil {
		return decimal.Zero, err
	}

	var resp balanceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("json unmarshal accounts failed: %w", err)
	}

	return decimal.NewFromFloat(resp.Account.Available), nil
}

// doPublic executes a read-only request. These endpoints authenticate with
// the API key alone and do not consume a sequence value.
func (c *RestConnector) doPublic(ctx context.Context, method, path string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("APIKey", c.apiKey).
		Execute(method, path)
	if err != nil {
		return nil, err
	}

	raw := resp.Body()
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw))
	}

	var base baseResp
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("json unmarshal failed: %w. raw=%s", err, string(raw))
	}
	if strings.EqualFold(base.Result, "error") {
		return nil, fmt.Errorf("%s error: %s", c.name, base.Error)
	}

	return raw, nil
}
