// Package catalog предоставляет клиент для внешнего каталога предложений (quotes) и запросов (RFQ).
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mmeshcher/marketplace-orders/internal/model"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ErrNotConfigured возвращается, если адрес каталога не задан.
var ErrNotConfigured = errors.New("catalog client not configured")

// RateLimitError возвращается при ответе 429 от каталога.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("catalog rate limited, retry after %s", e.RetryAfter)
}

// Client инкапсулирует HTTP-взаимодействие с каталогом предложений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// quoteResponse описывает ответ каталога по одному предложению.
type quoteResponse struct {
	ID          string          `json:"id"`
	RFQID       string          `json:"rfqId"`
	ClientID    string          `json:"clientId"`
	ProviderID  string          `json:"providerId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 2
)

// NewClient создаёт HTTP-клиент для обращения к каталогу по указанному адресу.
// Ошибки соединения и ответы 5xx повторяются, 429 возвращается вызывающему как RateLimitError.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = maxRetries
	rc.RetryWaitMin = 50 * time.Millisecond
	rc.RetryWaitMax = 500 * time.Millisecond
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	httpClient := rc.StandardClient()
	httpClient.Timeout = requestTimeout

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
	}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func checkStatus(resp *http.Response, notFound string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", model.ErrNotFound, notFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

// GetQuote возвращает данные предложения, из которых создаётся заказ.
func (c *Client) GetQuote(ctx context.Context, quoteID string) (*model.Quote, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/quotes/"+url.PathEscape(quoteID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "quote "+quoteID); err != nil {
		return nil, err
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if q.ID == "" {
		q.ID = quoteID
	}

	return &model.Quote{
		ID:          q.ID,
		RFQID:       q.RFQID,
		ClientID:    q.ClientID,
		ProviderID:  q.ProviderID,
		Title:       q.Title,
		Description: q.Description,
		Amount:      q.Amount,
		Currency:    q.Currency,
	}, nil
}

// MarkAccepted сообщает каталогу, что по предложению создан заказ.
func (c *Client) MarkAccepted(ctx context.Context, quoteID, orderID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/quotes/"+url.PathEscape(quoteID)+"/accept",
		map[string]string{"orderId": orderID})
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp, "quote "+quoteID)
}
