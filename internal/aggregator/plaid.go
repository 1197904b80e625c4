// Package aggregator imports transactions from a banking aggregator (Plaid)
// through the ingestion normalizer.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dvloznov/securepath/internal/config"
	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when Plaid credentials are missing.
var ErrNotConfigured = errors.New("plaid credentials not configured")

const (
	clientName = "SecurePath Fraud Detection"
	dateLayout = "2006-01-02"
	pageSize   = 500
)

var environments = map[string]string{
	"sandbox":     "https://sandbox.plaid.com",
	"development": "https://development.plaid.com",
	"production":  "https://production.plaid.com",
}

// APIError is an error body returned by Plaid.
type APIError struct {
	Status       int    `json:"-"`
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plaid: %d %s/%s: %s", e.Status, e.ErrorType, e.ErrorCode, e.ErrorMessage)
}

// Transaction is the subset of a Plaid transaction the importer maps.
type Transaction struct {
	TransactionID   string   `json:"transaction_id"`
	Amount          float64  `json:"amount"`
	Date            string   `json:"date"`
	Name            string   `json:"name"`
	MerchantName    string   `json:"merchant_name"`
	ISOCurrencyCode string   `json:"iso_currency_code"`
	Location        Location `json:"location"`
}

// Location of a transaction, when Plaid knows it.
type Location struct {
	Country string `json:"country"`
}

// Client talks to the Plaid REST API.
type Client struct {
	http     *resty.Client
	clientID string
	secret   string
}

// NewClient creates a Client. cfg.BaseURL overrides the environment host.
func NewClient(cfg config.PlaidConfig) (*Client, error) {
	if cfg.ClientID == "" || cfg.Secret == "" {
		return nil, ErrNotConfigured
	}
	base := cfg.BaseURL
	if base == "" {
		var ok bool
		if base, ok = environments[cfg.Env]; !ok {
			return nil, fmt.Errorf("aggregator.NewClient: unknown plaid env %q", cfg.Env)
		}
	}
	http := resty.New().
		SetBaseURL(base).
		SetTimeout(30*time.Second).
		SetRetryCount(2).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, clientID: cfg.ClientID, secret: cfg.Secret}, nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]interface{}, out interface{}) error {
	body["client_id"] = c.clientID
	body["secret"] = c.secret

	var apiErr APIError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("aggregator: %s: %w", path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return &apiErr
	}
	return nil
}

// CreateLinkToken returns a Link token for the principal.
func (c *Client) CreateLinkToken(ctx context.Context, userID string) (string, error) {
	var out struct {
		LinkToken string `json:"link_token"`
	}
	err := c.post(ctx, "/link/token/create", map[string]interface{}{
		"client_name":   clientName,
		"products":      []string{"transactions"},
		"country_codes": []string{"US"},
		"language":      "en",
		"user":          map[string]string{"client_user_id": userID},
	}, &out)
	if err != nil {
		return "", err
	}
	return out.LinkToken, nil
}

// ExchangePublicToken trades a Link public token for an item access token.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := c.post(ctx, "/item/public_token/exchange", map[string]interface{}{
		"public_token": publicToken,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Transactions returns every transaction between start and end inclusive,
// following Plaid's offset pagination.
func (c *Client) Transactions(ctx context.Context, accessToken string, start, end time.Time) ([]Transaction, error) {
	var all []Transaction
	for {
		var page struct {
			Transactions      []Transaction `json:"transactions"`
			TotalTransactions int           `json:"total_transactions"`
		}
		err := c.post(ctx, "/transactions/get", map[string]interface{}{
			"access_token": accessToken,
			"start_date":   start.Format(dateLayout),
			"end_date":     end.Format(dateLayout),
			"options":      map[string]int{"count": pageSize, "offset": len(all)},
		}, &page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Transactions...)
		if len(page.Transactions) == 0 || len(all) >= page.TotalTransactions {
			return all, nil
		}
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
