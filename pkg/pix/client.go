package pix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/promptcraft-backend/pkg/config"
	"github.com/angelmondragon/promptcraft-backend/pkg/logger"
)

const (
	paymentMethodPix  = "pix"
	expirationLayout  = "2006-01-02T15:04:05.000-07:00"
	maxErrorBodyBytes = 4 << 10
)

var (
	errAccessTokenRequired   = errors.New("pix access token is required")
	errWebhookSecretRequired = errors.New("pix webhook secret is required")
	errLoggerRequired        = errors.New("pix logger is required")
)

// Client talks to the PIX provider's payments API with centralized auth,
// logging, idempotency and error mapping.
type Client struct {
	http               *http.Client
	baseURL            string
	accessToken        string
	webhookSecret      string
	notificationURL    string
	expiration         time.Duration
	signatureTolerance time.Duration
	logger             *logger.Logger
	now                func() time.Time
}

// NewClient validates credentials and builds the provider client.
func NewClient(ctx context.Context, cfg config.PixConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid pix base url: %w", err)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	c := &Client{
		http:               &http.Client{Timeout: timeout},
		baseURL:            baseURL,
		accessToken:        accessToken,
		webhookSecret:      webhookSecret,
		notificationURL:    strings.TrimSpace(cfg.NotificationURL),
		expiration:         cfg.Expiration(),
		signatureTolerance: cfg.SignatureTolerance,
		logger:             logg,
		now:                time.Now,
	}
	logg.Info(ctx, "pix client initialized")
	return c, nil
}

// CreatePaymentParams describes a PIX charge.
type CreatePaymentParams struct {
	IdempotencyKey    string
	Amount            decimal.Decimal
	Description       string
	PayerEmail        string
	ExternalReference string
}

type paymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	ExternalReference string      `json:"external_reference"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	DateOfExpiration  string      `json:"date_of_expiration"`
	Payer             payer       `json:"payer"`
}

type payer struct {
	Email string `json:"email"`
}

// Payment is the subset of the provider payment resource the ledger needs.
type Payment struct {
	ID                 json.Number        `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	ExternalReference  string             `json:"external_reference"`
	TransactionAmount  decimal.Decimal    `json:"transaction_amount"`
	DateOfExpiration   string             `json:"date_of_expiration"`
	PointOfInteraction pointOfInteraction `json:"point_of_interaction"`
}

type pointOfInteraction struct {
	TransactionData transactionData `json:"transaction_data"`
}

type transactionData struct {
	QRCode       string `json:"qr_code"`
	QRCodeBase64 string `json:"qr_code_base64"`
	TicketURL    string `json:"ticket_url"`
}

// PaymentID returns the provider id as a string.
func (p *Payment) PaymentID() string {
	if p == nil {
		return ""
	}
	return p.ID.String()
}

// QRPayload returns the copy-and-paste PIX code.
func (p *Payment) QRPayload() string {
	if p == nil {
		return ""
	}
	return p.PointOfInteraction.TransactionData.QRCode
}

func (p *Payment) TicketURL() string {
	if p == nil {
		return ""
	}
	return p.PointOfInteraction.TransactionData.TicketURL
}

// ExpiresAt parses the provider expiration timestamp; zero when absent.
func (p *Payment) ExpiresAt() time.Time {
	if p == nil || p.DateOfExpiration == "" {
		return time.Time{}
	}
	for _, layout := range []string{expirationLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, p.DateOfExpiration); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// NewIdempotencyKey returns a unique key for provider write operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "pc"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// Expiration reports how long new charges stay payable.
func (c *Client) Expiration() time.Duration {
	if c == nil {
		return 0
	}
	return c.expiration
}

func (c *Client) CreatePayment(ctx context.Context, params CreatePaymentParams) (*Payment, error) {
	if !params.Amount.IsPositive() {
		return nil, &GatewayError{Op: "create_payment", Err: errors.New("amount must be positive")}
	}
	key := c.ensureIdempotencyKey("payment.create", params.IdempotencyKey)
	body := paymentRequest{
		TransactionAmount: json.Number(params.Amount.StringFixed(2)),
		Description:       params.Description,
		PaymentMethodID:   paymentMethodPix,
		ExternalReference: params.ExternalReference,
		NotificationURL:   c.notificationURL,
		DateOfExpiration:  c.now().Add(c.expiration).Format(expirationLayout),
		Payer:             payer{Email: params.PayerEmail},
	}
	c.log(ctx, "request", "create_payment", map[string]any{
		"external_reference": params.ExternalReference,
		"amount":             body.TransactionAmount,
		"payer_email":        params.PayerEmail,
	})

	var payment Payment
	if err := c.do(ctx, "create_payment", http.MethodPost, "/v1/payments", key, body, &payment); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_payment", map[string]any{
		"payment_id": payment.PaymentID(),
		"status":     payment.Status,
	})
	return &payment, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, &GatewayError{Op: "get_payment", StatusCode: http.StatusNotFound, Err: errors.New("payment id is required")}
	}
	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})

	var payment Payment
	if err := c.do(ctx, "get_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), "", nil, &payment); err != nil {
		return nil, err
	}
	c.log(ctx, "response", "get_payment", map[string]any{
		"payment_id": payment.PaymentID(),
		"status":     payment.Status,
	})
	return &payment, nil
}

func (c *Client) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return &GatewayError{Op: op, Err: err}
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log(ctx, "error", op, map[string]any{"error": err.Error()})
		return &GatewayError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := newStatusError(op, resp)
		c.log(ctx, "error", op, map[string]any{"error": gwErr.Error(), "status_code": resp.StatusCode})
		return gwErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("pix %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("pix %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "email", "document", "qr_code"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
