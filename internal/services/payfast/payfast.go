package payfast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"payfast-reconciler/internal/status"
	"payfast-reconciler/models"
	"payfast-reconciler/utils"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ModeProduction = "production"
	ModeSandbox    = "sandbox"
	ModeUAT        = "uat"

	productionURL = "https://api.payfast.com"
	sandboxURL    = "https://api-preprod.payfast.com"

	DefaultCallbackURL = "http://localhost:9000"
	DefaultRedirectURL = "https://localhost:8000"

	maxMerchantIDLen    = 38
	maxTransactionIDLen = 38
	maxUserIDLen        = 36
)

var merchantUserIDPattern = regexp.MustCompile(`^[\w]+$`)

type Config struct {
	BaseURL      string `json:"baseUrl" mapstructure:"base_url"`
	Mode         string `json:"mode" mapstructure:"mode"`
	MerchantID   string `json:"merchantId" mapstructure:"merchant_id"`
	Salt         string `json:"salt" mapstructure:"salt"`
	SaltIndex    string `json:"saltIndex" mapstructure:"salt_index"`
	CallbackURL  string `json:"callbackUrl" mapstructure:"callback_url"`
	RedirectURL  string `json:"redirectUrl" mapstructure:"redirect_url"`
	RedirectMode string `json:"redirectMode" mapstructure:"redirect_mode"`

	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	EnabledDebugLogging bool `json:"enabledDebugLogging" mapstructure:"enabled_debug_logging"`
}

// ResolveBaseURL picks the gateway endpoint for mode. A non-empty override
// wins over the mode.
func ResolveBaseURL(mode, override string) (string, error) {
	if override != "" {
		return strings.TrimRight(override, "/"), nil
	}
	switch mode {
	case ModeProduction:
		return productionURL, nil
	case ModeSandbox, ModeUAT, "":
		return sandboxURL, nil
	default:
		return "", fmt.Errorf("%w: %q", status.ErrUnknownMode, mode)
	}
}

type Client struct {
	// baseURL is the base url of the PayFast api.
	baseURL string

	merchantID   string
	salt         string
	callbackURL  string
	redirectURL  string
	redirectMode string
	debug        bool

	codec *Codec

	// breaker trips on repeated transport failures.
	breaker *utils.CircuitBreaker

	// hc is the http client.
	hc *http.Client

	logger *zap.Logger
	tracer trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithCircuitBreaker(cb *utils.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New creates a PayFast gateway client.
func New(cfg *Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	baseURL, err := ResolveBaseURL(cfg.Mode, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	callbackURL := cfg.CallbackURL
	if callbackURL == "" {
		callbackURL = DefaultCallbackURL
	}
	redirectURL := cfg.RedirectURL
	if redirectURL == "" {
		redirectURL = DefaultRedirectURL
	}

	c := &Client{
		baseURL:      baseURL,
		merchantID:   cfg.MerchantID,
		salt:         cfg.Salt,
		callbackURL:  callbackURL,
		redirectURL:  redirectURL,
		redirectMode: cfg.RedirectMode,
		debug:        cfg.EnabledDebugLogging,
		codec:        NewCodec(cfg.Salt, cfg.SaltIndex),
		breaker:      utils.NewCircuitBreaker("payfast"),

		// set http client with timeout.
		hc: &http.Client{
			Timeout: timeout,
		},

		logger: logger.Named("payfast"),
		tracer: otel.Tracer("payfast-reconciler/payfast"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) BaseURL() string     { return c.baseURL }
func (c *Client) MerchantID() string  { return c.merchantID }
func (c *Client) CallbackURL() string { return c.callbackURL }
func (c *Client) Codec() *Codec       { return c.codec }

// ValidateWebhook checks an inbound base64 body against its X-VERIFY value.
func (c *Client) ValidateWebhook(data, signature, salt string) bool {
	ok := c.codec.Verify(data, signature, salt)
	c.logger.Debug("verifying webhook checksum", zap.String("received", signature), zap.Bool("valid", ok))
	return ok
}

// CreateStandardRequest builds a PAY_PAGE request for one initiation attempt.
// The transaction id is <baseTransactionID>_<attemptSeq>. Validation failures
// come back as a VALIDATION_FAILED envelope, nothing is sent.
func (c *Client) CreateStandardRequest(amount int64, baseTransactionID, customerID, mobileNumber, attemptSeq string) (*models.PaymentRequest, *models.PaymentProcessorError) {
	req := &models.PaymentRequest{
		MerchantID:            c.merchantID,
		MerchantTransactionID: fmt.Sprintf("%s_%s", baseTransactionID, attemptSeq),
		MerchantUserID:        customerID,
		Amount:                amount,
		RedirectURL:           c.redirectURL,
		RedirectMode:          c.redirectMode,
		CallbackURL:           c.callbackURL,
		MobileNumber:          mobileNumber,
		PaymentInstrument:     models.PaymentInstrument{Type: "PAY_PAGE"},
	}

	if err := ValidatePaymentRequest(req); err != nil {
		b, _ := json.Marshal(req)
		return nil, &models.PaymentProcessorError{
			Code:    status.CodeValidationFailed,
			Message: fmt.Sprintf("%s is invalid", b),
			Detail:  err.Error(),
		}
	}

	return req, nil
}

// ValidatePaymentRequest enforces the gateway's field limits.
func ValidatePaymentRequest(p *models.PaymentRequest) error {
	switch {
	case len(p.MerchantID) == 0 || len(p.MerchantID) >= maxMerchantIDLen:
		return &status.ValidationError{Field: "merchantId", Reason: "length must be 1..37"}
	case len(p.MerchantTransactionID) == 0 || len(p.MerchantTransactionID) >= maxTransactionIDLen:
		return &status.ValidationError{Field: "merchantTransactionId", Reason: "length must be 1..37"}
	case p.Amount <= 0:
		return &status.ValidationError{Field: "amount", Reason: "must be a positive integer"}
	case len(p.MerchantUserID) == 0 || len(p.MerchantUserID) >= maxUserIDLen:
		return &status.ValidationError{Field: "merchantUserId", Reason: "length must be 1..35"}
	case !merchantUserIDPattern.MatchString(p.MerchantUserID):
		return &status.ValidationError{Field: "merchantUserId", Reason: "must match [\\w]+"}
	case !strings.HasPrefix(p.RedirectURL, "http"):
		return &status.ValidationError{Field: "redirectUrl", Reason: "must start with http"}
	case p.RedirectMode == "":
		return &status.ValidationError{Field: "redirectMode", Reason: "required"}
	case p.CallbackURL == "":
		return &status.ValidationError{Field: "callbackUrl", Reason: "required"}
	}
	return nil
}
