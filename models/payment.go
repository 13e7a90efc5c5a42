package models

import (
	"github.com/shopspring/decimal"
)

type PaymentInstrument struct {
	Type string `json:"type"` // PAY_PAGE, UPI_COLLECT, UPI_QR
	VPA  string `json:"vpa,omitempty"`
}

// PaymentRequest is the payload posted to /pg/v1/pay. It is built once per
// initiation attempt and never mutated afterwards.
type PaymentRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     PaymentInstrument `json:"paymentInstrument"`
}

type TransactionIdentifier struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type PaymentResponseData struct {
	MerchantID            string         `json:"merchantId"`
	MerchantTransactionID string         `json:"merchantTransactionId"`
	TransactionID         string         `json:"transactionId,omitempty"`
	Amount                int64          `json:"amount,omitempty"`
	State                 string         `json:"state,omitempty"`
	InstrumentResponse    map[string]any `json:"instrumentResponse,omitempty"`
	Customer              *Customer      `json:"customer,omitempty"`
}

func (d *PaymentResponseData) Identifier() TransactionIdentifier {
	if d == nil {
		return TransactionIdentifier{}
	}
	return TransactionIdentifier{
		MerchantID:            d.MerchantID,
		MerchantTransactionID: d.MerchantTransactionID,
	}
}

// PaymentResponse is what /pg/v1/pay answers. The same shape is used for the
// locally built "awaiting confirmation" placeholder.
type PaymentResponse struct {
	Success bool                 `json:"success"`
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Data    *PaymentResponseData `json:"data,omitempty"`
}

type PaymentCheckStatusResponse struct {
	Success bool                 `json:"success"`
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Data    *PaymentResponseData `json:"data,omitempty"`
}

type RefundRequest struct {
	MerchantID            string `json:"merchantId"`
	MerchantUserID        string `json:"merchantUserId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	Amount                int64  `json:"amount"`
	CallbackURL           string `json:"callbackUrl"`
}

type RefundResponse struct {
	Success bool                 `json:"success"`
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Data    *PaymentResponseData `json:"data,omitempty"`
}

type VPARequest struct {
	MerchantID string `json:"merchantId"`
	VPA        string `json:"vpa"`
}

type VPAResult struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		VPA  string `json:"vpa"`
		Name string `json:"name,omitempty"`
	} `json:"data"`
}

// SessionData is the record the host keeps between calls. It carries the
// last known gateway response plus the customer it belongs to.
type SessionData struct {
	Success  bool                 `json:"success"`
	Code     string               `json:"code"`
	Message  string               `json:"message"`
	Data     *PaymentResponseData `json:"data,omitempty"`
	Customer *Customer            `json:"customer,omitempty"`

	// ReadyToPay tells initiate to post to the gateway instead of returning
	// the awaiting-confirmation placeholder.
	ReadyToPay bool `json:"readyToPay,omitempty"`

	// MerchantTransactionID is the host supplied base transaction id.
	MerchantTransactionID string `json:"merchantTransactionId,omitempty"`
}

// PaymentContext is what the host passes to initiate and update.
type PaymentContext struct {
	Email        string          `json:"email"`
	CurrencyCode string          `json:"currency_code"`
	Amount       decimal.Decimal `json:"amount"`
	ResourceID   string          `json:"resource_id"`
	Customer     *Customer       `json:"customer,omitempty"`
	SessionData  SessionData     `json:"paymentSessionData"`
}

type IntentOptions struct {
	CaptureMethod      string   `json:"capture_method,omitempty" mapstructure:"capture_method"`
	SetupFutureUsage   string   `json:"setup_future_usage,omitempty" mapstructure:"setup_future_usage"`
	PaymentMethodTypes []string `json:"payment_method_types,omitempty" mapstructure:"payment_method_types"`
}

type CustomerMetadata struct {
	PayFastID string `json:"payfast_id,omitempty"`
}

type UpdateRequests struct {
	CustomerMetadata CustomerMetadata `json:"customer_metadata"`
}

type SessionResponse struct {
	SessionData    SessionData    `json:"session_data"`
	UpdateRequests UpdateRequests `json:"update_requests"`
	IntentOptions  *IntentOptions `json:"intent_options,omitempty"`
}

// PayFastS2SResponse is the decoded server-to-server webhook body.
type PayFastS2SResponse struct {
	Success bool                 `json:"success"`
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Data    *PaymentResponseData `json:"data,omitempty"`
}

type PayFastEventData struct {
	Object any `json:"object"`
}

type PayFastEvent struct {
	Type string           `json:"type"`
	ID   string           `json:"id"`
	Data PayFastEventData `json:"data"`
}

// Rejected reports whether the event carries an error envelope instead of a
// verified gateway payload. The gateway's own PAYMENT_ERROR notifications are
// verified and not rejected.
func (e PayFastEvent) Rejected() bool {
	_, ok := e.Data.Object.(*PaymentProcessorError)
	return ok
}

// PaymentProcessorError is the uniform envelope every façade operation
// returns instead of failing.
type PaymentProcessorError struct {
	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func (e *PaymentProcessorError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}
