package status

// SessionStatus is the normalized status the host order system sees.
type SessionStatus string

const (
	Pending    SessionStatus = "pending"
	Authorized SessionStatus = "authorized"
	Error      SessionStatus = "error"
	Canceled   SessionStatus = "canceled"
)

// IsTerminal reports whether no further transition is expected.
func (s SessionStatus) IsTerminal() bool {
	return s == Authorized || s == Error || s == Canceled
}

// Gateway status codes.
const (
	CodePaymentSuccess        = "PAYMENT_SUCCESS"
	CodePaymentPending        = "PAYMENT_PENDING"
	CodePaymentError          = "PAYMENT_ERROR"
	CodePaymentInitiated      = "PAYMENT_INITIATED"
	CodeBadRequest            = "BAD_REQUEST"
	CodeInternalServerError   = "INTERNAL_SERVER_ERROR"
	CodeAuthorizationFailed   = "AUTHORIZATION_FAILED"
	CodeTransactionNotFound   = "TRANSACTION_NOT_FOUND"
	CodePaymentDeclined       = "PAYMENT_DECLINED"
	CodePaymentCancelled      = "PAYMENT_CANCELLED"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeUnexpectedIntentState = "PAYMENT_INTENT_UNEXPECTED_STATE"
)

// Attempt lifecycle states tracked by the façade.
type AttemptState string

const (
	AttemptInitiated            AttemptState = "INITIATED"
	AttemptAwaitingConfirmation AttemptState = "AWAITING_CONFIRMATION"
	AttemptError                AttemptState = "ERROR"
)

// FromGatewayCode maps a raw gateway code to a session status. Unknown codes
// stay PENDING so they are retried rather than treated as final.
func FromGatewayCode(code string) SessionStatus {
	switch code {
	case CodePaymentPending:
		return Pending
	case CodeBadRequest, CodeInternalServerError, CodeAuthorizationFailed:
		return Error
	case CodeTransactionNotFound:
		return Canceled
	case CodePaymentSuccess:
		return Authorized
	default:
		return Pending
	}
}
