package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromGatewayCode(t *testing.T) {
	tests := []struct {
		code     string
		expected SessionStatus
	}{
		{CodePaymentPending, Pending},
		{CodeBadRequest, Error},
		{CodeInternalServerError, Error},
		{CodeAuthorizationFailed, Error},
		{CodeTransactionNotFound, Canceled},
		{CodePaymentSuccess, Authorized},
		{CodePaymentDeclined, Pending},
		{CodePaymentInitiated, Pending},
		{"", Pending},
		{"SOMETHING_NEW", Pending},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromGatewayCode(tt.code))
		})
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, Pending.IsTerminal())
	assert.True(t, Authorized.IsTerminal())
	assert.True(t, Error.IsTerminal())
	assert.True(t, Canceled.IsTerminal())
}

func TestKindOf(t *testing.T) {
	transport := &TransportError{Op: "getTransactionStatus", Err: errors.New("connection refused")}

	assert.Equal(t, KindTransport, KindOf(transport))
	assert.Equal(t, KindTransport, KindOf(fmt.Errorf("wrapped: %w", transport)))
	assert.Equal(t, KindValidation, KindOf(&ValidationError{Field: "amount", Reason: "must be positive"}))
	assert.Equal(t, KindIntegrity, KindOf(&IntegrityError{Err: ErrInvalidChecksum}))
	assert.Equal(t, KindTimeout, KindOf(&TimeoutError{Attempts: 10, Err: ErrTooManyTries}))
	assert.Equal(t, KindTerminalState, KindOf(&TerminalStateError{State: Canceled}))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestTimeoutError_UnwrapsTooManyTries(t *testing.T) {
	err := &TimeoutError{Attempts: 10, Err: ErrTooManyTries}
	assert.ErrorIs(t, err, ErrTooManyTries)
	assert.Contains(t, err.Error(), "10 attempts")
}
