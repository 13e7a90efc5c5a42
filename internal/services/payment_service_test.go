package services

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"payfast-reconciler/internal/services/payfast"
	"payfast-reconciler/internal/status"
	"payfast-reconciler/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testSalt = "salt-key"

func setupTestPaymentService() (*PaymentService, *MockGateway) {
	gw := &MockGateway{}
	svc := NewPaymentService(gw, NewReconciler(gw, nil, instantSchedule()), NewAtomicSequencer(), PaymentServiceConfig{Salt: testSalt}, nil)
	return svc, gw
}

// setupGatewayPaymentService wires the real PayFast client against a fake
// gateway server.
func setupGatewayPaymentService(t *testing.T, handler http.HandlerFunc) (*PaymentService, *payfast.Client) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := payfast.New(&payfast.Config{
		BaseURL:      srv.URL,
		MerchantID:   "MERCHANT1",
		Salt:         testSalt,
		SaltIndex:    "1",
		CallbackURL:  "https://shop.example",
		RedirectURL:  "https://shop.example/return",
		RedirectMode: "POST",
	}, nil)
	require.NoError(t, err)

	svc := NewPaymentService(client, NewReconciler(client, nil, instantSchedule()), NewAtomicSequencer(), PaymentServiceConfig{Salt: testSalt}, nil)
	return svc, client
}

func paymentContext(readyToPay bool) models.PaymentContext {
	return models.PaymentContext{
		Email:        "buyer@example.com",
		CurrencyCode: "inr",
		Amount:       decimal.NewFromInt(2500),
		ResourceID:   "cart_01",
		Customer:     &models.Customer{ID: "cus_01", Phone: "9999999999"},
		SessionData:  models.SessionData{ReadyToPay: readyToPay},
	}
}

func sessionFor(txnID string) models.SessionData {
	return models.SessionData{
		Code:     status.CodePaymentInitiated,
		Data:     &models.PaymentResponseData{MerchantID: "MERCHANT1", MerchantTransactionID: txnID},
		Customer: &models.Customer{ID: "cus_01"},
	}
}

func TestPaymentService_InitiatePayment_AwaitingConfirmation(t *testing.T) {
	var calls int32
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	res, perr := svc.InitiatePayment(context.Background(), paymentContext(false))

	require.Nil(t, perr)
	assert.Equal(t, status.CodePaymentInitiated, res.SessionData.Code)
	assert.False(t, res.SessionData.Success)
	assert.Equal(t, "cart_01_1", res.SessionData.Data.MerchantTransactionID)
	assert.Equal(t, "cus_01", res.SessionData.Data.Customer.ID)
	assert.Equal(t, "cus_01", res.UpdateRequests.CustomerMetadata.PayFastID)
	assert.Nil(t, res.IntentOptions)
	assert.Zero(t, atomic.LoadInt32(&calls), "placeholder must not reach the gateway")
}

func TestPaymentService_InitiatePayment_ReadyToPay(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pg/v1/pay", r.URL.Path)
		w.Write([]byte(`{"success":true,"code":"PAYMENT_INITIATED","message":"Payment initiated","data":{"merchantId":"MERCHANT1","merchantTransactionId":"cart_01_1","instrumentResponse":{"type":"PAY_PAGE","redirectInfo":{"url":"https://pay.example/p/1"}}}}`))
	})

	res, perr := svc.InitiatePayment(context.Background(), paymentContext(true))

	require.Nil(t, perr)
	assert.True(t, res.SessionData.Success)
	assert.Equal(t, "cart_01_1", res.SessionData.Data.MerchantTransactionID)
	assert.NotNil(t, res.SessionData.Data.InstrumentResponse)
	assert.Equal(t, "cus_01", res.SessionData.Customer.ID)
}

func TestPaymentService_InitiatePayment_SequenceIncrements(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})

	var ids []string
	for i := 0; i < 3; i++ {
		res, perr := svc.InitiatePayment(context.Background(), paymentContext(false))
		require.Nil(t, perr)
		ids = append(ids, res.SessionData.Data.MerchantTransactionID)
	}

	assert.Equal(t, []string{"cart_01_1", "cart_01_2", "cart_01_3"}, ids)
}

func TestPaymentService_InitiatePayment_ConcurrentAttemptsNeverCollide(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})

	const n = 50
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, perr := svc.InitiatePayment(context.Background(), paymentContext(false))
			if !assert.Nil(t, perr) {
				return
			}
			mu.Lock()
			seen[res.SessionData.Data.MerchantTransactionID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestPaymentService_InitiatePayment_ValidationFailed(t *testing.T) {
	var calls int32
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})

	pc := paymentContext(true)
	pc.Customer.ID = "cus 01"

	res, perr := svc.InitiatePayment(context.Background(), pc)

	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, status.CodeValidationFailed, perr.Code)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestPaymentService_InitiatePayment_FractionalAmountRejected(t *testing.T) {
	svc, gw := setupTestPaymentService()

	pc := paymentContext(true)
	pc.Amount = decimal.RequireFromString("25.50")

	res, perr := svc.InitiatePayment(context.Background(), pc)

	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, string(status.KindValidation), perr.Code)
	gw.AssertNotCalled(t, "CreateStandardRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_InitiatePayment_OversizedAmountRejected(t *testing.T) {
	svc, gw := setupTestPaymentService()

	for _, amount := range []string{"18446744073709551716", "-9223372036854775809"} {
		pc := paymentContext(true)
		pc.Amount = decimal.RequireFromString(amount)

		res, perr := svc.InitiatePayment(context.Background(), pc)

		assert.Nil(t, res, amount)
		require.NotNil(t, perr, amount)
		assert.Equal(t, string(status.KindValidation), perr.Code, amount)
	}
	gw.AssertNotCalled(t, "CreateStandardRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_InitiatePayment_GatewayFailureIsEnvelope(t *testing.T) {
	svc, gw := setupTestPaymentService()

	req := &models.PaymentRequest{MerchantID: "MERCHANT1", MerchantTransactionID: "cart_01_1"}
	gw.On("CreateStandardRequest", int64(2500), "cart_01", "cus_01", "9999999999", "1").Return(req, nil)
	gw.On("PostPayment", mock.Anything, req).Return(nil, &status.TransportError{Op: "postPayment", StatusCode: 503, Err: errors.New("unavailable")})

	res, perr := svc.InitiatePayment(context.Background(), paymentContext(true))

	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, "initialization error", perr.Message)
	assert.Equal(t, string(status.KindTransport), perr.Code)
	assert.Contains(t, perr.Detail, "unavailable")
	gw.AssertExpectations(t)
}

func TestPaymentService_InitiatePayment_FallsBackToEmailAndGeneratedBase(t *testing.T) {
	svc, gw := setupTestPaymentService()

	gw.On("CreateStandardRequest", int64(100), mock.MatchedBy(func(base string) bool {
		return strings.HasPrefix(base, "T") && len(base) == 21
	}), "guest", "", "1").Return(&models.PaymentRequest{MerchantID: "MERCHANT1", MerchantTransactionID: "x_1", MerchantUserID: "guest"}, nil)

	res, perr := svc.InitiatePayment(context.Background(), models.PaymentContext{
		Email:  "guest",
		Amount: decimal.NewFromInt(100),
	})

	require.Nil(t, perr)
	assert.Equal(t, "", res.UpdateRequests.CustomerMetadata.PayFastID)
	gw.AssertExpectations(t)
}

func TestPaymentService_InitiatePayment_IntentOptions(t *testing.T) {
	gw := &MockGateway{}
	svc := NewPaymentService(gw, NewReconciler(gw, nil), nil, PaymentServiceConfig{
		IntentOptions: models.IntentOptions{CaptureMethod: "automatic"},
	}, nil)

	gw.On("CreateStandardRequest", int64(2500), "cart_01", "cus_01", "9999999999", "1").
		Return(&models.PaymentRequest{MerchantID: "MERCHANT1", MerchantTransactionID: "cart_01_1"}, nil)

	res, perr := svc.InitiatePayment(context.Background(), paymentContext(false))

	require.Nil(t, perr)
	require.NotNil(t, res.IntentOptions)
	assert.Equal(t, "automatic", res.IntentOptions.CaptureMethod)
	assert.Empty(t, res.IntentOptions.SetupFutureUsage)
	assert.Nil(t, res.IntentOptions.PaymentMethodTypes)
	assert.Equal(t, ProviderPayFast, svc.Identifier())
}

func TestPaymentService_AuthorizePayment_SuccessOnFirstPoll(t *testing.T) {
	var polls int32
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		w.Write([]byte(`{"success":true,"code":"PAYMENT_SUCCESS","message":"done"}`))
	})
	session := sessionFor("cart_01_1")

	res, perr := svc.AuthorizePayment(context.Background(), session)

	require.Nil(t, perr)
	assert.Equal(t, status.Authorized, res.Status)
	assert.Equal(t, session, res.Data)
	assert.Equal(t, int32(1), atomic.LoadInt32(&polls))
}

func TestPaymentService_AuthorizePayment_AlwaysPending(t *testing.T) {
	var polls int32
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		w.Write([]byte(`{"success":true,"code":"PAYMENT_PENDING","message":"pending"}`))
	})

	res, perr := svc.AuthorizePayment(context.Background(), sessionFor("cart_01_1"))

	require.Nil(t, perr)
	assert.Equal(t, status.Error, res.Status)
	assert.Equal(t, int32(50), atomic.LoadInt32(&polls))
}

func TestPaymentService_AuthorizePayment_CanceledContextIsEnvelope(t *testing.T) {
	svc, gw := setupTestPaymentService()
	gw.On("GetTransactionStatus", mock.Anything, mock.Anything, mock.Anything).Return(statusReply(status.CodePaymentPending), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, perr := svc.AuthorizePayment(ctx, sessionFor("cart_01_1"))

	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, context.Canceled.Error(), perr.Message)
}

func TestPaymentService_AuthorizePayment_MissingIdentifier(t *testing.T) {
	svc, gw := setupTestPaymentService()

	res, perr := svc.AuthorizePayment(context.Background(), models.SessionData{})

	assert.Nil(t, res)
	require.NotNil(t, perr)
	gw.AssertNotCalled(t, "GetTransactionStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentService_CapturePayment(t *testing.T) {
	svc, gw := setupTestPaymentService()
	session := sessionFor("cart_01_1")
	gw.On("Capture", mock.Anything, session.Data).Return(statusReply(status.CodePaymentSuccess), nil)

	res, perr := svc.CapturePayment(context.Background(), session)

	require.Nil(t, perr)
	assert.Equal(t, status.CodePaymentSuccess, res.Code)
}

func TestPaymentService_CapturePayment_AlreadySucceededPassesThrough(t *testing.T) {
	svc, gw := setupTestPaymentService()
	session := sessionFor("cart_01_1")
	existing := &models.PaymentCheckStatusResponse{Code: status.CodeUnexpectedIntentState, Data: &models.PaymentResponseData{State: "COMPLETED"}}
	gw.On("Capture", mock.Anything, session.Data).
		Return(nil, &status.TerminalStateError{Code: status.CodeUnexpectedIntentState, State: status.Authorized, Data: existing})

	res, perr := svc.CapturePayment(context.Background(), session)

	require.Nil(t, perr)
	assert.Same(t, existing, res)
}

func TestPaymentService_CapturePayment_OtherTerminalStateIsError(t *testing.T) {
	svc, gw := setupTestPaymentService()
	session := sessionFor("cart_01_1")
	gw.On("Capture", mock.Anything, session.Data).
		Return(nil, &status.TerminalStateError{Code: status.CodeUnexpectedIntentState, State: status.Canceled})

	res, perr := svc.CapturePayment(context.Background(), session)

	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, "An error occurred in capturePayment", perr.Message)
	assert.Equal(t, string(status.KindTerminalState), perr.Code)
}

func TestPaymentService_CancelPayment(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("cancel must not reach the gateway")
	})

	res, perr := svc.CancelPayment(context.Background(), sessionFor("cart_01_1"))

	require.Nil(t, perr)
	assert.Empty(t, res.Code)
	assert.Equal(t, "cart_01_1", res.Data.MerchantTransactionID)
}

func TestPaymentService_CancelPayment_AlreadyCanceledIsIdempotent(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})
	session := sessionFor("cart_01_1")
	session.Code = status.CodeTransactionNotFound

	first, perr := svc.CancelPayment(context.Background(), session)
	require.Nil(t, perr)
	second, perr := svc.DeletePayment(context.Background(), session)
	require.Nil(t, perr)

	assert.Equal(t, status.CodeTransactionNotFound, first.Code)
	assert.Equal(t, first, second)
}

func TestPaymentService_RefundPayment(t *testing.T) {
	svc, gw := setupTestPaymentService()
	session := sessionFor("cart_01_1")

	gw.On("CallbackURL").Return("https://shop.example")
	gw.On("PostRefund", mock.Anything, mock.MatchedBy(func(r *models.RefundRequest) bool {
		return r.MerchantID == "MERCHANT1" &&
			r.OriginalTransactionID == "cart_01_1" &&
			r.MerchantTransactionID != "cart_01_1" &&
			strings.HasPrefix(r.MerchantTransactionID, "cart_01_1R") &&
			r.Amount == 1000 &&
			r.CallbackURL == "https://shop.example/hooks/refund" &&
			r.MerchantUserID == "cus_01"
	})).Return(&models.RefundResponse{Success: true, Code: status.CodePaymentPending}, nil)

	res, perr := svc.RefundPayment(context.Background(), session, 1000)

	require.Nil(t, perr)
	assert.True(t, res.Success)
	gw.AssertExpectations(t)
}

func TestPaymentService_RefundPayment_LongIDStaysWithinLimit(t *testing.T) {
	id, err := refundTransactionID(strings.Repeat("a", 37))

	require.NoError(t, err)
	assert.Len(t, id, maxTransactionIDLen)
	assert.Contains(t, id, "R")
}

func TestPaymentService_RefundPayment_Errors(t *testing.T) {
	svc, gw := setupTestPaymentService()
	gw.On("CallbackURL").Return("https://shop.example")
	gw.On("PostRefund", mock.Anything, mock.Anything).Return(nil, &status.TransportError{Op: "postRefund", Err: errors.New("reset")})

	_, perr := svc.RefundPayment(context.Background(), models.SessionData{}, 100)
	require.NotNil(t, perr)
	assert.Equal(t, string(status.KindValidation), perr.Code)

	_, perr = svc.RefundPayment(context.Background(), sessionFor("cart_01_1"), 0)
	require.NotNil(t, perr)
	assert.Equal(t, string(status.KindValidation), perr.Code)

	_, perr = svc.RefundPayment(context.Background(), sessionFor("cart_01_1"), 100)
	require.NotNil(t, perr)
	assert.Equal(t, "An error occurred in refundPayment", perr.Message)
	assert.Equal(t, string(status.KindTransport), perr.Code)
}

func TestPaymentService_RetrievePayment(t *testing.T) {
	svc, gw := setupTestPaymentService()
	gw.On("GetTransactionStatus", mock.Anything, "MERCHANT1", "cart_01_1").Return(statusReply(status.CodePaymentPending), nil).Once()
	gw.On("GetTransactionStatus", mock.Anything, "MERCHANT1", "cart_01_1").Return(nil, errors.New("dial tcp: refused")).Once()

	res, perr := svc.RetrievePayment(context.Background(), sessionFor("cart_01_1"))
	require.Nil(t, perr)
	assert.Equal(t, status.CodePaymentPending, res.Code)

	res, perr = svc.RetrievePayment(context.Background(), sessionFor("cart_01_1"))
	assert.Nil(t, res)
	require.NotNil(t, perr)
	assert.Equal(t, "Error", perr.Code)
	assert.Equal(t, "dial tcp: refused", perr.Detail)
}

func TestPaymentService_UpdatePayment_ReInitiates(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})

	first, perr := svc.InitiatePayment(context.Background(), paymentContext(false))
	require.Nil(t, perr)
	updated, perr := svc.UpdatePayment(context.Background(), paymentContext(false))
	require.Nil(t, perr)

	assert.NotEqual(t, first.SessionData.Data.MerchantTransactionID, updated.SessionData.Data.MerchantTransactionID)
}

func TestPaymentService_UpdatePaymentData(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})

	unchanged := models.PaymentContext{SessionData: sessionFor("cart_01_1")}
	res, perr := svc.UpdatePaymentData(context.Background(), "ps_01", unchanged)
	require.Nil(t, perr)
	assert.Equal(t, unchanged.SessionData, res.SessionData)

	res, perr = svc.UpdatePaymentData(context.Background(), "ps_01", paymentContext(false))
	require.Nil(t, perr)
	assert.Equal(t, "cart_01_1", res.SessionData.Data.MerchantTransactionID)
}

func TestPaymentService_ValidateVPA(t *testing.T) {
	svc, gw := setupTestPaymentService()
	gw.On("MerchantID").Return("MERCHANT1")
	gw.On("ValidateVPA", mock.Anything, "MERCHANT1", "user@bank").Return(&models.VPAResult{Success: true}, nil).Once()
	gw.On("ValidateVPA", mock.Anything, "MERCHANT1", "bad@bank").Return(nil, &status.TransportError{Op: "validateVpa", StatusCode: 400, Err: errors.New("invalid")}).Once()

	res, perr := svc.ValidateVPA(context.Background(), "user@bank")
	require.Nil(t, perr)
	assert.True(t, res.Success)

	_, perr = svc.ValidateVPA(context.Background(), "bad@bank")
	require.NotNil(t, perr)
	assert.Equal(t, string(status.KindTransport), perr.Code)
}

func TestPaymentService_ConstructWebhookEvent(t *testing.T) {
	svc, client := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := base64.StdEncoding.EncodeToString([]byte(`{"success":true,"code":"PAYMENT_SUCCESS","message":"done","data":{"merchantId":"MERCHANT1","merchantTransactionId":"T1"}}`))

	event := svc.ConstructWebhookEvent(payload, client.Codec().Sign(payload))

	assert.Equal(t, status.CodePaymentSuccess, event.Type)
	assert.Equal(t, "T1", event.ID)
	body, ok := event.Data.Object.(*models.PayFastS2SResponse)
	require.True(t, ok)
	assert.Equal(t, "MERCHANT1", body.Data.MerchantID)

	again := svc.ConstructWebhookEvent(payload, client.Codec().Sign(payload))
	assert.Equal(t, event, again)
}

func TestPaymentService_ConstructWebhookEvent_InvalidSignature(t *testing.T) {
	svc, _ := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})
	payload := base64.StdEncoding.EncodeToString([]byte(`{"code":"PAYMENT_SUCCESS","data":{"merchantTransactionId":"T1"}}`))

	event := svc.ConstructWebhookEvent(payload, "deadbeef###1")

	assert.Equal(t, status.CodePaymentError, event.Type)
	assert.Equal(t, "T1", event.ID)
	perr, ok := event.Data.Object.(*models.PaymentProcessorError)
	require.True(t, ok)
	assert.Equal(t, "Webhook validation error", perr.Message)
	assert.Equal(t, string(status.KindIntegrity), perr.Code)
}

func TestPaymentService_ConstructWebhookEvent_Malformed(t *testing.T) {
	svc, client := setupGatewayPaymentService(t, func(w http.ResponseWriter, r *http.Request) {})
	notJSON := base64.StdEncoding.EncodeToString([]byte(`<xml/>`))
	noData := base64.StdEncoding.EncodeToString([]byte(`{"code":"PAYMENT_SUCCESS"}`))

	tests := []struct {
		name      string
		payload   string
		signature string
	}{
		{"Not base64", "%%%", "sig"},
		{"Not json", notJSON, client.Codec().Sign(notJSON)},
		{"No transaction id, bad signature", noData, "sig"},
		{"No transaction id, good signature", noData, client.Codec().Sign(noData)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := svc.ConstructWebhookEvent(tt.payload, tt.signature)

			assert.Equal(t, status.CodePaymentError, event.Type)
			assert.Equal(t, "error_id", event.ID)
			_, ok := event.Data.Object.(*models.PaymentProcessorError)
			assert.True(t, ok)
		})
	}
}

func TestBuildError(t *testing.T) {
	nested := &models.PaymentProcessorError{Message: "inner", Code: "VALIDATION_FAILED", Detail: "merchantUserId"}

	perr := buildError("outer", nested)
	assert.Equal(t, "outer", perr.Message)
	assert.Equal(t, "VALIDATION_FAILED", perr.Code)
	assert.Equal(t, "inner\nmerchantUserId", perr.Detail)

	perr = buildError("outer", errors.New("plain failure"))
	assert.Equal(t, "Error", perr.Code)
	assert.Equal(t, "plain failure", perr.Detail)

	perr = buildError("outer", &status.IntegrityError{Err: status.ErrInvalidChecksum})
	assert.Equal(t, "IntegrityError", perr.Code)
}
