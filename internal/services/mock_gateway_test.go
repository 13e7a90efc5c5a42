package services

import (
	"context"

	"payfast-reconciler/models"

	"github.com/stretchr/testify/mock"
)

// MockGateway is a testify mock of the PayFast client.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GetTransactionStatus(ctx context.Context, merchantID, merchantTransactionID string) (*models.PaymentCheckStatusResponse, error) {
	args := m.Called(ctx, merchantID, merchantTransactionID)
	resp, _ := args.Get(0).(*models.PaymentCheckStatusResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) CreateStandardRequest(amount int64, baseTransactionID, customerID, mobileNumber, attemptSeq string) (*models.PaymentRequest, *models.PaymentProcessorError) {
	args := m.Called(amount, baseTransactionID, customerID, mobileNumber, attemptSeq)
	req, _ := args.Get(0).(*models.PaymentRequest)
	perr, _ := args.Get(1).(*models.PaymentProcessorError)
	return req, perr
}

func (m *MockGateway) PostPayment(ctx context.Context, p *models.PaymentRequest) (*models.PaymentResponse, error) {
	args := m.Called(ctx, p)
	resp, _ := args.Get(0).(*models.PaymentResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) PostRefund(ctx context.Context, r *models.RefundRequest) (*models.RefundResponse, error) {
	args := m.Called(ctx, r)
	resp, _ := args.Get(0).(*models.RefundResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) ValidateVPA(ctx context.Context, merchantID, vpa string) (*models.VPAResult, error) {
	args := m.Called(ctx, merchantID, vpa)
	res, _ := args.Get(0).(*models.VPAResult)
	return res, args.Error(1)
}

func (m *MockGateway) Cancel(session *models.SessionData) (*models.SessionData, error) {
	args := m.Called(session)
	sd, _ := args.Get(0).(*models.SessionData)
	return sd, args.Error(1)
}

func (m *MockGateway) Capture(ctx context.Context, data *models.PaymentResponseData) (*models.PaymentCheckStatusResponse, error) {
	args := m.Called(ctx, data)
	resp, _ := args.Get(0).(*models.PaymentCheckStatusResponse)
	return resp, args.Error(1)
}

func (m *MockGateway) ValidateWebhook(data, signature, salt string) bool {
	args := m.Called(data, signature, salt)
	return args.Bool(0)
}

func (m *MockGateway) MerchantID() string {
	return m.Called().String(0)
}

func (m *MockGateway) CallbackURL() string {
	return m.Called().String(0)
}
