package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"payfast-reconciler/internal/status"
	"payfast-reconciler/models"
	"payfast-reconciler/monitoring"
	"payfast-reconciler/utils"

	"go.uber.org/zap"
)

const (
	ProviderPayFast = "payfast"

	// webhookFallbackID is the event id used when the transaction id cannot
	// be read from a webhook body.
	webhookFallbackID = "error_id"

	maxTransactionIDLen = 37
)

// Gateway is the subset of the PayFast client the façade drives.
type Gateway interface {
	StatusChecker
	CreateStandardRequest(amount int64, baseTransactionID, customerID, mobileNumber, attemptSeq string) (*models.PaymentRequest, *models.PaymentProcessorError)
	PostPayment(ctx context.Context, p *models.PaymentRequest) (*models.PaymentResponse, error)
	PostRefund(ctx context.Context, r *models.RefundRequest) (*models.RefundResponse, error)
	ValidateVPA(ctx context.Context, merchantID, vpa string) (*models.VPAResult, error)
	Cancel(session *models.SessionData) (*models.SessionData, error)
	Capture(ctx context.Context, data *models.PaymentResponseData) (*models.PaymentCheckStatusResponse, error)
	ValidateWebhook(data, signature, salt string) bool
	MerchantID() string
	CallbackURL() string
}

type PaymentServiceConfig struct {
	// Identifier names the provider to the host, e.g. "payfast".
	Identifier string
	// IntentOptions is copied into every initiate result, empty fields omitted.
	IntentOptions models.IntentOptions
	Salt          string
	Debug         bool
}

type AuthorizeResult struct {
	Status status.SessionStatus `json:"status"`
	Data   models.SessionData   `json:"data"`
}

// PaymentService is the operation set the host order system calls. No
// operation fails outward: every error is returned as a
// *models.PaymentProcessorError.
type PaymentService struct {
	gateway    Gateway
	reconciler *Reconciler
	sequencer  Sequencer
	cfg        PaymentServiceConfig
	logger     *zap.Logger
}

func NewPaymentService(gateway Gateway, reconciler *Reconciler, sequencer Sequencer, cfg PaymentServiceConfig, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Identifier == "" {
		cfg.Identifier = ProviderPayFast
	}
	if sequencer == nil {
		sequencer = NewAtomicSequencer()
	}
	return &PaymentService{
		gateway:    gateway,
		reconciler: reconciler,
		sequencer:  sequencer,
		cfg:        cfg,
		logger:     logger.Named("payment").With(zap.String("provider", cfg.Identifier)),
	}
}

func (s *PaymentService) Identifier() string { return s.cfg.Identifier }

// IntentOptions returns the configured intent options, or nil when none is set.
func (s *PaymentService) IntentOptions() *models.IntentOptions {
	o := s.cfg.IntentOptions
	opts := models.IntentOptions{}
	if o.CaptureMethod != "" {
		opts.CaptureMethod = o.CaptureMethod
	}
	if o.SetupFutureUsage != "" {
		opts.SetupFutureUsage = o.SetupFutureUsage
	}
	if len(o.PaymentMethodTypes) > 0 {
		opts.PaymentMethodTypes = append([]string(nil), o.PaymentMethodTypes...)
	}
	if opts.CaptureMethod == "" && opts.SetupFutureUsage == "" && opts.PaymentMethodTypes == nil {
		return nil
	}
	return &opts
}

// InitiatePayment starts a new attempt. Every call takes a fresh sequence
// number, so a retried initiation never reuses a transaction id. Unless the
// session is ready to pay, no gateway call is made and an awaiting
// confirmation placeholder is returned.
func (s *PaymentService) InitiatePayment(ctx context.Context, pc models.PaymentContext) (*models.SessionResponse, *models.PaymentProcessorError) {
	seq, err := s.sequencer.Next(ctx)
	if err != nil {
		s.logger.Error("sequencer failed", zap.Error(err))
		return nil, buildError("initialization error", err)
	}

	if !pc.Amount.IsInteger() {
		return nil, buildError("initialization error", &status.ValidationError{Field: "amount", Reason: "must be in the smallest currency unit"})
	}
	if !pc.Amount.BigInt().IsInt64() {
		return nil, buildError("initialization error", &status.ValidationError{Field: "amount", Reason: "out of range"})
	}

	base := pc.SessionData.MerchantTransactionID
	if base == "" {
		base = pc.ResourceID
	}
	if base == "" {
		base = utils.NewTransactionBase(20)
	}

	customerID, mobile := pc.Email, ""
	if pc.Customer != nil {
		if pc.Customer.ID != "" {
			customerID = pc.Customer.ID
		}
		mobile = pc.Customer.Phone
	}

	req, perr := s.gateway.CreateStandardRequest(pc.Amount.IntPart(), base, customerID, mobile, strconv.FormatInt(seq, 10))
	s.logger.Info("initiating payment", zap.Int64("attempt", seq), zap.String("resourceId", pc.ResourceID))
	if perr != nil {
		monitoring.TrackInitiation(string(status.AttemptError))
		return nil, perr
	}

	var (
		resp  *models.PaymentResponse
		state = status.AttemptAwaitingConfirmation
	)
	if pc.SessionData.ReadyToPay {
		resp, err = s.gateway.PostPayment(ctx, req)
		if err != nil {
			s.logger.Error("error from payfast", zap.String("merchantTransactionId", req.MerchantTransactionID), zap.Error(err))
			monitoring.TrackInitiation(string(status.AttemptError))
			return nil, buildError("initialization error", err)
		}
		state = status.AttemptInitiated
	} else {
		resp = intermediatePaymentResponse(req)
	}
	if s.cfg.Debug {
		s.logger.Debug("response from payfast", zap.Any("response", resp))
	}
	monitoring.TrackInitiation(string(state))

	result := &models.SessionResponse{
		SessionData: models.SessionData{
			Success:  resp.Success,
			Code:     resp.Code,
			Message:  resp.Message,
			Data:     resp.Data,
			Customer: pc.Customer,
		},
		IntentOptions: s.IntentOptions(),
	}
	if pc.Customer != nil {
		result.UpdateRequests.CustomerMetadata.PayFastID = pc.Customer.ID
	}

	return result, nil
}

// intermediatePaymentResponse is the local placeholder for an attempt that
// has not been submitted to the gateway yet.
func intermediatePaymentResponse(req *models.PaymentRequest) *models.PaymentResponse {
	return &models.PaymentResponse{
		Success: false,
		Code:    status.CodePaymentInitiated,
		Message: "initiating payment",
		Data: &models.PaymentResponseData{
			MerchantID:            req.MerchantID,
			MerchantTransactionID: req.MerchantTransactionID,
			Customer:              &models.Customer{ID: req.MerchantUserID},
		},
	}
}

// AuthorizePayment runs the backoff reconciliation for the session's
// transaction and returns the session data unchanged next to the status.
func (s *PaymentService) AuthorizePayment(ctx context.Context, session models.SessionData) (*AuthorizeResult, *models.PaymentProcessorError) {
	if session.Data == nil {
		return nil, &models.PaymentProcessorError{Message: "payment session has no transaction identifier"}
	}

	st, err := s.reconciler.CheckAuthorizationWithBackOff(ctx, session.Data.Identifier())
	if err != nil {
		return nil, &models.PaymentProcessorError{Message: err.Error()}
	}

	return &AuthorizeResult{Status: st, Data: session}, nil
}

// GetPaymentStatus polls the gateway once for the session's transaction.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, session models.SessionData) status.SessionStatus {
	return s.reconciler.GetPaymentStatus(ctx, session.Data.Identifier())
}

func (s *PaymentService) CapturePayment(ctx context.Context, session models.SessionData) (*models.PaymentCheckStatusResponse, *models.PaymentProcessorError) {
	resp, err := s.gateway.Capture(ctx, session.Data)
	if err != nil {
		if data, ok := terminalPassThrough(err, status.Authorized); ok {
			if r, ok := data.(*models.PaymentCheckStatusResponse); ok {
				return r, nil
			}
		}
		return nil, buildError("An error occurred in capturePayment", err)
	}
	return resp, nil
}

func (s *PaymentService) CancelPayment(_ context.Context, session models.SessionData) (*models.SessionData, *models.PaymentProcessorError) {
	cleared, err := s.gateway.Cancel(&session)
	if err != nil {
		if data, ok := terminalPassThrough(err, status.Canceled); ok {
			if sd, ok := data.(*models.SessionData); ok {
				return sd, nil
			}
		}
		return nil, buildError("An error occurred in cancelPayment", err)
	}
	return cleared, nil
}

func (s *PaymentService) DeletePayment(ctx context.Context, session models.SessionData) (*models.SessionData, *models.PaymentProcessorError) {
	return s.CancelPayment(ctx, session)
}

// RefundPayment refunds refundAmount (smallest currency unit) of the session's
// transaction under a new transaction id.
func (s *PaymentService) RefundPayment(ctx context.Context, session models.SessionData, refundAmount int64) (*models.RefundResponse, *models.PaymentProcessorError) {
	if session.Data == nil {
		return nil, buildError("An error occurred in refundPayment", &status.ValidationError{Field: "data", Reason: "payment session has no transaction identifier"})
	}
	if refundAmount <= 0 {
		return nil, buildError("An error occurred in refundPayment", &status.ValidationError{Field: "amount", Reason: "must be a positive integer"})
	}

	refundID, err := refundTransactionID(session.Data.MerchantTransactionID)
	if err != nil {
		return nil, buildError("An error occurred in refundPayment", err)
	}

	req := &models.RefundRequest{
		MerchantID:            session.Data.MerchantID,
		OriginalTransactionID: session.Data.MerchantTransactionID,
		MerchantTransactionID: refundID,
		Amount:                refundAmount,
		CallbackURL:           s.gateway.CallbackURL() + "/hooks/refund",
	}
	if session.Customer != nil {
		req.MerchantUserID = session.Customer.ID
	}

	resp, err := s.gateway.PostRefund(ctx, req)
	if err != nil {
		if data, ok := terminalPassThrough(err); ok {
			if r, ok := data.(*models.PaymentCheckStatusResponse); ok {
				return &models.RefundResponse{Success: r.Success, Code: r.Code, Message: r.Message, Data: r.Data}, nil
			}
		}
		s.logger.Error("response from payfast", zap.Error(err))
		return nil, buildError("An error occurred in refundPayment", err)
	}
	if s.cfg.Debug {
		s.logger.Debug("response from payfast", zap.Any("response", resp))
	}

	return resp, nil
}

func (s *PaymentService) RetrievePayment(ctx context.Context, session models.SessionData) (*models.PaymentCheckStatusResponse, *models.PaymentProcessorError) {
	id := session.Data.Identifier()
	resp, err := s.gateway.GetTransactionStatus(ctx, id.MerchantID, id.MerchantTransactionID)
	if err != nil {
		if data, ok := terminalPassThrough(err); ok {
			if r, ok := data.(*models.PaymentCheckStatusResponse); ok {
				return r, nil
			}
		}
		s.logger.Error("response from payfast", zap.Error(err))
		return nil, buildError("An error occurred in retrievePayment", err)
	}
	if s.cfg.Debug {
		s.logger.Debug("response from payfast", zap.Any("response", resp))
	}

	return resp, nil
}

// UpdatePayment is a re-initiation with the updated context.
func (s *PaymentService) UpdatePayment(ctx context.Context, pc models.PaymentContext) (*models.SessionResponse, *models.PaymentProcessorError) {
	s.logger.Info("update request context", zap.String("resourceId", pc.ResourceID))
	return s.InitiatePayment(ctx, pc)
}

// UpdatePaymentData re-initiates only when the update carries an amount;
// otherwise the session data is handed back as is.
func (s *PaymentService) UpdatePaymentData(ctx context.Context, sessionID string, pc models.PaymentContext) (*models.SessionResponse, *models.PaymentProcessorError) {
	if pc.Amount.IsZero() {
		return &models.SessionResponse{SessionData: pc.SessionData}, nil
	}
	s.logger.Info("updating payment data", zap.String("sessionId", sessionID))
	return s.InitiatePayment(ctx, pc)
}

func (s *PaymentService) ValidateVPA(ctx context.Context, vpa string) (*models.VPAResult, *models.PaymentProcessorError) {
	res, err := s.gateway.ValidateVPA(ctx, s.gateway.MerchantID(), vpa)
	if err != nil {
		return nil, buildError("An error occurred in validateVpa", err)
	}
	return res, nil
}

// ConstructWebhookEvent decodes and verifies a server-to-server notification.
// The result depends only on the inputs and the configured salt. Malformed or
// forged payloads yield a PAYMENT_ERROR event.
func (s *PaymentService) ConstructWebhookEvent(encodedData, signature string) models.PayFastEvent {
	raw, err := base64.StdEncoding.DecodeString(encodedData)
	if err != nil {
		return webhookErrorEvent(webhookFallbackID, &status.ValidationError{Field: "response", Reason: "not base64"})
	}

	var body models.PayFastS2SResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return webhookErrorEvent(webhookFallbackID, &status.ValidationError{Field: "response", Reason: "not json"})
	}

	id := webhookFallbackID
	if body.Data != nil && body.Data.MerchantTransactionID != "" {
		id = body.Data.MerchantTransactionID
	}

	if !s.gateway.ValidateWebhook(encodedData, signature, s.cfg.Salt) {
		return webhookErrorEvent(id, &status.IntegrityError{Err: status.ErrInvalidChecksum})
	}
	if id == webhookFallbackID {
		return webhookErrorEvent(id, &status.ValidationError{Field: "merchantTransactionId", Reason: "missing"})
	}

	return models.PayFastEvent{
		Type: body.Code,
		ID:   id,
		Data: models.PayFastEventData{Object: &body},
	}
}

func webhookErrorEvent(id string, err error) models.PayFastEvent {
	return models.PayFastEvent{
		Type: status.CodePaymentError,
		ID:   id,
		Data: models.PayFastEventData{Object: buildError("Webhook validation error", err)},
	}
}

// terminalPassThrough returns the gateway data carried by a terminal-state
// conflict when its state is one of states (any state when none is given).
func terminalPassThrough(err error, states ...status.SessionStatus) (any, bool) {
	var ts *status.TerminalStateError
	if !errors.As(err, &ts) {
		return nil, false
	}
	if len(states) == 0 {
		return ts.Data, true
	}
	for _, st := range states {
		if ts.State == st {
			return ts.Data, true
		}
	}
	return nil, false
}

// refundTransactionID derives a new id from the original: R plus a random
// suffix, trimming the original so the result stays within the gateway limit.
func refundTransactionID(original string) (string, error) {
	code, err := utils.GenerateCode(2)
	if err != nil {
		return "", fmt.Errorf("refundTransactionID: %w", err)
	}
	suffix := "R" + code
	if len(original)+len(suffix) > maxTransactionIDLen {
		original = original[:maxTransactionIDLen-len(suffix)]
	}
	return original + suffix, nil
}

// buildError wraps err into the uniform envelope. A nested envelope keeps its
// own code and contributes its message and detail, line separated.
func buildError(message string, err error) *models.PaymentProcessorError {
	var ppe *models.PaymentProcessorError
	if errors.As(err, &ppe) {
		return &models.PaymentProcessorError{
			Message: message,
			Code:    ppe.Code,
			Detail:  ppe.Message + "\n" + ppe.Detail,
		}
	}

	code := string(status.KindOf(err))
	if code == "" {
		code = "Error"
	}
	return &models.PaymentProcessorError{
		Message: message,
		Code:    code,
		Detail:  err.Error(),
	}
}
