package payfast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"payfast-reconciler/internal/status"
	"payfast-reconciler/models"
	"payfast-reconciler/monitoring"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// call describes one signed request to the gateway.
type call struct {
	op         string
	method     string
	path       string
	enc        *Encoded
	merchantID string
}

// PostPayment signs and posts a payment request. Transport failures are
// returned to the caller untouched.
func (c *Client) PostPayment(ctx context.Context, p *models.PaymentRequest) (*models.PaymentResponse, error) {
	enc, err := c.codec.EncodePayment(p)
	if err != nil {
		return nil, fmt.Errorf("postPayment: %w", err)
	}

	var reply models.PaymentResponse
	if err := c.do(ctx, call{op: "postPayment", method: http.MethodPost, path: payPath, enc: enc}, &reply); err != nil {
		c.logger.Error("error posting payment request", zap.String("merchantTransactionId", p.MerchantTransactionID), zap.Error(err))
		return nil, err
	}
	c.debugResponse("postPayment", &reply)

	return &reply, nil
}

// GetTransactionStatus queries /pg/v1/status/<merchantId>/<merchantTransactionId>.
// An empty id yields an explicit incomplete-identifier response, not an error.
func (c *Client) GetTransactionStatus(ctx context.Context, merchantID, merchantTransactionID string) (*models.PaymentCheckStatusResponse, error) {
	if merchantID == "" || merchantTransactionID == "" {
		return &models.PaymentCheckStatusResponse{
			Success: false,
			Code:    status.CodePaymentError,
			Message: status.ErrIncompleteID.Error(),
		}, nil
	}

	enc := c.codec.EncodeStatus(merchantID, merchantTransactionID)
	path := fmt.Sprintf("%s/%s/%s", statusPath, merchantID, merchantTransactionID)

	var reply models.PaymentCheckStatusResponse
	if err := c.do(ctx, call{op: "getTransactionStatus", method: http.MethodGet, path: path, enc: enc, merchantID: merchantID}, &reply); err != nil {
		c.logger.Error("error fetching transaction status", zap.String("merchantTransactionId", merchantTransactionID), zap.Error(err))
		return nil, err
	}
	c.debugResponse("getTransactionStatus", &reply)

	return &reply, nil
}

func (c *Client) PostRefund(ctx context.Context, r *models.RefundRequest) (*models.RefundResponse, error) {
	enc, err := c.codec.EncodeRefund(r)
	if err != nil {
		return nil, fmt.Errorf("postRefund: %w", err)
	}

	var reply models.RefundResponse
	if err := c.do(ctx, call{op: "postRefund", method: http.MethodPost, path: refundPath, enc: enc}, &reply); err != nil {
		c.logger.Error("error posting refund request", zap.String("originalTransactionId", r.OriginalTransactionID), zap.Error(err))
		return nil, err
	}
	c.debugResponse("postRefund", &reply)

	return &reply, nil
}

func (c *Client) ValidateVPA(ctx context.Context, merchantID, vpa string) (*models.VPAResult, error) {
	enc, err := c.codec.EncodeVPA(&models.VPARequest{MerchantID: merchantID, VPA: vpa})
	if err != nil {
		return nil, fmt.Errorf("validateVpa: %w", err)
	}

	var reply models.VPAResult
	if err := c.do(ctx, call{op: "validateVpa", method: http.MethodPost, path: vpaPath, enc: enc, merchantID: merchantID}, &reply); err != nil {
		c.logger.Error("error validating VPA", zap.Error(err))
		return nil, err
	}
	c.debugResponse("validateVpa", &reply)

	return &reply, nil
}

// Cancel clears the status code of a session. The gateway has no cancel call;
// a session that is already canceled is reported as a terminal-state conflict.
func (c *Client) Cancel(session *models.SessionData) (*models.SessionData, error) {
	if session == nil {
		return nil, &status.ValidationError{Field: "session", Reason: "required"}
	}
	switch session.Code {
	case status.CodeTransactionNotFound, status.CodePaymentCancelled:
		return nil, &status.TerminalStateError{Code: session.Code, State: status.Canceled, Data: session}
	}

	cleared := *session
	cleared.Code = ""
	return &cleared, nil
}

// Capture re-queries the current status; there is no separate capture call.
func (c *Client) Capture(ctx context.Context, data *models.PaymentResponseData) (*models.PaymentCheckStatusResponse, error) {
	id := data.Identifier()
	return c.GetTransactionStatus(ctx, id.MerchantID, id.MerchantTransactionID)
}

// do sends the call through the circuit breaker and decodes the reply into out.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	ctx, span := c.tracer.Start(ctx, "payfast."+cl.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", cl.method),
		attribute.String("payfast.path", cl.path),
	)

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.send(ctx, cl, out)
	}, isTransportFailure)

	outcome := "ok"
	if err != nil {
		outcome = string(status.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	monitoring.TrackGatewayCall(cl.op, outcome, time.Since(start))

	if err != nil && status.KindOf(err) == "" {
		return &status.TransportError{Op: cl.op, Err: err}
	}
	return err
}

func (c *Client) send(ctx context.Context, cl call, out any) error {
	var body io.Reader
	if cl.enc.EncodedBody != "" {
		b, err := json.Marshal(map[string]string{"request": cl.enc.EncodedBody})
		if err != nil {
			return fmt.Errorf("%s: json.Marshal: %w", cl.op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return fmt.Errorf("%s: http.NewRequest: %w", cl.op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-VERIFY", cl.enc.Checksum)
	if cl.merchantID != "" {
		req.Header.Set("X-MERCHANT-ID", cl.merchantID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &status.TransportError{Op: cl.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &status.TransportError{Op: cl.op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.replyError(cl.op, resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &status.TransportError{Op: cl.op, StatusCode: resp.StatusCode, Err: fmt.Errorf("json.Decode: %w", err)}
	}
	return nil
}

// replyError classifies a non-2xx reply. A conflict naming the state the
// transaction already reached becomes a TerminalStateError.
func (c *Client) replyError(op string, statusCode int, raw []byte) error {
	var reply models.PaymentCheckStatusResponse
	_ = json.Unmarshal(raw, &reply)

	if statusCode == http.StatusConflict || reply.Code == status.CodeUnexpectedIntentState {
		state := status.Pending
		if reply.Data != nil {
			state = terminalFromState(reply.Data.State)
		}
		if state.IsTerminal() {
			return &status.TerminalStateError{Code: reply.Code, State: state, Data: &reply}
		}
	}

	msg := reply.Message
	if msg == "" {
		msg = string(raw)
	}
	return &status.TransportError{Op: op, StatusCode: statusCode, Err: fmt.Errorf("code: %s, message: %s", reply.Code, msg)}
}

func terminalFromState(state string) status.SessionStatus {
	switch state {
	case "COMPLETED":
		return status.Authorized
	case "CANCELLED":
		return status.Canceled
	case "FAILED":
		return status.Error
	default:
		return status.Pending
	}
}

// isTransportFailure keeps terminal-state conflicts out of the breaker counts.
func isTransportFailure(err error) bool {
	var ts *status.TerminalStateError
	return !errors.As(err, &ts)
}

func (c *Client) debugResponse(op string, reply any) {
	if !c.debug {
		return
	}
	c.logger.Debug("response from payfast", zap.String("operation", op), zap.Any("response", reply))
}
