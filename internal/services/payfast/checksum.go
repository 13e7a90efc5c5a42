package payfast

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"payfast-reconciler/models"
)

const (
	payPath      = "/pg/v1/pay"
	statusPath   = "/pg/v1/status"
	refundPath   = "/pg/v1/refund"
	vpaPath      = "/pg/v1/vpa/validate"
	checksumSep  = "###"
	defaultIndex = "1"
)

// Encoded is a signed outbound message. EncodedBody is empty for GET calls.
type Encoded struct {
	EncodedBody string
	Checksum    string
}

// Codec computes X-VERIFY checksums: sha256 over the payload, the api path
// and the salt, suffixed with ###<salt index>.
type Codec struct {
	salt      string
	saltIndex string
}

func NewCodec(salt, saltIndex string) *Codec {
	if saltIndex == "" {
		saltIndex = defaultIndex
	}
	return &Codec{salt: salt, saltIndex: saltIndex}
}

func (c *Codec) EncodePayment(p *models.PaymentRequest) (*Encoded, error) {
	return c.encodeBody(p, payPath)
}

func (c *Codec) EncodeRefund(r *models.RefundRequest) (*Encoded, error) {
	return c.encodeBody(r, refundPath)
}

func (c *Codec) EncodeVPA(v *models.VPARequest) (*Encoded, error) {
	return c.encodeBody(v, vpaPath)
}

// EncodeStatus signs a status GET. There is no body, the checksum covers the
// request path instead.
func (c *Codec) EncodeStatus(merchantID, merchantTransactionID string) *Encoded {
	path := fmt.Sprintf("%s/%s/%s", statusPath, merchantID, merchantTransactionID)
	return &Encoded{Checksum: c.checksum("", path, c.salt)}
}

// Verify recomputes the checksum of an inbound base64 body and compares it to
// signature in constant time. A mismatch is false, not an error.
func (c *Codec) Verify(rawBody, signature, salt string) bool {
	expected := c.checksum(rawBody, "", salt)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the checksum Verify accepts for rawBody.
func (c *Codec) Sign(rawBody string) string {
	return c.checksum(rawBody, "", c.salt)
}

func (c *Codec) encodeBody(v any, path string) (*Encoded, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encodeBody: json.Marshal: %w", err)
	}
	body := base64.StdEncoding.EncodeToString(b)
	return &Encoded{
		EncodedBody: body,
		Checksum:    c.checksum(body, path, c.salt),
	}, nil
}

func (c *Codec) checksum(body, path, salt string) string {
	return Sha256Hex([]byte(body+path+salt)) + checksumSep + c.saltIndex
}

// Sha256Hex is the hex encoded sha256 digest of b.
func Sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
