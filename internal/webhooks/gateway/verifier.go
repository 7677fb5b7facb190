package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Verifier checks the gateway signature md5_hex(merchant_id:secret:ref_id).
type Verifier struct {
	merchantID string
	secret     string
}

func NewVerifier(merchantID, secret string) (*Verifier, error) {
	if merchantID == "" || secret == "" {
		return nil, errors.New("gateway merchant id and secret are required")
	}
	return &Verifier{merchantID: merchantID, secret: secret}, nil
}

// Sign returns the expected lower-case hex signature for refID.
func (v *Verifier) Sign(refID string) string {
	sum := md5.Sum([]byte(v.merchantID + ":" + v.secret + ":" + refID))
	return hex.EncodeToString(sum[:])
}

func (v *Verifier) Verify(cb Callback) bool {
	if cb.RefID == "" || cb.Signature == "" {
		return false
	}
	expected := v.Sign(cb.RefID)
	got := strings.ToLower(strings.TrimSpace(cb.Signature))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
