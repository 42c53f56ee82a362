package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("mercadopago: missing x-signature header")
	ErrMalformedHeader  = errors.New("mercadopago: malformed x-signature header")
	ErrInvalidSignature = errors.New("mercadopago: signature mismatch")
	ErrStaleSignature   = errors.New("mercadopago: signature timestamp outside tolerance")
)

// Signature is the parsed x-signature header, "ts=<unix>,v1=<hex hmac>".
type Signature struct {
	Timestamp string
	V1        string
}

// ParseSignatureHeader splits the x-signature header into its parts.
func ParseSignatureHeader(header string) (Signature, error) {
	if strings.TrimSpace(header) == "" {
		return Signature{}, ErrMissingSignature
	}
	var sig Signature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			sig.Timestamp = strings.TrimSpace(value)
		case "v1":
			sig.V1 = strings.TrimSpace(value)
		}
	}
	if sig.Timestamp == "" || sig.V1 == "" {
		return Signature{}, ErrMalformedHeader
	}
	return sig, nil
}

// SignedAt parses ts. The provider has sent both unix seconds and unix
// milliseconds; values of 1e12 and above are read as milliseconds.
func (s Signature) SignedAt() (time.Time, error) {
	n, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, ErrMalformedHeader
	}
	if n >= 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}

// SigningManifest builds the string Mercado Pago signs:
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;". Parts whose value is
// empty are left out. Alphanumeric data ids are lower-cased.
func SigningManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		if isAlphanumeric(dataID) {
			dataID = strings.ToLower(dataID)
		}
		b.WriteString("id:" + dataID + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

// Sign returns the hex HMAC-SHA256 of manifest under secret.
func Sign(secret, manifest string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an x-signature header against the delivery's
// x-request-id and data.id, without looking at the age of ts.
func VerifySignature(secret, header, requestID, dataID string) error {
	return VerifySignatureWithin(secret, header, requestID, dataID, time.Time{}, 0)
}

// VerifySignatureWithin is VerifySignature plus a replay window: ts must lie
// within tolerance of now in either direction. A tolerance of zero or less
// skips the check.
func VerifySignatureWithin(secret, header, requestID, dataID string, now time.Time, tolerance time.Duration) error {
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}
	expected := Sign(secret, SigningManifest(dataID, requestID, sig.Timestamp))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig.V1))) {
		return ErrInvalidSignature
	}
	if tolerance <= 0 {
		return nil
	}
	signedAt, err := sig.SignedAt()
	if err != nil {
		return err
	}
	if age := now.Sub(signedAt); age > tolerance || age < -tolerance {
		return ErrStaleSignature
	}
	return nil
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}
