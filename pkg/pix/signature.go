package pix

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrSignatureMissing = errors.New("missing x-signature header")
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrSignatureExpired = fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
)

// timestamps above this are milliseconds since epoch
const millisecondThreshold = 1_000_000_000_000

// VerifySignature checks the x-signature header sent with webhook
// notifications against the configured secret.
func (c *Client) VerifySignature(xSignature, xRequestID, dataID string) error {
	if c == nil {
		return ErrSignatureInvalid
	}
	return VerifySignatureWithin(c.webhookSecret, xSignature, xRequestID, dataID, c.now(), c.signatureTolerance)
}

// VerifySignatureWithin checks the HMAC and rejects a ts further than
// tolerance from now. A non-positive tolerance skips the freshness check.
func VerifySignatureWithin(secret, xSignature, xRequestID, dataID string, now time.Time, tolerance time.Duration) error {
	if err := VerifySignature(secret, xSignature, xRequestID, dataID); err != nil {
		return err
	}
	if tolerance <= 0 {
		return nil
	}
	ts, _ := parseSignatureHeader(xSignature)
	sent, ok := parseSignatureTime(ts)
	if !ok {
		return ErrSignatureInvalid
	}
	skew := now.Sub(sent)
	if skew > tolerance || skew < -tolerance {
		return ErrSignatureExpired
	}
	return nil
}

func VerifySignature(secret, xSignature, xRequestID, dataID string) error {
	if strings.TrimSpace(xSignature) == "" {
		return ErrSignatureMissing
	}
	ts, provided := parseSignatureHeader(xSignature)
	if ts == "" || provided == "" {
		return ErrSignatureInvalid
	}
	expected := ComputeSignature(secret, dataID, xRequestID, ts)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return ErrSignatureInvalid
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of the notification manifest.
// Empty components are left out of the manifest.
func ComputeSignature(secret, dataID, requestID, ts string) string {
	var manifest strings.Builder
	if dataID = strings.ToLower(strings.TrimSpace(dataID)); dataID != "" {
		manifest.WriteString("id:" + dataID + ";")
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

func parseSignatureTime(ts string) (time.Time, bool) {
	value, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || value <= 0 {
		return time.Time{}, false
	}
	if value >= millisecondThreshold {
		return time.UnixMilli(value), true
	}
	return time.Unix(value, 0), true
}
