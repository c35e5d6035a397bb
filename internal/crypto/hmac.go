package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials required for HMAC-authenticated requests
// against the perp venue REST API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret, used raw as the HMAC key
}

// SignQuery appends a millisecond timestamp and an HMAC-SHA256 signature to a
// URL query string, Binance-style. The signature covers the full query
// including the timestamp and is hex-encoded.
//
// The returned string is ready to append to the request URL:
//
//	symbol=FLOWUSDT&timestamp=1700000000000&signature=ab12...
func (h *HMACAuth) SignQuery(query string) string {
	return h.SignQueryAt(query, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(query string, unixMilli int64) string {
	ts := strconv.FormatInt(unixMilli, 10)

	if query != "" {
		query += "&"
	}
	query += "timestamp=" + ts

	return query + "&signature=" + hmacSHA256Hex([]byte(h.Secret), query)
}

// Headers returns the authentication headers for a signed request.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{
		"X-MBX-APIKEY": h.Key,
	}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result hex-encoded.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
