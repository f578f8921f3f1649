package httpx

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxWebhookBody bounds webhook payload reads. Gateways send small JSON
// documents; anything larger is rejected.
const maxWebhookBody = 1 << 20

// readBody reads a bounded request body and handles errors.
// Returns false if there was an error (error response already written).
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "read_failed", Err: err})
		return nil, false
	}
	if len(payload) > maxWebhookBody {
		WriteError(w, ErrorParams{
			Code:    http.StatusRequestEntityTooLarge,
			ErrCode: "payload_too_large",
			Err:     errors.New("request body exceeds limit"),
		})
		return nil, false
	}
	return payload, true
}

// clientAddr returns the caller's address for rate limiting. Behind a
// proxy the first X-Forwarded-For hop wins; otherwise the socket address.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// bearerToken extracts the token from an Authorization: Bearer header.
// Returns empty string when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
