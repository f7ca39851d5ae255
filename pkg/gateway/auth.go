package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// Authentication headers
const (
	HeaderSecret    = "X-Streamrun-Secret"
	HeaderSignature = "X-Streamrun-Signature"
)

// Authenticator checks requests against a shared secret. Requests carry
// either the secret itself or an HMAC-SHA256 signature of the body.
type Authenticator struct {
	sharedSecret string
}

// NewAuthenticator creates an authenticator; an empty secret admits everyone
func NewAuthenticator(sharedSecret string) *Authenticator {
	return &Authenticator{sharedSecret: sharedSecret}
}

// Enabled reports whether a secret is configured
func (a *Authenticator) Enabled() bool {
	return a.sharedSecret != ""
}

// Sign returns the hex HMAC-SHA256 of body under the shared secret
func (a *Authenticator) Sign(body []byte) string {
	h := hmac.New(sha256.New, []byte(a.sharedSecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a body signature in constant time
func (a *Authenticator) VerifySignature(body []byte, signature string) bool {
	return subtle.ConstantTimeCompare([]byte(a.Sign(body)), []byte(signature)) == 1
}

// Authorize checks the request headers; body is the already read request
// body, nil when there is none.
func (a *Authenticator) Authorize(r *http.Request, body []byte) bool {
	if !a.Enabled() {
		return true
	}
	if secret := r.Header.Get(HeaderSecret); secret != "" {
		return subtle.ConstantTimeCompare([]byte(secret), []byte(a.sharedSecret)) == 1
	}
	if signature := r.Header.Get(HeaderSignature); signature != "" && body != nil {
		return a.VerifySignature(body, signature)
	}
	return false
}
