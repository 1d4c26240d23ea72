// Package approval authenticates externally-signed approval decisions and
// applies them to the funding proposal manager.
package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// replayWindow is how far a webhook timestamp may drift from local time.
const replayWindow = 300 * time.Second

// Verifier checks HMAC-SHA256 webhook signatures.
//
// When no secret is configured the behavior splits by environment:
// production fails closed (every request rejected), anything else fails open
// for local testing. Both paths log the choice loudly.
type Verifier struct {
	secret     string
	production bool
	now        func() time.Time
	log        zerolog.Logger
}

// NewVerifier creates a signature verifier. production selects the
// fail-closed path when secret is empty.
func NewVerifier(secret string, production bool, log zerolog.Logger) *Verifier {
	return &Verifier{
		secret:     secret,
		production: production,
		now:        time.Now,
		log:        log.With().Str("component", "approval").Logger(),
	}
}

// Verify reports whether signature is a valid hex HMAC-SHA256 of
// timestamp || body under the shared secret, and the timestamp is within
// the replay window.
func (v *Verifier) Verify(body []byte, signature, timestamp string) bool {
	if v.secret == "" {
		if v.production {
			v.log.Error().Msg("No webhook secret configured in production; rejecting request")
			return false
		}
		v.log.Warn().Msg("No webhook secret configured; skipping signature verification")
		return true
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		v.log.Warn().Str("timestamp", timestamp).Msg("Malformed webhook timestamp")
		return false
	}

	drift := v.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if time.Duration(drift)*time.Second > replayWindow {
		v.log.Warn().
			Int64("drift_seconds", drift).
			Msg("Webhook timestamp outside replay window")
		return false
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(signature), []byte(expected)) {
		v.log.Warn().Msg("Invalid webhook signature")
		return false
	}
	return true
}

// Sign computes the hex HMAC-SHA256 of timestamp || body. Used by tests and
// by outbound callers that speak the same scheme.
func Sign(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
