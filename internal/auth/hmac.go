package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Header names shared by inbound webhooks and outbound provider calls.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderClientID  = "X-Client-Id"
	HeaderUserID    = "X-User-Id"
	HeaderSecretKey = "X-Secret-Key"
	HeaderRequestID = "X-Request-Id"
)

// Sign computes HMAC-SHA256(secret, payload), hex-encoded uppercase.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Verifier validates inbound webhook signatures.
type Verifier struct {
	clientID string
	secret   string
	// maxAge bounds signature freshness; zero disables the window.
	maxAge time.Duration
	now    func() time.Time
}

func NewVerifier(clientID, secret string, maxAge time.Duration) *Verifier {
	return &Verifier{clientID: clientID, secret: secret, maxAge: maxAge, now: time.Now}
}

// Valid reports whether signature equals
// HMAC-SHA256(secret, clientID+timestamp+userID) hex-uppercase and, when a
// freshness window is configured, whether the timestamp is recent enough.
func (v *Verifier) Valid(timestamp, userID, signature string) bool {
	if timestamp == "" || signature == "" {
		return false
	}
	if v.maxAge > 0 {
		secs, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return false
		}
		age := v.now().Sub(time.Unix(secs, 0))
		if age > v.maxAge || age < -v.maxAge {
			return false
		}
	}
	want := Sign(v.secret, v.clientID+timestamp+userID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// Signer produces the signed header set for outbound provider calls. The
// construction mirrors the inbound scheme with a freshly generated request
// id bound into the signature instead of a caller-supplied timestamp.
type Signer struct {
	clientID string
	secret   string
	now      func() time.Time
	newID    func() string
}

func NewSigner(clientID, secret string) *Signer {
	return &Signer{
		clientID: clientID,
		secret:   secret,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Headers signs an outbound request on behalf of userID. An empty userID
// produces the registration variant, which omits the user binding.
func (s *Signer) Headers(userID string) map[string]string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	reqID := s.newID()
	payload := reqID + ts
	if userID != "" {
		payload += userID
	}
	h := map[string]string{
		HeaderTimestamp: ts,
		HeaderClientID:  s.clientID,
		HeaderSecretKey: Sign(s.secret, payload),
		HeaderRequestID: reqID,
	}
	if userID != "" {
		h[HeaderUserID] = userID
	}
	return h
}

// InitParams is the signed parameter set handed to the KYC SDK on the client.
type InitParams struct {
	UserID    string `json:"user_id"`
	ClientID  string `json:"client_id"`
	Secret    string `json:"secret"`
	Timestamp int64  `json:"timestamp"`
}

// KYCInitParams signs the SDK-init construction for userID.
func (s *Signer) KYCInitParams(userID string) InitParams {
	ts := s.now().Unix()
	sig := Sign(s.secret, s.clientID+strconv.FormatInt(ts, 10)+"sdk"+userID)
	return InitParams{
		UserID:    userID,
		ClientID:  s.clientID,
		Secret:    sig,
		Timestamp: ts,
	}
}
