package auth

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testClientID = "client-42"
	testSecret   = "s3cr3t"
)

func fixedVerifier(maxAge time.Duration, at time.Time) *Verifier {
	v := NewVerifier(testClientID, testSecret, maxAge)
	v.now = func() time.Time { return at }
	return v
}

func TestVerifier_Valid(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign(testSecret, testClientID+ts+"u1")

	v := fixedVerifier(5*time.Minute, now)
	assert.True(t, v.Valid(ts, "u1", sig))

	// any single-character mutation flips the result
	assert.False(t, v.Valid(ts, "u2", sig))
	assert.False(t, v.Valid(ts, "u1", sig[:len(sig)-1]+"0"))
	mutatedTS := strconv.FormatInt(now.Unix()+1, 10)
	assert.False(t, v.Valid(mutatedTS, "u1", sig))
}

func TestVerifier_EmptyUserID(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign(testSecret, testClientID+ts)

	v := fixedVerifier(0, now)
	assert.True(t, v.Valid(ts, "", sig))
}

func TestVerifier_FreshnessWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	stale := now.Add(-10 * time.Minute)
	ts := strconv.FormatInt(stale.Unix(), 10)
	sig := Sign(testSecret, testClientID+ts+"u1")

	v := fixedVerifier(5*time.Minute, now)
	assert.False(t, v.Valid(ts, "u1", sig), "stale signature must be rejected")

	// disabling the window accepts the same signature
	v = fixedVerifier(0, now)
	assert.True(t, v.Valid(ts, "u1", sig))
}

func TestVerifier_RejectsGarbageTimestamp(t *testing.T) {
	v := fixedVerifier(time.Minute, time.Now())
	assert.False(t, v.Valid("not-a-number", "u1", "ABCD"))
	assert.False(t, v.Valid("", "u1", "ABCD"))
}

func TestSigner_Headers(t *testing.T) {
	now := time.Unix(1_700_000_123, 0)
	s := NewSigner(testClientID, testSecret)
	s.now = func() time.Time { return now }
	s.newID = func() string { return "req-1" }

	h := s.Headers("u1")
	assert.Equal(t, testClientID, h[HeaderClientID])
	assert.Equal(t, "u1", h[HeaderUserID])
	assert.Equal(t, "req-1", h[HeaderRequestID])
	want := Sign(testSecret, "req-1"+h[HeaderTimestamp]+"u1")
	assert.Equal(t, want, h[HeaderSecretKey])

	// registration variant drops the user binding
	h = s.Headers("")
	_, hasUser := h[HeaderUserID]
	assert.False(t, hasUser)
	assert.Equal(t, Sign(testSecret, "req-1"+h[HeaderTimestamp]), h[HeaderSecretKey])
}

func TestSigner_KYCInitParams(t *testing.T) {
	now := time.Unix(1_700_000_456, 0)
	s := NewSigner(testClientID, testSecret)
	s.now = func() time.Time { return now }

	p := s.KYCInitParams("u9")
	assert.Equal(t, now.Unix(), p.Timestamp)
	want := Sign(testSecret, testClientID+strconv.FormatInt(now.Unix(), 10)+"sdk"+"u9")
	assert.Equal(t, want, p.Secret)
}
