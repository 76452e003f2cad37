package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercuryhooks/pkg/signature"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("mercury-webhook-secret"))

func TestVerify_ValidSignature(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{"id":"evt_1","resourceType":"transaction"}`)

	mac := hmac.New(sha256.New, []byte("mercury-webhook-secret"))
	_, err := mac.Write([]byte(strconv.FormatInt(now.Unix(), 10) + "." + string(body)))
	require.NoError(t, err)
	header := "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=" + hex.EncodeToString(mac.Sum(nil))

	require.NoError(t, signature.Verify(header, body, testSecret, 5*time.Minute, now))
}

func TestVerify_SignMatchesWithinSkew(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{"id":"evt_2"}`)

	for _, offset := range []time.Duration{0, -4 * time.Minute, 4 * time.Minute, -5 * time.Minute} {
		header, err := signature.Sign(body, testSecret, now.Add(offset))
		require.NoError(t, err)
		assert.NoError(t, signature.Verify(header, body, testSecret, 5*time.Minute, now), "offset %s", offset)
	}
}

func TestVerify_BodyMutationFails(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{"amount":-150.00}`)
	header, err := signature.Sign(body, testSecret, now)
	require.NoError(t, err)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		err := signature.Verify(header, mutated, testSecret, 5*time.Minute, now)
		assert.ErrorIs(t, err, signature.ErrSignatureMismatch, "byte %d", i)
	}
}

func TestVerify_DigestMutationFails(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{"amount":-150.00}`)
	header, err := signature.Sign(body, testSecret, now)
	require.NoError(t, err)

	raw := []byte(header)
	last := len(raw) - 1
	if raw[last] == '0' {
		raw[last] = '1'
	} else {
		raw[last] = '0'
	}
	err = signature.Verify(string(raw), body, testSecret, 5*time.Minute, now)
	assert.ErrorIs(t, err, signature.ErrSignatureMismatch)
}

func TestVerify_ReencodedBodyFails(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{"a": 1,  "b":2}`)
	header, err := signature.Sign(body, testSecret, now)
	require.NoError(t, err)

	err = signature.Verify(header, []byte(`{"a":1,"b":2}`), testSecret, 5*time.Minute, now)
	assert.ErrorIs(t, err, signature.ErrSignatureMismatch)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{"id":"evt_3"}`)

	old, err := signature.Sign(body, testSecret, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.ErrorIs(t, signature.Verify(old, body, testSecret, 5*time.Minute, now), signature.ErrStaleTimestamp)

	future, err := signature.Sign(body, testSecret, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.ErrorIs(t, signature.Verify(future, body, testSecret, 5*time.Minute, now), signature.ErrStaleTimestamp)

	// stale wins even when the digest is wrong
	bogus := "t=" + strconv.FormatInt(now.Add(-time.Hour).Unix(), 10) + ",v1=deadbeef"
	assert.ErrorIs(t, signature.Verify(bogus, body, testSecret, 5*time.Minute, now), signature.ErrStaleTimestamp)
}

func TestVerify_StricterTolerance(t *testing.T) {
	now := time.Unix(1735689600, 0)
	body := []byte(`{}`)
	header, err := signature.Sign(body, testSecret, now.Add(-2*time.Minute))
	require.NoError(t, err)

	assert.ErrorIs(t, signature.Verify(header, body, testSecret, time.Minute, now), signature.ErrStaleTimestamp)
	assert.NoError(t, signature.Verify(header, body, testSecret, 0, now))
}

func TestVerify_MalformedHeader(t *testing.T) {
	now := time.Unix(1735689600, 0)
	cases := []string{
		"",
		"garbage",
		"t=1735689600",
		"v1=abcd",
		"t=notanumber,v1=abcd",
		"t=1735689600,v1=zz",
		"t=1735689600;v1=abcd",
		"t=1735689600,t=1735689600,v1=abcd",
		"t=1735689600,v1=abcd,v1=abcd",
		"t=,t=1735689600,v1=abcd",
	}
	for _, header := range cases {
		err := signature.Verify(header, []byte(`{}`), testSecret, 5*time.Minute, now)
		assert.ErrorIs(t, err, signature.ErrMalformedHeader, "header %q", header)
	}
}

func TestVerify_InvalidSecret(t *testing.T) {
	now := time.Unix(1735689600, 0)
	header := "t=" + strconv.FormatInt(now.Unix(), 10) + ",v1=abcd"

	assert.ErrorIs(t, signature.Verify(header, []byte(`{}`), "not base64!!", 5*time.Minute, now), signature.ErrInvalidSecret)
	assert.ErrorIs(t, signature.Verify(header, []byte(`{}`), "", 5*time.Minute, now), signature.ErrInvalidSecret)
}

func TestVerifier_UsesClock(t *testing.T) {
	signedAt := time.Unix(1735689600, 0)
	body := []byte(`{"id":"evt_4"}`)
	header, err := signature.Sign(body, testSecret, signedAt)
	require.NoError(t, err)

	v := signature.NewVerifier(time.Minute).WithClock(func() time.Time { return signedAt.Add(30 * time.Second) })
	assert.NoError(t, v.Verify(header, body, testSecret))

	late := v.WithClock(func() time.Time { return signedAt.Add(2 * time.Minute) })
	assert.ErrorIs(t, late.Verify(header, body, testSecret), signature.ErrStaleTimestamp)
}
