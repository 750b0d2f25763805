package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"bearer   abc", "abc", nil},
		{"", "", ErrMissingToken},
		{"Bearer ", "", ErrInvalidToken},
		{"Bearer", "", ErrInvalidToken},
		{"Basic dXNlcjpwYXNz", "", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := ParseBearer(tt.header)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIssueAndVerify(t *testing.T) {
	v, err := NewVerifier(testSecret)
	require.NoError(t, err)

	token, err := v.Issue("user-42", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)

	claims, err = v.VerifyHeader("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", claims.Subject)
}

func TestVerifyRejects(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	other, _ := NewVerifier("another-secret")
	foreign, _ := NewVerifier(testSecret, WithIssuer("someone-else"))

	wrongKey, _ := other.Issue("u", time.Hour)
	wrongIssuer, _ := foreign.Issue("u", time.Hour)

	past := time.Now().Add(-2 * time.Hour)
	expiredIssuer, _ := NewVerifier(testSecret)
	expiredIssuer.now = func() time.Time { return past }
	expired, _ := expiredIssuer.Issue("u", time.Minute)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer, Subject: "u"},
	}).SignedString([]byte(testSecret))

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))

	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "u",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no expiry":    noExp,
		"no subject":   noSubject,
		"wrong alg":    hs512,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestIssueRequiresSubject(t *testing.T) {
	v, _ := NewVerifier(testSecret)
	_, err := v.Issue("", 0)
	assert.Error(t, err)
}
