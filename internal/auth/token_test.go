package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAccessToken(t *testing.T) {
	t.Run("Cookie Preferred", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "cookie_token"})
		req.Header.Set("Authorization", "Bearer header_token")

		assert.Equal(t, "cookie_token", ExtractAccessToken(req))
	})

	t.Run("Empty Cookie Falls Back to Header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: ""})
		req.Header.Set("Authorization", "bearer header_token")

		assert.Equal(t, "header_token", ExtractAccessToken(req))
	})

	t.Run("No Token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.Empty(t, ExtractAccessToken(req))
	})

	t.Run("Wrong Scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic user:pass")
		assert.Empty(t, ExtractAccessToken(req))
	})
}

func TestParseToken(t *testing.T) {
	const secret = "test-secret"

	t.Run("Valid", func(t *testing.T) {
		token, err := NewToken(secret, "user-1", "payer@example.com", time.Hour)
		require.NoError(t, err)

		claims, err := ParseToken(token, secret)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.UserID)
		assert.Equal(t, "payer@example.com", claims.Email)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := NewToken(secret, "user-1", "", -time.Hour)
		require.NoError(t, err)

		_, err = ParseToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Wrong secret", func(t *testing.T) {
		token, err := NewToken("other-secret", "user-1", "", time.Hour)
		require.NoError(t, err)

		_, err = ParseToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Missing user id", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		_, err = ParseToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("Other algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
			"user_id": "user-1",
		}).SignedString([]byte(secret))
		require.NoError(t, err)

		_, err = ParseToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("No secret configured", func(t *testing.T) {
		_, err := ParseToken("anything", "")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
