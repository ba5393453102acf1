package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestAuthenticator(t *testing.T) (*Authenticator, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	a, err := NewAuthenticator(testSecret, "courier", mock)
	require.NoError(t, err)
	return a, mock
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("", "courier", nil)
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	token, err := a.SignToken("alice", "Alice", 0)
	require.NoError(t, err)

	claims, err := a.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "courier", claims.Issuer)
}

func TestVerifyToken_Expired(t *testing.T) {
	a, mock := newTestAuthenticator(t)

	token, err := a.SignToken("alice", "", time.Minute)
	require.NoError(t, err)

	mock.Add(2 * time.Minute)
	_, err = a.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, "Token expired", StatusText(err))
	assert.Equal(t, "expired", Reason(err))
}

func TestVerifyToken_Rejections(t *testing.T) {
	a, mock := newTestAuthenticator(t)
	now := mock.Now()
	valid := jwt.RegisteredClaims{
		Issuer:    "courier",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	tests := []struct {
		name   string
		token  string
		target error
		text   string
	}{
		{"empty", "", ErrMissingToken, "Unauthorized"},
		{"garbage", "not.a.token", ErrInvalidToken, "Invalid token"},
		{
			"wrong secret",
			sign(t, jwt.SigningMethodHS256, []byte("other"), Claims{UserID: "alice", RegisteredClaims: valid}),
			ErrInvalidToken, "Invalid token",
		},
		{
			"wrong issuer",
			sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{UserID: "alice", RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}}),
			ErrInvalidToken, "Invalid token",
		},
		{
			"hs512",
			sign(t, jwt.SigningMethodHS512, []byte(testSecret), Claims{UserID: "alice", RegisteredClaims: valid}),
			ErrInvalidToken, "Invalid token",
		},
		{
			"missing user id",
			sign(t, jwt.SigningMethodHS256, []byte(testSecret), Claims{Name: "nobody", RegisteredClaims: valid}),
			ErrMissingUserID, "Missing userId in token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := a.VerifyToken(tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.text, StatusText(err))
		})
	}
}

func TestVerifyToken_UserIDClaimTypes(t *testing.T) {
	a, mock := newTestAuthenticator(t)
	base := jwt.MapClaims{
		"iss": "courier",
		"exp": mock.Now().Add(time.Hour).Unix(),
	}
	withUserID := func(userID interface{}) string {
		claims := jwt.MapClaims{"userId": userID, "name": "Numeric"}
		for k, v := range base {
			claims[k] = v
		}
		return sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
	}

	claims, err := a.VerifyToken(withUserID(42))
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
	assert.Equal(t, "Numeric", claims.Name)

	claims, err = a.VerifyToken(withUserID("user_42"))
	require.NoError(t, err)
	assert.Equal(t, "user_42", claims.UserID)

	for _, unusable := range []interface{}{true, map[string]interface{}{"id": 1}, nil} {
		_, err = a.VerifyToken(withUserID(unusable))
		assert.ErrorIs(t, err, ErrMissingUserID, "userId %v", unusable)
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		protocols []string
		want      string
	}{
		{"query", "/ws?token=abc", nil, "abc"},
		{"query wins", "/ws?token=abc", []string{"access_token, def"}, "abc"},
		{"subprotocol", "/ws", []string{"access_token, def"}, "def"},
		{"subprotocol split headers", "/ws", []string{"chat", "access_token", "def"}, "def"},
		{"marker last", "/ws", []string{"chat, access_token"}, ""},
		{"no marker", "/ws", []string{"chat, def"}, ""},
		{"nothing", "/ws", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.target, nil)
			for _, p := range tt.protocols {
				r.Header.Add("Sec-WebSocket-Protocol", p)
			}
			assert.Equal(t, tt.want, ExtractToken(r))
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	token, err := a.SignToken("bob", "", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "access_token, "+token)

	claims, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", claims.UserID)

	_, err = a.Authenticate(httptest.NewRequest("GET", "/ws", nil))
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Equal(t, "missing_token", Reason(err))
}
