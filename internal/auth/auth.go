package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SubprotocolMarker precedes the token in Sec-WebSocket-Protocol.
	SubprotocolMarker = "access_token"

	DefaultIssuer   = "courier"
	DefaultTokenTTL = 24 * time.Hour
)

// Claims carried by courier tokens.
type Claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UnmarshalJSON accepts a numeric userId as well as a string one; issuers
// keyed by integer ids sign the raw number. Any other type leaves UserID empty.
func (c *Claims) UnmarshalJSON(data []byte) error {
	type plainClaims Claims
	aux := struct {
		UserID json.RawMessage `json:"userId"`
		*plainClaims
	}{plainClaims: (*plainClaims)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.UserID = ""
	if len(aux.UserID) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(aux.UserID))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		c.UserID = v
	case json.Number:
		c.UserID = v.String()
	}
	return nil
}

// Authenticator verifies and issues HS256 tokens for one secret and issuer.
type Authenticator struct {
	secret []byte
	issuer string
	clock  clock.Clock
	parser *jwt.Parser
}

// NewAuthenticator creates an authenticator. An empty issuer uses DefaultIssuer
// and a nil clock uses wall time.
func NewAuthenticator(secret, issuer string, clk clock.Clock) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		clock:  clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithTimeFunc(clk.Now),
		),
	}, nil
}

// VerifyToken checks signature, algorithm, issuer and expiry and returns the claims.
func (a *Authenticator) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := a.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}

// SignToken issues a token for userID valid for ttl. A non-positive ttl uses DefaultTokenTTL.
func (a *Authenticator) SignToken(userID, name string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := a.clock.Now()

	claims := Claims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Authenticate extracts and verifies the token carried by r.
func (a *Authenticator) Authenticate(r *http.Request) (*Claims, error) {
	return a.VerifyToken(ExtractToken(r))
}

// ExtractToken returns the bearer token from the ?token= query parameter or,
// failing that, the Sec-WebSocket-Protocol entry right after the access_token
// marker. It returns "" when neither is present.
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	var parts []string
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, part := range strings.Split(header, ",") {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	for i, part := range parts {
		if part == SubprotocolMarker && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1]
		}
	}
	return ""
}
