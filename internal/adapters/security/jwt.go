package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

// JWTSigner implements ports.JwtIssuer with RS256.
// Keys are held at adapter level so the application layer stays crypto-library agnostic.
type JWTSigner struct {
	kid        string
	issuer     string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	nowFn      func() time.Time
}

// NewJWTSigner builds a signer from configured PEM keys.
func NewJWTSigner(kid, issuer, privateKeyPEM, publicKeyPEM string) (*JWTSigner, error) {
	if kid == "" {
		return nil, errors.New("jwt key id (kid) is required")
	}
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, errors.New("jwt private/public keys are required")
	}

	priv, err := parseRSAPrivate(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	pub, err := parseRSAPublic(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return newSigner(kid, issuer, priv, pub), nil
}

// NewEphemeralJWTSigner creates an in-memory keypair for local/dev use.
// Tokens do not survive a restart.
func NewEphemeralJWTSigner(kid, issuer string) (*JWTSigner, error) {
	if kid == "" {
		kid = "ephemeral-key-1"
	}
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newSigner(kid, issuer, privateKey, &privateKey.PublicKey), nil
}

func newSigner(kid, issuer string, priv *rsa.PrivateKey, pub *rsa.PublicKey) *JWTSigner {
	return &JWTSigner{
		kid:        kid,
		issuer:     issuer,
		privateKey: priv,
		publicKey:  pub,
		nowFn:      time.Now,
	}
}

// WithClock replaces the clock used for issuing and validating tokens.
func (s *JWTSigner) WithClock(now func() time.Time) *JWTSigner {
	s.nowFn = now
	return s
}

type accountJWTClaims struct {
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"perm,omitempty"`
	Use         string   `json:"use"`
	RefreshID   string   `json:"rid,omitempty"`
	jwt.RegisteredClaims
}

func (s *JWTSigner) Generate(claims ports.TokenClaims, lifetime time.Duration) (string, time.Time, uuid.UUID, error) {
	if lifetime <= 0 {
		return "", time.Time{}, uuid.Nil, errors.New("token lifetime must be positive")
	}
	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = s.nowFn()
	}
	issuedAt = issuedAt.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(lifetime)

	tokenID := claims.TokenID
	if tokenID == uuid.Nil {
		tokenID = uuid.Must(uuid.NewV7())
	}
	refreshID := ""
	if claims.RefreshID != uuid.Nil {
		refreshID = claims.RefreshID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, accountJWTClaims{
		Email:       claims.Email,
		Permissions: claims.Permissions,
		Use:         string(claims.Use),
		RefreshID:   refreshID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(claims.AccountID, 10),
			ID:        tokenID.String(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	token.Header["kid"] = s.kid
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", time.Time{}, uuid.Nil, err
	}
	return signed, expiresAt, tokenID, nil
}

// Validate verifies signature and time claims. Expired tokens wrap
// domain.ErrTokenExpired; every other failure wraps domain.ErrUnauthorized.
func (s *JWTSigner) Validate(raw string) (ports.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.nowFn),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(raw, &accountJWTClaims{}, func(token *jwt.Token) (any, error) {
		return s.publicKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ports.TokenClaims{}, fmt.Errorf("%w: %v", domain.ErrTokenExpired, err)
		}
		return ports.TokenClaims{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*accountJWTClaims)
	if !ok || !parsed.Valid {
		return ports.TokenClaims{}, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthorized)
	}

	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return ports.TokenClaims{}, fmt.Errorf("%w: parse subject", domain.ErrUnauthorized)
	}
	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return ports.TokenClaims{}, fmt.Errorf("%w: parse jti", domain.ErrUnauthorized)
	}
	var refreshID uuid.UUID
	if claims.RefreshID != "" {
		if refreshID, err = uuid.Parse(claims.RefreshID); err != nil {
			return ports.TokenClaims{}, fmt.Errorf("%w: parse rid", domain.ErrUnauthorized)
		}
	}
	kid, _ := parsed.Header["kid"].(string)

	out := ports.TokenClaims{
		AccountID:   accountID,
		Email:       claims.Email,
		Permissions: claims.Permissions,
		Use:         ports.TokenUse(claims.Use),
		RefreshID:   refreshID,
		TokenID:     tokenID,
		ExpiresAt:   claims.ExpiresAt.Time.UTC(),
		KeyID:       kid,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return out, nil
}

func (s *JWTSigner) PublicJWKs() ([]map[string]any, error) {
	e := big.NewInt(int64(s.publicKey.E)).Bytes()
	n := s.publicKey.N.Bytes()

	return []map[string]any{
		{
			"kid": s.kid,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(n),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		},
	}, nil
}

func parseRSAPrivate(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid private PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
