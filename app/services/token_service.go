// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sondeo-app/sondeo/models"
	"github.com/sondeo-app/sondeo/repository"
	"github.com/sondeo-app/sondeo/utils"
)

// Token service error constants
var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
	ErrTokenUnknown = errors.New("token is not registered")
)

// TokenService issues and validates the signed tokens that gate public access
// to a single delivery, plus the bearer tokens of the admin API.
type TokenService interface {
	IssueDeliveryToken(ctx context.Context, delivery *models.Delivery) (string, error)
	ValidateDeliveryToken(ctx context.Context, token string) (*DeliveryTokenClaims, error)
	RevokeDeliveryToken(ctx context.Context, deliveryID uint) error
	GenerateAdminToken(adminID uint) (string, error)
	ValidateAdminToken(token string) (*AdminTokenClaims, error)
}

// DeliveryTokenClaims represents the claims in a delivery access token
type DeliveryTokenClaims struct {
	DeliveryUUID uuid.UUID `json:"delivery_uuid"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenID      string    `json:"jti"`
}

// AdminTokenClaims represents claims for admin JWTs
type AdminTokenClaims struct {
	AdminID   uint      `json:"admin_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenID   string    `json:"jti"`
}

// TokenServiceImpl implements TokenService
type TokenServiceImpl struct {
	deliveryTokenTTL time.Duration
	adminTokenTTL    time.Duration
	signingMethod    jwt.SigningMethod
	privateKey       *rsa.PrivateKey
	publicKey        *rsa.PublicKey
	secretKey        []byte
	useRSAKeys       bool
	issuer           string
	audience         string
	tokenRepo        repository.AccessTokenRepository
}

// NewTokenService creates a new token service
func NewTokenService(deliveryTokenTTL, adminTokenTTL time.Duration, issuer, audience string, useRSAKeys bool, privateKeyPEM, publicKeyPEM, secretKey string, tokenRepo repository.AccessTokenRepository) (TokenService, error) {
	var privateKey *rsa.PrivateKey
	var publicKey *rsa.PublicKey
	var secretKeyBytes []byte
	var signingMethod jwt.SigningMethod

	if useRSAKeys {
		var err error
		privateKey, publicKey, err = parseRSAKeys(privateKeyPEM, publicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse RSA keys: %w", err)
		}
		signingMethod = jwt.SigningMethodRS256
	} else {
		if secretKey == "" {
			return nil, fmt.Errorf("secret key is required when not using RSA keys")
		}
		secretKeyBytes = []byte(secretKey)
		signingMethod = jwt.SigningMethodHS256
	}

	return &TokenServiceImpl{
		deliveryTokenTTL: deliveryTokenTTL,
		adminTokenTTL:    adminTokenTTL,
		signingMethod:    signingMethod,
		privateKey:       privateKey,
		publicKey:        publicKey,
		secretKey:        secretKeyBytes,
		useRSAKeys:       useRSAKeys,
		issuer:           issuer,
		audience:         audience,
		tokenRepo:        tokenRepo,
	}, nil
}

// parseRSAKeys parses RSA private and public keys from PEM format
func parseRSAKeys(privateKeyPEM, publicKeyPEM string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if privateKeyPEM == "" || publicKeyPEM == "" {
		return nil, nil, fmt.Errorf("both private and public keys are required")
	}

	privateKeyBlock, _ := pem.Decode([]byte(privateKeyPEM))
	if privateKeyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode private key")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(privateKeyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	publicKeyBlock, _ := pem.Decode([]byte(publicKeyPEM))
	if publicKeyBlock == nil {
		return nil, nil, fmt.Errorf("failed to decode public key")
	}

	publicKey, err := x509.ParsePKIXPublicKey(publicKeyBlock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPublicKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, nil, fmt.Errorf("public key is not RSA")
	}

	return privateKey, rsaPublicKey, nil
}

// IssueDeliveryToken signs a token scoped to the given delivery and registers
// it so it can be revoked later. The token expiry matches the delivery's own
// deadline when one is set, otherwise the configured TTL applies.
func (s *TokenServiceImpl) IssueDeliveryToken(ctx context.Context, delivery *models.Delivery) (string, error) {
	now := utils.UTCNow()

	expiresAt := now.Add(s.deliveryTokenTTL)
	if delivery.ExpiresAt != nil && delivery.ExpiresAt.Before(expiresAt) {
		expiresAt = *delivery.ExpiresAt
	}

	tokenID, err := generateTokenID()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"delivery_uuid": delivery.UUID.String(),
		"jti":           tokenID,
		"iat":           now.Unix(),
		"exp":           expiresAt.Unix(),
		"iss":           s.issuer,
		"aud":           s.audience,
	}

	token, err := s.generateToken(claims)
	if err != nil {
		return "", err
	}

	record := &models.AccessToken{
		Token:      token,
		DeliveryID: delivery.ID,
		ExpiresAt:  &expiresAt,
	}
	if err := s.tokenRepo.Save(ctx, record); err != nil {
		return "", fmt.Errorf("failed to register delivery token: %w", err)
	}

	return token, nil
}

// ValidateDeliveryToken verifies the signature and claims of a delivery token
// and cross-checks the registration row. A token whose row is missing or
// revoked is rejected even when the signature still verifies.
func (s *TokenServiceImpl) ValidateDeliveryToken(ctx context.Context, token string) (*DeliveryTokenClaims, error) {
	claims, err := s.parseClaims(token)
	if err != nil {
		return nil, err
	}

	deliveryUUID, ok := claims["delivery_uuid"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}

	parsedUUID, err := uuid.Parse(deliveryUUID)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	tokenID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}

	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	expiresAt, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}

	if utils.UTCNow().After(time.Unix(int64(expiresAt), 0)) {
		return nil, ErrTokenExpired
	}

	record, err := s.tokenRepo.ByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to look up delivery token: %w", err)
	}
	if record == nil {
		return nil, ErrTokenUnknown
	}
	if record.IsRevoked() {
		return nil, ErrTokenRevoked
	}
	if record.IsExpired() {
		return nil, ErrTokenExpired
	}

	return &DeliveryTokenClaims{
		DeliveryUUID: parsedUUID,
		TokenID:      tokenID,
		IssuedAt:     time.Unix(int64(issuedAt), 0),
		ExpiresAt:    time.Unix(int64(expiresAt), 0),
	}, nil
}

// RevokeDeliveryToken invalidates the token bound to a delivery
func (s *TokenServiceImpl) RevokeDeliveryToken(ctx context.Context, deliveryID uint) error {
	return s.tokenRepo.RevokeByDeliveryID(ctx, deliveryID)
}

// GenerateAdminToken generates a bearer token for the admin API
func (s *TokenServiceImpl) GenerateAdminToken(adminID uint) (string, error) {
	now := utils.UTCNow()

	tokenID, err := generateTokenID()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"admin_id": adminID,
		"jti":      tokenID,
		"iat":      now.Unix(),
		"exp":      now.Add(s.adminTokenTTL).Unix(),
		"iss":      s.issuer,
		"aud":      s.audience,
	}

	return s.generateToken(claims)
}

// ValidateAdminToken validates an admin JWT and returns admin-specific claims
func (s *TokenServiceImpl) ValidateAdminToken(token string) (*AdminTokenClaims, error) {
	claims, err := s.parseClaims(token)
	if err != nil {
		return nil, err
	}

	adminID, ok := claims["admin_id"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}
	tokenID, ok := claims["jti"].(string)
	if !ok {
		return nil, ErrTokenInvalid
	}
	issuedAt, ok := claims["iat"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}
	expiresAt, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrTokenInvalid
	}
	if utils.UTCNow().After(time.Unix(int64(expiresAt), 0)) {
		return nil, ErrTokenExpired
	}

	return &AdminTokenClaims{
		AdminID:   uint(adminID),
		TokenID:   tokenID,
		IssuedAt:  time.Unix(int64(issuedAt), 0),
		ExpiresAt: time.Unix(int64(expiresAt), 0),
	}, nil
}

// parseClaims verifies the signature and returns the raw claim map
func (s *TokenServiceImpl) parseClaims(token string) (jwt.MapClaims, error) {
	var err error
	var parsedToken *jwt.Token

	if s.useRSAKeys {
		parsedToken, err = jwt.Parse(token, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.publicKey, nil
		})
	} else {
		parsedToken, err = jwt.Parse(token, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secretKey, nil
		})
	}

	if err != nil {
		if strings.Contains(err.Error(), "expired") || strings.Contains(err.Error(), "exp") {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	if !parsedToken.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// generateToken creates a signed JWT token
func (s *TokenServiceImpl) generateToken(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.signingMethod, claims)

	var signedString string
	var err error

	if s.useRSAKeys {
		signedString, err = token.SignedString(s.privateKey)
	} else {
		signedString, err = token.SignedString(s.secretKey)
	}

	if err != nil {
		return "", err
	}

	return signedString, nil
}

// generateTokenID generates a unique token ID
func generateTokenID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bytes), nil
}
