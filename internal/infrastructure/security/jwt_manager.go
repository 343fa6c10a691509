package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
	domainErrors "github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/errors"
	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/domain/models"
)

// JWTManager управляет выпуском и разбором подписанных токенов.
// Время берется из внедряемой функции, чтобы тесты могли двигать часы.
type JWTManager struct {
	secret          []byte
	issuer          string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

// NewJWTManager создает новый менеджер токенов
func NewJWTManager(cfg config.JWTConfig) *JWTManager {
	return &JWTManager{
		secret:          []byte(cfg.Secret),
		issuer:          cfg.Issuer,
		accessTokenTTL:  cfg.AccessTokenTTL,
		refreshTokenTTL: cfg.RefreshTokenTTL,
		now:             time.Now,
	}
}

// WithNowFunc заменяет источник времени; используется тестами
func (m *JWTManager) WithNowFunc(now func() time.Time) *JWTManager {
	m.now = now
	return m
}

// AccessTokenTTL возвращает срок жизни access токена
func (m *JWTManager) AccessTokenTTL() time.Duration { return m.accessTokenTTL }

// RefreshTokenTTL возвращает срок жизни refresh токена
func (m *JWTManager) RefreshTokenTTL() time.Duration { return m.refreshTokenTTL }

// Generate выпускает подписанный токен указанного типа для пары
// (userID, sessionID). Каждый токен получает собственный jti.
func (m *JWTManager) Generate(tokenType models.TokenType, userID, sessionID string) (string, *models.Claims, error) {
	now := m.now()

	ttl := m.accessTokenTTL
	if tokenType == models.RefreshToken {
		ttl = m.refreshTokenTTL
	}

	claims := &models.Claims{
		UserID:    userID,
		SessionID: sessionID,
		TokenType: string(tokenType),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, claims, nil
}

// Parse разбирает и проверяет подпись и сроки токена.
// Истекший токен возвращает domainErrors.ErrExpiredToken, любой другой
// дефект - domainErrors.ErrInvalidToken.
func (m *JWTManager) Parse(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc,
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuer(m.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainErrors.ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, domainErrors.ErrInvalidToken
	}
	return claims, nil
}

// ParseAllowExpired разбирает токен, пропуская проверку сроков.
// Нужен для best-effort logout: отозвать можно и истекший токен.
func (m *JWTManager) ParseAllowExpired(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc,
		jwt.WithTimeFunc(m.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, domainErrors.ErrInvalidToken
	}
	return claims, nil
}

func (m *JWTManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return m.secret, nil
}
