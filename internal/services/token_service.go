package services

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenTTL - время жизни токена по умолчанию.
	DefaultTokenTTL = time.Hour * 24
	tokenIssuer     = "snapkeeper-server"
)

// Ошибки сервиса токенов.
var (
	ErrEmptySecret  = errors.New("не задан секрет для подписи токенов")
	ErrEmptySubject = errors.New("не задан субъект токена")
	ErrInvalidToken = errors.New("невалидный токен")
	ErrEmptyAPIKey  = errors.New("API-ключ не может быть пустым")
)

// Claims - полезная нагрузка JWT. Subject идентифицирует клиента API.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService выпускает и проверяет HS256 токены доступа к API версий.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService создает сервис токенов. ttl <= 0 заменяется DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue создает и подписывает токен для субъекта.
func (s *TokenService) Issue(subject string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)), // Время истечения
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("ошибка подписи JWT: %w", err)
	}
	slog.Info("[TokenService] Выпущен токен", "subject", subject, "expiresAt", claims.ExpiresAt.Time)
	return signedToken, nil
}

// Parse проверяет подпись, срок действия и издателя токена.
func (s *TokenService) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Убеждаемся, что метод подписи - HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashAPIKey возвращает bcrypt-хеш API-ключа для конфигурации сервера.
func HashAPIKey(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyAPIKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка хеширования API-ключа: %w", err)
	}
	return string(hash), nil
}

// CheckAPIKey сообщает, совпадает ли ключ с одним из хешей.
func CheckAPIKey(hashes []string, key string) bool {
	if key == "" {
		return false
	}
	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return true
		}
	}
	return false
}
