package services

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenService(t *testing.T) {
	_, err := NewTokenService("", time.Hour)
	require.ErrorIs(t, err, ErrEmptySecret)

	s, err := NewTokenService("secret", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, s.ttl)
}

func TestTokenService_IssueParse(t *testing.T) {
	s, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)
	issuedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issuedAt }

	token, err := s.Issue("ci-runner")
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-runner", claims.Subject)
	assert.Equal(t, tokenIssuer, claims.Issuer)
	assert.Equal(t, issuedAt.Add(time.Hour), claims.ExpiresAt.Time.UTC())

	_, err = s.Issue("")
	assert.ErrorIs(t, err, ErrEmptySubject)
}

func TestTokenService_ParseRejects(t *testing.T) {
	s, err := NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)
	issuedAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issuedAt }
	valid, err := s.Issue("ci")
	require.NoError(t, err)

	other, err := NewTokenService("other-secret", time.Hour)
	require.NoError(t, err)
	other.now = s.now
	foreign, err := other.Issue("ci")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ci", Issuer: tokenIssuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ci",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		now   time.Time
	}{
		{name: "Чужой секрет", token: foreign, now: issuedAt},
		{name: "Истекший токен", token: valid, now: issuedAt.Add(2 * time.Hour)},
		{name: "Алгоритм none", token: noneToken, now: issuedAt},
		{name: "Чужой издатель", token: wrongIssuer, now: issuedAt},
		{name: "Мусор", token: "not.a.token", now: issuedAt},
		{name: "Испорченная подпись", token: valid[:len(valid)-2] + "xx", now: issuedAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.now = func() time.Time { return tt.now }
			_, parseErr := s.Parse(tt.token)
			assert.ErrorIs(t, parseErr, ErrInvalidToken)
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	_, err := HashAPIKey("")
	require.ErrorIs(t, err, ErrEmptyAPIKey)

	hash, err := HashAPIKey("key-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))
	assert.NotContains(t, hash, "key-1")

	other, err := HashAPIKey("key-2")
	require.NoError(t, err)

	tests := []struct {
		name   string
		hashes []string
		key    string
		want   bool
	}{
		{name: "Совпадает первый", hashes: []string{hash, other}, key: "key-1", want: true},
		{name: "Совпадает второй", hashes: []string{hash, other}, key: "key-2", want: true},
		{name: "Неизвестный ключ", hashes: []string{hash, other}, key: "key-3", want: false},
		{name: "Пустой ключ", hashes: []string{hash}, key: "", want: false},
		{name: "Нет хешей", hashes: nil, key: "key-1", want: false},
		{name: "Поврежденный хеш", hashes: []string{"plain"}, key: "plain", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckAPIKey(tt.hashes, tt.key))
		})
	}
}
