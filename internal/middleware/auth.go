package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maynagashev/snapkeeper/internal/services"
)

// Тип для ключа контекста.
type contextKey string

// SubjectKey - ключ контекста с идентификатором аутентифицированного клиента.
const SubjectKey contextKey = "subject"

// APIKeySubject - субъект запросов, прошедших проверку по API-ключу.
const APIKeySubject = "api-key"

// Authenticator проверяет заголовок Authorization: Bearer <token>.
// Токен принимается, если это валидный JWT или API-ключ, совпадающий с одним из хешей.
type Authenticator struct {
	tokens    *services.TokenService
	keyHashes []string
}

// NewAuthenticator создает middleware аутентификации.
// tokens может быть nil, если JWT не используются.
func NewAuthenticator(tokens *services.TokenService, keyHashes []string) *Authenticator {
	return &Authenticator{tokens: tokens, keyHashes: keyHashes}
}

// Enabled сообщает, настроен ли хотя бы один способ аутентификации.
func (a *Authenticator) Enabled() bool {
	return a.tokens != nil || len(a.keyHashes) > 0
}

// Middleware возвращает обработчик с проверкой токена.
// Без настроенных способов аутентификации запросы пропускаются как есть.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		slog.Warn("[AuthMiddleware] Аутентификация отключена: не задан ни секрет JWT, ни хеши API-ключей")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			slog.Info("[AuthMiddleware] Заголовок Authorization отсутствует", "path", r.URL.Path)
			http.Error(w, "Требуется аутентификация", http.StatusUnauthorized)
			return
		}

		// Проверяем формат "Bearer token"
		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
			slog.Info("[AuthMiddleware] Неверный формат заголовка Authorization")
			http.Error(w, "Неверный формат токена", http.StatusUnauthorized)
			return
		}

		subject, ok := a.authenticate(headerParts[1])
		if !ok {
			http.Error(w, "Невалидный токен", http.StatusUnauthorized)
			return
		}

		slog.Debug("[AuthMiddleware] Клиент аутентифицирован", "subject", subject)
		ctx := context.WithValue(r.Context(), SubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(token string) (string, bool) {
	if a.tokens != nil {
		claims, err := a.tokens.Parse(token)
		if err == nil {
			return claims.Subject, true
		}
		slog.Debug("[AuthMiddleware] Токен не прошел проверку JWT", "error", err)
	}
	if services.CheckAPIKey(a.keyHashes, token) {
		return APIKeySubject, true
	}
	slog.Info("[AuthMiddleware] Предоставлен невалидный токен")
	return "", false
}

// GetSubjectFromContext извлекает субъект из контекста запроса.
func GetSubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}
