package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maynagashev/snapkeeper/internal/storage"
)

// RetryableError помечает ошибку попытки как повторяемую с задержкой, которую назначил сервер.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	if e == nil {
		return ""
	}
	if e.Delay > 0 {
		return fmt.Sprintf("повтор через %s: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("повтор: %v", e.Err)
}

func (e *RetryableError) RetryDelay() time.Duration {
	if e == nil {
		return 0
	}
	return e.Delay
}

func (e *RetryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// retryAfter оборачивает err задержкой повтора.
func retryAfter(err error, delay time.Duration) error {
	if err == nil {
		err = errors.New("запрошен повтор")
	}
	if delay < 0 {
		delay = 0
	}
	return &RetryableError{Err: err, Delay: delay}
}

// serverDelay извлекает задержку, назначенную сервером.
func serverDelay(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) && re.Delay > 0 {
		return re.Delay, true
	}
	return 0, false
}

// unwrapRetry снимает обертку RetryableError, чтобы вызывающий получил исходную ошибку.
func unwrapRetry(err error) error {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}

// StatusError - неуспешный HTTP-ответ сервера.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("статус %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("статус %d", e.Status)
}

// shouldRetry решает, стоит ли повторять попытку после err.
// Ответы 4xx повторяются только для 408 и 429: остальные не изменятся при повторе.
func shouldRetry(err error) bool {
	err = unwrapRetry(err)
	if !storage.IsRetryable(err) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return se.Status == http.StatusRequestTimeout || se.Status == http.StatusTooManyRequests
	}
	return true
}

// parseRetryAfter разбирает заголовок Retry-After: число секунд или HTTP-дату.
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// retryPolicy задает число попыток и задержку между ними.
type retryPolicy struct {
	retries int           // Повторы сверх первой попытки
	delay   time.Duration // Базовая задержка, n-я пауза равна delay*n
	timeout time.Duration // Ограничение на одну попытку
}

// sleepFunc ждет d или отмены ctx.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// run выполняет attempt до retries+1 раз. Возвращает первую удачу или последнюю ошибку без изменений.
func (p retryPolicy) run(
	ctx context.Context,
	sleep sleepFunc,
	operation string,
	attempt func(ctx context.Context) error,
) error {
	maxAttempts := p.retries + 1
	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := attempt(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if n == maxAttempts || !shouldRetry(err) {
			break
		}

		delay := p.delay * time.Duration(n)
		if d, ok := serverDelay(err); ok {
			delay = d
		}
		slog.Warn("Повтор запроса к удаленному хранилищу",
			"operation", operation, "attempt", n, "maxAttempts", maxAttempts, "delay", delay, "error", err)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			break
		}
	}
	return unwrapRetry(lastErr)
}
