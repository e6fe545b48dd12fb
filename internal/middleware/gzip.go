package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// DecompressRequest распаковывает тела запросов с Content-Encoding: gzip.
func DecompressRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.EqualFold(strings.TrimSpace(r.Header.Get("Content-Encoding")), "gzip") || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			slog.Info("[GzipMiddleware] Некорректное сжатое тело запроса", "error", err)
			http.Error(w, "Некорректное сжатое тело запроса", http.StatusBadRequest)
			return
		}
		defer zr.Close()

		r.Body = zr
		r.Header.Del("Content-Encoding")
		r.Header.Del("Content-Length")
		r.ContentLength = -1
		next.ServeHTTP(w, r)
	})
}
