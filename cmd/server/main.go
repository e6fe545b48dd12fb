package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/maynagashev/snapkeeper/internal/backend"
	"github.com/maynagashev/snapkeeper/internal/config"
	"github.com/maynagashev/snapkeeper/internal/handlers"
	"github.com/maynagashev/snapkeeper/internal/metrics"
	appmiddleware "github.com/maynagashev/snapkeeper/internal/middleware"
	"github.com/maynagashev/snapkeeper/internal/services"
	"github.com/maynagashev/snapkeeper/internal/storage"
)

const (
	metricsNamespace = "snapkeeper"
	initTimeout      = 30 * time.Second
	compressLevel    = 5
)

// Структура для хранения инициализированных зависимостей.
type dependencies struct {
	engine storage.Engine
	prom   *metrics.Prom
	auth   *appmiddleware.Authenticator
}

// main - точка входа. Вызывает run и обрабатывает ошибку.
func main() {
	if err := run(); err != nil {
		slog.Error("Ошибка выполнения сервера", "error", err)
		os.Exit(1)
	}
}

// run содержит основную логику запуска сервера и возвращает ошибку.
func run() error {
	opts, err := parseFlags()
	if err != nil {
		return err
	}
	if opts.HashKey != "" {
		return printKeyHash(os.Stdout, opts.HashKey)
	}

	cfg, err := loadConfig(opts, os.LookupEnv)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(os.Stderr, cfg.Log))

	if opts.IssueToken != "" {
		return printToken(os.Stdout, cfg.Auth, opts.IssueToken)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := setupDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("ошибка инициализации зависимостей: %w", err)
	}
	defer func() {
		if disposeErr := deps.engine.Dispose(context.Background()); disposeErr != nil {
			slog.Error("Ошибка освобождения хранилища", "error", disposeErr)
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      setupRouter(cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return serve(ctx, server, cfg.Server)
}

// loadConfig собирает конфигурацию: файл, затем окружение, затем флаги.
func loadConfig(opts *options, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(lookup)
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger создает JSON- или текстовый логгер с уровнем из конфигурации.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(w, handlerOpts))
}

func printKeyHash(w io.Writer, key string) error {
	hash, err := services.HashAPIKey(key)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}

func printToken(w io.Writer, auth config.AuthConfig, subject string) error {
	tokens, err := services.NewTokenService(auth.JWTSecret, auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("невозможно выпустить токен: %w", err)
	}
	token, err := tokens.Issue(subject)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// setupDependencies открывает и инициализирует хранилище и настраивает аутентификацию.
func setupDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	deps := &dependencies{prom: metrics.NewProm(metricsNamespace)}

	var tokens *services.TokenService
	if cfg.Auth.JWTSecret != "" {
		var err error
		tokens, err = services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, err
		}
	}
	deps.auth = appmiddleware.NewAuthenticator(tokens, cfg.Auth.APIKeyHashes)

	engine, err := backend.Open(cfg.Storage, deps.prom)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания хранилища: %w", err)
	}
	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if err = engine.Initialize(initCtx); err != nil {
		return nil, fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}
	deps.engine = engine
	slog.Info("Хранилище инициализировано", "type", cfg.Storage.Type, "path", cfg.Storage.Path)
	return deps, nil
}

// setupRouter настраивает и возвращает роутер chi.
func setupRouter(cfg *config.Config, deps *dependencies) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appmiddleware.Metrics(deps.prom))
	r.Use(middleware.Compress(compressLevel))

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, deps.prom.Handler())
	}

	versions := handlers.NewVersionHandler(deps.engine, string(cfg.Storage.Type))
	r.Mount(cfg.Server.BasePath, versions.Routes(
		appmiddleware.DecompressRequest,
		deps.auth.Middleware,
	))
	return r
}

// serve запускает сервер и останавливает его при отмене ctx.
func serve(ctx context.Context, server *http.Server, cfg config.ServerConfig) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled() {
			slog.Info("Запуск HTTPS-сервера", "addr", server.Addr, "cert", cfg.TLSCertFile)
			err = server.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			slog.Info("Запуск HTTP-сервера", "addr", server.Addr)
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ошибка запуска сервера: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Остановка сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки сервера: %w", err)
	}
	return <-errCh
}
