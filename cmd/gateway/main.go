package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/NicRodri/COMP4537-Project/internal/config"
	"github.com/NicRodri/COMP4537-Project/internal/core"
	"github.com/NicRodri/COMP4537-Project/internal/database"
	"github.com/NicRodri/COMP4537-Project/internal/logging"
	"github.com/NicRodri/COMP4537-Project/internal/middleware"
	"github.com/NicRodri/COMP4537-Project/internal/mlclient"
	"github.com/NicRodri/COMP4537-Project/internal/token"
)

const blacklistSweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	go sweepBlacklist(ctx, db, logger)

	tokens := token.NewService(cfg.JWTSecret, token.DefaultTTL)

	ml, err := mlclient.NewClient(mlclient.Options{URL: cfg.MLURL})
	if err != nil {
		return err
	}

	svc := core.NewService(db, tokens, ml, logger)
	handler := core.NewHandler(svc, logger)
	auth := middleware.NewAuth(tokens, db, db, logger)

	router := newRouter(handler, auth, db, logger)

	chain := middleware.Recover(logger)(
		middleware.CORS(cfg.CORSOrigin)(
			middleware.RequestLog(logger)(router)))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           chain,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func newRouter(handler *core.Handler, auth *middleware.Auth, db *database.DB, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.UsageRecorder(db, logger))
	router.NotFoundHandler = http.HandlerFunc(handler.NotFound)

	protected := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.Authenticate(auth.RequireAdmin(h))
	}

	router.HandleFunc("/register", handler.Register).Methods("POST")
	router.HandleFunc("/login", handler.Login).Methods("POST")
	router.Handle("/signedin", protected(handler.SignedIn)).Methods("POST")
	router.Handle("/logout", protected(handler.Logout)).Methods("GET")
	router.Handle("/reaging", protected(handler.Reaging)).Methods("POST")
	router.Handle("/user_api_usage", protected(handler.UserAPIUsage)).Methods("GET")
	router.Handle("/admin_dashboard", admin(handler.AdminDashboard)).Methods("POST")
	router.Handle("/get_usage_data", admin(handler.GetUsageData)).Methods("GET")
	router.Handle("/get_user_api_calls", admin(handler.GetUserAPICalls)).Methods("GET")
	router.Handle("/delete_user/{id}", admin(handler.DeleteUser)).Methods("DELETE")
	router.Handle("/update_user_role/{id}", admin(handler.UpdateUserRole)).Methods("PATCH")

	return router
}

// sweepBlacklist periodically prunes expired revocation-ledger rows.
func sweepBlacklist(ctx context.Context, db *database.DB, logger *slog.Logger) {
	ticker := time.NewTicker(blacklistSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.DeleteExpiredTokens(ctx, time.Now())
			if err != nil {
				logger.Warn("blacklist sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("blacklist swept", "removed", n)
			}
		}
	}
}
