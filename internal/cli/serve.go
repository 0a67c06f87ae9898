package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"go-dm/internal/chat"
	myMiddleware "go-dm/internal/middleware"
	"go-dm/internal/user"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket/REST gateway",
		Example: `  dmsync serve --config config/dmsync.yaml
  DMSYNC_STORE_BACKEND=bolt JWT_SECRET=dev dmsync serve --addr :9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				logger.Error("❌ Invalid configuration", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				logger.Error("❌ Store unavailable", "err", err)
				return err
			}
			defer closeStore()

			profiles := user.NewRepository(store)
			tokens := user.NewService(cfg.JWT.Secret)
			svc := chat.NewService(store, profiles,
				chat.WithConflictRetries(cfg.Engine.ConflictRetries),
				chat.WithLogger(logger),
			)

			hub := chat.NewHub(logger)
			go hub.Run(ctx)

			chatHandler := chat.NewHandler(hub, svc, logger)
			authMiddleware := myMiddleware.NewAuthMiddleware(tokens)

			r := chi.NewRouter()
			r.Use(middleware.Logger)
			r.Use(middleware.Recoverer)
			r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Handle)
				chatHandler.Routes(r)
			})

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			logger.Info("🚀 Server starting", "addr", cfg.Server.Addr, "store", cfg.Store.Backend, "feed", cfg.Feed.Backend)

			select {
			case err := <-errc:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("🛑 Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "http service address (overrides server.addr)")
	return cmd
}
