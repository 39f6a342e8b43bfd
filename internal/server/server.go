// Package server is the composition root: it builds every store, the
// consistency engine, services and handlers from a config.Config and
// mounts them on one chi router.
//
// Pluggable backends are chosen here and nowhere else:
//   - asset store:        S3 when S3_BUCKET is set, files under ASSET_DIR otherwise
//   - lock service:       redis when REDIS_ADDR is set, in-process otherwise
//   - identity directory: external provider when IDP_BASE_URL is set, local otherwise
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/clipstream/internal/auth"
	"github.com/sakif/clipstream/internal/config"
	"github.com/sakif/clipstream/internal/consistency"
	"github.com/sakif/clipstream/internal/handler"
	"github.com/sakif/clipstream/internal/identity"
	"github.com/sakif/clipstream/internal/lock"
	"github.com/sakif/clipstream/internal/middleware"
	sqliteRepo "github.com/sakif/clipstream/internal/repository/sqlite"
	"github.com/sakif/clipstream/internal/saga"
	"github.com/sakif/clipstream/internal/service"
	"github.com/sakif/clipstream/internal/storage"
)

// Server represents the HTTP server and the resources it owns. Start
// closes them on shutdown.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	redis   *redis.Client // nil without REDIS_ADDR
	limiter *middleware.RateLimiter
}

// backends groups what New builds before the routes.
type backends struct {
	assets    storage.Store
	locks     lock.Locker
	directory identity.Directory
	local     *identity.Local // nil with an external directory
}

// New creates a Server from cfg. ctx bounds the startup connections
// (S3 configuration, redis ping).
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		limiter: middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
	}

	b, err := s.buildBackends(ctx)
	if err != nil {
		s.close()
		return nil, err
	}

	s.setupRoutes(b)
	return s, nil
}

func (s *Server) buildBackends(ctx context.Context) (*backends, error) {
	cfg := s.config
	b := &backends{}

	if cfg.S3.Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			URLPrefix: cfg.AssetURLPrefix,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating S3 asset store: %w", err)
		}
		b.assets = store
	} else {
		store, err := storage.NewDiskStore(cfg.AssetDir, cfg.AssetURLPrefix)
		if err != nil {
			return nil, fmt.Errorf("creating disk asset store: %w", err)
		}
		b.assets = store
	}

	rdb, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	if rdb != nil {
		s.redis = rdb
		// A held lock is kept alive by its watchdog; the TTL only bounds how
		// long a crashed holder blocks others.
		b.locks = lock.NewRedisLocker(rdb, 3*cfg.CallTimeout, s.logger)
	} else {
		b.locks = lock.NewKeyedMutex()
	}

	if cfg.UseLocalIdentity() {
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("creating token service: %w", err)
		}
		b.local = identity.NewLocal(s.db, tokens.WithTTL(cfg.TokenTTL), auth.NewPasswordService(), s.logger)
		b.directory = b.local
	} else {
		remote, err := identity.NewRemote(identity.RemoteConfig{
			BaseURL:      cfg.IDP.BaseURL,
			TokenURL:     cfg.IDP.TokenURL,
			ClientID:     cfg.IDP.ClientID,
			ClientSecret: cfg.IDP.ClientSecret,
		}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("creating identity directory: %w", err)
		}
		b.directory = remote
	}

	s.logger.Info("backends ready",
		slog.String("assets", fmt.Sprintf("%T", b.assets)),
		slog.String("locks", fmt.Sprintf("%T", b.locks)),
		slog.String("directory", fmt.Sprintf("%T", b.directory)),
	)
	return b, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE (all under /api/v1):
//
//	GET    /assets/{key}                       → stream an asset
//	GET    /video/videos                       → feed (public)
//	GET    /video/{id}                         → one post with comments (public)
//	POST   /user/signup, /user/signin          → local directory only, rate limited
//	POST   /user/signout                       → local directory only
//	POST   /user/new                           → bind identity to a new user
//	DELETE /user                               → cascade delete the account
//	GET    /user/profile/me, POST same         → read / edit profile
//	POST   /user/profile/password              → local directory only
//	POST   /user/profile/photo                 → replace profile photo
//	GET    /user/videos/videoLiked             → liked posts
//	GET    /user/videos/videoCollection        → collected posts
//	PUT    /user/videos/videoCollection/{id}   → collect
//	DELETE /user/videos/videoCollection/{id}   → uncollect
//	PUT    /video/like/{id}, /video/unlike/{id}
//	POST   /video/comment/{id}
//	DELETE /video/comment/{id}/{commentId}
//	DELETE /video/customer/{id}                → delete own post
//	POST   /video/new, /video/upload, /video/coverImage
//
// MIDDLEWARE ORDER MATTERS:
// RequestID, then RealIP (the rate limiter keys on the real client IP),
// then Recoverer, then our request logger.
func (s *Server) setupRoutes(b *backends) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// DEPENDENCY CHAIN:
	//   s.db → repositories → services (single document)
	//   s.db + assets + directory + locks → consistency.Engine (multi store)
	//   services + engine → handlers
	engine := consistency.New(consistency.Config{
		Users:        s.db,
		Posts:        s.db,
		Memberships:  s.db,
		Comments:     s.db,
		AssetRecords: s.db,
		Assets:       b.assets,
		Directory:    b.directory,
		Locks:        b.locks,
		Sagas:        saga.NewRunner(s.db, s.logger),
		CallTimeout:  s.config.CallTimeout,
		Logger:       s.logger,
	})
	users := service.NewUserService(s.db, s.db, s.logger)
	videos := service.NewVideoService(s.db, s.db, s.logger)

	userHandler := handler.NewUserHandler(users, engine, s.logger)
	videoHandler := handler.NewVideoHandler(videos, users, engine, s.logger)
	assetHandler := handler.NewAssetHandler(b.assets, s.logger)

	var authHandler *handler.AuthHandler
	if b.local != nil {
		authHandler = handler.NewAuthHandler(service.NewAuthService(b.local, s.logger), users, s.config.TokenTTL, s.config.CookieSecure, s.logger)
	}

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/assets/{key}", assetHandler.HandleGet)
		r.Get("/video/videos", videoHandler.HandleList)
		r.Get("/video/{id}", videoHandler.HandleGet)

		if authHandler != nil {
			r.With(s.limiter.Middleware).Post("/user/signup", authHandler.HandleSignUp)
			r.With(s.limiter.Middleware).Post("/user/signin", authHandler.HandleSignIn)
			r.Post("/user/signout", authHandler.HandleSignOut)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(b.directory))

			r.Post("/user/new", userHandler.HandleCreate)
			r.Delete("/user", userHandler.HandleDelete)
			r.Get("/user/profile/me", userHandler.HandleMe)
			r.Post("/user/profile/me", userHandler.HandleUpdateProfile)
			r.Post("/user/profile/photo", userHandler.HandleUploadPhoto)
			r.Get("/user/videos/videoLiked", userHandler.HandleListLiked)
			r.Get("/user/videos/videoCollection", userHandler.HandleListCollection)
			r.Put("/user/videos/videoCollection/{id}", userHandler.HandleCollect)
			r.Delete("/user/videos/videoCollection/{id}", userHandler.HandleUncollect)
			if authHandler != nil {
				r.Post("/user/profile/password", authHandler.HandleChangePassword)
			}

			r.Put("/video/like/{id}", videoHandler.HandleLike)
			r.Put("/video/unlike/{id}", videoHandler.HandleUnlike)
			r.Post("/video/comment/{id}", videoHandler.HandleAddComment)
			r.Delete("/video/comment/{id}/{commentId}", videoHandler.HandleDeleteComment)
			r.Delete("/video/customer/{id}", videoHandler.HandleDelete)
			r.Post("/video/new", videoHandler.HandleCreate)
			r.Post("/video/upload", videoHandler.HandleUploadVideo)
			r.Post("/video/coverImage", videoHandler.HandleUploadCover)
		})
	})
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) close() {
	s.limiter.Close()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, let in-flight requests finish (30s at most),
// then close the database and redis.
func (s *Server) Start() error {
	defer s.close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads of large videos need more than the usual 15s.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
