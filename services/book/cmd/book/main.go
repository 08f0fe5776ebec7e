package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"storyweave/internal/ratelimit"
	"storyweave/internal/usertoken"
	"storyweave/internal/util"
	"storyweave/services/book/internal/app"
	"storyweave/services/book/internal/authclient"
	"storyweave/services/book/internal/config"
	"storyweave/services/book/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	leeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		logger.Error("invalid jwtLeeway", "error", err)
		os.Exit(1)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   leeway,
	})
	if err != nil {
		logger.Error("init token verifier failed", "error", err)
		os.Exit(1)
	}

	application, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioPublicURL: cfg.MinioPublicURL,
		MinioUseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		logger.Error("init application failed", "error", err)
		os.Exit(1)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMin > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "storyweave:ratelimit:book",
			cfg.RateLimitPerMin, time.Minute,
		)
		if err != nil {
			logger.Error("init rate limiter failed", "error", err)
			os.Exit(1)
		}
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("invalid trustedProxies", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(server.Config{
		App:                      application,
		Auth:                     authclient.NewClient(cfg.AuthServiceURL),
		TokenVerifier:            tokenVerifier,
		InternalJWTKeyID:         cfg.InternalJWTKeyID,
		InternalJWTPublicKeyPath: cfg.InternalJWTPublicKeyPath,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		Limiter:                  limiter,
		TrustedProxies:           trustedProxies,
	})
	if err != nil {
		logger.Error("init server failed", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("book server listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
