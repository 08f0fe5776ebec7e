package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"storyweave/internal/ratelimit"
	"storyweave/internal/servicetoken"
	"storyweave/internal/usertoken"
	"storyweave/internal/util"
	"storyweave/services/chat/internal/app"
	"storyweave/services/chat/internal/authclient"
	"storyweave/services/chat/internal/bookclient"
	"storyweave/services/chat/internal/config"
	"storyweave/services/chat/internal/server"
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

	signer, err := servicetoken.NewSignerWithOptions(servicetoken.SignerOptions{
		PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
		KeyID:          cfg.InternalJWTKeyID,
		Issuer:         "chat-service",
	})
	if err != nil {
		logger.Error("init service token signer failed", "error", err)
		os.Exit(1)
	}

	application, err := app.New(app.Config{
		DatabaseURL:        cfg.DatabaseURL,
		Books:              bookclient.NewClient(cfg.BookServiceURL, signer),
		CompletionProvider: cfg.CompletionProvider,
		CompletionBaseURL:  cfg.CompletionBaseURL,
		CompletionAPIKey:   cfg.CompletionAPIKey,
		CompletionModel:    cfg.CompletionModel,
	})
	if err != nil {
		logger.Error("init application failed", "error", err)
		os.Exit(1)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMin > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr, cfg.RedisPassword, "storyweave:ratelimit:chat",
			cfg.RateLimitPerMin, time.Minute,
		)
		if err != nil {
			logger.Error("init rate limiter failed", "error", err)
			os.Exit(1)
		}
	}

	srv := server.New(server.Config{
		App:           application,
		Auth:          authclient.NewClient(cfg.AuthServiceURL),
		TokenVerifier: tokenVerifier,
		Limiter:       limiter,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("chat server listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
