package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"storyweave/internal/servicetoken"
	"storyweave/internal/usertoken"
	"storyweave/internal/util"
	"storyweave/services/audio/internal/app"
	"storyweave/services/audio/internal/authclient"
	"storyweave/services/audio/internal/bookclient"
	"storyweave/services/audio/internal/config"
	"storyweave/services/audio/internal/server"
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
		Issuer:         "audio-service",
	})
	if err != nil {
		logger.Error("init service token signer failed", "error", err)
		os.Exit(1)
	}

	application, err := app.New(app.Config{
		Books:             bookclient.NewClient(cfg.BookServiceURL, signer),
		MinioEndpoint:     cfg.MinioEndpoint,
		MinioAccessKey:    cfg.MinioAccessKey,
		MinioSecretKey:    cfg.MinioSecretKey,
		MinioPublicURL:    cfg.MinioPublicURL,
		MinioUseSSL:       cfg.MinioUseSSL,
		ElevenLabsBaseURL: cfg.ElevenLabsBaseURL,
		ElevenLabsAPIKey:  cfg.ElevenLabsAPIKey,
		BookConcurrency:   cfg.BookConcurrency,
	})
	if err != nil {
		logger.Error("init application failed", "error", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		App:           application,
		Auth:          authclient.NewClient(cfg.AuthServiceURL),
		TokenVerifier: tokenVerifier,
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("audio server listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
