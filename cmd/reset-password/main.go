package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"smile-api/internal/repository"
	"smile-api/pkg/config"
	"smile-api/pkg/database"
	"smile-api/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	email := flag.String("email", cfg.SeedAdminEmail, "account to reset")
	password := flag.String("password", cfg.SeedAdminPassword, "new password")
	flag.Parse()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close(db)

	ctx := context.Background()
	users := repository.NewUserRepo(db)

	user, err := users.FindByEmail(ctx, *email)
	if err != nil {
		log.Error("user not found", slog.String("email", *email), slog.Any("error", err))
		os.Exit(1)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("hash password", slog.Any("error", err))
		os.Exit(1)
	}

	if err := users.UpdatePassword(ctx, user.ID, string(hashedPassword)); err != nil {
		log.Error("update password", slog.Any("error", err))
		os.Exit(1)
	}
	// Invalidate existing sessions
	if err := users.UpdateTokenVersion(ctx, user.ID, uuid.New().String()); err != nil {
		log.Error("rotate token version", slog.Any("error", err))
		os.Exit(1)
	}

	log.Info("password reset", slog.String("email", *email))
}
