package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"smile-api/internal/metrics"
	"smile-api/internal/model"
	"smile-api/internal/repository"
	"smile-api/internal/server"
	"smile-api/internal/service"
	"smile-api/internal/ws"
	"smile-api/pkg/config"
	"smile-api/pkg/database"
	"smile-api/pkg/jwt"
	"smile-api/pkg/logger"

	"gorm.io/gorm"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	// 2. Setup Database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer database.Close(db)
	log.Info("database connection established")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(&model.Permission{}, &model.Role{}, &model.RolePermission{}, &model.User{}); err != nil {
			log.Error("auto migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// 3. Seed default permissions, roles, and super-admin user
	if err := seedDefaults(ctx, db, cfg, log); err != nil {
		log.Warn("seed defaults", slog.Any("error", err))
	}

	// 4. Setup WebSocket Hub
	wsHub := ws.NewHub(log)
	go wsHub.Run(ctx)

	// 5. Dependency Injection (Wiring Layers)
	permissionRepo := repository.NewPermissionRepo(db)
	roleRepo := repository.NewRoleRepo(db)
	userRepo := repository.NewUserRepo(db)

	m := metrics.New()
	tokens := jwt.NewManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL)

	authzService := service.NewAuthzService(permissionRepo, roleRepo, userRepo, wsHub, m, log)
	authService := service.NewAuthService(userRepo, roleRepo, tokens, wsHub, cfg.SessionIdleTimeout)
	userService := service.NewUserService(userRepo, roleRepo)

	// 6. Setup Fiber
	app := server.New(server.Deps{
		AppName: cfg.AppName,
		Logger:  log,
		Auth:    authService,
		Authz:   authzService,
		Users:   userService,
		Hub:     wsHub,
		Metrics: m,
	})

	// 7. Graceful Shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server stopped", slog.Any("error", err))
		}
	case <-ctx.Done():
		log.Info("shutting down server")
		if err := app.Shutdown(); err != nil {
			log.Error("server forced to shutdown", slog.Any("error", err))
		}
	}
	log.Info("server exited")
}

// seedDefaults creates default permissions, roles and the super-admin user if they don't exist
func seedDefaults(ctx context.Context, db *gorm.DB, cfg *config.Config, log *slog.Logger) error {
	permissionRepo := repository.NewPermissionRepo(db)
	roleRepo := repository.NewRoleRepo(db)
	userRepo := repository.NewUserRepo(db)

	if err := permissionRepo.SeedDefaults(ctx); err != nil {
		return err
	}
	if err := roleRepo.SeedDefaults(ctx); err != nil {
		return err
	}

	_, err := userRepo.FindByEmail(ctx, cfg.SeedAdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrRecordNotFound) {
		return err
	}

	superAdmin, err := roleRepo.FindByName(ctx, model.RoleSuperAdmin)
	if err != nil {
		return err
	}
	admin := &model.User{
		Email:    cfg.SeedAdminEmail,
		FullName: "Super Administrator",
		RoleID:   &superAdmin.ID,
		IsActive: true,
	}
	admin.CreatedBy = "system"
	admin.UpdatedBy = "system"
	if err := admin.SetPassword(cfg.SeedAdminPassword); err != nil {
		return err
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return err
	}
	log.Info("super admin user created", slog.String("email", cfg.SeedAdminEmail))
	return nil
}
