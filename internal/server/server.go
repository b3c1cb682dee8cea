package server

import (
	"log/slog"

	"smile-api/internal/handler"
	"smile-api/internal/metrics"
	"smile-api/internal/middleware"
	"smile-api/internal/service"
	"smile-api/internal/ws"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// Deps are the collaborators the HTTP layer needs. Hub and Metrics are optional.
type Deps struct {
	AppName string
	Logger  *slog.Logger
	Auth    service.AuthService
	Authz   service.AuthzService
	Users   service.UserService
	Hub     *ws.Hub
	Metrics *metrics.Metrics
}

// New builds the Fiber app with every route registered.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: d.AppName,
	})

	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(cors.New())

	requireAuth := middleware.RequireAuth(d.Auth, d.Logger)
	can := func(resource, action string) fiber.Handler {
		return middleware.RequirePermission(d.Authz, resource, action, d.Logger)
	}

	authHandler := handler.NewAuthHandler(d.Auth, d.Logger)
	roleHandler := handler.NewRoleHandler(d.Authz, d.Logger)
	permissionHandler := handler.NewPermissionHandler(d.Authz, d.Logger)
	userHandler := handler.NewUserHandler(d.Users, d.Logger)

	api := app.Group("/api/v1")

	// ============ PUBLIC ROUTES ============
	auth := api.Group("/auth")
	auth.Post("/login", authHandler.Login)
	auth.Post("/reset-password", authHandler.ResetPassword)
	auth.Post("/validate-token", authHandler.ValidateToken)
	auth.Post("/heartbeat", requireAuth, authHandler.Heartbeat)

	// ============ PROTECTED ROUTES ============
	// requireAuth is attached per route so unknown paths fall through to 404.

	// Permissions (gates are enforced by the authorization service)
	api.Get("/permissions", requireAuth, permissionHandler.GetPermissions)
	api.Post("/permissions", requireAuth, permissionHandler.CreatePermission)
	api.Post("/authz/check", requireAuth, permissionHandler.Check)
	api.Get("/me/permissions", requireAuth, permissionHandler.GetMyPermissions)

	// Roles
	api.Get("/roles", requireAuth, roleHandler.GetRoles)
	api.Post("/roles", requireAuth, roleHandler.CreateRole)
	api.Get("/roles/:id/permissions", requireAuth, roleHandler.GetRolePermissions)
	api.Post("/roles/:id/permissions", requireAuth, roleHandler.GrantPermissions)
	api.Delete("/roles/:id/permissions/:permissionId", requireAuth, roleHandler.RevokePermission)

	// Users
	api.Get("/users/:id/permissions", requireAuth, permissionHandler.GetUserPermissions)
	api.Get("/users", requireAuth, can("user", "view"), userHandler.GetUsers)
	api.Get("/users/:id", requireAuth, can("user", "view"), userHandler.GetUser)
	api.Post("/users", requireAuth, can("user", "create"), userHandler.CreateUser)
	api.Put("/users/:id", requireAuth, can("user", "update"), userHandler.UpdateUser)
	api.Delete("/users/:id", requireAuth, can("user", "delete"), userHandler.DeleteUser)

	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	if d.Hub != nil {
		registerWebSocket(app, d.Hub)
	}

	return app
}

func registerWebSocket(app *fiber.App, hub *ws.Hub) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		if !hub.Join(c) {
			c.Close()
			return
		}
		defer hub.Leave(c)

		for {
			// Keep alive loop
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
	}))
}
