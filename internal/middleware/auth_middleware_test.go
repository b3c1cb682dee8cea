package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"smile-api/internal/middleware"
	"smile-api/internal/model"
	"smile-api/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAuth accepts a single token.
type stubAuth struct {
	service.AuthService
	token    string
	identity *model.Identity
	err      error
}

func (s *stubAuth) Authenticate(ctx context.Context, token string) (*model.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if token != s.token {
		return nil, service.ErrSessionReplaced
	}
	return s.identity, nil
}

// stubAuthz grants only activity.view.
type stubAuthz struct {
	service.AuthzService
	err error
}

func (s *stubAuthz) CanAccess(ctx context.Context, caller *model.Identity, resource, action string) (bool, error) {
	if caller == nil {
		return false, service.ErrUnauthorized
	}
	if s.err != nil {
		return false, s.err
	}
	return resource == "activity" && action == "view", nil
}

func newApp(auth service.AuthService, authz service.AuthzService, resource, action string) *fiber.App {
	app := fiber.New()
	app.Get("/",
		middleware.RequireAuth(auth, nil),
		middleware.RequirePermission(authz, resource, action, nil),
		func(c *fiber.Ctx) error {
			return c.SendString(middleware.Identity(c).UserID.String())
		},
	)
	return app
}

func get(t *testing.T, app *fiber.App, authorization string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestRequireAuth(t *testing.T) {
	roleID := uint(3)
	auth := &stubAuth{token: "good", identity: &model.Identity{UserID: uuid.New(), RoleID: &roleID}}
	app := newApp(auth, &stubAuthz{}, "activity", "view")

	assert.Equal(t, http.StatusUnauthorized, get(t, app, ""))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "good"))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "Basic good"))
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "Bearer stale"))
	assert.Equal(t, http.StatusOK, get(t, app, "Bearer good"))
	assert.Equal(t, http.StatusOK, get(t, app, "bearer good"))

	auth.err = errors.New("db down")
	assert.Equal(t, http.StatusUnauthorized, get(t, app, "Bearer good"))
}

func TestRequirePermission(t *testing.T) {
	auth := &stubAuth{token: "good", identity: &model.Identity{UserID: uuid.New()}}

	assert.Equal(t, http.StatusOK, get(t, newApp(auth, &stubAuthz{}, "activity", "view"), "Bearer good"))
	assert.Equal(t, http.StatusForbidden, get(t, newApp(auth, &stubAuthz{}, "activity", "delete"), "Bearer good"))
	assert.Equal(t, http.StatusInternalServerError, get(t, newApp(auth, &stubAuthz{err: errors.New("db down")}, "activity", "view"), "Bearer good"))
}

func TestRequirePermission_WithoutIdentity(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.RequirePermission(&stubAuthz{}, "activity", "view", nil), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})
	assert.Equal(t, http.StatusUnauthorized, get(t, app, ""))
}

func TestIdentity_Unset(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		assert.Nil(t, middleware.Identity(c))
		return c.SendStatus(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, get(t, app, ""))
}
