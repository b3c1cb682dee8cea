package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smile-api/internal/metrics"
	"smile-api/internal/model"
	"smile-api/internal/repository/repotest"
	"smile-api/internal/server"
	"smile-api/internal/service"
	"smile-api/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app    *fiber.App
	store  *repotest.Store
	perms  map[string]model.Permission
	roles  map[string]model.Role
	users  map[string]model.User
	tokens map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	store := repotest.NewStore()
	require.NoError(t, store.Permissions().SeedDefaults(ctx))
	require.NoError(t, store.Roles().SeedDefaults(ctx))

	s := &testServer{
		store:  store,
		perms:  map[string]model.Permission{},
		roles:  map[string]model.Role{},
		users:  map[string]model.User{},
		tokens: map[string]string{},
	}
	perms, err := store.Permissions().FindAll(ctx)
	require.NoError(t, err)
	for _, p := range perms {
		s.perms[p.Name] = p
	}
	roles, err := store.Roles().FindAll(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		s.roles[r.Name] = r
	}

	manager := jwt.NewManager("test-secret", "smile-api", time.Hour)
	for who, roleName := range map[string]string{
		"super":   model.RoleSuperAdmin,
		"admin":   model.RoleAdmin,
		"teacher": model.RoleTeacher,
		"student": model.RoleStudent,
		"guest":   "",
	} {
		var roleID *uint
		if roleName != "" {
			id := s.roles[roleName].ID
			roleID = &id
		}
		user := store.AddUser(who+"@smile.test", roleID)
		token, err := manager.GenerateToken(user.ID, user.Email, user.FullName, user.TokenVersion)
		require.NoError(t, err)
		s.users[who] = user
		s.tokens[who] = token
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	s.app = server.New(server.Deps{
		AppName: "smile-api-test",
		Logger:  logger,
		Auth:    service.NewAuthService(store.Users(), store.Roles(), manager, nil, 5*time.Minute),
		Authz:   service.NewAuthzService(store.Permissions(), store.Roles(), store.Users(), nil, m, logger),
		Users:   service.NewUserService(store.Users(), store.Roles()),
		Metrics: m,
	})
	return s
}

// do sends a request as who ("" for anonymous) and decodes the JSON response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, who string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if who != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+s.tokens[who])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorBody struct {
	Error string `json:"error"`
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t)

	var body errorBody
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/permissions", "", nil, &body))
	assert.Equal(t, "Unauthorized", body.Error)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer garbage")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreatePermissionRoute(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]string{"name": "exam.grade", "resource": "exam", "action": "grade"}

	var denied errorBody
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/permissions", "admin", payload, &denied))
	assert.Equal(t, "Permission denied", denied.Error)

	var invalid errorBody
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/permissions", "super", map[string]string{"name": ""}, &invalid))
	assert.Equal(t, "name is required", invalid.Error)

	var created struct {
		Message string           `json:"message"`
		Data    model.Permission `json:"data"`
	}
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/permissions", "super", payload, &created))
	assert.NotZero(t, created.Data.ID)
	assert.Equal(t, "exam.grade", created.Data.Name)

	var conflict errorBody
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/permissions", "super", payload, &conflict))
	assert.Contains(t, conflict.Error, "already exists")

	var all []model.Permission
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/permissions", "guest", nil, &all))
	assert.Len(t, all, len(model.DefaultPermissions)+1)
}

func TestCreateRoleRoute_UnknownPermission(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]any{
		"name":           "Grader",
		"permission_ids": []uint{s.perms["activity.view"].ID, 9999},
	}

	var body errorBody
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/roles", "super", payload, &body))

	var roles []model.Role
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/roles", "admin", nil, &roles))
	for _, r := range roles {
		assert.NotEqual(t, "Grader", r.Name)
	}

	payload["permission_ids"] = []uint{s.perms["activity.view"].ID}
	var created struct {
		Data model.Role `json:"data"`
	}
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/roles", "super", payload, &created))
	assert.Equal(t, "Grader", created.Data.Name)
	require.Len(t, created.Data.Permissions, 1)
}

func TestRoleRoutes_AdminGate(t *testing.T) {
	s := newTestServer(t)
	studentRole := s.roles[model.RoleStudent].ID

	for _, who := range []string{"teacher", "student", "guest"} {
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/roles", who, nil, nil), who)
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/roles/%d/permissions", studentRole), who, nil, nil), who)
	}

	var perms []model.Permission
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, fmt.Sprintf("/api/v1/roles/%d/permissions", studentRole), "admin", nil, &perms))
	require.Len(t, perms, 1)
	assert.Equal(t, "activity.view", perms[0].Name)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/roles/9999/permissions", "admin", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/roles/abc/permissions", "admin", nil, nil))
}

func TestRevokeRoute(t *testing.T) {
	s := newTestServer(t)
	studentRole := s.roles[model.RoleStudent].ID
	deleteID := s.perms["activity.delete"].ID
	path := fmt.Sprintf("/api/v1/roles/%d/permissions/%d", studentRole, deleteID)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, path, "teacher", nil, nil))
	// not attached: still succeeds
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, "admin", nil, nil))
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, "admin", nil, nil))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/roles/9999/permissions/%d", deleteID), "admin", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/roles/%d/permissions/9999", studentRole), "admin", nil, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/roles/%d/permissions/x", studentRole), "admin", nil, nil))
}

func TestGrantRoute(t *testing.T) {
	s := newTestServer(t)
	path := fmt.Sprintf("/api/v1/roles/%d/permissions", s.roles[model.RoleStudent].ID)
	payload := map[string]any{"permission_ids": []uint{s.perms["certificate.issue"].ID}}

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path, "admin", payload, nil))
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path, "super", payload, nil))

	var check struct {
		Allowed bool `json:"allowed"`
	}
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/authz/check", "student", map[string]string{"resource": "certificate", "action": "issue"}, &check))
	assert.True(t, check.Allowed)
}

func TestUserPermissionsRoute(t *testing.T) {
	s := newTestServer(t)

	var own service.UserPermissions
	path := "/api/v1/users/" + s.users["student"].ID.String() + "/permissions"
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, "student", nil, &own))
	require.NotNil(t, own.Role)
	assert.Equal(t, model.RoleStudent, own.Role.Name)
	require.Len(t, own.Permissions, 1)

	other := "/api/v1/users/" + s.users["teacher"].ID.String() + "/permissions"
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, other, "student", nil, nil))
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, other, "admin", nil, nil))

	var empty map[string]any
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/users/"+uuid.NewString()+"/permissions", "admin", nil, &empty))
	assert.Nil(t, empty["role"])
	assert.Equal(t, []any{}, empty["permissions"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/users/not-a-uuid/permissions", "admin", nil, nil))

	var mine service.UserPermissions
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/me/permissions", "guest", nil, &mine))
	assert.Nil(t, mine.Role)
	assert.Empty(t, mine.Permissions)
}

func TestCheckRoute(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		who      string
		resource string
		action   string
		status   int
		allowed  bool
	}{
		{"teacher", "activity", "delete", http.StatusOK, true},
		{"student", "activity", "delete", http.StatusOK, false},
		{"guest", "activity", "view", http.StatusOK, false},
		{"teacher", "", "delete", http.StatusBadRequest, false},
		{"", "activity", "view", http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s.%s", tt.who, tt.resource, tt.action), func(t *testing.T) {
			var body struct {
				Allowed bool `json:"allowed"`
			}
			status := s.do(t, http.MethodPost, "/api/v1/authz/check", tt.who, map[string]string{"resource": tt.resource, "action": tt.action}, &body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.allowed, body.Allowed)
		})
	}
}

func TestUserRoutes_PermissionGuarded(t *testing.T) {
	s := newTestServer(t)

	var users []model.UserResponse
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/users", "teacher", nil, &users))
	assert.Len(t, users, 5)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/v1/users", "student", nil, nil))
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/api/v1/users/"+s.users["student"].ID.String(), "teacher", nil, nil))

	var created struct {
		Data model.UserResponse `json:"data"`
	}
	payload := map[string]any{
		"email":     "new@smile.test",
		"password":  "secret1",
		"full_name": "New Student",
		"role_id":   s.roles[model.RoleStudent].ID,
	}
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/users", "admin", payload, &created))
	assert.Equal(t, "new@smile.test", created.Data.Email)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/users", "admin", payload, nil))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/users/"+created.Data.ID.String(), "admin", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/users/"+created.Data.ID.String(), "admin", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/v1/roles", "student", nil, nil)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `smile_authz_decisions_total{gate="admin",outcome="denied"} 1`)
}

func TestUserRoutes_CannotGrantHigherRole(t *testing.T) {
	s := newTestServer(t)
	payload := map[string]any{
		"email":     "boss@smile.test",
		"password":  "secret1",
		"full_name": "Boss",
		"role_id":   s.roles[model.RoleSuperAdmin].ID,
	}

	var denied errorBody
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/users", "admin", payload, &denied))
	assert.Equal(t, "Permission denied", denied.Error)

	promote := map[string]any{
		"email":     "admin@smile.test",
		"full_name": "Admin",
		"role_id":   s.roles[model.RoleSuperAdmin].ID,
	}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPut, "/api/v1/users/"+s.users["admin"].ID.String(), "admin", promote, nil))
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, "/api/v1/users/"+s.users["super"].ID.String(), "admin", nil, nil))

	var me service.UserPermissions
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/me/permissions", "admin", nil, &me))
	require.NotNil(t, me.Role)
	assert.Equal(t, model.RoleAdmin, me.Role.Name)

	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/users", "super", payload, nil))
}

func TestUnknownRoute_NotFound(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/does-not-exist", "", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/does-not-exist", "admin", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/roles", "", nil, nil))
}
