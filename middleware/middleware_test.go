package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	chain := append([]fiber.Handler{}, handlers...)
	chain = append(chain, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c), "username": Hints(c).Username})
	})
	app.Get("/s/profile", chain...)
	app.Get("/remote/ping", chain...)
	return app
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := newApp(GatewayAuthMiddleware("secret", nil))

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong", "Bearer nope", fiber.StatusUnauthorized},
		{"bearer", "Bearer secret", fiber.StatusOK},
		{"raw", "secret", fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/remote/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestGatewayAuthWithoutConfiguredToken(t *testing.T) {
	app := newApp(GatewayAuthMiddleware("", nil))
	req := httptest.NewRequest("GET", "/remote/ping", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestServiceTokenMiddleware(t *testing.T) {
	app := newApp(ServiceTokenMiddleware("svc", nil))

	req := httptest.NewRequest("GET", "/remote/ping", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/remote/ping", nil)
	req.Header.Set("X-Service-Token", "svc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestUserContextMiddlewareRequiresIdentityOnSecuredRoutes(t *testing.T) {
	app := newApp(UserContextMiddleware(nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/s/profile", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/remote/ping", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req := httptest.NewRequest("GET", "/s/profile", nil)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Username", "ann")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestSSEAuthMiddlewarePromotesQueryCredentials(t *testing.T) {
	app := newApp(SSEAuthMiddleware(nil), GatewayAuthMiddleware("secret", nil), UserContextMiddleware(nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/s/profile?token=secret&user_id=user-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/s/profile?token=wrong&user_id=user-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/s/profile?token=secret", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
