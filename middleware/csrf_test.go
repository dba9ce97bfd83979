package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCSRFApp() *fiber.App {
	app := fiber.New()
	app.Use(CSRFProtection())
	app.Get("/form", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("csrf").(string))
	})
	app.Post("/form", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func csrfCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, ck := range resp.Cookies() {
		if ck.Name == "csrf_token" {
			return ck
		}
	}
	t.Fatal("csrf cookie not set")
	return nil
}

func TestCSRF_GetIssuesToken(t *testing.T) {
	app := newCSRFApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/form", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, csrfCookie(t, resp).Value)
}

func TestCSRF_PostWithFormField(t *testing.T) {
	app := newCSRFApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/form", nil))
	require.NoError(t, err)
	ck := csrfCookie(t, resp)

	body := url.Values{"_csrf": {ck.Value}}.Encode()
	req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(ck)

	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSRF_PostWithHeader(t *testing.T) {
	app := newCSRFApp()

	req := httptest.NewRequest(http.MethodPost, "/form", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc"})
	req.Header.Set("X-CSRF-Token", "abc")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSRF_RejectsMissingOrMismatched(t *testing.T) {
	app := newCSRFApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/form", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req := httptest.NewRequest(http.MethodPost, "/form", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc"})
	req.Header.Set("X-CSRF-Token", "xyz")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
