package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectedLang(t *testing.T, req *http.Request) string {
	t.Helper()
	app := fiber.New()
	app.Use(LocaleMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("lang").(string))
	})

	resp, err := app.Test(req)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestLocaleMiddleware(t *testing.T) {
	assert.Equal(t, "en", detectedLang(t, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, "ja", detectedLang(t, httptest.NewRequest(http.MethodGet, "/?lang=ja", nil)))
	assert.Equal(t, "en", detectedLang(t, httptest.NewRequest(http.MethodGet, "/?lang=xx", nil)))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9,en;q=0.8")
	assert.Equal(t, "ja", detectedLang(t, req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "lang", Value: "ja"})
	assert.Equal(t, "ja", detectedLang(t, req))
}
