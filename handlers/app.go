// Package handlers assembles the Fiber application.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"followmail/config"
	"followmail/handlers/api"
	"followmail/handlers/web"
	"followmail/metrics"
	"followmail/middleware"
	"followmail/templates"
	"followmail/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
)

// Pinger reports whether the database is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the routes need
type Deps struct {
	Config   *config.Config
	Sessions *session.Store
	Users    web.UserStore
	Clients  web.ClientStore
	Cipher   web.Encrypter
	Mailer   web.TestSender
	DB       Pinger // optional, used by /health
}

// NewEngine builds the template engine over the embedded views.
func NewEngine() *html.Engine {
	engine := html.NewFileSystem(http.FS(templates.FS), ".html")

	engine.AddFunc("formatDate", func(t time.Time) string {
		return t.Format("Jan 02, 2006")
	})
	engine.AddFunc("formatTime", func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format("Jan 02, 2006 15:04")
	})
	return engine
}

// NewApp creates the Fiber app with views, error handling and global middleware.
func NewApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		Views:                 NewEngine(),
		ViewsLayout:           "layouts/main",
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
		Immutable:             true, // form values outlive the request in stores and sessions
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(compress.New())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "SAMEORIGIN",
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'self'; style-src 'self' 'unsafe-inline';",
	}))
	app.Use(middleware.LocaleMiddleware())
	app.Use(middleware.CSRFProtection(middleware.CSRFConfig{
		TokenLength:  32,
		CookieName:   "csrf_token",
		HeaderName:   "X-CSRF-Token",
		FormField:    "_csrf",
		ContextKey:   "csrf",
		CookieMaxAge: 24 * 3600,
		CookieSecure: cfg.Server.CookieSecure,
	}))

	return app
}

// NewSessionStore configures cookie sessions over storage (nil keeps them in memory).
func NewSessionStore(cfg *config.Config, storage fiber.Storage) *session.Store {
	return session.New(session.Config{
		Storage:        storage,
		Expiration:     cfg.Session.Expiration.Duration,
		KeyLookup:      "cookie:followmail_session",
		CookieSecure:   cfg.Server.CookieSecure,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	})
}

// ErrorHandler maps AppError and fiber.Error to a status, answering JSON
// under /api and the error page elsewhere.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var appErr *utils.AppError
	var fiberErr *fiber.Error
	var verr *utils.ValidationError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message
		if code >= fiber.StatusInternalServerError {
			utils.Log.Error("Application error: %v", appErr)
		} else {
			utils.Log.Debug("Request error: %v", appErr)
		}
	case errors.As(err, &verr):
		code = fiber.StatusBadRequest
	case errors.As(err, &fiberErr):
		code = fiberErr.Code
	default:
		utils.Log.Error("Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	if code >= fiber.StatusInternalServerError {
		message = utils.T(api.Localizer(c), "error_500")
	} else if code == fiber.StatusNotFound {
		message = utils.T(api.Localizer(c), "error_404")
	}

	if api.IsAPIRequest(c) {
		return c.Status(code).JSON(fiber.Map{"error": message})
	}
	return c.Status(code).Render("error", fiber.Map{
		"Error": message,
		"Code":  code,
	})
}

// Register mounts every route.
func Register(app *fiber.App, d Deps) {
	cfg := d.Config

	loc, err := cfg.Location()
	if err != nil {
		loc = time.Local
	}

	authHandler := web.NewAuthHandler(d.Sessions, cfg, d.Users)
	clientHandler := web.NewClientHandler(d.Clients, loc)
	settingsHandler := web.NewSettingsHandler(d.Users, d.Cipher, d.Mailer)
	apiClients := api.NewClientHandler(d.Clients)

	loginLimit := middleware.RateLimiter(cfg.RateLimit.LoginPerMinute, time.Minute)

	// Public routes
	app.Get("/", authHandler.ShowLogin)
	app.Post("/", loginLimit, authHandler.HandleLogin)
	app.Get("/login", authHandler.ShowLogin)
	app.Post("/login", loginLimit, authHandler.HandleLogin)
	app.Get("/signup", authHandler.ShowSignup)
	app.Post("/signup", loginLimit, authHandler.HandleSignup)
	app.Get("/logout", authHandler.HandleLogout)

	app.Get("/health", func(c *fiber.Ctx) error {
		status, code := "ok", fiber.StatusOK
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := d.DB.PingContext(ctx); err != nil {
				utils.Log.Warn("Health check: database unreachable: %v", err)
				status, code = "degraded", fiber.StatusServiceUnavailable
			}
		}
		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// Protected routes
	protected := app.Group("", api.SessionMiddleware(d.Sessions, d.Users, cfg.Server.SecretKey))

	protected.Get("/dashboard", clientHandler.Dashboard)
	protected.Get("/add", clientHandler.ShowAdd)
	protected.Post("/add", clientHandler.HandleAdd)
	protected.Get("/edit/:id", clientHandler.ShowEdit)
	protected.Post("/edit/:id", clientHandler.HandleEdit)
	protected.Post("/delete/:id", clientHandler.HandleDelete)

	protected.Get("/email-settings", settingsHandler.ShowSettings)
	protected.Post("/email-settings", settingsHandler.UpdateSettings)
	protected.Get("/test-email", settingsHandler.TestEmail)
	protected.Post("/test-email", settingsHandler.TestEmail)

	apiRoutes := protected.Group("/api")
	{
		apiRoutes.Get("/clients", apiClients.ListClients)
		apiRoutes.Get("/clients/:id", apiClients.GetClient)
	}

	// 404 Handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}
