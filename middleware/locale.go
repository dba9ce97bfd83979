package middleware

import (
	"strings"

	"followmail/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"
)

var matcher = language.NewMatcher([]language.Tag{language.English, language.Japanese})

// LocaleMiddleware detects and sets the user's locale
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// 1. Query parameter, remembered in a cookie
		lang := c.Query("lang")
		if supported(lang) {
			c.Cookie(&fiber.Cookie{Name: "lang", Value: lang, Path: "/", MaxAge: 365 * 24 * 3600})
		} else {
			lang = ""
		}

		// 2. Cookie
		if lang == "" && supported(c.Cookies("lang")) {
			lang = c.Cookies("lang")
		}

		// 3. Accept-Language header
		if lang == "" {
			tags, _, _ := language.ParseAcceptLanguage(c.Get("Accept-Language"))
			tag, _, _ := matcher.Match(tags...)
			base, _ := tag.Base()
			lang = base.String()
		}

		if !supported(lang) {
			lang = "en"
		}

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		utils.Log.Debug("Locale detected: %s for path: %s", lang, c.Path())

		return c.Next()
	}
}

func supported(lang string) bool {
	for _, l := range utils.SupportedLanguages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}
