package utils

import (
	"followmail/locales"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

var (
	// Bundle is the global translation bundle
	Bundle *i18n.Bundle

	i18nOnce sync.Once
	i18nErr  error
)

// SupportedLanguages lists the languages with a bundled message file.
var SupportedLanguages = []string{"en", "ja"}

// InitI18n loads the embedded message files. Safe to call more than once.
func InitI18n() error {
	i18nOnce.Do(func() {
		Bundle = i18n.NewBundle(language.English)
		Bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

		for _, lang := range SupportedLanguages {
			if _, err := Bundle.LoadMessageFileFS(locales.FS, "active."+lang+".toml"); err != nil {
				Log.Warn("Failed to load %s locale: %v", lang, err)
				if lang == "en" {
					i18nErr = err
				}
			}
		}

		Log.Debug("i18n system initialized")
	})
	return i18nErr
}

// GetLocalizer returns a localizer for the specified language
func GetLocalizer(lang string) *i18n.Localizer {
	if Bundle == nil {
		_ = InitI18n()
	}
	if lang == "" {
		lang = "en"
	}
	return i18n.NewLocalizer(Bundle, lang)
}

// T translates a message ID
func T(localizer *i18n.Localizer, messageID string) string {
	return TWithData(localizer, messageID, nil)
}

// TWithData translates a message ID with template data
func TWithData(localizer *i18n.Localizer, messageID string, data map[string]interface{}) string {
	if localizer == nil {
		localizer = GetLocalizer("en")
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		Log.Debug("Translation error for '%s': %v", messageID, err)
		return messageID
	}
	return msg
}
