package utils

import (
	"embed"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.toml
var localeFS embed.FS

var (
	// Bundle is the global translation bundle
	Bundle *i18n.Bundle
	// Localizer is the default localizer
	Localizer *i18n.Localizer
)

// SupportedLanguages lists the locales shipped with the binary
var SupportedLanguages = []string{"en", "ja"}

func init() {
	if err := InitI18n(); err != nil {
		Log.Warn("Failed to initialize i18n: %v", err)
	}
}

// InitI18n initializes the i18n system from the embedded locale files
func InitI18n() error {
	Bundle = i18n.NewBundle(language.English)
	Bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, lang := range SupportedLanguages {
		if _, err := Bundle.LoadMessageFileFS(localeFS, "locales/active."+lang+".toml"); err != nil {
			return err
		}
	}

	// Set default localizer to English
	Localizer = i18n.NewLocalizer(Bundle, language.English.String())
	return nil
}

// GetLocalizer returns a localizer for the specified language
func GetLocalizer(lang string) *i18n.Localizer {
	if lang == "" {
		lang = "en"
	}
	return i18n.NewLocalizer(Bundle, lang)
}

// T translates a message ID
func T(localizer *i18n.Localizer, messageID string) string {
	if localizer == nil {
		localizer = Localizer
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID: messageID,
	})
	if err != nil {
		Log.Debug("Translation error for '%s': %v", messageID, err)
		return messageID
	}
	return msg
}

// KindTitle returns the localized headline for an error kind
func KindTitle(localizer *i18n.Localizer, kind ErrorKind) string {
	return T(localizer, "error_"+strings.ToLower(string(kind)))
}
