package middleware

import (
	"postbox/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"
)

var localeMatcher = language.NewMatcher([]language.Tag{
	language.English, // first entry is the fallback
	language.Japanese,
})

// LocaleMiddleware picks the response language from the "lang" query
// parameter, then the "lang" cookie, then Accept-Language
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := matchLanguage(c.Query("lang"), c.Cookies("lang"), c.Get(fiber.HeaderAcceptLanguage))

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		return c.Next()
	}
}

func matchLanguage(query, cookie, accept string) string {
	var tags []language.Tag
	for _, v := range []string{query, cookie} {
		if v == "" {
			continue
		}
		if tag, err := language.Parse(v); err == nil {
			tags = append(tags, tag)
		}
	}
	if parsed, _, err := language.ParseAcceptLanguage(accept); err == nil {
		tags = append(tags, parsed...)
	}

	_, index, _ := localeMatcher.Match(tags...)
	return utils.SupportedLanguages[index]
}
