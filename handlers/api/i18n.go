package api

import (
	"slices"

	"postbox/utils"

	"github.com/gofiber/fiber/v2"
)

var translatedKinds = []utils.ErrorKind{
	utils.KindValidation,
	utils.KindNotFound,
	utils.KindForbidden,
	utils.KindUnauthorized,
	utils.KindNetwork,
	utils.KindInternal,
}

// I18nHandler handles i18n-related requests
type I18nHandler struct{}

// GetTranslations returns the error titles for one language so clients can
// render failures without a round trip
func (h *I18nHandler) GetTranslations(c *fiber.Ctx) error {
	lang := c.Params("lang")
	if !slices.Contains(utils.SupportedLanguages, lang) {
		lang = "en"
	}

	localizer := utils.GetLocalizer(lang)
	translations := make(map[string]string, len(translatedKinds)+2)
	for _, kind := range translatedKinds {
		translations[string(kind)] = utils.KindTitle(localizer, kind)
	}
	translations["error_404"] = utils.T(localizer, "error_404")
	translations["error_rate_limited"] = utils.T(localizer, "error_rate_limited")

	return c.JSON(fiber.Map{
		"lang":         lang,
		"translations": translations,
	})
}
