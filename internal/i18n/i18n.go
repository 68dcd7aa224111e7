// Package i18n localizes user-facing error messages and resolves the
// visitor's language.
package i18n

import (
	"golang.org/x/text/language"
)

// Supported languages. English is the fallback.
const (
	English   = "en"
	Bulgarian = "bg"
	Spanish   = "es-MX"
)

// Message codes returned to the UI.
const (
	MsgUnauthenticated    = "unauthenticated"
	MsgInvalidCredentials = "invalid_credentials"
	MsgValidation         = "validation"
	MsgNotFound           = "not_found"
	MsgMultipleRows       = "multiple_rows"
	MsgConflict           = "conflict"
	MsgServiceUnavailable = "service_unavailable"
	MsgTimeout            = "timeout"
	MsgInternal           = "internal"
	MsgPageNotFound       = "page_not_found"
	MsgBookingDisabled    = "booking_disabled"
)

var catalog = map[string]map[string]string{
	English: {
		MsgUnauthenticated:    "Please sign in to continue.",
		MsgInvalidCredentials: "Invalid email or password.",
		MsgValidation:         "Some fields are invalid.",
		MsgNotFound:           "The requested record was not found.",
		MsgMultipleRows:       "More than one record matched.",
		MsgConflict:           "This record already exists.",
		MsgServiceUnavailable: "The service is temporarily unavailable. Please try again shortly.",
		MsgTimeout:            "The request took too long. Please try again.",
		MsgInternal:           "Something went wrong. Please try again.",
		MsgPageNotFound:       "Oops! Page not found.",
		MsgBookingDisabled:    "Online booking is not available right now.",
	},
	Bulgarian: {
		MsgUnauthenticated:    "Моля, влезте в профила си, за да продължите.",
		MsgInvalidCredentials: "Невалиден имейл или парола.",
		MsgValidation:         "Някои полета са невалидни.",
		MsgNotFound:           "Търсеният запис не е намерен.",
		MsgMultipleRows:       "Открит е повече от един запис.",
		MsgConflict:           "Този запис вече съществува.",
		MsgServiceUnavailable: "Услугата е временно недостъпна. Опитайте отново след малко.",
		MsgTimeout:            "Заявката отне твърде дълго. Опитайте отново.",
		MsgInternal:           "Нещо се обърка. Опитайте отново.",
		MsgPageNotFound:       "Страницата не е намерена.",
		MsgBookingDisabled:    "Онлайн записването в момента не е достъпно.",
	},
	Spanish: {
		MsgUnauthenticated:    "Inicia sesión para continuar.",
		MsgInvalidCredentials: "Correo o contraseña inválidos.",
		MsgValidation:         "Algunos campos no son válidos.",
		MsgNotFound:           "No se encontró el registro solicitado.",
		MsgMultipleRows:       "Se encontró más de un registro.",
		MsgConflict:           "Este registro ya existe.",
		MsgServiceUnavailable: "El servicio no está disponible por el momento. Intenta de nuevo en breve.",
		MsgTimeout:            "La solicitud tardó demasiado. Intenta de nuevo.",
		MsgInternal:           "Algo salió mal. Intenta de nuevo.",
		MsgPageNotFound:       "¡Ups! Página no encontrada.",
		MsgBookingDisabled:    "La reserva en línea no está disponible en este momento.",
	},
}

var (
	tags    = []language.Tag{language.English, language.Bulgarian, language.MustParse("es-MX")}
	names   = []string{English, Bulgarian, Spanish}
	matcher = language.NewMatcher(tags)
)

// T returns the message for code in lang, falling back to English and then to code.
func T(lang, code string) string {
	if msgs, ok := catalog[lang]; ok {
		if m, ok := msgs[code]; ok {
			return m
		}
	}
	if m, ok := catalog[English][code]; ok {
		return m
	}
	return code
}

// Supported reports whether lang is one of the supported languages.
func Supported(lang string) bool {
	_, ok := catalog[lang]
	return ok
}

// Match maps any BCP 47 input ("es", "bg-BG", an Accept-Language header) to a
// supported language. ok is false when nothing matched with confidence.
func Match(input string) (string, bool) {
	if input == "" {
		return English, false
	}
	if Supported(input) {
		return input, true
	}
	wanted, _, err := language.ParseAcceptLanguage(input)
	if err != nil || len(wanted) == 0 {
		return English, false
	}
	_, idx, conf := matcher.Match(wanted...)
	if conf == language.No {
		return English, false
	}
	return names[idx], true
}

// Detect picks the language from, in order, an explicit choice (cookie),
// a query parameter and the Accept-Language header.
func Detect(cookie, query, acceptLanguage string) string {
	for _, candidate := range []string{cookie, query, acceptLanguage} {
		if lang, ok := Match(candidate); ok {
			return lang
		}
	}
	return English
}
