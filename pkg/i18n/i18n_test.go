package i18n_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medflow/pharmacy-ledger/pkg/i18n"
)

func TestLocalizer_T(t *testing.T) {
	en := i18n.NewLocalizer(i18n.LocaleEnglish)
	de := i18n.NewLocalizer(i18n.LocaleGerman)

	assert.Equal(t, "Saving month 2024-03 failed: timeout",
		en.T("inventory.errors.save_failed", map[string]string{"month": "2024-03", "reason": "timeout"}))
	assert.Equal(t, "Speichern des Monats 2024-03 fehlgeschlagen: timeout",
		de.T("inventory.errors.save_failed", map[string]string{"month": "2024-03", "reason": "timeout"}))
}

func TestLocalizer_FallbacksAndUnknownKeys(t *testing.T) {
	assert.Equal(t, i18n.LocaleEnglish, i18n.NewLocalizer("fr").GetLocale())
	assert.Equal(t, "inventory.errors.nope", i18n.T("inventory.errors.nope"))
	assert.Equal(t, "inventory.errors", i18n.T("inventory.errors"))
}

func TestMiddleware(t *testing.T) {
	var locale string
	h := i18n.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = i18n.GetLocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "de-AT,de;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, i18n.LocaleGerman, locale)

	assert.Equal(t, i18n.LocaleEnglish, i18n.GetLocaleFromContext(context.Background()))
}

func TestParseAcceptLanguage(t *testing.T) {
	tests := map[string]string{
		"":                     i18n.LocaleEnglish,
		"de":                   i18n.LocaleGerman,
		"en-US,en;q=0.9,de;q=0.8": i18n.LocaleEnglish,
		"fr-FR,de-CH;q=0.7":    i18n.LocaleGerman,
		"fr, es":               i18n.LocaleEnglish,
	}
	for header, want := range tests {
		assert.Equal(t, want, i18n.ParseAcceptLanguage(header), header)
	}
}
