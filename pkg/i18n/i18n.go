package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales
const (
	LocaleEnglish = "en"
	LocaleGerman  = "de"
	DefaultLocale = LocaleEnglish
)

type localeKey struct{}

var (
	// catalogue maps locale -> dotted key -> message
	catalogue     map[string]map[string]string
	catalogueOnce sync.Once
)

func loadCatalogue() {
	catalogueOnce.Do(func() {
		catalogue = make(map[string]map[string]string)

		for _, locale := range []string{LocaleEnglish, LocaleGerman} {
			data, err := messagesFS.ReadFile("messages/" + locale + ".json")
			if err != nil {
				continue
			}

			var tree map[string]any
			if err := json.Unmarshal(data, &tree); err != nil {
				continue
			}

			flat := make(map[string]string)
			flatten("", tree, flat)
			catalogue[locale] = flat
		}
	})
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			flatten(key, val, out)
		}
	}
}

// Localizer handles message localization
type Localizer struct {
	locale string
}

// NewLocalizer creates a localizer; unknown locales fall back to English.
func NewLocalizer(locale string) *Localizer {
	loadCatalogue()

	if locale != LocaleEnglish && locale != LocaleGerman {
		locale = DefaultLocale
	}
	return &Localizer{locale: locale}
}

// LocalizerFromContext creates a localizer from context
func LocalizerFromContext(ctx context.Context) *Localizer {
	return NewLocalizer(GetLocaleFromContext(ctx))
}

// T translates a message key, replacing {name} placeholders from params.
// The key itself is returned when no locale knows it.
func (l *Localizer) T(key string, params ...map[string]string) string {
	msg, ok := catalogue[l.locale][key]
	if !ok {
		msg, ok = catalogue[DefaultLocale][key]
	}
	if !ok {
		return key
	}

	if len(params) > 0 {
		for k, v := range params[0] {
			msg = strings.ReplaceAll(msg, "{"+k+"}", v)
		}
	}
	return msg
}

// Locale returns the localizer's locale
func (l *Localizer) Locale() string {
	return l.locale
}

// WithLocale adds locale to context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// GetLocaleFromContext retrieves locale from context
func GetLocaleFromContext(ctx context.Context) string {
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage returns the supported locale with the highest q-value
// in an Accept-Language header.
func ParseAcceptLanguage(header string) string {
	type candidate struct {
		locale string
		q      float64
	}

	var candidates []candidate
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		tag, q := part, 1.0
		if idx := strings.Index(part, ";"); idx >= 0 {
			tag = strings.TrimSpace(part[:idx])
			if p := strings.TrimSpace(part[idx+1:]); strings.HasPrefix(p, "q=") {
				if v, err := strconv.ParseFloat(p[2:], 64); err == nil {
					q = v
				}
			}
		}

		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if base == LocaleEnglish || base == LocaleGerman {
			candidates = append(candidates, candidate{locale: base, q: q})
		}
	}

	if len(candidates) == 0 {
		return DefaultLocale
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].q > candidates[j].q
	})
	return candidates[0].locale
}

// T translates using the default locale
func T(key string, params ...map[string]string) string {
	return NewLocalizer(DefaultLocale).T(key, params...)
}

// TFromContext translates using locale from context
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return LocalizerFromContext(ctx).T(key, params...)
}
