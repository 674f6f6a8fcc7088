package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// DefaultLocale is tried after the requested and fallback locales.
const DefaultLocale = "en"

// Text is a task field that is either a plain string or a set of
// locale-specific variants.
type Text struct {
	plain     string
	localized map[string]string
}

// Plain wraps a single-language value.
func Plain(s string) Text { return Text{plain: s} }

// Localized wraps per-locale values. Keys are lower-cased.
func Localized(values map[string]string) Text {
	if len(values) == 0 {
		return Text{}
	}
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[normalizeLocale(k)] = v
	}
	return Text{localized: m}
}

// IsLocalized reports whether the value carries per-locale variants.
func (t Text) IsLocalized() bool { return t.localized != nil }

// Locales lists the available locales in sorted order.
func (t Text) Locales() []string {
	out := make([]string, 0, len(t.localized))
	for k := range t.localized {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve picks the best variant: requested, fallback, DefaultLocale, then
// the first locale in sorted order. Plain values resolve to themselves.
func (t Text) Resolve(locale, fallback string) string {
	if t.localized == nil {
		return t.plain
	}
	for _, l := range []string{locale, fallback, DefaultLocale} {
		if l == "" {
			continue
		}
		if v, ok := t.localized[normalizeLocale(l)]; ok {
			return v
		}
		// "zh-CN" falls back to "zh"
		if base, _, found := strings.Cut(normalizeLocale(l), "-"); found {
			if v, ok := t.localized[base]; ok {
				return v
			}
		}
	}
	locales := t.Locales()
	if len(locales) == 0 {
		return ""
	}
	return t.localized[locales[0]]
}

// String resolves with the default locale.
func (t Text) String() string { return t.Resolve(DefaultLocale, "") }

// Raw returns the wire shape: a string or a map of locale to string.
func (t Text) Raw() any {
	if t.localized == nil {
		return t.plain
	}
	out := make(map[string]string, len(t.localized))
	for k, v := range t.localized {
		out[k] = v
	}
	return out
}

func (t Text) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Raw())
}

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Text{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Plain(s)
		return nil
	case '{':
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		*t = Localized(m)
		return nil
	default:
		return errors.New("text must be a string or an object of locale to string")
	}
}

// ParseText decodes the ledger wire format: a JSON object string becomes
// Localized, anything else is Plain.
func ParseText(s string) Text {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]string
		if err := json.Unmarshal([]byte(trimmed), &m); err == nil && len(m) > 0 {
			return Localized(m)
		}
	}
	return Plain(s)
}

// Encode is the inverse of ParseText.
func (t Text) Encode() string {
	if t.localized == nil {
		return t.plain
	}
	b, _ := json.Marshal(t.localized)
	return string(b)
}

func normalizeLocale(l string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(l), "_", "-"))
}
