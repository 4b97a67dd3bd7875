// Package pii masks personally identifying values before they are stored.
// Masking is obfuscation for display, not redaction: short prefixes and
// suffixes of the original value stay visible.
package pii

import (
	"strings"
	"unicode"
)

const maskToken = "***"

// IsEmail reports whether the value has the shape local@domain: exactly one
// '@', non-empty parts and no whitespace. Non-ASCII local parts are accepted,
// matching what address validation lets through.
func IsEmail(value string) bool {
	if strings.Count(value, "@") != 1 || strings.IndexFunc(value, unicode.IsSpace) >= 0 {
		return false
	}
	local, domain, _ := strings.Cut(value, "@")
	return local != "" && domain != ""
}

// MaskEmail keeps the first two characters of the local part and the domain:
// john.doe@company.com becomes jo***@company.com
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return MaskString(email)
	}
	local, domain := []rune(email[:at]), email[at+1:]
	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	return string(local[:keep]) + maskToken + "@" + domain
}

// MaskString keeps the first and last two characters. Values of four
// characters or fewer are replaced entirely.
func MaskString(value string) string {
	r := []rune(value)
	if len(r) <= 4 {
		return maskToken
	}
	return string(r[:2]) + maskToken + string(r[len(r)-2:])
}

// Mask picks the email or generic rule for a value. Empty values stay empty.
func Mask(value string) string {
	if value == "" {
		return value
	}
	if IsEmail(value) {
		return MaskEmail(value)
	}
	return MaskString(value)
}

// Masker applies masking to configured field names
type Masker struct {
	enabled bool
	fields  map[string]bool
	nested  map[string]bool
}

// NewMasker creates a masker. fields are the PII field names; nested are the
// structured-map keys inside which those field names are masked one level down.
func NewMasker(enabled bool, fields, nested []string) *Masker {
	return &Masker{
		enabled: enabled,
		fields:  toSet(fields),
		nested:  toSet(nested),
	}
}

// Enabled reports whether masking is switched on
func (m *Masker) Enabled() bool {
	return m != nil && m.enabled
}

// MaskField masks value when masking is on and name is a PII field
func (m *Masker) MaskField(name, value string) string {
	if !m.Enabled() || !m.fields[name] {
		return value
	}
	return Mask(value)
}

// MaskDetails returns a copy of details with PII fields masked at the top
// level and inside the configured nested maps. The input is never modified.
func (m *Masker) MaskDetails(details map[string]interface{}) map[string]interface{} {
	if !m.Enabled() || details == nil {
		return details
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		switch val := v.(type) {
		case string:
			out[k] = m.MaskField(k, val)
		case map[string]interface{}:
			if m.nested[k] {
				out[k] = m.maskFlat(val)
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

func (m *Masker) maskFlat(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok {
			out[k] = m.MaskField(k, s)
			continue
		}
		out[k] = v
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
