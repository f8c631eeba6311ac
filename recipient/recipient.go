// Package recipient holds campaign recipients: field name to value mappings
// with a mandatory "email" field.
package recipient

import (
	"maps"
	"net/mail"
	"strings"
	"time"
)

// EmailField is the field every recipient must carry.
const EmailField = "email"

// Recipient maps field names to values.
type Recipient map[string]string

// Email returns the recipient address.
func (r Recipient) Email() string {
	return r[EmailField]
}

// Clone returns a copy of r.
func (r Recipient) Clone() Recipient {
	return maps.Clone(r)
}

// WithDefaults returns a copy of r where missing or empty fields are taken from defaults.
func (r Recipient) WithDefaults(defaults map[string]string) Recipient {
	out := make(Recipient, len(r)+len(defaults))
	maps.Copy(out, r)
	for k, v := range defaults {
		if out[k] == "" {
			out[k] = v
		}
	}
	return out
}

// SampleDefaults returns the values used to fill common template fields
// for previews and test emails.
func SampleDefaults(now time.Time) map[string]string {
	return map[string]string{
		"name":         "John Doe",
		"company":      "Example Corp",
		"sender_name":  "Your Company",
		"company_name": "Your Company",
		"message":      "This is a sample message",
		"date":         now.Format("January 02, 2006"),
	}
}

// ValidEmail reports whether addr is a bare addr-spec with a dotted domain.
func ValidEmail(addr string) bool {
	if addr == "" || strings.TrimSpace(addr) != addr {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr || parsed.Name != "" {
		return false
	}
	at := strings.LastIndexByte(addr, '@')
	domain := addr[at+1:]
	return at > 0 && strings.Contains(domain, ".") &&
		!strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}

// Validate splits recipients into those with a valid address and the invalid addresses.
// Order is preserved in both results.
func Validate(recipients []Recipient) (valid []Recipient, invalid []string) {
	for _, r := range recipients {
		email := strings.TrimSpace(r.Email())
		if !ValidEmail(email) {
			invalid = append(invalid, email)
			continue
		}
		if email != r.Email() {
			r = r.Clone()
			r[EmailField] = email
		}
		valid = append(valid, r)
	}
	return valid, invalid
}
