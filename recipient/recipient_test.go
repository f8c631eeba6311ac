package recipient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipient_WithDefaults(t *testing.T) {
	t.Parallel()

	r := Recipient{"email": "ann@example.com", "name": "", "company": "Acme"}
	got := r.WithDefaults(map[string]string{"name": "John Doe", "company": "Example Corp", "date": "today"})

	assert.Equal(t, Recipient{
		"email":   "ann@example.com",
		"name":    "John Doe",
		"company": "Acme",
		"date":    "today",
	}, got)
	assert.Equal(t, "", r["name"], "original must stay untouched")
	assert.NotContains(t, r, "date")
}

func TestRecipient_Clone(t *testing.T) {
	t.Parallel()

	r := Recipient{"email": "ann@example.com"}
	c := r.Clone()
	c["email"] = "other@example.com"

	assert.Equal(t, "ann@example.com", r.Email())
	assert.Equal(t, "other@example.com", c.Email())
}

func TestSampleDefaults(t *testing.T) {
	t.Parallel()

	d := SampleDefaults(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "John Doe", d["name"])
	assert.Equal(t, "Example Corp", d["company"])
	assert.Equal(t, "Your Company", d["sender_name"])
	assert.Equal(t, "Your Company", d["company_name"])
	assert.Equal(t, "This is a sample message", d["message"])
	assert.Equal(t, "March 07, 2024", d["date"])
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{"ann@example.com", true},
		{"first.last+tag@sub.example.co.uk", true},
		{"", false},
		{"ann", false},
		{"ann@", false},
		{"@example.com", false},
		{"ann@localhost", false},
		{"ann@example.", false},
		{"Ann <ann@example.com>", false},
		{" ann@example.com", false},
		{"ann@@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ValidEmail(tt.addr))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	in := []Recipient{
		{"email": "ann@example.com", "name": "Ann"},
		{"email": "broken", "name": "Bob"},
		{"email": "  carl@example.com ", "name": "Carl"},
		{"email": "dan@nowhere", "name": "Dan"},
	}

	valid, invalid := Validate(in)

	require.Len(t, valid, 2)
	assert.Equal(t, "ann@example.com", valid[0].Email())
	assert.Equal(t, "carl@example.com", valid[1].Email())
	assert.Equal(t, "Carl", valid[1]["name"])
	assert.Equal(t, []string{"broken", "dan@nowhere"}, invalid)
	assert.Equal(t, "  carl@example.com ", in[2].Email(), "input must not be mutated")
}
