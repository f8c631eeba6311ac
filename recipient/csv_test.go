package recipient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	t.Parallel()

	input := "name,Email Address,company\n" +
		"Ann,ann@example.com,Acme\n" +
		"Bob,,Bobs\n" +
		"Carl,  carl@example.com  \n" +
		"\n" +
		"Dan,   ,DanCo\n"

	table, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "email", "company"}, table.Fields)
	require.Len(t, table.Recipients, 2)
	assert.Equal(t, Recipient{"name": "Ann", "email": "ann@example.com", "company": "Acme"}, table.Recipients[0])
	assert.Equal(t, Recipient{"name": "Carl", "email": "carl@example.com", "company": ""}, table.Recipients[1])
}

func TestParseCSV_FirstEmailColumnWins(t *testing.T) {
	t.Parallel()

	table, err := ParseCSV(strings.NewReader("work_email,email,name\nw@example.com,p@example.com,Ann\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "email.1", "name"}, table.Fields)
	assert.Equal(t, "w@example.com", table.Recipients[0].Email())
	assert.Equal(t, "p@example.com", table.Recipients[0]["email.1"])
}

func TestParseCSV_HeaderNormalization(t *testing.T) {
	t.Parallel()

	table, err := ParseCSV(strings.NewReader("\ufeffEMAIL, name ,name\nann@example.com,Ann,Annie\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"email", "name", "name.1"}, table.Fields)
	assert.Equal(t, Recipient{"email": "ann@example.com", "name": "Ann", "name.1": "Annie"}, table.Recipients[0])
}

func TestParseCSV_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"empty file", "", ErrEmptyFile},
		{"header only", "email,name\n", ErrEmptyFile},
		{"no email column", "name,company\nAnn,Acme\n", ErrNoEmailColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseCSV(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()

		_, err := ParseCSV(strings.NewReader("email,name\n\"ann@example.com,Ann\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error parsing CSV")
	})
}

func TestParseCSV_AllBlankEmails(t *testing.T) {
	t.Parallel()

	table, err := ParseCSV(strings.NewReader("email,name\n,Ann\n  ,Bob\n"))
	require.NoError(t, err)
	assert.Empty(t, table.Recipients)
}
