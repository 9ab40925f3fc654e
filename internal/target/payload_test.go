package target

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactVCard(t *testing.T) {
	c := &Contact{
		ID:        "uid-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Phone:     "+44 20 1234",
	}

	encoded, err := c.Encode()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "BEGIN:VCARD"))
	assert.Contains(t, encoded, "VERSION:4.0")
	assert.Contains(t, encoded, "FN:Ada Lovelace")

	decoded, err := DecodeContact(encoded)
	require.NoError(t, err)
	assert.Equal(t, c.ID, decoded.ID)
	assert.Equal(t, "Ada Lovelace", decoded.DisplayName)
	assert.Equal(t, "Ada", decoded.FirstName)
	assert.Equal(t, "Lovelace", decoded.LastName)
	assert.Equal(t, c.Email, decoded.Email)
	assert.False(t, decoded.IsList())
}

func TestContactListVCard(t *testing.T) {
	list := &Contact{ID: "list-1", DisplayName: "Team", Members: []string{"a@example.com", "b@example.com"}}

	encoded, err := list.Encode()
	require.NoError(t, err)

	decoded, err := DecodeContact(encoded)
	require.NoError(t, err)
	assert.True(t, decoded.IsList())
	assert.ElementsMatch(t, list.Members, decoded.Members)
}

func TestContactSummary(t *testing.T) {
	assert.Equal(t, "Shown", (&Contact{DisplayName: "Shown", FirstName: "A"}).Summary())
	assert.Equal(t, "A B", (&Contact{FirstName: "A", LastName: "B"}).Summary())
	assert.Equal(t, "x@example.com", (&Contact{Email: "x@example.com"}).Summary())
}

func TestDecodeContactInvalid(t *testing.T) {
	_, err := DecodeContact("not a vcard")
	assert.Error(t, err)
}

func TestEventEncoding(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := &Event{ID: "ev-1", Title: "Standup", Start: start, End: start.Add(15 * time.Minute)}

	encoded, err := e.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEvent(encoded)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
	assert.Equal(t, "Standup", decoded.Summary())
}

func TestAppendStaleSuffix(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		pending bool
		want    string
	}{
		{"clean", "Contacts", false, "Contacts (stale)"},
		{"with pending changes", "Contacts", true, "Contacts (stale) (unsynced changes)"},
		{"already stale", "Contacts (stale)", false, "Contacts (stale)"},
		{"already marked pending", "Contacts (stale) (unsynced changes)", true, "Contacts (stale) (unsynced changes)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendStaleSuffix(tt.in, "(stale)", "(unsynced changes)", tt.pending)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Contacts", StripStaleSuffix(got, "(stale)", "(unsynced changes)"))
		})
	}
}
