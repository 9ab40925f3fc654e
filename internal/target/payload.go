package target

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
)

// Payload is the typed content of an item
type Payload interface {
	UID() string
	SetUID(uid string)
	Summary() string
	Encode() (string, error)
}

// Contact is an address book entry. A contact with members is a mailing list.
type Contact struct {
	ID          string
	DisplayName string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Company     string
	Notes       string
	Members     []string
}

func (c *Contact) UID() string       { return c.ID }
func (c *Contact) SetUID(uid string) { c.ID = uid }

// IsList reports whether the contact is a mailing list
func (c *Contact) IsList() bool {
	return len(c.Members) > 0
}

// Summary returns the best display name available
func (c *Contact) Summary() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		return name
	}
	return c.Email
}

// Encode renders the contact as a vCard 4.0
func (c *Contact) Encode() (string, error) {
	card := vcard.Card{}
	card.SetValue(vcard.FieldVersion, "4.0")
	card.SetValue(vcard.FieldUID, c.ID)
	card.SetValue(vcard.FieldFormattedName, c.Summary())
	if c.FirstName != "" || c.LastName != "" {
		card.SetName(&vcard.Name{GivenName: c.FirstName, FamilyName: c.LastName})
	}
	setIfPresent(card, vcard.FieldEmail, c.Email)
	setIfPresent(card, vcard.FieldTelephone, c.Phone)
	setIfPresent(card, vcard.FieldOrganization, c.Company)
	setIfPresent(card, vcard.FieldNote, c.Notes)
	if c.IsList() {
		card.SetKind(vcard.KindGroup)
		for _, m := range c.Members {
			card.AddValue(vcard.FieldMember, "mailto:"+m)
		}
	}

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return "", fmt.Errorf("encoding vcard: %w", err)
	}
	return buf.String(), nil
}

func setIfPresent(card vcard.Card, field, value string) {
	if value != "" {
		card.SetValue(field, value)
	}
}

// DecodeContact parses a vCard
func DecodeContact(data string) (*Contact, error) {
	card, err := vcard.NewDecoder(strings.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decoding vcard: %w", err)
	}

	c := &Contact{
		ID:          card.Value(vcard.FieldUID),
		DisplayName: card.PreferredValue(vcard.FieldFormattedName),
		Email:       card.PreferredValue(vcard.FieldEmail),
		Phone:       card.PreferredValue(vcard.FieldTelephone),
		Company:     card.Value(vcard.FieldOrganization),
		Notes:       card.Value(vcard.FieldNote),
	}
	if n := card.Name(); n != nil {
		c.FirstName = n.GivenName
		c.LastName = n.FamilyName
	}
	if card.Kind() == vcard.KindGroup {
		for _, m := range card.Values(vcard.FieldMember) {
			c.Members = append(c.Members, strings.TrimPrefix(m, "mailto:"))
		}
	}
	return c, nil
}

// Event is a calendar event or, in a todo calendar, a task
type Event struct {
	ID        string    `json:"uid"`
	Title     string    `json:"title"`
	Location  string    `json:"location,omitempty"`
	Body      string    `json:"body,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	End       time.Time `json:"end,omitempty"`
	AllDay    bool      `json:"all_day,omitempty"`
	Due       time.Time `json:"due,omitempty"`
	Completed bool      `json:"completed,omitempty"`
}

func (e *Event) UID() string       { return e.ID }
func (e *Event) SetUID(uid string) { e.ID = uid }
func (e *Event) Summary() string   { return e.Title }

// Encode renders the event as JSON
func (e *Event) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encoding event: %w", err)
	}
	return string(data), nil
}

// DecodeEvent parses an encoded event
func DecodeEvent(data string) (*Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &e, nil
}
