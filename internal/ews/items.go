package ews

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tildaslashalef/ewsync/internal/target"
)

const ewsTimeLayout = "2006-01-02T15:04:05Z"

var errUnsupportedPayload = errors.New("unsupported payload")

// Field URIs written on upload
const (
	uriSubject      = "item:Subject"
	uriBody         = "item:Body"
	uriDisplayName  = "contacts:DisplayName"
	uriGivenName    = "contacts:GivenName"
	uriSurname      = "contacts:Surname"
	uriCompanyName  = "contacts:CompanyName"
	uriEmailAddress = "contacts:EmailAddress"
	uriPhoneNumber  = "contacts:PhoneNumber"
	uriMembers      = "distributionlist:Members"
	uriStart        = "calendar:Start"
	uriEnd          = "calendar:End"
	uriAllDay       = "calendar:IsAllDayEvent"
	uriLocation     = "calendar:Location"
	uriDueDate      = "task:DueDate"
	uriStatus       = "task:Status"

	emailKey = "EmailAddress1"
	phoneKey = "MobilePhone"
)

type textBody struct {
	BodyType string `xml:"BodyType,attr"`
	Text     string `xml:",chardata"`
}

type entryXML struct {
	Key   string `xml:"Key,attr"`
	Value string `xml:",chardata"`
}

type indexedFieldURI struct {
	FieldURI   string `xml:"FieldURI,attr"`
	FieldIndex string `xml:"FieldIndex,attr"`
}

// Outgoing item shapes. Element order follows the EWS schema sequence.

// Dictionaries are pointers so that an unset one is left out entirely;
// a nested a>b path would still write the empty parent element.

type entriesXML struct {
	Entries []entryXML `xml:"t:Entry"`
}

// entries returns a dictionary holding one entry, or nil when value is empty
func entries(key, value string) *entriesXML {
	if value == "" {
		return nil
	}
	return &entriesXML{Entries: []entryXML{{Key: key, Value: value}}}
}

type contactXML struct {
	XMLName        xml.Name    `xml:"t:Contact"`
	Body           *textBody   `xml:"t:Body,omitempty"`
	DisplayName    string      `xml:"t:DisplayName,omitempty"`
	GivenName      string      `xml:"t:GivenName,omitempty"`
	CompanyName    string      `xml:"t:CompanyName,omitempty"`
	EmailAddresses *entriesXML `xml:"t:EmailAddresses,omitempty"`
	PhoneNumbers   *entriesXML `xml:"t:PhoneNumbers,omitempty"`
	Surname        string      `xml:"t:Surname,omitempty"`
}

type memberXML struct {
	EmailAddress string `xml:"t:Mailbox>t:EmailAddress"`
}

type membersXML struct {
	Members []memberXML `xml:"t:Member"`
}

type distributionListXML struct {
	XMLName     xml.Name    `xml:"t:DistributionList"`
	Body        *textBody   `xml:"t:Body,omitempty"`
	DisplayName string      `xml:"t:DisplayName,omitempty"`
	Members     *membersXML `xml:"t:Members,omitempty"`
}

// members returns the member list of a distribution list, or nil when empty
func members(addrs []string) *membersXML {
	if len(addrs) == 0 {
		return nil
	}
	m := &membersXML{Members: make([]memberXML, 0, len(addrs))}
	for _, a := range addrs {
		m.Members = append(m.Members, memberXML{EmailAddress: a})
	}
	return m
}

type calendarItemXML struct {
	XMLName       xml.Name  `xml:"t:CalendarItem"`
	Subject       string    `xml:"t:Subject,omitempty"`
	Body          *textBody `xml:"t:Body,omitempty"`
	UID           string    `xml:"t:UID,omitempty"`
	Start         string    `xml:"t:Start,omitempty"`
	End           string    `xml:"t:End,omitempty"`
	IsAllDayEvent *bool     `xml:"t:IsAllDayEvent,omitempty"`
	Location      string    `xml:"t:Location,omitempty"`
}

type taskXML struct {
	XMLName xml.Name  `xml:"t:Task"`
	Subject string    `xml:"t:Subject,omitempty"`
	Body    *textBody `xml:"t:Body,omitempty"`
	DueDate string    `xml:"t:DueDate,omitempty"`
	Status  string    `xml:"t:Status,omitempty"`
}

// rawItem is any item element in a response
type rawItem struct {
	XMLName        xml.Name
	ItemID         itemID     `xml:"ItemId"`
	Subject        string     `xml:"Subject"`
	Body           textBody   `xml:"Body"`
	DisplayName    string     `xml:"DisplayName"`
	GivenName      string     `xml:"GivenName"`
	Surname        string     `xml:"Surname"`
	CompanyName    string     `xml:"CompanyName"`
	EmailAddresses []entryXML `xml:"EmailAddresses>Entry"`
	PhoneNumbers   []entryXML `xml:"PhoneNumbers>Entry"`
	Members        []string   `xml:"Members>Member>Mailbox>EmailAddress"`
	UID            string     `xml:"UID"`
	Start          string     `xml:"Start"`
	End            string     `xml:"End"`
	IsAllDayEvent  bool       `xml:"IsAllDayEvent"`
	Location       string     `xml:"Location"`
	DueDate        string     `xml:"DueDate"`
	IsComplete     bool       `xml:"IsComplete"`
	Status         string     `xml:"Status"`
}

func entryValue(entries []entryXML, keys ...string) string {
	for _, key := range keys {
		for _, e := range entries {
			if e.Key == key && strings.TrimSpace(e.Value) != "" {
				return strings.TrimSpace(e.Value)
			}
		}
	}
	return ""
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(ewsTimeLayout)
}

func body(text string) *textBody {
	if text == "" {
		return nil
	}
	return &textBody{BodyType: "Text", Text: text}
}

// payload converts a server item into a local payload. It returns nil for
// item classes that have no local representation.
func (r rawItem) payload() target.Payload {
	switch r.XMLName.Local {
	case "Contact":
		return &target.Contact{
			DisplayName: r.DisplayName,
			FirstName:   r.GivenName,
			LastName:    r.Surname,
			Email:       entryValue(r.EmailAddresses, emailKey, "EmailAddress2", "EmailAddress3"),
			Phone:       entryValue(r.PhoneNumbers, phoneKey, "BusinessPhone", "HomePhone"),
			Company:     r.CompanyName,
			Notes:       r.Body.Text,
		}
	case "DistributionList":
		return &target.Contact{
			DisplayName: r.DisplayName,
			Notes:       r.Body.Text,
			Members:     r.Members,
		}
	case "CalendarItem":
		return &target.Event{
			ID:       r.UID,
			Title:    r.Subject,
			Location: r.Location,
			Body:     r.Body.Text,
			Start:    parseTime(r.Start),
			End:      parseTime(r.End),
			AllDay:   r.IsAllDayEvent,
		}
	case "Task":
		return &target.Event{
			Title:     r.Subject,
			Body:      r.Body.Text,
			Due:       parseTime(r.DueDate),
			Completed: r.IsComplete || r.Status == "Completed",
		}
	default:
		return nil
	}
}

// fieldUpdate sets one field, or deletes it when value is nil
type fieldUpdate struct {
	uri   string
	index string
	value any
}

func set(uri string, empty bool, value any) fieldUpdate {
	if empty {
		return fieldUpdate{uri: uri}
	}
	return fieldUpdate{uri: uri, value: value}
}

func setIndexed(uri, index string, empty bool, value any) fieldUpdate {
	u := set(uri, empty, value)
	u.index = index
	return u
}

// encodeItem renders a payload as a new server item. Events become tasks
// when task is set.
func encodeItem(p target.Payload, task bool) (any, error) {
	switch v := p.(type) {
	case *target.Contact:
		if v.IsList() {
			return distributionListXML{
				DisplayName: v.Summary(),
				Body:        body(v.Notes),
				Members:     members(v.Members),
			}, nil
		}
		return contactXML{
			Body:           body(v.Notes),
			DisplayName:    v.Summary(),
			GivenName:      v.FirstName,
			CompanyName:    v.Company,
			EmailAddresses: entries(emailKey, v.Email),
			PhoneNumbers:   entries(phoneKey, v.Phone),
			Surname:        v.LastName,
		}, nil
	case *target.Event:
		return encodeEvent(v, task), nil
	default:
		return nil, fmt.Errorf("%w: %T", errUnsupportedPayload, p)
	}
}

// encodeEvent renders an event either as calendar item or as task
func encodeEvent(e *target.Event, task bool) any {
	if task {
		status := "NotStarted"
		if e.Completed {
			status = "Completed"
		}
		return taskXML{Subject: e.Title, Body: body(e.Body), DueDate: formatTime(e.Due), Status: status}
	}
	allDay := e.AllDay
	return calendarItemXML{
		Subject:       e.Title,
		Body:          body(e.Body),
		UID:           e.ID,
		Start:         formatTime(e.Start),
		End:           formatTime(e.End),
		IsAllDayEvent: &allDay,
		Location:      e.Location,
	}
}

// fieldUpdates lists the field writes that bring a server item to p
func fieldUpdates(p target.Payload, task bool) []fieldUpdate {
	switch v := p.(type) {
	case *target.Contact:
		if v.IsList() {
			return []fieldUpdate{
				set(uriBody, v.Notes == "", distributionListXML{Body: body(v.Notes)}),
				set(uriDisplayName, false, distributionListXML{DisplayName: v.Summary()}),
				set(uriMembers, len(v.Members) == 0, distributionListXML{Members: members(v.Members)}),
			}
		}
		return []fieldUpdate{
			set(uriBody, v.Notes == "", contactXML{Body: body(v.Notes)}),
			set(uriDisplayName, v.Summary() == "", contactXML{DisplayName: v.Summary()}),
			set(uriGivenName, v.FirstName == "", contactXML{GivenName: v.FirstName}),
			set(uriCompanyName, v.Company == "", contactXML{CompanyName: v.Company}),
			setIndexed(uriEmailAddress, emailKey, v.Email == "", contactXML{EmailAddresses: entries(emailKey, v.Email)}),
			setIndexed(uriPhoneNumber, phoneKey, v.Phone == "", contactXML{PhoneNumbers: entries(phoneKey, v.Phone)}),
			set(uriSurname, v.LastName == "", contactXML{Surname: v.LastName}),
		}
	case *target.Event:
		if task {
			t := encodeEvent(v, true).(taskXML)
			return []fieldUpdate{
				set(uriSubject, t.Subject == "", taskXML{Subject: t.Subject}),
				set(uriBody, t.Body == nil, taskXML{Body: t.Body}),
				set(uriDueDate, t.DueDate == "", taskXML{DueDate: t.DueDate}),
				set(uriStatus, false, taskXML{Status: t.Status}),
			}
		}
		c := encodeEvent(v, false).(calendarItemXML)
		return []fieldUpdate{
			set(uriSubject, c.Subject == "", calendarItemXML{Subject: c.Subject}),
			set(uriBody, c.Body == nil, calendarItemXML{Body: c.Body}),
			set(uriStart, c.Start == "", calendarItemXML{Start: c.Start}),
			set(uriEnd, c.End == "", calendarItemXML{End: c.End}),
			set(uriAllDay, false, calendarItemXML{IsAllDayEvent: c.IsAllDayEvent}),
			set(uriLocation, c.Location == "", calendarItemXML{Location: c.Location}),
		}
	default:
		return nil
	}
}
