package ews

import (
	"context"
	"encoding/xml"
	"strings"

	"github.com/tildaslashalef/ewsync/internal/account"
)

// Mailbox is one directory entry returned by ResolveNames
type Mailbox struct {
	DisplayName string
	FirstName   string
	LastName    string
	Email       string
}

type resolveNamesRequest struct {
	XMLName         xml.Name `xml:"m:ResolveNames"`
	FullContactData bool     `xml:"ReturnFullContactData,attr"`
	SearchScope     string   `xml:"SearchScope,attr"`
	Entry           string   `xml:"m:UnresolvedEntry"`
}

type resolveNamesResponse struct {
	Messages []struct {
		responseMessage
		Resolutions []struct {
			Mailbox struct {
				Name         string `xml:"Name"`
				EmailAddress string `xml:"EmailAddress"`
			} `xml:"Mailbox"`
			Contact struct {
				DisplayName string `xml:"DisplayName"`
				GivenName   string `xml:"GivenName"`
				Surname     string `xml:"Surname"`
			} `xml:"Contact"`
		} `xml:"ResolutionSet>Resolution"`
	} `xml:"ResponseMessages>ResolveNamesResponseMessage"`
}

// ResolveNames searches the directory and contacts for query. No match is
// an empty result, not an error.
func (c *Client) ResolveNames(ctx context.Context, acct *account.Account, query string) ([]Mailbox, error) {
	req := resolveNamesRequest{
		FullContactData: true,
		SearchScope:     "ActiveDirectoryContacts",
		Entry:           query,
	}

	var resp resolveNamesResponse
	if err := c.call(ctx, acct, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, &Error{Code: CodeInvalidResponse, Message: "ResolveNames returned no response message"}
	}

	msg := resp.Messages[0]
	switch msg.ResponseCode {
	case CodeNameResolutionNoResults:
		return nil, nil
	case CodeNameResolutionMultiple:
		// a warning, the resolutions are still returned
	default:
		if err := msg.err(); err != nil {
			return nil, err
		}
	}

	mailboxes := make([]Mailbox, 0, len(msg.Resolutions))
	for _, r := range msg.Resolutions {
		m := Mailbox{
			DisplayName: r.Contact.DisplayName,
			FirstName:   r.Contact.GivenName,
			LastName:    r.Contact.Surname,
			Email:       strings.TrimPrefix(r.Mailbox.EmailAddress, "SMTP:"),
		}
		if m.DisplayName == "" {
			m.DisplayName = r.Mailbox.Name
		}
		if m.Email == "" {
			continue
		}
		mailboxes = append(mailboxes, m)
	}
	return mailboxes, nil
}
