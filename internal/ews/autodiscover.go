package ews

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/tildaslashalef/ewsync/internal/account"
)

const (
	nsAutodiscoverRequest  = "http://schemas.microsoft.com/exchange/autodiscover/outlook/requestschema/2006"
	nsAutodiscoverResponse = "http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a"

	maxAutodiscoverRedirects = 10
)

type autodiscoverRequest struct {
	XMLName xml.Name `xml:"Autodiscover"`
	NS      string   `xml:"xmlns,attr"`
	Request struct {
		EMailAddress             string `xml:"EMailAddress"`
		AcceptableResponseSchema string `xml:"AcceptableResponseSchema"`
	} `xml:"Request"`
}

type autodiscoverResponse struct {
	Response struct {
		Error struct {
			ErrorCode string `xml:"ErrorCode"`
			Message   string `xml:"Message"`
		} `xml:"Error"`
		Account struct {
			Action       string `xml:"Action"`
			RedirectAddr string `xml:"RedirectAddr"`
			RedirectURL  string `xml:"RedirectUrl"`
			Protocols    []struct {
				Type   string `xml:"Type"`
				EwsURL string `xml:"EwsUrl"`
			} `xml:"Protocol"`
		} `xml:"Account"`
	} `xml:"Response"`
}

// ewsURL picks the EWS URL, preferring the internal Exchange protocol entry
func (r *autodiscoverResponse) ewsURL() string {
	for _, want := range []string{"EXCH", "EXPR"} {
		for _, p := range r.Response.Account.Protocols {
			if p.Type == want && p.EwsURL != "" {
				return p.EwsURL
			}
		}
	}
	for _, p := range r.Response.Account.Protocols {
		if p.EwsURL != "" {
			return p.EwsURL
		}
	}
	return ""
}

// autodiscoverCandidates lists the POX endpoints tried for an e-mail address
func (c *Client) autodiscoverCandidates(email string) []string {
	if c.cfg.AutodiscoverURL != "" {
		return []string{c.cfg.AutodiscoverURL}
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return nil
	}
	domain := email[at+1:]
	return []string{
		"https://" + domain + "/autodiscover/autodiscover.xml",
		"https://autodiscover." + domain + "/autodiscover/autodiscover.xml",
	}
}

// Autodiscover finds the EWS endpoint of an account from its e-mail address
func (c *Client) Autodiscover(ctx context.Context, acct *account.Account) (string, error) {
	email := acct.Email
	if email == "" {
		email = acct.User
	}

	candidates := c.autodiscoverCandidates(email)
	if len(candidates) == 0 {
		return "", &Error{Code: CodeAutodiscoverFailed, Message: fmt.Sprintf("cannot derive an autodiscover domain from %q", email)}
	}

	var lastErr error
	for hops := 0; hops < maxAutodiscoverRedirects && len(candidates) > 0; hops++ {
		url := candidates[0]
		candidates = candidates[1:]

		resp, err := c.autodiscover(ctx, acct, url, email)
		if err != nil {
			var ewsErr *Error
			if errors.As(err, &ewsErr) && ewsErr.Unauthorized() || ctx.Err() != nil {
				return "", err
			}
			c.logger.Debug("Autodiscover candidate failed", "account_id", acct.ID, "url", url, "error", err)
			lastErr = err
			continue
		}

		switch strings.ToLower(resp.Response.Account.Action) {
		case "redirectaddr":
			if addr := resp.Response.Account.RedirectAddr; addr != "" && addr != email {
				email = addr
				candidates = c.autodiscoverCandidates(email)
			}
			continue
		case "redirecturl":
			if next := resp.Response.Account.RedirectURL; next != "" {
				candidates = append([]string{next}, candidates...)
			}
			continue
		}

		if ews := resp.ewsURL(); ews != "" {
			c.logger.Info("Autodiscovered EWS endpoint", "account_id", acct.ID, "url", ews)
			return ews, nil
		}
		if code := resp.Response.Error.ErrorCode; code != "" {
			lastErr = &Error{Code: CodeAutodiscoverFailed, Message: fmt.Sprintf("%s: %s", code, resp.Response.Error.Message)}
		}
	}

	return "", &Error{Code: CodeAutodiscoverFailed, Message: "no autodiscover endpoint returned an EWS URL", Err: lastErr}
}

func (c *Client) autodiscover(ctx context.Context, acct *account.Account, url, email string) (*autodiscoverResponse, error) {
	req := autodiscoverRequest{NS: nsAutodiscoverRequest}
	req.Request.EMailAddress = email
	req.Request.AcceptableResponseSchema = nsAutodiscoverResponse

	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding autodiscover request: %w", err)
	}
	body = append([]byte(xml.Header), body...)

	var resp autodiscoverResponse
	err = c.post(ctx, acct, url, "text/xml; charset=utf-8", body, func(status int, data []byte) error {
		if err := xml.Unmarshal(data, &resp); err != nil {
			return &Error{StatusCode: status, Code: CodeInvalidResponse, Message: "malformed autodiscover response", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
