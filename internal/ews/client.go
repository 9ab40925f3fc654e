// Package ews is a client for the parts of Exchange Web Services used to sync
// contacts, calendars and tasks: folder listing, incremental item sync, item
// upload, name resolution and autodiscover.
package ews

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/ewsync/internal/account"
	"github.com/tildaslashalef/ewsync/internal/config"
	"github.com/tildaslashalef/ewsync/internal/loggy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const defaultOAuthScope = "https://outlook.office365.com/.default"

// CredentialSource resolves the secret of an account
type CredentialSource interface {
	Secret(acct *account.Account) (string, error)
}

// SettingsReader reads persisted provider settings
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// Client talks to EWS endpoints on behalf of accounts
type Client struct {
	cfg        config.EWSConfig
	creds      CredentialSource
	settings   SettingsReader
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *loggy.Logger

	retryInterval time.Duration

	mu     sync.Mutex
	tokens map[string]oauth2.TokenSource
}

// NewClient creates a new EWS client. settings may be nil when no account uses OAuth2.
func NewClient(cfg config.EWSConfig, creds CredentialSource, settings SettingsReader, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	return &Client{
		cfg:           cfg,
		creds:         creds,
		settings:      settings,
		httpClient:    &http.Client{Transport: transport},
		limiter:       newLimiter(cfg.RequestsPerMinute, cfg.BurstLimit),
		logger:        logger,
		retryInterval: 500 * time.Millisecond,
		tokens:        make(map[string]oauth2.TokenSource),
	}
}

func newLimiter(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, max(burst, 1))
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), max(burst, 1))
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.cfg.MaxRetries, 0))), ctx)
}

// call sends one SOAP request to the account's EWS endpoint and decodes the response
func (c *Client) call(ctx context.Context, acct *account.Account, request, response any) error {
	endpoint := acct.Endpoint()
	if endpoint == "" {
		return &Error{Code: CodeNoEndpoint, Message: "account has no EWS endpoint"}
	}

	body, err := encodeEnvelope(request)
	if err != nil {
		return err
	}

	return c.post(ctx, acct, endpoint, "text/xml; charset=utf-8", body, func(status int, data []byte) error {
		return decodeEnvelope(status, data, response)
	})
}

// post sends body to url with retries on temporary failures. decode is
// called for 200 responses and for error responses carrying a body.
func (c *Client) post(ctx context.Context, acct *account.Account, url, contentType string, body []byte, decode func(status int, data []byte) error) error {
	if _, ok := ctx.Deadline(); !ok && c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			// the wait would outlast the request deadline
			return backoff.Permanent(fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		if err := c.authorize(ctx, acct, req); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Debug("EWS request failed", "account_id", acct.ID, "attempt", attempt, "error", err)
			return &Error{Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &Error{StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response body: %w", err)}
		}

		if resp.StatusCode != http.StatusOK {
			herr := &Error{StatusCode: resp.StatusCode}
			if len(data) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "xml") {
				var ewsErr *Error
				if err := decode(resp.StatusCode, data); errors.As(err, &ewsErr) && ewsErr.Code != CodeInvalidResponse {
					herr = ewsErr
				}
			}
			c.logger.Debug("EWS error response", "account_id", acct.ID, "status", resp.StatusCode, "code", herr.Code, "attempt", attempt)
			if herr.Temporary() {
				return herr
			}
			return backoff.Permanent(herr)
		}

		if err := decode(resp.StatusCode, data); err != nil {
			var ewsErr *Error
			if errors.As(err, &ewsErr) && ewsErr.Temporary() {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	return backoff.Retry(operation, c.newBackOff(ctx))
}

// authorize sets the Authorization header for the account's auth method
func (c *Client) authorize(ctx context.Context, acct *account.Account, req *http.Request) error {
	switch acct.AuthMethod {
	case account.AuthOAuth2:
		ts, err := c.tokenSource(ctx, acct)
		if err != nil {
			return err
		}
		token, err := ts.Token()
		if err != nil {
			return &Error{StatusCode: http.StatusUnauthorized, Message: "fetching OAuth2 token", Err: err}
		}
		token.SetAuthHeader(req)
		if acct.Email != "" {
			req.Header.Set("X-AnchorMailbox", acct.Email)
		}
		return nil
	default:
		secret, err := c.secret(acct)
		if err != nil {
			return &Error{StatusCode: http.StatusUnauthorized, Message: "no password stored for account", Err: err}
		}
		req.SetBasicAuth(acct.User, secret)
		return nil
	}
}

func (c *Client) secret(acct *account.Account) (string, error) {
	if c.creds == nil {
		return "", errors.New("no credential store available")
	}
	return c.creds.Secret(acct)
}

// tokenSource returns the cached client-credentials token source of an account
func (c *Client) tokenSource(ctx context.Context, acct *account.Account) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.tokens[acct.ID]; ok {
		return ts, nil
	}
	if c.settings == nil {
		return nil, &Error{StatusCode: http.StatusUnauthorized, Message: "OAuth2 is not configured"}
	}

	tokenURL, err := c.settings.GetSetting(ctx, config.SettingOAuthTokenURL)
	if err != nil || tokenURL == "" {
		return nil, &Error{StatusCode: http.StatusUnauthorized, Message: "OAuth2 token URL is not configured", Err: err}
	}
	clientID, err := c.settings.GetSetting(ctx, config.SettingOAuthClientID)
	if err != nil {
		return nil, fmt.Errorf("reading OAuth2 client id: %w", err)
	}
	if clientID == "" {
		clientID = acct.User
	}

	secret, err := c.secret(acct)
	if err != nil {
		secret, err = c.settings.GetSetting(ctx, config.SettingOAuthClientSecret)
		if err != nil || secret == "" {
			return nil, &Error{StatusCode: http.StatusUnauthorized, Message: "no OAuth2 client secret", Err: err}
		}
	}

	scopes := []string{defaultOAuthScope}
	if raw, _ := c.settings.GetSetting(ctx, config.SettingOAuthScopes); raw != "" {
		scopes = strings.Split(raw, ",")
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
	ts := cc.TokenSource(tokenCtx)
	c.tokens[acct.ID] = ts
	return ts, nil
}

// Forget drops cached tokens of an account, e.g. after its secret changed
func (c *Client) Forget(accountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, accountID)
}
