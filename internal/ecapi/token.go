package ecapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"

	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/config"
	"github.com/Atos-IT-Dev/ITAP-SeparationECIntegration/internal/obs"
)

// expiryBuffer shrinks the server-reported token lifetime so a token is
// never presented moments before the server invalidates it.
const expiryBuffer = 5 * time.Minute

// Token is a bearer credential with its effective expiry. Replaced, not
// mutated, on refresh.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token may no longer be presented.
func (t Token) Expired(now time.Time) bool {
	return t.Value == "" || !now.Before(t.ExpiresAt)
}

// TokenManager exchanges tenant credentials for bearer tokens and tracks
// the current token. Not safe for concurrent use; runs are strictly
// sequential per tenant.
type TokenManager struct {
	http *http.Client
	cfg  config.Config
	now  func() time.Time

	current Token
}

func NewTokenManager(hc *http.Client, cfg config.Config) *TokenManager {
	return &TokenManager{http: hc, cfg: cfg, now: time.Now}
}

// Current returns the token from the last successful Refresh; the zero
// Token before any refresh.
func (m *TokenManager) Current() Token { return m.current }

// GenerateAssertion posts the tenant's signing material to the SAML
// assertion endpoint and returns the raw assertion body.
func (m *TokenManager) GenerateAssertion(ctx context.Context) (string, error) {
	start := m.now()
	defer obs.ObserveCall(m.cfg.Tenant(), "generate_assertion", start)

	form := url.Values{
		"client_id":   {m.cfg.Get(config.KeyClientID)},
		"token_url":   {m.cfg.Get(config.KeyTokenEndpoint)},
		"private_key": {m.cfg.Get(config.KeySAMLPrivateKey)},
		"user_id":     {m.cfg.Get(config.KeySAMLUserID)},
	}
	body, err := m.postForm(ctx, m.cfg.Get(config.KeySAMLEndpoint), form, "*/*")
	if err != nil {
		return "", &Error{Kind: KindAssertion, Op: "post saml endpoint", Err: err}
	}
	assertion := strings.TrimSpace(string(body))
	if assertion == "" {
		return "", &Error{Kind: KindAssertion, Op: "post saml endpoint", Err: fmt.Errorf("empty assertion body")}
	}
	return assertion, nil
}

// ExchangeToken trades a SAML assertion for a bearer token. The key that
// holds the token value in the response envelope varies per tenant, so it
// is read from config rather than hardcoded. A missing expires_in counts
// as 0 seconds.
func (m *TokenManager) ExchangeToken(ctx context.Context, assertion string) (string, int, error) {
	start := m.now()
	defer obs.ObserveCall(m.cfg.Tenant(), "exchange_token", start)

	form := url.Values{
		"company_id": {m.cfg.Get(config.KeyCompanyID)},
		"client_id":  {m.cfg.Get(config.KeyClientID)},
		"grant_type": {m.cfg.Get(config.KeyTokenGrantType)},
		"assertion":  {assertion},
	}
	body, err := m.postForm(ctx, m.cfg.Get(config.KeyTokenEndpoint), form, "application/json")
	if err != nil {
		return "", 0, &Error{Kind: KindTokenExchange, Op: "post token endpoint", Err: err}
	}

	envelope, err := gabs.ParseJSON(body)
	if err != nil {
		return "", 0, &Error{
			Kind: KindTokenExchange, Op: "parse token response",
			ResponseBody: string(body), Err: err,
		}
	}
	token, _ := envelope.Search(m.cfg.Get(config.KeyTokenFieldName)).Data().(string)
	if strings.TrimSpace(token) == "" {
		return "", 0, &Error{
			Kind: KindTokenExchange, Op: "extract token field",
			ResponseBody: string(body),
			Err:          fmt.Errorf("field %q absent or empty", m.cfg.Get(config.KeyTokenFieldName)),
		}
	}
	return token, expiresIn(envelope), nil
}

// Refresh runs assertion generation and token exchange as one atomic
// step: callers either observe a new valid token or a failure, never a
// partial credential. The effective expiry is the server-reported one
// minus the safety buffer; a lifetime at or below the buffer yields a
// token that is already expired rather than one with a negative lifetime.
func (m *TokenManager) Refresh(ctx context.Context) (Token, error) {
	assertion, err := m.GenerateAssertion(ctx)
	if err != nil {
		obs.CountTokenRefresh(m.cfg.Tenant(), "failure")
		return Token{}, err
	}
	value, seconds, err := m.ExchangeToken(ctx, assertion)
	if err != nil {
		obs.CountTokenRefresh(m.cfg.Tenant(), "failure")
		return Token{}, err
	}

	now := m.now()
	expiresAt := now
	if lifetime := time.Duration(seconds)*time.Second - expiryBuffer; lifetime > 0 {
		expiresAt = now.Add(lifetime)
	}
	m.current = Token{Value: value, ExpiresAt: expiresAt}
	obs.CountTokenRefresh(m.cfg.Tenant(), "success")
	return m.current, nil
}

func (m *TokenManager) postForm(ctx context.Context, endpoint string, form url.Values, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", accept)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// expiresIn reads the expires_in field, tolerating both numeric and
// string-typed values. Absent means 0.
func expiresIn(envelope *gabs.Container) int {
	field := envelope.Search("expires_in")
	if field == nil {
		return 0
	}
	switch v := field.Data().(type) {
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
