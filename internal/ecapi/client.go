package ecapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// Refresher is the slice of TokenManager the client needs to recover
// from an authorization failure mid-call.
type Refresher interface {
	Current() Token
	Refresh(ctx context.Context) (Token, error)
}

// Response is the raw outcome of an authenticated call. Non-2xx statuses
// are returned here rather than as errors: the upstream API embeds
// failures in 200 responses, so status interpretation belongs to the
// caller and the classifier.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode <= 299 }

// Client issues bearer-authenticated calls over a single shared
// transport. When a call comes back 401 or 403 it refreshes the token
// and reissues the identical request exactly once; a second
// authorization failure is surfaced as-is. The transport is shared for
// connection reuse and must not be recreated per call.
type Client struct {
	http   *http.Client
	tokens Refresher
}

func NewClient(hc *http.Client, tokens Refresher) *Client {
	return &Client{http: hc, tokens: tokens}
}

// Do issues one authenticated request. body may be nil for GET calls.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, contentType, accept string) (Response, error) {
	token := c.tokens.Current()

	resp, err := c.issue(ctx, method, url, body, contentType, accept, token.Value)
	if err != nil {
		return Response{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// One refresh, one retry. If the retry is rejected again the
		// credential is misconfigured and looping would not help.
		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("re-authenticate after %d: %w", resp.StatusCode, err)
		}
		resp, err = c.issue(ctx, method, url, body, contentType, accept, token.Value)
		if err != nil {
			return Response{}, err
		}
	}
	return resp, nil
}

func (c *Client) issue(ctx context.Context, method, url string, body []byte, contentType, accept, bearer string) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", accept)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	return Response{StatusCode: httpResp.StatusCode, Body: respBody}, nil
}
