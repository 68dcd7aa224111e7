package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/boddenberg/consultant-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/consultant-bfa-go/internal/port"

	"go.uber.org/zap"
)

// ============================================================
// HTTP helpers shared by the PostgREST and GoTrue calls
// ============================================================

// apiError is a non-2xx answer from Supabase. PostgREST and GoTrue use
// different bodies; both collapse into Code and Message.
type apiError struct {
	Status  int
	Code    string
	Message string
	Body    string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

func parseAPIError(status int, body []byte) *apiError {
	e := &apiError{Status: status, Body: string(body)}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err == nil {
		e.Code = firstString(m, "error_code", "code", "error")
		e.Message = firstString(m, "message", "msg", "error_description")
	}
	return e
}

// firstString returns the first key holding a non-empty string. GoTrue's
// numeric "code" is skipped on purpose.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// classify turns client errors (4xx) into permanent errors via mapper so they
// are neither retried nor counted against the breaker.
func classify(err error, mapper func(*apiError) error) error {
	apiErr, ok := err.(*apiError)
	if !ok || apiErr.Status >= 500 {
		return err
	}
	return resilience.Permanent(mapper(apiErr))
}

// bearer picks the token for row calls: the caller's access token so row-level
// policies apply, else the service role key, else the anon key.
func (c *Client) bearer(ctx context.Context) string {
	if t := port.AccessTokenFrom(ctx); t != "" {
		return t
	}
	if c.serviceRoleKey != "" {
		return c.serviceRoleKey
	}
	return c.anonKey
}

func (c *Client) restURL(table string, params url.Values) string {
	u := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, table)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) authURL(path string, params url.Values) string {
	u := fmt.Sprintf("%s/auth/v1/%s", c.baseURL, path)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func queryParams(q port.Query) url.Values {
	params := filterParams(q.Filters)
	if q.Columns != "" {
		params.Set("select", q.Columns)
	}
	if q.Order != nil {
		dir := "desc"
		if q.Order.Ascending {
			dir = "asc"
		}
		params.Set("order", q.Order.Column+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

func filterParams(filters []port.Filter) url.Values {
	params := url.Values{}
	for _, f := range filters {
		params.Add(f.Column, "eq."+f.Value)
	}
	return params
}

// newRequest builds a request carrying the project key and the given bearer.
func (c *Client) newRequest(ctx context.Context, method, rawURL string, payload any, bearer string) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// send executes req and returns the body of a 2xx answer or an *apiError.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

func decodeInto(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
