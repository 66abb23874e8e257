package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"chat-client/internal/logging"
)

type preparedRequest struct {
	original Request
	method   string
	url      string
	body     []byte
	headers  map[string]string
}

func (c *Client) Get(ctx context.Context, path string, params map[string]any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: path, Params: params})
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: path, Body: body})
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, URL: path, Body: body})
}

func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, URL: path, Body: body})
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, URL: path})
}

// Do sends req with the current access token. A 401 triggers one token
// refresh and one replay of the same request; every other failure is
// returned as is. When no new token can be obtained the error matches both
// ErrAuthRequired and the original *HTTPStatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	prepared, err := c.prepare(req)
	if err != nil {
		return nil, err
	}

	token := c.AccessToken()
	resp, err := c.send(ctx, prepared, token)
	if !IsUnauthorized(err) {
		return resp, err
	}

	replayToken, renewErr := c.tokenForReplay(ctx, token)
	if renewErr != nil {
		if errors.Is(renewErr, ErrAuthRequired) {
			return nil, fmt.Errorf("%w: %w", ErrAuthRequired, err)
		}
		return nil, renewErr
	}
	c.logger.Debug("replaying request with refreshed access token",
		logging.Field("method", prepared.method),
		logging.Field("url", prepared.url),
	)
	return c.send(ctx, prepared, replayToken)
}

// tokenForReplay skips the refresh when another request already replaced the
// token this one was sent with.
func (c *Client) tokenForReplay(ctx context.Context, used string) (string, error) {
	if current := c.AccessToken(); current != "" && current != used {
		c.logger.Debug("access token already refreshed; reusing it")
		return current, nil
	}
	return c.RenewAccessToken(ctx)
}

func (c *Client) prepare(req Request) (preparedRequest, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	switch method {
	case "":
		method = http.MethodGet
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return preparedRequest{}, fmt.Errorf("unsupported method %q", req.Method)
	}

	target, err := c.resolveURL(req.URL, req.Params)
	if err != nil {
		return preparedRequest{}, err
	}

	var body []byte
	switch payload := req.Body.(type) {
	case nil:
	case json.RawMessage:
		body = payload
	case []byte:
		body = payload
	default:
		body, err = json.Marshal(payload)
		if err != nil {
			return preparedRequest{}, fmt.Errorf("encode request body: %w", err)
		}
	}

	return preparedRequest{original: req, method: method, url: target, body: body, headers: req.Headers}, nil
}

func (c *Client) resolveURL(path string, params map[string]any) (string, error) {
	path = strings.TrimSpace(path)
	var target string
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target = path
	} else {
		target = strings.TrimRight(c.endpoints.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", target, err)
	}
	if len(params) > 0 {
		query := parsed.Query()
		for key, value := range params {
			query.Set(key, fmt.Sprint(value))
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (c *Client) send(ctx context.Context, p preparedRequest, token string) (*Response, error) {
	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range p.headers {
		req.Header.Set(key, value)
	}
	if token != "" {
		req.Header.Set("Authorization", c.authValue(token))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s -> %s", p.method, p.url, resp.Status)

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	oversized := len(data) > maxResponseBytes
	if oversized {
		data = data[:maxResponseBytes]
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if resp.StatusCode != http.StatusUnauthorized {
			c.logger.Warn("request failed",
				logging.Field("method", p.method),
				logging.Field("url", p.url),
				logging.Field("status", resp.Status),
				logging.Field("response", logging.FormatHTTPPayload(data)),
			)
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Request:    p.original,
			Body:       data,
		}
	}
	if readErr != nil {
		return nil, readErr
	}
	if oversized {
		return nil, fmt.Errorf("%s %s: %w", p.method, p.url, ErrResponseTooLarge)
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header, Raw: data}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out.Body); err != nil {
			if isJSONContent(resp.Header.Get("Content-Type")) {
				return nil, fmt.Errorf("%s %s: decode response envelope: %w", p.method, p.url, err)
			}
			c.logger.Debug("response body is not a JSON envelope",
				logging.Field("url", p.url),
				logging.Field("error", err),
			)
		}
	}
	return out, nil
}

func isJSONContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
