package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"chat-client/internal/logging"
)

const refreshFlightKey = "access-token"

// RenewAccessToken exchanges the stored refresh token for a new access token
// and installs it for every later request. It returns ErrAuthRequired, after
// notifying the auth-required handler, when there is no refresh token or the
// refresh endpoint yields none.
func (c *Client) RenewAccessToken(ctx context.Context) (string, error) {
	refreshToken, ok, err := c.session.RefreshToken()
	if err != nil {
		c.logger.Warn("failed to read refresh token", logging.Field("error", err))
	}
	if !ok {
		c.authRequired(errors.New("no refresh token stored"))
		return "", ErrAuthRequired
	}

	token, err := c.refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	if token == "" {
		c.authRequired(errors.New("refresh endpoint returned no access token"))
		return "", ErrAuthRequired
	}
	return token, nil
}

// refresh runs at most one refresh call at a time; callers arriving while one
// is in flight wait for its result. The call itself is detached from the
// caller's cancellation so an impatient caller cannot fail the others. An
// empty result means no token was obtained.
func (c *Client) refresh(ctx context.Context, refreshToken string) (string, error) {
	results := c.refreshGroup.DoChan(refreshFlightKey, func() (any, error) {
		token := c.requestAccessToken(context.WithoutCancel(ctx), refreshToken)
		if token != "" {
			c.SetAccessToken(token)
		}
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-results:
		if result.Shared {
			c.logger.Debug("shared in-flight token refresh")
		}
		token, _ := result.Val.(string)
		return token, nil
	}
}

// requestAccessToken bypasses Do so a 401 from the refresh endpoint never
// recurses into another refresh.
func (c *Client) requestAccessToken(ctx context.Context, refreshToken string) string {
	payload, err := json.Marshal(refreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		c.logger.Warn("failed to encode refresh request", logging.Field("error", err))
		return ""
	}
	c.logger.Debug("requesting access token", logging.Field("url", c.endpoints.RefreshTokenURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.RefreshTokenURL, bytes.NewReader(payload))
	if err != nil {
		c.logger.Warn("failed to build refresh request", logging.Field("error", err))
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	if current := c.AccessToken(); current != "" {
		req.Header.Set("Authorization", c.authValue(current))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("token refresh request failed", logging.Field("error", err))
		return ""
	}
	defer resp.Body.Close()
	c.logger.Debugf("POST %s -> %s", c.endpoints.RefreshTokenURL, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("token refresh rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(data)),
		)
		return ""
	}

	envelope := Envelope{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logger.Warn("invalid token refresh response", logging.Field("error", err))
		return ""
	}
	body, err := Decode[refreshTokenResponse](&Response{Body: envelope})
	if err != nil {
		c.logger.Warn("invalid token refresh response", logging.Field("error", err))
		return ""
	}
	token := strings.TrimSpace(body.AccessToken)
	if token == "" {
		c.logger.Warn("token refresh response carried no access token")
		return ""
	}
	c.logger.Info("access token refreshed", logging.Field("access_token", token))
	return token
}
