package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request describes one call relative to the API base URL. It is not
// modified by the client, so the same value can be replayed.
type Request struct {
	Method  string
	URL     string
	Params  map[string]any
	Body    any
	Headers map[string]string
}

// Response is a decoded 2xx reply. Body holds the envelope; use Decode to
// reach the payload under "data".
type Response struct {
	Status int
	Header http.Header
	Body   Envelope
	Raw    []byte
}

// Envelope is the uniform {"data": ..., meta...} wrapper around every body.
type Envelope struct {
	Data json.RawMessage
	Meta map[string]json.RawMessage
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	e.Data = fields["data"]
	delete(fields, "data")
	e.Meta = nil
	if len(fields) > 0 {
		e.Meta = fields
	}
	return nil
}

// Decode unwraps the payload of a response envelope. An absent or null
// payload decodes to the zero value.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil {
		return out, nil
	}
	data := bytes.TrimSpace(resp.Body.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response data: %w", err)
	}
	return out, nil
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshTokenResponse struct {
	AccessToken string `json:"accessToken"`
}
