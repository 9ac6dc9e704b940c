package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

// client is a minimal JSON-wire HTTP client for a remote automation endpoint.
type client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func newClient(req automation.SessionRequest, httpClient *http.Client) *client {
	scheme := "http"
	if req.HTTPS {
		scheme = "https"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{
		baseURL:  fmt.Sprintf("%s://%s:%d/wd/hub", scheme, req.Host, req.Port),
		username: req.Username,
		password: req.AccessKey,
		http:     httpClient,
	}
}

// wireResponse is the JSON-wire envelope returned by the endpoint.
type wireResponse struct {
	SessionID string          `json:"sessionId,omitempty"`
	Status    int             `json:"status,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// do issues one request against the endpoint. path is relative to the hub
// root and must begin with "/".
func (c *client) do(ctx context.Context, method, path string, body any) (*wireResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, automation.WrapError("transport", "endpoint unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, automation.WrapError("transport", "read response", err)
	}

	wire := &wireResponse{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, wire); err != nil {
			return nil, automation.WrapError("protocol", "malformed endpoint response", err)
		}
	}
	if resp.StatusCode >= 400 || wire.Status != 0 {
		return nil, automation.NewError("endpoint", wireErrorMessage(wire, resp.StatusCode))
	}
	return wire, nil
}

// wireErrorMessage digs the human-readable detail out of an error envelope.
func wireErrorMessage(wire *wireResponse, httpStatus int) string {
	var detail struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if len(wire.Value) > 0 && json.Unmarshal(wire.Value, &detail) == nil {
		if detail.Message != "" {
			return detail.Message
		}
		if detail.Error != "" {
			return detail.Error
		}
	}
	if len(wire.Value) > 0 {
		if msg := strings.TrimSpace(string(wire.Value)); msg != "" && msg != "null" {
			return msg
		}
	}
	return fmt.Sprintf("endpoint returned HTTP %d (status %d)", httpStatus, wire.Status)
}
