package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 4 << 20

// HTTPResource forwards arguments to a JSON HTTP endpoint.
//
// POST/PUT send the arguments as a JSON body; GET encodes them as query
// parameters. A non-2xx status is a transport failure. A 2xx body is
// decoded as JSON when possible; SuccessPath and ErrorPath (gjson paths)
// select an explicit success flag and error message from it.
type HTTPResource struct {
	URL         string
	Method      string
	Headers     map[string]string
	SuccessPath string
	ErrorPath   string
	Client      *http.Client
}

// NewHTTPResource creates an HTTP resource with a client bounded by timeout
func NewHTTPResource(endpoint, method string, timeout time.Duration) *HTTPResource {
	if method == "" {
		method = http.MethodPost
	}
	client := &http.Client{}
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &HTTPResource{
		URL:    endpoint,
		Method: strings.ToUpper(method),
		Client: client,
	}
}

// Invoke performs one HTTP request
func (h *HTTPResource) Invoke(ctx context.Context, args map[string]interface{}) (toolcall.Outcome, error) {
	req, err := h.newRequest(ctx, args)
	if err != nil {
		return toolcall.Outcome{}, err
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return toolcall.Outcome{}, fmt.Errorf("request to %s failed: %w", h.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return toolcall.Outcome{}, fmt.Errorf("failed to read response from %s: %w", h.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return toolcall.Outcome{}, fmt.Errorf("%s returned status %d: %s", h.URL, resp.StatusCode, truncate(string(body), 200))
	}

	if h.SuccessPath != "" && gjson.ValidBytes(body) {
		if flag := gjson.GetBytes(body, h.SuccessPath); flag.Exists() && !flag.Bool() {
			message := "resource reported failure"
			if h.ErrorPath != "" {
				if msg := gjson.GetBytes(body, h.ErrorPath); msg.Exists() && msg.String() != "" {
					message = msg.String()
				}
			}
			return toolcall.Failed(message), nil
		}
	}

	return toolcall.Succeeded(decodeBody(body)), nil
}

func (h *HTTPResource) newRequest(ctx context.Context, args map[string]interface{}) (*http.Request, error) {
	method := h.Method
	if method == "" {
		method = http.MethodPost
	}

	var (
		req *http.Request
		err error
	)

	if method == http.MethodGet || method == http.MethodDelete {
		target, perr := url.Parse(h.URL)
		if perr != nil {
			return nil, fmt.Errorf("invalid resource url %q: %w", h.URL, perr)
		}
		query := target.Query()
		for key, value := range args {
			query.Set(key, fmt.Sprintf("%v", value))
		}
		target.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, method, target.String(), nil)
	} else {
		payload, merr := json.Marshal(args)
		if merr != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, h.URL, bytes.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func decodeBody(body []byte) interface{} {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body)
	}
	return decoded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
