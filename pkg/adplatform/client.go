package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// maxResponseSize caps how much of an upstream body is read (1MB).
const maxResponseSize = 1 << 20

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the platform endpoints and app credentials.
type Config struct {
	ReportURL  string
	RefreshURL string
	AppID      string
	AppSecret  string
	Timeout    time.Duration
}

// Client talks to the ad platform's S2S conversion and OAuth refresh APIs.
type Client struct {
	httpClient HTTPDoer
	config     Config
	debug      bool
}

// NewClient constructs a Client. A nil doer gets an http.Client bounded by
// config.Timeout (5s when unset).
func NewClient(config Config, doer HTTPDoer) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if doer == nil {
		doer = &http.Client{Timeout: config.Timeout}
	}
	return &Client{
		httpClient: doer,
		config:     config,
		debug:      os.Getenv("ENV") == "development",
	}
}

// AppID returns the configured application id.
func (c *Client) AppID() string {
	return c.config.AppID
}

// Report posts one conversion. A non-nil error means the call never produced
// an HTTP response (transport failure or timeout); every answered call,
// including rejections, comes back as a ReportResult.
func (c *Client) Report(ctx context.Context, accessToken string, report *ConversionReport) (*ReportResult, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	endpoint, err := withAccessToken(c.config.ReportURL, accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid report url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	if c.debug {
		log.Debug().
			Str("endpoint", c.config.ReportURL).
			RawJSON("request", payload).
			Msg("[ADPLATFORM] Outgoing conversion report")
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	if c.debug {
		log.Debug().
			Int("status_code", status).
			Str("response", string(body)).
			Msg("[ADPLATFORM] Conversion report response")
	}

	return &ReportResult{HTTPStatus: status, Body: string(body), Envelope: decodeEnvelope(body)}, nil
}

// Refresh exchanges refreshToken for a new access/refresh pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshData, error) {
	payload, err := json.Marshal(RefreshRequest{
		AppID:        c.config.AppID,
		AppIDCompat:  c.config.AppID,
		Secret:       c.config.AppSecret,
		RefreshToken: refreshToken,
		GrantType:    "refresh_token",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RefreshURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{HTTPStatus: status, Code: -1, Message: string(body)}
	}

	env := decodeEnvelope(body)
	if env == nil {
		return nil, &APIError{HTTPStatus: status, Code: -1, Message: "unrecognised refresh response"}
	}
	if env.Code != 0 {
		return nil, &APIError{HTTPStatus: status, Code: env.Code, Message: env.Message}
	}

	var data RefreshData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode refresh data: %w", err)
	}
	if data.AccessToken == "" || data.RefreshToken == "" {
		return nil, &APIError{HTTPStatus: status, Code: env.Code, Message: "refresh response missing tokens"}
	}
	return &data, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// decodeEnvelope returns nil unless body is a JSON object carrying a
// numeric "code"; a missing code must not read as code 0.
func decodeEnvelope(body []byte) *Envelope {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	if _, ok := fields["code"]; !ok {
		return nil
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return &env
}

func withAccessToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
