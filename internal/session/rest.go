package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/uproot/pkg/models"
)

// apiPrefixes are the versioned REST prefixes a pfSense box may serve,
// in descending preference order.
var apiPrefixes = []string{"/api/v2", "/api/v1"}

// prefixProbePath is a lightweight read used to detect which prefix the
// target answers.
const prefixProbePath = "/firewall/rules"

// RESTSession talks to a pfSense firewall through its REST API.
type RESTSession struct {
	device     models.Device
	httpClient *http.Client
	baseURL    string
	prefix     string
	logger     *zap.Logger
	closed     bool
}

// RESTOptions tune session construction. The zero value is usable.
type RESTOptions struct {
	// BaseURL overrides the default "https://<host>". Tests point this
	// at an httptest server.
	BaseURL string
	Timeout time.Duration
}

// OpenREST builds a REST session and detects the API prefix by probing
// each candidate in preference order. All candidates failing is a
// fatal ConnectionError.
func OpenREST(ctx context.Context, device models.Device, opts RESTOptions, logger *zap.Logger) (*RESTSession, error) {
	if device.Credentials.APIKey == "" && !device.Credentials.HasBasic() {
		return nil, &ConnectionError{
			Label:  device.Label,
			Reason: "no API key and no username/password configured",
		}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 12 * time.Second
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://" + device.Host
	}

	s := &RESTSession{
		device: device,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				// Lab firewalls run self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // G402: lab-only targets
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}

	var lastErr error
	for _, prefix := range apiPrefixes {
		if _, err := s.do(ctx, http.MethodGet, prefix+prefixProbePath, nil); err != nil {
			lastErr = err
			continue
		}
		s.prefix = prefix
		logger.Debug("detected REST API prefix",
			zap.String("device", device.Label),
			zap.String("prefix", prefix),
		)
		return s, nil
	}

	return nil, &ConnectionError{
		Label:  device.Label,
		Reason: fmt.Sprintf("no REST API detected (tried %s)", strings.Join(apiPrefixes, ", ")),
		Err:    lastErr,
	}
}

// Device returns the device this session is bound to.
func (s *RESTSession) Device() models.Device { return s.device }

// Prefix returns the detected API prefix, e.g. "/api/v2".
func (s *RESTSession) Prefix() string { return s.prefix }

// Query performs a GET of the given path (relative to the detected
// prefix) and normalizes the response. The API's "data" array, when
// present, becomes Result.Records.
func (s *RESTSession) Query(ctx context.Context, target string) (*Result, error) {
	payload, err := s.do(ctx, http.MethodGet, s.prefix+target, nil)
	if err != nil {
		return nil, &QueryError{Label: s.device.Label, Target: target, Err: err}
	}
	return normalizePayload(payload), nil
}

// Apply executes the change set's requests in order. The first
// rejection aborts and is reported as an ApplyError.
func (s *RESTSession) Apply(ctx context.Context, change ChangeSet) error {
	for _, req := range change.Requests {
		if _, err := s.do(ctx, req.Method, s.prefix+req.Path, req.Body); err != nil {
			return &ApplyError{
				Label: s.device.Label,
				Err:   fmt.Errorf("%s %s: %w", req.Method, req.Path, err),
			}
		}
	}
	return nil
}

// Close releases the session. Safe to call repeatedly.
func (s *RESTSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.httpClient.CloseIdleConnections()
	return nil
}

// Get performs a GET and returns the decoded payload. Used by the
// firewall fault catalog for reads that need the full document.
func (s *RESTSession) Get(ctx context.Context, path string) (map[string]any, error) {
	return s.do(ctx, http.MethodGet, s.prefix+path, nil)
}

// do performs one HTTP round trip with JSON in and out.
func (s *RESTSession) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if key := s.device.Credentials.APIKey; key != "" {
		req.Header.Set("X-API-Key", key)
	} else {
		req.SetBasicAuth(s.device.Credentials.Username, s.device.Credentials.Password)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	payload := map[string]any{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &payload); err != nil {
			// Non-JSON 2xx body; keep the text for the caller.
			payload = map[string]any{"text": string(respBody)}
		}
	}
	return payload, nil
}

// normalizePayload lifts the API's data array into Result.Records.
func normalizePayload(payload map[string]any) *Result {
	res := &Result{}
	data, ok := payload["data"]
	if !ok {
		return res
	}
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			if rec, ok := item.(map[string]any); ok {
				res.Records = append(res.Records, rec)
			}
		}
	case map[string]any:
		res.Records = append(res.Records, v)
	}
	return res
}
