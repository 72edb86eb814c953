package safety

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/google/uuid"

	"github.com/ahrav/go-flowevals/internal/domain"
)

// Service endpoints and defaults.
const (
	DefaultManagementEndpoint = "https://management.azure.com"
	ManagementScope           = "https://management.azure.com/.default"
	WorkspaceAPIVersion       = "2023-08-01-preview"
	AnnotationTask            = "content harm"

	DefaultPollInterval    = time.Second
	DefaultMaxPollInterval = 8 * time.Second
	DefaultPollTimeout     = 5 * time.Minute
	DefaultHTTPTimeout     = 30 * time.Second
)

// Client errors.
var (
	ErrMissingCredential  = errors.New("token credential is required")
	ErrServiceUnavailable = errors.New("responsible AI service unavailable")
	ErrPollTimeout        = errors.New("timed out waiting for annotation")
	ErrInvalidAnnotation  = errors.New("invalid annotation response")
)

// StatusError reports an unexpected HTTP status from the service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Annotation is the service verdict for one metric.
type Annotation struct {
	Metric    Metric   `json:"metric"`
	Severity  Severity `json:"severity"`
	Score     int      `json:"score"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// Client submits annotation requests for one Azure AI project.
type Client struct {
	scope        domain.ProjectScope
	credential   azcore.TokenCredential
	httpClient   *http.Client
	management   string
	pollInterval time.Duration
	maxInterval  time.Duration
	pollTimeout  time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	serviceURL string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithManagementEndpoint overrides the ARM endpoint used for discovery.
func WithManagementEndpoint(endpoint string) Option {
	return func(cl *Client) { cl.management = strings.TrimRight(endpoint, "/") }
}

// WithPolling sets the initial poll interval, its cap and the overall timeout.
func WithPolling(interval, maxInterval, timeout time.Duration) Option {
	return func(cl *Client) {
		cl.pollInterval = interval
		cl.maxInterval = maxInterval
		cl.pollTimeout = timeout
	}
}

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l.With("component", "safety") }
}

// NewClient validates scope and returns a Client.
func NewClient(scope domain.ProjectScope, cred azcore.TokenCredential, opts ...Option) (*Client, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrMissingCredential
	}
	c := &Client{
		scope:        scope,
		credential:   cred,
		httpClient:   &http.Client{Timeout: DefaultHTTPTimeout},
		management:   DefaultManagementEndpoint,
		pollInterval: DefaultPollInterval,
		maxInterval:  DefaultMaxPollInterval,
		pollTimeout:  DefaultPollTimeout,
		logger:       slog.Default().With("component", "safety"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Evaluate annotates a question/answer pair for metric.
func (c *Client) Evaluate(ctx context.Context, metric Metric, question, answer string) (Annotation, error) {
	base, err := c.discover(ctx)
	if err != nil {
		return Annotation{}, err
	}
	if err := c.checkService(ctx, base); err != nil {
		return Annotation{}, err
	}
	opID, err := c.submit(ctx, base, metric, question, answer)
	if err != nil {
		return Annotation{}, err
	}
	c.logger.DebugContext(ctx, "annotation submitted", "metric", metric, "operation_id", opID)

	body, err := c.poll(ctx, base, opID)
	if err != nil {
		return Annotation{}, err
	}
	return parseAnnotation(body, metric)
}

// discover resolves and caches the service URL from the workspace's discovery URL.
func (c *Client) discover(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.serviceURL
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	u := fmt.Sprintf("%s%s?api-version=%s", c.management, c.scope.WorkspacePath(), WorkspaceAPIVersion)
	body, status, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("workspace discovery: %w", err)
	}
	if status != http.StatusOK {
		return "", &StatusError{Op: "workspace discovery", StatusCode: status, Body: string(body)}
	}

	var ws struct {
		Properties struct {
			DiscoveryURL string `json:"discoveryUrl"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &ws); err != nil {
		return "", fmt.Errorf("decode workspace: %w", err)
	}
	parsed, err := url.Parse(ws.Properties.DiscoveryURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: invalid discovery url %q", ErrServiceUnavailable, ws.Properties.DiscoveryURL)
	}

	base := fmt.Sprintf("%s://%s/raisvc/v1.0%s", parsed.Scheme, parsed.Host, c.scope.WorkspacePath())
	c.mu.Lock()
	c.serviceURL = base
	c.mu.Unlock()
	return base, nil
}

func (c *Client) checkService(ctx context.Context, base string) error {
	body, status, err := c.do(ctx, http.MethodGet, base+"/checkannotation", nil)
	if err != nil {
		return fmt.Errorf("check annotation: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %w", ErrServiceUnavailable,
			&StatusError{Op: "check annotation", StatusCode: status, Body: string(body)})
	}
	var capabilities []string
	if err := json.Unmarshal(body, &capabilities); err != nil {
		return fmt.Errorf("decode capabilities: %w", err)
	}
	if !slices.Contains(capabilities, AnnotationTask) {
		return fmt.Errorf("%w: %q not supported in this region", ErrServiceUnavailable, AnnotationTask)
	}
	return nil
}

func (c *Client) submit(ctx context.Context, base string, metric Metric, question, answer string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"UserTextList":   []string{fmt.Sprintf("<Human>%s</><System>%s</>", question, answer)},
		"AnnotationTask": AnnotationTask,
		"MetricList":     []string{metric.serviceName()},
	})
	if err != nil {
		return "", fmt.Errorf("encode annotation request: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, base+"/submitannotation", payload)
	if err != nil {
		return "", fmt.Errorf("submit annotation: %w", err)
	}
	if status != http.StatusAccepted {
		return "", &StatusError{Op: "submit annotation", StatusCode: status, Body: string(body)}
	}

	var accepted struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil || accepted.Location == "" {
		return "", fmt.Errorf("%w: missing operation location", ErrInvalidAnnotation)
	}
	return path.Base(strings.TrimRight(accepted.Location, "/")), nil
}

// poll waits for the operation to complete. 202 means still running.
func (c *Client) poll(ctx context.Context, base, opID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	interval := c.pollInterval
	for attempt := 1; ; attempt++ {
		body, status, err := c.do(ctx, http.MethodGet, base+"/operations/"+opID, nil)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: operation %s", ErrPollTimeout, opID)
		case err != nil:
			return nil, fmt.Errorf("poll annotation: %w", err)
		case status == http.StatusOK:
			return body, nil
		case status != http.StatusAccepted:
			return nil, &StatusError{Op: "poll annotation", StatusCode: status, Body: string(body)}
		}

		c.logger.DebugContext(ctx, "annotation pending", "operation_id", opID, "attempt", attempt)
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: operation %s", ErrPollTimeout, opID)
			}
			return nil, ctx.Err()
		case <-t.C:
		}
		interval = min(interval*2, c.maxInterval)
	}
}

func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, int, error) {
	tok, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{ManagementScope}})
	if err != nil {
		return nil, 0, fmt.Errorf("acquire token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-ms-client-request-id", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// parseAnnotation reads response[0][metric], which is either a JSON object
// string with label and reasoning or a bare number.
func parseAnnotation(body []byte, metric Metric) (Annotation, error) {
	var results []map[string]json.RawMessage
	if err := json.Unmarshal(body, &results); err != nil {
		return Annotation{}, fmt.Errorf("%w: %w", ErrInvalidAnnotation, err)
	}
	if len(results) == 0 {
		return Annotation{}, fmt.Errorf("%w: empty result", ErrInvalidAnnotation)
	}
	raw, ok := results[0][metric.serviceName()]
	if !ok {
		return Annotation{}, fmt.Errorf("%w: no %s result", ErrInvalidAnnotation, metric)
	}

	// The value is usually a string holding JSON; unwrap it first.
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = json.RawMessage(inner)
	}

	ann := Annotation{Metric: metric}
	var harm struct {
		Label     json.RawMessage `json:"label"`
		Reasoning string          `json:"reasoning"`
	}
	labelRaw := raw
	if err := json.Unmarshal(raw, &harm); err == nil && harm.Label != nil {
		labelRaw = harm.Label
		ann.Reasoning = harm.Reasoning
	}

	score, err := parseScore(labelRaw)
	if err != nil {
		return Annotation{}, err
	}
	sev, err := SeverityFromScore(score)
	if err != nil {
		return Annotation{}, err
	}
	ann.Score = score
	ann.Severity = sev
	return ann, nil
}

func parseScore(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: score %q is not a number", ErrInvalidAnnotation, s)
	}
	return int(f), nil
}
