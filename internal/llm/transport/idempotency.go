package transport

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CurrentCanonicalVersion defines the canonicalization format version.
// Increment when canonicalization logic changes to invalidate stale cache entries.
const CurrentCanonicalVersion = "v2.0"

// Validation errors for canonical payloads.
var (
	ErrTenantIDRequired   = errors.New("tenant_id is required")
	ErrOperationRequired  = errors.New("operation is required")
	ErrProviderRequired   = errors.New("provider is required")
	ErrDeploymentRequired = errors.New("deployment is required")
	ErrVersionRequired    = errors.New("version is required")
	ErrInvalidOperation   = errors.New("invalid operation")
)

// CanonicalPayload represents the normalized, stable form of a logical LLM request.
// It is the sole input to IdemKey hashing and must be deterministic across
// equivalent requests regardless of whitespace or map ordering.
type CanonicalPayload struct {
	TenantID   string             `json:"tenant_id"`
	Operation  OperationType      `json:"operation"`
	Provider   string             `json:"provider"`
	Endpoint   string             `json:"endpoint,omitempty"`
	Deployment string             `json:"deployment"`
	Messages   []CanonicalMessage `json:"messages,omitempty"`
	Params     map[string]any     `json:"params,omitempty"`
	Seed       *int64             `json:"seed,omitempty"`
	Version    string             `json:"version"`
}

// CanonicalMessage represents a normalized message in the conversation.
type CanonicalMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IdemKey provides deterministic SHA-256 hex identification for canonical payloads.
type IdemKey string

// BuildCanonicalPayload transforms a request into normalized canonical form.
func BuildCanonicalPayload(req *Request) (*CanonicalPayload, error) {
	payload := &CanonicalPayload{
		TenantID:   req.TenantID,
		Operation:  req.Operation,
		Provider:   strings.ToLower(strings.TrimSpace(req.Provider)),
		Endpoint:   strings.ToLower(strings.TrimRight(req.Connection.APIBase, "/")),
		Deployment: strings.TrimSpace(req.Deployment),
		Version:    CurrentCanonicalVersion,
	}

	if err := ValidateCanonicalPayload(payload); err != nil {
		return nil, err
	}

	messages := make([]CanonicalMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, CanonicalMessage{
			Role:    string(m.Role),
			Content: normalizeText(m.Content),
		})
	}
	payload.Messages = messages

	params := make(map[string]any)

	// Include only non-default parameters to minimize cache key variations.
	if req.MaxTokens > 0 {
		params["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != 0.0 {
		params["temperature"] = req.Temperature
	}
	if req.TopP != nil {
		params["top_p"] = *req.TopP
	}
	if len(params) > 0 {
		payload.Params = params
	}

	payload.Seed = req.Seed

	return payload, nil
}

// ValidateCanonicalPayload checks that the fields the key depends on are present.
func ValidateCanonicalPayload(payload *CanonicalPayload) error {
	if payload.TenantID == "" {
		return ErrTenantIDRequired
	}
	if payload.Operation == "" {
		return ErrOperationRequired
	}
	if payload.Provider == "" {
		return ErrProviderRequired
	}
	if payload.Deployment == "" {
		return ErrDeploymentRequired
	}
	if payload.Version == "" {
		return ErrVersionRequired
	}

	switch payload.Operation {
	case OpChat, OpCompletion:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidOperation, payload.Operation)
	}

	return nil
}

// BuildIdemKey generates a deterministic SHA-256 idempotency key.
func BuildIdemKey(payload *CanonicalPayload) (IdemKey, error) {
	jsonBytes, err := stableJSON(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal canonical payload: %w", err)
	}

	hash := sha256.Sum256(jsonBytes)
	return IdemKey(hex.EncodeToString(hash[:])), nil
}

// GenerateIdemKey builds canonical payload and generates the idempotency key.
func GenerateIdemKey(req *Request) (IdemKey, error) {
	payload, err := BuildCanonicalPayload(req)
	if err != nil {
		return "", fmt.Errorf("failed to build canonical payload: %w", err)
	}

	return BuildIdemKey(payload)
}

// String returns the string representation of the idempotency key.
func (k IdemKey) String() string { return string(k) }

// normalizeText trims, normalizes line endings, and collapses whitespace.
func normalizeText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Join(strings.Fields(text), " ")
}

// stableJSON produces deterministic JSON output with sorted keys.
func stableJSON(v any) ([]byte, error) {
	tempJSON, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var normalized any
	if err := json.Unmarshal(tempJSON, &normalized); err != nil {
		return nil, err
	}

	return json.Marshal(sortKeys(normalized))
}

// sortKeys recursively sorts map keys for stable JSON output.
func sortKeys(v any) any {
	switch v := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sorted := make(map[string]any, len(v))
		for _, k := range keys {
			sorted[k] = sortKeys(v[k])
		}
		return sorted

	case []any:
		sorted := make([]any, len(v))
		for i, elem := range v {
			sorted[i] = sortKeys(elem)
		}
		return sorted

	default:
		return v
	}
}

// IdempotentCacheEntry is the persisted result keyed by IdemKey (success-only).
type IdempotentCacheEntry struct {
	Provider        string            `json:"provider"`
	Deployment      string            `json:"deployment"`
	Content         string            `json:"content"`
	FinishReason    string            `json:"finish_reason"`
	RequestIDs      []string          `json:"request_ids,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	Usage           NormalizedUsage   `json:"usage"`
	StoredAtUnixMs  int64             `json:"stored_at_ms"`
}

// CacheKey constructs the complete Redis cache key in the form
// llm:{tenant}:{idemkey}. The operation is already part of the key hash.
func CacheKey(tenantID string, idemKey IdemKey) string {
	return fmt.Sprintf("llm:%s:%s", tenantID, idemKey)
}
