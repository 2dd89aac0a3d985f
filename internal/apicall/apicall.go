// Package apicall implements the REST client behind api_call steps: browser
// default headers, auth preparation, canonical query encoding, bounded retry
// with exponential backoff, TTL response caching, and declarative response
// transforms. Every call returns the uniform step result shape so that
// output_mapping can address data, status_code, and headers alike.
package apicall

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/magpieflow/magpie/internal/workflow"
)

// Auth types accepted in a step's auth config.
const (
	AuthNone   = "none"
	AuthAPIKey = "api_key"
	AuthBasic  = "basic"
	AuthJWT    = "jwt"
	AuthOAuth  = "oauth"
	AuthCustom = "custom"
)

// Config describes one REST call. It mirrors the api_call step config
// schema; values are expected to be fully formatted (no remaining `{name}`
// placeholders) before they reach the client.
type Config struct {
	Method         string            `json:"method,omitempty"`
	URL            string            `json:"url"`
	QueryParams    map[string]any    `json:"query_params,omitempty"`
	Headers        map[string]any    `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
	Auth           *AuthConfig       `json:"auth,omitempty"`
	Retry          *RetryConfig      `json:"retry,omitempty"`
	Cache          *CacheConfig      `json:"cache,omitempty"`
	Response       *TransformConfig  `json:"response,omitempty"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
}

// AuthConfig selects a credential scheme. Key, In, and Name apply to
// api_key; Token to jwt and oauth; Username and Password to basic; Headers
// to custom.
type AuthConfig struct {
	Type     string            `json:"type"`
	Key      string            `json:"key,omitempty"`
	In       string            `json:"in,omitempty"`
	Name     string            `json:"name,omitempty"`
	Token    string            `json:"token,omitempty"`
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// RetryConfig overrides the client's retry defaults for one call. Fields
// are pointers so an explicit zero (retry once, wait nothing) is
// distinguishable from an omitted field.
type RetryConfig struct {
	MaxRetries    *int     `json:"max_retries,omitempty"`
	DelaySeconds  *float64 `json:"delay_seconds,omitempty"`
	BackoffFactor *float64 `json:"backoff_factor,omitempty"`
	RetryOnStatus []int    `json:"retry_on_status,omitempty"`
}

// CacheConfig enables TTL caching for one call. Only GET calls are cached;
// a TTL of zero falls back to the client default.
type CacheConfig struct {
	Enabled    bool    `json:"enabled"`
	TTLSeconds float64 `json:"ttl_seconds,omitempty"`
}

// TransformConfig reshapes the decoded response body. Extract walks a
// dotted key path first; Map then builds a renamed object where each value
// names a source path relative to the extracted data.
type TransformConfig struct {
	Extract string            `json:"extract,omitempty"`
	Map     map[string]string `json:"map,omitempty"`
}

// ParseConfig decodes a raw step config map into a typed Config. Short key
// spellings from older workflow definitions (timeout, retry.delay,
// retry.backoff, retry.retry_on, cache.ttl) are accepted alongside the
// canonical names; the canonical name wins when both appear.
func ParseConfig(raw map[string]any) (*Config, error) {
	buf, err := json.Marshal(normalizeAliases(raw))
	if err != nil {
		return nil, workflow.NewError(workflow.KindValidation, "api config not serializable: %v", err)
	}
	var cfg Config
	if err := json.Unmarshal(buf, &cfg); err != nil {
		return nil, workflow.NewError(workflow.KindValidation, "invalid api config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the config that make a call unsendable.
// Auth problems are not fatal here: unknown auth types degrade to an
// unauthenticated call with a warning, matching how the executor treats
// misconfigured credentials.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return workflow.NewError(workflow.KindValidation, "api_call requires a url")
	}
	if strings.Contains(c.URL, "?") {
		return workflow.NewError(workflow.KindValidation, "url must not embed a query string, use query_params")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return workflow.NewError(workflow.KindValidation, "invalid url %q: %v", c.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return workflow.NewError(workflow.KindValidation, "url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return workflow.NewError(workflow.KindValidation, "url %q has no host", c.URL)
	}
	switch c.method() {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return workflow.NewError(workflow.KindValidation, "unsupported method %q", c.Method)
	}
	return nil
}

// method returns the upper-cased HTTP method, defaulting to GET.
func (c *Config) method() string {
	if c.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(c.Method)
}

// timeout returns the per-call timeout, falling back to def.
func (c *Config) timeout(def time.Duration) time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds * float64(time.Second))
	}
	return def
}

// cacheTTL returns the cache TTL for this call, falling back to def.
func (c *Config) cacheTTL(def time.Duration) time.Duration {
	if c.Cache != nil && c.Cache.TTLSeconds > 0 {
		return time.Duration(c.Cache.TTLSeconds * float64(time.Second))
	}
	return def
}

// normalizeAliases returns a copy of raw with short key spellings renamed
// to their canonical forms. Nested retry and cache maps are copied before
// mutation so the caller's config map is never touched.
func normalizeAliases(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	renameKey(out, "timeout", "timeout_seconds")
	if sub, ok := out["retry"].(map[string]any); ok {
		sub = copyMap(sub)
		renameKey(sub, "delay", "delay_seconds")
		renameKey(sub, "backoff", "backoff_factor")
		renameKey(sub, "retry_on", "retry_on_status")
		out["retry"] = sub
	}
	if sub, ok := out["cache"].(map[string]any); ok {
		sub = copyMap(sub)
		renameKey(sub, "ttl", "ttl_seconds")
		out["cache"] = sub
	}
	return out
}

func renameKey(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	if _, exists := m[to]; !exists {
		m[to] = v
	}
	delete(m, from)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
