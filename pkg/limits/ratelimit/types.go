package ratelimit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every config validation error.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// AnonymousKey buckets requests that carry no id for the config's scope.
const AnonymousKey = "anonymous"

// GlobalKey is the single bucket of a global config.
const GlobalKey = "global"

// Scope is the dimension over which requests are counted.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeAgent      Scope = "agent"
	ScopeSession    Scope = "session"
	ScopeUser       Scope = "user"
	ScopeActionType Scope = "action_type"
)

// IsValid reports whether s is a known scope.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeGlobal, ScopeAgent, ScopeSession, ScopeUser, ScopeActionType:
		return true
	}
	return false
}

// KeyFor derives the bucket key for a request.
func (s Scope) KeyFor(key Key) string {
	var id string
	switch s {
	case ScopeGlobal:
		return GlobalKey
	case ScopeAgent:
		id = key.AgentID
	case ScopeSession:
		id = key.SessionID
	case ScopeUser:
		id = key.UserID
	case ScopeActionType:
		id = key.ActionName
	}
	if id == "" {
		return AnonymousKey
	}
	return id
}

// Key carries the request attributes rate limiting can bucket on.
type Key struct {
	AgentID        string
	SessionID      string
	UserID         string
	ActionCategory string
	ActionName     string
}

// Config is a single rate limit.
type Config struct {
	// ID identifies the config in results and management calls.
	ID string

	// Window is the rolling period requests are counted over.
	Window time.Duration

	// MaxRequests is the steady-state allowance per window.
	MaxRequests int

	// Scope selects the bucket key.
	Scope Scope

	// ActionCategories restricts the config to these categories.
	// Empty applies the config to every action.
	ActionCategories []string

	// BurstLimit is extra allowance above MaxRequests within one window.
	BurstLimit int

	// Enabled defaults to true when decoded from YAML or JSON.
	Enabled bool
}

// Allowance returns the number of requests admitted per window.
func (c Config) Allowance() int64 {
	return int64(c.MaxRequests) + int64(c.BurstLimit)
}

// AppliesTo reports whether the config counts actions of this category.
func (c Config) AppliesTo(category string) bool {
	if len(c.ActionCategories) == 0 {
		return true
	}
	for _, cat := range c.ActionCategories {
		if cat == category {
			return true
		}
	}
	return false
}

// BucketSize returns the sliding window granularity for this config.
func (c Config) BucketSize() time.Duration {
	size := c.Window / 60
	if size < time.Millisecond {
		size = time.Millisecond
	}
	return size
}

// Validate checks the config for errors.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ID) == "" {
		problems = append(problems, "id is required")
	}
	if c.Window <= 0 {
		problems = append(problems, "window must be positive")
	}
	if c.MaxRequests <= 0 {
		problems = append(problems, "max_requests must be positive")
	}
	if c.BurstLimit < 0 {
		problems = append(problems, "burst_limit cannot be negative")
	}
	if !c.Scope.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown scope %q", c.Scope))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %s", ErrInvalidConfig, c.ID, strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.ActionCategories = append([]string(nil), c.ActionCategories...)
	return c
}

// configDoc is the serialized form of Config.
type configDoc struct {
	ID               string   `yaml:"id" json:"id"`
	WindowMs         int64    `yaml:"window_ms,omitempty" json:"window_ms,omitempty"`
	Window           string   `yaml:"window,omitempty" json:"window,omitempty"`
	MaxRequests      int      `yaml:"max_requests" json:"max_requests"`
	Scope            Scope    `yaml:"scope" json:"scope"`
	ActionCategories []string `yaml:"action_categories,omitempty" json:"action_categories,omitempty"`
	BurstLimit       int      `yaml:"burst_limit,omitempty" json:"burst_limit,omitempty"`
	Enabled          *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (d configDoc) config() (Config, error) {
	c := Config{
		ID:               d.ID,
		MaxRequests:      d.MaxRequests,
		Scope:            d.Scope,
		ActionCategories: d.ActionCategories,
		BurstLimit:       d.BurstLimit,
		Enabled:          d.Enabled == nil || *d.Enabled,
	}
	switch {
	case d.WindowMs > 0:
		c.Window = time.Duration(d.WindowMs) * time.Millisecond
	case d.Window != "":
		w, err := time.ParseDuration(d.Window)
		if err != nil {
			return Config{}, fmt.Errorf("%w %q: invalid window %q: %v", ErrInvalidConfig, d.ID, d.Window, err)
		}
		c.Window = w
	}
	if c.Scope == "" {
		c.Scope = ScopeGlobal
	}
	return c, nil
}

// UnmarshalYAML decodes a config. The window is read from window_ms or from
// a duration string in window.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var doc configDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	decoded, err := doc.config()
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// UnmarshalJSON decodes a config using the same rules as UnmarshalYAML.
func (c *Config) UnmarshalJSON(data []byte) error {
	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded, err := doc.config()
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// MarshalJSON encodes the window as window_ms.
func (c Config) MarshalJSON() ([]byte, error) {
	enabled := c.Enabled
	return json.Marshal(configDoc{
		ID:               c.ID,
		WindowMs:         c.Window.Milliseconds(),
		MaxRequests:      c.MaxRequests,
		Scope:            c.Scope,
		ActionCategories: c.ActionCategories,
		BurstLimit:       c.BurstLimit,
		Enabled:          &enabled,
	})
}

// CheckResult contains the result of a rate limit check.
type CheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool `json:"allowed"`

	// LimitID is the config that tripped, or the tightest matching config
	// when the request is allowed.
	LimitID string `json:"limit_id,omitempty"`

	// ScopeKey is the bucket the request was counted in.
	ScopeKey string `json:"scope_key,omitempty"`

	// Reason explains why the request was rejected (if Allowed=false).
	Reason string `json:"reason,omitempty"`

	// Limit is the configured allowance (max requests plus burst).
	Limit int64 `json:"limit,omitempty"`

	// Count is the number of requests already in the window.
	Count int64 `json:"count"`

	// Remaining is how many requests remain in the window.
	Remaining int64 `json:"remaining"`

	// Reset is when the oldest counted request leaves the window.
	Reset time.Time `json:"reset,omitempty"`

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Clone returns a copy of the result.
func (r *CheckResult) Clone() *CheckResult {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// WindowState is the exported state of one counter, used for persistence.
type WindowState struct {
	LimitID    string
	ScopeKey   string
	Window     time.Duration
	BucketSize time.Duration
	Buckets    []Bucket
}

// Bucket is one time slot of a sliding window.
type Bucket struct {
	Timestamp time.Time
	Value     int64
}
