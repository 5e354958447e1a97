package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// APIKeyHeader is checked when the request has no bearer token.
const APIKeyHeader = "X-API-Key"

var (
	// ErrMissingAPIKey is returned when a request carries no key.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey is returned for unknown or disabled keys.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// APIKey is a credential accepted by the API.
type APIKey struct {
	// ID names the key in logs. The key itself is never logged.
	ID       string
	Key      string
	Disabled bool
}

// APIKeys validates presented keys against a fixed set.
type APIKeys struct {
	mu   sync.RWMutex
	keys []APIKey
}

// NewAPIKeys returns a validator for keys. Entries with an empty Key are
// ignored.
func NewAPIKeys(keys []APIKey) *APIKeys {
	v := &APIKeys{}
	for _, k := range keys {
		if k.Key != "" {
			v.keys = append(v.keys, k)
		}
	}
	return v
}

// Len returns the number of configured keys.
func (v *APIKeys) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.keys)
}

// Validate returns the key matching presented. Every configured key is
// compared in constant time so the result does not leak which prefix matched.
func (v *APIKeys) Validate(presented string) (*APIKey, error) {
	if presented == "" {
		return nil, ErrMissingAPIKey
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	var found *APIKey
	for i := range v.keys {
		if subtle.ConstantTimeCompare([]byte(v.keys[i].Key), []byte(presented)) == 1 {
			found = &v.keys[i]
		}
	}
	if found == nil || found.Disabled {
		return nil, ErrInvalidAPIKey
	}
	k := *found
	return &k, nil
}

type apiKeyContextKey struct{}

// APIKeyID returns the ID of the key that authenticated the request.
func APIKeyID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(apiKeyContextKey{}).(string)
	return id, ok
}

// APIKeyAuth rejects requests without a valid key with 401. Keys are read
// from "Authorization: Bearer <key>" and then from X-API-Key. A nil or empty
// validator disables authentication.
func APIKeyAuth(keys *APIKeys, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if keys == nil || keys.Len() == 0 {
			return next
		}
		if logger == nil {
			logger = slog.Default()
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keys.Validate(extractAPIKey(r))
			if err != nil {
				logger.Warn("request rejected",
					"error", err,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="arbiter"`)
				WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey{}, key.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get(APIKeyHeader)
}
