package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VisitorLifetime is how long a visitor id survives without a revisit.
const VisitorLifetime = 2 * 365 * 24 * time.Hour

const (
	visitorKey  = "uid"
	campaignKey = "utm"
)

// CampaignKeys lists the attribution parameters captured from landing URLs,
// in wire order.
var CampaignKeys = []string{
	"utm_source",
	"utm_medium",
	"utm_term",
	"utm_content",
	"utm_campaign",
	"utm_source_platform",
	"utm_creative_format",
	"utm_marketing_tactic",
}

// Manager owns the visitor id and campaign attribution records for one
// deployment. Keys are namespaced as __<function>_<name> so several
// trackers can share a jar.
type Manager struct {
	store   Store
	prefix  string
	version string
}

// NewManager creates a [Manager] over store. funcName is the deployment's
// invocation function name; version prefixes newly minted visitor ids.
func NewManager(store Store, funcName, version string) *Manager {
	return &Manager{
		store:   store,
		prefix:  "__" + funcName + "_",
		version: version,
	}
}

// Key returns the namespaced storage key for name.
func (m *Manager) Key(name string) string {
	return m.prefix + name
}

// EnsureVisitor returns the current visitor id, minting one if absent, and
// refreshes its expiry. An existing id is never replaced.
func (m *Manager) EnsureVisitor(ctx context.Context) (string, error) {
	id, err := m.store.Get(ctx, m.Key(visitorKey))
	switch {
	case errors.Is(err, ErrNotFound) || (err == nil && id == ""):
		id = m.version + "-" + uuid.NewString()
	case err != nil:
		return "", fmt.Errorf("read visitor id: %w", err)
	}

	if err := m.store.Set(ctx, m.Key(visitorKey), id, VisitorLifetime); err != nil {
		return "", fmt.Errorf("write visitor id: %w", err)
	}
	return id, nil
}

// VisitorID returns the stored visitor id, or "" if none is stored.
func (m *Manager) VisitorID(ctx context.Context) (string, error) {
	id, err := m.store.Get(ctx, m.Key(visitorKey))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return id, err
}

// CaptureCampaign extracts attribution parameters from pageURL and stores them
// as one session-scoped record. Parameter names match case-insensitively.
// Nothing is written when no attribution parameter carries a value, so an
// earlier landing's attribution survives internal navigation.
//
// It reports whether a record was written.
func (m *Manager) CaptureCampaign(ctx context.Context, pageURL string) (bool, error) {
	values := extractCampaign(pageURL)
	if len(values) == 0 {
		return false, nil
	}

	data, err := json.Marshal(values)
	if err != nil {
		return false, fmt.Errorf("encode campaign: %w", err)
	}
	if err := m.store.Set(ctx, m.Key(campaignKey), string(data), 0); err != nil {
		return false, fmt.Errorf("write campaign: %w", err)
	}
	return true, nil
}

// Campaign returns the stored attribution value for key. An absent record or
// absent key resolves to "", never an error.
func (m *Manager) Campaign(ctx context.Context, key string) (string, error) {
	raw, err := m.store.Get(ctx, m.Key(campaignKey))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read campaign: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return "", fmt.Errorf("decode campaign: %w", err)
	}
	return values[key], nil
}

// EndSession clears session-scoped records such as campaign attribution.
func (m *Manager) EndSession(ctx context.Context) error {
	return m.store.EndSession(ctx)
}

// extractCampaign returns the non-empty attribution parameters of rawURL.
// The first occurrence of a parameter wins, matching left-to-right lookup.
func extractCampaign(rawURL string) map[string]string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return nil
	}

	lowered := make(map[string]string)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		name, value, _ := strings.Cut(pair, "=")
		name = strings.ToLower(name)
		if _, seen := lowered[name]; seen {
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			// keep the raw value, only swapping '+' for spaces
			decoded = strings.ReplaceAll(value, "+", " ")
		}
		lowered[name] = decoded
	}

	out := make(map[string]string)
	for _, key := range CampaignKeys {
		if v := lowered[key]; v != "" {
			out[key] = v
		}
	}
	return out
}
