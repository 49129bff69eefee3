// ABOUTME: Agent discovery: card fetch, descriptor normalization, and a
// ABOUTME: per-gateway LRU cache with a refresh TTL.

package directory

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/parley-sh/parley/internal/protocol"
)

// Descriptor is the normalized, immutable view of one available agent.
type Descriptor struct {
	ID                     string
	Name                   string
	Description            string
	URL                    string
	Streaming              bool
	PushNotifications      bool
	StateTransitionHistory bool
	Tags                   []string
}

// Discoverer is what the directory needs from the protocol layer.
type Discoverer interface {
	Discover(ctx context.Context) ([]protocol.AgentCard, error)
}

const (
	defaultTTL = 5 * time.Minute
	cacheSize  = 8
)

type cacheEntry struct {
	agents    []Descriptor
	fetchedAt time.Time
}

// Directory fetches, normalizes and caches the agent list for one gateway.
type Directory struct {
	client  Discoverer
	baseURL string
	ttl     time.Duration
	cache   *lru.Cache[string, cacheEntry]
	logger  *slog.Logger
}

// New creates a Directory over the given protocol client. baseURL keys the
// cache so profiles pointed at different gateways do not share entries.
// A zero ttl gets a default; a nil logger falls back to slog.Default.
func New(client Discoverer, baseURL string, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, cacheEntry](cacheSize)
	return &Directory{
		client:  client,
		baseURL: baseURL,
		ttl:     ttl,
		cache:   cache,
		logger:  logger.With("component", "directory"),
	}
}

// Agents returns the agent list, served from cache while fresh.
func (d *Directory) Agents(ctx context.Context) ([]Descriptor, error) {
	if entry, ok := d.cache.Get(d.baseURL); ok && time.Since(entry.fetchedAt) < d.ttl {
		return entry.agents, nil
	}
	return d.Refresh(ctx)
}

// Refresh re-fetches the agent list and replaces the cached copy wholesale.
func (d *Directory) Refresh(ctx context.Context) ([]Descriptor, error) {
	cards, err := d.client.Discover(ctx)
	if err != nil {
		return nil, err
	}

	agents := make([]Descriptor, 0, len(cards))
	for _, card := range cards {
		agents = append(agents, Normalize(card))
	}

	d.cache.Add(d.baseURL, cacheEntry{agents: agents, fetchedAt: time.Now()})
	d.logger.Debug("agent list refreshed", "base_url", d.baseURL, "count", len(agents))
	return agents, nil
}

// Find returns the descriptor with the given identity from the cached list.
func (d *Directory) Find(ctx context.Context, id string) (Descriptor, bool) {
	agents, err := d.Agents(ctx)
	if err != nil {
		return Descriptor{}, false
	}
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return Descriptor{}, false
}

var agentURLPattern = regexp.MustCompile(`/agents/([^/]+)/`)

// Normalize flattens an agent card into a Descriptor. Identity comes from
// the /agents/<id>/ segment of the card URL, falling back to a slug of the
// agent's name.
func Normalize(card protocol.AgentCard) Descriptor {
	id := ""
	if m := agentURLPattern.FindStringSubmatch(card.URL); m != nil {
		id = m[1]
	}
	if id == "" {
		id = Slug(card.Name)
	}

	var tags []string
	for _, skill := range card.Skills {
		tags = append(tags, skill.Tags...)
	}

	return Descriptor{
		ID:                     id,
		Name:                   card.Name,
		Description:            card.Description,
		URL:                    card.URL,
		Streaming:              card.Capabilities.Streaming,
		PushNotifications:      card.Capabilities.PushNotifications,
		StateTransitionHistory: card.Capabilities.StateTransitionHistory,
		Tags:                   tags,
	}
}

// Slug lowercases a name and collapses runs of non-alphanumeric characters
// to single hyphens.
func Slug(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
