// ABOUTME: Tests for agent discovery: card normalization, identity slugs,
// ABOUTME: and cache freshness behavior.

package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-sh/parley/internal/protocol"
)

type fakeDiscoverer struct {
	cards []protocol.AgentCard
	err   error
	calls int
}

func (f *fakeDiscoverer) Discover(ctx context.Context) ([]protocol.AgentCard, error) {
	f.calls++
	return f.cards, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeIDFromURL(t *testing.T) {
	d := Normalize(protocol.AgentCard{
		Name: "Echo Agent",
		URL:  "http://gw:8080/agents/echo/",
		Capabilities: protocol.Capabilities{
			Streaming: true,
		},
		Skills: []protocol.Skill{
			{ID: "s1", Name: "Echoing", Tags: []string{"text", "fun"}},
			{ID: "s2", Name: "Shouting", Tags: []string{"loud"}},
		},
	})

	assert.Equal(t, "echo", d.ID)
	assert.Equal(t, "Echo Agent", d.Name)
	assert.True(t, d.Streaming)
	assert.Equal(t, []string{"text", "fun", "loud"}, d.Tags)
}

func TestNormalizeSlugFallback(t *testing.T) {
	d := Normalize(protocol.AgentCard{
		Name: "Fancy Summarizer 2.0!",
		URL:  "http://gw:8080/other/path",
	})
	assert.Equal(t, "fancy-summarizer-2-0", d.ID)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Echo Agent", "echo-agent"},
		{"  spaced   out  ", "spaced-out"},
		{"UPPER", "upper"},
		{"trail!!!", "trail"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), "slug of %q", tt.in)
	}
}

func TestAgentsCaches(t *testing.T) {
	fake := &fakeDiscoverer{cards: []protocol.AgentCard{
		{Name: "Echo", URL: "http://gw/agents/echo/"},
	}}
	dir := New(fake, "http://gw", time.Minute, testLogger())

	first, err := dir.Agents(context.Background())
	require.NoError(t, err)
	second, err := dir.Agents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.calls)
}

func TestAgentsExpiredTTLRefetches(t *testing.T) {
	fake := &fakeDiscoverer{cards: []protocol.AgentCard{
		{Name: "Echo", URL: "http://gw/agents/echo/"},
	}}
	dir := New(fake, "http://gw", time.Nanosecond, testLogger())

	_, err := dir.Agents(context.Background())
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = dir.Agents(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, fake.calls)
}

func TestRefreshBypassesCache(t *testing.T) {
	fake := &fakeDiscoverer{cards: []protocol.AgentCard{
		{Name: "Echo", URL: "http://gw/agents/echo/"},
	}}
	dir := New(fake, "http://gw", time.Minute, testLogger())

	_, err := dir.Agents(context.Background())
	require.NoError(t, err)

	fake.cards = append(fake.cards, protocol.AgentCard{Name: "New", URL: "http://gw/agents/new/"})
	agents, err := dir.Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, agents, 2)
	assert.Equal(t, 2, fake.calls)

	// The refreshed list replaces the cached copy.
	cached, err := dir.Agents(context.Background())
	require.NoError(t, err)
	assert.Len(t, cached, 2)
	assert.Equal(t, 2, fake.calls)
}

func TestRefreshPropagatesErrors(t *testing.T) {
	fake := &fakeDiscoverer{err: errors.New("gateway down")}
	dir := New(fake, "http://gw", time.Minute, testLogger())

	_, err := dir.Agents(context.Background())
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	fake := &fakeDiscoverer{cards: []protocol.AgentCard{
		{Name: "Echo", URL: "http://gw/agents/echo/"},
		{Name: "Summarizer", URL: "http://gw/agents/summarize/"},
	}}
	dir := New(fake, "http://gw", time.Minute, testLogger())

	agent, ok := dir.Find(context.Background(), "summarize")
	require.True(t, ok)
	assert.Equal(t, "Summarizer", agent.Name)

	_, ok = dir.Find(context.Background(), "missing")
	assert.False(t, ok)
}
