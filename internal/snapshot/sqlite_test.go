// ABOUTME: Tests for SQLite snapshot persistence: round-trip fidelity,
// ABOUTME: ordering, and in-flight status normalization on restore.

package snapshot

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-sh/parley/internal/conversation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "snapshots", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConversations() []conversation.Conversation {
	base := time.Date(2026, 8, 20, 10, 30, 0, 123456789, time.UTC)
	return []conversation.Conversation{
		{
			ID:      "srv-9",
			AgentID: "echo",
			Title:   "newest",
			Messages: []conversation.Message{
				{
					ID:          "m1",
					Role:        conversation.RoleUser,
					Parts:       conversation.Parts{conversation.TextPart{Text: "hello"}},
					DisplayText: "hello",
					Status:      conversation.StatusDone,
					CreatedAt:   base,
				},
				{
					ID:   "m2",
					Role: conversation.RoleAgent,
					Parts: conversation.Parts{
						conversation.TextPart{Text: "hi"},
						conversation.DataPart{Type: "chart", Payload: json.RawMessage(`{"x":1}`)},
					},
					DisplayText: "hi",
					Status:      conversation.StatusDone,
					AgentName:   "Echo",
					CreatedAt:   base.Add(time.Second),
				},
			},
			CreatedAt: base,
			UpdatedAt: base.Add(time.Minute),
		},
		{
			ID:        "srv-3",
			AgentID:   "summarize",
			Title:     "older",
			CreatedAt: base.Add(-time.Hour),
			UpdatedAt: base.Add(-time.Hour),
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleConversations()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Order is preserved, newest first as stored.
	assert.Equal(t, "srv-9", got[0].ID)
	assert.Equal(t, "srv-3", got[1].ID)

	assert.Equal(t, want[0].Title, got[0].Title)
	assert.Equal(t, want[0].AgentID, got[0].AgentID)
	require.Len(t, got[0].Messages, 2)
	assert.Equal(t, want[0].Messages[0].Parts, got[0].Messages[0].Parts)
	assert.Equal(t, want[0].Messages[0].Status, got[0].Messages[0].Status)
	assert.True(t, want[0].Messages[0].CreatedAt.Equal(got[0].Messages[0].CreatedAt))
	assert.Equal(t, want[0].Messages[1].Parts, got[0].Messages[1].Parts)
	assert.Equal(t, "Echo", got[0].Messages[1].AgentName)
	assert.True(t, want[0].CreatedAt.Equal(got[0].CreatedAt))
	assert.True(t, want[0].UpdatedAt.Equal(got[0].UpdatedAt))
}

func TestSaveReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleConversations()))
	require.NoError(t, s.Save(ctx, sampleConversations()[:1]))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "srv-9", got[0].ID)
}

func TestLoadNormalizesInFlightStatuses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convs := []conversation.Conversation{{
		ID:      "c1",
		AgentID: "echo",
		Title:   "interrupted",
		Messages: []conversation.Message{
			{ID: "m1", Role: conversation.RoleAgent, Status: conversation.StatusSending, CreatedAt: time.Now().UTC()},
			{ID: "m2", Role: conversation.RoleAgent, Status: conversation.StatusStreaming, CreatedAt: time.Now().UTC()},
			{ID: "m3", Role: conversation.RoleAgent, Status: conversation.StatusError, CreatedAt: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}}
	require.NoError(t, s.Save(ctx, convs))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, conversation.StatusDone, got[0].Messages[0].Status)
	assert.Equal(t, conversation.StatusDone, got[0].Messages[1].Status)
	assert.Equal(t, conversation.StatusError, got[0].Messages[2].Status, "terminal statuses are kept")
}

func TestLoadEmptyDatabase(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListenerPersists(t *testing.T) {
	s := newTestStore(t)
	listener := s.Listener()

	listener(sampleConversations())

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
