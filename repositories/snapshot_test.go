package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
)

func newTestRepository(t *testing.T) SnapshotRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSnapshotRepository(db, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func chatAt(author, text string, at time.Time) domain.Message {
	m := domain.Chat(author, text)
	m.At = at
	return m
}

func TestSnapshotRepository_LatestSnapshot_Returns_The_Most_Recent(t *testing.T) {
	req := require.New(t)
	repo := newTestRepository(t)

	// Given nothing stored yet
	_, found, err := repo.LatestSnapshot()
	req.NoError(err)
	req.False(found)

	// When two snapshots are written in order
	req.NoError(repo.SaveSnapshot(domain.Snapshot{MessageCount: 1}))
	req.NoError(repo.SaveSnapshot(domain.Snapshot{MessageCount: 2}))

	// Then the reverse scan lands on the second one
	snap, found, err := repo.LatestSnapshot()
	req.NoError(err)
	req.True(found)
	req.Equal(uint64(2), snap.MessageCount)
}

func TestSnapshotRepository_Archives_Messages_Newest_First(t *testing.T) {
	req := require.New(t)
	repo := newTestRepository(t)
	base := time.Date(2025, 3, 14, 15, 0, 0, 0, time.Local)

	snap := domain.Snapshot{Messages: []domain.Message{
		chatAt("bob", "first", base),
		chatAt("bob", "second", base.Add(time.Second)),
		chatAt("carol", "third", base.Add(2*time.Second)),
	}}
	req.NoError(repo.SaveSnapshot(snap))

	messages, _, err := repo.ArchivedMessages(0, nil)
	req.NoError(err)
	req.Len(messages, 3)
	req.Equal("third", messages[0].Text)
	req.Equal("second", messages[1].Text)
	req.Equal("first", messages[2].Text)
}

func TestSnapshotRepository_Archive_Cursor_Resumes_The_Scan(t *testing.T) {
	req := require.New(t)
	repo := newTestRepository(t)
	base := time.Date(2025, 3, 14, 15, 0, 0, 0, time.Local)

	snap := domain.Snapshot{Messages: []domain.Message{
		chatAt("bob", "first", base),
		chatAt("bob", "second", base.Add(time.Second)),
		chatAt("carol", "third", base.Add(2*time.Second)),
	}}
	req.NoError(repo.SaveSnapshot(snap))

	// First page
	page, cursor, err := repo.ArchivedMessages(2, nil)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal("third", page[0].Text)
	req.Equal("second", page[1].Text)
	req.NotNil(cursor)

	// Second page resumes past the cursor
	page, _, err = repo.ArchivedMessages(2, cursor)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal("first", page[0].Text)
}

func TestSnapshotRepository_Repeated_Saves_Do_Not_Duplicate_Messages(t *testing.T) {
	req := require.New(t)
	repo := newTestRepository(t)
	base := time.Date(2025, 3, 14, 15, 0, 0, 0, time.Local)
	m := chatAt("bob", "only once", base)

	// The archive key is derived from the message, so a manual save
	// followed by a periodic one overwrites instead of duplicating
	req.NoError(repo.SaveSnapshot(domain.Snapshot{Messages: []domain.Message{m}}))
	req.NoError(repo.SaveSnapshot(domain.Snapshot{Messages: []domain.Message{m}}))

	messages, _, err := repo.ArchivedMessages(0, nil)
	req.NoError(err)
	req.Len(messages, 1)
}
