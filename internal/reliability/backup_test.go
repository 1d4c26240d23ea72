package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeByMAB/Falconer/internal/database"
)

// memStore is an in-memory ObjectStore for tests.
type memStore struct {
	objects map[string][]byte
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]RemoteObject, error) {
	var out []RemoteObject
	for key, data := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, RemoteObject{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func newTestService(t *testing.T, store ObjectStore) *BackupService {
	t.Helper()

	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:%s?mode=memory", t.Name()),
		Name: "falconer",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS records (key TEXT PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO records (key, value) VALUES ('spend/2025-06-10', '{"total_spent_sats":1000}')`)
	require.NoError(t, err)

	return NewBackupService(db, store, t.TempDir(), "1.0.0", zerolog.Nop())
}

func extractArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = content
	}
	return files
}

func TestCreateAndUpload(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)

	require.NoError(t, svc.CreateAndUpload(context.Background()))
	require.Len(t, store.objects, 1)

	for key, data := range store.objects {
		_, ok := parseBackupTimestamp(key)
		assert.True(t, ok, "archive name should carry a parseable timestamp")

		files := extractArchive(t, data)
		require.Contains(t, files, "falconer.db")
		require.Contains(t, files, "backup-metadata.json")

		var metadata BackupMetadata
		require.NoError(t, json.Unmarshal(files["backup-metadata.json"], &metadata))
		require.Len(t, metadata.Databases, 1)
		assert.Equal(t, "falconer", metadata.Databases[0].Name)
		assert.Equal(t, "falconer.db", metadata.Databases[0].Filename)
		assert.Equal(t, int64(len(files["falconer.db"])), metadata.Databases[0].SizeBytes)
		assert.Contains(t, metadata.Databases[0].Checksum, "sha256:")
	}
}

func TestListBackupsSortsNewestFirst(t *testing.T) {
	store := newMemStore()
	store.objects["falconer-backup-2025-06-01-120000.tar.gz"] = []byte("old")
	store.objects["falconer-backup-2025-06-03-120000.tar.gz"] = []byte("new")
	store.objects["falconer-backup-2025-06-02-120000.tar.gz"] = []byte("mid")
	store.objects["falconer-backup-garbage.tar.gz"] = []byte("junk")
	store.objects["unrelated-object"] = []byte("junk")

	svc := newTestService(t, store)
	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)

	require.Len(t, backups, 3)
	assert.Equal(t, "falconer-backup-2025-06-03-120000.tar.gz", backups[0].Filename)
	assert.Equal(t, "falconer-backup-2025-06-01-120000.tar.gz", backups[2].Filename)
}

func TestRotateOldBackups(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	for i := 0; i < 6; i++ {
		key := backupPrefix + now.AddDate(0, 0, -i*30).Format(backupTimeFormat) + ".tar.gz"
		store.objects[key] = []byte("x")
	}

	svc := newTestService(t, store)
	require.NoError(t, svc.RotateOldBackups(context.Background(), 90))

	// Newest three always survive; of the rest, those older than 90
	// days are removed.
	assert.Len(t, store.objects, 3)
	assert.Len(t, store.deleted, 3)
}

func TestRotateKeepsMinimum(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	for i := 0; i < 3; i++ {
		key := backupPrefix + now.AddDate(-1, 0, -i).Format(backupTimeFormat) + ".tar.gz"
		store.objects[key] = []byte("x")
	}

	svc := newTestService(t, store)
	require.NoError(t, svc.RotateOldBackups(context.Background(), 30))
	assert.Len(t, store.objects, 3)
	assert.Empty(t, store.deleted)
}

func TestRotateZeroRetentionKeepsEverything(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	for i := 0; i < 5; i++ {
		key := backupPrefix + now.AddDate(-1, 0, -i).Format(backupTimeFormat) + ".tar.gz"
		store.objects[key] = []byte("x")
	}

	svc := newTestService(t, store)
	require.NoError(t, svc.RotateOldBackups(context.Background(), 0))
	assert.Len(t, store.objects, 5)
}

func TestParseBackupTimestamp(t *testing.T) {
	ts, ok := parseBackupTimestamp("falconer-backup-2025-06-01-120000.tar.gz")
	require.True(t, ok)
	assert.Equal(t, 2025, ts.Year())

	_, ok = parseBackupTimestamp("falconer-backup-notadate.tar.gz")
	assert.False(t, ok)

	_, ok = parseBackupTimestamp("other-2025-06-01-120000.tar.gz")
	assert.False(t, ok)
}
