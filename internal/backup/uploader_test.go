package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/snapshot"
)

type fakeRemote struct {
	mu      sync.Mutex
	uploads map[string][]byte
	objects []types.Object
	deleted []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{uploads: make(map[string][]byte)}
}

func (f *fakeRemote) Upload(_ context.Context, key string, body io.Reader, _ int64) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[key] = raw
	return nil
}

func (f *fakeRemote) List(_ context.Context, _ string) ([]types.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects, nil
}

func (f *fakeRemote) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeSnapshots struct {
	sealed snapshot.Sealed
	err    error
}

func (f fakeSnapshots) ByDate(string) (snapshot.Sealed, error) {
	if f.err != nil {
		return snapshot.Sealed{}, f.err
	}
	return f.sealed, nil
}

func sealedFixture(date string) snapshot.Sealed {
	payload := []byte(`{"date":"` + date + `","eventCount":2}`)
	return snapshot.Sealed{
		Snapshot: snapshot.Snapshot{Date: date, EventCount: 2},
		Payload:  payload,
		Checksum: "deadbeef",
	}
}

func readArchive(t *testing.T, raw []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer gz.Close()

	out := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[hdr.Name] = content
	}
	return out
}

func TestUploadDayArchivesSnapshotAndJournal(t *testing.T) {
	journalDir := t.TempDir()
	dayFile := events.DayPath(journalDir, "2026-03-01")
	require.NoError(t, os.MkdirAll(filepath.Dir(dayFile), 0o755))
	journalLines := []byte(`{"eventId":1,"eventType":"TradeExecuted","timestamp":"2026-03-01T12:00:00Z"}` + "\n")
	require.NoError(t, os.WriteFile(dayFile, journalLines, 0o644))

	remote := newFakeRemote()
	up := NewUploader(remote, fakeSnapshots{sealed: sealedFixture("2026-03-01")},
		Config{JournalDir: journalDir, Prefix: "warden"}, zerolog.Nop())

	key, err := up.UploadDay(context.Background(), "2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "warden/warden-2026-03-01.tar.gz", key)

	raw, ok := remote.uploads[key]
	require.True(t, ok)
	members := readArchive(t, raw)
	require.Len(t, members, 3)
	assert.Equal(t, sealedFixture("2026-03-01").Payload, members["snapshot-2026-03-01.json"])
	assert.Equal(t, journalLines, members["events-2026-03-01.jsonl"])

	var manifest Manifest
	require.NoError(t, json.Unmarshal(members["backup-manifest.json"], &manifest))
	assert.Equal(t, "2026-03-01", manifest.Date)
	assert.Equal(t, "deadbeef", manifest.SnapshotChecksum)
	require.Len(t, manifest.Files, 2)
	for _, f := range manifest.Files {
		assert.Contains(t, f.Checksum, "sha256:")
		assert.Greater(t, f.SizeBytes, int64(0))
	}
}

func TestUploadDayWithoutJournalFile(t *testing.T) {
	remote := newFakeRemote()
	up := NewUploader(remote, fakeSnapshots{sealed: sealedFixture("2026-03-01")},
		Config{JournalDir: t.TempDir(), Prefix: "warden"}, zerolog.Nop())

	key, err := up.UploadDay(context.Background(), "2026-03-01")
	require.NoError(t, err)

	members := readArchive(t, remote.uploads[key])
	require.Len(t, members, 2)
	assert.Contains(t, members, "snapshot-2026-03-01.json")
	assert.Contains(t, members, "backup-manifest.json")
}

func TestUploadDayRefusesUnsealedDay(t *testing.T) {
	up := NewUploader(newFakeRemote(), fakeSnapshots{err: snapshot.ErrNotFound},
		Config{JournalDir: t.TempDir()}, zerolog.Nop())

	_, err := up.UploadDay(context.Background(), "2026-03-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not sealed")
}

func TestRotateKeepsNewestThree(t *testing.T) {
	remote := newFakeRemote()
	for _, date := range []string{"2026-02-20", "2026-02-21", "2026-02-22", "2026-03-01", "2026-03-02"} {
		remote.objects = append(remote.objects, types.Object{
			Key: aws.String("warden/warden-" + date + ".tar.gz"),
		})
	}
	// Noise the rotation must ignore.
	remote.objects = append(remote.objects, types.Object{Key: aws.String("warden/notes.txt")})

	up := NewUploader(remote, fakeSnapshots{}, Config{Prefix: "warden", RetentionDays: 5}, zerolog.Nop())
	up.SetClock(func() time.Time { return time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC) })

	require.NoError(t, up.Rotate(context.Background()))

	// Newest three stay (03-02, 03-01, 02-22); of the rest only those past
	// the cutoff go.
	assert.ElementsMatch(t, []string{
		"warden/warden-2026-02-20.tar.gz",
		"warden/warden-2026-02-21.tar.gz",
	}, remote.deleted)
}

func TestRotateSkipsWhenFewArchives(t *testing.T) {
	remote := newFakeRemote()
	remote.objects = []types.Object{
		{Key: aws.String("warden/warden-2026-01-01.tar.gz")},
		{Key: aws.String("warden/warden-2026-01-02.tar.gz")},
	}

	up := NewUploader(remote, fakeSnapshots{}, Config{Prefix: "warden", RetentionDays: 1}, zerolog.Nop())
	up.SetClock(func() time.Time { return time.Date(2026, 3, 3, 0, 30, 0, 0, time.UTC) })

	require.NoError(t, up.Rotate(context.Background()))
	assert.Empty(t, remote.deleted)
}
