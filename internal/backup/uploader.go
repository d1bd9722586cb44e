package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/events"
	"github.com/wardenlabs/warden/internal/snapshot"
)

// Remote is the slice of the object store the uploader needs.
type Remote interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]types.Object, error)
	Delete(ctx context.Context, key string) error
}

// SnapshotSource loads the sealed record that anchors a day's archive.
type SnapshotSource interface {
	ByDate(date string) (snapshot.Sealed, error)
}

// Manifest describes one day's archive contents.
type Manifest struct {
	Date             string      `json:"date"`
	CreatedAt        time.Time   `json:"createdAt"`
	SnapshotChecksum string      `json:"snapshotChecksum"`
	Files            []FileEntry `json:"files"`
}

// FileEntry is one archived file with its integrity checksum.
type FileEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"sizeBytes"`
	Checksum  string `json:"checksum"`
}

// Config holds uploader settings.
type Config struct {
	JournalDir    string // root of the JSONL event partitions
	Prefix        string // key prefix inside the bucket
	RetentionDays int    // 0 keeps every archive
}

// Uploader archives a sealed day and ships it to the remote. A day uploads
// only after it is sealed; the snapshot in the archive is the proof the
// journal slice was complete when the backup was cut.
type Uploader struct {
	remote    Remote
	snapshots SnapshotSource
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// NewUploader wires the uploader.
func NewUploader(remote Remote, snapshots SnapshotSource, cfg Config, log zerolog.Logger) *Uploader {
	if cfg.Prefix == "" {
		cfg.Prefix = "warden"
	}
	return &Uploader{
		remote:    remote,
		snapshots: snapshots,
		cfg:       cfg,
		log:       log.With().Str("component", "backup").Logger(),
		now:       time.Now,
	}
}

// SetClock overrides time for tests.
func (u *Uploader) SetClock(now func() time.Time) { u.now = now }

// UploadDay builds the day's archive and uploads it, returning the object
// key. Rotation of old archives runs after a successful upload and never
// fails the backup itself.
func (u *Uploader) UploadDay(ctx context.Context, date string) (string, error) {
	staging, err := os.MkdirTemp("", "warden-backup-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	names, err := u.stageDay(staging, date)
	if err != nil {
		return "", err
	}

	archivePath := filepath.Join(staging, archiveName(date))
	if err := createArchive(archivePath, staging, names); err != nil {
		return "", fmt.Errorf("failed to create archive for %s: %w", date, err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat archive: %w", err)
	}
	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	key := path.Join(u.cfg.Prefix, archiveName(date))
	if err := u.remote.Upload(ctx, key, archive, info.Size()); err != nil {
		return "", err
	}

	u.log.Info().
		Str("date", date).
		Str("key", key).
		Int64("size_bytes", info.Size()).
		Msg("Day archive uploaded")

	if u.cfg.RetentionDays > 0 {
		if err := u.Rotate(ctx); err != nil {
			u.log.Warn().Err(err).Msg("Backup rotation failed")
		}
	}
	return key, nil
}

// stageDay writes the archive members into the staging directory and
// returns their names in archive order.
func (u *Uploader) stageDay(staging, date string) ([]string, error) {
	sealed, err := u.snapshots.ByDate(date)
	if err != nil {
		return nil, fmt.Errorf("day %s is not sealed, refusing to back up: %w", date, err)
	}

	manifest := Manifest{
		Date:             date,
		CreatedAt:        u.now().UTC(),
		SnapshotChecksum: sealed.Checksum,
	}
	var names []string

	snapName := "snapshot-" + date + ".json"
	snapPath := filepath.Join(staging, snapName)
	if err := os.WriteFile(snapPath, sealed.Payload, 0o644); err != nil {
		return nil, fmt.Errorf("failed to stage snapshot: %w", err)
	}
	entry, err := fileEntry(snapPath, snapName)
	if err != nil {
		return nil, err
	}
	manifest.Files = append(manifest.Files, entry)
	names = append(names, snapName)

	// A day with zero events has no JSONL file; the snapshot alone is the
	// complete record then.
	journalSrc := events.DayPath(u.cfg.JournalDir, date)
	if _, err := os.Stat(journalSrc); err == nil {
		journalName := "events-" + date + ".jsonl"
		journalDst := filepath.Join(staging, journalName)
		if err := copyFile(journalSrc, journalDst); err != nil {
			return nil, fmt.Errorf("failed to stage journal: %w", err)
		}
		entry, err := fileEntry(journalDst, journalName)
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, entry)
		names = append(names, journalName)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read journal for %s: %w", date, err)
	} else {
		u.log.Debug().Str("date", date).Msg("No journal file for day, archiving snapshot only")
	}

	manifestPath := filepath.Join(staging, "backup-manifest.json")
	if err := writeManifest(manifestPath, manifest); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	names = append(names, "backup-manifest.json")

	return names, nil
}

// Rotate deletes archives older than the retention period, always keeping
// the three newest regardless of age.
func (u *Uploader) Rotate(ctx context.Context) error {
	objects, err := u.remote.List(ctx, u.cfg.Prefix+"/")
	if err != nil {
		return err
	}

	type dated struct {
		key  string
		date time.Time
	}
	var archives []dated
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		day, ok := parseArchiveDate(*obj.Key)
		if !ok {
			continue
		}
		archives = append(archives, dated{key: *obj.Key, date: day})
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].date.After(archives[j].date) })

	const minKeep = 3
	if len(archives) <= minKeep {
		return nil
	}
	cutoff := u.now().UTC().AddDate(0, 0, -u.cfg.RetentionDays)

	deleted := 0
	for _, a := range archives[minKeep:] {
		if !a.date.Before(cutoff) {
			continue
		}
		if err := u.remote.Delete(ctx, a.key); err != nil {
			u.log.Warn().Err(err).Str("key", a.key).Msg("Failed to delete old archive")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		u.log.Info().Int("deleted", deleted).Int("remaining", len(archives)-deleted).Msg("Rotated old archives")
	}
	return nil
}

func archiveName(date string) string {
	return "warden-" + date + ".tar.gz"
}

// parseArchiveDate recovers the day from an archive key, false for keys the
// uploader did not produce.
func parseArchiveDate(key string) (time.Time, bool) {
	base := path.Base(key)
	if !strings.HasPrefix(base, "warden-") || !strings.HasSuffix(base, ".tar.gz") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(base, "warden-"), ".tar.gz")
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

func fileEntry(path, name string) (FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	sum, err := checksumFile(path)
	if err != nil {
		return FileEntry{}, fmt.Errorf("failed to checksum %s: %w", name, err)
	}
	return FileEntry{Name: name, SizeBytes: info.Size(), Checksum: sum}, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", hash.Sum(nil)), nil
}

func writeManifest(path string, manifest Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func createArchive(archivePath, sourceDir string, names []string) error {
	archive, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer archive.Close()

	gz := gzip.NewWriter(archive)
	defer gz.Close()

	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range names {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", name, err)
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if _, err := io.Copy(tw, f); err != nil {
		return err
	}
	return nil
}
