// Package reliability keeps the ledger database healthy and backed up.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/aristath/shadowtrade/internal/database"
	"github.com/aristath/shadowtrade/internal/metrics"
)

const (
	backupPrefix    = "shadowtrade-backup-"
	backupSuffix    = ".tar.gz"
	backupTimestamp = "2006-01-02-150405"
	metadataFile    = "backup-metadata.json"
	metadataVersion = "1"
)

// BackupMetadata is stored inside every archive.
type BackupMetadata struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	Sequence  int64     `json:"last_sequence"`
}

// BackupInfo describes an archive.
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	Uploaded  bool      `json:"uploaded"`
}

// SequenceSource reports the last audit sequence covered by a snapshot.
type SequenceSource interface {
	LastSequence(ctx context.Context) (int64, error)
}

// BackupService snapshots the ledger into compressed archives, keeps the
// newest ones locally and mirrors them to an object store when configured.
type BackupService struct {
	db       *database.DB
	dir      string
	keep     int
	remote   ObjectStore
	sequence SequenceSource
	metrics  *metrics.Metrics
	clock    clockwork.Clock
	log      zerolog.Logger
}

// BackupConfig holds the backup service collaborators. Remote, Sequence and
// Metrics are optional.
type BackupConfig struct {
	DB       *database.DB
	Dir      string
	Keep     int
	Remote   ObjectStore
	Sequence SequenceSource
	Metrics  *metrics.Metrics
	Clock    clockwork.Clock
}

// NewBackupService creates a backup service.
func NewBackupService(cfg BackupConfig, log zerolog.Logger) *BackupService {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 1
	}
	return &BackupService{
		db:       cfg.DB,
		dir:      cfg.Dir,
		keep:     cfg.Keep,
		remote:   cfg.Remote,
		sequence: cfg.Sequence,
		metrics:  cfg.Metrics,
		clock:    cfg.Clock,
		log:      log.With().Str("service", "backup").Logger(),
	}
}

// CreateBackup snapshots the database, archives it with its metadata,
// uploads it when a remote store is configured and applies retention.
func (s *BackupService) CreateBackup(ctx context.Context) (info *BackupInfo, err error) {
	defer func() { s.metrics.Backup(err) }()

	s.log.Info().Msg("Starting backup")
	startTime := s.clock.Now()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	stagingDir, err := os.MkdirTemp(s.dir, "staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Version:   metadataVersion,
		Timestamp: startTime.UTC().Truncate(time.Second),
		Database:  s.db.Name(),
		Filename:  s.db.Name() + ".db",
	}
	if s.sequence != nil {
		// Read before the snapshot so the recorded sequence is never ahead of it.
		if metadata.Sequence, err = s.sequence.LastSequence(ctx); err != nil {
			return nil, fmt.Errorf("failed to read last sequence: %w", err)
		}
	}

	snapshotPath := filepath.Join(stagingDir, metadata.Filename)
	if err := s.db.SnapshotTo(ctx, snapshotPath); err != nil {
		return nil, err
	}
	if metadata.SizeBytes, metadata.Checksum, err = checksumFile(snapshotPath); err != nil {
		return nil, fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	metadataPath := filepath.Join(stagingDir, metadataFile)
	if err := writeJSON(metadataPath, metadata); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	archiveName := backupPrefix + metadata.Timestamp.Format(backupTimestamp) + backupSuffix
	archivePath := filepath.Join(s.dir, archiveName)
	if err := createArchive(archivePath, stagingDir, []string{metadata.Filename, metadataFile}); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}
	info = &BackupInfo{
		Filename:  archiveName,
		Path:      archivePath,
		Timestamp: metadata.Timestamp,
		SizeBytes: stat.Size(),
	}

	if s.remote != nil {
		if err := s.upload(ctx, archivePath, archiveName); err != nil {
			return nil, err
		}
		info.Uploaded = true
	}

	if err := s.RotateLocal(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to rotate local backups")
	}
	if s.remote != nil {
		if err := s.RotateRemote(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to rotate remote backups")
		}
	}

	s.log.Info().
		Str("archive", archiveName).
		Int64("size_bytes", info.SizeBytes).
		Int64("last_sequence", metadata.Sequence).
		Bool("uploaded", info.Uploaded).
		Dur("duration", s.clock.Since(startTime)).
		Msg("Backup completed")
	return info, nil
}

func (s *BackupService) upload(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	return s.remote.Upload(ctx, key, f)
}

// ListBackups returns local archives, newest first.
func (s *BackupService) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []BackupInfo
	for _, e := range entries {
		ts, ok := parseArchiveName(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  e.Name(),
			Path:      filepath.Join(s.dir, e.Name()),
			Timestamp: ts,
			SizeBytes: fi.Size(),
		})
	}
	sortNewestFirst(backups)
	return backups, nil
}

// RotateLocal deletes all but the newest keep archives.
func (s *BackupService) RotateLocal() error {
	backups, err := s.ListBackups()
	if err != nil {
		return err
	}
	for i, b := range backups {
		if i < s.keep {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			s.log.Error().Err(err).Str("filename", b.Filename).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("filename", b.Filename).Msg("Deleted old backup")
	}
	return nil
}

// RotateRemote applies the same retention to the object store.
func (s *BackupService) RotateRemote(ctx context.Context) error {
	objects, err := s.remote.List(ctx, backupPrefix)
	if err != nil {
		return err
	}

	var backups []BackupInfo
	for _, obj := range objects {
		ts, ok := parseArchiveName(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Ignoring unrecognised backup object")
			continue
		}
		backups = append(backups, BackupInfo{Filename: obj.Key, Timestamp: ts, SizeBytes: obj.SizeBytes, Uploaded: true})
	}
	sortNewestFirst(backups)

	for i, b := range backups {
		if i < s.keep {
			continue
		}
		if err := s.remote.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("key", b.Filename).Msg("Failed to delete old remote backup")
			continue
		}
		s.log.Info().Str("key", b.Filename).Msg("Deleted old remote backup")
	}
	return nil
}

// VerifyBackup reads the archive at path and checks the snapshot against the
// checksum in its metadata.
func VerifyBackup(path string) (*BackupMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	defer gz.Close()

	var (
		metadata *BackupMetadata
		sums     = make(map[string]string)
		sizes    = make(map[string]int64)
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry: %w", err)
		}
		if hdr.Name == metadataFile {
			metadata = &BackupMetadata{}
			if err := json.NewDecoder(tr).Decode(metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
			continue
		}
		h := sha256.New()
		n, err := io.Copy(h, tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", hdr.Name, err)
		}
		sums[hdr.Name] = "sha256:" + hex.EncodeToString(h.Sum(nil))
		sizes[hdr.Name] = n
	}

	if metadata == nil {
		return nil, fmt.Errorf("archive has no metadata")
	}
	sum, ok := sums[metadata.Filename]
	if !ok {
		return nil, fmt.Errorf("archive is missing %s", metadata.Filename)
	}
	if sum != metadata.Checksum || sizes[metadata.Filename] != metadata.SizeBytes {
		return nil, fmt.Errorf("checksum mismatch for %s", metadata.Filename)
	}
	return metadata, nil
}

func parseArchiveName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	ts, err := time.Parse(backupTimestamp, strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func sortNewestFirst(backups []BackupInfo) {
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
}

// checksumFile returns the size and sha256 checksum of a file
func checksumFile(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer file.Close()

	hash := sha256.New()
	n, err := io.Copy(hash, file)
	if err != nil {
		return 0, "", err
	}
	return n, "sha256:" + hex.EncodeToString(hash.Sum(nil)), nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// createArchive writes the named files from sourceDir into a tar.gz at archivePath.
func createArchive(archivePath, sourceDir string, names []string) (err error) {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(archivePath)
		}
	}()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		if err := addFileToArchive(tw, filepath.Join(sourceDir, name), name); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFileToArchive(tw *tar.Writer, path, nameInArchive string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = nameInArchive

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}
