// Package export provides snapshot export/import of both namespaces, a
// checksummed archive format, and XLSX class reports.
package export

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
	"time"

	"github.com/nabhalearn/edusync/internal/errors"
	"github.com/nabhalearn/edusync/internal/logging"
	"github.com/nabhalearn/edusync/internal/schema"
)

const (
	// FormatVersion is the snapshot/archive format written by this build.
	FormatVersion = 1

	dataFileName     = "data.json"
	manifestFileName = "manifest.json"

	// maxEntryBytes bounds a single archive entry when reading.
	maxEntryBytes = 512 << 20
)

// Snapshot is every record of both namespaces, keyed by collection name.
// The sync queue is never part of a snapshot.
type Snapshot struct {
	Version    int                          `json:"version"`
	ExportedAt time.Time                    `json:"exportedAt"`
	Content    map[string][]json.RawMessage `json:"content"`
	Teacher    map[string][]json.RawMessage `json:"teacher"`
}

// ItemCount returns the number of records in the snapshot.
func (s *Snapshot) ItemCount() int {
	n := 0
	for _, bodies := range s.Content {
		n += len(bodies)
	}
	for _, bodies := range s.Teacher {
		n += len(bodies)
	}
	return n
}

// ExportManifest describes an archive. Checksum is the hex sha256 of the
// data entry.
type ExportManifest struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
	ItemCount  int       `json:"itemCount"`
	Checksum   string    `json:"checksum"`
}

// ExportResult contains the result of writing an archive.
type ExportResult struct {
	FilePath  string
	SizeBytes int64
	ItemCount int
	Checksum  string
	Duration  time.Duration
}

// ImportResult contains the result of an import operation.
type ImportResult struct {
	ImportedCount int
	// Collections counts restored records per "namespace/collection".
	Collections map[string]int
	Duration    time.Duration
}

// ExportService handles export and import of the local stores.
type ExportService struct {
	cat *schema.Catalog
	log *logging.Logger
	now func() time.Time
}

// NewExportService creates a new export service.
func NewExportService(cat *schema.Catalog, log *logging.Logger) *ExportService {
	if log == nil {
		log = logging.Get()
	}
	return &ExportService{cat: cat, log: log.Named("export"), now: time.Now}
}

func (s *ExportService) ready() error {
	if s == nil || s.cat == nil {
		return errors.NotReady("export service")
	}
	return nil
}

// =====================================================
// Snapshot
// =====================================================

// Export reads every record of every collection in both namespaces.
func (s *ExportService) Export(ctx context.Context) (*Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Version:    FormatVersion,
		ExportedAt: s.now().UTC(),
		Content:    make(map[string][]json.RawMessage),
		Teacher:    make(map[string][]json.RawMessage),
	}
	if err := dump(ctx, schema.ContentName, s.cat.ContentCollections(), snap.Content); err != nil {
		return nil, err
	}
	if err := dump(ctx, schema.TeacherName, s.cat.TeacherCollections(), snap.Teacher); err != nil {
		return nil, err
	}
	return snap, nil
}

func dump(ctx context.Context, ns string, colls []schema.RawCollection, into map[string][]json.RawMessage) error {
	for _, c := range colls {
		bodies, err := c.DumpRaw(ctx)
		if err != nil {
			return errors.Wrap(errors.ErrExportFailed, "dump "+ns+"/"+c.Name(), err)
		}
		into[c.Name()] = bodies
	}
	return nil
}

// Import upserts every record of snap into the matching collection. Sync
// flags are kept as carried and nothing is queued. Unknown collections
// fail the whole import before anything is written.
func (s *ExportService) Import(ctx context.Context, snap *Snapshot) (*ImportResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, errors.New(errors.ErrInvalid, "nil snapshot")
	}
	if snap.Version > FormatVersion {
		return nil, errors.Newf(errors.ErrImportFailed, "snapshot version %d is newer than supported version %d", snap.Version, FormatVersion)
	}

	start := time.Now()
	content, err := resolve(schema.ContentName, s.cat.ContentCollections(), snap.Content)
	if err != nil {
		return nil, err
	}
	teacher, err := resolve(schema.TeacherName, s.cat.TeacherCollections(), snap.Teacher)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Collections: make(map[string]int)}
	if err := restore(ctx, schema.ContentName, content, snap.Content, result); err != nil {
		return result, err
	}
	if err := restore(ctx, schema.TeacherName, teacher, snap.Teacher, result); err != nil {
		return result, err
	}
	result.Duration = time.Since(start)

	s.log.Info("Snapshot imported", map[string]interface{}{
		"item_count":  result.ImportedCount,
		"exported_at": snap.ExportedAt,
	})
	return result, nil
}

func resolve(ns string, colls []schema.RawCollection, data map[string][]json.RawMessage) ([]schema.RawCollection, error) {
	known := make(map[string]schema.RawCollection, len(colls))
	for _, c := range colls {
		known[c.Name()] = c
	}
	names := make([]string, 0, len(data))
	for name := range data {
		if _, ok := known[name]; !ok {
			return nil, errors.Newf(errors.ErrImportFailed, "unknown collection %s/%s", ns, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]schema.RawCollection, len(names))
	for i, name := range names {
		out[i] = known[name]
	}
	return out, nil
}

func restore(ctx context.Context, ns string, colls []schema.RawCollection, data map[string][]json.RawMessage, result *ImportResult) error {
	for _, c := range colls {
		key := ns + "/" + c.Name()
		for i, body := range data[c.Name()] {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.PutRaw(ctx, body); err != nil {
				return errors.Wrap(errors.ErrImportFailed, fmt.Sprintf("restore %s record %d", key, i), err)
			}
			result.Collections[key]++
			result.ImportedCount++
		}
	}
	return nil
}

// =====================================================
// Archive
// =====================================================

// WriteArchive exports a snapshot into a gzip-compressed tar at path
// holding manifest.json and data.json. The file is written to a temporary
// name and renamed into place.
func (s *ExportService) WriteArchive(ctx context.Context, path string) (*ExportResult, error) {
	start := time.Now()

	snap, err := s.Export(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "encode snapshot", err)
	}
	manifest := &ExportManifest{
		Version:    snap.Version,
		ExportedAt: snap.ExportedAt,
		ItemCount:  snap.ItemCount(),
		Checksum:   checksum(data),
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "encode manifest", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errors.ErrExportFailed, "create export directory", err)
		}
	}

	size, err := createArchive(path, snap.ExportedAt, map[string][]byte{
		manifestFileName: manifestData,
		dataFileName:     data,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrExportFailed, "write archive", err)
	}

	result := &ExportResult{
		FilePath:  path,
		SizeBytes: size,
		ItemCount: manifest.ItemCount,
		Checksum:  manifest.Checksum,
		Duration:  time.Since(start),
	}
	s.log.Info("Archive written", map[string]interface{}{
		"path":       path,
		"size_bytes": size,
		"item_count": result.ItemCount,
	})
	return result, nil
}

// ReadArchive reads and verifies an archive written by WriteArchive.
// A missing entry, undecodable content, a count mismatch or a checksum
// mismatch is CORRUPTED_ARCHIVE.
func (s *ExportService) ReadArchive(ctx context.Context, path string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := extractArchive(path)
	if err != nil {
		return nil, err
	}

	manifestData, ok := entries[manifestFileName]
	if !ok {
		return nil, errors.New(errors.ErrCorruptedArchive, "archive has no manifest")
	}
	data, ok := entries[dataFileName]
	if !ok {
		return nil, errors.New(errors.ErrCorruptedArchive, "archive has no data")
	}

	var manifest ExportManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, errors.Wrap(errors.ErrCorruptedArchive, "decode manifest", err)
	}
	if got := checksum(data); got != manifest.Checksum {
		return nil, errors.Newf(errors.ErrCorruptedArchive, "checksum mismatch: manifest %s, data %s", manifest.Checksum, got)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(errors.ErrCorruptedArchive, "decode data", err)
	}
	if n := snap.ItemCount(); n != manifest.ItemCount {
		return nil, errors.Newf(errors.ErrCorruptedArchive, "manifest lists %d items, data holds %d", manifest.ItemCount, n)
	}
	return &snap, nil
}

// ImportArchive reads the archive at path and imports it.
func (s *ExportService) ImportArchive(ctx context.Context, path string) (*ImportResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	snap, err := s.ReadArchive(ctx, path)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, snap)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// createArchive writes entries, manifest first, and returns the file size.
func createArchive(targetPath string, modTime time.Time, entries map[string][]byte) (int64, error) {
	tempPath := targetPath + ".tmp"
	outFile, err := os.Create(tempPath)
	if err != nil {
		return 0, err
	}
	defer os.Remove(tempPath)
	defer outFile.Close()

	gzw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gzw)

	for _, name := range []string{manifestFileName, dataFileName} {
		body := entries[name]
		header := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(body)),
			ModTime: modTime,
		}
		if err := tw.WriteHeader(header); err != nil {
			return 0, err
		}
		if _, err := tw.Write(body); err != nil {
			return 0, err
		}
	}

	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := gzw.Close(); err != nil {
		return 0, err
	}
	if err := outFile.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// extractArchive returns the regular-file entries of the archive by name.
func extractArchive(archivePath string) (map[string][]byte, error) {
	inFile, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrImportFailed, "open archive", err)
	}
	defer inFile.Close()

	gzr, err := gzip.NewReader(inFile)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCorruptedArchive, "read gzip stream", err)
	}
	defer gzr.Close()

	entries := make(map[string][]byte)
	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrCorruptedArchive, "read tar entry", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(tr, maxEntryBytes))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCorruptedArchive, "read "+header.Name, err)
		}
		entries[header.Name] = body
	}
	return entries, nil
}
