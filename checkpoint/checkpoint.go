// Package checkpoint persists per-page progress so an interrupted run can
// resume without repeating completed work. One JSON file per source
// document, written after every page.
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/wudi/ocrkit/document"
	"github.com/wudi/ocrkit/observability"
)

var (
	// ErrNotFound means no checkpoint exists for the source.
	ErrNotFound = errors.New("checkpoint: not found")
	// ErrDigestMismatch means the source changed since the checkpoint was
	// written. Resume is refused, never silently accepted.
	ErrDigestMismatch = errors.New("checkpoint: source digest mismatch")
)

// DefaultMaxAge is the retention horizon for CleanupStale.
const DefaultMaxAge = 24 * time.Hour

const fileSuffix = ".checkpoint.json"

// Record is the durable snapshot of one document's progress.
type Record struct {
	InputPath  string                `json:"input_path"`
	OutputPath string                `json:"output_path"`
	TotalPages int                   `json:"total_pages"`
	DPI        int                   `json:"dpi"`
	Languages  []string              `json:"languages,omitempty"`
	Digest     string                `json:"digest"`
	StartedAt  time.Time             `json:"started_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Pages      []document.PageRecord `json:"pages,omitempty"`
}

// Page returns the stored record for a page index.
func (r *Record) Page(index int) (document.PageRecord, bool) {
	if i := r.pageAt(index); i >= 0 {
		return r.Pages[i], true
	}
	return document.PageRecord{}, false
}

func (r *Record) pageAt(index int) int {
	for i, p := range r.Pages {
		if p.Index == index {
			return i
		}
	}
	return -1
}

// PendingPages lists the page indices that still need processing: every
// page without a terminal record. Failed pages from an earlier run are
// dropped by Load, so they come back as pending here.
func (r *Record) PendingPages() []int {
	seen := make(map[int]document.Outcome, len(r.Pages))
	for _, p := range r.Pages {
		seen[p.Index] = p.Outcome
	}
	var out []int
	for i := 0; i < r.TotalPages; i++ {
		if o, ok := seen[i]; !ok || !o.Terminal() {
			out = append(out, i)
		}
	}
	return out
}

// Counts tallies recorded outcomes.
func (r *Record) Counts() (done, skipped, failed int) {
	for _, p := range r.Pages {
		switch p.Outcome {
		case document.OutcomeDone:
			done++
		case document.OutcomeSkipped:
			skipped++
		case document.OutcomeFailed:
			failed++
		}
	}
	return done, skipped, failed
}

func (r *Record) dropFailed() {
	kept := r.Pages[:0]
	for _, p := range r.Pages {
		if p.Outcome != document.OutcomeFailed {
			kept = append(kept, p)
		}
	}
	r.Pages = kept
}

// Store owns the checkpoint files under one directory. A given record has a
// single mutating owner at a time; Store methods do not lock.
type Store struct {
	dir string
	log observability.Logger
}

// NewStore opens (and creates if needed) a checkpoint directory. An empty
// dir selects ~/.ocrkit/checkpoints.
func NewStore(dir string, log observability.Logger) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("checkpoint dir: %w", err)
		}
		dir = filepath.Join(home, ".ocrkit", "checkpoints")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the checkpoint file location for a source path. The name
// combines a readable stem with a hash of the full path, so documents with
// the same basename in different directories stay separate.
func (s *Store) Path(inputPath string) string {
	sum := blake2b.Sum256([]byte(inputPath))
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if runes := []rune(stem); len(runes) > 20 {
		stem = string(runes[:20])
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s%s", stem, hex.EncodeToString(sum[:6]), fileSuffix))
}

// New builds a fresh in-memory record for a document.
func (s *Store) New(doc *document.Document, digest string) *Record {
	now := time.Now().UTC()
	return &Record{
		InputPath:  doc.SourcePath,
		OutputPath: doc.OutputPath,
		TotalPages: doc.PageCount,
		DPI:        doc.DPI,
		Languages:  doc.Languages,
		Digest:     digest,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// Load reads the checkpoint for inputPath and verifies its stored digest
// against the given one. Returns ErrNotFound when no checkpoint exists and
// ErrDigestMismatch when the source changed since the checkpoint was
// written. Failed pages are dropped from the loaded record so the next run
// re-attempts them.
func (s *Store) Load(inputPath, digest string) (*Record, error) {
	path := s.Path(inputPath)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if rec.Digest != digest {
		return nil, fmt.Errorf("%w: %s changed since the checkpoint was written", ErrDigestMismatch, inputPath)
	}
	rec.dropFailed()
	return &rec, nil
}

// Save writes the record atomically: marshal to <file>.tmp, then rename
// over the previous file. A crash mid-write never corrupts the last valid
// checkpoint.
func (s *Store) Save(rec *Record) error {
	path := s.Path(rec.InputPath)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	s.log.Debug("checkpoint saved",
		observability.String("path", path),
		observability.Int("pages", len(rec.Pages)))
	return nil
}

// MarkPage records a page outcome and persists the record immediately, so a
// crash loses at most the in-flight pages. Outcomes only move forward;
// remarking a terminal page with a different outcome is an error.
func (s *Store) MarkPage(rec *Record, page document.PageRecord) error {
	if page.Index < 0 || page.Index >= rec.TotalPages {
		return fmt.Errorf("checkpoint: page index %d out of range [0,%d)", page.Index, rec.TotalPages)
	}
	now := time.Now().UTC()
	page.UpdatedAt = now
	if i := rec.pageAt(page.Index); i >= 0 {
		if prev := rec.Pages[i].Outcome; !prev.CanBecome(page.Outcome) {
			return fmt.Errorf("checkpoint: page %d cannot move %s -> %s", page.Index, prev, page.Outcome)
		}
		rec.Pages[i] = page
	} else {
		rec.Pages = append(rec.Pages, page)
		sort.Slice(rec.Pages, func(a, b int) bool { return rec.Pages[a].Index < rec.Pages[b].Index })
	}
	rec.UpdatedAt = now
	return s.Save(rec)
}

// Delete removes the checkpoint for inputPath. Called after a successful
// run unless the document opted into retention. Missing files are fine.
func (s *Store) Delete(inputPath string) error {
	if err := os.Remove(s.Path(inputPath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// CleanupStale deletes checkpoint files not touched within maxAge and
// returns how many were removed. Zero or negative maxAge means DefaultMaxAge.
func (s *Store) CleanupStale(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("scan checkpoint dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if os.Remove(filepath.Join(s.dir, e.Name())) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.log.Info("stale checkpoints removed", observability.Int("count", removed))
	}
	return removed, nil
}

// Digest fingerprints a source file: BLAKE2b-256 over the first 1 MiB, the
// last 1 MiB when the file exceeds 2 MiB, and the decimal file size.
// Detects a changed source between runs without hashing gigabyte scans.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}

	const chunk = 1 << 20
	h, _ := blake2b.New256(nil)
	if _, err := io.CopyN(h, f, chunk); err != nil && err != io.EOF {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	if info.Size() > 2*chunk {
		if _, err := f.Seek(-chunk, io.SeekEnd); err != nil {
			return "", fmt.Errorf("digest %s: %w", path, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("digest %s: %w", path, err)
		}
	}
	io.WriteString(h, strconv.FormatInt(info.Size(), 10))
	return hex.EncodeToString(h.Sum(nil)), nil
}
