// Package task owns the lifecycle of submitted documents. A Manager keeps
// an explicit registry of running jobs keyed by opaque handles; each job
// moves Pending -> Processing -> Completed, CompletedWithWarnings or
// Failed, and leaves one line in the run ledger. There is no package-level
// state: every job belongs to exactly one Manager.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/ocrkit/admit"
	"github.com/wudi/ocrkit/checkpoint"
	"github.com/wudi/ocrkit/compose"
	"github.com/wudi/ocrkit/document"
	"github.com/wudi/ocrkit/observability"
	"github.com/wudi/ocrkit/ocr"
	"github.com/wudi/ocrkit/pipeline"
	"github.com/wudi/ocrkit/verify"
)

// ErrUnknownHandle means the handle refers to no registered job: it never
// existed, or its report was already collected by Wait.
var ErrUnknownHandle = errors.New("task: unknown job handle")

// DefaultEventBuffer is the progress channel capacity per job. Once full,
// further events are dropped rather than slowing the pipeline.
const DefaultEventBuffer = 64

const ledgerName = "runs.jsonl"

// Handle identifies one submitted job.
type Handle string

// Config wires a Manager's collaborators. Store, Renderer and Engine are
// required.
type Config struct {
	Store    *checkpoint.Store
	Renderer pipeline.Renderer
	Engine   ocr.Engine
	// Admit is the optional page-skip predicate chain.
	Admit admit.Predicate
	Log   observability.Logger
	// Timeout bounds one page attempt; zero means pipeline.DefaultPageTimeout.
	Timeout time.Duration
	// EventBuffer sizes each job's progress channel; zero means
	// DefaultEventBuffer.
	EventBuffer int
	// ComposeOptions apply to every job's composer and to the verifier's
	// rebuild path.
	ComposeOptions []compose.Option
}

// Manager runs submitted documents and reports their terminal states.
type Manager struct {
	cfg      Config
	log      observability.Logger
	verifier *verify.Verifier

	mu   sync.Mutex
	jobs map[Handle]*job
}

type job struct {
	handle Handle
	doc    *document.Document
	events chan pipeline.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	state  document.State
	report Report
}

func (j *job) setState(s document.State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *job) currentState() document.State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *job) finish(rep Report) {
	j.mu.Lock()
	j.state = rep.State
	j.report = rep
	j.mu.Unlock()
	close(j.events)
	close(j.done)
}

// Report is a job's terminal account.
type Report struct {
	Handle   Handle
	State    document.State
	Summary  pipeline.Summary
	Warnings []document.CompositionWarning
	// Cause explains a Failed state.
	Cause    string
	Started  time.Time
	Finished time.Time
}

// NewManager builds a Manager from its required collaborators.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil || cfg.Renderer == nil || cfg.Engine == nil {
		return nil, fmt.Errorf("task: store, renderer and engine are required")
	}
	log := cfg.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	verifier, err := verify.New(cfg.Renderer,
		verify.WithLogger(log),
		verify.WithComposeOptions(cfg.ComposeOptions...))
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		log:      log,
		verifier: verifier,
		jobs:     make(map[Handle]*job),
	}, nil
}

// Submit registers a document and starts processing it. The returned handle
// feeds Progress, Cancel and Wait. Source problems surface as a Failed
// terminal state, not as a Submit error.
func (m *Manager) Submit(ctx context.Context, doc *document.Document) (Handle, error) {
	if doc == nil || doc.PageCount <= 0 {
		return "", fmt.Errorf("task: document with no pages")
	}
	buf := m.cfg.EventBuffer
	if buf <= 0 {
		buf = DefaultEventBuffer
	}
	jctx, cancel := context.WithCancel(ctx)
	j := &job{
		handle: Handle(uuid.NewString()),
		doc:    doc,
		events: make(chan pipeline.Event, buf),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  document.StatePending,
	}
	m.mu.Lock()
	m.jobs[j.handle] = j
	m.mu.Unlock()

	m.log.Info("job submitted",
		observability.String("handle", string(j.handle)),
		observability.String("input", doc.SourcePath),
		observability.Int("pages", doc.PageCount))
	go m.run(jctx, j)
	return j.handle, nil
}

// Progress returns the job's event stream. The channel closes when the job
// reaches a terminal state. Events are best-effort: a full channel drops
// them instead of stalling the pipeline.
func (m *Manager) Progress(h Handle) (<-chan pipeline.Event, error) {
	j, err := m.job(h)
	if err != nil {
		return nil, err
	}
	return j.events, nil
}

// Cancel asks the job to stop. Cancellation takes effect between page
// dispatches: in-flight pages finish and reach the checkpoint first.
func (m *Manager) Cancel(h Handle) error {
	j, err := m.job(h)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// State reports the job's current lifecycle state.
func (m *Manager) State(h Handle) (document.State, error) {
	j, err := m.job(h)
	if err != nil {
		return "", err
	}
	return j.currentState(), nil
}

// Wait blocks until the job is terminal, removes it from the registry and
// returns its report. A handle can be waited on once.
func (m *Manager) Wait(h Handle) (Report, error) {
	j, err := m.job(h)
	if err != nil {
		return Report{}, err
	}
	<-j.done
	m.mu.Lock()
	delete(m.jobs, h)
	m.mu.Unlock()
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.report, nil
}

// Jobs lists the handles currently registered.
func (m *Manager) Jobs() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, 0, len(m.jobs))
	for h := range m.jobs {
		out = append(out, h)
	}
	return out
}

func (m *Manager) job(h Handle) (*job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return j, nil
}

func (m *Manager) run(ctx context.Context, j *job) {
	started := time.Now().UTC()
	j.setState(document.StateProcessing)

	summary, warnings, err := m.process(ctx, j)

	rep := Report{
		Handle:   j.handle,
		Summary:  summary,
		Warnings: warnings,
		Started:  started,
		Finished: time.Now().UTC(),
	}
	switch {
	case err != nil:
		rep.State = document.StateFailed
		rep.Cause = err.Error()
		m.log.Error("job failed",
			observability.String("handle", string(j.handle)),
			observability.Error("err", err))
	case len(warnings) > 0:
		rep.State = document.StateCompletedWithWarnings
		m.log.Warn("job completed with warnings",
			observability.String("handle", string(j.handle)),
			observability.Int("warnings", len(warnings)))
	default:
		rep.State = document.StateCompleted
		m.log.Info("job completed",
			observability.String("handle", string(j.handle)),
			observability.String("output", j.doc.OutputPath))
	}

	m.appendLedger(rep, j.doc)
	j.finish(rep)
}

func (m *Manager) process(ctx context.Context, j *job) (pipeline.Summary, []document.CompositionWarning, error) {
	doc := j.doc
	var summary pipeline.Summary

	digest, err := checkpoint.Digest(doc.SourcePath)
	if err != nil {
		return summary, nil, fmt.Errorf("fingerprint source: %w", err)
	}
	rec, err := m.admitRecord(doc, digest)
	if err != nil {
		return summary, nil, err
	}

	composer, err := compose.New(doc.OutputPath, m.cfg.ComposeOptions...)
	if err != nil {
		return summary, nil, err
	}

	summary, err = pipeline.Run(ctx, doc, pipeline.Deps{
		Renderer: m.cfg.Renderer,
		Engine:   m.cfg.Engine,
		Store:    m.cfg.Store,
		Record:   rec,
		Sink:     composer,
		Admit:    m.cfg.Admit,
		Events:   j.events,
		Log:      m.log.With(observability.String("handle", string(j.handle))),
		Timeout:  m.cfg.Timeout,
	})
	if err != nil {
		return summary, nil, err
	}

	warnings, err := m.verifier.Verify(ctx, doc, summary.ComposedPages, rec)
	if err != nil {
		return summary, warnings, err
	}

	if !doc.KeepCheckpoint {
		if err := m.cfg.Store.Delete(doc.SourcePath); err != nil {
			m.log.Warn("checkpoint cleanup failed", observability.Error("err", err))
		}
	}
	return summary, warnings, nil
}

// admitRecord loads or creates the checkpoint for a document. A digest
// mismatch is fatal unless the caller forces a rerun; stale checkpoints are
// never silently resumed.
func (m *Manager) admitRecord(doc *document.Document, digest string) (*checkpoint.Record, error) {
	if doc.ForceRerun {
		if err := m.cfg.Store.Delete(doc.SourcePath); err != nil {
			return nil, fmt.Errorf("discard checkpoint: %w", err)
		}
		return m.cfg.Store.New(doc, digest), nil
	}
	if !doc.Resume {
		return m.cfg.Store.New(doc, digest), nil
	}
	rec, err := m.cfg.Store.Load(doc.SourcePath, digest)
	switch {
	case err == nil:
		if rec.TotalPages != doc.PageCount {
			return nil, fmt.Errorf("checkpoint covers %d pages, source has %d", rec.TotalPages, doc.PageCount)
		}
		// The stored word boxes are pixel coordinates at the checkpoint's
		// render resolution; the resumed run must keep it.
		if rec.DPI > 0 {
			doc.DPI = rec.DPI
		}
		done, skipped, _ := rec.Counts()
		m.log.Info("resuming from checkpoint",
			observability.String("input", doc.SourcePath),
			observability.Int("done", done),
			observability.Int("skipped", skipped))
		return rec, nil
	case errors.Is(err, checkpoint.ErrNotFound):
		return m.cfg.Store.New(doc, digest), nil
	default:
		return nil, err
	}
}

type ledgerEntry struct {
	Time         time.Time `json:"time"`
	Handle       string    `json:"handle"`
	Input        string    `json:"input"`
	Output       string    `json:"output,omitempty"`
	State        string    `json:"state"`
	Pages        int       `json:"pages"`
	Done         int       `json:"done"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Warnings     int       `json:"warnings"`
	Recognitions int       `json:"recognitions"`
	DurationMS   int64     `json:"duration_ms"`
	Cause        string    `json:"cause,omitempty"`
}

// appendLedger adds one JSONL line per finished document under the
// checkpoint directory. Ledger problems are logged, never fatal.
func (m *Manager) appendLedger(rep Report, doc *document.Document) {
	entry := ledgerEntry{
		Time:         rep.Finished,
		Handle:       string(rep.Handle),
		Input:        doc.SourcePath,
		Output:       doc.OutputPath,
		State:        string(rep.State),
		Pages:        doc.PageCount,
		Done:         rep.Summary.Done,
		Skipped:      rep.Summary.Skipped,
		Failed:       rep.Summary.Failed,
		Warnings:     len(rep.Warnings),
		Recognitions: rep.Summary.Recognitions,
		DurationMS:   rep.Finished.Sub(rep.Started).Milliseconds(),
		Cause:        rep.Cause,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		m.log.Warn("ledger encode failed", observability.Error("err", err))
		return
	}
	path := filepath.Join(m.cfg.Store.Dir(), ledgerName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.log.Warn("ledger open failed", observability.Error("err", err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		m.log.Warn("ledger write failed", observability.Error("err", err))
	}
}

// LedgerPath returns the run ledger location for a checkpoint store.
func LedgerPath(store *checkpoint.Store) string {
	return filepath.Join(store.Dir(), ledgerName)
}
