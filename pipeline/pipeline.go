// Package pipeline drives the per-page work of one document run: render,
// admit, recognize, checkpoint, compose. Pages are processed by a bounded
// worker pool and released to the composer in strict ascending index order,
// whatever order the workers finish in.
package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/ocrkit/admit"
	"github.com/wudi/ocrkit/checkpoint"
	"github.com/wudi/ocrkit/document"
	"github.com/wudi/ocrkit/observability"
	"github.com/wudi/ocrkit/ocr"
	"github.com/wudi/ocrkit/render"
)

// DefaultPageTimeout bounds one page attempt end to end: render, admission
// facts, recognition. A page exceeding it is marked Failed; the document
// keeps going.
const DefaultPageTimeout = 2 * time.Minute

// Renderer rasterizes one page of the source document. *render.Renderer
// satisfies it.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int) ([]byte, error)
}

// Sink receives composed pages in ascending index order and writes the
// output document on Finish. *compose.Composer satisfies it.
type Sink interface {
	Append(pageIndex, dpi int, pageImage []byte, result *ocr.Result) error
	Finish() (int, error)
}

// Event is one page-level progress notice. Events are delivered with a
// non-blocking send: a slow or absent observer drops events, it never
// stalls page processing.
type Event struct {
	Page    int
	Total   int
	Outcome document.Outcome
	Cause   string
	Elapsed time.Duration
}

// Deps wires the pipeline's collaborators. Renderer, Engine, Store, Record
// and Sink are required.
type Deps struct {
	Renderer Renderer
	Engine   ocr.Engine
	Store    *checkpoint.Store
	// Record is the loaded or freshly created checkpoint for this document.
	// The pipeline is its single mutating owner for the duration of the run.
	Record *checkpoint.Record
	Sink   Sink
	// Admit decides which rendered pages skip recognition. Nil admits every
	// page.
	Admit admit.Predicate
	// Events receives page progress. Nil disables reporting.
	Events chan<- Event
	Log    observability.Logger
	// Timeout bounds one page attempt. Zero means DefaultPageTimeout.
	Timeout time.Duration
}

// Summary reports what one run did.
type Summary struct {
	// Done, Skipped and Failed count the document's final per-page outcomes,
	// including pages restored from the checkpoint.
	Done    int
	Skipped int
	Failed  int
	// Retried lists pages whose worker crashed once and were attempted again.
	Retried []int
	// Recognitions counts recognition calls made by this run. Pages restored
	// from the checkpoint make none.
	Recognitions int
	// Texts holds recognized plain text per page index, for export.
	Texts map[int]string
	// ComposedPages is how many pages the sink wrote. Zero when the run was
	// canceled before composition finished.
	ComposedPages int
	// MissingPages lists pages that could not be composed because their
	// image never rendered. The verifier restores them.
	MissingPages  []int
	DroppedEvents int
	Duration      time.Duration
}

// completion is one page's finished work traveling from a worker to the
// emitter.
type completion struct {
	page    document.PageRecord
	image   []byte
	dpi     int
	result  *ocr.Result
	elapsed time.Duration
	// replay marks a page restored from the checkpoint; it is composed but
	// not checkpointed or counted again.
	replay  bool
	retried bool
}

type run struct {
	doc     *document.Document
	deps    Deps
	log     observability.Logger
	timeout time.Duration

	// initial snapshots the checkpoint's terminal pages before workers start,
	// so workers never read the record while the emitter writes it.
	initial map[int]document.PageRecord

	recognitions atomic.Int64

	// Owned by the emitter goroutine.
	texts   map[int]string
	retried []int
	missing []int
	dropped int
}

// Run processes one document: every page not already terminal in the
// checkpoint is rendered, admitted, recognized and checkpointed; terminal
// pages are restored from their stored results. All pages are handed to the
// sink in ascending order and the output is written once at the end.
//
// Cancellation is honored between page dispatches: in-flight pages finish
// and are checkpointed, then Run returns the cancellation cause without
// writing the output. A later resumed run picks up from the checkpoint.
func Run(ctx context.Context, doc *document.Document, deps Deps) (Summary, error) {
	start := time.Now()
	if err := validate(doc, deps); err != nil {
		return Summary{}, err
	}
	log := deps.Log
	if log == nil {
		log = observability.NopLogger{}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultPageTimeout
	}

	r := &run{
		doc:     doc,
		deps:    deps,
		log:     log,
		timeout: timeout,
		initial: make(map[int]document.PageRecord, len(deps.Record.Pages)),
		texts:   make(map[int]string),
	}
	for _, p := range deps.Record.Pages {
		if p.Outcome.Terminal() {
			r.initial[p.Index] = p
		}
	}
	log.Info("run started",
		observability.String("input", doc.SourcePath),
		observability.Int("pages", doc.PageCount),
		observability.Int("restored", len(r.initial)),
		observability.Int("workers", clampWorkers(doc.Workers)))

	comps := make(chan completion)
	emitDone := make(chan error, 1)
	go func() { emitDone <- r.emit(comps) }()

	var g errgroup.Group
	g.SetLimit(clampWorkers(doc.Workers))

	var canceled error
	for index := 0; index < doc.PageCount; index++ {
		// Cancellation takes effect between dispatches only.
		if err := ctx.Err(); err != nil {
			canceled = err
			break
		}
		restored, isReplay := r.initial[index]
		g.Go(func() error {
			if isReplay {
				comps <- r.replay(ctx, restored)
			} else {
				comps <- r.page(ctx, index)
			}
			return nil
		})
	}
	g.Wait()
	close(comps)
	err := <-emitDone

	summary := r.summary(time.Since(start))
	if canceled != nil {
		log.Warn("run canceled",
			observability.String("input", doc.SourcePath),
			observability.Int("done", summary.Done))
		return summary, fmt.Errorf("run canceled: %w", canceled)
	}
	if err != nil {
		return summary, err
	}

	composed, err := deps.Sink.Finish()
	if err != nil {
		return summary, fmt.Errorf("write output: %w", err)
	}
	summary.ComposedPages = composed
	summary.Duration = time.Since(start)
	log.Info("run finished",
		observability.String("input", doc.SourcePath),
		observability.Int("done", summary.Done),
		observability.Int("skipped", summary.Skipped),
		observability.Int("failed", summary.Failed),
		observability.Int("composed", composed),
		observability.Duration("elapsed", summary.Duration))
	return summary, nil
}

func validate(doc *document.Document, deps Deps) error {
	switch {
	case doc == nil || doc.PageCount <= 0:
		return fmt.Errorf("pipeline: document with no pages")
	case deps.Renderer == nil:
		return fmt.Errorf("pipeline: nil renderer")
	case deps.Engine == nil:
		return fmt.Errorf("pipeline: nil engine")
	case deps.Store == nil || deps.Record == nil:
		return fmt.Errorf("pipeline: nil checkpoint store or record")
	case deps.Sink == nil:
		return fmt.Errorf("pipeline: nil sink")
	case deps.Record.TotalPages != doc.PageCount:
		return fmt.Errorf("pipeline: checkpoint covers %d pages, document has %d",
			deps.Record.TotalPages, doc.PageCount)
	}
	return nil
}

func clampWorkers(n int) int {
	if n < 1 {
		n = 1
	}
	if cpus := runtime.NumCPU(); n > cpus {
		n = cpus
	}
	return n
}

// page runs one pending page with crash protection. A panicking attempt is
// retried exactly once; a second crash marks the page Failed for good.
func (r *run) page(parent context.Context, index int) completion {
	comp, crashed := r.attempt(parent, index)
	if !crashed {
		return comp
	}
	r.log.Warn("page worker crashed, retrying once",
		observability.Int("page", index),
		observability.String("cause", comp.page.Cause))
	comp, _ = r.attempt(parent, index)
	comp.retried = true
	return comp
}

// attempt runs one page end to end under its own detached deadline. The
// context is cut loose from the run's cancellation so an in-flight page
// finishes and reaches the checkpoint even when the run is being stopped.
func (r *run) attempt(parent context.Context, index int) (comp completion, crashed bool) {
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			comp = completion{page: document.PageRecord{
				Index:   index,
				Outcome: document.OutcomeFailed,
				Cause:   fmt.Sprintf("worker crashed: %v", v),
			}}
			crashed = true
		}
		comp.elapsed = time.Since(start)
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()
	comp = r.processPage(ctx, index)
	return comp, false
}

func (r *run) processPage(ctx context.Context, index int) completion {
	dim := r.doc.Dim(index)
	dpi := render.ClampDPI(r.doc.DPI, dim.Width, dim.Height)

	img, err := r.deps.Renderer.RenderPage(ctx, r.doc.SourcePath, index, dpi)
	if err != nil {
		return completion{
			page: document.PageRecord{
				Index:   index,
				Outcome: document.OutcomeFailed,
				Cause:   fmt.Sprintf("render: %v", err),
			},
			dpi: dpi,
		}
	}

	if skip, reason := r.admitPage(ctx, index, dim, img); skip {
		return completion{
			page: document.PageRecord{
				Index:   index,
				Outcome: document.OutcomeSkipped,
				Cause:   reason,
			},
			image: img,
			dpi:   dpi,
		}
	}

	input := ocr.PageInput(index, img, ocr.ImageFormatPNG,
		ocr.WithDPI(dpi),
		ocr.WithLanguages(r.doc.Languages...),
		ocr.WithProfile(r.doc.Profile))
	r.recognitions.Add(1)
	res, err := r.deps.Engine.Recognize(ctx, input)
	if err != nil {
		// Recognition errors are final for the page. The rendered image is
		// kept so the page still ships, just without a text layer.
		return completion{
			page: document.PageRecord{
				Index:   index,
				Outcome: document.OutcomeFailed,
				Cause:   fmt.Sprintf("recognize: %v", err),
			},
			image: img,
			dpi:   dpi,
		}
	}

	return completion{
		page: document.PageRecord{
			Index:     index,
			Outcome:   document.OutcomeDone,
			TextBytes: res.TextLen(),
			Text:      res.PlainText,
			Words:     document.WordRecords(res.Words()),
		},
		image:  img,
		dpi:    dpi,
		result: &res,
	}
}

// admitPage evaluates the skip predicate, computing only the facts its
// Needs declare. Predicate errors keep the page in: skipping is an
// optimization, never worth failing a page over.
func (r *run) admitPage(ctx context.Context, index int, dim document.Dim, img []byte) (bool, string) {
	if r.deps.Admit == nil {
		return false, ""
	}
	page := admit.Page{Index: index, Width: dim.Width, Height: dim.Height}
	needs := r.deps.Admit.Needs()
	if needs.TextBytes {
		n, err := admit.TextBytes(r.doc.SourcePath, index)
		if err != nil {
			r.log.Warn("text layer probe failed",
				observability.Int("page", index), observability.Error("err", err))
		} else {
			page.TextBytes = n
		}
	}
	if needs.Gradient {
		g, err := render.PageGradient(img)
		if err != nil {
			r.log.Warn("gradient probe failed",
				observability.Int("page", index), observability.Error("err", err))
		} else {
			page.Gradient = g
			page.Blank = g < render.DefaultBlankThreshold
		}
	}
	skip, reason, err := r.deps.Admit.Skip(ctx, page)
	if err != nil {
		r.log.Warn("admission predicate failed, page stays in",
			observability.Int("page", index), observability.Error("err", err))
		return false, ""
	}
	return skip, reason
}

// replay restores a page that an earlier run already finished: the image is
// rendered again at the same clamped DPI and the text layer comes from the
// stored recognition words. No recognition call is made.
func (r *run) replay(parent context.Context, page document.PageRecord) completion {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	dim := r.doc.Dim(page.Index)
	dpi := render.ClampDPI(r.doc.DPI, dim.Width, dim.Height)
	img, err := r.deps.Renderer.RenderPage(ctx, r.doc.SourcePath, page.Index, dpi)
	if err != nil {
		// Leave the image out; the verifier substitutes the page afterwards.
		r.log.Warn("re-render of checkpointed page failed",
			observability.Int("page", page.Index), observability.Error("err", err))
		img = nil
	}
	return completion{
		page:    page,
		image:   img,
		dpi:     dpi,
		result:  page.Result(),
		elapsed: time.Since(start),
		replay:  true,
	}
}

// emit is the single consumer of worker completions. It checkpoints and
// reports each page as it arrives, holds completions in a reorder buffer,
// and releases them to the sink strictly by ascending page index. On a
// fatal error (checkpoint or sink write) it keeps draining the channel so
// workers never block, and returns the first error.
func (r *run) emit(comps <-chan completion) error {
	var fatal error
	buffer := make(map[int]completion)
	next := 0

	for comp := range comps {
		if !comp.replay {
			if comp.retried {
				r.retried = append(r.retried, comp.page.Index)
			}
			// Checkpoint even after a fatal sink error: finished recognition
			// work must survive for the next resume.
			if err := r.deps.Store.MarkPage(r.deps.Record, comp.page); err != nil && fatal == nil {
				fatal = fmt.Errorf("checkpoint page %d: %w", comp.page.Index, err)
			}
		}
		r.sendEvent(Event{
			Page:    comp.page.Index,
			Total:   r.doc.PageCount,
			Outcome: comp.page.Outcome,
			Cause:   comp.page.Cause,
			Elapsed: comp.elapsed,
		})

		buffer[comp.page.Index] = comp
		for {
			c, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)
			if fatal == nil {
				if err := r.release(c); err != nil {
					fatal = err
				}
			}
			next++
		}
	}
	return fatal
}

// release hands one page to the sink in order.
func (r *run) release(comp completion) error {
	if comp.page.Text != "" {
		r.texts[comp.page.Index] = comp.page.Text
	}
	if comp.image == nil {
		// Render failed; there is nothing to compose. The verifier restores
		// the page afterwards so the output never silently shrinks.
		r.missing = append(r.missing, comp.page.Index)
		return nil
	}
	if err := r.deps.Sink.Append(comp.page.Index, comp.dpi, comp.image, comp.result); err != nil {
		return fmt.Errorf("compose page %d: %w", comp.page.Index, err)
	}
	return nil
}

func (r *run) sendEvent(e Event) {
	if r.deps.Events == nil {
		return
	}
	select {
	case r.deps.Events <- e:
	default:
		r.dropped++
	}
}

func (r *run) summary(elapsed time.Duration) Summary {
	done, skipped, failed := r.deps.Record.Counts()
	return Summary{
		Done:          done,
		Skipped:       skipped,
		Failed:        failed,
		Retried:       r.retried,
		Recognitions:  int(r.recognitions.Load()),
		Texts:         r.texts,
		MissingPages:  r.missing,
		DroppedEvents: r.dropped,
		Duration:      elapsed,
	}
}
