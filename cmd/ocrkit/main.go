// Command ocrkit adds a searchable text layer to a scanned PDF. One input
// path becomes one output path with the _ocr suffix; interrupted runs resume
// from their checkpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/wudi/ocrkit/admit"
	"github.com/wudi/ocrkit/checkpoint"
	"github.com/wudi/ocrkit/compose"
	"github.com/wudi/ocrkit/document"
	"github.com/wudi/ocrkit/execx"
	"github.com/wudi/ocrkit/export"
	"github.com/wudi/ocrkit/observability"
	"github.com/wudi/ocrkit/ocr"
	_ "github.com/wudi/ocrkit/ocr/tesseract"
	_ "github.com/wudi/ocrkit/ocr/tessexec"
	"github.com/wudi/ocrkit/render"
	"github.com/wudi/ocrkit/task"
	"github.com/wudi/ocrkit/variants"
)

type options struct {
	pdfPath        string
	outputPath     string
	dpi            int
	profile        ocr.Profile
	workers        int
	languages      []string
	engine         string
	resume         bool
	forceRerun     bool
	keepCheckpoint bool
	checkpointDir  string
	timeout        time.Duration

	skipTextPages  bool
	skipBlankPages bool
	skipScript     string

	minConfidence float64
	variantsPath  string
	dupVariants   bool

	exportFormat export.Format
	exportPath   string

	optimize bool
	pdftoppm string
	verbose  bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ocrkit: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "ocrkit: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: ocrkit [flags] <pdf>\n")
		flag.PrintDefaults()
	}
	output := flag.String("output", "", "Output path (default: input with _ocr suffix)")
	dpi := flag.Int("dpi", document.DefaultDPI, "Render resolution; lowered per page when a page would exceed the pixel cap")
	profile := flag.String("profile", "balanced", "Recognition profile: fast, balanced or precise")
	workers := flag.Int("workers", document.DefaultWorkers, "Concurrent page workers")
	lang := flag.String("lang", "eng", "Recognition languages, comma separated")
	engine := flag.String("engine", "tesseract", "OCR engine: "+strings.Join(ocr.Engines(), ", "))
	resume := flag.Bool("resume", true, "Resume from a matching checkpoint")
	forceRerun := flag.Bool("force-rerun", false, "Discard any checkpoint and process every page")
	keepCheckpoint := flag.Bool("keep-checkpoint", false, "Keep the checkpoint file after a successful run")
	checkpointDir := flag.String("checkpoint-dir", "", "Checkpoint directory (default: ~/.ocrkit/checkpoints)")
	timeout := flag.Duration("timeout", 0, "Per-page time limit (default 2m)")
	skipText := flag.Bool("skip-text-pages", false, "Skip pages that already carry a text layer")
	skipBlank := flag.Bool("skip-blank-pages", false, "Skip pages whose rendered bitmap is blank")
	skipScript := flag.String("skip-script", "", "JavaScript page-skip expression file")
	minConf := flag.Float64("min-confidence", 0, "Drop recognized words below this confidence (0..1)")
	variantsPath := flag.String("variants", "", "Character variant table file (default: embedded table)")
	dupVariants := flag.Bool("duplicate-variants", true, "Duplicate text runs containing variant characters in canonical form")
	exportFormat := flag.String("export", "", "Also export recognized text: txt, md or html")
	exportPath := flag.String("export-path", "", "Export location (default: output path with the export extension)")
	optimize := flag.Bool("optimize", false, "Run a pdfcpu optimization pass over the finished output")
	pdftoppm := flag.String("pdftoppm", "", "pdftoppm binary (default: from PATH)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return options{}, fmt.Errorf("missing pdf path")
	}
	opts.pdfPath = flag.Arg(0)
	opts.outputPath = *output
	opts.dpi = *dpi
	opts.workers = *workers
	opts.engine = *engine
	opts.resume = *resume
	opts.forceRerun = *forceRerun
	opts.keepCheckpoint = *keepCheckpoint
	opts.checkpointDir = *checkpointDir
	opts.timeout = *timeout
	opts.skipTextPages = *skipText
	opts.skipBlankPages = *skipBlank
	opts.skipScript = *skipScript
	opts.minConfidence = *minConf
	opts.variantsPath = *variantsPath
	opts.dupVariants = *dupVariants
	opts.exportPath = *exportPath
	opts.optimize = *optimize
	opts.pdftoppm = *pdftoppm
	opts.verbose = *verbose

	p, err := ocr.ParseProfile(*profile)
	if err != nil {
		return options{}, err
	}
	opts.profile = p

	for _, l := range strings.Split(*lang, ",") {
		if l = strings.TrimSpace(l); l != "" {
			opts.languages = append(opts.languages, l)
		}
	}
	if len(opts.languages) == 0 {
		return options{}, fmt.Errorf("no recognition language given")
	}

	if *exportFormat != "" {
		f, err := export.ParseFormat(*exportFormat)
		if err != nil {
			return options{}, err
		}
		opts.exportFormat = f
	}
	if opts.minConfidence < 0 || opts.minConfidence > 1 {
		return options{}, fmt.Errorf("min-confidence must be within 0..1")
	}
	return opts, nil
}

func run(opts options) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := observability.NewTextLogger(level)

	doc, err := document.Open(opts.pdfPath,
		document.WithOutputPath(opts.outputPath),
		document.WithDPI(opts.dpi),
		document.WithProfile(opts.profile),
		document.WithWorkers(opts.workers),
		document.WithResume(opts.resume),
		document.WithForceRerun(opts.forceRerun),
		document.WithLanguages(opts.languages...),
		document.WithKeepCheckpoint(opts.keepCheckpoint),
	)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewStore(opts.checkpointDir, log)
	if err != nil {
		return err
	}
	engine, err := ocr.New(opts.engine)
	if err != nil {
		return err
	}
	predicate, err := buildPredicate(opts)
	if err != nil {
		return err
	}
	composeOpts, err := buildComposeOptions(opts)
	if err != nil {
		return err
	}

	renderOpts := []render.Option{render.WithLogger(log)}
	if opts.pdftoppm != "" {
		renderOpts = append(renderOpts, render.WithBinary(opts.pdftoppm))
	}
	renderer := render.New(execx.New(log), renderOpts...)

	manager, err := task.NewManager(task.Config{
		Store:          store,
		Renderer:       renderer,
		Engine:         engine,
		Admit:          predicate,
		Log:            log,
		Timeout:        opts.timeout,
		ComposeOptions: composeOpts,
	})
	if err != nil {
		return err
	}

	// Interrupts cancel between page dispatches; in-flight pages finish and
	// reach the checkpoint, so the next invocation resumes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := manager.Submit(ctx, doc)
	if err != nil {
		return err
	}
	events, err := manager.Progress(handle)
	if err != nil {
		return err
	}
	for e := range events {
		line := fmt.Sprintf("page %d/%d %s", e.Page+1, e.Total, e.Outcome)
		if e.Cause != "" {
			line += ": " + e.Cause
		}
		fmt.Fprintln(os.Stderr, line)
	}

	rep, err := manager.Wait(handle)
	if err != nil {
		return err
	}
	if rep.State == document.StateFailed {
		return fmt.Errorf("%s", rep.Cause)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if opts.optimize {
		if err := optimizeOutput(doc.OutputPath); err != nil {
			return err
		}
	}

	s := rep.Summary
	fmt.Printf("wrote %s: %d pages (%d recognized, %d skipped, %d failed) in %s\n",
		doc.OutputPath, doc.PageCount, s.Done, s.Skipped, s.Failed,
		rep.Finished.Sub(rep.Started).Round(time.Millisecond))

	if opts.exportFormat != "" {
		path := opts.exportPath
		if path == "" {
			path = export.PathFor(doc.OutputPath, opts.exportFormat)
		}
		pages := export.Pages{
			Title: filepath.Base(opts.pdfPath),
			Total: doc.PageCount,
			Texts: s.Texts,
		}
		if err := export.WriteFile(path, opts.exportFormat, pages); err != nil {
			return err
		}
		fmt.Printf("exported recognized text to %s\n", path)
	}

	// Housekeeping after the run so a resume never races its own checkpoint.
	if n, err := store.CleanupStale(0); err != nil {
		log.Warn("stale checkpoint cleanup failed", observability.Error("err", err))
	} else if n > 0 {
		log.Info("removed stale checkpoints", observability.Int("count", n))
	}
	return nil
}

// optimizeOutput squeezes the finished file through pdfcpu's optimizer,
// writing to a sibling and renaming over the output.
func optimizeOutput(path string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	tmp := path + ".opt"
	if err := api.OptimizeFile(path, tmp, cfg); err != nil {
		return fmt.Errorf("optimize output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("optimize output: %w", err)
	}
	return nil
}

func buildPredicate(opts options) (admit.Predicate, error) {
	var preds []admit.Predicate
	if opts.skipTextPages {
		preds = append(preds, admit.TextLayerPredicate{})
	}
	if opts.skipBlankPages {
		preds = append(preds, admit.BlankPagePredicate{})
	}
	if opts.skipScript != "" {
		src, err := os.ReadFile(opts.skipScript)
		if err != nil {
			return nil, fmt.Errorf("read skip script: %w", err)
		}
		p, err := admit.NewScriptPredicate(string(src))
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return admit.Chain(preds...), nil
}

func buildComposeOptions(opts options) ([]compose.Option, error) {
	var out []compose.Option
	if opts.minConfidence > 0 {
		out = append(out, compose.WithMinConfidence(opts.minConfidence))
	}
	if opts.variantsPath != "" {
		n, err := variants.Load(opts.variantsPath)
		if err != nil {
			return nil, err
		}
		out = append(out, compose.WithNormalizer(n))
	}
	out = append(out, compose.WithVariantDuplication(opts.dupVariants))
	return out, nil
}
