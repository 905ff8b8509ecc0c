package ocr

// Package ocr defines the recognition seam between the page pipeline and
// third-party OCR engines (for example, Tesseract in-process or as a
// subprocess). The interfaces are intentionally small and transport-agnostic
// so engines can be backed by native libraries, local binaries, or remote
// APIs without leaking provider-specific concerns into callers.
