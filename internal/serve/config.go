package serve

import (
	"github.com/velox-web/velox/internal/httpio"
)

// Default thresholds, in bytes.
const (
	defaultMinStreamSize   = 3 << 20 // files at or above this stream, never fully buffer
	defaultMaxCacheSize    = 1 << 20 // files at or above this are not admitted to cache
	defaultMinCompressSize = 1280    // files below this are never compressed
)

// Options configures a Handler. The zero value selects the documented
// defaults.
type Options struct {
	// Base is the URL prefix consumed before path resolution begins.
	// Empty by default.
	Base string

	// IndexOff disables index resolution for extensionless URLs.
	IndexOff bool

	// Index replaces the built-in index resolver for extensionless URLs.
	// nil selects the default resolver (index.html / .html siblings, with
	// a 301 to the physical location).
	Index IndexFunc

	// Secure widens the default compression preference list to include
	// brotli, which is only worth offering on TLS deployments.
	Secure bool

	// Compressions is the ordered server preference list. nil selects
	// [EncBrotli, EncGzip] when Secure, [EncGzip] otherwise.
	Compressions []Encoding

	// NoLastModified suppresses the Last-Modified header.
	NoLastModified bool

	// NoETag suppresses the ETag header.
	NoETag bool

	// NoCache disables the artifact and index-rewrite caches.
	NoCache bool

	// MinStreamSize, MaxCacheSize and MinCompressSize override the
	// default thresholds when positive.
	MinStreamSize   int64
	MaxCacheSize    int64
	MinCompressSize int64

	// NotFound replaces the default 404 emitter.
	NotFound func(res httpio.ResponseWriter)

	// InternalError replaces the default 500 emitter.
	InternalError func(res httpio.ResponseWriter, err error)

	// Transform, when set, sees every fully materialized body before
	// compression and may mutate Bytes and Type.
	Transform func(a *Artifact) error
}

// withDefaults returns a copy of o with zero values replaced by defaults.
func (o Options) withDefaults() Options {
	if o.Compressions == nil {
		if o.Secure {
			o.Compressions = []Encoding{EncBrotli, EncGzip}
		} else {
			o.Compressions = []Encoding{EncGzip}
		}
	}
	if o.MinStreamSize <= 0 {
		o.MinStreamSize = defaultMinStreamSize
	}
	if o.MaxCacheSize <= 0 {
		o.MaxCacheSize = defaultMaxCacheSize
	}
	if o.MinCompressSize <= 0 {
		o.MinCompressSize = defaultMinCompressSize
	}
	if o.NotFound == nil {
		o.NotFound = notFound
	}
	if o.InternalError == nil {
		o.InternalError = internalError
	}
	return o
}

// IndexFunc resolves an extensionless URL. fallback is the handler's
// built-in resolver so a custom function can delegate to it; root is the
// absolute filesystem root.
type IndexFunc func(res httpio.ResponseWriter, req httpio.Request, fallback IndexFunc, root string) IndexOutcome

// IndexOutcome is the result of index resolution. The zero value means
// "nothing resolved": the dispatcher emits a 404.
type IndexOutcome struct {
	kind    indexKind
	rewrite string
	deferFn func() IndexOutcome
}

type indexKind uint8

const (
	indexNone indexKind = iota
	indexDone
	indexServeAsIs
	indexRewrite
	indexDefer
)

// IndexDone signals that the index function already completed the
// response; the dispatcher does nothing further.
func IndexDone() IndexOutcome { return IndexOutcome{kind: indexDone} }

// IndexServeAsIs skips index logic and serves the URL unchanged.
func IndexServeAsIs() IndexOutcome { return IndexOutcome{kind: indexServeAsIs} }

// IndexRewrite serves path instead of the requested URL. The path is
// re-validated against the root before any file is opened.
func IndexRewrite(path string) IndexOutcome {
	return IndexOutcome{kind: indexRewrite, rewrite: path}
}

// IndexDefer resolves the outcome later; fn is evaluated until it yields
// a non-deferred terminal.
func IndexDefer(fn func() IndexOutcome) IndexOutcome {
	return IndexOutcome{kind: indexDefer, deferFn: fn}
}
