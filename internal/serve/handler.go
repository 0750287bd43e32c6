// Package serve implements a high-throughput static-file serving core:
// a request handler that maps URL paths to files under a configured root
// and writes them to a non-blocking HTTP writer with compression
// negotiation, in-memory caching of compressed artifacts, byte-range
// support, and explicit streaming backpressure.
//
// The handler is transport-agnostic: it talks to the embedding HTTP
// server only through the httpio contracts. One Handler instance may
// serve many concurrent requests; its caches are safe for concurrent
// use and are never shared across instances.
package serve

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/velox-web/velox/internal/httpio"
	"github.com/velox-web/velox/internal/mimetype"
)

// Handler serves files from a single root directory.
type Handler struct {
	opts      Options
	root      string // absolute, cleaned
	cache     artifactCache
	indexMemo sync.Map // pre-strip decoded URL → rewrite target
}

// New creates a Handler serving the subtree rooted at folder. folder is
// resolved to an absolute path once; everything outside it is invisible.
func New(folder string, opts Options) (*Handler, error) {
	root, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", folder, err)
	}
	return &Handler{opts: opts.withDefaults(), root: filepath.Clean(root)}, nil
}

// Root returns the absolute filesystem root.
func (h *Handler) Root() string { return h.root }

// requestState is the per-request pipeline state. It is owned by one
// handler invocation; only the aborted flag and the abort hook are shared
// with the writer's abort callback.
type requestState struct {
	url            string // decoded, base-stripped, leading slash intact
	ext            string // lowercase, no dot, possibly empty
	accept         string
	acceptEncoding string
	rangeHeader    string

	aborted   atomic.Bool
	mu        sync.Mutex
	abortHook func()
}

// abort is installed as the writer's OnAborted callback.
func (st *requestState) abort() {
	st.aborted.Store(true)
	st.mu.Lock()
	fn := st.abortHook
	st.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// setAbortHook registers cleanup to run on client disconnect. Returns
// true without registering when the request is already aborted.
func (st *requestState) setAbortHook(fn func()) (aborted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.aborted.Load() {
		return true
	}
	st.abortHook = fn
	return false
}

// decodeURL strips the base prefix and percent-decodes the request
// target, keeping the leading slash intact.
func (h *Handler) decodeURL(req httpio.Request) string {
	raw := req.GetURL()
	if h.opts.Base != "" {
		raw = strings.TrimPrefix(raw, h.opts.Base)
	}
	if raw == "" || raw[0] != '/' {
		raw = "/" + raw
	}
	if u, err := url.PathUnescape(raw); err == nil {
		return u
	}
	return raw
}

// urlExt returns the lowercased extension of a URL's final segment,
// without the dot; "" when the segment has no dot.
func urlExt(u string) string {
	seg := u[strings.LastIndexByte(u, '/')+1:]
	if i := strings.LastIndexByte(seg, '.'); i >= 0 {
		return strings.ToLower(seg[i+1:])
	}
	return ""
}

// Serve handles one request. It returns when the response has been
// finalized or the client has disconnected.
func (h *Handler) Serve(res httpio.ResponseWriter, req httpio.Request) {
	st := &requestState{
		url:            h.decodeURL(req),
		accept:         req.GetHeader("Accept"),
		acceptEncoding: req.GetHeader("Accept-Encoding"),
		rangeHeader:    req.GetHeader("Range"),
	}
	st.ext = urlExt(st.url)
	res.OnAborted(st.abort)

	if st.ext == "" && !h.opts.IndexOff {
		fn := h.opts.Index
		if fn == nil {
			fn = h.defaultIndex
		}
		out := fn(res, req, h.defaultIndex, h.root)
		for out.kind == indexDefer {
			out = out.deferFn()
		}
		switch out.kind {
		case indexDone:
			return
		case indexServeAsIs:
			h.serveURL(res, st, st.url)
		case indexRewrite:
			h.serveURL(res, st, out.rewrite)
		default:
			if !st.aborted.Load() {
				h.opts.NotFound(res)
			}
		}
		return
	}
	h.serveURL(res, st, st.url)
}

// serveURL resolves u under the root and serves it: cache hit, whole
// file, or stream pump. u may be a rewrite and is re-validated for
// containment.
func (h *Handler) serveURL(res httpio.ResponseWriter, st *requestState, u string) {
	abs, ok := h.locate(u)
	if !ok {
		if !st.aborted.Load() {
			h.opts.NotFound(res)
		}
		return
	}
	mediaType, _ := mimetype.TypeByExtension(urlExt(u))
	enc := chooseEncoding(st.acceptEncoding, h.opts.Compressions, mediaType)
	if st.rangeHeader != "" {
		// Range offsets describe the identity representation; a 206 body
		// must be exactly end-start+1 raw bytes.
		enc = EncIdentity
	}
	if !h.opts.NoCache && st.rangeHeader == "" {
		if a, hit := h.cache.get(abs, enc); hit {
			if st.aborted.Load() {
				return
			}
			h.emitWhole(res, a)
			return
		}
	}
	h.serveFile(res, st, abs, mediaType, enc)
}
