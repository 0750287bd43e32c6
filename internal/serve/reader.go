// Whole-file read path: open, stat, materialize, transform, compress,
// admit to cache, emit. Large files and range requests hand the open
// file over to the stream pump instead.
//
// Every blocking step is followed by an aborted re-check; a request that
// disconnected mid-read releases the handle and emits nothing.
package serve

import (
	"io"
	"os"

	"github.com/velox-web/velox/internal/httpio"
)

func (h *Handler) serveFile(res httpio.ResponseWriter, st *requestState, abs, mediaType string, enc Encoding) {
	f, err := os.Open(abs)
	if err != nil {
		if st.aborted.Load() {
			return
		}
		if isNotFound(err) {
			h.opts.NotFound(res)
		} else {
			h.opts.InternalError(res, err)
		}
		return
	}
	if st.aborted.Load() {
		_ = f.Close()
		return
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		if !st.aborted.Load() {
			h.opts.InternalError(res, err)
		}
		return
	}
	if st.aborted.Load() {
		_ = f.Close()
		return
	}
	if info.IsDir() {
		_ = f.Close()
		h.opts.NotFound(res)
		return
	}

	size := info.Size()
	if size < h.opts.MinCompressSize {
		enc = EncIdentity
	}

	// Range requests and big files never fully buffer. Ownership of the
	// handle transfers to the pump, which releases it on all exits.
	if st.rangeHeader != "" || size >= h.opts.MinStreamSize {
		h.pump(res, st, f, info, enc, mediaType)
		return
	}

	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		if !st.aborted.Load() {
			h.opts.InternalError(res, err)
		}
		return
	}
	if st.aborted.Load() {
		return
	}

	a := &Artifact{
		Path:     abs,
		MTime:    info.ModTime(),
		Size:     size,
		Bytes:    data,
		Encoding: enc,
		Type:     mediaType,
	}

	if h.opts.Transform != nil {
		if err := h.opts.Transform(a); err != nil {
			if !st.aborted.Load() {
				h.opts.InternalError(res, err)
			}
			return
		}
		if st.aborted.Load() {
			return
		}
	}

	if enc != EncIdentity {
		b, err := compressBytes(enc, a.Bytes)
		if err != nil {
			if !st.aborted.Load() {
				h.opts.InternalError(res, err)
			}
			return
		}
		a.Bytes = b
		if st.aborted.Load() {
			return
		}
	}

	if !h.opts.NoCache && size < h.opts.MaxCacheSize {
		h.cache.put(a)
	}

	if st.aborted.Load() {
		return
	}
	h.emitWhole(res, a)
}
