// Range parsing and the stream pump: coordinates the file read stream
// with the non-blocking writer.
//
// Two data strategies. With a known total (no compressor) each chunk
// goes through TryEnd; a partially accepted chunk pauses the stream and
// an OnWritable callback retries the unsent suffix, tracking how many
// bytes of the pending chunk the writer has taken via the cumulative
// write offset. With a streaming compressor the final length is unknown,
// so chunks go through Write and a full writer simply pauses the stream
// until one writable notification.
package serve

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/velox-web/velox/internal/httpio"
)

// parseRange parses a single byte-range header "bytes=<start>-<end>".
// The token before "bytes=" is assumed, matching the wire format this
// engine has always accepted: parsing starts at byte 6 and multi-range
// lists are not recognized. A missing or zero end means end of file; a
// missing start means a suffix of size-end-1.
func parseRange(header string, size int64) (start, end int64) {
	start, end = 0, size-1
	dash := strings.IndexByte(header, '-')
	if len(header) < 6 || dash < 6 {
		return start, end
	}
	if v, err := strconv.ParseInt(header[dash+1:], 10, 64); err == nil && v != 0 {
		end = v
	}
	if v, err := strconv.ParseInt(header[6:dash], 10, 64); err == nil {
		start = v
	} else {
		start = size - end - 1
	}
	return start, end
}

// pumpState is the mutable state shared between the stream goroutine
// and the writer's callbacks.
type pumpState struct {
	res    httpio.ResponseWriter
	st     *requestState
	stream *fileStream
	total  int64

	mu         sync.Mutex
	lastOffset int64  // write offset snapshot for the pending chunk
	pending    []byte // paused chunk, starting at the byte lastOffset marks
	comp       io.WriteCloser
	writerFull bool
	finished   bool
	done       chan struct{}
}

// pump streams f's byte range to the writer. It owns the handle from
// here on and releases it on every exit path. Blocks until the response
// is finalized or aborted.
func (h *Handler) pump(res httpio.ResponseWriter, st *requestState, f *os.File, info os.FileInfo, enc Encoding, mediaType string) {
	size := info.Size()
	start, end := int64(0), size-1
	ranged := st.rangeHeader != ""
	if ranged {
		start, end = parseRange(st.rangeHeader, size)
		if end >= size || start > end {
			_ = f.Close()
			if st.aborted.Load() {
				return
			}
			res.Cork(func() {
				res.WriteStatus("416 Range Not Satisfiable")
				res.WriteHeader("Content-Range", "bytes */"+strconv.FormatInt(size-1, 10))
				res.End([]byte("Range Not Satisfiable"))
			})
			return
		}
	}
	if st.aborted.Load() {
		_ = f.Close()
		return
	}

	// Status line and headers commit before any body chunk.
	res.Cork(func() {
		if ranged {
			res.WriteStatus("206 Partial Content")
		} else {
			res.WriteHeader("Accept-Ranges", "bytes")
		}
		if !h.opts.NoLastModified {
			res.WriteHeader("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
		}
		if !h.opts.NoETag {
			res.WriteHeader("ETag", etagFor(info.ModTime(), size, enc != EncIdentity))
		}
		if enc != EncIdentity {
			res.WriteHeader("Content-Encoding", enc.String())
		}
		if ranged {
			res.WriteHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		}
		if mediaType != "" {
			res.WriteHeader("Content-Type", mediaType)
		}
	})

	p := &pumpState{
		res:    res,
		st:     st,
		total:  end - start + 1,
		done:   make(chan struct{}),
		stream: newFileStream(f, start, end),
	}

	if enc == EncIdentity {
		p.stream.onData = p.sendKnownTotal
	} else {
		comp, err := newCompressor(enc, compressSink{p})
		if err != nil {
			// Headers are committed; nothing more can be said.
			p.stream.destroy()
			if !st.aborted.Load() {
				res.End(nil)
			}
			return
		}
		p.comp = comp
		p.stream.onData = p.sendCompressed
	}
	p.stream.onError = p.fail
	p.stream.onClose = p.finish

	if st.setAbortHook(p.abort) {
		p.stream.destroy()
		return
	}
	p.stream.begin()
	<-p.done
}

// completeLocked closes done exactly once. Caller holds p.mu.
func (p *pumpState) completeLocked() {
	if !p.finished {
		p.finished = true
		close(p.done)
	}
}

func (p *pumpState) complete() {
	p.mu.Lock()
	p.completeLocked()
	p.mu.Unlock()
}

// abort runs on client disconnect: tear the stream down and unblock the
// pump. No further writes touch the response.
func (p *pumpState) abort() {
	p.stream.destroy()
	p.complete()
}

// sendKnownTotal is the onData callback for the known-total strategy.
// Runs on the stream goroutine.
func (p *pumpState) sendKnownTotal(chunk []byte) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.lastOffset = p.res.GetWriteOffset()
	ok, done := p.res.TryEnd(chunk, p.total)
	if done {
		// The response is complete; the aborted flag suppresses any
		// late emission attempt further up the pipeline.
		p.st.aborted.Store(true)
		p.stream.destroy()
		p.completeLocked()
		p.mu.Unlock()
		return
	}
	if ok {
		p.mu.Unlock()
		return
	}
	// Writer full: park the unsent chunk and wait for drain.
	p.pending = chunk
	p.stream.pause()
	p.mu.Unlock()
	p.res.OnWritable(p.retry)
}

// retry re-attempts the parked chunk's unsent suffix. offset is the
// writer's cumulative accepted byte count, so offset-lastOffset is how
// much of pending has been taken since it was parked.
func (p *pumpState) retry(offset int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished || p.pending == nil {
		return true
	}
	sent := offset - p.lastOffset
	if sent < 0 || sent > int64(len(p.pending)) {
		return true
	}
	ok, done := p.res.TryEnd(p.pending[sent:], p.total)
	if done {
		p.pending = nil
		p.st.aborted.Store(true)
		p.stream.destroy()
		p.completeLocked()
		return true
	}
	if ok {
		p.pending = nil
		p.stream.resume()
		return true
	}
	// Still full: rebase the suffix on the current offset and ask to be
	// called again.
	now := p.res.GetWriteOffset()
	p.pending = p.pending[now-p.lastOffset:]
	p.lastOffset = now
	return false
}

// compressSink forwards compressor output to the writer and records
// backpressure for sendCompressed.
type compressSink struct{ p *pumpState }

func (cs compressSink) Write(b []byte) (int, error) {
	if !cs.p.res.Write(b) {
		cs.p.writerFull = true
	}
	return len(b), nil
}

// sendCompressed is the onData callback for the streaming-compressor
// strategy. Runs on the stream goroutine; writerFull is only touched
// here and in the sink it invokes.
func (p *pumpState) sendCompressed(chunk []byte) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.writerFull = false
	if _, err := p.comp.Write(chunk); err != nil {
		p.stream.destroy()
		if !p.st.aborted.Load() {
			p.res.End(nil)
		}
		p.completeLocked()
		p.mu.Unlock()
		return
	}
	if !p.writerFull {
		p.mu.Unlock()
		return
	}
	p.stream.pause()
	p.mu.Unlock()
	p.res.OnWritable(func(int64) bool {
		p.stream.resume()
		return true
	})
}

// finish handles natural stream close: flush the compressor if one is
// active, then finalize unless the response already completed or the
// client went away.
func (p *pumpState) finish() {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	if p.comp != nil {
		_ = p.comp.Close()
	}
	aborted := p.st.aborted.Load()
	p.completeLocked()
	p.mu.Unlock()
	if !aborted {
		p.res.End(nil)
	}
}

// fail handles a read error. Headers are committed by the time the
// stream runs, so no second status can be written; the response ends
// truncated.
func (p *pumpState) fail(err error) {
	if !p.st.aborted.Load() {
		slog.Warn("file stream failed after headers", "err", err)
		p.res.End(nil)
	}
	p.complete()
}
