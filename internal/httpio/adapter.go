// net/http bridge for the ResponseWriter and Request contracts.
//
// net/http's writer blocks instead of exposing a bounded send buffer, so
// the non-blocking surface degenerates: TryEnd always accepts the whole
// chunk, Write never reports a full buffer, and OnWritable callbacks are
// never scheduled. OnAborted is driven by the request context.
package httpio

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// ResponseAdapter implements ResponseWriter on top of net/http.
type ResponseAdapter struct {
	w http.ResponseWriter
	r *http.Request

	mu        sync.Mutex
	status    string
	headers   [][2]string
	headSent  bool
	offset    int64
	ended     bool
	abortFn   func()
	done      chan struct{}
	closeOnce sync.Once
}

// RequestAdapter implements Request on top of *http.Request.
type RequestAdapter struct {
	r *http.Request
}

// Wrap adapts a net/http exchange to the httpio contracts. The caller
// must call Close on the returned ResponseAdapter when the handler
// returns to release the abort watcher.
func Wrap(w http.ResponseWriter, r *http.Request) (*ResponseAdapter, *RequestAdapter) {
	a := &ResponseAdapter{w: w, r: r, done: make(chan struct{})}
	go a.watchAbort()
	return a, &RequestAdapter{r: r}
}

func (a *ResponseAdapter) watchAbort() {
	select {
	case <-a.r.Context().Done():
		a.mu.Lock()
		fn := a.abortFn
		ended := a.ended
		a.mu.Unlock()
		if !ended && fn != nil {
			fn()
		}
	case <-a.done:
	}
}

// Close stops the abort watcher. Idempotent.
func (a *ResponseAdapter) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

// Offset returns the number of body bytes written, for access logging.
func (a *ResponseAdapter) Offset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// Status returns the response status line, for access logging.
func (a *ResponseAdapter) Status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == "" {
		return "200 OK"
	}
	return a.status
}

func (a *ResponseAdapter) WriteStatus(status string) {
	a.mu.Lock()
	if !a.headSent {
		a.status = status
	}
	a.mu.Unlock()
}

func (a *ResponseAdapter) WriteHeader(key, value string) {
	a.mu.Lock()
	if !a.headSent {
		a.headers = append(a.headers, [2]string{key, value})
	}
	a.mu.Unlock()
}

// flushHeadLocked commits the status line and headers. Caller holds mu.
func (a *ResponseAdapter) flushHeadLocked() {
	if a.headSent {
		return
	}
	a.headSent = true
	h := a.w.Header()
	for _, kv := range a.headers {
		h.Set(kv[0], kv[1])
	}
	code := http.StatusOK
	if a.status != "" {
		if i := strings.IndexByte(a.status, ' '); i > 0 {
			if n, err := strconv.Atoi(a.status[:i]); err == nil {
				code = n
			}
		} else if n, err := strconv.Atoi(a.status); err == nil {
			code = n
		}
	}
	a.w.WriteHeader(code)
}

func (a *ResponseAdapter) Write(chunk []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return true
	}
	a.flushHeadLocked()
	n, _ := a.w.Write(chunk)
	a.offset += int64(n)
	return true
}

func (a *ResponseAdapter) End(chunk []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.flushHeadLocked()
	if len(chunk) > 0 {
		n, _ := a.w.Write(chunk)
		a.offset += int64(n)
	}
	a.ended = true
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *ResponseAdapter) TryEnd(chunk []byte, total int64) (ok, done bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return true, true
	}
	if !a.headSent && total >= 0 {
		a.headers = append(a.headers, [2]string{"Content-Length", strconv.FormatInt(total, 10)})
	}
	a.flushHeadLocked()
	if len(chunk) > 0 {
		n, _ := a.w.Write(chunk)
		a.offset += int64(n)
	}
	if a.offset >= total {
		a.ended = true
		a.closeOnce.Do(func() { close(a.done) })
		return true, true
	}
	return true, false
}

func (a *ResponseAdapter) GetWriteOffset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.offset
}

// OnWritable never schedules fn: net/http applies backpressure by
// blocking Write instead of refusing bytes.
func (a *ResponseAdapter) OnWritable(fn func(offset int64) bool) {}

func (a *ResponseAdapter) OnAborted(fn func()) {
	a.mu.Lock()
	a.abortFn = fn
	a.mu.Unlock()
}

// Cork runs fn directly; net/http already buffers headers until the
// first body write.
func (a *ResponseAdapter) Cork(fn func()) {
	fn()
}

func (q *RequestAdapter) GetURL() string {
	return q.r.URL.EscapedPath()
}

func (q *RequestAdapter) GetHeader(name string) string {
	return q.r.Header.Get(name)
}
