package serve

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/velox-web/velox/internal/httpio"
)

// newTestHandler builds a Handler over a temp root populated with files.
func newTestHandler(t *testing.T, files map[string][]byte, opts Options) *Handler {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	h, err := New(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func get(h *Handler, url string, headers map[string]string) *fakeWriter {
	w := newFakeWriter(0)
	h.Serve(w, &fakeRequest{url: url, headers: headers})
	return w
}

func gunzip(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("gunzip: %v", err)
	}
	return out
}

func TestWholeFileGzipCached(t *testing.T) {
	content := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 100)
	h := newTestHandler(t, map[string][]byte{"a.txt": content}, Options{})

	w := get(h, "/a.txt", map[string]string{"Accept-Encoding": "gzip, deflate"})
	status, headers, body, ended := w.snapshot()
	if !ended {
		t.Fatal("response not ended")
	}
	if status != "" {
		t.Errorf("status = %q, want default 200", status)
	}
	if got := headers["Content-Encoding"]; got != "gzip" {
		t.Errorf("Content-Encoding = %q, want %q", got, "gzip")
	}
	if got := headers["Content-Type"]; got != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", got, "text/plain")
	}
	if got := gunzip(t, body); !bytes.Equal(got, content) {
		t.Errorf("decompressed body mismatch: %d bytes, want %d", len(got), len(content))
	}

	// Artifact must be in the gzip shard now.
	abs := filepath.Join(h.Root(), "a.txt")
	if _, ok := h.cache.get(abs, EncGzip); !ok {
		t.Fatal("artifact not cached in gzip shard")
	}

	// A second request is served from cache, byte-for-byte identical.
	w2 := get(h, "/a.txt", map[string]string{"Accept-Encoding": "gzip, deflate"})
	_, headers2, body2, _ := w2.snapshot()
	if !bytes.Equal(body2, body) {
		t.Error("cached response differs from materialized response")
	}
	if headers2["Content-Encoding"] != "gzip" {
		t.Errorf("cached Content-Encoding = %q, want %q", headers2["Content-Encoding"], "gzip")
	}
}

func TestSubThresholdNotCompressed(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 300)
	h := newTestHandler(t, map[string][]byte{"tiny.txt": content}, Options{})

	w := get(h, "/tiny.txt", map[string]string{"Accept-Encoding": "gzip"})
	_, headers, body, ended := w.snapshot()
	if !ended {
		t.Fatal("response not ended")
	}
	if got, ok := headers["Content-Encoding"]; ok {
		t.Errorf("Content-Encoding = %q, want absent", got)
	}
	if !bytes.Equal(body, content) {
		t.Errorf("body = %d bytes, want raw %d bytes", len(body), len(content))
	}
}

func videoBytes(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestRange(t *testing.T) {
	content := videoBytes(1_000_000)
	h := newTestHandler(t, map[string][]byte{"video.mp4": content}, Options{})

	w := get(h, "/video.mp4", map[string]string{"Range": "bytes=100-199"})
	status, headers, body, ended := w.snapshot()
	if !ended {
		t.Fatal("response not ended")
	}
	if status != "206 Partial Content" {
		t.Errorf("status = %q, want 206", status)
	}
	if got := headers["Content-Range"]; got != "bytes 100-199/1000000" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes 100-199/1000000")
	}
	if got := headers["Content-Type"]; got != "video/mp4" {
		t.Errorf("Content-Type = %q, want %q", got, "video/mp4")
	}
	if _, ok := headers["Content-Encoding"]; ok {
		t.Error("range response must not be compressed for video/mp4")
	}
	if len(body) != 100 || !bytes.Equal(body, content[100:200]) {
		t.Errorf("body = %d bytes, want file bytes [100,200)", len(body))
	}
}

func TestRangeOnCompressibleFileIsIdentity(t *testing.T) {
	content := bytes.Repeat([]byte("compress me, I dare you\n"), 200)
	h := newTestHandler(t, map[string][]byte{"a.txt": content}, Options{})

	w := get(h, "/a.txt", map[string]string{
		"Accept-Encoding": "gzip, br",
		"Range":           "bytes=100-199",
	})
	status, headers, body, ended := w.snapshot()
	if !ended {
		t.Fatal("response not ended")
	}
	if status != "206 Partial Content" {
		t.Errorf("status = %q, want 206", status)
	}
	if got, ok := headers["Content-Encoding"]; ok {
		t.Errorf("Content-Encoding = %q, want absent: range offsets describe identity bytes", got)
	}
	if got := headers["Content-Range"]; got != "bytes 100-199/4800" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes 100-199/4800")
	}
	if len(body) != 100 || !bytes.Equal(body, content[100:200]) {
		t.Errorf("body = %d bytes, want raw file bytes [100,200)", len(body))
	}
}

func TestUnsatisfiableRange(t *testing.T) {
	h := newTestHandler(t, map[string][]byte{"video.mp4": videoBytes(1_000_000)}, Options{})

	w := get(h, "/video.mp4", map[string]string{"Range": "bytes=5000000-"})
	status, headers, body, ended := w.snapshot()
	if !ended {
		t.Fatal("response not ended")
	}
	if status != "416 Range Not Satisfiable" {
		t.Errorf("status = %q, want 416", status)
	}
	if got := headers["Content-Range"]; got != "bytes */999999" {
		t.Errorf("Content-Range = %q, want %q", got, "bytes */999999")
	}
	if string(body) != "Range Not Satisfiable" {
		t.Errorf("body = %q", body)
	}
}

func TestTraversalRejected(t *testing.T) {
	h := newTestHandler(t, map[string][]byte{"a.txt": []byte("inside")}, Options{})

	for _, url := range []string{
		"/../etc/passwd",
		"/../../etc/passwd",
		"/sub/../../etc/passwd",
		"/%2e%2e/etc/passwd",
	} {
		t.Run(url, func(t *testing.T) {
			w := get(h, url, nil)
			status, _, body, ended := w.snapshot()
			if !ended {
				t.Fatal("response not ended")
			}
			if status != "404 Not Found" {
				t.Errorf("status = %q, want 404", status)
			}
			if string(body) != "Not Found" {
				t.Errorf("body = %q, want %q", body, "Not Found")
			}
		})
	}
}

func TestIndexFallback(t *testing.T) {
	files := map[string][]byte{
		"app/index.html": []byte("<html>app</html>"),
		"page.html":      []byte("<html>page</html>"),
	}

	t.Run("DefaultRedirects", func(t *testing.T) {
		h := newTestHandler(t, files, Options{})
		w := get(h, "/app", map[string]string{"Accept": "text/html,application/xhtml+xml;q=0.9"})
		status, headers, _, ended := w.snapshot()
		if !ended {
			t.Fatal("response not ended")
		}
		if status != "301 Moved Permanently" {
			t.Errorf("status = %q, want 301", status)
		}
		if got := headers["Location"]; got != "/app/index.html" {
			t.Errorf("Location = %q, want %q", got, "/app/index.html")
		}

		// The rewrite is memoized; a repeat request takes the memo path.
		if _, ok := h.indexMemo.Load("/app"); !ok {
			t.Fatal("rewrite not memoized")
		}
		w2 := get(h, "/app", map[string]string{"Accept": "text/html"})
		status2, headers2, _, _ := w2.snapshot()
		if status2 != "301 Moved Permanently" || headers2["Location"] != "/app/index.html" {
			t.Errorf("memoized redirect = %q %q", status2, headers2["Location"])
		}
	})

	t.Run("HTMLSibling", func(t *testing.T) {
		h := newTestHandler(t, files, Options{})
		w := get(h, "/page", map[string]string{"Accept": "text/html"})
		status, headers, _, _ := w.snapshot()
		if status != "301 Moved Permanently" || headers["Location"] != "/page.html" {
			t.Errorf("got %q %q, want 301 to /page.html", status, headers["Location"])
		}
	})

	t.Run("TrailingSlashStripped", func(t *testing.T) {
		h := newTestHandler(t, files, Options{})
		w := get(h, "/app/", map[string]string{"Accept": "text/html"})
		status, headers, _, _ := w.snapshot()
		if status != "301 Moved Permanently" || headers["Location"] != "/app/index.html" {
			t.Errorf("got %q %q, want 301 to /app/index.html", status, headers["Location"])
		}
	})

	t.Run("CustomRewriteServesDirectly", func(t *testing.T) {
		opts := Options{
			Index: func(res httpio.ResponseWriter, req httpio.Request, fallback IndexFunc, root string) IndexOutcome {
				return IndexRewrite("/app/index.html")
			},
		}
		h := newTestHandler(t, files, opts)
		w := get(h, "/app", map[string]string{"Accept": "text/html"})
		status, _, body, ended := w.snapshot()
		if !ended {
			t.Fatal("response not ended")
		}
		if status != "" {
			t.Errorf("status = %q, want default 200", status)
		}
		if string(body) != "<html>app</html>" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("CustomRewriteRevalidated", func(t *testing.T) {
		opts := Options{
			Index: func(res httpio.ResponseWriter, req httpio.Request, fallback IndexFunc, root string) IndexOutcome {
				return IndexRewrite("/../../etc/passwd")
			},
		}
		h := newTestHandler(t, files, opts)
		w := get(h, "/app", map[string]string{"Accept": "text/html"})
		status, _, _, _ := w.snapshot()
		if status != "404 Not Found" {
			t.Errorf("status = %q, want 404 for escaping rewrite", status)
		}
	})

	t.Run("Deferred", func(t *testing.T) {
		opts := Options{
			Index: func(res httpio.ResponseWriter, req httpio.Request, fallback IndexFunc, root string) IndexOutcome {
				return IndexDefer(func() IndexOutcome {
					return IndexRewrite("/app/index.html")
				})
			},
		}
		h := newTestHandler(t, files, opts)
		w := get(h, "/app", nil)
		_, _, body, _ := w.snapshot()
		if string(body) != "<html>app</html>" {
			t.Errorf("body = %q", body)
		}
	})

	t.Run("DoneEmitsNothing", func(t *testing.T) {
		opts := Options{
			Index: func(res httpio.ResponseWriter, req httpio.Request, fallback IndexFunc, root string) IndexOutcome {
				res.Cork(func() {
					res.WriteStatus("204 No Content")
					res.End(nil)
				})
				return IndexDone()
			},
		}
		h := newTestHandler(t, files, opts)
		w := get(h, "/app", nil)
		status, _, _, ended := w.snapshot()
		if !ended || status != "204 No Content" {
			t.Errorf("status = %q ended=%v, want handler-owned 204", status, ended)
		}
	})

	t.Run("ZeroOutcomeIs404", func(t *testing.T) {
		opts := Options{
			Index: func(res httpio.ResponseWriter, req httpio.Request, fallback IndexFunc, root string) IndexOutcome {
				return IndexOutcome{}
			},
		}
		h := newTestHandler(t, files, opts)
		w := get(h, "/app", nil)
		status, _, _, _ := w.snapshot()
		if status != "404 Not Found" {
			t.Errorf("status = %q, want 404", status)
		}
	})
}

var etagRe = regexp.MustCompile(`^(W/)?"[0-9a-f]+-[0-9a-f]+"$`)

func TestETagFormat(t *testing.T) {
	content := bytes.Repeat([]byte("abcdefgh\n"), 500)
	h := newTestHandler(t, map[string][]byte{"a.txt": content, "b.bin": content}, Options{})

	t.Run("WeakWhenCompressed", func(t *testing.T) {
		w := get(h, "/a.txt", map[string]string{"Accept-Encoding": "gzip"})
		_, headers, _, _ := w.snapshot()
		tag := headers["ETag"]
		if !etagRe.MatchString(tag) {
			t.Fatalf("ETag %q does not match format", tag)
		}
		if !strings.HasPrefix(tag, "W/") {
			t.Errorf("ETag %q should be weak for compressed response", tag)
		}
	})

	t.Run("StrongWhenIdentity", func(t *testing.T) {
		w := get(h, "/b.bin", map[string]string{"Accept-Encoding": "gzip"})
		_, headers, _, _ := w.snapshot()
		tag := headers["ETag"]
		if !etagRe.MatchString(tag) {
			t.Fatalf("ETag %q does not match format", tag)
		}
		if strings.HasPrefix(tag, "W/") {
			t.Errorf("ETag %q should be strong for identity response", tag)
		}
	})

	t.Run("Suppressed", func(t *testing.T) {
		h2 := newTestHandler(t, map[string][]byte{"a.txt": content}, Options{NoETag: true, NoLastModified: true})
		w := get(h2, "/a.txt", nil)
		_, headers, _, _ := w.snapshot()
		if _, ok := headers["ETag"]; ok {
			t.Error("ETag emitted despite NoETag")
		}
		if _, ok := headers["Last-Modified"]; ok {
			t.Error("Last-Modified emitted despite NoLastModified")
		}
	})
}

func TestTransformHook(t *testing.T) {
	content := bytes.Repeat([]byte("hello world\n"), 200)
	opts := Options{
		Transform: func(a *Artifact) error {
			a.Bytes = bytes.ToUpper(a.Bytes)
			a.Type = "text/x-shouting"
			return nil
		},
	}
	h := newTestHandler(t, map[string][]byte{"a.txt": content}, opts)

	w := get(h, "/a.txt", nil)
	_, headers, body, _ := w.snapshot()
	if got := headers["Content-Type"]; got != "text/x-shouting" {
		t.Errorf("Content-Type = %q, want transformed type", got)
	}
	if !bytes.Equal(body, bytes.ToUpper(content)) {
		t.Error("body not transformed")
	}
}

func TestCacheAdmission(t *testing.T) {
	big := bytes.Repeat([]byte("b"), 5000)
	h := newTestHandler(t, map[string][]byte{"big.txt": big}, Options{MaxCacheSize: 1000, MinStreamSize: 1 << 20})

	w := get(h, "/big.txt", nil)
	if _, _, _, ended := w.snapshot(); !ended {
		t.Fatal("response not ended")
	}
	abs := filepath.Join(h.Root(), "big.txt")
	if _, ok := h.cache.get(abs, EncIdentity); ok {
		t.Error("artifact above MaxCacheSize admitted to cache")
	}
}

func TestNoCacheDisablesCaching(t *testing.T) {
	content := bytes.Repeat([]byte("c"), 2000)
	h := newTestHandler(t, map[string][]byte{"a.txt": content}, Options{NoCache: true})

	get(h, "/a.txt", map[string]string{"Accept-Encoding": "gzip"})
	abs := filepath.Join(h.Root(), "a.txt")
	if _, ok := h.cache.get(abs, EncGzip); ok {
		t.Error("artifact cached despite NoCache")
	}
}

func TestDirectoryIs404(t *testing.T) {
	h := newTestHandler(t, map[string][]byte{"sub/a.txt": []byte("x")}, Options{IndexOff: true})
	w := get(h, "/sub", nil)
	status, _, _, _ := w.snapshot()
	if status != "404 Not Found" {
		t.Errorf("status = %q, want 404 for directory", status)
	}
}

func TestAbortDuringTransformEmitsNothing(t *testing.T) {
	var w *fakeWriter
	opts := Options{
		Transform: func(a *Artifact) error {
			w.abort() // client disconnects mid-pipeline
			return nil
		},
	}
	h := newTestHandler(t, map[string][]byte{"a.txt": bytes.Repeat([]byte("a"), 2000)}, opts)
	w = newFakeWriter(0)
	h.Serve(w, &fakeRequest{url: "/a.txt"})
	if _, _, body, ended := w.snapshot(); ended || len(body) != 0 {
		t.Errorf("aborted request emitted: ended=%v body=%d bytes", ended, len(body))
	}
}
