// Path resolution and index fallback.
//
// Containment is the only defense against "..", and it applies to every
// path this package ever opens, rewrites included: join the root with
// the URL segments, then require the cleaned result to still sit under
// the root by byte prefix.
package serve

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/velox-web/velox/internal/httpio"
)

// locate joins the root with a URL path and verifies containment. ok is
// false when the cleaned result escapes the root.
func (h *Handler) locate(u string) (abs string, ok bool) {
	p := filepath.Join(h.root, filepath.FromSlash(u))
	if p != h.root && !strings.HasPrefix(p, h.root+string(filepath.Separator)) {
		return "", false
	}
	return p, true
}

// isRegularFile reports whether abs names an existing regular file.
func isRegularFile(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// findIndex maps an extensionless URL (trailing slash already stripped)
// to a concrete file:
//
//  1. a URL that already names a regular file is kept as-is;
//  2. HTML navigations try <url>/index.html then <url>.html;
//  3. wildcard accepts try <url>/index.js then <url>.js;
//  4. anything else is kept as-is.
func (h *Handler) findIndex(u, accept string) string {
	if abs, ok := h.locate(u); ok && isRegularFile(abs) {
		return u
	}
	var candidates []string
	switch {
	case strings.HasPrefix(accept, "text/html"):
		candidates = []string{u + "/index.html", u + ".html"}
	case accept == "*/*":
		candidates = []string{u + "/index.js", u + ".js"}
	}
	for _, cand := range candidates {
		if abs, ok := h.locate(cand); ok && isRegularFile(abs) {
			return cand
		}
	}
	return u
}

// defaultIndex is the built-in index resolver. A physical rewrite is
// answered with a 301 to the concrete location so intermediaries cache
// the real URL; the rewrite is memoized keyed by the pre-strip URL.
func (h *Handler) defaultIndex(res httpio.ResponseWriter, req httpio.Request, _ IndexFunc, _ string) IndexOutcome {
	key := h.decodeURL(req)
	u := strings.TrimSuffix(key, "/")
	if !h.opts.NoCache {
		if v, ok := h.indexMemo.Load(key); ok {
			return h.redirect(res, v.(string))
		}
	}
	target := h.findIndex(u, req.GetHeader("Accept"))
	if target == u {
		return IndexServeAsIs()
	}
	if !h.opts.NoCache {
		h.indexMemo.Store(key, target)
	}
	return h.redirect(res, target)
}

// redirect emits a 301 to the rewritten location and reports the
// response as complete.
func (h *Handler) redirect(res httpio.ResponseWriter, to string) IndexOutcome {
	res.Cork(func() {
		res.WriteStatus("301 Moved Permanently")
		res.WriteHeader("Location", h.opts.Base+to)
		res.End(nil)
	})
	return IndexDone()
}
