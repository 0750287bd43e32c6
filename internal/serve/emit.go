// Whole-file response emission. Headers and body go out under a single
// cork so no partial header set is observable on the wire.
package serve

import (
	"net/http"
	"strconv"
	"time"

	"github.com/velox-web/velox/internal/httpio"
)

// etagFor builds the validator: hex mtime seconds, dash, hex size. The
// weak form is used when compression changed the byte length.
func etagFor(mtime time.Time, size int64, weak bool) string {
	tag := `"` + strconv.FormatInt(mtime.Unix(), 16) + "-" + strconv.FormatInt(size, 16) + `"`
	if weak {
		return "W/" + tag
	}
	return tag
}

func (h *Handler) emitWhole(res httpio.ResponseWriter, a *Artifact) {
	res.Cork(func() {
		res.WriteHeader("Connection", "keep-alive")
		if !h.opts.NoLastModified {
			res.WriteHeader("Last-Modified", a.MTime.UTC().Format(http.TimeFormat))
		}
		if !h.opts.NoETag {
			res.WriteHeader("ETag", etagFor(a.MTime, a.Size, a.Encoding != EncIdentity))
		}
		if a.Type != "" {
			res.WriteHeader("Content-Type", a.Type)
		}
		if a.Encoding != EncIdentity {
			res.WriteHeader("Content-Encoding", a.Encoding.String())
		}
		res.End(a.Bytes)
	})
}
