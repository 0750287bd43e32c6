// Error taxonomy and the default error emitters. Errors are classified
// at the boundary where they occur; once headers have been committed no
// second status line can be written and the response ends silently.
package serve

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/velox-web/velox/internal/httpio"
)

// isNotFound reports whether an open/stat error maps to a 404 rather
// than a 500: missing file, or a path component that is not a directory.
func isNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.EISDIR) ||
		errors.Is(err, syscall.ENOTDIR)
}

// notFound is the default 404 emitter.
func notFound(res httpio.ResponseWriter) {
	res.Cork(func() {
		res.WriteStatus("404 Not Found")
		res.End([]byte("Not Found"))
	})
}

// internalError is the default 500 emitter. The body carries the errno's
// description (e.g. "permission denied") when one is available, never the
// full error text (paths leak).
func internalError(res httpio.ResponseWriter, err error) {
	body := "Internal Server Error"
	var errno syscall.Errno
	if errors.As(err, &errno) {
		body += ": " + errno.Error()
	}
	res.Cork(func() {
		res.WriteStatus("500 Internal Server Error")
		res.End([]byte(body))
	})
}
