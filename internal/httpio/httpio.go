// Package httpio defines the contracts between the serving core and the
// embedding HTTP server: a non-blocking response writer with a bounded
// send buffer, and a minimal request reader.
//
// The writer is event-driven. Writes never block; when the send buffer is
// full the caller registers an OnWritable callback and pauses its data
// source until the callback fires. All callbacks for one response are
// invoked from the writer's own scheduling context, never concurrently
// with each other.
package httpio

// ResponseWriter is the non-blocking response side of a single HTTP
// exchange.
type ResponseWriter interface {
	// WriteStatus sets the response status line, e.g. "206 Partial
	// Content". Responses that never call it are sent as "200 OK".
	// Must be called before any header or body write.
	WriteStatus(status string)

	// WriteHeader appends a response header. Only valid inside Cork and
	// before the first body byte.
	WriteHeader(key, value string)

	// Write appends chunk to the send buffer without finalizing the
	// response. The return value is false when the buffer has exceeded
	// its watermark and the data source should pause until OnWritable.
	// Used when the final body length is unknown (streaming compressor).
	Write(chunk []byte) bool

	// End finalizes the response, appending an optional last chunk.
	// chunk may be nil. Calling End more than once is a no-op.
	End(chunk []byte)

	// TryEnd attempts to append chunk to the send buffer and finalizes
	// the response once total body bytes have been accepted in aggregate.
	// ok is false when the chunk was only partially accepted (consult
	// GetWriteOffset for how far); done is true when the response has
	// been fully delivered and finalized.
	TryEnd(chunk []byte, total int64) (ok, done bool)

	// GetWriteOffset returns the cumulative count of body bytes the
	// writer has accepted so far.
	GetWriteOffset() int64

	// OnWritable registers fn to be invoked when send-buffer space frees
	// up. fn receives the current write offset and returns true when it
	// is finished consuming (deregister), false to be invoked again on
	// the next drain. At most one callback is registered at a time; a
	// new registration replaces the previous one.
	OnWritable(fn func(offset int64) bool)

	// OnAborted registers fn to be invoked once if the client
	// disconnects before the response is finalized.
	OnAborted(fn func())

	// Cork batches the writes performed by fn into a single flush so no
	// partial header set is observable on the wire.
	Cork(fn func())
}

// Request is the read side of a single HTTP exchange.
type Request interface {
	// GetURL returns the request-target path, percent-encoded, including
	// any configured base prefix.
	GetURL() string

	// GetHeader returns the value of the named header, or "" when the
	// header is absent. Name lookup is case-insensitive.
	GetHeader(name string) string
}
