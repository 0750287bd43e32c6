// In-memory artifact cache: one shard per encoding, keyed by absolute
// path. Append-only within a process lifetime; a replacing insert swaps
// the whole entry atomically, entries are never mutated in place.
package serve

import (
	"sync"
	"time"
)

// Artifact is a fully materialized response body with its metadata.
// Bytes is already encoded when Encoding is not identity.
type Artifact struct {
	Path     string // absolute filesystem path
	MTime    time.Time
	Size     int64 // file size at materialization, before encoding
	Bytes    []byte
	Encoding Encoding
	Type     string // media type, "" when unknown
}

// artifactCache holds one concurrent map per encoding. Reads are
// lock-free; duplicate inserts are benign, last writer wins.
type artifactCache struct {
	shards [encodingCount]sync.Map // path → *Artifact
}

func (c *artifactCache) get(path string, enc Encoding) (*Artifact, bool) {
	v, ok := c.shards[enc].Load(path)
	if !ok {
		return nil, false
	}
	return v.(*Artifact), true
}

func (c *artifactCache) put(a *Artifact) {
	c.shards[a.Encoding].Store(a.Path, a)
}
