// Chunked read stream over a byte range of an open file, with the
// pause/resume/destroy lifecycle the pump needs. Chunks are delivered in
// strictly increasing offset order from a single goroutine; pause takes
// effect before the next read. destroy is idempotent and closes the file
// exactly once on every exit path.
package serve

import (
	"os"
	"sync"
)

const streamChunkSize = 64 << 10

type fileStream struct {
	f        *os.File
	from, to int64 // inclusive byte range

	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	destroyed bool
	closeOnce sync.Once

	// Set before begin; never changed after.
	onData  func(chunk []byte)
	onError func(err error)
	onClose func()
}

func newFileStream(f *os.File, from, to int64) *fileStream {
	s := &fileStream{f: f, from: from, to: to}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// begin starts the read loop. Callbacks must be assigned first.
func (s *fileStream) begin() {
	go s.run()
}

func (s *fileStream) run() {
	offset := s.from
	for {
		s.mu.Lock()
		for s.paused && !s.destroyed {
			s.cond.Wait()
		}
		destroyed := s.destroyed
		s.mu.Unlock()
		if destroyed {
			return
		}
		if offset > s.to {
			break
		}

		n := s.to - offset + 1
		if n > streamChunkSize {
			n = streamChunkSize
		}
		// Fresh buffer per chunk: a paused chunk stays referenced by the
		// pump until the writer drains.
		buf := make([]byte, n)
		if _, err := s.f.ReadAt(buf, offset); err != nil {
			s.closeFile()
			s.mu.Lock()
			destroyed = s.destroyed
			s.mu.Unlock()
			if !destroyed && s.onError != nil {
				s.onError(err)
			}
			return
		}
		s.onData(buf)
		offset += n
	}

	s.closeFile()
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if !destroyed && s.onClose != nil {
		s.onClose()
	}
}

// pause stops delivery before the next chunk. Safe to call from onData.
func (s *fileStream) pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// resume restarts a paused stream.
func (s *fileStream) resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Signal()
}

// destroy stops the stream and closes the file. Idempotent; suppresses
// onError and onClose.
func (s *fileStream) destroy() {
	s.mu.Lock()
	s.destroyed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.closeFile()
}

func (s *fileStream) closeFile() {
	s.closeOnce.Do(func() { _ = s.f.Close() })
}
