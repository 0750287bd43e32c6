// Accept-Encoding negotiation: parse the client's preference list,
// intersect it with the server's, and gate on media-type compressibility.
package serve

import (
	"slices"
	"strconv"
	"strings"

	"github.com/velox-web/velox/internal/mimetype"
)

// Encoding identifies a response body encoding. Identity means no
// Content-Encoding header on the wire.
type Encoding uint8

const (
	EncIdentity Encoding = iota
	EncGzip
	EncDeflate
	EncBrotli

	encodingCount = 4
)

// String returns the Content-Encoding token, "" for identity.
func (e Encoding) String() string {
	switch e {
	case EncGzip:
		return "gzip"
	case EncDeflate:
		return "deflate"
	case EncBrotli:
		return "br"
	default:
		return ""
	}
}

// encodingByName maps Accept-Encoding tokens to known compressors.
var encodingByName = map[string]Encoding{
	"gzip":    EncGzip,
	"deflate": EncDeflate,
	"br":      EncBrotli,
}

// acceptEntry is one parsed Accept-Encoding list member that survived
// filtering.
type acceptEntry struct {
	name string
	q    float64
	pref int // index in the server preference list; lower wins ties
}

// parseAcceptEncoding parses an Accept-Encoding header against the
// server preference list. Entries with q=0 and entries the server does
// not offer are dropped. The result is ordered by descending quality,
// ties broken by the server's own preference order.
func parseAcceptEncoding(header string, serverPref []Encoding) []acceptEntry {
	var out []acceptEntry
	for part := range strings.SplitSeq(header, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		name := entry
		q := 1.0
		if i := strings.Index(entry, ";q="); i >= 0 {
			name = strings.TrimSpace(entry[:i])
			v, err := strconv.ParseFloat(strings.TrimSpace(entry[i+3:]), 64)
			if err == nil {
				q = v
			}
		}
		if q == 0 {
			continue
		}
		pref := -1
		for i, e := range serverPref {
			if e.String() == name {
				pref = i
				break
			}
		}
		if pref < 0 {
			continue
		}
		out = append(out, acceptEntry{name: name, q: q, pref: pref})
	}
	slices.SortStableFunc(out, func(a, b acceptEntry) int {
		if a.q != b.q {
			if a.q > b.q {
				return -1
			}
			return 1
		}
		return a.pref - b.pref
	})
	return out
}

// chooseEncoding picks the wire encoding for a response: identity when
// the client sent no preferences, the server offers none, or the media
// type is not compressible; otherwise the best mutually accepted
// compressor.
func chooseEncoding(header string, serverPref []Encoding, mediaType string) Encoding {
	if header == "" || len(serverPref) == 0 || !mimetype.Compressible(mediaType) {
		return EncIdentity
	}
	for _, e := range parseAcceptEncoding(header, serverPref) {
		if enc, ok := encodingByName[e.name]; ok {
			return enc
		}
	}
	return EncIdentity
}
