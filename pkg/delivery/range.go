package delivery

import (
	"strconv"
	"strings"
)

// byteRange is an inclusive span of payload bytes.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange interprets a "bytes=<start>-<end>" header against a payload of
// total bytes. A missing start means 0; a missing or non-positive end, or one
// past the payload, means the last byte. ok is false when the header is
// absent, malformed, names several ranges, or start lies beyond end; the
// caller then serves the full content.
func parseRange(header string, total int64) (r byteRange, ok bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return byteRange{}, false
	}
	const prefix = "bytes="
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return byteRange{}, false
	}
	rangeSpec := strings.TrimSpace(header[len(prefix):])
	if strings.Contains(rangeSpec, ",") {
		return byteRange{}, false
	}
	first, last, found := strings.Cut(rangeSpec, "-")
	if !found {
		return byteRange{}, false
	}

	var err error
	if first = strings.TrimSpace(first); first != "" {
		if r.start, err = strconv.ParseInt(first, 10, 64); err != nil {
			return byteRange{}, false
		}
	}
	if last = strings.TrimSpace(last); last != "" {
		if r.end, err = strconv.ParseInt(last, 10, 64); err != nil {
			return byteRange{}, false
		}
	}
	if r.end <= 0 || r.end > total-1 {
		r.end = total - 1
	}
	if r.start > r.end {
		return byteRange{}, false
	}
	return r, true
}

// etagMatches reports whether an If-None-Match value names etag.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimPrefix(tag, "W/")
		tag = strings.Trim(tag, `"`)
		if tag == etag {
			return true
		}
	}
	return false
}
