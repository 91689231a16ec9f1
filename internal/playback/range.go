package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedRange = errors.New("malformed range")
	ErrUnsatisfiable  = errors.New("range not satisfiable")
)

// Span is an inclusive byte interval of a file.
type Span struct {
	First int64
	Last  int64
}

func (s Span) Length() int64 {
	return s.Last - s.First + 1
}

// ContentRange formats the Content-Range value for a file of total bytes.
func (s Span) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", s.First, s.Last, total)
}

// ParseRange interprets a Range header for a file of size bytes. A nil span
// with a nil error means the whole file. Only the first range of a
// multi-range request is honored.
func ParseRange(header string, size int64) (*Span, error) {
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrMalformedRange
	}
	spec, _, _ = strings.Cut(spec, ",")
	first, last, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, ErrMalformedRange
	}

	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrMalformedRange
		}
		if size == 0 {
			return nil, ErrUnsatisfiable
		}
		return &Span{First: max(size-n, 0), Last: size - 1}, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return nil, ErrMalformedRange
	}
	end := size - 1
	if last != "" {
		e, err := strconv.ParseInt(last, 10, 64)
		if err != nil || e < start {
			return nil, ErrMalformedRange
		}
		end = min(e, end)
	}
	if start >= size {
		return nil, ErrUnsatisfiable
	}
	return &Span{First: start, Last: end}, nil
}
