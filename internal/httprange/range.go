// Package httprange parses HTTP Range headers and resolves them against an
// entity length. The parser accepts the full byte-range grammar, including
// suffix ranges and comma-separated multi-range specs.
package httprange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed reports a Range value that is not a valid byte-range spec.
var ErrMalformed = errors.New("httprange: malformed range spec")

// maxRanges caps how many range specs one header may carry.
const maxRanges = 50

// byteRange is one spec element. A suffix range ("-N") has hasStart=false
// and end=N; an open-ended range ("N-") has hasEnd=false.
type byteRange struct {
	start    int64
	end      int64
	hasStart bool
	hasEnd   bool
}

// Range is a parsed Range header.
type Range struct {
	ranges []byteRange
}

// Parse parses a Range header value such as "bytes=0-9,20-,-5".
func Parse(value string) (*Range, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes=")
	if !ok {
		return nil, ErrMalformed
	}
	parts := strings.Split(spec, ",")
	if len(parts) == 0 || len(parts) > maxRanges {
		return nil, ErrMalformed
	}

	r := &Range{}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		dash := strings.Index(part, "-")
		if dash < 0 {
			return nil, ErrMalformed
		}
		startStr, endStr := part[:dash], part[dash+1:]

		var br byteRange
		if startStr != "" {
			start, err := strconv.ParseInt(startStr, 10, 64)
			if err != nil || start < 0 {
				return nil, ErrMalformed
			}
			br.start, br.hasStart = start, true
		}
		if endStr != "" {
			end, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || end < 0 {
				return nil, ErrMalformed
			}
			br.end, br.hasEnd = end, true
		}
		if !br.hasStart && !br.hasEnd {
			return nil, ErrMalformed
		}
		if br.hasStart && br.hasEnd && br.end < br.start {
			return nil, ErrMalformed
		}
		r.ranges = append(r.ranges, br)
	}
	return r, nil
}

// Interval is a half-open byte interval [Start, End).
type Interval struct {
	Start int64
	End   int64
}

// RangesForLength resolves the parsed spec against an entity of the given
// length, returning the satisfiable intervals in spec order. Unsatisfiable
// individual ranges are skipped; an empty result means no part of the spec
// can be satisfied.
func (r *Range) RangesForLength(length int64) []Interval {
	var out []Interval
	for _, br := range r.ranges {
		switch {
		case !br.hasStart:
			// Suffix range: last br.end bytes.
			if br.end == 0 {
				continue
			}
			start := length - br.end
			if start < 0 {
				start = 0
			}
			if length > 0 {
				out = append(out, Interval{Start: start, End: length})
			}
		case br.start >= length:
			continue
		case !br.hasEnd:
			out = append(out, Interval{Start: br.start, End: length})
		default:
			end := br.end + 1
			if end > length {
				end = length
			}
			out = append(out, Interval{Start: br.start, End: end})
		}
	}
	return out
}

// ContentRange renders a Content-Range header value for the half-open
// interval [start, end) of an entity with the given total length.
func ContentRange(start, end, length int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end-1, length)
}
