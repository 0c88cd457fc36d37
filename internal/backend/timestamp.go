package backend

import (
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a high-resolution wall-clock instant rendered in the two
// formats the gateway needs: the backend's internal zero-padded epoch form
// and the S3 XML timestamp form.
type Timestamp struct {
	t time.Time
}

func Now() Timestamp {
	return Timestamp{t: time.Now().UTC()}
}

func TimestampOf(t time.Time) Timestamp {
	return Timestamp{t: t.UTC()}
}

// Internal renders the backend's internal timestamp representation:
// the epoch in seconds, zero-padded with 5 decimal digits,
// e.g. "1440000000.00000".
func (ts Timestamp) Internal() string {
	sec := ts.t.Unix()
	frac := ts.t.Nanosecond() / 10000 // 5 decimal digits
	return fmt.Sprintf("%010d.%05d", sec, frac)
}

// S3XMLFormat renders the timestamp the way S3 XML bodies expect,
// e.g. "2009-02-03T16:45:09.000Z".
func (ts Timestamp) S3XMLFormat() string {
	return ts.t.Format("2006-01-02T15:04:05") + ".000Z"
}

func (ts Timestamp) Time() time.Time {
	return ts.t
}

// ParseInternal decodes the backend's internal epoch representation back
// into a Timestamp.
func ParseInternal(s string) (Timestamp, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("backend: bad internal timestamp %q: %w", s, err)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return Timestamp{t: time.Unix(sec, nsec).UTC()}, nil
}
