package patient

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date held as midnight UTC. It decodes "YYYY-MM-DD" or
// an RFC3339 timestamp; a timestamp keeps the day as written in its own
// offset, so 2000-06-15T00:00:00+05:30 is 2000-06-15.
//
// A value that does not parse decodes without error and reports Invalid,
// leaving the rejection to Validate alongside every other field.
type Date struct {
	time.Time
	raw string
}

// NewDate returns the date y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses "YYYY-MM-DD" or RFC3339.
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("%q is not a date", s)
	}
	return DateOf(t), nil
}

// Invalid reports whether the decoded input was not a date.
func (d Date) Invalid() bool { return d.raw != "" }

// Equal reports whether d and o are the same calendar date.
func (d Date) Equal(o Date) bool { return d.Time.Equal(o.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	*d = Date{}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		d.raw = string(data)
		return nil
	}
	if s == "" {
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		d.raw = s
		return nil
	}
	*d = parsed
	return nil
}

const (
	bsonString   byte = 0x02
	bsonDateTime byte = 0x09
	bsonNull     byte = 0x0A
)

// MarshalBSONValue stores the date as a BSON datetime at midnight UTC.
func (d Date) MarshalBSONValue() (byte, []byte, error) {
	if d.IsZero() {
		return bsonNull, nil, nil
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(d.UnixMilli()))
	return bsonDateTime, buf, nil
}

func (d *Date) UnmarshalBSONValue(typ byte, data []byte) error {
	*d = Date{}
	switch typ {
	case bsonNull:
		return nil
	case bsonDateTime:
		if len(data) != 8 {
			return fmt.Errorf("decode date: datetime of %d bytes", len(data))
		}
		ms := int64(binary.LittleEndian.Uint64(data))
		*d = DateOf(time.UnixMilli(ms).UTC())
		return nil
	case bsonString:
		// int32 length, bytes, trailing NUL
		if len(data) < 5 {
			return fmt.Errorf("decode date: short string")
		}
		parsed, err := ParseDate(string(data[4 : len(data)-1]))
		if err != nil {
			return fmt.Errorf("decode date: %w", err)
		}
		*d = parsed
		return nil
	}
	return fmt.Errorf("decode date: unsupported bson type 0x%02x", typ)
}
