package bencode

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrBadSyntax is wrapped by every decoding failure.
var ErrBadSyntax = errors.New("bencode: bad syntax")

// Decode parses a single bencoded value. Byte strings decode as []byte,
// integers as int64, lists as []any and dictionaries as map[string]any.
// Trailing bytes after the value are an error.
func Decode(data []byte) (any, error) {
	d := decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrBadSyntax, len(d.data)-d.pos, d.pos)
	}
	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrBadSyntax, fmt.Sprintf(format, args...), d.pos)
}

func (d *decoder) peek() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.errorf("unexpected end of input")
	}
	return d.data[d.pos], nil
}

func (d *decoder) value() (any, error) {
	c, err := d.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dict()
	case c >= '0' && c <= '9':
		return d.bytes()
	default:
		return nil, d.errorf("unexpected byte %q", c)
	}
}

func (d *decoder) integer() (int64, error) {
	d.pos++ // 'i'
	end := d.pos
	for end < len(d.data) && d.data[end] != 'e' {
		end++
	}
	if end == len(d.data) {
		return 0, d.errorf("unterminated integer")
	}
	s := string(d.data[d.pos:end])
	if len(s) == 0 {
		return 0, d.errorf("empty integer")
	}
	// leading zeros and negative zero are invalid per the encoding rules
	if s != "0" && (s[0] == '0' || (s[0] == '-' && (len(s) < 2 || s[1] == '0'))) {
		return 0, d.errorf("invalid integer %q", s)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, d.errorf("invalid integer %q", s)
	}
	d.pos = end + 1
	return n, nil
}

func (d *decoder) bytes() ([]byte, error) {
	colon := d.pos
	for colon < len(d.data) && d.data[colon] != ':' {
		colon++
	}
	if colon == len(d.data) {
		return nil, d.errorf("unterminated string length")
	}
	n, err := strconv.Atoi(string(d.data[d.pos:colon]))
	if err != nil || n < 0 {
		return nil, d.errorf("invalid string length %q", d.data[d.pos:colon])
	}
	start := colon + 1
	if start+n > len(d.data) {
		return nil, d.errorf("string of length %d exceeds input", n)
	}
	d.pos = start + n
	return d.data[start : start+n], nil
}

func (d *decoder) list() ([]any, error) {
	d.pos++ // 'l'
	list := []any{}
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			d.pos++
			return list, nil
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

func (d *decoder) dict() (map[string]any, error) {
	d.pos++ // 'd'
	m := make(map[string]any)
	for {
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		if c == 'e' {
			d.pos++
			return m, nil
		}
		key, err := d.bytes()
		if err != nil {
			return nil, err
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		m[string(key)] = v
	}
}
