package bencode

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Encode serializes v into its bencoded form. Dictionaries are emitted with
// lexicographically sorted keys, which the protocol requires so that two
// implementations always produce identical bytes for the same logical value.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case int:
		encodeInt(buf, int64(t))
	case int64:
		encodeInt(buf, t)
	case uint16:
		encodeInt(buf, int64(t))
	case string:
		encodeBytes(buf, []byte(t))
	case []byte:
		encodeBytes(buf, t)
	case []any:
		return encodeList(buf, t)
	case map[string]any:
		return encodeDict(buf, t)
	default:
		return fmt.Errorf("bencode: unsupported type %T", v)
	}
	return nil
}

func encodeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(n, 10))
	buf.WriteByte('e')
}

func encodeBytes(buf *bytes.Buffer, b []byte) {
	buf.WriteString(strconv.Itoa(len(b)))
	buf.WriteByte(':')
	buf.Write(b)
}

func encodeList(buf *bytes.Buffer, list []any) error {
	buf.WriteByte('l')
	for _, v := range list {
		if err := encodeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}

func encodeDict(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('d')
	for _, k := range keys {
		encodeBytes(buf, []byte(k))
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('e')
	return nil
}
