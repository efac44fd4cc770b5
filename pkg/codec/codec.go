package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DataFormat selects how characteristic values are rendered and parsed.
type DataFormat int

const (
	ASCII DataFormat = iota
	UTF8
	Decimal
	Hex
	Binary
)

// ErrMalformed is returned when text cannot be converted into bytes in the requested format.
var ErrMalformed = errors.New("malformed data")

var formatNames = map[DataFormat]string{
	ASCII:   "ASCII",
	UTF8:    "UTF8",
	Decimal: "Dec",
	Hex:     "Hex",
	Binary:  "Bin",
}

func (f DataFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("DataFormat(%d)", int(f))
}

// ParseDataFormat converts a user supplied format name (case-insensitive) into a DataFormat.
func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascii":
		return ASCII, nil
	case "utf8", "utf-8":
		return UTF8, nil
	case "dec", "decimal":
		return Decimal, nil
	case "hex":
		return Hex, nil
	case "bin", "binary":
		return Binary, nil
	default:
		return Hex, fmt.Errorf("unknown data format %q (must be ascii, utf8, dec, hex or bin)", s)
	}
}

// Format renders data in the given format.
func Format(data []byte, f DataFormat) string {
	switch f {
	case ASCII:
		b := make([]byte, len(data))
		for i, c := range data {
			if c > 0x7f {
				c = '?'
			}
			b[i] = c
		}
		return string(b)
	case UTF8:
		return strings.ToValidUTF8(string(data), string(utf8.RuneError))
	case Decimal:
		return join(data, "%02d")
	case Binary:
		return join(data, "%08b")
	default:
		return join(data, "%02X")
	}
}

func join(data []byte, verb string) string {
	var sb strings.Builder
	for i, c := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, verb, c)
	}
	return sb.String()
}

// Parse converts text into bytes according to the given format.
// Numeric formats expect whitespace separated tokens, one byte each.
// Text formats expand backslash escapes and send the resulting bytes as is,
// so ASCII input beyond 0x7f goes out UTF-8 encoded.
// Any failure yields ErrMalformed and no partial result.
func Parse(text string, f DataFormat) ([]byte, error) {
	switch f {
	case ASCII, UTF8:
		s, err := Unescape(text)
		if err != nil {
			return nil, err
		}
		return []byte(s), nil
	case Decimal:
		return parseTokens(text, 10)
	case Binary:
		return parseTokens(text, 2)
	default:
		return parseTokens(text, 16)
	}
}

func parseTokens(text string, base int) ([]byte, error) {
	fields := strings.Fields(text)
	out := make([]byte, 0, len(fields))
	for _, tok := range fields {
		digits := tok
		if base == 16 && len(digits) > 2 && (digits[:2] == "0x" || digits[:2] == "0X") {
			digits = digits[2:]
		}
		v, err := strconv.ParseUint(digits, base, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a base-%d byte", ErrMalformed, tok, base)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// Unescape expands backslash escape sequences.
// Unknown escapes produce the escaped character itself, so `\:` yields `:`.
func Unescape(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}

	var sb strings.Builder
	for len(s) > 0 {
		if s[0] != '\\' {
			i := strings.IndexByte(s, '\\')
			if i < 0 {
				sb.WriteString(s)
				break
			}
			sb.WriteString(s[:i])
			s = s[i:]
			continue
		}
		if len(s) == 1 {
			return "", fmt.Errorf("%w: trailing backslash", ErrMalformed)
		}

		switch c := s[1]; {
		case c == 'e':
			sb.WriteByte(0x1b)
			s = s[2:]
		case c == '0' && (len(s) < 3 || s[2] < '0' || s[2] > '7'):
			sb.WriteByte(0)
			s = s[2:]
		case strings.IndexByte(`abfnrtvxuU\01234567`, c) >= 0:
			value, multibyte, tail, err := strconv.UnquoteChar(s, 0)
			if err != nil {
				return "", fmt.Errorf("%w: invalid escape sequence near %q", ErrMalformed, s)
			}
			if multibyte {
				sb.WriteRune(value)
			} else {
				sb.WriteByte(byte(value))
			}
			s = tail
		default:
			r, size := utf8.DecodeRuneInString(s[1:])
			sb.WriteRune(r)
			s = s[1+size:]
		}
	}
	return sb.String(), nil
}
