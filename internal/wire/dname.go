package wire

import (
	"strconv"
	"strings"
)

// DomainString renders a raw label-encoded name for display. Labels are each
// followed by a dot, so the result is fully qualified and the root is ".".
// Special characters are escaped with a backslash and bytes outside printable
// ASCII are written as \DDD.
func DomainString(raw []byte) string {
	var sb strings.Builder
	off := 0
	for off < len(raw) {
		l := int(raw[off])
		if l == 0 {
			break
		}
		off++
		end := off + l
		if end > len(raw) {
			end = len(raw)
		}
		for _, c := range raw[off:end] {
			writeEscaped(&sb, c)
		}
		sb.WriteByte('.')
		off = end
	}
	if sb.Len() == 0 {
		return "."
	}
	return sb.String()
}

func writeEscaped(sb *strings.Builder, c byte) {
	switch {
	case c == '.' || c == ';' || c == '(' || c == ')' || c == '\\':
		sb.WriteByte('\\')
		sb.WriteByte(c)
	case c > ' ' && c < 0x7f:
		sb.WriteByte(c)
	default:
		s := strconv.Itoa(int(c))
		sb.WriteByte('\\')
		sb.WriteString(strings.Repeat("0", 3-len(s)))
		sb.WriteString(s)
	}
}
