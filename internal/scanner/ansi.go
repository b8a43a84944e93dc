package scanner

import "strings"

// stripANSI removes ANSI escape/control sequences from s using a
// state-machine walk, so rule matching sees the text a terminal would
// render rather than the raw control-sequence-laden bytes. The underlying
// stream handed to the caller is never mutated; this is purely a view.
func stripANSI(s string) string {
	if !strings.ContainsAny(s, "\x1b\r") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' {
			continue
		}
		if c != 0x1b {
			b.WriteByte(c)
			continue
		}

		if i+1 >= len(s) {
			break
		}

		switch s[i+1] {
		case '[':
			i += 2
			for i < len(s) {
				ch := s[i]
				if ch >= 0x40 && ch <= 0x7E {
					break
				}
				i++
			}
		case ']':
			i += 2
			for i < len(s) {
				if s[i] == 0x07 {
					break
				}
				if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '\\' {
					i++
					break
				}
				i++
			}
		case '(', ')', '*', '+':
			i += 2
		default:
			i++
		}
	}

	return b.String()
}
