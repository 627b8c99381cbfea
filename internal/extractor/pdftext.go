package extractor

import (
	"strconv"
	"strings"
	"unicode/utf16"
)

// contentText reads the text-showing operators of a decoded page content
// stream. Glyph codes are interpreted as PDFDocEncoding, or UTF-16BE when
// the string carries a byte order mark.
func contentText(stream []byte) string {
	s := &contentScanner{data: stream}
	var lines []string
	var line strings.Builder
	var operands []interface{}

	newline := func() {
		if text := strings.TrimSpace(line.String()); text != "" {
			lines = append(lines, text)
		}
		line.Reset()
	}
	space := func() {
		if line.Len() > 0 && !strings.HasSuffix(line.String(), " ") {
			line.WriteByte(' ')
		}
	}
	show := func(b []byte) {
		line.WriteString(decodePDFText(b))
	}

	for {
		tok, ok := s.next()
		if !ok {
			break
		}
		op, isOp := tok.(pdfOperator)
		if !isOp {
			operands = append(operands, tok)
			continue
		}
		switch op {
		case "Tj":
			if b, ok := lastString(operands); ok {
				show(b)
			}
		case "'", "\"":
			newline()
			if b, ok := lastString(operands); ok {
				show(b)
			}
		case "TJ":
			if len(operands) > 0 {
				if arr, ok := operands[len(operands)-1].([]interface{}); ok {
					for _, el := range arr {
						switch v := el.(type) {
						case []byte:
							show(v)
						case float64:
							// large negative adjustments separate words
							if v < -200 {
								space()
							}
						}
					}
				}
			}
		case "Td", "TD":
			if len(operands) >= 2 {
				if ty, ok := operands[len(operands)-1].(float64); ok && ty != 0 {
					newline()
				} else {
					space()
				}
			}
		case "T*", "ET":
			newline()
		case "Tm":
			if line.Len() > 0 {
				newline()
			}
		}
		operands = operands[:0]
	}
	newline()
	return strings.Join(lines, "\n")
}

func lastString(operands []interface{}) ([]byte, bool) {
	if len(operands) == 0 {
		return nil, false
	}
	b, ok := operands[len(operands)-1].([]byte)
	return b, ok
}

// decodePDFText maps a PDF string to UTF-8, dropping control characters.
func decodePDFText(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	var sb strings.Builder
	for _, c := range b {
		r := rune(c)
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type pdfOperator string

// contentScanner tokenizes a content stream into numbers (float64), strings
// ([]byte), names (string), arrays ([]interface{}) and operators.
type contentScanner struct {
	data []byte
	pos  int
}

func isPDFDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == 0
}

func (s *contentScanner) skipSpace() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isPDFSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *contentScanner) next() (interface{}, bool) {
	s.skipSpace()
	if s.pos >= len(s.data) {
		return nil, false
	}
	c := s.data[s.pos]
	switch {
	case c == '(':
		return s.literal(), true
	case c == '<' && s.pos+1 < len(s.data) && s.data[s.pos+1] == '<':
		s.skipDict()
		return s.next()
	case c == '<':
		return s.hex(), true
	case c == '[':
		s.pos++
		var arr []interface{}
		for {
			s.skipSpace()
			if s.pos >= len(s.data) {
				return arr, true
			}
			if s.data[s.pos] == ']' {
				s.pos++
				return arr, true
			}
			tok, ok := s.next()
			if !ok {
				return arr, true
			}
			arr = append(arr, tok)
		}
	case c == '/':
		s.pos++
		return s.word(), true
	case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
		s.pos++
		return s.next()
	}

	w := s.word()
	if w == "" {
		s.pos++
		return s.next()
	}
	if f, err := strconv.ParseFloat(w, 64); err == nil {
		return f, true
	}
	if w == "BI" {
		s.skipInlineImage()
		return s.next()
	}
	return pdfOperator(w), true
}

func (s *contentScanner) word() string {
	start := s.pos
	for s.pos < len(s.data) && !isPDFSpace(s.data[s.pos]) && !isPDFDelimiter(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

func (s *contentScanner) literal() []byte {
	s.pos++ // (
	var out []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		case '\\':
			if s.pos >= len(s.data) {
				return out
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
						v = v*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

func (s *contentScanner) hex() []byte {
	s.pos++ // <
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		if c := s.data[s.pos]; !isPDFSpace(c) {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++ // >
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			continue
		}
		out = append(out, byte(v))
	}
	return out
}

func (s *contentScanner) skipDict() {
	depth := 0
	for s.pos+1 < len(s.data) {
		switch {
		case s.data[s.pos] == '<' && s.data[s.pos+1] == '<':
			depth++
			s.pos += 2
		case s.data[s.pos] == '>' && s.data[s.pos+1] == '>':
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		case s.data[s.pos] == '(':
			s.literal()
		default:
			s.pos++
		}
	}
	s.pos = len(s.data)
}

// skipInlineImage jumps past "ID <binary> EI".
func (s *contentScanner) skipInlineImage() {
	for s.pos+2 < len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' &&
			isPDFSpace(s.data[s.pos-1]) && (s.pos+2 == len(s.data) || isPDFSpace(s.data[s.pos+2])) {
			s.pos += 2
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}
