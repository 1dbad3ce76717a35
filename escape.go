package svnbridge

import (
	"strings"
)

const upperhex = "0123456789ABCDEF"

// needsPercent reports whether b must be percent-encoded in a URI payload
// segment. The reserved set is the one the command-line client expects;
// anything outside printable ASCII is encoded as well.
func needsPercent(b byte) bool {
	if b < 0x20 || b > 0x7e {
		return true
	}
	switch b {
	case '%', '#', ' ', '^', '{', '[', '}', ']', ';', '`', '&':
		return true
	}
	return false
}

// EncodePercent percent-encodes s for use as a URI payload segment.
// Non-ASCII characters are encoded as their UTF-8 byte sequence.
func EncodePercent(s string) string {
	var n int
	for i := 0; i < len(s); i++ {
		if needsPercent(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsPercent(c) {
			b.WriteByte('%')
			b.WriteByte(upperhex[c>>4])
			b.WriteByte(upperhex[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodePercent reverses EncodePercent. Malformed escapes are passed
// through untouched so that decoding never loses bytes.
func DecodePercent(s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) {
			hi, okHi := unhex(s[i+1])
			lo, okLo := unhex(s[i+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

var xmlUnescaper = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
	"&amp;", "&",
)

// EscapeXML escapes s for embedding as text content in a DAV XML body.
// Percent-encoding, when also required, is applied before this layer.
func EscapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// UnescapeXML reverses EscapeXML.
func UnescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}
