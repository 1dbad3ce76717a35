package svnbridge

import "testing"

func TestEncodePercent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"plain.txt", "plain.txt"},
		{"a b", "a%20b"},
		{"50%", "50%25"},
		{"x#y", "x%23y"},
		{"a&b;c", "a%26b%3Bc"},
		{"brace{[}]", "brace%7B%5B%7D%5D"},
		{"caret^tick`", "caret%5Etick%60"},
		{"café", "caf%C3%A9"},
	}
	for _, test := range tests {
		if got := EncodePercent(test.in); got != test.want {
			t.Errorf("EncodePercent(%q): got %q, want %q", test.in, got, test.want)
		}
	}
}

func TestPercentRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"with space and % and # and & all at once",
		"^{[}];`",
		"unicode 日本語",
		string([]byte{0x01, 0x1f, 0x7f, 0xff}),
	}
	for _, in := range inputs {
		if got := DecodePercent(EncodePercent(in)); got != in {
			t.Errorf("round trip of %q: got %q", in, got)
		}
	}
}

func TestDecodePercentMalformed(t *testing.T) {
	// Malformed escapes pass through rather than corrupting the string.
	tests := []struct{ in, want string }{
		{"100%", "100%"},
		{"%zz", "%zz"},
		{"%2", "%2"},
	}
	for _, test := range tests {
		if got := DecodePercent(test.in); got != test.want {
			t.Errorf("DecodePercent(%q): got %q, want %q", test.in, got, test.want)
		}
	}
}

func TestXMLRoundTrip(t *testing.T) {
	inputs := []string{
		"plain",
		"a < b > c & d",
		`quote " and ' tick`,
		"&amp; already escaped",
	}
	for _, in := range inputs {
		if got := UnescapeXML(EscapeXML(in)); got != in {
			t.Errorf("round trip of %q: got %q", in, got)
		}
	}
}

func TestLayerOrder(t *testing.T) {
	// Percent-encoding first, then XML escaping; decoding reverses the
	// order. The ampersand demonstrates why the order matters.
	in := "a&b c"
	wire := EscapeXML(EncodePercent(in))
	if wire != "a%26b%20c" {
		t.Errorf("wire form: got %q, want %q", wire, "a%26b%20c")
	}
	if got := DecodePercent(UnescapeXML(wire)); got != in {
		t.Errorf("decode: got %q, want %q", got, in)
	}
}
