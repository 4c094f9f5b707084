package replication

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestPipeline_RoundTrip(t *testing.T) {
	var out bytes.Buffer
	enc := newEncoder(&out)
	payload := strings.Repeat("<row>depot ]]> snapshot</row>", 500)
	if _, err := enc.WriteString(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	text := out.String()
	if !strings.HasSuffix(text, "\r\n") {
		t.Error("expected the last line to end with CRLF")
	}
	lines := strings.Split(strings.TrimSuffix(text, "\r\n"), "\r\n")
	for i, line := range lines {
		if len(line) > lineLength {
			t.Fatalf("line %d is %d characters long", i, len(line))
		}
		if i < len(lines)-1 && len(line) != lineLength {
			t.Fatalf("inner line %d is %d characters long", i, len(line))
		}
	}

	dec, err := newDecoder(strings.NewReader(text))
	if err != nil {
		t.Fatalf("newDecoder: %v", err)
	}
	defer dec.Close()
	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != payload {
		t.Error("round trip changed the payload")
	}
}

func TestLineWriter_ExactLines(t *testing.T) {
	var out bytes.Buffer
	l := &lineWriter{w: &out}
	l.Write([]byte(strings.Repeat("a", lineLength)))
	l.Close()
	if out.String() != strings.Repeat("a", lineLength)+"\r\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}
