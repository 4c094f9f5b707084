package replication

import (
	"bufio"
	"encoding/base64"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// lineLength is the width of the base64 lines of a snapshot.
const lineLength = 76

var crlf = []byte("\r\n")

// lineWriter breaks the stream written to it into CRLF-terminated lines.
type lineWriter struct {
	w   io.Writer
	col int
}

func (l *lineWriter) Write(p []byte) (int, error) {
	n := 0
	for len(p) > 0 {
		chunk := lineLength - l.col
		if chunk > len(p) {
			chunk = len(p)
		}
		m, err := l.w.Write(p[:chunk])
		n += m
		if err != nil {
			return n, err
		}
		l.col += m
		p = p[chunk:]
		if l.col == lineLength {
			if _, err := l.w.Write(crlf); err != nil {
				return n, err
			}
			l.col = 0
		}
	}
	return n, nil
}

// Close terminates a partial last line.
func (l *lineWriter) Close() error {
	if l.col == 0 {
		return nil
	}
	l.col = 0
	_, err := l.w.Write(crlf)
	return err
}

// encoder is the outbound snapshot pipeline: text is buffered, gzip
// compressed, base64 encoded and written to the destination in CRLF lines.
type encoder struct {
	*bufio.Writer
	gz    *gzip.Writer
	b64   io.WriteCloser
	lines *lineWriter
}

func newEncoder(w io.Writer) *encoder {
	lines := &lineWriter{w: w}
	b64 := base64.NewEncoder(base64.StdEncoding, lines)
	gz := gzip.NewWriter(b64)
	return &encoder{Writer: bufio.NewWriter(gz), gz: gz, b64: b64, lines: lines}
}

// Close flushes every stage in order. It does not close the destination.
func (e *encoder) Close() error {
	if err := e.Flush(); err != nil {
		return errors.Wrap(err, "flushing snapshot")
	}
	if err := e.gz.Close(); err != nil {
		return errors.Wrap(err, "closing gzip stream")
	}
	if err := e.b64.Close(); err != nil {
		return errors.Wrap(err, "closing base64 stream")
	}
	return e.lines.Close()
}

// newDecoder reverses the pipeline: base64 lines are decoded and
// decompressed. The caller closes the returned reader.
func newDecoder(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(base64.NewDecoder(base64.StdEncoding, r))
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot stream")
	}
	return gz, nil
}
