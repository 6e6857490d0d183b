// Package http formats HTTP/1.1 requests and responses and writes them
// through a connection's client/server emission primitives. Header blocks
// and bodies go out as separate writes.
package http

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"firestige.xyz/pseudoconn/internal/session"
)

// Encoder writes HTTP messages on one connection.
type Encoder struct {
	conn session.Emitter
}

// New returns an Encoder that sends requests as the client and responses as
// the server of conn.
func New(conn session.Emitter) *Encoder {
	return &Encoder{conn: conn}
}

// Transaction writes a request followed by its response.
func (e *Encoder) Transaction(opts Options) error {
	if err := e.Request(opts); err != nil {
		return err
	}
	return e.Response(opts)
}

// Request writes the request head and, when present, the request body.
func (e *Encoder) Request(opts Options) error {
	head, body, err := BuildRequest(opts)
	if err != nil {
		return err
	}
	if err := e.conn.EmitClient(head); err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return e.conn.EmitClient(body)
}

// Response writes the response head and then each body segment.
func (e *Encoder) Response(opts Options) error {
	head, body, err := BuildResponse(opts)
	if err != nil {
		return err
	}
	if err := e.conn.EmitServer(head); err != nil {
		return err
	}
	for _, b := range body {
		if err := e.conn.EmitServer(b); err != nil {
			return err
		}
	}
	return nil
}

// BuildRequest returns the request line plus headers, and the body.
func BuildRequest(opts Options) (head, body []byte, err error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	o := opts.withDefaults()

	hdrs := append([]Header(nil), o.RequestHeaders...)
	if *o.Keepalive > 0 {
		hdrs = setDefault(hdrs, "Keep-Alive", strconv.Itoa(*o.Keepalive))
		hdrs = setDefault(hdrs, "Connection", "keep-alive")
	}
	if o.Request != "" {
		hdrs = set(hdrs, "Content-Length", strconv.Itoa(len(o.Request)))
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", o.Method, o.Resource)
	writeHeaders(&b, hdrs)
	return b.Bytes(), []byte(o.Request), nil
}

// BuildResponse returns the status line plus headers, and the body split into
// the segments it is written as: one for a plain body, one per chunk plus the
// terminator for a chunked body, none for an empty body.
func BuildResponse(opts Options) (head []byte, body [][]byte, err error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	o := opts.withDefaults()
	chunked := o.Chunks != nil

	hdrs := append([]Header(nil), o.ResponseHeaders...)
	if *o.Keepalive > 0 {
		hdrs = setDefault(hdrs, "Connection", "Keep-Alive")
	}
	if o.Encoding != "" {
		hdrs = set(hdrs, "Content-Encoding", o.Encoding)
	}

	if chunked {
		parts := make([][]byte, len(o.Chunks))
		for i, c := range o.Chunks {
			parts[i] = []byte(c)
		}
		if o.Encoding != "" {
			if parts, err = compressStream(o.Encoding, parts); err != nil {
				return nil, nil, err
			}
		}
		hdrs = set(hdrs, "Transfer-Encoding", "chunked")
		for _, p := range parts {
			if len(p) > 0 {
				body = append(body, chunk(p))
			}
		}
		body = append(body, []byte("0\r\n\r\n"))
	} else {
		data := []byte(*o.Response)
		if o.Encoding != "" && len(data) > 0 {
			parts, err := compressStream(o.Encoding, [][]byte{data})
			if err != nil {
				return nil, nil, err
			}
			data = bytes.Join(parts, nil)
		}
		if len(data) > 0 {
			hdrs = set(hdrs, "Content-Length", strconv.Itoa(len(data)))
			body = append(body, data)
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", o.Status, o.Reason)
	writeHeaders(&b, hdrs)
	return b.Bytes(), body, nil
}

func chunk(p []byte) []byte {
	out := make([]byte, 0, len(p)+12)
	out = strconv.AppendInt(out, int64(len(p)), 16)
	out = append(out, "\r\n"...)
	out = append(out, p...)
	return append(out, "\r\n"...)
}

type flushWriter interface {
	io.WriteCloser
	Flush() error
}

// compressStream runs parts through one compressor, flushing after each so
// every part yields its own segment. The stream trailer is the last segment.
func compressStream(encoding string, parts [][]byte) ([][]byte, error) {
	var buf bytes.Buffer
	var w flushWriter
	var err error
	switch encoding {
	case EncodingGzip:
		w, err = gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	case EncodingDeflate:
		w, err = zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(parts)+1)
	take := func() {
		out = append(out, bytes.Clone(buf.Bytes()))
		buf.Reset()
	}
	for _, p := range parts {
		if _, err := w.Write(p); err != nil {
			return nil, err
		}
		if err := w.Flush(); err != nil {
			return nil, err
		}
		take()
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	take()
	return out, nil
}

func writeHeaders(b *bytes.Buffer, hdrs []Header) {
	for _, h := range hdrs {
		fmt.Fprintf(b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
}

func index(hdrs []Header, name string) int {
	for i, h := range hdrs {
		if strings.EqualFold(h.Name, name) {
			return i
		}
	}
	return -1
}

// setDefault appends the header unless one with that name exists.
func setDefault(hdrs []Header, name, value string) []Header {
	if index(hdrs, name) >= 0 {
		return hdrs
	}
	return append(hdrs, Header{Name: name, Value: value})
}

// set replaces the value of an existing header or appends a new one.
func set(hdrs []Header, name, value string) []Header {
	if i := index(hdrs, name); i >= 0 {
		hdrs[i].Value = value
		return hdrs
	}
	return append(hdrs, Header{Name: name, Value: value})
}
