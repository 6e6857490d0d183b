package http

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/pseudoconn/internal/core"
)

const (
	DefaultMethod    = "GET"
	DefaultResource  = "/"
	DefaultHost      = "pseudoconn.com"
	DefaultStatus    = 200
	DefaultKeepalive = 300
	DefaultBody      = "Hello, World!"
)

// Content codings accepted in Options.Encoding.
const (
	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
)

// Header is one header line. Headers keep the order they are given in.
type Header struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// Options describe one request/response exchange. Zero values select the
// defaults above.
type Options struct {
	Method   string `mapstructure:"method"`
	Resource string `mapstructure:"resource"`
	// Keepalive adds Keep-Alive/Connection headers. Nil means
	// DefaultKeepalive, zero disables them.
	Keepalive *int `mapstructure:"keepalive"`
	// RequestHeaders replace the default Host header when set.
	RequestHeaders []Header `mapstructure:"request_headers"`
	Request        string   `mapstructure:"request"`

	Status          int      `mapstructure:"status"`
	Reason          string   `mapstructure:"reason"`
	ResponseHeaders []Header `mapstructure:"response_headers"`
	// Response is the body; nil means DefaultBody. Ignored when Chunks is set.
	Response *string `mapstructure:"response"`
	// Chunks selects chunked transfer coding, one chunk per element.
	Chunks []string `mapstructure:"chunks"`
	// Encoding compresses the response body: "gzip" or "deflate".
	Encoding string `mapstructure:"encoding"`
}

// Keep returns a pointer for Options.Keepalive.
func Keep(seconds int) *int { return &seconds }

// Body returns a pointer for Options.Response.
func Body(s string) *string { return &s }

// DecodeOptions converts a scenario map into Options, rejecting unknown keys.
func DecodeOptions(m map[string]any) (Options, error) {
	var opts Options
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &opts,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(m); err != nil {
		return opts, fmt.Errorf("%w: http: %v", core.ErrInvalidOption, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return opts, fmt.Errorf("%w: http: unknown option %q", core.ErrInvalidOption, md.Unused[0])
	}
	return opts, opts.validate()
}

func (o Options) validate() error {
	switch strings.ToLower(o.Encoding) {
	case "", EncodingGzip, EncodingDeflate:
	default:
		return fmt.Errorf("%w: http: unsupported encoding %q", core.ErrInvalidOption, o.Encoding)
	}
	if o.Status < 0 || o.Status > 999 {
		return fmt.Errorf("%w: http: status %d", core.ErrInvalidOption, o.Status)
	}
	if o.Keepalive != nil && *o.Keepalive < 0 {
		return fmt.Errorf("%w: http: negative keepalive", core.ErrInvalidOption)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = DefaultMethod
	}
	if o.Resource == "" {
		o.Resource = DefaultResource
	}
	if o.Keepalive == nil {
		o.Keepalive = Keep(DefaultKeepalive)
	}
	if o.RequestHeaders == nil {
		o.RequestHeaders = []Header{{Name: "Host", Value: DefaultHost}}
	}
	if o.Status == 0 {
		o.Status = DefaultStatus
	}
	if o.Reason == "" {
		o.Reason = ReasonPhrase(o.Status)
	}
	if o.Response == nil {
		o.Response = Body(DefaultBody)
	}
	o.Encoding = strings.ToLower(o.Encoding)
	return o
}

var reasons = map[int]string{
	100: "Continue",
	200: "OK",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	304: "Not Modified",
	307: "Temporary Redirect",
	400: "Bad Request",
	403: "Forbidden",
	500: "Internal Server Error",
	501: "Not Implemented",
}

// ReasonPhrase returns the phrase for the known status codes and "Received"
// for the rest.
func ReasonPhrase(status int) string {
	if r, ok := reasons[status]; ok {
		return r
	}
	return "Received"
}
