// Package scenario reads YAML scripts describing conversations and plays them
// against a session.
//
//	name: http over tcp
//	seed: 7
//	steps:
//	  - {op: open, conn: web, options: {dst_port: 80}}
//	  - {op: http, conn: web, http: {resource: /index.html}}
//	  - {op: sleep, duration: 250ms}
//	  - {op: close, conn: web}
//	  - {op: dns_query, dns: {name: www.example.com}}
package scenario

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ops understood by Run.
const (
	OpOpen         = "open"
	OpClient       = "client"
	OpServer       = "server"
	OpSleep        = "sleep"
	OpClose        = "close"
	OpReset        = "reset"
	OpDNSQuery     = "dns_query"
	OpDNSAnswer    = "dns_answer"
	OpHTTP         = "http"
	OpHTTPRequest  = "http_request"
	OpHTTPResponse = "http_response"
)

// Scenario is a parsed script.
type Scenario struct {
	Name string `yaml:"name"`
	// Seed overrides the configured generator seed when set.
	Seed  *uint64 `yaml:"seed"`
	Steps []Step  `yaml:"-"`
}

// Step is one action. Which fields apply depends on Op.
type Step struct {
	Op       string         `yaml:"op"`
	Conn     string         `yaml:"conn"`
	Options  map[string]any `yaml:"options"`
	Data     *string        `yaml:"data"`
	Hex      string         `yaml:"hex"`
	Duration time.Duration  `yaml:"duration"`
	DNS      *DNSStep       `yaml:"dns"`
	HTTP     map[string]any `yaml:"http"`

	line int
}

// DNSStep carries the arguments of dns_query and dns_answer.
type DNSStep struct {
	Name    string  `yaml:"name"`
	Type    string  `yaml:"type"` // mnemonic or number, default A
	ID      *uint16 `yaml:"id"`
	Answers any     `yaml:"answers"`
}

// Line is the line of the step in its source, or 0.
func (s Step) Line() int { return s.line }

type document struct {
	Name  string      `yaml:"name"`
	Seed  *uint64     `yaml:"seed"`
	Steps []yaml.Node `yaml:"steps"`
}

// ParseFile reads a scenario from path.
func ParseFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse reads a scenario document. Unknown keys are errors.
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty scenario")
		}
		return nil, err
	}

	sc := &Scenario{Name: doc.Name, Seed: doc.Seed}
	for i := range doc.Steps {
		node := &doc.Steps[i]
		if err := checkKeys(node, stepKeys); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		var st Step
		if err := node.Decode(&st); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		st.line = node.Line
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("step %d (line %d): %w", i+1, st.line, err)
		}
		sc.Steps = append(sc.Steps, st)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario has no steps")
	}
	return sc, nil
}

// ParseBytes is Parse over an in-memory document.
func ParseBytes(data []byte) (*Scenario, error) {
	return Parse(bytes.NewReader(data))
}

var stepKeys = yamlKeys(reflect.TypeOf(Step{}))

func yamlKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag != "" && tag != "-" {
			keys[tag] = true
		}
	}
	return keys
}

func checkKeys(node *yaml.Node, allowed map[string]bool) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: step must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		if !allowed[k.Value] {
			return fmt.Errorf("line %d: unknown key %q", k.Line, k.Value)
		}
	}
	return nil
}

func (s Step) validate() error {
	needConn := func() error {
		if s.Conn == "" {
			return fmt.Errorf("%s needs conn", s.Op)
		}
		return nil
	}
	switch s.Op {
	case OpOpen, OpClose, OpReset, OpHTTP, OpHTTPRequest, OpHTTPResponse:
		return needConn()
	case OpClient, OpServer:
		if err := needConn(); err != nil {
			return err
		}
		if s.Data != nil && s.Hex != "" {
			return fmt.Errorf("%s takes data or hex, not both", s.Op)
		}
		if s.Data == nil && s.Hex == "" {
			return fmt.Errorf("%s needs data or hex", s.Op)
		}
		_, err := s.payload()
		return err
	case OpSleep:
		if s.Duration < 0 {
			return fmt.Errorf("negative sleep %s", s.Duration)
		}
		return nil
	case OpDNSQuery, OpDNSAnswer:
		if s.DNS == nil || s.DNS.Name == "" {
			return fmt.Errorf("%s needs dns.name", s.Op)
		}
		return nil
	case "":
		return fmt.Errorf("missing op")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
}
