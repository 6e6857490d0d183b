package dns

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
)

var typeNames = func() map[string]layers.DNSType {
	m := make(map[string]layers.DNSType)
	for _, t := range []layers.DNSType{
		layers.DNSTypeA, layers.DNSTypeNS, layers.DNSTypeCNAME, layers.DNSTypeSOA,
		layers.DNSTypePTR, layers.DNSTypeMX, layers.DNSTypeTXT, layers.DNSTypeAAAA,
		layers.DNSTypeSRV, layers.DNSTypeOPT, layers.DNSTypeURI,
	} {
		m[t.String()] = t
	}
	return m
}()

// ParseType accepts a mnemonic ("MX", case-insensitive) or a decimal code.
func ParseType(s string) (layers.DNSType, error) {
	s = strings.TrimSpace(s)
	if t, ok := typeNames[strings.ToUpper(s)]; ok {
		return t, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown record type %q", s)
	}
	return layers.DNSType(n), nil
}

// AnswersFrom interprets loosely typed answer data, as found in scenario
// files:
//
//	"1.2.3.4"                        one answer, type inferred
//	["txt data", 16]                 one answer with explicit type
//	["txt data", 16, 2]              one answer with type and TTL
//	["a.example", ["b", 16], ...]    a list of any of the above
//
// A two or three element list whose second element is an integer is a single
// detailed answer; any other list is a list of answers. Maps with value,
// type and ttl keys are also accepted.
func AnswersFrom(v any) ([]Answer, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case Answer:
		return []Answer{x}, nil
	case []Answer:
		return x, nil
	}
	list, ok := asList(v)
	if !ok {
		a, err := answerFrom(v)
		if err != nil {
			return nil, err
		}
		return []Answer{a}, nil
	}
	if (len(list) == 2 || len(list) == 3) && isInteger(list[1]) {
		a, err := answerFrom(list)
		if err != nil {
			return nil, err
		}
		return []Answer{a}, nil
	}
	out := make([]Answer, 0, len(list))
	for i, item := range list {
		a, err := answerFrom(item)
		if err != nil {
			return nil, fmt.Errorf("answer %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func answerFrom(v any) (Answer, error) {
	if m, ok := v.(map[string]any); ok {
		return answerFromMap(m)
	}
	list, ok := asList(v)
	if !ok {
		return Answer{Value: fmt.Sprint(v)}, nil
	}
	if len(list) == 0 || len(list) > 3 {
		return Answer{}, fmt.Errorf("answer needs 1 to 3 elements, got %d", len(list))
	}
	a := Answer{Value: fmt.Sprint(list[0])}
	if len(list) > 1 {
		t, err := typeFrom(list[1])
		if err != nil {
			return a, err
		}
		a.Type = t
	}
	if len(list) > 2 {
		ttl, err := uintFrom(list[2], 32)
		if err != nil {
			return a, fmt.Errorf("ttl: %w", err)
		}
		a.TTL = uint32(ttl)
	}
	return a, nil
}

func answerFromMap(m map[string]any) (Answer, error) {
	var a Answer
	for k, v := range m {
		switch k {
		case "value":
			a.Value = fmt.Sprint(v)
		case "type":
			t, err := typeFrom(v)
			if err != nil {
				return a, err
			}
			a.Type = t
		case "ttl":
			ttl, err := uintFrom(v, 32)
			if err != nil {
				return a, fmt.Errorf("ttl: %w", err)
			}
			a.TTL = uint32(ttl)
		default:
			return a, fmt.Errorf("unknown answer key %q", k)
		}
	}
	return a, nil
}

func typeFrom(v any) (layers.DNSType, error) {
	switch x := v.(type) {
	case layers.DNSType:
		return x, nil
	case string:
		return ParseType(x)
	}
	n, err := uintFrom(v, 16)
	if err != nil {
		return 0, fmt.Errorf("record type: %w", err)
	}
	return layers.DNSType(n), nil
}

func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isInteger(v any) bool {
	if _, ok := v.(layers.DNSType); ok {
		return true
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func uintFrom(v any, bits int) (uint64, error) {
	rv := reflect.ValueOf(v)
	var n uint64
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, fmt.Errorf("negative value %d", rv.Int())
		}
		n = uint64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = rv.Uint()
	case reflect.String:
		return strconv.ParseUint(rv.String(), 10, bits)
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
	if bits < 64 && n >= 1<<bits {
		return 0, fmt.Errorf("%d out of range", n)
	}
	return n, nil
}
