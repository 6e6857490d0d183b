package session

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/mitchellh/mapstructure"
)

const (
	DefaultTransport = "tcp"
	DefaultMTU       = 1500
	DefaultSrcIP     = "10.0.0.1"
	DefaultDstIP     = "42.13.37.80"

	// Unset ports are drawn from [portBase, portBase+portSpan).
	portBase = 1025
	portSpan = 30000

	maxVLANID = 0x0FFF
	maxMTU    = math.MaxUint16
)

// Options is the closed set of per-connection settings. Zero values select
// defaults; nil pointers and nil addresses/MACs are drawn from the session's
// named streams.
type Options struct {
	Transport string   `mapstructure:"transport"`
	MTU       int      `mapstructure:"mtu"`
	IPv6      bool     `mapstructure:"ipv6"`
	SrcIP     any      `mapstructure:"src_ip"`
	DstIP     any      `mapstructure:"dst_ip"`
	SrcPort   *uint16  `mapstructure:"src_port"`
	DstPort   *uint16  `mapstructure:"dst_port"`
	SrcSeq    *uint32  `mapstructure:"src_seq"`
	DstSeq    *uint32  `mapstructure:"dst_seq"`
	SrcMAC    any      `mapstructure:"src_mac"`
	DstMAC    any      `mapstructure:"dst_mac"`
	VLANs     []uint16 `mapstructure:"vlans"`
	// Segmentation is "legacy" or "strict"; empty inherits the session setting.
	Segmentation string `mapstructure:"segmentation"`
}

// Port returns a pointer for Options.SrcPort/DstPort.
func Port(p uint16) *uint16 { return &p }

// Seq returns a pointer for Options.SrcSeq/DstSeq.
func Seq(s uint32) *uint32 { return &s }

// OptionKeys lists every key DecodeOptions accepts.
func OptionKeys() []string {
	t := reflect.TypeOf(Options{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, t.Field(i).Tag.Get("mapstructure"))
	}
	return keys
}

// DecodeOptions converts a free-form map (as read from YAML) into Options.
// An unknown key yields an *OptionError naming it.
func DecodeOptions(m map[string]any) (Options, error) {
	var opts Options
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: rangeCheckHook,
		Metadata:   &md,
		Result:     &opts,
		TagName:    "mapstructure",
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(m); err != nil {
		return opts, &OptionError{Reason: err.Error()}
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return opts, &OptionError{Key: md.Unused[0], Reason: "unknown option"}
	}
	return opts, nil
}

// rangeCheckHook rejects integers that would be truncated when stored in a
// uint16 or uint32 field.
func rangeCheckHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	var max uint64
	switch to.Kind() {
	case reflect.Uint16:
		max = math.MaxUint16
	case reflect.Uint32:
		max = math.MaxUint32
	default:
		return data, nil
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int() < 0 || uint64(v.Int()) > max {
			return nil, fmt.Errorf("%d out of range for %v", v.Int(), to)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if v.Uint() > max {
			return nil, fmt.Errorf("%d out of range for %v", v.Uint(), to)
		}
	}
	return data, nil
}
