package tfevents

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/JakeFAU/tbprogress/internal/model"
)

// FileVersion is the marker TensorBoard expects in the first event.
const FileVersion = "brain.Event:2"

// tensorflow.Event field numbers.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventGraphDef    protowire.Number = 4
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2

	graphNode protowire.Number = 1

	nodeName  protowire.Number = 1
	nodeOp    protowire.Number = 2
	nodeInput protowire.Number = 3
)

// SummaryValue is one tagged scalar inside an event summary.
type SummaryValue struct {
	Tag         string
	SimpleValue float32
}

// Event is the subset of tensorflow.Event written by this package.
type Event struct {
	// WallTime is seconds since the Unix epoch.
	WallTime    float64
	Step        int64
	FileVersion string
	GraphDef    []byte
	Summary     []SummaryValue
}

// Time converts WallTime back to a time.Time.
func (e Event) Time() time.Time {
	sec, frac := math.Modf(e.WallTime)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// WallTimeOf converts t to the float seconds stored in events.
func WallTimeOf(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Marshal encodes the event in protobuf wire format. Zero-valued fields are
// omitted, as proto3 does.
func (e Event) Marshal() []byte {
	var b []byte
	if e.WallTime != 0 {
		b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(e.WallTime))
	}
	if e.Step != 0 {
		b = protowire.AppendTag(b, eventStep, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Step))
	}
	if e.FileVersion != "" {
		b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
		b = protowire.AppendString(b, e.FileVersion)
	}
	if len(e.GraphDef) > 0 {
		b = protowire.AppendTag(b, eventGraphDef, protowire.BytesType)
		b = protowire.AppendBytes(b, e.GraphDef)
	}
	if len(e.Summary) > 0 {
		var summary []byte
		for _, v := range e.Summary {
			summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
			summary = protowire.AppendBytes(summary, marshalValue(v))
		}
		b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
		b = protowire.AppendBytes(b, summary)
	}
	return b
}

func marshalValue(v SummaryValue) []byte {
	var b []byte
	b = protowire.AppendTag(b, valueTag, protowire.BytesType)
	b = protowire.AppendString(b, v.Tag)
	b = protowire.AppendTag(b, valueSimpleValue, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(v.SimpleValue))
	return b
}

// UnmarshalEvent decodes an event. Unknown fields are skipped.
func UnmarshalEvent(b []byte) (Event, error) {
	var e Event
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(body)
			e.WallTime = math.Float64frombits(v)
			return n, nil
		case num == eventStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			e.Step = int64(v)
			return n, nil
		case num == eventFileVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			e.FileVersion = v
			return n, nil
		case num == eventGraphDef && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			e.GraphDef = append([]byte(nil), v...)
			return n, nil
		case num == eventSummary && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return n, nil
			}
			values, err := unmarshalSummary(v)
			if err != nil {
				return 0, err
			}
			e.Summary = append(e.Summary, values...)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
	if err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

func unmarshalSummary(b []byte) ([]SummaryValue, error) {
	var out []SummaryValue
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num != summaryValue || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, body), nil
		}
		v, n := protowire.ConsumeBytes(body)
		if n < 0 {
			return n, nil
		}
		value, err := unmarshalValue(v)
		if err != nil {
			return 0, err
		}
		out = append(out, value)
		return n, nil
	})
	return out, err
}

func unmarshalValue(b []byte) (SummaryValue, error) {
	var v SummaryValue
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		switch {
		case num == valueTag && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(body)
			v.Tag = s
			return n, nil
		case num == valueSimpleValue && typ == protowire.Fixed32Type:
			f, n := protowire.ConsumeFixed32(body)
			v.SimpleValue = math.Float32frombits(f)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, body), nil
	})
	return v, err
}

// walkFields iterates the top-level fields of a message. fn consumes the
// field body and returns the consumed length or a negative protowire code.
func walkFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// EncodeGraphDef serializes the model as a tensorflow.GraphDef so TensorBoard
// can draw it on the Graphs tab.
func EncodeGraphDef(m model.Model) []byte {
	var b []byte
	for _, node := range m.Nodes() {
		var nb []byte
		nb = protowire.AppendTag(nb, nodeName, protowire.BytesType)
		nb = protowire.AppendString(nb, node.Name)
		nb = protowire.AppendTag(nb, nodeOp, protowire.BytesType)
		nb = protowire.AppendString(nb, node.Op)
		for _, in := range node.Inputs {
			nb = protowire.AppendTag(nb, nodeInput, protowire.BytesType)
			nb = protowire.AppendString(nb, in)
		}
		b = protowire.AppendTag(b, graphNode, protowire.BytesType)
		b = protowire.AppendBytes(b, nb)
	}
	return b
}

// DecodeGraphDef is the inverse of EncodeGraphDef.
func DecodeGraphDef(b []byte) ([]model.Node, error) {
	var nodes []model.Node
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
		if num != graphNode || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, body), nil
		}
		nb, n := protowire.ConsumeBytes(body)
		if n < 0 {
			return n, nil
		}
		var node model.Node
		err := walkFields(nb, func(num protowire.Number, typ protowire.Type, body []byte) (int, error) {
			if typ != protowire.BytesType {
				return protowire.ConsumeFieldValue(num, typ, body), nil
			}
			s, m := protowire.ConsumeString(body)
			switch num {
			case nodeName:
				node.Name = s
			case nodeOp:
				node.Op = s
			case nodeInput:
				node.Inputs = append(node.Inputs, s)
			}
			return m, nil
		})
		if err != nil {
			return 0, err
		}
		nodes = append(nodes, node)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	return nodes, nil
}
