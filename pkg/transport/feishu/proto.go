// Package feishu implements the Feishu (Lark) chat-channel transport: the
// pbbp2 websocket frame codec, the reconnecting event loop, the CardKit
// streaming-card lifecycle, and the tenant-token-backed HTTP API client.
package feishu

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Header is a single key/value pair attached to a Frame.
type Header struct {
	Key   string
	Value string
}

// Frame is one pbbp2 websocket frame: the wire shape of every message the
// Feishu long-connection gateway exchanges with us.
type Frame struct {
	SeqID           int32
	LogID           int32
	Service         int32
	Method          int32
	Headers         []Header
	PayloadEncoding string
	PayloadType     string
	Payload         []byte
	LogIDNew        string
}

// Frame method types.
const (
	MethodControl int32 = 0
	MethodData    int32 = 1
)

// Header key constants.
const (
	HeaderType      = "type"
	HeaderMessageID = "message_id"
	HeaderSum       = "sum"
	HeaderSeq       = "seq"
	HeaderTraceID   = "trace_id"
	HeaderBizRT     = "biz_rt"
)

// Message type constants (the "type" header's value).
const (
	MsgTypeEvent = "event"
	MsgTypePing  = "ping"
	MsgTypePong  = "pong"
)

// Header returns the first header value matching key, or "".
func (f *Frame) Header(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// marshalHeader encodes one Header as a length-delimited protobuf message.
func marshalHeader(h Header) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, h.Key)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, h.Value)
	return b
}

func unmarshalHeader(data []byte) (Header, error) {
	var h Header
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return h, fmt.Errorf("feishu: bad header tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return h, fmt.Errorf("feishu: bad header.key: %w", protowire.ParseError(m))
			}
			h.Key = v
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return h, fmt.Errorf("feishu: bad header.value: %w", protowire.ParseError(m))
			}
			h.Value = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return h, fmt.Errorf("feishu: bad header field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return h, nil
}

// Marshal encodes a Frame into its protobuf wire bytes.
func (f *Frame) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(f.SeqID)))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(f.LogID)))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(f.Service)))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(f.Method)))
	for _, h := range f.Headers {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalHeader(h))
	}
	b = protowire.AppendTag(b, 6, protowire.BytesType)
	b = protowire.AppendString(b, f.PayloadEncoding)
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendString(b, f.PayloadType)
	b = protowire.AppendTag(b, 8, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, f.LogIDNew)
	return b
}

// UnmarshalFrame decodes a Frame from its protobuf wire bytes.
func UnmarshalFrame(data []byte) (*Frame, error) {
	f := &Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("feishu: bad frame tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case 1:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.seq_id: %w", protowire.ParseError(m))
			}
			f.SeqID = int32(v)
			data = data[m:]
		case 2:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.log_id: %w", protowire.ParseError(m))
			}
			f.LogID = int32(v)
			data = data[m:]
		case 3:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.service: %w", protowire.ParseError(m))
			}
			f.Service = int32(v)
			data = data[m:]
		case 4:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.method: %w", protowire.ParseError(m))
			}
			f.Method = int32(v)
			data = data[m:]
		case 5:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.headers: %w", protowire.ParseError(m))
			}
			h, err := unmarshalHeader(v)
			if err != nil {
				return nil, err
			}
			f.Headers = append(f.Headers, h)
			data = data[m:]
		case 6:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.payload_encoding: %w", protowire.ParseError(m))
			}
			f.PayloadEncoding = v
			data = data[m:]
		case 7:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.payload_type: %w", protowire.ParseError(m))
			}
			f.PayloadType = v
			data = data[m:]
		case 8:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.payload: %w", protowire.ParseError(m))
			}
			f.Payload = append([]byte(nil), v...)
			data = data[m:]
		case 9:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame.log_id_new: %w", protowire.ParseError(m))
			}
			f.LogIDNew = v
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("feishu: bad frame field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return f, nil
}
