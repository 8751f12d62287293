package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/godyy/gcall/channel"
	"google.golang.org/protobuf/encoding/protowire"
)

// frameKind 帧类型.
type frameKind int8

// 帧类型枚举值.
const (
	frameKindUnknown = frameKind(0)
	frameKindMessage = frameKind(1) // 消息
	frameKindClose   = frameKind(2) // 结束发送, 服务端携带调用状态
	frameKindReset   = frameKind(3) // 终止流
)

// frameKindStrings 帧类型字符串值.
var frameKindStrings = map[frameKind]string{
	frameKindUnknown: "Unknown",
	frameKindMessage: "Message",
	frameKindClose:   "Close",
	frameKindReset:   "Reset",
}

func (k frameKind) String() string {
	return frameKindStrings[k]
}

// frameHeadLength 帧头长度.
const frameHeadLength = 4

// frameHead 帧头, 大端序的帧体长度.
type frameHead [frameHeadLength]byte

func (h *frameHead) bodyLen() uint32 {
	return binary.BigEndian.Uint32((*h)[:])
}

func (h *frameHead) setBodyLen(n uint32) {
	binary.BigEndian.PutUint32((*h)[:], n)
}

// 帧体字段号.
const (
	fieldStreamId = protowire.Number(1)
	fieldKind     = protowire.Number(2)
	fieldStatus   = protowire.Number(3)
	fieldDetail   = protowire.Number(4)
	fieldPayload  = protowire.Number(5)
)

// frame 帧. 帧体使用 protobuf 编码.
type frame struct {
	streamId uint32
	kind     frameKind
	status   channel.Status
	detail   string
	payload  []byte
}

// appendFrame 将 f 编码后追加到 b.
func appendFrame(b []byte, f *frame) []byte {
	start := len(b)
	b = append(b, 0, 0, 0, 0)

	b = protowire.AppendTag(b, fieldStreamId, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.streamId))
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.kind))
	if f.status != channel.StatusOK {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(f.status))
	}
	if f.detail != "" {
		b = protowire.AppendTag(b, fieldDetail, protowire.BytesType)
		b = protowire.AppendString(b, f.detail)
	}
	if len(f.payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.payload)
	}

	head := (*frameHead)(b[start : start+frameHeadLength])
	head.setBodyLen(uint32(len(b) - start - frameHeadLength))
	return b
}

// decode 解码帧体. payload 为复制后的数据.
func (f *frame) decode(body []byte) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return protowire.ParseError(n)
		}
		body = body[n:]

		switch {
		case num == fieldStreamId && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(body)
			f.streamId = uint32(v)
		case num == fieldKind && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(body)
			f.kind = frameKind(v)
		case num == fieldStatus && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(body)
			f.status = channel.Status(v)
		case num == fieldDetail && typ == protowire.BytesType:
			f.detail, n = protowire.ConsumeString(body)
		case num == fieldPayload && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(body)
			f.payload = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, body)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		body = body[n:]
	}

	if f.streamId == 0 {
		return fmt.Errorf("frame stream id not specified")
	}

	switch f.kind {
	case frameKindMessage, frameKindClose, frameKindReset:
	default:
		return fmt.Errorf("frame unknown kind %d", f.kind)
	}

	return nil
}
