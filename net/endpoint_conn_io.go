package net

import (
	"errors"
	"fmt"
	"time"

	"github.com/godyy/gnet"
	"github.com/godyy/gutils/buffer"
	"github.com/godyy/gutils/buffer/bytes"
	pkgerrors "github.com/pkg/errors"
)

// connReadWriter 实现 ConnEndpoint 的读写功能.
type connReadWriter struct {
	ep          *ConnEndpoint      // 所属 Endpoint.
	writeBuffer *bytes.FixedBuffer // 发送缓冲区.
	unflushed   []*writeRequest    // 已写入缓冲区但尚未发送的写请求.
}

// newConnReadWriter 创建 connReadWriter.
func newConnReadWriter(ep *ConnEndpoint) *connReadWriter {
	return &connReadWriter{
		ep:          ep,
		writeBuffer: bytes.NewFixedBuffer(ep.cfg.WriteBufSize),
	}
}

// SessionReadPacket 实现 gnet.SessionPacketReadWriter. 每次返回一次读取到的数据块.
func (rw *connReadWriter) SessionReadPacket(cr gnet.ConnReader) (gnet.Packet, error) {
	chunk := make([]byte, rw.ep.cfg.ReadBufSize)
	for {
		n, err := cr.Read(chunk)
		if n > 0 {
			return readChunk(chunk[:n]), nil
		}
		if err != nil {
			return nil, pkgerrors.WithMessage(err, "endpoint read")
		}
	}
}

// writeFromBuffer 从缓冲区发送数据.
func (rw *connReadWriter) writeFromBuffer(cw gnet.ConnWriter) error {
	if err := cw.SetWriteDeadline(time.Now().Add(rw.ep.cfg.WriteTimeout)); err != nil {
		return pkgerrors.WithMessage(err, "set write deadline")
	}
	for rw.writeBuffer.Readable() > 0 {
		if _, err := rw.writeBuffer.WriteTo(cw); err != nil {
			return err
		}
	}
	return nil
}

// writeFull 将 p 通过 cw 完整的发送出去.
func (rw *connReadWriter) writeFull(cw gnet.ConnWriter, p []byte) error {
	for len(p) > 0 {
		n, err := rw.writeBuffer.Write(p)
		if n > 0 {
			p = p[n:]
		}
		if err != nil {
			if errors.Is(err, buffer.ErrBufferFull) {
				if err := rw.writeFromBuffer(cw); err != nil {
					return err
				}
				continue
			}
			return err
		}
	}
	return nil
}

// finish 完成所有缓冲中的写请求.
func (rw *connReadWriter) finish(success bool) {
	for i, req := range rw.unflushed {
		rw.ep.onWritten(req, success)
		rw.unflushed[i] = nil
	}
	rw.unflushed = rw.unflushed[:0]
}

// SessionWritePacket 实现 gnet.SessionPacketReadWriter.
// 写请求在其数据全部发送后完成.
func (rw *connReadWriter) SessionWritePacket(cw gnet.ConnWriter, p gnet.Packet, more bool) error {
	req, ok := p.(*writeRequest)
	if !ok {
		return fmt.Errorf("endpoint write packet, unknown packet type %T", p)
	}
	rw.unflushed = append(rw.unflushed, req)

	for _, b := range req.buf.Slices() {
		if err := rw.writeFull(cw, b); err != nil {
			rw.finish(false)
			return pkgerrors.WithMessage(err, "endpoint write")
		}
	}

	if !more {
		if rw.writeBuffer.Readable() > 0 {
			if err := rw.writeFromBuffer(cw); err != nil {
				rw.finish(false)
				return pkgerrors.WithMessage(err, "endpoint write from buffer")
			}
		}
		rw.finish(true)
	}

	return nil
}
