package net

import (
	"bytes"
)

// OpStatus Endpoint 读写操作的即时结果.
type OpStatus int8

const (
	OpDone    = OpStatus(0) // 立即完成, 不会调用回调.
	OpPending = OpStatus(1) // 完成时调用回调, 恰好一次.
	OpError   = OpStatus(2) // 出错, 不会调用回调.
)

var opStatusStrings = map[OpStatus]string{
	OpDone:    "Done",
	OpPending: "Pending",
	OpError:   "Error",
}

func (s OpStatus) String() string {
	return opStatusStrings[s]
}

// Closure 异步操作完成回调. success 为 false 表示 Endpoint 已关闭或出错.
type Closure func(success bool)

// SliceBuffer 字节切片序列.
type SliceBuffer struct {
	slices [][]byte
	length int
}

// Append 追加切片.
func (b *SliceBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.slices = append(b.slices, p)
	b.length += len(p)
}

// Slices 返回全部切片.
func (b *SliceBuffer) Slices() [][]byte {
	return b.slices
}

// Count 切片数量.
func (b *SliceBuffer) Count() int {
	return len(b.slices)
}

// Len 字节总长度.
func (b *SliceBuffer) Len() int {
	return b.length
}

// Bytes 合并为连续字节.
func (b *SliceBuffer) Bytes() []byte {
	return bytes.Join(b.slices, nil)
}

// Reset 清空.
func (b *SliceBuffer) Reset() {
	clear(b.slices)
	b.slices = b.slices[:0]
	b.length = 0
}

// Endpoint 双向字节流的一端. 可以是 tcp 连接、标准输入输出或共享内存等.
type Endpoint interface {
	// Read 读取数据追加到 slices.
	// 有数据可读时返回 OpDone; 否则返回 OpPending, 数据到达或出错时调用 cb.
	// 同一时刻只允许一个未完成的读.
	Read(slices *SliceBuffer, cb Closure) OpStatus

	// Write 发送 slices 中的数据. 在 cb 被调用之前 slices 归 Endpoint 所有.
	Write(slices *SliceBuffer, cb Closure) OpStatus

	// AddToPollset 加入 Pollset.
	AddToPollset(ps *Pollset)

	// AddToPollsetSet 加入 PollsetSet.
	AddToPollsetSet(pss *PollsetSet)

	// Shutdown 关闭, 所有未完成的回调立即以失败调用.
	Shutdown()

	// Destroy 关闭并释放资源.
	Destroy()

	// Peer 对端地址.
	Peer() string
}
