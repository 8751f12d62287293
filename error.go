package gcall

import (
	"errors"
	"fmt"

	"github.com/godyy/gcall/channel"
)

// ErrChannelClosed Channel 已关闭.
var ErrChannelClosed = errors.New("channel closed")

// ErrServerClosed Server 已关闭.
var ErrServerClosed = errors.New("server closed")

// StatusError 携带调用状态的错误.
type StatusError struct {
	Status channel.Status
	Detail string
}

// NewStatusError 构造 StatusError.
func NewStatusError(status channel.Status, detail string) *StatusError {
	return &StatusError{Status: status, Detail: detail}
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call status %s", e.Status)
	}
	return fmt.Sprintf("call status %s: %s", e.Status, e.Detail)
}

// StatusOf 返回 err 对应的调用状态. 不携带状态的错误视为 StatusUnknown.
func StatusOf(err error) channel.Status {
	if err == nil {
		return channel.StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return channel.StatusUnknown
}

// toStatusError 将 err 转换为 StatusError.
func toStatusError(err error) *StatusError {
	var se *StatusError
	if errors.As(err, &se) {
		return se
	}
	return NewStatusError(channel.StatusUnknown, err.Error())
}
