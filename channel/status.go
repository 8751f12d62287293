package channel

// Status 调用结束状态.
type Status int32

const (
	StatusOK               = Status(0)
	StatusCancelled        = Status(1)
	StatusUnknown          = Status(2)
	StatusDeadlineExceeded = Status(4)
	StatusUnavailable      = Status(14)
	StatusInternal         = Status(13)
)

var statusStrings = map[Status]string{
	StatusOK:               "OK",
	StatusCancelled:        "Cancelled",
	StatusUnknown:          "Unknown",
	StatusDeadlineExceeded: "DeadlineExceeded",
	StatusUnavailable:      "Unavailable",
	StatusInternal:         "Internal",
}

func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return "Unknown"
}
