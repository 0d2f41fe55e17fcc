package errorc

import (
	"fmt"
)

type Error struct {
	*ErrorCode
	Msg      string
	Cause    error
	Stack    string `json:"-"`
	TraceID  string
	Entry    string `json:"-"`
	FileName string `json:"-"`
	Line     int    `json:"-"`
	FuncName string `json:"-"`
}

type ErrorCode struct {
	Code      int
	Name      string
	Retryable bool
}

func (c *ErrorCode) String() string {
	return fmt.Sprintf("%d: %s", c.Code, c.Name)
}

var (
	ErrorCodeUnknown     = &ErrorCode{Code: 500, Name: "Unknown"}
	ErrorCodeDB          = &ErrorCode{Code: 501, Name: "DB"}
	ErrorCodeThird       = &ErrorCode{Code: 502, Name: "Third"}
	ErrorCodeValid       = &ErrorCode{Code: 400, Name: "ValidWithCtx"}
	ErrorCodeNoAuth      = &ErrorCode{Code: 401, Name: "Unauthenticated"}
	ErrorCodeForbidden   = &ErrorCode{Code: 403, Name: "Forbidden"}
	ErrorCodeNotFound    = &ErrorCode{Code: 404, Name: "NotFound"}
	ErrorCodeUnavailable = &ErrorCode{Code: 503, Name: "Unavailable"}
	ErrorCodeInternal    = &ErrorCode{Code: 503, Name: "InternalError"}

	// 部署编排相关
	ErrorCodeValidation    = &ErrorCode{Code: 422, Name: "Validation"}
	ErrorCodeAcquisition   = &ErrorCode{Code: 502, Name: "Acquisition"}
	ErrorCodeBindingApply  = &ErrorCode{Code: 500, Name: "BindingApply"}
	ErrorCodeTaskExecution = &ErrorCode{Code: 500, Name: "TaskExecution"}
	ErrorCodeContention    = &ErrorCode{Code: 409, Name: "ConcurrencyContention", Retryable: true}
	ErrorCodeTimeout       = &ErrorCode{Code: 504, Name: "Timeout", Retryable: true}
)
