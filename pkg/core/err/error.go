package errorc

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"certdeploy/pkg/core/consts"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	enableFullStack = true
	stackBufferPool = sync.Pool{
		New: func() interface{} {
			return make([]byte, 4096)
		},
	}
)

type ErrorBuilder struct {
	entryName string
}

func NewErrorBuilder(entryName string) *ErrorBuilder {
	return &ErrorBuilder{entryName: entryName}
}

func (e *ErrorBuilder) New(msg string, err error) *Error {
	stack := callerInfo(2)
	stack.Msg = msg
	stack.Cause = err
	stack.Entry = e.entryName
	stack.ErrorCode = getErrCode(err)
	return stack
}

// New err or msg can nil
func New(msg string, err error) *Error {
	stack := callerInfo(2)
	stack.Msg = msg
	stack.Cause = err
	stack.ErrorCode = getErrCode(err)
	return stack
}

func (e *Error) WithTraceID(ctx context.Context) *Error {
	e.TraceID = ""
	if ctx != nil {
		if id, ok := ctx.Value(consts.TraceKey).(string); ok {
			e.TraceID = id
		}
	}
	return e
}

func (e *Error) WithCode(code *ErrorCode) *Error {
	e.ErrorCode = code
	return e
}

func (e *Error) DB() *Error {
	if e.ErrorCode == ErrorCodeNotFound {
		return e
	}
	e.ErrorCode = ErrorCodeDB
	return e
}

func (e *Error) Third() *Error {
	e.ErrorCode = ErrorCodeThird
	return e
}

func (e *Error) ValidWithCtx() *Error {
	e.ErrorCode = ErrorCodeValid
	return e
}

func (e *Error) NoAuth() *Error {
	e.ErrorCode = ErrorCodeNoAuth
	return e
}

func (e *Error) Forbidden() *Error {
	e.ErrorCode = ErrorCodeForbidden
	return e
}

func (e *Error) NotFound() *Error {
	e.ErrorCode = ErrorCodeNotFound
	return e
}

func (e *Error) Unavailable() *Error {
	e.ErrorCode = ErrorCodeUnavailable
	return e
}

func (e *Error) Validation() *Error {
	e.ErrorCode = ErrorCodeValidation
	return e
}

func (e *Error) Acquisition() *Error {
	e.ErrorCode = ErrorCodeAcquisition
	return e
}

func (e *Error) BindingApply() *Error {
	e.ErrorCode = ErrorCodeBindingApply
	return e
}

func (e *Error) TaskExecution() *Error {
	e.ErrorCode = ErrorCodeTaskExecution
	return e
}

func (e *Error) Contention() *Error {
	e.ErrorCode = ErrorCodeContention
	return e
}

func (e *Error) Timeout() *Error {
	e.ErrorCode = ErrorCodeTimeout
	return e
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// chain 展开错误链并定位根因（第一个包装了非 *Error 的节点）
func (e *Error) chain() (errChain []*Error, rootCause *Error, original error) {
	for curr := e; curr != nil; {
		errChain = append(errChain, curr)
		next, ok := curr.Cause.(*Error)
		if !ok {
			break
		}
		curr = next
	}

	for i := len(errChain) - 1; i >= 0; i-- {
		if errChain[i].Cause == nil {
			continue
		}
		if _, ok := errChain[i].Cause.(*Error); !ok {
			return errChain, errChain[i], errChain[i].Cause
		}
	}
	rootCause = errChain[len(errChain)-1]
	return errChain, rootCause, rootCause.Cause
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	errChain, rootCause, original := e.chain()

	var sb strings.Builder
	sb.WriteString("========================= Root Cause =========================\n")
	if original != nil {
		sb.WriteString(fmt.Sprintf("Error: %s\n", original.Error()))
	}
	if rootCause.FileName != "" {
		sb.WriteString(fmt.Sprintf("Location: %s:%d\n", rootCause.FileName, rootCause.Line))
	}
	if rootCause.Msg != "" {
		sb.WriteString(fmt.Sprintf("Message: %s\n", rootCause.Msg))
	}
	if rootCause.TraceID != "" {
		sb.WriteString(fmt.Sprintf("Trace ID: %s\n", rootCause.TraceID))
	}

	sb.WriteString("\n======================= Full Error Trace =======================\n")
	for i, err := range errChain {
		sb.WriteString(fmt.Sprintf("%d: ", i+1))
		if err.ErrorCode != nil {
			sb.WriteString(fmt.Sprintf("[%s] ", err.ErrorCode.String()))
		}
		sb.WriteString(err.Msg)
		if err.FileName != "" {
			sb.WriteString(fmt.Sprintf("\n   at %s:%d", err.FileName, err.Line))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("==============================================================\n")
	return sb.String()
}

// RootCause 返回根因的简短描述，用于写入 ActionStep 等面向用户的文本
func (e *Error) RootCause() string {
	if e == nil {
		return ""
	}
	_, rootCause, original := e.chain()

	msg := rootCause.Msg
	if original != nil {
		if msg == "" {
			return original.Error()
		}
		return fmt.Sprintf("%s: %v", msg, original)
	}
	return msg
}

func (e *Error) ToLog(log *logrus.Entry, msgs ...string) *Error {
	if e == nil {
		return nil
	}

	errChain, rootCause, original := e.chain()

	fields := logrus.Fields{
		"root_cause_file": rootCause.FileName,
		"root_cause_line": rootCause.Line,
		"root_cause_func": rootCause.FuncName,
		"root_cause_msg":  rootCause.Msg,
	}
	if original != nil {
		fields["root_cause_original_error"] = original.Error()
	}
	if rootCause.ErrorCode != nil {
		fields["root_cause_error_code"] = rootCause.ErrorCode.String()
	}

	chain := make([]map[string]interface{}, 0, len(errChain))
	for _, err := range errChain {
		level := map[string]interface{}{
			"file": err.FileName,
			"line": err.Line,
			"func": err.FuncName,
			"msg":  err.Msg,
		}
		if err.ErrorCode != nil {
			level["code"] = err.ErrorCode.String()
		}
		if err == e && enableFullStack {
			if stack := err.fullStack(); stack != "" {
				level["stack_trace"] = stack
			}
		}
		chain = append(chain, level)
	}
	fields["error_chain"] = chain
	if e.TraceID != "" {
		fields["trace_id"] = e.TraceID
	}

	finalMsg := errChain[0].Msg
	if len(msgs) > 0 {
		finalMsg = strings.Join(msgs, ", ")
	}
	log.WithFields(fields).Error(finalMsg)
	return e
}

func callerInfo(skip int) *Error {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return &Error{FileName: "<unknown>", FuncName: "<unknown>"}
	}

	funcName := "<unknown>"
	if details := runtime.FuncForPC(pc); details != nil {
		funcName = details.Name()
	}
	return &Error{FileName: file, Line: line, FuncName: funcName}
}

func (e *Error) fullStack() string {
	if e.Stack != "" || !enableFullStack {
		return e.Stack
	}

	buf := stackBufferPool.Get().([]byte)
	defer stackBufferPool.Put(buf)

	n := runtime.Stack(buf, false)
	e.Stack = string(buf[:n])
	return e.Stack
}

// SetStackTraceEnabled 控制是否启用完整堆栈跟踪
func SetStackTraceEnabled(enabled bool) {
	enableFullStack = enabled
}

func getErrCode(err error) *ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	var e *Error
	if errors.As(err, &e) && e.ErrorCode != nil {
		return e.ErrorCode
	}

	for _, target := range notfounds {
		if errors.Is(err, target) {
			return ErrorCodeNotFound
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	return ErrorCodeUnknown
}

var notfounds = []error{gorm.ErrRecordNotFound, redis.Nil}

// Quick 不采集调用位置，适用于高频路径
func (e *ErrorBuilder) Quick(msg string, err error) *Error {
	return &Error{
		Msg:       msg,
		Cause:     err,
		Entry:     e.entryName,
		ErrorCode: getErrCode(err),
	}
}

func Quick(msg string, err error) *Error {
	return &Error{
		Msg:       msg,
		Cause:     err,
		ErrorCode: getErrCode(err),
	}
}

func ParseError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Quick("", err)
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrorCodeNotFound)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrorCodeValidation) || hasCode(err, ErrorCodeValid)
}

// IsRetryable 争用、超时类错误允许调用方重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var e *Error
	if errors.As(err, &e) && e.ErrorCode != nil {
		return e.ErrorCode.Retryable
	}
	return false
}

func hasCode(err error, code *ErrorCode) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) && e.ErrorCode == code {
		return true
	}
	if code == ErrorCodeNotFound {
		for _, target := range notfounds {
			if errors.Is(err, target) {
				return true
			}
		}
	}
	return false
}
