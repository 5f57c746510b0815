package directdecisions

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

type Kind uint8

const (
	// KindTransient 网络错误、5xx、429，可重试
	KindTransient Kind = iota
	// KindRejected 4xx 校验失败，不可重试
	KindRejected
)

// Error 远端调用失败
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Errors     []string
	cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind == KindTransient {
		b.WriteString("directdecisions: transient")
	} else {
		b.WriteString("directdecisions: rejected")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Errors) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Errors, "; "))
		b.WriteString("]")
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

func transient(cause error) *Error {
	return &Error{Kind: KindTransient, cause: cause}
}

// fromStatus 根据响应状态码归类
func fromStatus(status int, body errorResponse) *Error {
	e := &Error{StatusCode: status, Message: body.Message, Errors: body.Errors}
	if e.Message == "" {
		e.Message = strings.ToLower(http.StatusText(status))
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		e.Kind = KindTransient
	} else {
		e.Kind = KindRejected
	}
	return e
}

func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

func IsRejected(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRejected
}

// IsNotFound 远端投票已不存在
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindRejected && e.StatusCode == http.StatusNotFound
}
