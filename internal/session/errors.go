package session

import (
	"fmt"

	"github.com/pkg/errors"

	"ddbridge/pkg/third/directdecisions"
)

var (
	ErrInvalidCommand  = errors.New("invalid command")
	ErrInvalidRanking  = errors.New("invalid ranking")
	ErrSessionActive   = errors.New("voting already active in channel")
	ErrSessionNotFound = errors.New("voting not found")
	ErrWrongState      = errors.New("voting in wrong state")
	ErrAlreadyVoted    = errors.New("ballot already submitted")
	ErrNotCreator      = errors.New("not the voting creator")
)

// ValidationError 命令不合法或前置条件不满足，不会产生任何状态变化
type ValidationError struct {
	Cause  error
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Cause.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Cause }

func invalid(cause error, format string, args ...any) error {
	return &ValidationError{Cause: cause, Detail: fmt.Sprintf(format, args...)}
}

// StorageError 本地持久化失败
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return errors.WithStack(&StorageError{Op: op, Err: err})
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}

// UserMessage 把错误转换为展示给 Discord 用户的文本
func UserMessage(err error) string {
	var (
		ve *ValidationError
		re *directdecisions.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Detail
	case directdecisions.IsNotFound(err):
		return "This voting no longer exists on Direct Decisions and has been marked as failed. Start a new one."
	case directdecisions.IsTransient(err):
		return "Direct Decisions is not reachable right now, please retry later."
	case errors.As(err, &re):
		msg := "Direct Decisions refused the request"
		if re.Message != "" {
			msg += ": " + re.Message
		}
		return msg + "."
	default:
		return "Something went wrong on our side, please retry later."
	}
}
