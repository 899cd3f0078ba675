package pdf

import "fmt"

// ジョブ失敗時に記録されるエラーコード。
const (
	CodeFetchFailed        = "FETCH_FAILED"
	CodeInvalidInput       = "INVALID_INPUT_PDF"
	CodeTranslationFailed  = "TRANSLATION_FAILED"
	CodeTranslationTimeout = "TRANSLATION_TIMEOUT"
	CodeOutputMissing      = "OUTPUT_MISSING"
)

// Error はコード付きのエラーです。Message はジョブの errorMessage としてそのまま公開されます。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
