package util

import (
	"errors"
	"fmt"
)

var (
	ErrNoFilesSelected     = errors.New("no files selected")
	ErrTooManyFiles        = errors.New("too many files")
	ErrHomeworkNotFound    = errors.New("homework not found")
	ErrAttemptInProgress   = errors.New("a submission for this homework is already being processed")
	ErrSubmissionNotFound  = errors.New("submission not found")
	ErrMalformedAIResponse = errors.New("malformed AI response")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
)

// ErrorKind 流水线错误分类
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindUpload     ErrorKind = "upload"
	KindExtraction ErrorKind = "extraction"
	KindEvaluation ErrorKind = "evaluation"
	KindRecording  ErrorKind = "recording"
)

// PipelineError 流水线各阶段的失败，Message 面向用户展示
type PipelineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

func NewPipelineError(kind ErrorKind, message string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Err: err}
}

func NewValidationError(message string, err error) *PipelineError {
	return NewPipelineError(KindValidation, message, err)
}

func NewUploadError(message string, err error) *PipelineError {
	return NewPipelineError(KindUpload, message, err)
}

func NewExtractionError(message string, err error) *PipelineError {
	return NewPipelineError(KindExtraction, message, err)
}

func NewEvaluationError(message string, err error) *PipelineError {
	return NewPipelineError(KindEvaluation, message, err)
}

func NewRecordingError(message string, err error) *PipelineError {
	return NewPipelineError(KindRecording, message, err)
}

// IsKind 判断 err 链上是否存在指定分类的 PipelineError
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// UserMessage 返回可展示给用户的错误信息
func UserMessage(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
