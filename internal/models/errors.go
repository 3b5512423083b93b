package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation      ErrorKind = "VALIDATION_ERROR"
	KindConflict        ErrorKind = "CONFLICT"
	KindSelfFollow      ErrorKind = "SELF_FOLLOW"
	KindNotFollowing    ErrorKind = "NOT_FOLLOWING"
	KindNotLiked        ErrorKind = "NOT_LIKED"
	KindUnauthenticated ErrorKind = "UNAUTHENTICATED"
	KindAuth            ErrorKind = "AUTH_FAILED"
	KindForbidden       ErrorKind = "FORBIDDEN"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindRateLimited     ErrorKind = "RATE_LIMITED"
	KindInternal        ErrorKind = "INTERNAL_ERROR"
)

// ErrorResponse 统一错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}

// AppError 业务错误，Message 可以直接返回给客户端
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

func NewConflictError(message string) *AppError {
	return &AppError{Kind: KindConflict, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{Kind: KindForbidden, Message: message}
}

func NewUnauthenticatedError(message string) *AppError {
	return &AppError{Kind: KindUnauthenticated, Message: message}
}

func NewAuthError(message string) *AppError {
	return &AppError{Kind: KindAuth, Message: message}
}

func NewInternalError(err error) *AppError {
	return &AppError{Kind: KindInternal, Message: "Internal server error", Err: err}
}

var (
	ErrSelfFollow   = &AppError{Kind: KindSelfFollow, Message: "Cannot follow yourself"}
	ErrNotFollowing = &AppError{Kind: KindNotFollowing, Message: "Not following this user"}
	ErrNotLiked     = &AppError{Kind: KindNotLiked, Message: "Post not liked"}
	ErrRateLimited  = &AppError{Kind: KindRateLimited, Message: "Too many requests"}
)

// KindOf 非 AppError 一律视为内部错误
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
