/**
 * 包:应用错误
 * @description: 服务层返回的带错误码的错误类型，供handler层统一映射为标准错误信封
 * @func:
 */
package apperr

import (
	"errors"
	"fmt"

	"neocontroller/internal/model/httpresp"
)

// Error 是携带标准错误码与HTTP状态码的服务层错误
type Error struct {
	Code       httpresp.ErrorCode
	Message    string
	HTTPStatus int
	Details    interface{}
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Is/As 沿链查找
func (e *Error) Unwrap() error {
	return e.cause
}

// WithCause 附加底层原因，不改变错误码/状态码
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithDetails 附加结构化详情，通常是字段级校验错误列表
func (e *Error) WithDetails(details interface{}) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

func newErr(status int, code httpresp.ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

// 预置错误族，服务层直接返回或 WithCause/WithDetails 附加信息
var (
	ErrInvalidRequest     = newErr(400, httpresp.ErrCodeInvalidRequest, "the request could not be understood")
	ErrValidation         = newErr(400, httpresp.ErrCodeValidationError, "request failed validation")
	ErrUnauthorized       = newErr(401, httpresp.ErrCodeUnauthorized, "authentication is required or has failed")
	ErrForbidden          = newErr(403, httpresp.ErrCodeForbidden, "the caller is not allowed to perform this action")
	ErrNotFound           = newErr(404, httpresp.ErrCodeNotFound, "the requested resource does not exist")
	ErrConflict           = newErr(409, httpresp.ErrCodeConflict, "the request conflicts with the current state")
	ErrInternal           = newErr(500, httpresp.ErrCodeInternalError, "an internal error occurred")
	ErrServiceUnavailable = newErr(503, httpresp.ErrCodeServiceUnavailable, "the service is temporarily unavailable")
)

// As 尝试将err转换为 *Error，供handler层做类型判断
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
