package kis

import (
	"fmt"

	"github.com/pkg/errors"
)

// CredentialError 令牌或 approval key 获取失败
type CredentialError struct {
	Kind string
	Env  Environment
	Err  error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential %s (%s): %v", e.Kind, e.Env, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// GatewayError 网络错误或非 2xx 响应
type GatewayError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.Status, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// BusinessRejection 券商返回 rt_cd != "0"
type BusinessRejection struct {
	Op      string
	Code    string
	Message string
}

func (e *BusinessRejection) Error() string {
	return fmt.Sprintf("%s rejected [%s]: %s", e.Op, e.Code, e.Message)
}

// ValidationError 请求在发出前校验失败
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

func IsCredentialError(err error) bool {
	var target *CredentialError
	return errors.As(err, &target)
}

func IsGatewayError(err error) bool {
	var target *GatewayError
	return errors.As(err, &target)
}

func IsBusinessRejection(err error) bool {
	var target *BusinessRejection
	return errors.As(err, &target)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
