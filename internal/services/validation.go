package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/feed-system/snapgram/internal/models"
	"github.com/go-playground/validator/v10"
)

// 与 gin 的 binding 标签保持一致，handler 之外的调用方也走同一套校验
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	RegisterValidations(v)
	return v
}

// RegisterValidations 注册自定义规则，gin 的校验引擎也需要调用
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("notblank", notBlank)
	_ = v.RegisterValidation("trimmed_email", trimmedEmail)
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// 单独实例，只用于 Var 校验
var emailValidator = validator.New()

// trimmedEmail 先去掉首尾空白再按 email 规则校验，服务层会做同样的 normalize
func trimmedEmail(fl validator.FieldLevel) bool {
	return emailValidator.Var(strings.TrimSpace(fl.Field().String()), "email") == nil
}

// validationMessages 请求结构体提供的错误文案，key 为 "Field.tag" 或 "Field"
type validationMessages interface {
	ValidationMessages() map[string]string
}

// ValidationError 把 binding/validator 错误转换成 400
func ValidationError(req interface{}, err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return models.NewValidationError("Invalid request body")
	}

	// 缺字段优先于格式错误
	fe := fieldErrs[0]
	for _, candidate := range fieldErrs {
		if candidate.Tag() == "required" {
			fe = candidate
			break
		}
	}
	if provider, ok := req.(validationMessages); ok {
		messages := provider.ValidationMessages()
		if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
			return models.NewValidationError(msg)
		}
		if msg, ok := messages[fe.Field()]; ok {
			return models.NewValidationError(msg)
		}
	}
	return models.NewValidationError(fmt.Sprintf("%s is invalid", fe.Field()))
}

func validateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		return ValidationError(req, err)
	}
	return nil
}

// asAppError 业务错误原样返回，其他错误包装为内部错误
func asAppError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return models.NewInternalError(err)
}
