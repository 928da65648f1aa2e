package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator 请求体校验
type Validator struct {
	validate *validator.Validate
}

// NewValidator 注册自定义规则
func NewValidator() *Validator {
	v := validator.New()
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{validate: v}
}

// Struct 返回第一个不满足规则的字段
func (v *Validator) Struct(s interface{}) error {
	return v.validate.Struct(s)
}
