package utils

import (
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var (
	sharedValidate   *validator.Validate
	sharedTranslator ut.Translator
	sharedOnce       sync.Once
)

// GetValidator 进程内共享的中文验证器，首次调用时创建
func GetValidator() (*validator.Validate, ut.Translator) {
	sharedOnce.Do(func() {
		sharedValidate, sharedTranslator = NewValidator()
	})
	return sharedValidate, sharedTranslator
}

// Validate 校验请求体或托管证书配置，失败时返回第一条中文提示
func Validate(data interface{}) (string, error) {
	v, trans := GetValidator()
	return ValidateStruct(v, trans, data)
}

// IsValid 只关心是否通过时使用
func IsValid(data interface{}) (bool, string) {
	if msg, err := Validate(data); err != nil {
		return false, msg
	}
	return true, ""
}
