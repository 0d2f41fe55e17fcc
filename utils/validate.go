package utils

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zh_translations "github.com/go-playground/validator/v10/translations/zh"
)

// 常见中文错误信息映射
var customErrorMessages = map[string]string{
	"required": "不能为空",
	"email":    "必须是有效的电子邮件地址",
	"min":      "{0}长度必须至少为{1}",
	"max":      "{0}长度不能超过{1}",
	"oneof":    "{0}必须是[{1}]中的一个", // 这个会在registerCustomTranslation中特殊处理
	"len":      "{0}长度必须是{1}",
	"eq":       "{0}必须等于{1}",
	"ne":       "{0}不能等于{1}",
	"gt":       "{0}必须大于{1}",
	"gte":      "{0}必须大于或等于{1}",
	"lt":       "{0}必须小于{1}",
	"lte":      "{0}必须小于或等于{1}",
	"numeric":  "必须是有效的数值",
	"datetime": "必须是有效的日期时间格式",
	"alpha":    "只能包含字母",
	"alphanum": "只能包含字母和数字",
	"url":      "必须是有效的URL",
	"json":     "必须是有效的JSON格式",
	"certname": "必须是有效的域名或通配符域名",
}

// NewValidator 创建一个支持中文错误信息的验证器
func NewValidator() (*validator.Validate, ut.Translator) {
	// 创建验证器实例
	validate := validator.New()

	// 注册函数，获取struct字段中的中文标签
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("comment"), ",", 2)[0]
		if name == "" {
			name = strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		}
		if name == "-" {
			return fld.Name
		}
		return name
	})

	validate.RegisterValidation("certname", validateCertName)

	// 创建中文翻译器
	zhTrans := zh.New()
	uni := ut.New(zhTrans, zhTrans)
	trans, _ := uni.GetTranslator("zh")

	// 注册默认的中文翻译器
	zh_translations.RegisterDefaultTranslations(validate, trans)

	// 注册自定义的错误信息
	for tag, msg := range customErrorMessages {
		registerCustomTranslation(validate, trans, tag, msg)
	}

	return validate, trans
}

// 注册自定义翻译
func registerCustomTranslation(validate *validator.Validate, trans ut.Translator, tag string, message string) {
	validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, message, true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		// 根据不同的验证规则处理参数
		switch tag {
		case "oneof":
			return fe.Field() + "必须是[" + fe.Param() + "]中的一个"
		case "min", "max", "len", "eq", "ne", "gt", "gte", "lt", "lte":
			// 这些规则需要参数替换
			t, _ := ut.T(fe.Tag(), fe.Field(), fe.Param())
			return t
		default:
			// 其他规则直接使用字段名
			return fe.Field() + message
		}
	})
}

// ValidateStruct 验证结构体并返回中文错误信息
func ValidateStruct(validate *validator.Validate, trans ut.Translator, s interface{}) (string, error) {
	err := validate.Struct(s)
	if err == nil {
		return "", nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error(), err
	}
	var errMessages []string
	for _, e := range errs {
		errMessages = append(errMessages, e.Translate(trans))
	}

	return strings.Join(errMessages, "; "), err
}

// GetValidationError 从错误中提取第一个验证错误的中文描述
func GetValidationError(err error, trans ut.Translator) string {
	if err == nil {
		return ""
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return err.Error()
	}

	return validationErrors[0].Translate(trans)
}

// validateCertName 证书名称：主机名或首段为 * 的通配符
func validateCertName(fl validator.FieldLevel) bool {
	name := strings.TrimSpace(fl.Field().String())
	if name == "" {
		return true
	}
	name = strings.TrimPrefix(name, "*.")
	if len(name) > 253 || strings.Contains(name, "*") {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, ch := range label {
			if ch == ' ' || ch == '/' || ch == ':' || ch == '@' {
				return false
			}
		}
	}
	return true
}
