package model

// ProviderContext 提供者支持的执行方式（位标志）
type ProviderContext int

const (
	ContextLocalAsService ProviderContext = 1 << iota
	ContextLocalAsUser
	ContextWindowsNetwork
	ContextSSH
	ContextExternalCredential
)

// Has 是否包含某个标志
func (c ProviderContext) Has(flag ProviderContext) bool {
	return c&flag == flag
}

// ContextFor 与通道类型对应的标志
func ContextFor(auth TargetAuthType) ProviderContext {
	switch auth {
	case AuthLocalAsUser:
		return ContextLocalAsUser
	case AuthWindowsNetwork:
		return ContextWindowsNetwork
	case AuthSSH:
		return ContextSSH
	case AuthExternalCredential:
		return ContextExternalCredential
	default:
		return ContextLocalAsService
	}
}

// RequiresCredentials 只支持需要凭据的方式（没有 LocalAsService）时必须配置凭据
func (c ProviderContext) RequiresCredentials() bool {
	return c != 0 && !c.Has(ContextLocalAsService)
}

// ProviderParameter 提供者声明的参数
type ProviderParameter struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	IsRequired   bool     `json:"isRequired"`
	IsHidden     bool     `json:"isHidden,omitempty"`
	Type         string   `json:"type"` // string | multiline | dropdown | boolean
	Options      []string `json:"options,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty"`
}

// ProviderDefinition 提供者元数据
type ProviderDefinition struct {
	ID                   string              `json:"id"`
	Title                string              `json:"title"`
	Description          string              `json:"description"`
	SupportedContexts    ProviderContext     `json:"supportedContexts"`
	SupportsRemoteTarget bool                `json:"supportsRemoteTarget"`
	IsExperimental       bool                `json:"isExperimental,omitempty"`
	Parameters           []ProviderParameter `json:"parameters"`
}
