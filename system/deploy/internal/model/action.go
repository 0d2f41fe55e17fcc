package model

// ActionStep 预览与实际执行共用的结果单元
type ActionStep struct {
	Key         string       `json:"key,omitempty"`
	Category    string       `json:"category,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	HasError    bool         `json:"hasError"`
	HasWarning  bool         `json:"hasWarning"`
	Substeps    []ActionStep `json:"substeps,omitempty"`
}

// ContainsError 自身或任一子步骤出错
func (s ActionStep) ContainsError() bool {
	if s.HasError {
		return true
	}
	return AnyError(s.Substeps)
}

// ContainsWarning 自身或任一子步骤有警告
func (s ActionStep) ContainsWarning() bool {
	if s.HasWarning {
		return true
	}
	for _, sub := range s.Substeps {
		if sub.ContainsWarning() {
			return true
		}
	}
	return false
}

// AnyError 步骤列表中是否存在错误（递归）
func AnyError(steps []ActionStep) bool {
	for _, s := range steps {
		if s.ContainsError() {
			return true
		}
	}
	return false
}

// Flatten 深度优先展开步骤树
func Flatten(steps []ActionStep) []ActionStep {
	var out []ActionStep
	for _, s := range steps {
		out = append(out, s)
		out = append(out, Flatten(s.Substeps)...)
	}
	return out
}

// ActionResult 部署任务提供者的执行结果
type ActionResult struct {
	IsSuccess bool         `json:"isSuccess"`
	IsWarning bool         `json:"isWarning,omitempty"`
	Message   string       `json:"message"`
	Steps     []ActionStep `json:"steps,omitempty"`
}

func Success(msg string) ActionResult {
	return ActionResult{IsSuccess: true, Message: msg}
}

func Failure(msg string) ActionResult {
	return ActionResult{IsSuccess: false, Message: msg}
}
