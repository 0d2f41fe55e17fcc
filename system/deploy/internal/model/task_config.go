package model

import "strings"

// TaskParameter 任务参数，保持配置顺序
type TaskParameter struct {
	Key   string `json:"key" yaml:"key" validate:"required"`
	Value string `json:"value" yaml:"value"`
}

// DeploymentTaskConfig 一个前置或后置部署任务
type DeploymentTaskConfig struct {
	ID             string          `json:"id" yaml:"id" validate:"required"`
	TaskTypeID     string          `json:"taskTypeId" yaml:"task_type_id" validate:"required"`
	TaskName       string          `json:"taskName" yaml:"task_name" validate:"required,max=128"`
	Description    string          `json:"description,omitempty" yaml:"description"`
	TaskTrigger    TaskTrigger     `json:"taskTrigger,omitempty" yaml:"task_trigger" validate:"omitempty,oneof=NOT_ENABLED ANY_STATUS ON_SUCCESS ON_ERROR MANUAL"`
	IsDeferred     bool            `json:"isDeferred,omitempty" yaml:"is_deferred"`
	TargetAuthType TargetAuthType  `json:"targetAuthType,omitempty" yaml:"target_auth_type" validate:"omitempty,oneof=Local LocalAsUser WindowsNetwork SSH ExternalCredential"`
	CredentialKey  string          `json:"credentialKey,omitempty" yaml:"credential_key"`
	TargetHost     string          `json:"targetHost,omitempty" yaml:"target_host"`
	Parameters     []TaskParameter `json:"parameters,omitempty" yaml:"parameters" validate:"dive"`

	IsFatalOnError      bool `json:"isFatalOnError,omitempty" yaml:"is_fatal_on_error"`
	RunIfLastStepFailed bool `json:"runIfLastStepFailed,omitempty" yaml:"run_if_last_step_failed"`
	RetriesAllowed      int  `json:"retriesAllowed,omitempty" yaml:"retries_allowed" validate:"gte=0,lte=10"`
	RetryDelaySeconds   int  `json:"retryDelaySeconds,omitempty" yaml:"retry_delay_seconds" validate:"gte=0"`
}

// Trigger 未设置时默认 ANY_STATUS
func (c *DeploymentTaskConfig) Trigger() TaskTrigger {
	if c.TaskTrigger == "" {
		return TaskTriggerAnyStatus
	}
	return c.TaskTrigger
}

// AuthType 未设置时默认 Local
func (c *DeploymentTaskConfig) AuthType() TargetAuthType {
	if c.TargetAuthType == "" {
		return AuthLocal
	}
	return c.TargetAuthType
}

// RetryDelay 未设置时默认 10 秒
func (c *DeploymentTaskConfig) RetryDelay() int {
	if c.RetryDelaySeconds <= 0 {
		return 10
	}
	return c.RetryDelaySeconds
}

// Param 按 key 取参数，大小写不敏感
func (c *DeploymentTaskConfig) Param(key string) (string, bool) {
	for _, p := range c.Parameters {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}
