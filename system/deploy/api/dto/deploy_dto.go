package dto

import "time"

// ActionStep 续期、部署与任务执行的步骤树
type ActionStep struct {
	Key         string       `json:"key,omitempty"`
	Category    string       `json:"category,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	HasError    bool         `json:"hasError"`
	HasWarning  bool         `json:"hasWarning"`
	Substeps    []ActionStep `json:"substeps,omitempty"`
}

// AnyError 步骤树中是否存在错误
func AnyError(steps []ActionStep) bool {
	for _, s := range steps {
		if s.HasError || AnyError(s.Substeps) {
			return true
		}
	}
	return false
}

// RenewalResult 续期或预览的结果
type RenewalResult struct {
	CertificateID string       `json:"certificateId"`
	IsSuccess     bool         `json:"isSuccess"`
	HasWarning    bool         `json:"hasWarning"`
	Status        string       `json:"status"`
	State         string       `json:"state"`
	Message       string       `json:"message"`
	Steps         []ActionStep `json:"steps"`
}

// CertificateDTO 托管证书摘要
type CertificateDTO struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Domains            []string   `json:"domains"`
	TargetID           string     `json:"targetId,omitempty"`
	Thumbprint         string     `json:"thumbprint,omitempty"`
	DateExpiry         *time.Time `json:"dateExpiry,omitempty"`
	DateLastRenewed    *time.Time `json:"dateLastRenewed,omitempty"`
	LastRenewalStatus  string     `json:"lastRenewalStatus,omitempty"`
	LastRenewalMessage string     `json:"lastRenewalMessage,omitempty"`
	PreRequestTasks    int        `json:"preRequestTasks"`
	PostRequestTasks   int        `json:"postRequestTasks"`
}

// HistoryDTO 部署历史
type HistoryDTO struct {
	ID            int64        `json:"id"`
	CertificateID string       `json:"certificateId"`
	Operation     string       `json:"operation"`
	Status        string       `json:"status"`
	FinalState    string       `json:"finalState,omitempty"`
	Message       string       `json:"message"`
	Operator      string       `json:"operator,omitempty"`
	StartedAt     time.Time    `json:"startedAt"`
	FinishedAt    time.Time    `json:"finishedAt"`
	Steps         []ActionStep `json:"steps,omitempty"`
}

// RenewReq 续期请求，CertificateIDs 为空时续期全部
type RenewReq struct {
	CertificateIDs []string `json:"certificateIds" validate:"omitempty,dive,required"`
}

// StoreAndDeployReq 重新部署已签发的证书
type StoreAndDeployReq struct {
	CertificatePath        string `json:"certificatePath"`
	PreviewOnly            bool   `json:"previewOnly"`
	IncludeDeploymentTasks bool   `json:"includeDeploymentTasks"`
}

// RunTaskReq 手动执行任务
type RunTaskReq struct {
	TaskID      string `json:"taskId" validate:"required"`
	PreviewOnly bool   `json:"previewOnly"`
}
