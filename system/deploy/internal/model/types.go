package model

// DeploymentSiteOption 证书部署到哪些站点
type DeploymentSiteOption string

const (
	DeploymentSiteSingle    DeploymentSiteOption = "SingleSite"
	DeploymentSiteAuto      DeploymentSiteOption = "Auto"
	DeploymentSiteAll       DeploymentSiteOption = "AllSites"
	DeploymentSiteNone      DeploymentSiteOption = "NoDeployment"        // 不导入也不绑定
	DeploymentSiteStoreOnly DeploymentSiteOption = "DeploymentStoreOnly" // 只导入证书存储
)

// DeploymentBindingOption 对绑定的处理方式
type DeploymentBindingOption string

const (
	DeploymentBindingAddOrUpdate DeploymentBindingOption = "AddOrUpdate"
	DeploymentBindingUpdateOnly  DeploymentBindingOption = "UpdateOnly"
)

// TaskTrigger 续期结果满足何种条件时执行任务
type TaskTrigger string

const (
	TaskTriggerNotEnabled TaskTrigger = "NOT_ENABLED"
	TaskTriggerAnyStatus  TaskTrigger = "ANY_STATUS"
	TaskTriggerOnSuccess  TaskTrigger = "ON_SUCCESS"
	TaskTriggerOnError    TaskTrigger = "ON_ERROR"
	TaskTriggerManual     TaskTrigger = "MANUAL"
)

// Matches 判断触发条件是否与续期结果相符。MANUAL 与 NOT_ENABLED 永不自动执行
func (t TaskTrigger) Matches(outcome RequestOutcome) bool {
	switch t {
	case TaskTriggerAnyStatus, "":
		return true
	case TaskTriggerOnSuccess:
		return outcome == OutcomeSuccess
	case TaskTriggerOnError:
		return outcome == OutcomeError
	default:
		return false
	}
}

// TargetAuthType 任务访问目标的方式
type TargetAuthType string

const (
	AuthLocal              TargetAuthType = "Local"
	AuthLocalAsUser        TargetAuthType = "LocalAsUser"
	AuthWindowsNetwork     TargetAuthType = "WindowsNetwork"
	AuthSSH                TargetAuthType = "SSH"
	AuthExternalCredential TargetAuthType = "ExternalCredential"
)

// Label 面向用户的名称
func (a TargetAuthType) Label() string {
	switch a {
	case AuthLocal, "":
		return "Local"
	case AuthLocalAsUser:
		return "Local (as User)"
	case AuthWindowsNetwork:
		return "Windows (Network)"
	case AuthSSH:
		return "SSH"
	case AuthExternalCredential:
		return "External Credential"
	default:
		return string(a)
	}
}

// RequestOutcome 证书申请结果，决定后置任务的触发
type RequestOutcome string

const (
	OutcomeSuccess RequestOutcome = "Success"
	OutcomeError   RequestOutcome = "Error"
)

// RenewalState 单次续期的状态机
type RenewalState string

const (
	RenewalNotStarted        RenewalState = "NotStarted"
	RenewalPreTasksRunning   RenewalState = "PreTasksRunning"
	RenewalAcquiring         RenewalState = "Acquiring"
	RenewalBindingDeployment RenewalState = "BindingDeployment"
	RenewalPostTasksRunning  RenewalState = "PostTasksRunning"
	RenewalCompleted         RenewalState = "Completed"
	RenewalAborted           RenewalState = "Aborted"
)

// RenewalStatus 持久化在托管证书上的最近一次结果
type RenewalStatus string

const (
	RenewalStatusUnknown            RenewalStatus = ""
	RenewalStatusSuccess            RenewalStatus = "success"
	RenewalStatusSuccessWithWarning RenewalStatus = "success_with_warning"
	RenewalStatusFailed             RenewalStatus = "failed"
	RenewalStatusAborted            RenewalStatus = "aborted"
)

// ChallengeType ACME 验证方式
type ChallengeType string

const (
	ChallengeDNS01  ChallengeType = "dns-01"
	ChallengeHTTP01 ChallengeType = "http-01"
)

// 步骤分类
const (
	CategoryPreRequestTasks    = "Pre-Request Tasks"
	CategoryPostRequestTasks   = "Post-Request Tasks"
	CategoryCertificateRequest = "CertificateRequest"
	CategoryCertificateStorage = "CertificateStorage"
	CategoryDeployment         = "Deployment"
	CategoryAddBinding         = "Deployment.AddBinding"
	CategoryUpdateBinding      = "Deployment.UpdateBinding"
	CategoryManualTask         = "Deployment Task"
)
