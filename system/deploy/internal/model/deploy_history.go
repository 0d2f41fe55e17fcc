package model

import "time"

// DeployHistory 每次续期/部署的执行记录
type DeployHistory struct {
	ID                   int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ManagedCertificateID string        `gorm:"size:64;index" json:"managedCertificateId"`
	Operation            string        `gorm:"size:32" json:"operation"` // renew | deploy | task
	Status               RenewalStatus `gorm:"size:32" json:"status"`
	FinalState           RenewalState  `gorm:"size:32" json:"finalState,omitempty"`
	Message              string        `gorm:"type:text" json:"message"`
	Steps                []ActionStep  `gorm:"serializer:json;type:text" json:"steps"`
	Operator             string        `gorm:"size:64" json:"operator,omitempty"`
	StartedAt            time.Time     `json:"startedAt"`
	FinishedAt           time.Time     `json:"finishedAt"`
}

func (DeployHistory) TableName() string {
	return "deploy_history"
}
