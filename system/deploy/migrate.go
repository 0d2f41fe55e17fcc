package deploy

import (
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/server/credential"
	"certdeploy/system/deploy/internal/model"

	"gorm.io/gorm"
)

// AutoMigrate 执行部署组件的数据库迁移
func AutoMigrate(db *gorm.DB, log *logger.Log) error {
	log.Info("开始执行部署组件数据库迁移...")

	if err := db.AutoMigrate(
		&model.ManagedCertificate{},
		&model.DeployHistory{},
		&credential.Credential{},
	); err != nil {
		log.WithErr(err).Error("部署组件数据库迁移失败")
		return err
	}

	log.Info("部署组件数据库迁移完成")
	return nil
}
