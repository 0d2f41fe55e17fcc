package dao

import (
	"context"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/mvc"
	"certdeploy/system/deploy/internal/model"

	"gorm.io/gorm"
)

// DeployHistoryDao 部署历史数据访问层
type DeployHistoryDao struct {
	mvc.IBaseDao[model.DeployHistory]
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewDeployHistoryDao(db *gorm.DB, log *logger.Log) *DeployHistoryDao {
	return &DeployHistoryDao{
		IBaseDao: mvc.NewGormDao[model.DeployHistory](db),
		db:       db,
		log:      log.WithEntryName("DeployHistoryDao"),
		err:      errorc.NewErrorBuilder("DeployHistoryDao"),
	}
}

func (d *DeployHistoryDao) Record(ctx context.Context, h *model.DeployHistory) error {
	if err := d.Create(ctx, h); err != nil {
		d.log.WithErr(err).WithField("cert_id", h.ManagedCertificateID).Error("写入部署历史失败")
		return err
	}
	return nil
}

// FindPage certificateID 为空时查询全部
func (d *DeployHistoryDao) FindPage(ctx context.Context, certificateID string, page *mvc.Page) ([]*model.DeployHistory, int64, error) {
	if page.Sort == "" {
		page.Sort = "id DESC"
	}
	return d.IBaseDao.FindPage(ctx, page, func(db *gorm.DB) *gorm.DB {
		if certificateID == "" {
			return db
		}
		return db.Where("managed_certificate_id = ?", certificateID)
	})
}
