package dao

import (
	"context"
	"time"

	errorc "certdeploy/pkg/core/err"
	"certdeploy/pkg/core/logger"
	"certdeploy/pkg/core/mvc"
	"certdeploy/system/deploy/internal/model"

	"gorm.io/gorm"
)

// ManagedCertificateDao 托管证书数据访问层
type ManagedCertificateDao struct {
	mvc.IBaseDao[model.ManagedCertificate]
	db  *gorm.DB
	log *logger.Log
	err *errorc.ErrorBuilder
}

func NewManagedCertificateDao(db *gorm.DB, log *logger.Log) *ManagedCertificateDao {
	return &ManagedCertificateDao{
		IBaseDao: mvc.NewGormDao[model.ManagedCertificate](db),
		db:       db,
		log:      log.WithEntryName("ManagedCertificateDao"),
		err:      errorc.NewErrorBuilder("ManagedCertificateDao"),
	}
}

func (d *ManagedCertificateDao) Get(ctx context.Context, id string) (*model.ManagedCertificate, error) {
	return d.FindById(ctx, id)
}

func (d *ManagedCertificateDao) List(ctx context.Context) ([]*model.ManagedCertificate, error) {
	return d.FindList(ctx, func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

// FindExpiringBefore 查询过期时间早于 deadline 或尚未签发的证书
func (d *ManagedCertificateDao) FindExpiringBefore(ctx context.Context, deadline time.Time) ([]*model.ManagedCertificate, error) {
	var list []*model.ManagedCertificate
	err := d.db.WithContext(ctx).
		Where("date_expiry IS NULL OR date_expiry <= ?", deadline).
		Order("date_expiry ASC").
		Find(&list).Error
	if err != nil {
		d.log.WithErr(err).Error("查询即将过期的证书失败")
		return nil, d.err.New("查询即将过期的证书失败", err).DB()
	}
	return list, nil
}
