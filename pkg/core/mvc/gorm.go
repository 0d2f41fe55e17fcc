package mvc

import (
	"context"
	"errors"

	errorc "certdeploy/pkg/core/err"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IBaseDao 通用数据访问接口
type IBaseDao[T any] interface {
	Create(ctx context.Context, entity *T) error
	// Save 按主键插入或整行更新
	Save(ctx context.Context, entity *T) error
	FindById(ctx context.Context, id interface{}) (*T, error)
	FindList(ctx context.Context, scopes ...func(*gorm.DB) *gorm.DB) ([]*T, error)
	FindPage(ctx context.Context, page *Page, scopes ...func(*gorm.DB) *gorm.DB) ([]*T, int64, error)
	DeleteById(ctx context.Context, id interface{}) error
	WithTx(tx *gorm.DB) IBaseDao[T]
}

// GormDaoImpl GORM数据访问实现
type GormDaoImpl[T any] struct {
	db *gorm.DB
}

// NewGormDao 创建GORM数据访问实例
func NewGormDao[T any](db *gorm.DB) IBaseDao[T] {
	return &GormDaoImpl[T]{
		db: db,
	}
}

// WithTx 使用事务创建临时的IBaseDao实例
func (d *GormDaoImpl[T]) WithTx(tx *gorm.DB) IBaseDao[T] {
	if tx == nil {
		return d
	}
	return &GormDaoImpl[T]{db: tx}
}

func (d *GormDaoImpl[T]) Create(ctx context.Context, entity *T) error {
	err := d.db.WithContext(ctx).Create(entity).Error
	if err != nil {
		return errorc.New("数据库操作失败", err).DB()
	}
	return nil
}

func (d *GormDaoImpl[T]) Save(ctx context.Context, entity *T) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(entity).Error
	if err != nil {
		return errorc.New("保存记录失败", err).DB()
	}
	return nil
}

func (d *GormDaoImpl[T]) FindById(ctx context.Context, id interface{}) (*T, error) {
	var entity T
	err := d.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errorc.New("记录不存在", err).NotFound()
		}
		return nil, errorc.New("查询记录失败", err).DB()
	}
	return &entity, nil
}

func (d *GormDaoImpl[T]) FindList(ctx context.Context, scopes ...func(*gorm.DB) *gorm.DB) ([]*T, error) {
	var entities []*T
	err := d.db.WithContext(ctx).Scopes(scopes...).Find(&entities).Error
	if err != nil {
		return nil, errorc.New("查询记录失败", err).DB()
	}
	return entities, nil
}

func (d *GormDaoImpl[T]) FindPage(ctx context.Context, page *Page, scopes ...func(*gorm.DB) *gorm.DB) ([]*T, int64, error) {
	var entities []*T
	var total int64

	db := d.db.WithContext(ctx).Model(new(T)).Scopes(scopes...)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, errorc.New("查询记录失败", err).DB()
	}

	db = db.Scopes(Paginate(page))
	if page.Sort != "" {
		db = db.Order(page.Sort)
	}
	if err := db.Find(&entities).Error; err != nil {
		return nil, 0, errorc.New("查询记录失败", err).DB()
	}
	return entities, total, nil
}

func (d *GormDaoImpl[T]) DeleteById(ctx context.Context, id interface{}) error {
	result := d.db.WithContext(ctx).Where("id = ?", id).Delete(new(T))
	if result.Error != nil {
		return errorc.New("删除记录失败", result.Error).DB()
	}
	if result.RowsAffected == 0 {
		return errorc.New("要删除的记录不存在", nil).NotFound()
	}
	return nil
}
