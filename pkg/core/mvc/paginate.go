package mvc

import (
	"gorm.io/gorm"
)

type Page struct {
	PageNum int    `json:"pageNum" query:"pageNum"`
	Size    int    `json:"size" query:"size"`
	Sort    string `json:"sort" query:"sort"`
}

// Normalize 页码从 1 开始，默认每页 10 条，上限 200
func (page *Page) Normalize() {
	if page.PageNum <= 0 {
		page.PageNum = 1
	}
	if page.Size <= 0 {
		page.Size = 10
	}
	if page.Size > 200 {
		page.Size = 200
	}
}

// Window 返回切片下标区间
func (page *Page) Window(total int) (int, int) {
	page.Normalize()
	start := (page.PageNum - 1) * page.Size
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return start, end
}

func Paginate(page *Page) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		page.Normalize()
		offset := (page.PageNum - 1) * page.Size
		return db.Offset(offset).Limit(page.Size)
	}
}
