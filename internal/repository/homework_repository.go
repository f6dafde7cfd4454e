package repository

import (
	"context"
	"homework_eval_backend/internal/model"

	"gorm.io/gorm"
)

type HomeworkRepository struct {
	DB *gorm.DB
}

func NewHomeworkRepository(db *gorm.DB) *HomeworkRepository {
	return &HomeworkRepository{DB: db}
}

func (r *HomeworkRepository) Create(ctx context.Context, homework *model.Homework) error {
	return r.DB.WithContext(ctx).Create(homework).Error
}

func (r *HomeworkRepository) FindByID(ctx context.Context, id string) (*model.Homework, error) {
	var homework model.Homework
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&homework).Error; err != nil {
		return nil, err
	}
	return &homework, nil
}
