package service

import (
	"context"
	"errors"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/internal/repository"
	"homework_eval_backend/internal/util"

	"gorm.io/gorm"
)

type HomeworkService struct {
	HomeworkRepo *repository.HomeworkRepository
}

func NewHomeworkService(homeworkRepo *repository.HomeworkRepository) *HomeworkService {
	return &HomeworkService{HomeworkRepo: homeworkRepo}
}

func (s *HomeworkService) GetHomework(ctx context.Context, id string) (*model.Homework, error) {
	homework, err := s.HomeworkRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrHomeworkNotFound
		}
		return nil, err
	}
	return homework, nil
}
