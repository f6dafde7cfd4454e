package repository

import (
	"context"
	"homework_eval_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SubmissionRepository struct {
	DB *gorm.DB
}

func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{DB: db}
}

// upsertColumns 重新提交时覆盖的列，id 和 created_at 保留首次提交的值
var upsertColumns = []string{
	"answer_images",
	"extracted_text",
	"ai_score",
	"ai_feedback",
	"submitted_at",
	"evaluated_at",
	"updated_at",
}

// Upsert 在一个事务内写入或覆盖 (homework_id, student_id) 对应的记录，返回落库后的行
func (r *SubmissionRepository) Upsert(ctx context.Context, submission *model.Submission) (*model.Submission, error) {
	var stored model.Submission
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "homework_id"}, {Name: "student_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(submission).Error; err != nil {
			return err
		}
		return tx.Where("homework_id = ? AND student_id = ?", submission.HomeworkID, submission.StudentID).
			First(&stored).Error
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *SubmissionRepository) FindByHomeworkAndStudent(ctx context.Context, homeworkID, studentID string) (*model.Submission, error) {
	var submission model.Submission
	err := r.DB.WithContext(ctx).
		Where("homework_id = ? AND student_id = ?", homeworkID, studentID).
		First(&submission).Error
	if err != nil {
		return nil, err
	}
	return &submission, nil
}

func (r *SubmissionRepository) CountByHomework(ctx context.Context, homeworkID string) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.Submission{}).Where("homework_id = ?", homeworkID).Count(&count).Error
	return count, err
}
