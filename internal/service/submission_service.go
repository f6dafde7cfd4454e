package service

import (
	"context"
	"errors"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/internal/repository"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordInput 一次成功评分的全部结果
type RecordInput struct {
	HomeworkID string
	StudentID  string
	ImageURLs  []string
	Transcript string
	Evaluation model.Evaluation
}

type SubmissionService struct {
	SubmissionRepo *repository.SubmissionRepository
	now            func() time.Time
}

func NewSubmissionService(submissionRepo *repository.SubmissionRepository) *SubmissionService {
	return &SubmissionService{SubmissionRepo: submissionRepo, now: time.Now}
}

// Record 以一次原子写入保存评分记录；同一学生对同一作业再次提交时覆盖旧记录
func (s *SubmissionService) Record(ctx context.Context, in RecordInput) (*model.Submission, error) {
	now := s.now().UTC()
	urls := make([]string, len(in.ImageURLs))
	copy(urls, in.ImageURLs)

	submission := &model.Submission{
		HomeworkID:    in.HomeworkID,
		StudentID:     in.StudentID,
		AnswerImages:  datatypes.JSONSlice[string](urls),
		ExtractedText: in.Transcript,
		AIScore:       in.Evaluation.Score,
		AIFeedback: datatypes.NewJSONType(model.Feedback{
			Mistakes:    nonNil(in.Evaluation.Mistakes),
			Suggestions: nonNil(in.Evaluation.Suggestions),
		}),
		SubmittedAt: now,
		EvaluatedAt: now,
	}

	stored, err := s.SubmissionRepo.Upsert(ctx, submission)
	if err != nil {
		logger.Log.Error("Failed to record submission",
			zap.String("homework_id", in.HomeworkID),
			zap.String("student_id", in.StudentID),
			zap.Error(err),
		)
		return nil, util.NewRecordingError("failed to save submission", err)
	}
	return stored, nil
}

func (s *SubmissionService) GetForStudent(ctx context.Context, homeworkID, studentID string) (*model.Submission, error) {
	submission, err := s.SubmissionRepo.FindByHomeworkAndStudent(ctx, homeworkID, studentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
