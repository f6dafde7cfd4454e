package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Feedback 持久化在 ai_feedback 列中的评语
type Feedback struct {
	Mistakes    []string `json:"mistakes"`
	Suggestions []string `json:"suggestions"`
}

// Evaluation 模型评分结果，Score 已限定在 [0,10]
type Evaluation struct {
	Score       float64  `json:"score"`
	Mistakes    []string `json:"mistakes"`
	Suggestions []string `json:"suggestions"`
}

// Submission 一次完整评分的记录，每个 (作业, 学生) 至多一条
type Submission struct {
	ID            string                       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	HomeworkID    string                       `gorm:"type:varchar(36);not null;uniqueIndex:idx_submissions_homework_student,priority:1" json:"homeworkId"`
	StudentID     string                       `gorm:"type:varchar(64);not null;uniqueIndex:idx_submissions_homework_student,priority:2" json:"studentId"`
	AnswerImages  datatypes.JSONSlice[string]  `gorm:"column:answer_images" json:"answerImages"`
	ExtractedText string                       `gorm:"column:extracted_text;type:text" json:"extractedText"`
	AIScore       float64                      `gorm:"column:ai_score" json:"aiScore"`
	AIFeedback    datatypes.JSONType[Feedback] `gorm:"column:ai_feedback" json:"aiFeedback"`
	SubmittedAt   time.Time                    `json:"submittedAt"`
	EvaluatedAt   time.Time                    `json:"evaluatedAt"`
	CreatedAt     time.Time                    `json:"createdAt"`
	UpdatedAt     time.Time                    `json:"updatedAt"`
}

func (Submission) TableName() string {
	return "submissions"
}

func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = GenerateUUID()
	}
	return nil
}

// Evaluation 从持久化字段还原评分结果
func (s *Submission) Evaluation() Evaluation {
	fb := s.AIFeedback.Data()
	return Evaluation{
		Score:       s.AIScore,
		Mistakes:    fb.Mistakes,
		Suggestions: fb.Suggestions,
	}
}
