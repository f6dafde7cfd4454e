package model

import (
	"strings"
	"time"
)

// Homework 作业题目，由教师端维护，流水线只读
type Homework struct {
	UUIDBase
	Title            string     `gorm:"size:255;not null" json:"title"`
	Description      string     `gorm:"type:text" json:"description"`
	QuestionText     string     `gorm:"type:text" json:"questionText,omitempty"`
	QuestionImageURL string     `gorm:"size:512" json:"questionImageUrl,omitempty"`
	ClassID          string     `gorm:"type:varchar(36);index" json:"classId"`
	TeacherID        string     `gorm:"type:varchar(36);index" json:"teacherId"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
}

func (Homework) TableName() string {
	return "homework"
}

// Question 评分使用的题干，没有单独题干时退回到作业描述
func (h *Homework) Question() string {
	if strings.TrimSpace(h.QuestionText) != "" {
		return h.QuestionText
	}
	return h.Description
}
