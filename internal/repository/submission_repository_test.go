package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"homework_eval_backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Homework{}, &model.Submission{}))
	return db
}

func newSubmission(homeworkID, studentID string, score float64, at time.Time) *model.Submission {
	return &model.Submission{
		HomeworkID:    homeworkID,
		StudentID:     studentID,
		AnswerImages:  datatypes.JSONSlice[string]{"https://cdn.test/u1.jpg", "https://cdn.test/u2.jpg"},
		ExtractedText: "[Page 1]\nx = 4",
		AIScore:       score,
		AIFeedback: datatypes.NewJSONType(model.Feedback{
			Mistakes:    []string{"sign error"},
			Suggestions: []string{"check units"},
		}),
		SubmittedAt: at,
		EvaluatedAt: at,
	}
}

func TestSubmissionRepository_UpsertRoundTrip(t *testing.T) {
	repo := NewSubmissionRepository(newTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stored, err := repo.Upsert(ctx, newSubmission("hw-1", "stu-1", 7.5, at))
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)

	got, err := repo.FindByHomeworkAndStudent(ctx, "hw-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.Equal(t, []string{"https://cdn.test/u1.jpg", "https://cdn.test/u2.jpg"}, []string(got.AnswerImages))
	assert.Equal(t, "[Page 1]\nx = 4", got.ExtractedText)
	assert.Equal(t, 7.5, got.AIScore)
	assert.Equal(t, []string{"sign error"}, got.AIFeedback.Data().Mistakes)
	assert.Equal(t, []string{"check units"}, got.AIFeedback.Data().Suggestions)
	assert.True(t, got.SubmittedAt.Equal(got.EvaluatedAt))
}

func TestSubmissionRepository_UpsertKeepsOneRowPerSubject(t *testing.T) {
	repo := NewSubmissionRepository(newTestDB(t))
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	original, err := repo.Upsert(ctx, newSubmission("hw-1", "stu-1", 4, first))
	require.NoError(t, err)

	again, err := repo.Upsert(ctx, newSubmission("hw-1", "stu-1", 9, first.Add(time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, original.ID, again.ID)
	assert.Equal(t, 9.0, again.AIScore)
	assert.True(t, again.SubmittedAt.Equal(first.Add(time.Hour)))

	count, err := repo.CountByHomework(ctx, "hw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = repo.Upsert(ctx, newSubmission("hw-1", "stu-2", 6, first))
	require.NoError(t, err)
	count, err = repo.CountByHomework(ctx, "hw-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSubmissionRepository_FindMissing(t *testing.T) {
	repo := NewSubmissionRepository(newTestDB(t))

	_, err := repo.FindByHomeworkAndStudent(context.Background(), "hw-x", "stu-x")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestHomeworkRepository_FindByID(t *testing.T) {
	repo := NewHomeworkRepository(newTestDB(t))
	ctx := context.Background()

	hw := &model.Homework{Title: "Fractions", Description: "Simplify 6/8"}
	require.NoError(t, repo.Create(ctx, hw))
	require.NotEmpty(t, hw.ID)

	got, err := repo.FindByID(ctx, hw.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fractions", got.Title)
	assert.Equal(t, "Simplify 6/8", got.Question())

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
