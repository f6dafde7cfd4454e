package controller

import (
	"errors"
	"fmt"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/internal/service"
	"homework_eval_backend/internal/util"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
)

type SubmissionController struct {
	Pipeline          *service.PipelineService
	SubmissionService *service.SubmissionService
	MaxImageBytes     int64
}

func NewSubmissionController(pipeline *service.PipelineService, submissionService *service.SubmissionService, maxImageBytes int64) *SubmissionController {
	return &SubmissionController{
		Pipeline:          pipeline,
		SubmissionService: submissionService,
		MaxImageBytes:     maxImageBytes,
	}
}

// SubmissionResponse 学生查看自己的评分记录
type SubmissionResponse struct {
	ID            string    `json:"id"`
	HomeworkID    string    `json:"homeworkId"`
	StudentID     string    `json:"studentId"`
	AnswerImages  []string  `json:"answerImages"`
	ExtractedText string    `json:"extractedText"`
	AIScore       float64   `json:"aiScore"`
	Mistakes      []string  `json:"mistakes"`
	Suggestions   []string  `json:"suggestions"`
	SubmittedAt   time.Time `json:"submittedAt"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}

func toSubmissionResponse(s *model.Submission) (*SubmissionResponse, error) {
	var resp SubmissionResponse
	if err := copier.Copy(&resp, s); err != nil {
		return nil, err
	}
	fb := s.AIFeedback.Data()
	resp.Mistakes = fb.Mistakes
	resp.Suggestions = fb.Suggestions
	return &resp, nil
}

// Submit 上传答案图片并以 SSE 推送处理进度
// @Summary 提交作业答案
// @Description multipart 字段 files 可包含多张图片，响应为 text/event-stream
// @Tags Submission
// @Accept multipart/form-data
// @Produce text/event-stream
// @Param id path string true "作业ID"
// @Router /homework/{id}/submissions [post]
func (c *SubmissionController) Submit(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		util.BadRequest(ctx, "Please select at least one image to submit")
		return
	}

	images, err := c.readImages(form.File["files"])
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	attempt, err := c.Pipeline.Submit(ctx.Request.Context(), ctx.Param("id"), claims.UserID, images)
	if err != nil {
		var rejectedErr *service.RejectedFilesError
		switch {
		case errors.As(err, &rejectedErr) && len(rejectedErr.Rejected) > 0:
			util.ErrorWithData(ctx, http.StatusBadRequest, "Please select only image files", gin.H{
				"rejected": rejectedErr.Rejected,
			})
		case errors.Is(err, util.ErrAttemptInProgress):
			util.Conflict(ctx, err.Error())
		case errors.Is(err, util.ErrHomeworkNotFound):
			util.NotFound(ctx, err.Error())
		case util.IsKind(err, util.KindValidation):
			util.BadRequest(ctx, util.UserMessage(err))
		default:
			util.LogInternalError(ctx, err)
		}
		return
	}

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Status(http.StatusOK)

	if len(attempt.Rejected) > 0 {
		ctx.SSEvent("warning", gin.H{
			"message":  "Please select only image files",
			"rejected": attempt.Rejected,
		})
		ctx.Writer.Flush()
	}

	for event := range attempt.Events() {
		ctx.SSEvent(sseEventName(event.Stage), event)
		ctx.Writer.Flush()
	}
}

func sseEventName(stage service.Stage) string {
	switch stage {
	case service.StageCompleted:
		return "completed"
	case service.StageFailed:
		return "failed"
	default:
		return "stage"
	}
}

func (c *SubmissionController) readImages(headers []*multipart.FileHeader) ([]service.AnswerImage, error) {
	images := make([]service.AnswerImage, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		// 多读一个字节，让校验器能识别超限文件
		limit := c.MaxImageBytes + 1
		if c.MaxImageBytes <= 0 {
			limit = fh.Size
		}
		data, err := io.ReadAll(io.LimitReader(f, limit))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		images = append(images, service.AnswerImage{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	return images, nil
}

// GetMine 查看自己在该作业下的评分记录
// @Summary 我的提交
// @Tags Submission
// @Produce json
// @Param id path string true "作业ID"
// @Success 200 {object} util.Response
// @Router /homework/{id}/submissions/me [get]
func (c *SubmissionController) GetMine(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	submission, err := c.SubmissionService.GetForStudent(ctx.Request.Context(), ctx.Param("id"), claims.UserID)
	if err != nil {
		if errors.Is(err, util.ErrSubmissionNotFound) {
			util.NotFound(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	resp, err := toSubmissionResponse(submission)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, resp)
}

// Status 当前提交尝试的阶段，没有进行中的尝试时为 idle
// @Summary 提交进度
// @Tags Submission
// @Produce json
// @Param id path string true "作业ID"
// @Success 200 {object} util.Response
// @Router /homework/{id}/submissions/me/status [get]
func (c *SubmissionController) Status(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}
	util.Success(ctx, c.Pipeline.Status(ctx.Param("id"), claims.UserID))
}
