package controller

import (
	"errors"
	"homework_eval_backend/internal/service"
	"homework_eval_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type HomeworkController struct {
	HomeworkService *service.HomeworkService
}

func NewHomeworkController(homeworkService *service.HomeworkService) *HomeworkController {
	return &HomeworkController{HomeworkService: homeworkService}
}

// GetHomework 作业详情（题干、题图）
// @Summary 作业详情
// @Tags Homework
// @Produce json
// @Param id path string true "作业ID"
// @Success 200 {object} util.Response
// @Router /homework/{id} [get]
func (c *HomeworkController) GetHomework(ctx *gin.Context) {
	homework, err := c.HomeworkService.GetHomework(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, util.ErrHomeworkNotFound) {
			util.NotFound(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"homework": homework,
		"question": homework.Question(),
	})
}
