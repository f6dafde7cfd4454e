package service

import (
	"context"
	"errors"
	"fmt"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"homework_eval_backend/pkg/monitoring"
	"homework_eval_backend/pkg/tracing"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Stage 提交流水线的处理阶段
type Stage string

const (
	StageIdle       Stage = "idle"
	StageUploading  Stage = "uploading"
	StageExtracting Stage = "extracting"
	StageEvaluating Stage = "evaluating"
	StageRecording  Stage = "recording"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// Terminal 是否为终态
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

var stageProgress = map[Stage]float64{
	StageIdle:       0,
	StageUploading:  0.1,
	StageExtracting: 0.35,
	StageEvaluating: 0.65,
	StageRecording:  0.9,
	StageCompleted:  1,
}

var stageMessages = map[Stage]string{
	StageUploading:  "Uploading images...",
	StageExtracting: "Extracting text from images...",
	StageEvaluating: "Evaluating your answer...",
	StageRecording:  "Saving your submission...",
}

// Event 阶段变化通知，终态事件之后通道关闭
type Event struct {
	Stage        Stage     `json:"stage"`
	Progress     float64   `json:"progress"`
	Message      string    `json:"message,omitempty"`
	Score        *float64  `json:"score,omitempty"`
	SubmissionID string    `json:"submissionId,omitempty"`
	FailedStage  Stage     `json:"failedStage,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Snapshot 尝试当前状态及已累积的中间结果
type Snapshot struct {
	HomeworkID   string            `json:"homeworkId"`
	StudentID    string            `json:"studentId"`
	Stage        Stage             `json:"stage"`
	Progress     float64           `json:"progress"`
	FailedStage  Stage             `json:"failedStage,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	ImageURLs    []string          `json:"imageUrls,omitempty"`
	Transcript   string            `json:"transcript,omitempty"`
	Evaluation   *model.Evaluation `json:"evaluation,omitempty"`
	SubmissionID string            `json:"submissionId,omitempty"`
	StartedAt    time.Time         `json:"startedAt,omitempty"`
}

// Attempt 一次提交尝试；由 PipelineService 驱动，调用方只读
type Attempt struct {
	HomeworkID string
	StudentID  string
	Rejected   []Rejection

	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu   sync.RWMutex
	snap Snapshot
	err  error
}

func newAttempt(homeworkID, studentID string, rejected []Rejection, cancel context.CancelFunc) *Attempt {
	return &Attempt{
		HomeworkID: homeworkID,
		StudentID:  studentID,
		Rejected:   rejected,
		// 容量大于一次尝试可能产生的事件数，发送不会阻塞流水线
		events: make(chan Event, 8),
		done:   make(chan struct{}),
		cancel: cancel,
		snap: Snapshot{
			HomeworkID: homeworkID,
			StudentID:  studentID,
			Stage:      StageIdle,
			StartedAt:  time.Now(),
		},
	}
}

// Events 阶段事件流，终态事件后关闭
func (a *Attempt) Events() <-chan Event {
	return a.events
}

// Done 尝试结束后关闭
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Wait 阻塞到尝试结束，返回终态快照和失败原因
func (a *Attempt) Wait() (Snapshot, error) {
	<-a.done
	return a.Snapshot(), a.Err()
}

// Cancel 取消进行中的尝试，尝试以 Failed 结束
func (a *Attempt) Cancel() {
	a.cancel()
}

func (a *Attempt) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.snap
	s.ImageURLs = append([]string(nil), a.snap.ImageURLs...)
	return s
}

func (a *Attempt) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.err
}

func (a *Attempt) enter(stage Stage) {
	a.mu.Lock()
	a.snap.Stage = stage
	a.snap.Progress = stageProgress[stage]
	a.mu.Unlock()
	a.events <- Event{
		Stage:     stage,
		Progress:  stageProgress[stage],
		Message:   stageMessages[stage],
		Timestamp: time.Now(),
	}
}

func (a *Attempt) update(fn func(s *Snapshot)) {
	a.mu.Lock()
	fn(&a.snap)
	a.mu.Unlock()
}

func (a *Attempt) complete(submission *model.Submission, eval *model.Evaluation) {
	score := eval.Score
	a.mu.Lock()
	a.snap.Stage = StageCompleted
	a.snap.Progress = 1
	a.snap.SubmissionID = submission.ID
	a.mu.Unlock()
	a.events <- Event{
		Stage:        StageCompleted,
		Progress:     1,
		Message:      fmt.Sprintf("Your answer has been submitted and evaluated. Score: %s/10", strconv.FormatFloat(score, 'f', -1, 64)),
		Score:        &score,
		SubmissionID: submission.ID,
		Timestamp:    time.Now(),
	}
}

func (a *Attempt) fail(stage Stage, err error) {
	reason := util.UserMessage(err)
	a.mu.Lock()
	progress := a.snap.Progress
	a.snap.Stage = StageFailed
	a.snap.FailedStage = stage
	a.snap.Reason = reason
	a.err = err
	a.mu.Unlock()
	a.events <- Event{
		Stage:       StageFailed,
		Progress:    progress,
		Message:     "Submission failed",
		FailedStage: stage,
		Reason:      reason,
		Timestamp:   time.Now(),
	}
}

func (a *Attempt) finish() {
	close(a.events)
	close(a.done)
}

// HomeworkLookup 读取作业题目
type HomeworkLookup interface {
	GetHomework(ctx context.Context, id string) (*model.Homework, error)
}

// ImageUploader 上传答案图片，返回与输入顺序一致的 URL
type ImageUploader interface {
	Upload(ctx context.Context, studentID, homeworkID string, images []AnswerImage) ([]string, error)
}

// TextExtractor 把答案图片转成带页码的转写稿
type TextExtractor interface {
	Extract(ctx context.Context, images []AnswerImage) (Transcript, error)
}

// HomeworkEvaluator 按题目给转写稿评分
type HomeworkEvaluator interface {
	Evaluate(ctx context.Context, question, transcript string) (*model.Evaluation, error)
}

// SubmissionRecorder 持久化评分记录
type SubmissionRecorder interface {
	Record(ctx context.Context, in RecordInput) (*model.Submission, error)
}

type PipelineDeps struct {
	Validator *ImageValidator
	Homework  HomeworkLookup
	Uploader  ImageUploader
	Extractor TextExtractor
	Evaluator HomeworkEvaluator
	Recorder  SubmissionRecorder
	Guard     SubjectGuard
}

type PipelineOptions struct {
	MaxImages int
	Timeout   time.Duration
}

// RejectedFilesError 没有可用图片时附带每个文件被拒的原因
type RejectedFilesError struct {
	Rejected []Rejection
	Err      error
}

func (e *RejectedFilesError) Error() string {
	return e.Err.Error()
}

func (e *RejectedFilesError) Unwrap() error {
	return e.Err
}

// PipelineService 编排 上传 → 识别 → 评分 → 保存，各阶段严格串行
type PipelineService struct {
	deps     PipelineDeps
	opts     PipelineOptions
	attempts sync.Map // subjectKey -> *Attempt
}

func NewPipelineService(deps PipelineDeps, opts PipelineOptions) *PipelineService {
	if deps.Guard == nil {
		deps.Guard = NewLocalSubjectGuard()
	}
	if deps.Validator == nil {
		deps.Validator = NewImageValidator(0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	return &PipelineService{deps: deps, opts: opts}
}

// Submit 校验输入后启动一次尝试。校验失败时不创建尝试，状态保持 Idle。
func (s *PipelineService) Submit(ctx context.Context, homeworkID, studentID string, files []AnswerImage) (*Attempt, error) {
	if !util.ValidIdentifier(homeworkID) || !util.ValidIdentifier(studentID) {
		monitoring.PipelineAttempts.WithLabelValues("rejected").Inc()
		return nil, util.NewValidationError("invalid homework or student id", util.ErrInvalidIdentifier)
	}

	accepted, rejected := s.deps.Validator.Validate(files)
	if len(accepted) == 0 {
		monitoring.PipelineAttempts.WithLabelValues("rejected").Inc()
		return nil, &RejectedFilesError{
			Rejected: rejected,
			Err:      util.NewValidationError(util.ErrNoFilesSelected.Error(), util.ErrNoFilesSelected),
		}
	}
	if s.opts.MaxImages > 0 && len(accepted) > s.opts.MaxImages {
		monitoring.PipelineAttempts.WithLabelValues("rejected").Inc()
		return nil, util.NewValidationError(fmt.Sprintf("at most %d images per submission", s.opts.MaxImages), util.ErrTooManyFiles)
	}

	homework, err := s.deps.Homework.GetHomework(ctx, homeworkID)
	if err != nil {
		if errors.Is(err, util.ErrHomeworkNotFound) {
			monitoring.PipelineAttempts.WithLabelValues("rejected").Inc()
			return nil, util.NewValidationError(util.ErrHomeworkNotFound.Error(), err)
		}
		return nil, err
	}

	release, err := s.deps.Guard.Acquire(ctx, homeworkID, studentID)
	if err != nil {
		if errors.Is(err, util.ErrAttemptInProgress) {
			monitoring.PipelineAttempts.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	attempt := newAttempt(homeworkID, studentID, rejected, cancel)
	key := subjectKey(homeworkID, studentID)
	s.attempts.Store(key, attempt)

	logger.Log.Info("Submission attempt started",
		zap.String("homework_id", homeworkID),
		zap.String("student_id", studentID),
		zap.Int("images", len(accepted)),
		zap.Int("rejected", len(rejected)),
	)

	go func() {
		defer func() {
			cancel()
			s.attempts.CompareAndDelete(key, attempt)
			release()
			attempt.finish()
		}()
		s.run(runCtx, attempt, homework, accepted)
	}()

	return attempt, nil
}

// Status 没有进行中的尝试时返回 Idle
func (s *PipelineService) Status(homeworkID, studentID string) Snapshot {
	if v, ok := s.attempts.Load(subjectKey(homeworkID, studentID)); ok {
		return v.(*Attempt).Snapshot()
	}
	return Snapshot{HomeworkID: homeworkID, StudentID: studentID, Stage: StageIdle}
}

func (s *PipelineService) run(ctx context.Context, a *Attempt, homework *model.Homework, images []AnswerImage) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.submit")
	span.SetAttributes(
		attribute.String("homework.id", homework.ID),
		attribute.Int("images", len(images)),
	)
	var runErr error
	defer func() { tracing.EndSpan(span, runErr) }()

	var urls []string
	if runErr = s.stage(ctx, a, StageUploading, func(ctx context.Context) (err error) {
		urls, err = s.deps.Uploader.Upload(ctx, a.StudentID, homework.ID, images)
		return err
	}); runErr != nil {
		return
	}
	a.update(func(snap *Snapshot) { snap.ImageURLs = urls })

	var transcript Transcript
	if runErr = s.stage(ctx, a, StageExtracting, func(ctx context.Context) (err error) {
		transcript, err = s.deps.Extractor.Extract(ctx, images)
		return err
	}); runErr != nil {
		return
	}
	a.update(func(snap *Snapshot) { snap.Transcript = transcript.Text })

	var eval *model.Evaluation
	if runErr = s.stage(ctx, a, StageEvaluating, func(ctx context.Context) (err error) {
		eval, err = s.deps.Evaluator.Evaluate(ctx, homework.Question(), transcript.Text)
		return err
	}); runErr != nil {
		return
	}
	a.update(func(snap *Snapshot) { snap.Evaluation = eval })

	var submission *model.Submission
	if runErr = s.stage(ctx, a, StageRecording, func(ctx context.Context) (err error) {
		submission, err = s.deps.Recorder.Record(ctx, RecordInput{
			HomeworkID: homework.ID,
			StudentID:  a.StudentID,
			ImageURLs:  urls,
			Transcript: transcript.Text,
			Evaluation: *eval,
		})
		return err
	}); runErr != nil {
		return
	}

	a.complete(submission, eval)
	monitoring.PipelineAttempts.WithLabelValues("completed").Inc()
	logger.Log.Info("Submission evaluated",
		zap.String("homework_id", homework.ID),
		zap.String("student_id", a.StudentID),
		zap.String("submission_id", submission.ID),
		zap.Float64("score", eval.Score),
	)
}

// stage 执行单个阶段；取消或失败时尝试直接进入 Failed
func (s *PipelineService) stage(ctx context.Context, a *Attempt, stage Stage, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return s.failed(a, stage, cancellationError(stage, err))
	}

	a.enter(stage)
	stageCtx, span := tracing.StartSpan(ctx, "pipeline."+string(stage))
	start := time.Now()

	err := fn(stageCtx)
	// 记录已落库时不再因取消判定失败
	if err == nil && ctx.Err() != nil && stage != StageRecording {
		err = cancellationError(stage, ctx.Err())
	} else if err != nil && ctx.Err() != nil && !isStageError(err) {
		err = cancellationError(stage, ctx.Err())
	}

	monitoring.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	tracing.EndSpan(span, err)

	if err != nil {
		return s.failed(a, stage, err)
	}
	return nil
}

func (s *PipelineService) failed(a *Attempt, stage Stage, err error) error {
	monitoring.StageFailures.WithLabelValues(string(stage)).Inc()
	monitoring.PipelineAttempts.WithLabelValues("failed").Inc()
	logger.Log.Warn("Submission attempt failed",
		zap.String("homework_id", a.HomeworkID),
		zap.String("student_id", a.StudentID),
		zap.String("stage", string(stage)),
		zap.Error(err),
	)
	a.fail(stage, err)
	return err
}

func isStageError(err error) bool {
	var pe *util.PipelineError
	return errors.As(err, &pe)
}

func cancellationError(stage Stage, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return util.NewPipelineError(stageKind(stage), "submission timed out", err)
	}
	return util.NewPipelineError(stageKind(stage), "submission cancelled", err)
}

func stageKind(stage Stage) util.ErrorKind {
	switch stage {
	case StageUploading:
		return util.KindUpload
	case StageExtracting:
		return util.KindExtraction
	case StageEvaluating:
		return util.KindEvaluation
	case StageRecording:
		return util.KindRecording
	default:
		return util.KindValidation
	}
}
