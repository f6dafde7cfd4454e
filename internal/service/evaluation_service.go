package service

import (
	"context"
	"fmt"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/logger"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	MaxScore       = 10.0
	MaxMistakes    = 5
	MaxSuggestions = 2

	noAnswerMarker = "(no answer supplied)"
)

const evaluationPromptTemplate = `
You are an AI teacher evaluating student homework. Please analyze the student's answer against the original question and provide structured feedback.

ORIGINAL QUESTION:
%s

STUDENT'S ANSWER:
%s

Please respond with ONLY a valid JSON object in this exact format:
{
  "score": [number from 0-10],
  "mistakes": ["mistake 1", "mistake 2", ...],
  "suggestions": ["suggestion 1", "suggestion 2"]
}

Rules:
- Score should be between 0-10 based on accuracy, completeness, and understanding
- Mistakes should be specific errors or omissions (max 5 items)
- Suggestions should be brief, actionable advice for improvement (max 2 items)
- Keep all text concise and student-friendly
- If answer is mostly correct, focus on minor improvements
- If answer is incomplete, highlight key missing elements
- If no answer was supplied, give a score of 0 and say what is missing
`

// BuildEvaluationPrompt 空转写稿用固定标记代替，模型据此按未作答评分
func BuildEvaluationPrompt(question, transcript string) string {
	answer := strings.TrimSpace(transcript)
	if answer == "" {
		answer = noAnswerMarker
	}
	return fmt.Sprintf(evaluationPromptTemplate, strings.TrimSpace(question), answer)
}

// EvaluationService 生成评分并校验模型输出
type EvaluationService struct {
	generator Generator
}

func NewEvaluationService(generator Generator) *EvaluationService {
	return &EvaluationService{generator: generator}
}

// Evaluate 不重试；生成失败或输出不合法都返回 EvaluationError
func (s *EvaluationService) Evaluate(ctx context.Context, question, transcript string) (*model.Evaluation, error) {
	raw, err := s.generator.Generate(ctx, BuildEvaluationPrompt(question, transcript))
	if err != nil {
		return nil, util.NewEvaluationError("failed to evaluate homework with AI", err)
	}

	eval, err := ParseEvaluation(raw)
	if err != nil {
		logger.Log.Warn("Unusable AI evaluation response",
			zap.Int("length", len(raw)),
			zap.String("head", truncate(raw, 200)),
			zap.Error(err),
		)
		return nil, util.NewEvaluationError(util.ErrMalformedAIResponse.Error(), err)
	}
	return eval, nil
}

// ParseEvaluation 取响应中第一个合法 JSON 对象，校验字段类型后归一化
func ParseEvaluation(raw string) (*model.Evaluation, error) {
	obj, ok := firstJSONObject(raw)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", util.ErrMalformedAIResponse)
	}

	doc := gjson.Parse(obj)
	score := doc.Get("score")
	if score.Type != gjson.Number {
		return nil, fmt.Errorf("%w: score is not a number", util.ErrMalformedAIResponse)
	}
	mistakes, err := stringArray(doc.Get("mistakes"), "mistakes")
	if err != nil {
		return nil, err
	}
	suggestions, err := stringArray(doc.Get("suggestions"), "suggestions")
	if err != nil {
		return nil, err
	}

	return &model.Evaluation{
		Score:       ClampScore(score.Float()),
		Mistakes:    lo.Subset(mistakes, 0, MaxMistakes),
		Suggestions: lo.Subset(suggestions, 0, MaxSuggestions),
	}, nil
}

// ClampScore 限定在 [0, 10]
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

func stringArray(v gjson.Result, field string) ([]string, error) {
	if !v.IsArray() {
		return nil, fmt.Errorf("%w: %s is not an array", util.ErrMalformedAIResponse, field)
	}
	items := v.Array()
	if _, bad := lo.Find(items, func(item gjson.Result) bool { return item.Type != gjson.String }); bad {
		return nil, fmt.Errorf("%w: %s must contain only strings", util.ErrMalformedAIResponse, field)
	}
	return lo.Map(items, func(item gjson.Result, _ int) string {
		return strings.TrimSpace(item.String())
	}), nil
}

// firstJSONObject 从左到右找第一个括号配平且合法的 {...}，字符串内的括号和转义不计入
func firstJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		from := start + 1
		if end, ok := matchBrace(s, start); ok {
			candidate := s[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
			// 配平但不合法时跳过整段，不进入其中的子对象
			from = end + 1
		}
		next := strings.IndexByte(s[from:], '{')
		if next < 0 {
			break
		}
		start = from + next
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
