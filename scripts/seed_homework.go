// 本地联调脚本：从 YAML 导入作业，并为测试学生签发 token
//
// 作业由外部教学系统维护，本服务只读。此脚本仅用于开发环境准备数据。
//
// 用法: go run scripts/seed_homework.go -file scripts/homework.example.yaml -student stu_001

package main

import (
	"context"
	"flag"
	"fmt"
	"homework_eval_backend/internal/config"
	"homework_eval_backend/internal/model"
	"homework_eval_backend/internal/repository"
	"homework_eval_backend/internal/util"
	"homework_eval_backend/pkg/database"
	"homework_eval_backend/pkg/logger"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type homeworkFixture struct {
	ID               string     `yaml:"id"`
	Title            string     `yaml:"title"`
	Description      string     `yaml:"description"`
	QuestionText     string     `yaml:"question"`
	QuestionImageURL string     `yaml:"question_image_url"`
	ClassID          string     `yaml:"class_id"`
	TeacherID        string     `yaml:"teacher_id"`
	DueDate          *time.Time `yaml:"due_date"`
}

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	file := flag.String("file", "scripts/homework.example.yaml", "作业 YAML")
	student := flag.String("student", "", "为该学生签发 token（可选）")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger.InitLogger(cfg)
	defer logger.Sync()

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("无法读取作业文件: %v", err)
	}

	var fixtures []homeworkFixture
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		log.Fatalf("解析作业文件失败: %v", err)
	}

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	repo := repository.NewHomeworkRepository(db)
	ctx := context.Background()
	for _, f := range fixtures {
		hw := &model.Homework{
			Title:            f.Title,
			Description:      f.Description,
			QuestionText:     f.QuestionText,
			QuestionImageURL: f.QuestionImageURL,
			ClassID:          f.ClassID,
			TeacherID:        f.TeacherID,
			DueDate:          f.DueDate,
		}
		hw.ID = f.ID
		if err := repo.Create(ctx, hw); err != nil {
			log.Fatalf("写入作业 %q 失败: %v", f.Title, err)
		}
		fmt.Printf("homework %s  %s\n", hw.ID, hw.Title)
	}

	if *student != "" {
		token, err := util.GenerateJWT(*student, util.RoleStudent, cfg.JWT.Secret, cfg.JWT.ExpireTime)
		if err != nil {
			log.Fatalf("签发 token 失败: %v", err)
		}
		fmt.Printf("token for %s:\n%s\n", *student, token)
	}
}
