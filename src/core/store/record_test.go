package store

import (
	"path/filepath"
	"testing"

	"scenegraph-server-go/src/configs"
	"scenegraph-server-go/src/core/orchestrator"
	"scenegraph-server-go/src/core/utils"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	config := &configs.Config{}
	config.Log.LogDir = t.TempDir()
	config.Log.LogFile = "test.log"
	l, err := utils.NewLogger(config)
	if err != nil {
		t.Fatalf("创建日志记录器失败: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	s, err := NewRecordStore(db, newTestLogger(t))
	if err != nil {
		t.Fatalf("创建作业记录索引失败: %v", err)
	}
	return s
}

func TestRecordStore(t *testing.T) {
	s := newTestRecordStore(t)

	t.Run("保存后按作业ID取回", func(t *testing.T) {
		result := &orchestrator.SceneGraphResult{
			JobID: "job-db-1",
			Objects: []orchestrator.DetectedObject{
				{Label: "person", Score: 0.91},
			},
			Relationships: []orchestrator.DetectedRelationship{
				{Subject: "person", Predicate: "holding", Object: "cup", Score: 0.7},
			},
			AnnotatedImage: orchestrator.ImageRef{URL: "http://example.com/a.png"},
		}
		if err := s.Save("client-1", result); err != nil {
			t.Fatalf("Save() 返回错误: %v", err)
		}

		got, err := s.Load("job-db-1")
		if err != nil {
			t.Fatalf("Load() 返回错误: %v", err)
		}
		if got == nil {
			t.Fatal("保存后未取回记录")
		}
		if got.JobID != "job-db-1" || len(got.Objects) != 1 || len(got.Relationships) != 1 {
			t.Errorf("取回结果 = %+v", got)
		}
		if got.AnnotatedImage.URL != "http://example.com/a.png" {
			t.Errorf("AnnotatedImage = %+v", got.AnnotatedImage)
		}
	})

	t.Run("不存在的作业返回nil且无错误", func(t *testing.T) {
		got, err := s.Load("missing")
		if err != nil {
			t.Fatalf("Load() 返回错误: %v", err)
		}
		if got != nil {
			t.Errorf("不存在的作业返回了结果: %+v", got)
		}
	})

	t.Run("失败记录不作为结果返回", func(t *testing.T) {
		if err := s.SaveFailure("client-1", "job-failed", "model unavailable"); err != nil {
			t.Fatalf("SaveFailure() 返回错误: %v", err)
		}
		got, err := s.Load("job-failed")
		if err != nil {
			t.Fatalf("Load() 返回错误: %v", err)
		}
		if got != nil {
			t.Errorf("失败记录不应作为结果返回: %+v", got)
		}
	})
}
