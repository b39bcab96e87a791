package service

import (
	"context"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/repository"
	"docqa-go/pkg/log"
)

// HistoryService 记录并返回用户的问答历史。
type HistoryService interface {
	Record(ctx context.Context, user *model.User, namespace string, outcome *model.QueryOutcome)
	List(ctx context.Context, user *model.User) ([]model.QueryRecord, error)
}

type historyService struct {
	repo repository.HistoryRepository
	now  func() time.Time
}

// NewHistoryService 创建一个新的 HistoryService 实例。
func NewHistoryService(repo repository.HistoryRepository) HistoryService {
	return &historyService{repo: repo, now: time.Now}
}

// Record 写入失败只记录日志，不影响问答结果。
func (s *historyService) Record(ctx context.Context, user *model.User, namespace string, outcome *model.QueryOutcome) {
	if user == nil || outcome == nil {
		return
	}
	rec := model.QueryRecord{
		Namespace: namespace,
		Question:  outcome.Query,
		Answer:    outcome.Answer,
		Status:    outcome.Status,
		Sources:   len(outcome.Sources),
		Timestamp: s.now().UTC(),
	}
	if err := s.repo.Append(ctx, user.ID, rec); err != nil {
		log.Warnf("[HistoryService] 记录问答历史失败, user=%s: %v", user.Username, err)
	}
}

func (s *historyService) List(ctx context.Context, user *model.User) ([]model.QueryRecord, error) {
	return s.repo.List(ctx, user.ID)
}
