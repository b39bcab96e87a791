package service

import (
	"context"
	"time"

	"docqa-go/internal/model"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"
)

// IndexRunner 执行一次完整的索引重建，pipeline.Processor 实现了它。
type IndexRunner interface {
	Run(ctx context.Context, namespace string) (*model.IndexReport, error)
}

// IndexService 定义了索引管理操作。
type IndexService interface {
	// Rebuild 同步重建命名空间的索引。
	Rebuild(ctx context.Context, namespace string) (*model.IndexReport, error)
	// Enqueue 把重建请求发布到任务队列，队列未配置时返回 errs.ErrQueueDisabled。
	Enqueue(ctx context.Context, namespace, requestedBy string) error
}

type indexService struct {
	runner  IndexRunner
	publish TaskPublisher
}

// NewIndexService 创建一个新的 IndexService 实例。publish 可以为空。
func NewIndexService(runner IndexRunner, publish TaskPublisher) IndexService {
	return &indexService{runner: runner, publish: publish}
}

func (s *indexService) Rebuild(ctx context.Context, namespace string) (*model.IndexReport, error) {
	report, err := s.runner.Run(ctx, namespace)
	if err != nil {
		log.Errorf("[IndexService] 重建索引失败, namespace=%s, kind=%s: %v", namespace, errs.Kind(err), err)
		return nil, err
	}
	return report, nil
}

func (s *indexService) Enqueue(ctx context.Context, namespace, requestedBy string) error {
	if err := vectorindex.ValidateNamespace(namespace); err != nil {
		return err
	}
	if s.publish == nil {
		return errs.ErrQueueDisabled
	}
	task := tasks.IndexTask{
		Namespace:   namespace,
		RequestedBy: requestedBy,
		Reason:      tasks.ReasonManual,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.publish(ctx, task); err != nil {
		return err
	}
	log.Infof("[IndexService] 已发布索引任务, namespace=%s, by=%s", namespace, requestedBy)
	return nil
}
