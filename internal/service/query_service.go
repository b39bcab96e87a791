// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/internal/pipeline"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"

	"github.com/tmc/langchaingo/embeddings"
)

// DefaultRules 是未配置 llm.prompt.rules 时的 stuff 提示词。
const DefaultRules = "Use the following pieces of context to answer the question at the end. " +
	"If you don't know the answer, just say that you don't know, don't try to make up an answer."

// ErrEmptyQuery 表示查询文本为空。
var ErrEmptyQuery = errors.New("query must not be empty")

// QueryService 定义了问答操作的接口。
type QueryService interface {
	// Query 检索并生成完整回答。索引不存在或没有命中时以 Outcome 的状态表达，不返回错误。
	Query(ctx context.Context, namespace, query string) (*model.QueryOutcome, error)
	// Stream 与 Query 相同，但把回答分块写入 writer。
	Stream(ctx context.Context, namespace, query string, writer llm.MessageWriter) (*model.QueryOutcome, error)
}

type queryService struct {
	store     vectorindex.Store
	embedder  embeddings.Embedder
	llmClient llm.Client
	topK      int
	minScore  float32
	prompt    config.LLMPromptConfig
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(store vectorindex.Store, embedder embeddings.Embedder, llmClient llm.Client, indexCfg config.IndexConfig, prompt config.LLMPromptConfig) QueryService {
	return &queryService{
		store:     store,
		embedder:  embedder,
		llmClient: llmClient,
		topK:      indexCfg.TopK,
		minScore:  indexCfg.MinScore,
		prompt:    prompt,
	}
}

func (s *queryService) Query(ctx context.Context, namespace, query string) (*model.QueryOutcome, error) {
	return s.answer(ctx, namespace, query, nil)
}

func (s *queryService) Stream(ctx context.Context, namespace, query string, writer llm.MessageWriter) (*model.QueryOutcome, error) {
	return s.answer(ctx, namespace, query, writer)
}

func (s *queryService) answer(ctx context.Context, namespace, query string, writer llm.MessageWriter) (*model.QueryOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	outcome := &model.QueryOutcome{Query: query}

	// 1. 加载索引
	idx, err := s.store.Load(ctx, namespace)
	if errors.Is(err, errs.ErrIndexNotFound) {
		log.Infof("[QueryService] 命名空间 %s 尚未建立索引", namespace)
		outcome.Status = model.QueryNotFound
		return outcome, nil
	}
	if err != nil {
		return nil, fmt.Errorf("加载索引失败: %w", err)
	}

	// 2. 向量化查询
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if !errors.Is(err, errs.ErrEmbeddingProvider) {
			err = fmt.Errorf("%w: %w", errs.ErrEmbeddingProvider, err)
		}
		return nil, err
	}

	// 3. 检索并按阈值过滤
	hits, err := idx.Search(vec, s.topK)
	if err != nil {
		return nil, err
	}
	hits = filterByScore(hits, s.minScore)
	if len(hits) == 0 {
		log.Infof("[QueryService] 命名空间 %s 没有相关分块, query=%q", namespace, query)
		outcome.Status = model.QueryNoResults
		return outcome, nil
	}

	// 4. 组装提示词并生成回答
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: s.systemMessage(hits)},
		{Role: llm.RoleUser, Content: query},
	}
	answer, err := s.llmClient.StreamChatMessages(ctx, messages, nil, writer)
	if err != nil {
		if !errors.Is(err, errs.ErrSynthesis) {
			err = fmt.Errorf("%w: %w", errs.ErrSynthesis, err)
		}
		return nil, err
	}

	outcome.Status = model.QueryFound
	outcome.Answer = answer
	outcome.Sources = sources(hits)
	return outcome, nil
}

func filterByScore(hits []vectorindex.Hit, minScore float32) []vectorindex.Hit {
	if minScore <= 0 {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	return kept
}

// systemMessage 把全部检索分块塞进一条 system 消息（stuff 策略）。
func (s *queryService) systemMessage(hits []vectorindex.Hit) string {
	rules := s.prompt.Rules
	if rules == "" {
		rules = DefaultRules
	}
	texts := make([]string, len(hits))
	for i, h := range hits {
		texts[i] = h.Text
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	if s.prompt.RefStart != "" {
		sys.WriteString(s.prompt.RefStart)
		sys.WriteString("\n")
	}
	sys.WriteString(strings.Join(texts, "\n\n"))
	if s.prompt.RefEnd != "" {
		sys.WriteString("\n")
		sys.WriteString(s.prompt.RefEnd)
	}
	return sys.String()
}

func sources(hits []vectorindex.Hit) []model.Source {
	out := make([]model.Source, len(hits))
	for i, h := range hits {
		out[i] = model.Source{
			DocumentID: h.Metadata[pipeline.MetaDocumentID],
			Title:      h.Metadata[pipeline.MetaTitle],
			Chunk:      h.Metadata[pipeline.MetaChunk],
			Score:      h.Score,
			Text:       h.Text,
		}
	}
	return out
}
