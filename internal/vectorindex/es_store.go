package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"docqa-go/pkg/errs"
	"docqa-go/pkg/es"
	"docqa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
)

const (
	esBulkBatch = 500
	esPageSize  = 1000

	esLoadAttempts = 3
)

// esDoc 是索引条目在 Elasticsearch 中的文档结构。
type esDoc struct {
	Ord       int               `json:"ord"`
	Namespace string            `json:"namespace"`
	Model     string            `json:"model"`
	Dimension int               `json:"dimension"`
	BuiltAt   time.Time         `json:"built_at"`
	Text      string            `json:"text"`
	Metadata  map[string]string `json:"metadata"`
	Vector    []float32         `json:"vector"`
}

// ESStore 把每次构建写进新的代索引 <prefix>-<namespace>-<时间戳>，
// 写完后原子地把别名 <prefix>-<namespace> 切过去，再删除旧的代索引。
type ESStore struct {
	client *elasticsearch.Client
	prefix string
}

// NewESStore 创建 Elasticsearch 上的索引存储。
func NewESStore(client *elasticsearch.Client, prefix string) *ESStore {
	if prefix == "" {
		prefix = "docqa-vectors"
	}
	return &ESStore{client: client, prefix: prefix}
}

func (s *ESStore) alias(namespace string) string {
	return s.prefix + "-" + namespace
}

func esMapping(dim int) []byte {
	mapping := map[string]any{
		"mappings": map[string]any{
			"dynamic": false,
			"properties": map[string]any{
				"ord":       map[string]any{"type": "integer"},
				"namespace": map[string]any{"type": "keyword"},
				"model":     map[string]any{"type": "keyword"},
				"dimension": map[string]any{"type": "integer"},
				"built_at":  map[string]any{"type": "date"},
				"text":      map[string]any{"type": "text"},
				"metadata":  map[string]any{"type": "object", "enabled": false},
				"vector":    map[string]any{"type": "dense_vector", "dims": dim, "index": false},
			},
		},
	}
	b, _ := json.Marshal(mapping)
	return b
}

// Save 实现 Store。
func (s *ESStore) Save(ctx context.Context, idx *Index) error {
	if err := ValidateNamespace(idx.Namespace); err != nil {
		return err
	}
	alias := s.alias(idx.Namespace)
	generation := fmt.Sprintf("%s-%d-%s", alias, time.Now().UTC().Unix(), uuid.NewString()[:8])

	if err := es.CreateIndex(ctx, s.client, generation, esMapping(idx.Dimension)); err != nil {
		return err
	}
	if err := s.fill(ctx, generation, idx); err != nil {
		s.dropQuietly(generation)
		return err
	}

	old, err := es.AliasTargets(ctx, s.client, alias)
	if err != nil {
		s.dropQuietly(generation)
		return fmt.Errorf("read alias %s: %w", alias, err)
	}
	if err := es.SwapAlias(ctx, s.client, alias, generation, old); err != nil {
		s.dropQuietly(generation)
		return err
	}
	if err := es.DeleteIndices(ctx, s.client, old...); err != nil {
		log.Warnf("[ESStore] 删除旧的代索引 %v 失败: %v", old, err)
	}
	log.Infof("[ESStore] 命名空间 '%s' 已切换到 '%s'，共 %d 条", idx.Namespace, generation, idx.Len())
	return nil
}

func (s *ESStore) fill(ctx context.Context, generation string, idx *Index) error {
	for start := 0; start < len(idx.Entries); start += esBulkBatch {
		end := min(start+esBulkBatch, len(idx.Entries))
		ids := make([]string, 0, end-start)
		docs := make([]any, 0, end-start)
		for i := start; i < end; i++ {
			e := idx.Entries[i]
			ids = append(ids, strconv.Itoa(i))
			docs = append(docs, esDoc{
				Ord:       i,
				Namespace: idx.Namespace,
				Model:     idx.Model,
				Dimension: idx.Dimension,
				BuiltAt:   idx.BuiltAt,
				Text:      e.Text,
				Metadata:  e.Metadata,
				Vector:    e.Vector,
			})
		}
		if err := es.BulkIndex(ctx, s.client, generation, ids, docs); err != nil {
			return err
		}
	}
	return es.Refresh(ctx, s.client, generation)
}

// dropQuietly 清理失败构建留下的代索引，调用方的 ctx 可能已经取消。
func (s *ESStore) dropQuietly(generation string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := es.DeleteIndices(ctx, s.client, generation); err != nil {
		log.Warnf("[ESStore] 清理代索引 '%s' 失败: %v", generation, err)
	}
}

// errGenerationGone 表示读取过程中代索引被并发的 Save 删除了。
var errGenerationGone = errors.New("generation index removed during load")

// Load 先把别名解析成具体的代索引，再按 ord 顺序分页读出这一个代索引。
// 读取中途代索引被替换删除时，重新解析别名并从头读取。
func (s *ESStore) Load(ctx context.Context, namespace string) (*Index, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	alias := s.alias(namespace)

	for attempt := 1; ; attempt++ {
		targets, err := es.AliasTargets(ctx, s.client, alias)
		if err != nil {
			return nil, fmt.Errorf("read alias %s: %w", alias, err)
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("namespace %s: %w", namespace, errs.ErrIndexNotFound)
		}
		// 代索引名带时间戳，排在最后的是最新一代
		generation := targets[len(targets)-1]
		idx, err := s.loadGeneration(ctx, namespace, generation)
		if errors.Is(err, errGenerationGone) && attempt < esLoadAttempts {
			log.Warnf("[ESStore] 代索引 '%s' 在读取时被替换，重新读取", generation)
			continue
		}
		return idx, err
	}
}

func (s *ESStore) loadGeneration(ctx context.Context, namespace, generation string) (*Index, error) {
	var (
		entries []Entry
		model   string
		builtAt time.Time
		after   []any
	)
	for {
		query := map[string]any{
			"size": esPageSize,
			"sort": []any{map[string]any{"ord": "asc"}},
		}
		if after != nil {
			query["search_after"] = after
		}
		body, _ := json.Marshal(query)
		hits, found, err := es.Search(ctx, s.client, generation, body)
		if err != nil {
			return nil, fmt.Errorf("load index %s: %w", namespace, err)
		}
		if !found {
			return nil, fmt.Errorf("load index %s from %s: %w", namespace, generation, errGenerationGone)
		}
		for _, h := range hits {
			var d esDoc
			if err := json.Unmarshal(h.Source, &d); err != nil {
				return nil, fmt.Errorf("decode index entry %s: %w: %v", h.ID, errs.ErrCorruptIndex, err)
			}
			if d.Ord != len(entries) {
				return nil, fmt.Errorf("load index %s: entry %d out of order: %w", namespace, d.Ord, errs.ErrCorruptIndex)
			}
			model, builtAt = d.Model, d.BuiltAt
			entries = append(entries, Entry{Text: d.Text, Metadata: d.Metadata, Vector: d.Vector})
		}
		if len(hits) < esPageSize {
			break
		}
		after = hits[len(hits)-1].Sort
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("namespace %s: %w", namespace, errs.ErrIndexNotFound)
	}
	idx, err := newIndex(namespace, model, builtAt, entries)
	if err != nil {
		return nil, fmt.Errorf("load index %s: %w: %v", namespace, errs.ErrCorruptIndex, err)
	}
	return idx, nil
}

var _ Store = (*ESStore)(nil)
