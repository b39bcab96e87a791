// Package vectorindex 实现按命名空间隔离的扁平余弦向量索引，以及它的持久化存储。
//
// 索引在构建完成后不可变；查询只读，可以被多个 goroutine 并发使用。
package vectorindex

import (
	"context"
	"fmt"
	"maps"
	"math"
	"regexp"
	"sort"
	"time"

	"docqa-go/pkg/embedding"
	"docqa-go/pkg/errs"
)

// DefaultK 是 k <= 0 时返回的结果数。
const DefaultK = 4

var namespacePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// ValidateNamespace 检查命名空间能否安全地用作目录名、对象前缀和 ES 索引名。
func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%q: %w", ns, errs.ErrInvalidNamespace)
	}
	return nil
}

// Chunk 是待索引的一段文本及其元数据。
type Chunk struct {
	Text     string
	Metadata map[string]string
}

// Entry 是索引中的一条记录。
type Entry struct {
	Text     string            `msgpack:"text"`
	Metadata map[string]string `msgpack:"metadata"`
	Vector   []float32         `msgpack:"vector"`
}

// Index 是一个命名空间的完整向量索引。
type Index struct {
	Namespace string
	Model     string
	Dimension int
	BuiltAt   time.Time
	Entries   []Entry

	norms []float64
}

// Hit 是一条检索结果，Score 越大越相似。
type Hit struct {
	Rank     int
	Text     string
	Metadata map[string]string
	Score    float32
}

// Build 对全部分块做向量化并构建索引。分块为空时返回 errs.ErrEmptyInput。
func Build(ctx context.Context, namespace string, chunks []Chunk, embedder embedding.Embedder) (*Index, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errs.ErrEmptyInput
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks", errs.ErrEmbeddingProvider, len(vectors), len(chunks))
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{Text: c.Text, Metadata: maps.Clone(c.Metadata), Vector: vectors[i]}
	}
	return newIndex(namespace, embedder.Model(), time.Now().UTC(), entries)
}

// newIndex 校验向量维度一致并预先计算范数。
func newIndex(namespace, model string, builtAt time.Time, entries []Entry) (*Index, error) {
	if len(entries) == 0 {
		return nil, errs.ErrEmptyInput
	}
	dim := len(entries[0].Vector)
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty vector", errs.ErrEmbeddingProvider)
	}
	idx := &Index{
		Namespace: namespace,
		Model:     model,
		Dimension: dim,
		BuiltAt:   builtAt,
		Entries:   entries,
		norms:     make([]float64, len(entries)),
	}
	for i, e := range entries {
		if len(e.Vector) != dim {
			return nil, fmt.Errorf("%w: entry %d has dimension %d, want %d", errs.ErrEmbeddingProvider, i, len(e.Vector), dim)
		}
		idx.norms[i] = norm(e.Vector)
	}
	return idx, nil
}

// Len 返回索引条目数。
func (idx *Index) Len() int {
	return len(idx.Entries)
}

// Search 返回与 query 余弦相似度最高的 k 条结果，按分数降序，分数相同时按插入顺序。
func (idx *Index) Search(query []float32, k int) ([]Hit, error) {
	if len(query) != idx.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", errs.ErrEmbeddingProvider, len(query), idx.Dimension)
	}
	if k <= 0 {
		k = DefaultK
	}
	if k > len(idx.Entries) {
		k = len(idx.Entries)
	}

	qn := norm(query)
	scores := make([]float32, len(idx.Entries))
	order := make([]int, len(idx.Entries))
	for i, e := range idx.Entries {
		order[i] = i
		scores[i] = cosine(query, qn, e.Vector, idx.norms[i])
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	hits := make([]Hit, k)
	for rank, i := range order[:k] {
		e := idx.Entries[i]
		hits[rank] = Hit{Rank: rank, Text: e.Text, Metadata: maps.Clone(e.Metadata), Score: scores[i]}
	}
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine 在任一向量为零向量时返回 0。
func cosine(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (an * bn))
}
