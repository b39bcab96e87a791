// Package embeddingtest 提供测试用的确定性 Embedder。
package embeddingtest

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"unicode"
)

// HashEmbedder 把文本按词哈希到固定维度的词袋向量，包含相同词的文本余弦相似度更高。
type HashEmbedder struct {
	Dim  int
	Name string
	// Err 非空时所有调用都返回它
	Err error

	documentCalls atomic.Int64
	queryCalls    atomic.Int64
}

// New 创建 dim 维的 HashEmbedder。
func New(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim, Name: "hash-test"}
}

// Vector 返回 text 的向量。
func (h *HashEmbedder) Vector(text string) []float32 {
	v := make([]float32, h.Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		v[int(f.Sum32())%h.Dim]++
	}
	return v
}

// EmbedDocuments 实现 embeddings.Embedder。
func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	h.documentCalls.Add(1)
	if h.Err != nil {
		return nil, h.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.Vector(t)
	}
	return out, nil
}

// EmbedQuery 实现 embeddings.Embedder。
func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	h.queryCalls.Add(1)
	if h.Err != nil {
		return nil, h.Err
	}
	return h.Vector(text), nil
}

// Model 实现 embedding.Embedder。
func (h *HashEmbedder) Model() string {
	return h.Name
}

// DocumentCalls 返回 EmbedDocuments 的调用次数。
func (h *HashEmbedder) DocumentCalls() int64 {
	return h.documentCalls.Load()
}

// QueryCalls 返回 EmbedQuery 的调用次数。
func (h *HashEmbedder) QueryCalls() int64 {
	return h.queryCalls.Load()
}
