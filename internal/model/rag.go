package model

import "time"

// IndexStatus 描述一次索引运行的结果状态。
type IndexStatus string

const (
	IndexStatusIndexed        IndexStatus = "indexed"
	IndexStatusNothingToIndex IndexStatus = "nothing_to_index"
)

// SkippedDocument 记录索引过程中被跳过的文档及原因。
type SkippedDocument struct {
	DocumentID uint   `json:"documentId"`
	Title      string `json:"title"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason"`
}

// IndexReport 是一次索引运行的汇总报告。
type IndexReport struct {
	Namespace        string            `json:"namespace"`
	Status           IndexStatus       `json:"status"`
	Documents        int               `json:"documents"`
	IndexedDocuments int               `json:"indexedDocuments"`
	Chunks           int               `json:"chunks"`
	Skipped          []SkippedDocument `json:"skipped"`
	BuiltAt          time.Time         `json:"builtAt"`
	Duration         time.Duration     `json:"duration"`
}

// SkippedCount 返回被跳过的文档数量。
func (r *IndexReport) SkippedCount() int {
	return len(r.Skipped)
}

// QueryStatus 是查询结果的标签。
type QueryStatus string

const (
	QueryFound     QueryStatus = "found"
	QueryNoResults QueryStatus = "no_results"
	QueryNotFound  QueryStatus = "not_found"
)

// Source 是答案引用的一个检索分块。
type Source struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Chunk      string  `json:"chunk"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

// QueryOutcome 是查询流程的结果。Status 为 found 时 Answer 与 Sources 有效。
// 服务故障不以 Outcome 表达，而是以 error 返回。
type QueryOutcome struct {
	Status  QueryStatus `json:"status"`
	Query   string      `json:"query"`
	Answer  string      `json:"answer,omitempty"`
	Sources []Source    `json:"sources,omitempty"`
}
