package model

import "time"

// QueryRecord 是用户的一次问答记录，保存在 Redis 中。
type QueryRecord struct {
	Namespace string      `json:"namespace"`
	Question  string      `json:"question"`
	Answer    string      `json:"answer,omitempty"`
	Status    QueryStatus `json:"status"`
	Sources   int         `json:"sources"`
	Timestamp time.Time   `json:"timestamp"`
}
