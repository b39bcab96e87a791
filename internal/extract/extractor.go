package extract

import (
	"context"
	"errors"
	"fmt"

	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"
)

// Extractor 把本地文件转换为纯文本。
type Extractor interface {
	Extract(ctx context.Context, filePath string, kind Kind) (string, error)
}

// RemoteExtractor 是外部抽取服务（Tika）的最小接口。
type RemoteExtractor interface {
	ExtractFile(ctx context.Context, filePath, contentType string) (string, error)
}

// Chain 优先使用本地解析器，本地不支持或失败时交给远程抽取服务。
type Chain struct {
	local  *LocalParser
	remote RemoteExtractor
}

// NewChain 创建抽取链，remote 可以为 nil。
func NewChain(local *LocalParser, remote RemoteExtractor) *Chain {
	return &Chain{local: local, remote: remote}
}

// Extract 实现 Extractor。
func (c *Chain) Extract(ctx context.Context, filePath string, kind Kind) (string, error) {
	if c.local != nil && c.local.Supports(kind) {
		content, err := c.local.Extract(ctx, filePath, kind)
		if err == nil || c.remote == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return content, err
		}
		log.Warnf("[Extractor] 本地解析 %s 失败，改用远程抽取: %v", kind, err)
	}
	if c.remote == nil {
		return "", fmt.Errorf("没有可处理 %q 的抽取器: %w", kind, errs.ErrUnsupportedFileType)
	}
	content, err := c.remote.ExtractFile(ctx, filePath, kind.MIME())
	if err != nil {
		return "", fmt.Errorf("远程抽取 %s 失败: %v: %w", kind, err, errs.ErrExtractionFailure)
	}
	return content, nil
}

var _ Extractor = (*Chain)(nil)
