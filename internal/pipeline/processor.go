// Package pipeline 定义了文档索引的核心流程：定位文件、抽取文本、切块、向量化并持久化索引。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"docqa-go/internal/config"
	"docqa-go/internal/extract"
	"docqa-go/internal/model"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/errs"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tasks"

	"golang.org/x/sync/errgroup"
)

// 分块元数据的键
const (
	MetaDocumentID = "document_id"
	MetaTitle      = "title"
	MetaSource     = "source"
	MetaChunk      = "chunk"
	MetaStart      = "start"
)

// DocumentLister 是索引流程需要的文档仓库能力。
type DocumentLister interface {
	FindByNamespace(ctx context.Context, namespace string) ([]model.Document, error)
}

// Processor 封装了索引流程的所有依赖和逻辑。
type Processor struct {
	docs       DocumentLister
	blobs      storage.BlobStore
	extractor  extract.Extractor
	splitter   *Splitter
	embedder   embedding.Embedder
	store      vectorindex.Store
	workers    int
	docTimeout time.Duration
	tempDir    string
	runTimeout time.Duration

	mu    sync.Mutex
	lanes map[string]*lane
}

// flight 是一次排队中或进行中的索引运行，done 关闭后 report 和 err 可读。
type flight struct {
	done    chan struct{}
	callers int
	report  *model.IndexReport
	err     error
}

// lane 串行化同一命名空间的运行。next 是还没有读取文档列表的运行，新的触发只能加入它。
type lane struct {
	turn chan struct{}
	next *flight
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	docs DocumentLister,
	blobs storage.BlobStore,
	extractor extract.Extractor,
	embedder embedding.Embedder,
	store vectorindex.Store,
	cfg config.IndexConfig,
	tempDir string,
) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Processor{
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		splitter: NewSplitter(
			WithChunkSize(cfg.ChunkSize),
			WithChunkOverlap(cfg.ChunkOverlap),
			WithSeparator(cfg.Separator),
		),
		embedder:   embedder,
		store:      store,
		workers:    workers,
		docTimeout: cfg.DocumentTimeout,
		tempDir:    tempDir,
		runTimeout: cfg.RunTimeout,
		lanes:      make(map[string]*lane),
	}
}

// Process 实现 Kafka 的 TaskProcessor。
func (p *Processor) Process(ctx context.Context, task tasks.IndexTask) error {
	report, err := p.Run(ctx, task.Namespace)
	if err != nil {
		return err
	}
	log.Infof("[Processor] 异步索引完成, namespace=%s, status=%s, chunks=%d, skipped=%d",
		report.Namespace, report.Status, report.Chunks, report.SkippedCount())
	return nil
}

// Run 重建命名空间的索引。
// 同一命名空间的触发会合并：还没开始读取文档列表的运行可以被加入并共享结果；
// 已经读过列表的运行不再接受加入，之后的触发会在它结束后再跑一次，保证新上传的文档被索引。
// 运行本身不随调用方的 ctx 取消，调用方取消时只是不再等待结果。
// 单个文档的失败只会让该文档被跳过；向量化或持久化失败会中止整次运行。
func (p *Processor) Run(ctx context.Context, namespace string) (*model.IndexReport, error) {
	if err := vectorindex.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	f, shared := p.join(ctx, namespace)
	if shared {
		log.Infof("[Processor] 命名空间 %s 已有排队中的索引，复用其结果", namespace)
	}
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return f.report, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("等待索引结果被取消: %w", ctx.Err())
	}
}

// join 返回命名空间下一次可加入的运行，没有时创建并启动一个。
func (p *Processor) join(ctx context.Context, namespace string) (*flight, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l := p.lanes[namespace]
	if l == nil {
		l = &lane{turn: make(chan struct{}, 1)}
		p.lanes[namespace] = l
	}
	if l.next != nil {
		l.next.callers++
		return l.next, true
	}
	f := &flight{done: make(chan struct{}), callers: 1}
	l.next = f
	go p.fly(context.WithoutCancel(ctx), namespace, l, f)
	return f, false
}

func (p *Processor) fly(ctx context.Context, namespace string, l *lane, f *flight) {
	defer close(f.done)

	// 等待前一次运行结束
	l.turn <- struct{}{}
	defer func() { <-l.turn }()

	// 从这里开始读取文档列表，之后的触发排入下一次运行
	p.mu.Lock()
	if l.next == f {
		l.next = nil
	}
	p.mu.Unlock()

	if p.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runTimeout)
		defer cancel()
	}
	f.report, f.err = p.run(ctx, namespace)
}

// pending 返回命名空间排队中的运行的调用方数量。
func (p *Processor) pending(namespace string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l := p.lanes[namespace]; l != nil && l.next != nil {
		return l.next.callers
	}
	return 0
}

// docResult 是单个文档的处理结果，chunks 与 skipped 二选一。
type docResult struct {
	chunks  []vectorindex.Chunk
	skipped *model.SkippedDocument
}

func (p *Processor) run(ctx context.Context, namespace string) (*model.IndexReport, error) {
	started := time.Now()
	log.Infof("[Processor] 开始索引, namespace=%s", namespace)

	// 1. 读取文档列表
	docs, err := p.docs.FindByNamespace(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("读取文档列表失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 共 %d 个文档", len(docs))

	// 2. 并行处理每个文档，结果按文档顺序保存
	keys := p.blobKeys(ctx)
	results := make([]docResult, len(docs))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := range docs {
		i := i
		g.Go(func() error {
			results[i] = p.processDocument(ctx, docs[i], keys)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("索引被取消: %w", err)
	}

	// 3. 汇总分块
	report := &model.IndexReport{Namespace: namespace, Documents: len(docs), Skipped: []model.SkippedDocument{}}
	var chunks []vectorindex.Chunk
	for _, r := range results {
		if r.skipped != nil {
			report.Skipped = append(report.Skipped, *r.skipped)
			continue
		}
		report.IndexedDocuments++
		chunks = append(chunks, r.chunks...)
	}
	report.Chunks = len(chunks)
	log.Infof("[Processor] 步骤3: 共 %d 个分块, 跳过 %d 个文档", len(chunks), report.SkippedCount())

	if len(chunks) == 0 {
		report.Status = model.IndexStatusNothingToIndex
		report.Duration = time.Since(started)
		log.Warnf("[Processor] 命名空间 %s 没有可索引的内容", namespace)
		return report, nil
	}

	// 4. 向量化并构建索引
	idx, err := vectorindex.Build(ctx, namespace, chunks, p.embedder)
	if err != nil {
		log.Errorf("[Processor] 步骤4: 构建索引失败: %v", err)
		return nil, fmt.Errorf("构建索引失败: %w", err)
	}

	// 5. 持久化
	if err := p.store.Save(ctx, idx); err != nil {
		log.Errorf("[Processor] 步骤5: 保存索引失败: %v", err)
		return nil, fmt.Errorf("保存索引失败: %w", err)
	}

	report.Status = model.IndexStatusIndexed
	report.BuiltAt = idx.BuiltAt
	report.Duration = time.Since(started)
	log.Infof("[Processor] 索引完成, namespace=%s, chunks=%d, 耗时 %s", namespace, report.Chunks, report.Duration)
	return report, nil
}

// blobKeys 返回一个只在首次调用时列举存储的函数，只有缺少 StorageKey 的历史文档才需要它。
func (p *Processor) blobKeys(ctx context.Context) func() ([]string, error) {
	var (
		once sync.Once
		keys []string
		err  error
	)
	return func() ([]string, error) {
		once.Do(func() {
			keys, err = p.blobs.List(ctx)
		})
		return keys, err
	}
}

func (p *Processor) processDocument(ctx context.Context, doc model.Document, keys func() ([]string, error)) docResult {
	if p.docTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.docTimeout)
		defer cancel()
	}

	name := doc.Title
	if filepath.Ext(name) == "" && doc.StorageKey != "" {
		name = path.Base(doc.StorageKey)
	}
	kind, err := extract.KindFromName(name)
	if err == nil {
		var chunks []vectorindex.Chunk
		chunks, err = p.documentChunks(ctx, doc, kind, keys)
		if err == nil && len(chunks) == 0 {
			err = errEmptyDocument
		}
		if err == nil {
			log.Infof("[Processor] 文档 %d (%s) 生成 %d 个分块", doc.ID, doc.Title, len(chunks))
			return docResult{chunks: chunks}
		}
	}

	log.Warnf("[Processor] 跳过文档 %d (%s): %v", doc.ID, doc.Title, err)
	return docResult{skipped: &model.SkippedDocument{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Kind:       skipKind(err),
		Reason:     err.Error(),
	}}
}

var errEmptyDocument = errors.New("no extractable text")

func skipKind(err error) string {
	if errors.Is(err, errEmptyDocument) {
		return "empty_document"
	}
	return errs.Kind(err)
}

// documentChunks 下载文件到临时文件、抽取文本并切块。临时文件在所有路径上都会被删除。
func (p *Processor) documentChunks(ctx context.Context, doc model.Document, kind extract.Kind, keys func() ([]string, error)) ([]vectorindex.Chunk, error) {
	key, err := p.locate(doc, keys)
	if err != nil {
		return nil, err
	}

	tmpPath, err := p.download(ctx, key, kind)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Warnf("[Processor] 删除临时文件 %s 失败: %v", tmpPath, rmErr)
		}
	}()

	text, err := p.extractor.Extract(ctx, tmpPath, kind)
	if err != nil {
		return nil, err
	}
	log.Debugf("[Processor] 文档 %d 文本长度 %d 字符", doc.ID, utf8.RuneCountInString(text))

	docID := strconv.FormatUint(uint64(doc.ID), 10)
	var chunks []vectorindex.Chunk
	for _, seg := range p.splitter.Segments(text) {
		if strings.TrimSpace(seg.Text) == "" {
			continue
		}
		chunks = append(chunks, vectorindex.Chunk{
			Text: seg.Text,
			Metadata: map[string]string{
				MetaDocumentID: docID,
				MetaTitle:      doc.Title,
				MetaSource:     key,
				MetaChunk:      strconv.Itoa(len(chunks)),
				MetaStart:      strconv.Itoa(seg.Start),
			},
		})
	}
	return chunks, nil
}

// locate 优先使用上传时记录的存储键，历史文档按标题后缀匹配。
func (p *Processor) locate(doc model.Document, keys func() ([]string, error)) (string, error) {
	if doc.StorageKey != "" {
		return doc.StorageKey, nil
	}
	all, err := keys()
	if err != nil {
		return "", fmt.Errorf("列出存储对象失败: %w", err)
	}
	key, ok := storage.FindBySuffix(all, doc.Title)
	if !ok {
		return "", fmt.Errorf("%s: %w", doc.Title, errs.ErrBlobNotFound)
	}
	log.Infof("[Processor] 文档 %d 没有存储键，按标题匹配到 %s", doc.ID, key)
	return key, nil
}

// download 把对象写到临时文件，失败时不会留下文件。
func (p *Processor) download(ctx context.Context, key string, kind extract.Kind) (string, error) {
	rc, err := p.blobs.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(p.tempDir, "docqa-index-*."+string(kind))
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	_, copyErr := io.Copy(tmp, rc)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("下载 %s 失败: %w", key, err)
	}
	return tmp.Name(), nil
}
