// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ESClient 是全局的 Elasticsearch 客户端，未配置地址时为 nil。
var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并检查集群可达。
func InitES(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("连接 Elasticsearch 失败: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("Elasticsearch 返回错误: %s", res.String())
	}
	ESClient = client
	log.Info("Elasticsearch 客户端初始化成功")
	return client, nil
}

// responseError 读取错误响应，并关闭 Body。
func responseError(op string, res *esapi.Response) error {
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: elasticsearch status %d: %s", op, res.StatusCode, strings.TrimSpace(string(body)))
}

// CreateIndex 使用给定的 mapping 创建索引。
func CreateIndex(ctx context.Context, client *elasticsearch.Client, name string, mapping []byte) error {
	res, err := client.Indices.Create(name,
		client.Indices.Create.WithBody(bytes.NewReader(mapping)),
		client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", name, err)
	}
	if res.IsError() {
		return responseError("create index "+name, res)
	}
	res.Body.Close()
	log.Infof("索引 '%s' 创建成功", name)
	return nil
}

// BulkIndex 把 docs 按顺序写入索引，ids[i] 是 docs[i] 的文档 ID。
// 任何一条写入失败都会返回错误。
func BulkIndex(ctx context.Context, client *elasticsearch.Client, index string, ids []string, docs []any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": ids[i]}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}

	res, err := client.Bulk(bytes.NewReader(buf.Bytes()),
		client.Bulk.WithIndex(index),
		client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("bulk 写入 '%s' 失败: %w", index, err)
	}
	if res.IsError() {
		return responseError("bulk "+index, res)
	}
	defer res.Body.Close()

	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if out.Errors {
		for _, item := range out.Items {
			for _, r := range item {
				if len(r.Error) > 0 {
					return fmt.Errorf("bulk 写入 '%s' 部分失败: %s", index, string(r.Error))
				}
			}
		}
		return fmt.Errorf("bulk 写入 '%s' 部分失败", index)
	}
	return nil
}

// Refresh 让已写入的文档对搜索可见。
func Refresh(ctx context.Context, client *elasticsearch.Client, index string) error {
	res, err := client.Indices.Refresh(
		client.Indices.Refresh.WithIndex(index),
		client.Indices.Refresh.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	if res.IsError() {
		return responseError("refresh "+index, res)
	}
	res.Body.Close()
	return nil
}

// AliasTargets 返回别名当前指向的索引，别名不存在时返回空。
func AliasTargets(ctx context.Context, client *elasticsearch.Client, alias string) ([]string, error) {
	res, err := client.Indices.GetAlias(
		client.Indices.GetAlias.WithName(alias),
		client.Indices.GetAlias.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("get alias "+alias, res)
	}
	defer res.Body.Close()

	var out map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析别名响应失败: %w", err)
	}
	targets := make([]string, 0, len(out))
	for name := range out {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets, nil
}

// SwapAlias 在一次请求里把别名从 old 全部移到 target，对读者是原子的。
func SwapAlias(ctx context.Context, client *elasticsearch.Client, alias, target string, old []string) error {
	actions := make([]map[string]any, 0, len(old)+1)
	for _, name := range old {
		actions = append(actions, map[string]any{"remove": map[string]any{"index": name, "alias": alias}})
	}
	actions = append(actions, map[string]any{"add": map[string]any{"index": target, "alias": alias}})
	body, err := json.Marshal(map[string]any{"actions": actions})
	if err != nil {
		return err
	}
	res, err := client.Indices.UpdateAliases(bytes.NewReader(body),
		client.Indices.UpdateAliases.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("切换别名 '%s' 失败: %w", alias, err)
	}
	if res.IsError() {
		return responseError("update aliases "+alias, res)
	}
	res.Body.Close()
	return nil
}

// DeleteIndices 删除索引，不存在的索引被忽略。
func DeleteIndices(ctx context.Context, client *elasticsearch.Client, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	res, err := client.Indices.Delete(names,
		client.Indices.Delete.WithIgnoreUnavailable(true),
		client.Indices.Delete.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	if res.IsError() {
		return responseError("delete indices", res)
	}
	res.Body.Close()
	return nil
}

// Search 执行一次搜索，返回原始 hits。索引或别名不存在时 found 为 false。
func Search(ctx context.Context, client *elasticsearch.Client, index string, body []byte) (hits []SearchHit, found bool, err error) {
	res, err := client.Search(
		client.Search.WithIndex(index),
		client.Search.WithBody(bytes.NewReader(body)),
		client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, false, err
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, false, nil
	}
	if res.IsError() {
		return nil, false, responseError("search "+index, res)
	}
	defer res.Body.Close()

	var out struct {
		Hits struct {
			Hits []SearchHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, true, fmt.Errorf("解析搜索响应失败: %w", err)
	}
	return out.Hits.Hits, true, nil
}

// SearchHit 是搜索结果中的一条文档。
type SearchHit struct {
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
	Sort   []any           `json:"sort"`
}
