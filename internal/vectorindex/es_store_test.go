package vectorindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"docqa-go/pkg/embedding/embeddingtest"
	"docqa-go/pkg/errs"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeES 在内存里实现 ESStore 用到的那部分 Elasticsearch 接口。
type fakeES struct {
	mu       sync.Mutex
	indices  map[string]map[int]json.RawMessage // 索引 -> ord -> _source
	aliases  map[string]string
	searches int
	onSearch func(index string, page int)
}

func newFakeES(t *testing.T) (*fakeES, *elasticsearch.Client) {
	t.Helper()
	f := &fakeES{indices: map[string]map[int]json.RawMessage{}, aliases: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return f, client
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	path := strings.Trim(r.URL.Path, "/")

	switch {
	case path == "_aliases":
		f.updateAliases(w, r)
	case strings.HasPrefix(path, "_alias/"):
		f.getAlias(w, strings.TrimPrefix(path, "_alias/"))
	case strings.HasSuffix(path, "/_search"):
		f.search(w, r, strings.TrimSuffix(path, "/_search"))
	case strings.HasSuffix(path, "/_bulk"):
		f.bulk(w, r, strings.TrimSuffix(path, "/_bulk"))
	case strings.HasSuffix(path, "/_refresh"):
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		f.mu.Lock()
		f.indices[path] = map[int]json.RawMessage{}
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case r.Method == http.MethodDelete:
		f.mu.Lock()
		for _, name := range strings.Split(path, ",") {
			delete(f.indices, name)
		}
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	default:
		_, _ = w.Write([]byte(`{"version":{"number":"8.19.0"}}`))
	}
}

func (f *fakeES) getAlias(w http.ResponseWriter, alias string) {
	f.mu.Lock()
	target, ok := f.aliases[alias]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"alias missing","status":404}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{target: map[string]any{"aliases": map[string]any{alias: map[string]any{}}}})
}

func (f *fakeES) updateAliases(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actions []map[string]struct {
			Index string `json:"index"`
			Alias string `json:"alias"`
		} `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, action := range body.Actions {
		if add, ok := action["add"]; ok {
			f.aliases[add.Alias] = add.Index
		}
	}
	_, _ = w.Write([]byte(`{"acknowledged":true}`))
}

func (f *fakeES) bulk(w http.ResponseWriter, r *http.Request, index string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs, ok := f.indices[index]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<24)
	for sc.Scan() {
		if !sc.Scan() {
			break
		}
		src := append(json.RawMessage(nil), sc.Bytes()...)
		var d esDoc
		if err := json.Unmarshal(src, &d); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		docs[d.Ord] = src
	}
	_, _ = w.Write([]byte(`{"errors":false,"items":[]}`))
}

func (f *fakeES) search(w http.ResponseWriter, r *http.Request, index string) {
	var query struct {
		Size        int   `json:"size"`
		SearchAfter []int `json:"search_after"`
	}
	_ = json.NewDecoder(r.Body).Decode(&query)

	f.mu.Lock()
	if target, ok := f.aliases[index]; ok {
		index = target
	}
	page := f.searches
	f.searches++
	docs, ok := f.indices[index]
	var hits []map[string]any
	if ok {
		ords := make([]int, 0, len(docs))
		for ord := range docs {
			if len(query.SearchAfter) == 0 || ord > query.SearchAfter[0] {
				ords = append(ords, ord)
			}
		}
		sort.Ints(ords)
		if len(ords) > query.Size {
			ords = ords[:query.Size]
		}
		for _, ord := range ords {
			hits = append(hits, map[string]any{"_id": fmt.Sprint(ord), "_source": docs[ord], "sort": []int{ord}})
		}
	}
	hook := f.onSearch
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"index_not_found_exception","status":404}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	if hook != nil {
		hook(index, page)
	}
}

// put 直接写入一个代索引，texts[i] 的 ord 为 i。
func (f *fakeES) put(t *testing.T, index string, texts []string) {
	t.Helper()
	docs := map[int]json.RawMessage{}
	for i, text := range texts {
		b, err := json.Marshal(esDoc{Ord: i, Namespace: "default", Model: "hash", Dimension: 2, BuiltAt: time.Unix(0, 0).UTC(), Text: text, Vector: []float32{1, float32(i)}})
		require.NoError(t, err)
		docs[i] = b
	}
	f.mu.Lock()
	f.indices[index] = docs
	f.mu.Unlock()
}

func (f *fakeES) setAlias(alias, index string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[alias] = index
}

func (f *fakeES) indexNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.indices))
	for name := range f.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func texts(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}

func TestESStore_LoadMissing(t *testing.T) {
	_, client := newFakeES(t)
	store := NewESStore(client, "")

	_, err := store.Load(context.Background(), "default")
	assert.ErrorIs(t, err, errs.ErrIndexNotFound)

	_, err = store.Load(context.Background(), "../x")
	assert.ErrorIs(t, err, errs.ErrInvalidNamespace)
}

func TestESStore_SaveLoadAcrossPages(t *testing.T) {
	f, client := newFakeES(t)
	store := NewESStore(client, "docqa-vectors")
	e := embeddingtest.New(8)

	first, err := Build(context.Background(), "default", chunks(texts("a", esPageSize+5)...), e)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), first))

	got, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	require.Equal(t, first.Len(), got.Len())
	assert.Equal(t, "a-0", got.Entries[0].Text)
	assert.Equal(t, fmt.Sprintf("a-%d", esPageSize+4), got.Entries[got.Len()-1].Text)
	assert.Equal(t, first.Entries[7].Vector, got.Entries[7].Vector)
	assert.Equal(t, e.Model(), got.Model)

	// 第二次保存切换别名并删除旧的代索引
	second, err := Build(context.Background(), "default", chunks(texts("b", 3)...), e)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), second))
	names := f.indexNames()
	require.Len(t, names, 1)
	assert.True(t, strings.HasPrefix(names[0], "docqa-vectors-default-"))

	got, err = store.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"b-0", "b-1", "b-2"}, []string{got.Entries[0].Text, got.Entries[1].Text, got.Entries[2].Text})
}

func TestESStore_LoadDoesNotMixGenerations(t *testing.T) {
	f, client := newFakeES(t)
	store := NewESStore(client, "docqa-vectors")
	alias := store.alias("default")

	f.put(t, "gen-a", texts("old", esPageSize+10))
	f.put(t, "gen-b", texts("new", esPageSize+20))
	f.setAlias(alias, "gen-a")

	// 读完第一页后并发的保存切换了别名并删除了旧代索引
	f.mu.Lock()
	f.onSearch = func(index string, page int) {
		if page != 0 {
			return
		}
		f.mu.Lock()
		f.aliases[alias] = "gen-b"
		delete(f.indices, "gen-a")
		f.mu.Unlock()
	}
	f.mu.Unlock()

	idx, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	require.Equal(t, esPageSize+20, idx.Len())
	for i, e := range idx.Entries {
		require.Equal(t, fmt.Sprintf("new-%d", i), e.Text)
	}
}

func TestESStore_CorruptEntry(t *testing.T) {
	f, client := newFakeES(t)
	store := NewESStore(client, "docqa-vectors")

	f.put(t, "gen-a", texts("x", 2))
	f.mu.Lock()
	f.indices["gen-a"][1] = json.RawMessage(`{"ord":1,"text":"y","vector":[1]}`)
	f.mu.Unlock()
	f.setAlias(store.alias("default"), "gen-a")

	_, err := store.Load(context.Background(), "default")
	require.ErrorIs(t, err, errs.ErrCorruptIndex)
	assert.False(t, errs.IsProviderError(err))
	assert.Contains(t, err.Error(), "dimension")
}
