package vectorindex

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docqa-go/pkg/embedding/embeddingtest"
	"docqa-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedEmbedder 按文本查表返回向量。
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (f fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := f.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

func (f fixedEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return f.vectors[text], nil
}

func (f fixedEmbedder) Model() string { return "fixed" }

func chunks(texts ...string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{Text: t, Metadata: map[string]string{"chunk": fmt.Sprint(i)}}
	}
	return out
}

func TestValidateNamespace(t *testing.T) {
	for _, ns := range []string{"default", "team-a", "t_1", "0"} {
		assert.NoError(t, ValidateNamespace(ns), ns)
	}
	for _, ns := range []string{"", "Team", "../etc", "a/b", "-lead", "a b", strings.Repeat("a", 64)} {
		assert.ErrorIs(t, ValidateNamespace(ns), errs.ErrInvalidNamespace, ns)
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	_, err := Build(context.Background(), "default", nil, embeddingtest.New(8))
	assert.ErrorIs(t, err, errs.ErrEmptyInput)
}

func TestBuild_EmbeddingError(t *testing.T) {
	e := embeddingtest.New(8)
	e.Err = fmt.Errorf("%w: quota", errs.ErrEmbeddingProvider)
	_, err := Build(context.Background(), "default", chunks("a"), e)
	assert.ErrorIs(t, err, errs.ErrEmbeddingProvider)
}

func TestBuild_DimensionMismatch(t *testing.T) {
	e := fixedEmbedder{vectors: map[string][]float32{"a": {1, 0}, "b": {1, 0, 0}}}
	_, err := Build(context.Background(), "default", chunks("a", "b"), e)
	assert.ErrorIs(t, err, errs.ErrEmbeddingProvider)
}

func TestSearch_OrderAndTies(t *testing.T) {
	e := fixedEmbedder{vectors: map[string][]float32{
		"east":       {1, 0},
		"north":      {0, 1},
		"east-again": {2, 0},
		"northeast":  {1, 1},
		"q":          {1, 0},
	}}
	idx, err := Build(context.Background(), "default", chunks("north", "east", "northeast", "east-again"), e)
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Len())
	assert.Equal(t, 2, idx.Dimension)
	assert.Equal(t, "fixed", idx.Model)

	hits, err := idx.Search([]float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	// east 与 east-again 同分，按插入顺序
	assert.Equal(t, "east", hits[0].Text)
	assert.Equal(t, "east-again", hits[1].Text)
	assert.Equal(t, "northeast", hits[2].Text)
	assert.Equal(t, "north", hits[3].Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, hits[2].Score, 1e-3)
	assert.InDelta(t, 0.0, hits[3].Score, 1e-6)
	for i, h := range hits {
		assert.Equal(t, i, h.Rank)
	}

	top, err := idx.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "east", top[0].Text)
	assert.Equal(t, "1", top[0].Metadata["chunk"])
}

func TestSearch_DefaultK(t *testing.T) {
	e := embeddingtest.New(16)
	idx, err := Build(context.Background(), "default", chunks("a", "b", "c", "d", "e", "f"), e)
	require.NoError(t, err)
	hits, err := idx.Search(e.Vector("a"), 0)
	require.NoError(t, err)
	assert.Len(t, hits, DefaultK)
}

func TestSearch_DimensionMismatch(t *testing.T) {
	idx, err := Build(context.Background(), "default", chunks("a"), embeddingtest.New(4))
	require.NoError(t, err)
	_, err = idx.Search([]float32{1, 2}, 1)
	assert.Error(t, err)
}

func TestSearch_ZeroVectorScoresZero(t *testing.T) {
	e := fixedEmbedder{vectors: map[string][]float32{"zero": {0, 0}, "one": {0, 1}}}
	idx, err := Build(context.Background(), "default", chunks("zero", "one"), e)
	require.NoError(t, err)
	hits, err := idx.Search([]float32{0, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, "one", hits[0].Text)
	assert.Equal(t, float32(0), hits[1].Score)
}

func TestSearch_MetadataIsCopied(t *testing.T) {
	idx, err := Build(context.Background(), "default", chunks("a"), embeddingtest.New(4))
	require.NoError(t, err)
	hits, err := idx.Search(embeddingtest.New(4).Vector("a"), 1)
	require.NoError(t, err)
	hits[0].Metadata["chunk"] = "changed"
	again, err := idx.Search(embeddingtest.New(4).Vector("a"), 1)
	require.NoError(t, err)
	assert.Equal(t, "0", again[0].Metadata["chunk"])
}

func TestCodec_RoundTrip(t *testing.T) {
	e := embeddingtest.New(32)
	texts := []string{"héllo wörld\n", "第二段\t文本", "", "plain"}
	idx, err := Build(context.Background(), "team-a", chunks(texts...), e)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, idx))
	got, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, idx.Namespace, got.Namespace)
	assert.Equal(t, idx.Model, got.Model)
	assert.Equal(t, idx.Dimension, got.Dimension)
	assert.True(t, idx.BuiltAt.Equal(got.BuiltAt))
	require.Equal(t, idx.Len(), got.Len())
	for i := range idx.Entries {
		assert.Equal(t, idx.Entries[i].Text, got.Entries[i].Text)
		assert.Equal(t, idx.Entries[i].Vector, got.Entries[i].Vector)
		assert.Equal(t, idx.Entries[i].Metadata, got.Entries[i].Metadata)
	}
}

func TestCodec_RejectsForeignData(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("definitely not an index")))
	assert.ErrorIs(t, err, errs.ErrCorruptIndex)
	_, err = Decode(bytes.NewReader(nil))
	assert.ErrorIs(t, err, errs.ErrCorruptIndex)
}

func TestCodec_CorruptSnapshotIsNotProviderError(t *testing.T) {
	idx, err := Build(context.Background(), "default", chunks("alpha", "beta", "gamma"), embeddingtest.New(16))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, idx))

	_, err = Decode(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	require.ErrorIs(t, err, errs.ErrCorruptIndex)
	assert.False(t, errs.IsProviderError(err))

	// 维度不一致的条目
	bad := &Index{Namespace: "default", Dimension: 2, Entries: []Entry{
		{Text: "a", Vector: []float32{1, 0}},
		{Text: "b", Vector: []float32{1}},
	}}
	buf.Reset()
	require.NoError(t, Encode(&buf, bad))
	_, err = Decode(&buf)
	require.ErrorIs(t, err, errs.ErrCorruptIndex)
	assert.NotErrorIs(t, err, errs.ErrEmbeddingProvider)
	assert.Equal(t, "corrupt_index", errs.Kind(err))

	// 空快照不是 empty_input
	buf.Reset()
	require.NoError(t, Encode(&buf, &Index{Namespace: "default"}))
	_, err = Decode(&buf)
	require.ErrorIs(t, err, errs.ErrCorruptIndex)
	assert.NotErrorIs(t, err, errs.ErrEmptyInput)
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "faiss_index")
	idx, err := Build(context.Background(), "default", chunks("alpha", "beta"), embeddingtest.New(16))
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), idx))

	path := store.path("default")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-8], 0o644))

	_, err = store.Load(context.Background(), "default")
	assert.ErrorIs(t, err, errs.ErrCorruptIndex)
}

func TestFileStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir, "faiss_index")
	e := embeddingtest.New(64)
	texts := []string{"alpha beta", "gamma delta", "epsilon zeta"}
	idx, err := Build(context.Background(), "default", chunks(texts...), e)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), idx))
	loaded, err := store.Load(context.Background(), "default")
	require.NoError(t, err)

	// 用某个分块自身的向量查询，top-1 必须是这个分块
	for _, text := range texts {
		hits, err := loaded.Search(e.Vector(text), 1)
		require.NoError(t, err)
		assert.Equal(t, text, hits[0].Text)
	}

	// 只留下最终文件，没有临时文件
	files, err := os.ReadDir(filepath.Join(dir, "default"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "faiss_index.msgpack.zst", files[0].Name())
}

func TestFileStore_SaveReplaces(t *testing.T) {
	store := NewFileStore(t.TempDir(), "")
	e := embeddingtest.New(16)
	first, err := Build(context.Background(), "default", chunks("one", "two"), e)
	require.NoError(t, err)
	second, err := Build(context.Background(), "default", chunks("three"), e)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), first))
	require.NoError(t, store.Save(context.Background(), second))
	loaded, err := store.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	assert.Equal(t, "three", loaded.Entries[0].Text)
}

func TestFileStore_NotFound(t *testing.T) {
	store := NewFileStore(t.TempDir(), "")
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrIndexNotFound)

	_, err = store.Load(context.Background(), "../escape")
	assert.ErrorIs(t, err, errs.ErrInvalidNamespace)
}

func TestFileStore_NamespacesAreIsolated(t *testing.T) {
	store := NewFileStore(t.TempDir(), "")
	e := embeddingtest.New(16)
	a, err := Build(context.Background(), "team-a", chunks("apples"), e)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), a))

	_, err = store.Load(context.Background(), "team-b")
	assert.ErrorIs(t, err, errs.ErrIndexNotFound)
}
