package vectorindex

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"docqa-go/pkg/errs"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

// 快照文件头，用来识别非索引文件
var snapshotMagic = []byte("DQIX")

type snapshot struct {
	Version   int       `msgpack:"version"`
	Namespace string    `msgpack:"namespace"`
	Model     string    `msgpack:"model"`
	Dimension int       `msgpack:"dimension"`
	BuiltAt   time.Time `msgpack:"built_at"`
	Entries   []Entry   `msgpack:"entries"`
}

// Encode 把索引写成 zstd 压缩的 msgpack 快照。
func Encode(w io.Writer, idx *Index) error {
	if _, err := w.Write(snapshotMagic); err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	snap := snapshot{
		Version:   snapshotVersion,
		Namespace: idx.Namespace,
		Model:     idx.Model,
		Dimension: idx.Dimension,
		BuiltAt:   idx.BuiltAt,
		Entries:   idx.Entries,
	}
	if err := msgpack.NewEncoder(zw).Encode(&snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	return zw.Close()
}

// Decode 读取 Encode 写出的快照。内容无法解析时返回的错误包含 errs.ErrCorruptIndex。
func Decode(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	head := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(br, head); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated header", errs.ErrCorruptIndex)
		}
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if !bytes.Equal(head, snapshotMagic) {
		return nil, fmt.Errorf("%w: not an index snapshot", errs.ErrCorruptIndex)
	}
	zr, err := zstd.NewReader(br)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", errs.ErrCorruptIndex, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", errs.ErrCorruptIndex, snap.Version)
	}
	// newIndex 的错误带着构建期的类别，这里只保留文字
	idx, err := newIndex(snap.Namespace, snap.Model, snap.BuiltAt, snap.Entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCorruptIndex, err)
	}
	if idx.Dimension != snap.Dimension {
		return nil, fmt.Errorf("%w: dimension %d, header says %d", errs.ErrCorruptIndex, idx.Dimension, snap.Dimension)
	}
	return idx, nil
}
