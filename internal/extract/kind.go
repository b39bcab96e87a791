// Package extract 把上传文件转换为纯文本。
//
// 文件类型由扩展名决定，缺少扩展名时根据内容嗅探（mimetype）。
// 本地解析器覆盖 pdf/csv/txt/md/docx/xlsx/pptx，其余类型交给 Tika。
package extract

import (
	"fmt"
	"path/filepath"
	"strings"

	"docqa-go/pkg/errs"

	"github.com/gabriel-vasile/mimetype"
)

// Kind 表示可抽取文本的文件类型。
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindCSV      Kind = "csv"
	KindText     Kind = "txt"
	KindMarkdown Kind = "md"
	KindDOCX     Kind = "docx"
	KindXLSX     Kind = "xlsx"
	KindPPTX     Kind = "pptx"
	KindPPT      Kind = "ppt"
)

var extKinds = map[string]Kind{
	".pdf":      KindPDF,
	".csv":      KindCSV,
	".txt":      KindText,
	".md":       KindMarkdown,
	".markdown": KindMarkdown,
	".docx":     KindDOCX,
	".xlsx":     KindXLSX,
	".pptx":     KindPPTX,
	".ppt":      KindPPT,
}

var kindMIME = map[Kind]string{
	KindPDF:      "application/pdf",
	KindCSV:      "text/csv",
	KindText:     "text/plain",
	KindMarkdown: "text/markdown",
	KindDOCX:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	KindXLSX:     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	KindPPTX:     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	KindPPT:      "application/vnd.ms-powerpoint",
}

// MIME 返回该类型的标准 Content-Type。
func (k Kind) MIME() string {
	if m, ok := kindMIME[k]; ok {
		return m
	}
	return "application/octet-stream"
}

// IsText 表示该类型是否为纯文本格式。
func (k Kind) IsText() bool {
	return k == KindCSV || k == KindText || k == KindMarkdown
}

// KindFromName 根据文件名扩展名判断类型。
func KindFromName(name string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if k, ok := extKinds[ext]; ok {
		return k, nil
	}
	return "", fmt.Errorf("%q: %w", ext, errs.ErrUnsupportedFileType)
}

// kindFromMIME 沿 mimetype 的父类型链查找已知类型。
func kindFromMIME(m *mimetype.MIME) (Kind, bool) {
	for cur := m; cur != nil; cur = cur.Parent() {
		for k, mt := range kindMIME {
			if cur.Is(mt) {
				return k, true
			}
		}
	}
	return "", false
}

// Sniff 结合文件名与文件头内容判断类型，用于上传校验。
// 二进制格式要求内容与扩展名一致；文本格式只要求内容是文本。
func Sniff(name string, head []byte) (Kind, error) {
	detected := mimetype.Detect(head)

	kind, err := KindFromName(name)
	if err != nil {
		// 没有可识别的扩展名时退回到内容嗅探
		if k, ok := kindFromMIME(detected); ok {
			return k, nil
		}
		return "", fmt.Errorf("%s (%s): %w", name, detected.String(), errs.ErrUnsupportedFileType)
	}

	if kind.IsText() {
		if isTextMIME(detected) {
			return kind, nil
		}
		return "", fmt.Errorf("%s: 内容不是文本 (%s): %w", name, detected.String(), errs.ErrUnsupportedFileType)
	}
	if detected.Is(kind.MIME()) {
		return kind, nil
	}
	// OOXML 在头部不完整时可能只被识别为 zip
	if (kind == KindDOCX || kind == KindXLSX || kind == KindPPTX) && detected.Is("application/zip") {
		return kind, nil
	}
	// 旧版 Office 文件统一是 OLE 复合文档
	if kind == KindPPT && detected.Is("application/x-ole-storage") {
		return kind, nil
	}
	return "", fmt.Errorf("%s: 内容与扩展名不符 (%s): %w", name, detected.String(), errs.ErrUnsupportedFileType)
}

func isTextMIME(m *mimetype.MIME) bool {
	for cur := m; cur != nil; cur = cur.Parent() {
		if cur.Is("text/plain") {
			return true
		}
	}
	return false
}
