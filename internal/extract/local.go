package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"docqa-go/pkg/errs"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// LocalParser 在进程内抽取常见格式的文本。
type LocalParser struct {
	md goldmark.Markdown
}

// NewLocalParser 创建本地解析器。
func NewLocalParser() *LocalParser {
	return &LocalParser{md: goldmark.New()}
}

// Supports 表示本地解析器能否处理该类型。
func (p *LocalParser) Supports(kind Kind) bool {
	switch kind {
	case KindPDF, KindCSV, KindText, KindMarkdown, KindDOCX, KindXLSX, KindPPTX:
		return true
	}
	return false
}

// Extract 抽取文件文本。解析器内部 panic（畸形 PDF 等）也转换为 ErrExtractionFailure。
func (p *LocalParser) Extract(ctx context.Context, filePath string, kind Kind) (content string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	defer func() {
		if r := recover(); r != nil {
			content = ""
			err = fmt.Errorf("解析 %s 时发生异常: %v: %w", kind, r, errs.ErrExtractionFailure)
		}
	}()

	switch kind {
	case KindPDF:
		content, err = parsePDF(filePath)
	case KindCSV:
		content, err = parseCSV(filePath)
	case KindText:
		content, err = parseText(filePath)
	case KindMarkdown:
		content, err = p.parseMarkdown(filePath)
	case KindDOCX:
		content, err = parseDOCX(filePath)
	case KindXLSX:
		content, err = parseXLSX(filePath)
	case KindPPTX:
		content, err = parsePPTX(filePath)
	default:
		return "", fmt.Errorf("本地解析器不支持 %q: %w", kind, errs.ErrUnsupportedFileType)
	}
	if err != nil {
		return "", fmt.Errorf("解析 %s 失败: %v: %w", kind, err, errs.ErrExtractionFailure)
	}
	return content, nil
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("第 %d 页: %w", i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pageText)
	}
	return sb.String(), nil
}

// parseCSV 把每行记录渲染为 "列名: 值" 的多行文本，记录之间以空行分隔。
func parseCSV(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var sb strings.Builder
	rows := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if rows > 0 {
			sb.WriteString("\n\n")
		}
		for i, value := range record {
			name := "column" + strconv.Itoa(i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = strings.TrimSpace(header[i])
			}
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(strings.TrimSpace(value))
		}
		rows++
	}
	if rows == 0 {
		// 只有表头
		return strings.Join(header, ", "), nil
	}
	return sb.String(), nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseMarkdown 遍历 goldmark AST，只保留文本内容。
func (p *LocalParser) parseMarkdown(filePath string) (string, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	doc := p.md.Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				ensureNewline(&sb)
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(src))
			}
			ensureNewline(&sb)
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteString("\n")
			}
		case *ast.String:
			sb.Write(node.Value)
		case *ast.AutoLink:
			sb.Write(node.URL(src))
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func ensureNewline(sb *strings.Builder) {
	s := sb.String()
	if len(s) > 0 && !strings.HasSuffix(s, "\n") {
		sb.WriteString("\n")
	}
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()
	// GetContent 返回 word/document.xml 原文
	return xmlText(r.Editable().GetContent(), "t", "p")
}

func parseXLSX(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("读取工作表 %s: %w", sheet, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Sheet: ")
		sb.WriteString(sheet)
		for _, row := range rows {
			sb.WriteString("\n")
			sb.WriteString(strings.Join(row, "\t"))
		}
	}
	return sb.String(), nil
}

// parsePPTX 按幻灯片编号顺序抽取 <a:t> 文本。
func parsePPTX(filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, s := range slides {
		rc, err := s.file.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		slideText, err := xmlText(string(data), "t", "p")
		if err != nil {
			return "", fmt.Errorf("幻灯片 %d: %w", s.num, err)
		}
		if strings.TrimSpace(slideText) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(slideText)
	}
	return sb.String(), nil
}

// xmlText 收集本地名为 textElem 的元素中的字符数据，每个 paraElem 结束时换行。
func xmlText(content, textElem, paraElem string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.Strict = false

	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case textElem:
				inText = true
			case "tab":
				sb.WriteString("\t")
			case "br":
				sb.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case textElem:
				inText = false
			case paraElem:
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
