package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"docqa-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLocalParser_CSV(t *testing.T) {
	p := NewLocalParser()
	path := writeFile(t, "values.csv", "alpha,beta\n1,2\n3,4\n")

	content, err := p.Extract(context.Background(), path, KindCSV)
	require.NoError(t, err)
	assert.Equal(t, "alpha: 1\nbeta: 2\n\nalpha: 3\nbeta: 4", content)
}

func TestLocalParser_CSVHeaderOnly(t *testing.T) {
	p := NewLocalParser()
	path := writeFile(t, "empty.csv", "alpha,beta\n")

	content, err := p.Extract(context.Background(), path, KindCSV)
	require.NoError(t, err)
	assert.Equal(t, "alpha, beta", content)
}

func TestLocalParser_Text(t *testing.T) {
	p := NewLocalParser()
	raw := "line one\nline two\n\ttabbed\n"
	path := writeFile(t, "notes.txt", raw)

	content, err := p.Extract(context.Background(), path, KindText)
	require.NoError(t, err)
	assert.Equal(t, raw, content)
}

func TestLocalParser_Markdown(t *testing.T) {
	p := NewLocalParser()
	path := writeFile(t, "doc.md", "# Title\n\nSome *bold* text.\n\n- item one\n- item two\n\n```\ncode line\n```\n")

	content, err := p.Extract(context.Background(), path, KindMarkdown)
	require.NoError(t, err)
	assert.Contains(t, content, "Title")
	assert.Contains(t, content, "bold")
	assert.Contains(t, content, "item one\nitem two")
	assert.Contains(t, content, "code line")
	assert.NotContains(t, content, "#")
	assert.NotContains(t, content, "*")
	assert.NotContains(t, content, "```")
}

func TestLocalParser_XLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "qty"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "apple"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	path := filepath.Join(t.TempDir(), "stock.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	content, err := NewLocalParser().Extract(context.Background(), path, KindXLSX)
	require.NoError(t, err)
	assert.Equal(t, "Sheet: Sheet1\nname\tqty\napple\t3", content)
}

func TestLocalParser_PPTX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	out, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	slides := map[string]string{
		// slide10 排在 slide2 之后，验证按数字排序
		"ppt/slides/slide10.xml": `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>Last</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide1.xml":  `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>Hello</a:t></a:r><a:r><a:t> world</a:t></a:r></a:p><a:p><a:r><a:t>Second</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide2.xml":  `<p:sld xmlns:p="p" xmlns:a="a"><a:p><a:r><a:t>Middle</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/_rels/slide1.xml.rels": `<Relationships/>`,
	}
	for name, body := range slides {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	content, err := NewLocalParser().Extract(context.Background(), path, KindPPTX)
	require.NoError(t, err)
	assert.Equal(t, "Hello world\nSecond\n\nMiddle\n\nLast", content)
}

func TestLocalParser_BrokenPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", "this is not a pdf")

	_, err := NewLocalParser().Extract(context.Background(), path, KindPDF)
	assert.ErrorIs(t, err, errs.ErrExtractionFailure)
}

func TestLocalParser_Unsupported(t *testing.T) {
	path := writeFile(t, "deck.ppt", "ole")

	_, err := NewLocalParser().Extract(context.Background(), path, KindPPT)
	assert.ErrorIs(t, err, errs.ErrUnsupportedFileType)
}

func TestLocalParser_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalParser().Extract(ctx, writeFile(t, "a.txt", "x"), KindText)
	assert.ErrorIs(t, err, context.Canceled)
}
