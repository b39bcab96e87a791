package extract

import (
	"testing"

	"docqa-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromName(t *testing.T) {
	tests := []struct {
		name string
		want Kind
	}{
		{"report.PDF", KindPDF},
		{"data.csv", KindCSV},
		{"notes.txt", KindText},
		{"README.markdown", KindMarkdown},
		{"deck.ppt", KindPPT},
		{"deck.pptx", KindPPTX},
	}
	for _, tt := range tests {
		got, err := KindFromName(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}

	_, err := KindFromName("setup.exe")
	assert.ErrorIs(t, err, errs.ErrUnsupportedFileType)
	_, err = KindFromName("Makefile")
	assert.ErrorIs(t, err, errs.ErrUnsupportedFileType)
}

func TestSniff(t *testing.T) {
	kind, err := Sniff("values.csv", []byte("alpha,beta\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, KindCSV, kind)

	kind, err = Sniff("scan.pdf", []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n"))
	require.NoError(t, err)
	assert.Equal(t, KindPDF, kind)

	// 无扩展名时按内容识别
	kind, err = Sniff("upload", []byte("%PDF-1.7\n"))
	require.NoError(t, err)
	assert.Equal(t, KindPDF, kind)

	// 扩展名是 pdf，内容却是文本
	_, err = Sniff("fake.pdf", []byte("just some words"))
	assert.ErrorIs(t, err, errs.ErrUnsupportedFileType)

	// 扩展名是 txt，内容却是 PDF
	_, err = Sniff("fake.txt", []byte("%PDF-1.4\n\x00\x01\x02\x03binary"))
	assert.ErrorIs(t, err, errs.ErrUnsupportedFileType)
}

func TestKindMIME(t *testing.T) {
	assert.Equal(t, "application/vnd.ms-powerpoint", KindPPT.MIME())
	assert.Equal(t, "application/octet-stream", Kind("exe").MIME())
	assert.True(t, KindCSV.IsText())
	assert.False(t, KindPDF.IsText())
}
