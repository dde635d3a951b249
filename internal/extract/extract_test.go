package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

func buildDOCX(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`))
	require.NoError(t, err)

	w, err = zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="%s"><w:body>%s</w:body></w:document>`, wordNS, body)
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func para(text string) string {
	return `<w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

func buildXLSX(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "Pricing"))
	require.NoError(t, f.SetSheetRow("Pricing", "A1", &[]interface{}{"Item", "Price"}))
	require.NoError(t, f.SetSheetRow("Pricing", "A2", &[]interface{}{"License", 100}))

	_, err := f.NewSheet("Security")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Security", "A1", &[]interface{}{"Requirement", "Notes"}))
	require.NoError(t, f.SetSheetRow("Security", "A2", &[]interface{}{"Must support SSO, SAML", ""}))

	_, err = f.NewSheet("Blank")
	require.NoError(t, err)

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(pages ...string) []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, text := range pages {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func newTestExtractor(t *testing.T) (*Extractor, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Options{TempDir: dir}), dir
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

func TestExtract_DOCX(t *testing.T) {
	ex, dir := newTestExtractor(t)
	data := buildDOCX(t,
		para("Company Overview")+
			`<w:p/>`+
			`<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr>`+
			`<w:r><w:t>1. Describe your</w:t></w:r><w:r><w:t xml:space="preserve"> SOC 2 status.</w:t></w:r></w:p>`+
			`<w:p><w:r><w:t>Line one</w:t><w:br/><w:t>Line two</w:t></w:r></w:p>`+
			`<w:tbl><w:tr><w:tc>`+para("Requirement")+`</w:tc><w:tc>`+para("Response")+`</w:tc></w:tr>`+
			`<w:tr><w:tc>`+para("Encrypt data at rest")+`</w:tc><w:tc><w:p/></w:tc></w:tr></w:tbl>`)

	res, err := ex.Extract(context.Background(), MediaTypeDOCX, data)
	require.NoError(t, err)
	require.Len(t, res.Units, 1)
	assert.Equal(t, "", res.Units[0].Label)
	assert.Equal(t,
		"Company Overview\n\n1. Describe your SOC 2 status.\nLine one\nLine two\nRequirement\tResponse\nEncrypt data at rest",
		res.Units[0].Text)
	assertEmptyDir(t, dir)

	nested := buildDOCX(t,
		`<w:tbl><w:tr><w:tc>`+para("Q1 Describe your backup strategy")+
			`<w:tbl><w:tr><w:tc>`+para("inner note")+`</w:tc><w:tc>`+para("see annex")+`</w:tc></w:tr></w:tbl>`+
			`</w:tc><w:tc>`+para("Vendor response here")+`</w:tc></w:tr>`+
			`<w:tr><w:tc>`+para("Q2 Provide references")+`</w:tc><w:tc><w:p/></w:tc></w:tr></w:tbl>`)
	res, err = ex.Extract(context.Background(), MediaTypeDOCX, nested)
	require.NoError(t, err)
	assert.Equal(t,
		"Q1 Describe your backup strategy inner note see annex\tVendor response here\nQ2 Provide references",
		res.Units[0].Text)
}

func TestExtract_MediaTypeParameters(t *testing.T) {
	ex, _ := newTestExtractor(t)
	data := buildDOCX(t, para("Describe your escalation process."))

	res, err := ex.Extract(context.Background(), "Application/vnd.openxmlformats-officedocument.wordprocessingml.document; charset=binary", data)
	require.NoError(t, err)
	assert.Equal(t, "Describe your escalation process.", res.Units[0].Text)
	assert.True(t, ex.Supports(MediaTypeXLSX+"; q=1"))
}

func TestExtract_XLSX(t *testing.T) {
	ex, dir := newTestExtractor(t)

	res, err := ex.Extract(context.Background(), MediaTypeXLSX, buildXLSX(t))
	require.NoError(t, err)
	require.Len(t, res.Units, 2)

	assert.Equal(t, "Sheet: Pricing", res.Units[0].Label)
	assert.Equal(t, "Sheet: Pricing\nItem,Price\nLicense,100", res.Units[0].Text)
	assert.Equal(t, "Sheet: Security", res.Units[1].Label)
	assert.Equal(t, "Sheet: Security\nRequirement,Notes\n\"Must support SSO, SAML\"", res.Units[1].Text)
	assert.Empty(t, res.Warnings)
	assertEmptyDir(t, dir)
}

func TestExtract_CanceledIsNotAFileProblem(t *testing.T) {
	ex, dir := newTestExtractor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ex.Extract(ctx, MediaTypeXLSX, buildXLSX(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrExtractionFailure)
	assertEmptyDir(t, dir)
}

func TestExtract_PDF(t *testing.T) {
	ex, dir := newTestExtractor(t)

	res, err := ex.Extract(context.Background(), MediaTypePDF, buildPDF("Describe your backup policy", "List your certifications"))
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	assert.Equal(t, "Page 1", res.Units[0].Label)
	assert.Contains(t, res.Units[0].Text, "backup policy")
	assert.Equal(t, "Page 2", res.Units[1].Label)
	assert.Contains(t, res.Units[1].Text, "certifications")
	assertEmptyDir(t, dir)
}

func TestExtract_Failures(t *testing.T) {
	docxWithoutText := buildDOCX(t, `<w:p/><w:p/>`)
	oleHeader := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)

	tests := []struct {
		name      string
		mediaType string
		data      []byte
		want      error
		contains  string
	}{
		{"unsupported image", "image/png", []byte("\x89PNG"), ErrUnsupportedFormat, "image/png"},
		{"corrupt pdf", MediaTypePDF, []byte("%PDF-1.4\nthis is not really a pdf"), ErrExtractionFailure, "invalid pdf"},
		{"docx not a zip", MediaTypeDOCX, []byte("plain text"), ErrExtractionFailure, "docx"},
		{"docx without text", MediaTypeDOCX, docxWithoutText, ErrExtractionFailure, "no extractable text"},
		{"empty payload", MediaTypeXLSX, nil, ErrExtractionFailure, "empty"},
		{"corrupt xlsx", MediaTypeXLSX, []byte("PK\x03\x04broken"), ErrExtractionFailure, "workbook"},
		{"binary doc", MediaTypeDOC, oleHeader, ErrExtractionFailure, ".docx"},
		{"binary xls", MediaTypeXLS, oleHeader, ErrExtractionFailure, ".xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, dir := newTestExtractor(t)
			res, err := ex.Extract(context.Background(), tt.mediaType, tt.data)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.contains)
			assertEmptyDir(t, dir)
		})
	}
}

func TestExtract_LegacyTypeWithOOXMLPayload(t *testing.T) {
	ex, _ := newTestExtractor(t)

	res, err := ex.Extract(context.Background(), MediaTypeDOC, buildDOCX(t, para("Provide three references.")))
	require.NoError(t, err)
	assert.Equal(t, "Provide three references.", res.Units[0].Text)

	res, err = ex.Extract(context.Background(), MediaTypeXLS, buildXLSX(t))
	require.NoError(t, err)
	assert.Len(t, res.Units, 2)
}

func TestPlainText(t *testing.T) {
	units := []Unit{
		{Label: "Page 1", Text: "first"},
		{Label: "Sheet: Pricing", Text: "Sheet: Pricing\nItem"},
		{Text: "body"},
	}
	assert.Equal(t, "Page 1\nfirst\n\nSheet: Pricing\nItem\n\nbody", PlainText(units))
}

func TestNormalizeMediaType(t *testing.T) {
	assert.Equal(t, MediaTypePDF, NormalizeMediaType(" Application/PDF ; name=x.pdf"))
	assert.Equal(t, MediaTypePDF, NormalizeMediaType("application/pdf;;"))
	assert.Equal(t, "", NormalizeMediaType(""))
}
