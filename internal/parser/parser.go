package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// Parser turns a file on disk into plain text.
type Parser interface {
	Extract(filePath string) (string, error)
}

// Supported reports whether ExtractText knows how to read the file extension.
func Supported(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".md", ".markdown", ".txt", ".pdf", ".docx", ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ExtractText returns the text content of filePath. Markdown and text files are
// returned verbatim; office and pdf formats are flattened to markdown-ish text.
func ExtractText(filePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".md", ".markdown", ".txt":
		return parseText(filePath)
	case ".pdf":
		return parsePDF(filePath)
	case ".docx":
		return parseDOCX(filePath)
	case ".xlsx":
		return parseXLSX(filePath)
	case ".xlsm":
		return parseXLSM(filePath)
	default:
		return "", fmt.Errorf("unsupported file format: %s", ext)
	}
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return string(data), nil
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
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to read pdf page %d: %w", i, err)
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		fmt.Fprintf(&text, "## Page %d\n\n%s\n\n", i, strings.TrimSpace(pageText))
	}
	return text.String(), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	// GetContent returns document.xml; keep only the runs, one paragraph per block
	var text strings.Builder
	for _, para := range strings.Split(r.Editable().GetContent(), "</w:p>") {
		line := strings.TrimSpace(extractTextFromXML(para, "w:t"))
		if line == "" {
			continue
		}
		text.WriteString(line)
		text.WriteString("\n\n")
	}
	return text.String(), nil
}

func parseXLSX(filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		fmt.Fprintf(&text, "## Sheet: %s\n\n", sheet.Name)
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			writeRow(&text, cells)
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func parseXLSM(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		fmt.Fprintf(&text, "## Sheet: %s\n\n", sheetName)
		for _, row := range rows {
			writeRow(&text, row)
		}
		text.WriteString("\n")
	}
	return text.String(), nil
}

func writeRow(b *strings.Builder, cells []string) {
	if strings.TrimSpace(strings.Join(cells, "")) == "" {
		return
	}
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |\n")
}

func extractTextFromXML(xmlContent, tag string) string {
	var text strings.Builder
	open, closing := "<"+tag, "</"+tag+">"
	for _, part := range strings.Split(xmlContent, open)[1:] {
		// skip attributes of the opening tag, and sibling tags sharing the prefix (w:tab, w:tbl)
		gt := strings.Index(part, ">")
		if gt < 0 || (gt > 0 && part[0] != ' ') {
			continue
		}
		body := part[gt+1:]
		if end := strings.Index(body, closing); end >= 0 {
			text.WriteString(body[:end])
		}
	}
	return text.String()
}
