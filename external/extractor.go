package external

import (
	"bytes"

	"github.com/ledongthuc/pdf"
)

// Page is a single extracted page: (docId, pageNumber>=1, text).
type Page struct {
	DocID      string
	PageNumber int
	Text       string
}

// Extractor is the external page-text provider, per spec §6. It MUST
// return an empty sequence on unsupported or corrupt input rather than
// erroring, and MUST emit pages in document order with pageNumber starting
// at 1 and strictly increasing.
type Extractor interface {
	Extract(docID string, kind string, blob []byte) []Page
}

// DefaultExtractor dispatches by kind: txt/md become a single page holding
// the whole text; pdf is extracted page by page via ledongthuc/pdf,
// adapted from the teacher's rag/parse.go PDFParser.
type DefaultExtractor struct{}

func (DefaultExtractor) Extract(docID, kind string, blob []byte) []Page {
	switch kind {
	case "txt", "md":
		text := string(blob)
		if text == "" {
			return nil
		}
		return []Page{{DocID: docID, PageNumber: 1, Text: text}}
	case "pdf":
		return extractPDF(docID, blob)
	default:
		return nil
	}
}

func extractPDF(docID string, blob []byte) []Page {
	reader, err := pdf.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil
	}

	numPages := reader.NumPage()
	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, Page{DocID: docID, PageNumber: i, Text: text})
	}
	return pages
}
