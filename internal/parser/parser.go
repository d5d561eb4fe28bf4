package parser

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"carousel-engine/internal/errs"
	"carousel-engine/internal/governor"
	"carousel-engine/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	wtTag      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Extractor turns uploaded documents into plain text.
type Extractor struct {
	Policy governor.Policy
}

func NewExtractor(policy governor.Policy) *Extractor {
	return &Extractor{Policy: policy}
}

// BatchResult holds the texts that were extracted and one outcome per input
// document, in input order.
type BatchResult struct {
	Texts    []models.LabelledText
	Outcomes []models.ExtractionOutcome
}

func (b BatchResult) Failed() []models.ExtractionOutcome {
	var failed []models.ExtractionOutcome
	for _, o := range b.Outcomes {
		if !o.OK() {
			failed = append(failed, o)
		}
	}
	return failed
}

// Extract validates doc against the intake policy before parsing it.
func (e *Extractor) Extract(doc models.SourceDocument) (string, error) {
	if err := e.Policy.CheckDocument(doc); err != nil {
		return "", err
	}

	format := governor.NormalizeFormat(doc.Format)
	var (
		content string
		err     error
	)
	switch format {
	case "pdf":
		content, err = parsePDF(doc.Data)
	case "docx":
		content, err = parseDOCX(doc.Data)
	case "md":
		content, err = parseMarkdown(doc.Data)
	case "txt":
		content, err = parseText(doc.Data)
	case "xlsx":
		content, err = parseXLSX(doc.Data)
	default:
		return "", errs.E(errs.KindInputValidation, "extract "+doc.ID,
			fmt.Errorf("no parser for %q: %w", format, errs.ErrUnsupportedFormat))
	}
	if err != nil {
		return "", errs.E(errs.KindInputValidation, "extract "+doc.ID, err)
	}

	content = strings.TrimSpace(blankLines.ReplaceAllString(content, "\n\n"))
	if content == "" {
		return "", errs.E(errs.KindInputValidation, "extract "+doc.ID,
			fmt.Errorf("no extractable text: %w", errs.ErrInvalidInput))
	}
	return content, nil
}

// ExtractAll extracts every document independently; a failing document is
// recorded in its outcome and never stops its siblings.
func (e *Extractor) ExtractAll(docs []models.SourceDocument) BatchResult {
	var result BatchResult
	for _, doc := range docs {
		outcome := models.ExtractionOutcome{DocumentID: doc.ID, Format: doc.Format}
		content, err := e.Extract(doc)
		if err != nil {
			outcome.Err = err
			log.Warn().Err(err).Str("document", doc.ID).Msg("Skipping document")
		} else {
			outcome.Chars = utf8.RuneCountInString(content)
			result.Texts = append(result.Texts, models.LabelledText{Label: doc.ID, Text: content})
			log.Debug().Str("document", doc.ID).Int("chars", outcome.Chars).Msg("Extracted document")
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result
}

func parsePDF(data []byte) (content string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var buf strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i, err)
		}
		buf.WriteString(pageText)
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	return docxXMLToText(r.Editable().GetContent()), nil
}

// docxXMLToText keeps the text runs of a document.xml body, one line per paragraph.
func docxXMLToText(xmlContent string) string {
	var out strings.Builder
	for _, paragraph := range strings.Split(xmlContent, "</w:p>") {
		runs := wtTag.FindAllStringSubmatch(paragraph, -1)
		if len(runs) == 0 {
			continue
		}
		for _, run := range runs {
			out.WriteString(html.UnescapeString(run[1]))
		}
		out.WriteByte('\n')
	}
	return out.String()
}

// parseMarkdown walks the goldmark AST and keeps text, heading markers and
// list bullets so that document structure survives extraction.
func parseMarkdown(data []byte) (string, error) {
	source, err := parseText(data)
	if err != nil {
		return "", err
	}
	src := []byte(source)
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var out strings.Builder
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				out.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			out.WriteString(strings.Repeat("#", node.Level) + " ")
		case *ast.ListItem:
			out.WriteString("- ")
		case *ast.Text:
			out.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				out.WriteByte('\n')
			}
		case *ast.String:
			out.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				out.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("walk markdown: %w", err)
	}
	return out.String(), nil
}

func parseText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), "�"), nil
	}
	return string(data), nil
}

func parseXLSX(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var out strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", fmt.Errorf("get rows for sheet %q: %w", sheetName, err)
		}
		out.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			out.WriteString(strings.Join(row, "\t"))
			out.WriteByte('\n')
		}
	}
	return out.String(), nil
}
