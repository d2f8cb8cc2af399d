// Package docparse parses .docx containers into the ordered structural
// block model. The parser is deterministic: identical input bytes always
// produce an identical model, block ids included.
package docparse

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/drafterhq/drafter-core/internal/core/domain"
	"github.com/drafterhq/drafter-core/internal/core/ports/driven"
)

// parserVersion is stamped on every model this parser produces. Bump it
// whenever block extraction changes shape, so stored models can be told
// apart from freshly parsed ones.
const parserVersion = "1.0.0"

// Verify interface compliance
var _ driven.StructuralParser = (*Parser)(nil)

var (
	headingStyleRe = regexp.MustCompile(`(?i)^heading\s*([1-9])$`)
	listStyleRe    = regexp.MustCompile(`(?i)list|bullet`)
)

// headerFooterKinds is the extraction order for header and footer parts
// within one section.
var headerFooterKinds = []string{"default", "first", "even"}

// Parser implements driven.StructuralParser for Word .docx files. It reads
// the zip container directly: word/document.xml for the body, the package
// relationships for header and footer parts. Only structure is extracted;
// no semantic interpretation happens here.
type Parser struct{}

// NewParser creates a new .docx structural parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse converts raw .docx bytes into the structural model. Body blocks are
// numbered in document order starting at 1; header and footer blocks
// continue the same sequence. All failures wrap domain.ErrParse.
func (p *Parser) Parse(ctx context.Context, source []byte) (*domain.ParsedModel, error) {
	pkg, err := openPackage(source)
	if err != nil {
		return nil, err
	}

	data, err := pkg.read("word/document.xml")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: missing word/document.xml", domain.ErrParse)
	}

	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed document.xml: %v", domain.ErrParse, err)
	}

	b := &modelBuilder{}

	// Section properties appear inline on the paragraph that ends a section
	// and once at the end of the body for the final section. Collect them in
	// document order so headers and footers come out section by section.
	var sections []*xmlSectPr
	for _, child := range doc.Body.children {
		switch {
		case child.para != nil:
			if child.para.Props != nil && child.para.Props.SectPr != nil {
				sections = append(sections, child.para.Props.SectPr)
			}
			b.addParagraph(child.para)
		case child.table != nil:
			b.flushList()
			b.addTable(child.table)
		}
	}
	b.flushList()
	if doc.Body.sectPr != nil {
		sections = append(sections, doc.Body.sectPr)
	}

	if err := p.addHeadersFooters(pkg, b, sections); err != nil {
		return nil, err
	}

	model := &domain.ParsedModel{
		ParserVersion: parserVersion,
		ContentHash:   domain.HashBytes(source),
		Blocks:        b.blocks,
		Headers:       b.headers,
		Footers:       b.footers,
	}
	model.Stats = model.ComputeStats()
	return model, nil
}

// addHeadersFooters resolves each section's header and footer references
// through the package relationships and appends one block per non-empty
// part, default/first/even within each section.
func (p *Parser) addHeadersFooters(pkg *docxPackage, b *modelBuilder, sections []*xmlSectPr) error {
	rels, err := pkg.relationships()
	if err != nil {
		return err
	}

	for _, section := range sections {
		for _, kind := range headerFooterKinds {
			if target, ok := refTarget(section.HeaderRefs, kind, rels); ok {
				if err := p.addHeaderFooter(pkg, b, domain.BlockHeader, kind, target); err != nil {
					return err
				}
			}
		}
		for _, kind := range headerFooterKinds {
			if target, ok := refTarget(section.FooterRefs, kind, rels); ok {
				if err := p.addHeaderFooter(pkg, b, domain.BlockFooter, kind, target); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// addHeaderFooter parses one header or footer part. Parts with no text
// content produce no block and consume no sequence number. References to
// parts missing from the container are skipped.
func (p *Parser) addHeaderFooter(pkg *docxPackage, b *modelBuilder, blockType domain.BlockType, kind, target string) error {
	data, err := pkg.read(partPath(target))
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	var part xmlHdrFtr
	if err := xml.Unmarshal(data, &part); err != nil {
		return fmt.Errorf("%w: malformed %s part %s: %v", domain.ErrParse, blockType, target, err)
	}

	var children []domain.Block
	for i := range part.Paragraphs {
		para := &part.Paragraphs[i]
		text := strings.TrimSpace(paragraphText(para))
		if text == "" {
			continue
		}
		children = append(children, domain.Block{
			ID:       domain.NewBlockID(domain.BlockParagraph, len(children), truncateRunes(text, 30)),
			Type:     domain.BlockParagraph,
			Sequence: len(children),
			Runs:     extractRuns(para),
			Format:   paragraphFormat(para),
		})
	}
	if len(children) == 0 {
		return nil
	}

	b.appendHeaderFooter(blockType, kind, children)
	return nil
}

// refTarget finds the relationship target for the header or footer
// reference of the given kind. An absent type attribute means default.
func refTarget(refs []xmlHdrFtrRef, kind string, rels map[string]string) (string, bool) {
	for _, ref := range refs {
		refKind := ref.Type
		if refKind == "" {
			refKind = "default"
		}
		if !strings.EqualFold(refKind, kind) {
			continue
		}
		target, ok := rels[ref.ID]
		if !ok {
			return "", false
		}
		return target, true
	}
	return "", false
}

// partPath resolves a relationship target relative to the word/ directory.
func partPath(target string) string {
	t := strings.TrimPrefix(target, "/")
	if !strings.HasPrefix(t, "word/") {
		t = "word/" + t
	}
	return t
}

// modelBuilder accumulates blocks for one parse. Consecutive list
// paragraphs buffer into a single list block that is flushed when a
// non-list element arrives or the body ends.
type modelBuilder struct {
	seq     int
	blocks  []domain.Block
	headers []domain.Block
	footers []domain.Block

	listItems []domain.ListItem
	listType  string
}

// addParagraph classifies one body paragraph as a page break, list item,
// heading, or plain paragraph and appends or buffers it accordingly.
func (b *modelBuilder) addParagraph(p *xmlParagraph) {
	text := strings.TrimSpace(paragraphText(p))
	if text == "" && len(p.Runs) == 0 {
		return
	}

	// A page break swallows the paragraph that carries it.
	if hasPageBreak(p) {
		b.flushList()
		b.appendBody(domain.Block{Type: domain.BlockPageBreak}, "")
		return
	}

	if isListItem(p) {
		if b.listType == "" {
			b.listType = listTypeOf(p, text)
		}
		b.listItems = append(b.listItems, domain.ListItem{
			Level: listLevel(p),
			Runs:  extractRuns(p),
		})
		return
	}
	b.flushList()

	block := domain.Block{
		Runs:   extractRuns(p),
		Format: paragraphFormat(p),
	}
	if level, ok := headingLevel(p); ok {
		block.Type = domain.BlockHeading
		block.Level = level
	} else {
		block.Type = domain.BlockParagraph
	}
	b.appendBody(block, truncateRunes(text, 50))
}

// addTable maps one w:tbl to a table block. Cells hold their non-empty
// paragraphs as nested blocks; nested tables are not descended into.
func (b *modelBuilder) addTable(t *xmlTable) {
	rows := make([]domain.TableRow, 0, len(t.Rows))
	columnCount := 0
	for i := range t.Rows {
		cells := make([]domain.TableCell, 0, len(t.Rows[i].Cells))
		for j := range t.Rows[i].Cells {
			cells = append(cells, domain.TableCell{Blocks: cellBlocks(&t.Rows[i].Cells[j])})
		}
		if len(cells) > columnCount {
			columnCount = len(cells)
		}
		rows = append(rows, domain.TableRow{Cells: cells})
	}
	b.appendBody(domain.Block{
		Type:        domain.BlockTable,
		ColumnCount: columnCount,
		Rows:        rows,
	}, "")
}

// flushList converts the buffered list items into a single list block.
func (b *modelBuilder) flushList() {
	if len(b.listItems) == 0 {
		return
	}
	listType := b.listType
	if listType == "" {
		listType = "bullet"
	}
	items := b.listItems
	b.listItems = nil
	b.listType = ""
	b.appendBody(domain.Block{
		Type:     domain.BlockList,
		ListType: listType,
		Items:    items,
	}, "")
}

// appendBody assigns the next sequence number, the derived id, and the
// structural path, then appends the block to the body.
func (b *modelBuilder) appendBody(block domain.Block, hint string) {
	b.seq++
	block.Sequence = b.seq
	block.ID = domain.NewBlockID(block.Type, b.seq, hint)
	block.Path = domain.BlockPath(b.seq)
	b.blocks = append(b.blocks, block)
}

// appendHeaderFooter appends a header or footer block, continuing the body
// sequence so ids stay unique across the whole model.
func (b *modelBuilder) appendHeaderFooter(blockType domain.BlockType, kind string, children []domain.Block) {
	b.seq++
	block := domain.Block{
		ID:       domain.NewBlockID(blockType, b.seq, ""),
		Type:     blockType,
		Sequence: b.seq,
		Kind:     kind,
		Children: children,
	}
	if blockType == domain.BlockHeader {
		block.Path = domain.HeaderPath(kind, b.seq)
		b.headers = append(b.headers, block)
	} else {
		block.Path = domain.FooterPath(kind, b.seq)
		b.footers = append(b.footers, block)
	}
}

// cellBlocks extracts the non-empty paragraphs of one table cell.
func cellBlocks(tc *xmlTableCell) []domain.Block {
	var blocks []domain.Block
	for i := range tc.Paragraphs {
		para := &tc.Paragraphs[i]
		text := strings.TrimSpace(paragraphText(para))
		if text == "" {
			continue
		}
		blocks = append(blocks, domain.Block{
			ID:       domain.NewBlockID(domain.BlockParagraph, len(blocks), truncateRunes(text, 30)),
			Type:     domain.BlockParagraph,
			Sequence: len(blocks),
			Runs:     extractRuns(para),
			Format:   paragraphFormat(para),
		})
	}
	return blocks
}

// extractRuns maps a paragraph's non-empty runs to text runs with their
// character formatting.
func extractRuns(p *xmlParagraph) []domain.TextRun {
	var runs []domain.TextRun
	for i := range p.Runs {
		r := &p.Runs[i]
		text := runText(r)
		if text == "" {
			continue
		}
		run := domain.TextRun{Text: text}
		if props := r.Props; props != nil {
			run.Bold = onOff(props.Bold)
			run.Italic = onOff(props.Italic)
			run.Strike = onOff(props.Strike)
			run.Underline = props.Underline != nil && !strings.EqualFold(props.Underline.Val, "none")
			if props.Fonts != nil {
				run.FontName = props.Fonts.ASCII
				if run.FontName == "" {
					run.FontName = props.Fonts.HAnsi
				}
			}
			if props.Size != nil {
				// w:sz is measured in half-points.
				run.FontSize = parseNumber(props.Size.Val) / 2
			}
			if props.Color != nil && !strings.EqualFold(props.Color.Val, "auto") {
				run.Color = props.Color.Val
			}
			if props.Highlight != nil && !strings.EqualFold(props.Highlight.Val, "none") {
				run.Highlight = props.Highlight.Val
			}
		}
		runs = append(runs, run)
	}
	return runs
}

// paragraphFormat maps w:pPr to the paragraph format, or nil when the
// paragraph carries no formatting worth keeping.
func paragraphFormat(p *xmlParagraph) *domain.ParagraphFormat {
	props := p.Props
	if props == nil {
		return nil
	}

	f := domain.ParagraphFormat{}
	if props.Style != nil {
		f.StyleName = props.Style.Val
	}
	if props.Jc != nil {
		f.Alignment = alignmentName(props.Jc.Val)
	}
	if ind := props.Ind; ind != nil {
		// Indents are in twips, twentieths of a point.
		f.IndentLeft = parseNumber(ind.Left) / 20
		f.IndentRight = parseNumber(ind.Right) / 20
		if ind.FirstLine != "" {
			f.IndentFirst = parseNumber(ind.FirstLine) / 20
		} else if ind.Hanging != "" {
			f.IndentFirst = -parseNumber(ind.Hanging) / 20
		}
	}
	if sp := props.Spacing; sp != nil {
		f.SpaceBefore = parseNumber(sp.Before) / 20
		f.SpaceAfter = parseNumber(sp.After) / 20
		// Auto line spacing is a multiple of single spacing in 240ths.
		if sp.Line != "" && (sp.LineRule == "" || strings.EqualFold(sp.LineRule, "auto")) {
			f.LineSpacing = parseNumber(sp.Line) / 240
		}
	}
	if f == (domain.ParagraphFormat{}) {
		return nil
	}
	return &f
}

// headingLevel reports whether the paragraph is styled as a heading, either
// through a Heading1..9/Title/Subtitle paragraph style or an explicit
// outline level.
func headingLevel(p *xmlParagraph) (int, bool) {
	if p.Props == nil {
		return 0, false
	}
	if style := p.Props.Style; style != nil {
		if m := headingStyleRe.FindStringSubmatch(style.Val); m != nil {
			level, _ := strconv.Atoi(m[1])
			return level, true
		}
		if strings.EqualFold(style.Val, "Title") {
			return 1, true
		}
		if strings.EqualFold(style.Val, "Subtitle") {
			return 2, true
		}
	}
	if outline := p.Props.OutlineLvl; outline != nil {
		if level, err := strconv.Atoi(outline.Val); err == nil && level >= 0 && level < 9 {
			return level + 1, true
		}
	}
	return 0, false
}

// isListItem reports whether the paragraph belongs to a list, either by
// carrying numbering properties or a list-flavored paragraph style.
func isListItem(p *xmlParagraph) bool {
	if p.Props == nil {
		return false
	}
	if p.Props.NumPr != nil {
		return true
	}
	return p.Props.Style != nil && listStyleRe.MatchString(p.Props.Style.Val)
}

// listLevel returns the item's nesting level from w:numPr/w:ilvl.
func listLevel(p *xmlParagraph) int {
	if p.Props == nil || p.Props.NumPr == nil || p.Props.NumPr.Ilvl == nil {
		return 0
	}
	level, err := strconv.Atoi(p.Props.NumPr.Ilvl.Val)
	if err != nil || level < 0 {
		return 0
	}
	return level
}

// listTypeOf decides bullet or numbered from the first item of a list.
func listTypeOf(p *xmlParagraph, text string) string {
	styleName := ""
	if p.Props != nil && p.Props.Style != nil {
		styleName = p.Props.Style.Val
	}
	if strings.Contains(strings.ToLower(styleName), "bullet") || strings.Contains(text, "•") {
		return "bullet"
	}
	return "numbered"
}

// hasPageBreak reports whether any run carries an explicit page break.
func hasPageBreak(p *xmlParagraph) bool {
	for i := range p.Runs {
		for _, br := range p.Runs[i].Breaks {
			if strings.EqualFold(br.Type, "page") {
				return true
			}
		}
	}
	return false
}

// paragraphText concatenates the text of all runs.
func paragraphText(p *xmlParagraph) string {
	var sb strings.Builder
	for i := range p.Runs {
		sb.WriteString(runText(&p.Runs[i]))
	}
	return sb.String()
}

// runText concatenates the w:t nodes of one run.
func runText(r *xmlRun) string {
	var sb strings.Builder
	for _, t := range r.Texts {
		sb.WriteString(t.Value)
	}
	return sb.String()
}

// onOff resolves a toggle property: present means on unless the value
// explicitly switches it off.
func onOff(v *xmlOnOff) bool {
	if v == nil {
		return false
	}
	switch strings.ToLower(v.Val) {
	case "false", "0", "none", "off":
		return false
	}
	return true
}

// alignmentName normalizes w:jc values to the model's alignment names.
func alignmentName(val string) string {
	switch strings.ToLower(val) {
	case "both":
		return "justify"
	case "start":
		return "left"
	case "end":
		return "right"
	default:
		return strings.ToLower(val)
	}
}

// parseNumber parses a measurement attribute, treating anything
// non-numeric (like "auto") as zero.
func parseNumber(s string) float64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}

// truncateRunes shortens a block id hint without splitting multi-byte
// characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// docxPackage wraps the zip container for part lookups by name.
type docxPackage struct {
	parts map[string]*zip.File
}

// openPackage opens the .docx zip container.
func openPackage(source []byte) (*docxPackage, error) {
	zr, err := zip.NewReader(bytes.NewReader(source), int64(len(source)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip archive: %v", domain.ErrParse, err)
	}
	pkg := &docxPackage{parts: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		pkg.parts[f.Name] = f
	}
	return pkg, nil
}

// read returns the named part's bytes, or nil when the part is absent.
func (pkg *docxPackage) read(name string) ([]byte, error) {
	f, ok := pkg.parts[name]
	if !ok {
		return nil, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open part %s: %v", domain.ErrParse, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read part %s: %v", domain.ErrParse, name, err)
	}
	return data, nil
}

// relationships loads the document part's relationship map (id to target).
func (pkg *docxPackage) relationships() (map[string]string, error) {
	data, err := pkg.read("word/_rels/document.xml.rels")
	if err != nil {
		return nil, err
	}
	rels := make(map[string]string)
	if data == nil {
		return rels, nil
	}
	var parsed xmlRelationships
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed document relationships: %v", domain.ErrParse, err)
	}
	for _, rel := range parsed.Rels {
		rels[rel.ID] = rel.Target
	}
	return rels, nil
}
