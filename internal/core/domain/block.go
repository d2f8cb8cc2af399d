package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// BlockType identifies one kind of structural block in a parsed document.
type BlockType string

const (
	BlockHeading   BlockType = "heading"
	BlockParagraph BlockType = "paragraph"
	BlockTable     BlockType = "table"
	BlockList      BlockType = "list"
	BlockHeader    BlockType = "header"
	BlockFooter    BlockType = "footer"
	BlockPageBreak BlockType = "page_break"
)

// TextRun is a span of text with uniform character formatting.
type TextRun struct {
	Text      string  `json:"text"`
	Bold      bool    `json:"bold,omitempty"`
	Italic    bool    `json:"italic,omitempty"`
	Underline bool    `json:"underline,omitempty"`
	Strike    bool    `json:"strike,omitempty"`
	FontName  string  `json:"font_name,omitempty"`
	FontSize  float64 `json:"font_size,omitempty"`
	Color     string  `json:"color,omitempty"`
	Highlight string  `json:"highlight,omitempty"`
}

// ParagraphFormat captures paragraph-level formatting metadata.
type ParagraphFormat struct {
	Alignment   string  `json:"alignment,omitempty"`
	StyleName   string  `json:"style_name,omitempty"`
	IndentLeft  float64 `json:"indent_left,omitempty"`
	IndentRight float64 `json:"indent_right,omitempty"`
	IndentFirst float64 `json:"indent_first,omitempty"`
	SpaceBefore float64 `json:"space_before,omitempty"`
	SpaceAfter  float64 `json:"space_after,omitempty"`
	LineSpacing float64 `json:"line_spacing,omitempty"`
}

// ListItem is one entry of a list block.
type ListItem struct {
	Level int       `json:"level"`
	Runs  []TextRun `json:"runs"`
}

// TableCell holds the nested blocks of one table cell.
type TableCell struct {
	Blocks []Block `json:"blocks"`
}

// TableRow is one row of table cells.
type TableRow struct {
	Cells []TableCell `json:"cells"`
}

// Block is one addressable unit of document structure. Exactly one of the
// type-specific field groups is populated, selected by Type. Path is the
// stable structural address used to target the block across versions.
type Block struct {
	ID       string    `json:"id"`
	Type     BlockType `json:"type"`
	Sequence int       `json:"sequence"`
	Path     string    `json:"path"`

	// paragraph and heading
	Runs   []TextRun        `json:"runs,omitempty"`
	Format *ParagraphFormat `json:"format,omitempty"`

	// heading
	Level int `json:"level,omitempty"`

	// list
	ListType string     `json:"list_type,omitempty"`
	Items    []ListItem `json:"items,omitempty"`

	// table
	ColumnCount int        `json:"column_count,omitempty"`
	Rows        []TableRow `json:"rows,omitempty"`

	// header and footer
	Kind     string  `json:"kind,omitempty"`
	Children []Block `json:"children,omitempty"`
}

// BlockPath returns the structural address of a body block at the given
// sequence position.
func BlockPath(sequence int) string {
	return fmt.Sprintf("body/block/%d", sequence)
}

// HeaderPath returns the structural address of a header block.
func HeaderPath(kind string, sequence int) string {
	return fmt.Sprintf("header/%s/block/%d", kind, sequence)
}

// FooterPath returns the structural address of a footer block.
func FooterPath(kind string, sequence int) string {
	return fmt.Sprintf("footer/%s/block/%d", kind, sequence)
}

// NewBlockID derives a deterministic block id from the block type, its
// sequence position, and a short content hint. Identical inputs always
// produce the same id.
func NewBlockID(blockType BlockType, sequence int, hint string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", blockType, sequence, hint)))
	prefix := string(blockType)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("blk_%s_%04d_%s", prefix, sequence, hex.EncodeToString(sum[:])[:12])
}

// Text extracts the plain text content of the block.
func (b *Block) Text() string {
	switch b.Type {
	case BlockParagraph, BlockHeading:
		return runsText(b.Runs)
	case BlockList:
		parts := make([]string, 0, len(b.Items))
		for _, item := range b.Items {
			parts = append(parts, runsText(item.Runs))
		}
		return strings.Join(parts, "\n")
	case BlockTable:
		var rows []string
		for _, row := range b.Rows {
			var cells []string
			for _, cell := range row.Cells {
				var texts []string
				for i := range cell.Blocks {
					texts = append(texts, cell.Blocks[i].Text())
				}
				cells = append(cells, strings.Join(texts, " "))
			}
			rows = append(rows, strings.Join(cells, "\t"))
		}
		return strings.Join(rows, "\n")
	case BlockHeader, BlockFooter:
		var parts []string
		for i := range b.Children {
			parts = append(parts, b.Children[i].Text())
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func runsText(runs []TextRun) string {
	var sb strings.Builder
	for _, r := range runs {
		sb.WriteString(r.Text)
	}
	return sb.String()
}

// ContentHash returns the sha256 hex digest of the block's canonical JSON
// form. Blocks contain no maps, so marshaling is deterministic.
func (b *Block) ContentHash() string {
	raw, err := json.Marshal(b)
	if err != nil {
		// Block trees are plain data; Marshal cannot fail on them.
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// ModelStats summarizes a parsed model's block composition.
type ModelStats struct {
	BlockCount     int `json:"block_count"`
	ParagraphCount int `json:"paragraph_count"`
	HeadingCount   int `json:"heading_count"`
	TableCount     int `json:"table_count"`
	ListCount      int `json:"list_count"`
	PageBreakCount int `json:"page_break_count"`
}

// ParsedModel is the ordered structural model produced at the parse
// boundary. Identical input bytes always yield an identical model and
// content hash; the model is immutable once persisted.
type ParsedModel struct {
	ParserVersion string     `json:"parser_version"`
	ContentHash   string     `json:"content_hash"`
	Blocks        []Block    `json:"blocks"`
	Headers       []Block    `json:"headers,omitempty"`
	Footers       []Block    `json:"footers,omitempty"`
	Stats         ModelStats `json:"statistics"`
}

// BlockAt returns the body block with the given structural path, or nil.
func (m *ParsedModel) BlockAt(path string) *Block {
	for i := range m.Blocks {
		if m.Blocks[i].Path == path {
			return &m.Blocks[i]
		}
	}
	return nil
}

// ComputeStats recounts the model's block composition.
func (m *ParsedModel) ComputeStats() ModelStats {
	stats := ModelStats{BlockCount: len(m.Blocks)}
	for i := range m.Blocks {
		switch m.Blocks[i].Type {
		case BlockParagraph:
			stats.ParagraphCount++
		case BlockHeading:
			stats.HeadingCount++
		case BlockTable:
			stats.TableCount++
		case BlockList:
			stats.ListCount++
		case BlockPageBreak:
			stats.PageBreakCount++
		}
	}
	return stats
}

// Encode serializes the model to its canonical JSON form for blob storage.
func (m *ParsedModel) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode parsed model: %w", err)
	}
	return raw, nil
}

// DecodeParsedModel deserializes a model previously written with Encode.
func DecodeParsedModel(data []byte) (*ParsedModel, error) {
	var m ParsedModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode parsed model: %w", err)
	}
	return &m, nil
}

// HashBytes returns the sha256 hex digest of raw content bytes. Used for
// source blobs and content-addressed storage keys.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
