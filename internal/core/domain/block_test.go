package domain

import (
	"strings"
	"testing"
)

func paragraph(seq int, text string) Block {
	return Block{
		ID:       NewBlockID(BlockParagraph, seq, text),
		Type:     BlockParagraph,
		Sequence: seq,
		Path:     BlockPath(seq),
		Runs:     []TextRun{{Text: text}},
	}
}

func TestBlockPath(t *testing.T) {
	if got := BlockPath(0); got != "body/block/0" {
		t.Errorf("expected body/block/0, got %s", got)
	}
	if got := BlockPath(17); got != "body/block/17" {
		t.Errorf("expected body/block/17, got %s", got)
	}
	if got := HeaderPath("default", 2); got != "header/default/block/2" {
		t.Errorf("expected header/default/block/2, got %s", got)
	}
	if got := FooterPath("first", 0); got != "footer/first/block/0" {
		t.Errorf("expected footer/first/block/0, got %s", got)
	}
}

func TestNewBlockID(t *testing.T) {
	id := NewBlockID(BlockParagraph, 3, "Hello world")

	if !strings.HasPrefix(id, "blk_par_0003_") {
		t.Errorf("expected prefix blk_par_0003_, got %s", id)
	}
	if len(id) != len("blk_par_0003_")+12 {
		t.Errorf("expected 12-char hash suffix, got %s", id)
	}

	// Deterministic: identical inputs produce the identical id.
	if id != NewBlockID(BlockParagraph, 3, "Hello world") {
		t.Error("expected identical inputs to produce identical ids")
	}
	if id == NewBlockID(BlockParagraph, 4, "Hello world") {
		t.Error("expected sequence to change the id")
	}
	if id == NewBlockID(BlockParagraph, 3, "Other text") {
		t.Error("expected hint to change the id")
	}
}

func TestBlock_Text(t *testing.T) {
	tests := []struct {
		name     string
		block    Block
		expected string
	}{
		{
			"paragraph joins runs",
			Block{Type: BlockParagraph, Runs: []TextRun{{Text: "Dear "}, {Text: "Client", Bold: true}}},
			"Dear Client",
		},
		{
			"heading",
			Block{Type: BlockHeading, Level: 1, Runs: []TextRun{{Text: "Terms"}}},
			"Terms",
		},
		{
			"list joins items",
			Block{Type: BlockList, Items: []ListItem{
				{Level: 0, Runs: []TextRun{{Text: "first"}}},
				{Level: 1, Runs: []TextRun{{Text: "second"}}},
			}},
			"first\nsecond",
		},
		{
			"table joins cells",
			Block{Type: BlockTable, Rows: []TableRow{{Cells: []TableCell{
				{Blocks: []Block{{Type: BlockParagraph, Runs: []TextRun{{Text: "a"}}}}},
				{Blocks: []Block{{Type: BlockParagraph, Runs: []TextRun{{Text: "b"}}}}},
			}}}},
			"a\tb",
		},
		{
			"page break is empty",
			Block{Type: BlockPageBreak},
			"",
		},
		{
			"footer joins children",
			Block{Type: BlockFooter, Kind: "default", Children: []Block{
				{Type: BlockParagraph, Runs: []TextRun{{Text: "page"}}},
			}},
			"page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.block.Text(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestBlock_ContentHash(t *testing.T) {
	b1 := paragraph(0, "The quick brown fox")
	b2 := paragraph(0, "The quick brown fox")

	if b1.ContentHash() != b2.ContentHash() {
		t.Error("expected identical blocks to hash identically")
	}
	if len(b1.ContentHash()) != 64 {
		t.Errorf("expected sha256 hex digest, got %q", b1.ContentHash())
	}

	b2.Runs[0].Text = "The quick brown fox."
	if b1.ContentHash() == b2.ContentHash() {
		t.Error("expected text change to change the hash")
	}

	b3 := paragraph(0, "The quick brown fox")
	b3.Runs[0].Bold = true
	if b1.ContentHash() == b3.ContentHash() {
		t.Error("expected formatting change to change the hash")
	}
}

func TestParsedModel_EncodeDecode(t *testing.T) {
	model := &ParsedModel{
		ParserVersion: "1.0.0",
		ContentHash:   HashBytes([]byte("source")),
		Blocks: []Block{
			{ID: NewBlockID(BlockHeading, 0, "Title"), Type: BlockHeading, Sequence: 0, Path: BlockPath(0), Level: 1, Runs: []TextRun{{Text: "Title"}}},
			paragraph(1, "Body text"),
		},
	}
	model.Stats = model.ComputeStats()

	raw, err := model.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Canonical form: encoding the same model twice yields the same bytes.
	raw2, _ := model.Encode()
	if string(raw) != string(raw2) {
		t.Error("expected deterministic encoding")
	}

	decoded, err := DecodeParsedModel(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(decoded.Blocks))
	}
	if decoded.Blocks[0].Text() != "Title" {
		t.Errorf("expected heading text to survive, got %q", decoded.Blocks[0].Text())
	}
	if decoded.Blocks[1].ContentHash() != model.Blocks[1].ContentHash() {
		t.Error("expected content hashes to survive the round trip")
	}
}

func TestParsedModel_BlockAt(t *testing.T) {
	model := &ParsedModel{Blocks: []Block{paragraph(0, "a"), paragraph(1, "b")}}

	if got := model.BlockAt("body/block/1"); got == nil || got.Text() != "b" {
		t.Errorf("expected block at body/block/1, got %v", got)
	}
	if got := model.BlockAt("body/block/9"); got != nil {
		t.Errorf("expected nil for missing path, got %v", got)
	}
}

func TestParsedModel_ComputeStats(t *testing.T) {
	model := &ParsedModel{Blocks: []Block{
		{Type: BlockHeading, Sequence: 0},
		{Type: BlockParagraph, Sequence: 1},
		{Type: BlockParagraph, Sequence: 2},
		{Type: BlockTable, Sequence: 3},
		{Type: BlockList, Sequence: 4},
		{Type: BlockPageBreak, Sequence: 5},
	}}

	stats := model.ComputeStats()

	if stats.BlockCount != 6 {
		t.Errorf("expected 6 blocks, got %d", stats.BlockCount)
	}
	if stats.ParagraphCount != 2 {
		t.Errorf("expected 2 paragraphs, got %d", stats.ParagraphCount)
	}
	if stats.HeadingCount != 1 || stats.TableCount != 1 || stats.ListCount != 1 || stats.PageBreakCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHashBytes(t *testing.T) {
	h1 := HashBytes([]byte("same bytes"))
	h2 := HashBytes([]byte("same bytes"))
	if h1 != h2 {
		t.Error("expected identical bytes to hash identically")
	}
	if len(h1) != 64 {
		t.Errorf("expected sha256 hex digest, got length %d", len(h1))
	}
	if h1 == HashBytes([]byte("other bytes")) {
		t.Error("expected different bytes to hash differently")
	}
}
