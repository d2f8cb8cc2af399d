package domain

import (
	"errors"
	"testing"
)

func assembledFrom(model *ParsedModel) *AssembledDocument {
	doc := &AssembledDocument{DocumentID: "doc-1", TemplateVersionID: "tv-1"}
	for i := range model.Blocks {
		b := model.Blocks[i]
		doc.Blocks = append(doc.Blocks, AssembledBlock{
			Block:         b,
			OriginalHash:  b.ContentHash(),
			AssembledHash: b.ContentHash(),
		})
	}
	doc.FinalHash = doc.ComputeFinalHash()
	return doc
}

func TestAssembledDocument_ComputeFinalHash(t *testing.T) {
	model := &ParsedModel{Blocks: []Block{paragraph(0, "a"), paragraph(1, "b")}}
	doc := assembledFrom(model)

	if doc.FinalHash == "" {
		t.Fatal("expected final hash")
	}
	if doc.FinalHash != doc.ComputeFinalHash() {
		t.Error("expected final hash to be deterministic")
	}

	// Sequence order, not slice order, drives the hash.
	swapped := &AssembledDocument{Blocks: []AssembledBlock{doc.Blocks[1], doc.Blocks[0]}}
	if swapped.ComputeFinalHash() != doc.FinalHash {
		t.Error("expected hash to be stable under slice reordering")
	}

	changed := assembledFrom(model)
	changed.Blocks[1].AssembledHash = "different"
	if changed.ComputeFinalHash() == doc.FinalHash {
		t.Error("expected content change to change the final hash")
	}
}

func TestAssembledDocument_BlockAt(t *testing.T) {
	doc := assembledFrom(&ParsedModel{Blocks: []Block{paragraph(0, "a"), paragraph(1, "b")}})

	if got := doc.BlockAt("body/block/0"); got == nil || got.Block.Text() != "a" {
		t.Errorf("expected block at body/block/0, got %v", got)
	}
	if doc.BlockAt("body/block/5") != nil {
		t.Error("expected nil for missing path")
	}
}

func TestAssembledDocument_ValidateAgainst(t *testing.T) {
	model := &ParsedModel{Blocks: []Block{paragraph(0, "static intro"), paragraph(1, "dynamic body")}}
	sections := []Section{
		*NewSection("tv-1", &model.Blocks[0], SectionStatic, Classification{Method: ClassifiedByRule, Confidence: 0.9}),
		*NewSection("tv-1", &model.Blocks[1], SectionDynamic, Classification{Method: ClassifiedByRule, Confidence: 0.9}),
	}

	t.Run("valid assembly passes", func(t *testing.T) {
		doc := assembledFrom(model)
		doc.Blocks[1].Block.Runs = []TextRun{{Text: "generated content"}}
		doc.Blocks[1].AssembledHash = doc.Blocks[1].Block.ContentHash()
		doc.Blocks[1].WasModified = true
		if err := doc.ValidateAgainst(model, sections); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing block fails", func(t *testing.T) {
		doc := assembledFrom(model)
		doc.Blocks = doc.Blocks[:1]
		if err := doc.ValidateAgainst(model, sections); !errors.Is(err, ErrGeneration) {
			t.Errorf("expected ErrGeneration, got %v", err)
		}
	})

	t.Run("reordered blocks fail", func(t *testing.T) {
		doc := assembledFrom(model)
		doc.Blocks[0], doc.Blocks[1] = doc.Blocks[1], doc.Blocks[0]
		if err := doc.ValidateAgainst(model, sections); !errors.Is(err, ErrGeneration) {
			t.Errorf("expected ErrGeneration, got %v", err)
		}
	})

	t.Run("static drift fails", func(t *testing.T) {
		doc := assembledFrom(model)
		doc.Blocks[0].Block.Runs = []TextRun{{Text: "tampered"}}
		doc.Blocks[0].AssembledHash = doc.Blocks[0].Block.ContentHash()
		if err := doc.ValidateAgainst(model, sections); !errors.Is(err, ErrGeneration) {
			t.Errorf("expected ErrGeneration, got %v", err)
		}
	})

	t.Run("dynamic change passes", func(t *testing.T) {
		doc := assembledFrom(model)
		doc.Blocks[1].Block.Runs = []TextRun{{Text: "fresh output"}}
		doc.Blocks[1].AssembledHash = doc.Blocks[1].Block.ContentHash()
		if err := doc.ValidateAgainst(model, sections); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestAssembledDocument_EncodeDecode(t *testing.T) {
	doc := assembledFrom(&ParsedModel{Blocks: []Block{paragraph(0, "content")}})

	raw, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeAssembledDocument(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.FinalHash != doc.FinalHash {
		t.Error("expected final hash to survive the round trip")
	}
	if len(decoded.Blocks) != 1 || decoded.Blocks[0].Block.Text() != "content" {
		t.Error("expected block content to survive the round trip")
	}
}
