package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AssembledBlock is one block of a generated artifact, annotated with the
// provenance the integrity validator and surgical regeneration rely on.
type AssembledBlock struct {
	Block         Block  `json:"block"`
	SectionID     string `json:"section_id"`
	IsDynamic     bool   `json:"is_dynamic"`
	WasModified   bool   `json:"was_modified"`
	OriginalHash  string `json:"original_hash"`
	AssembledHash string `json:"assembled_hash"`
}

// AssembledDocument is the artifact stored for one document version: the
// ordered assembled blocks plus the headers and footers preserved verbatim
// from the parsed model.
type AssembledDocument struct {
	DocumentID        string           `json:"document_id"`
	TemplateVersionID string           `json:"template_version_id"`
	Blocks            []AssembledBlock `json:"blocks"`
	Headers           []Block          `json:"headers,omitempty"`
	Footers           []Block          `json:"footers,omitempty"`
	FinalHash         string           `json:"final_hash"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// BlockAt returns the assembled block with the given structural path, or nil.
func (d *AssembledDocument) BlockAt(path string) *AssembledBlock {
	for i := range d.Blocks {
		if d.Blocks[i].Block.Path == path {
			return &d.Blocks[i]
		}
	}
	return nil
}

// ComputeFinalHash digests the whole artifact: block ids and assembled
// hashes joined in sequence order. Two artifacts with the same hash carry
// identical content at every structural path.
func (d *AssembledDocument) ComputeFinalHash() string {
	blocks := make([]AssembledBlock, len(d.Blocks))
	copy(blocks, d.Blocks)
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Block.Sequence < blocks[j].Block.Sequence
	})
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.Block.ID+":"+b.AssembledHash)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}

// ValidateAgainst checks structural integrity of the artifact against the
// parsed model and section set it was assembled from: block count, ids,
// order and types must match, and static blocks must carry content hashes
// identical to the source model's. Any violation discards the assembly.
func (d *AssembledDocument) ValidateAgainst(model *ParsedModel, sections []Section) error {
	if len(d.Blocks) != len(model.Blocks) {
		return fmt.Errorf("%w: assembled %d blocks, model has %d", ErrGeneration, len(d.Blocks), len(model.Blocks))
	}
	byPath := make(map[string]*Section, len(sections))
	for i := range sections {
		byPath[sections[i].Path] = &sections[i]
	}
	for i := range d.Blocks {
		got := &d.Blocks[i]
		want := &model.Blocks[i]
		if got.Block.ID != want.ID {
			return fmt.Errorf("%w: block %d id mismatch: %s != %s", ErrGeneration, i, got.Block.ID, want.ID)
		}
		if got.Block.Type != want.Type {
			return fmt.Errorf("%w: block %d type mismatch: %s != %s", ErrGeneration, i, got.Block.Type, want.Type)
		}
		if got.Block.Path != want.Path {
			return fmt.Errorf("%w: block %d path mismatch: %s != %s", ErrGeneration, i, got.Block.Path, want.Path)
		}
		section := byPath[want.Path]
		if section == nil || !section.Dynamic() {
			if got.AssembledHash != want.ContentHash() {
				return fmt.Errorf("%w: static block %s content drifted", ErrGeneration, want.Path)
			}
		}
	}
	return nil
}

// Encode serializes the artifact to its canonical JSON form for blob storage.
func (d *AssembledDocument) Encode() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode assembled document: %w", err)
	}
	return raw, nil
}

// DecodeAssembledDocument deserializes an artifact written with Encode.
func DecodeAssembledDocument(data []byte) (*AssembledDocument, error) {
	var d AssembledDocument
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode assembled document: %w", err)
	}
	return &d, nil
}
