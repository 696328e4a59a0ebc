package artifact

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Section is one outline entry in a structure payload. Custom sections are
// user authored and survive regeneration of the parent structure.
type Section struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
	IsCustom bool   `json:"is_custom,omitempty"`
	// AnchorID is the id of the generated section a custom section was
	// inserted after. Empty means "at the end".
	AnchorID string `json:"anchor_id,omitempty"`
}

// StructurePayload is the decoded payload of the structure artifact.
type StructurePayload struct {
	Sections []Section `json:"sections"`
}

// DecodeStructure parses a structure payload.
func DecodeStructure(raw json.RawMessage) (StructurePayload, error) {
	var p StructurePayload
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return StructurePayload{}, fmt.Errorf("decode structure payload: %w", err)
	}
	return p, nil
}

// EncodeStructure serializes a structure payload.
func EncodeStructure(p StructurePayload) (json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode structure payload: %w", err)
	}
	return raw, nil
}

// NewCustomSection builds a user-authored section with a fresh stable id,
// anchored after the given generated section id.
func NewCustomSection(title, body, anchorID string) Section {
	return Section{
		ID:       uuid.NewString(),
		Title:    title,
		Body:     body,
		IsCustom: true,
		AnchorID: anchorID,
	}
}

// MergeCustomSections re-attaches the custom sections of old to a freshly
// generated payload. Re-attachment uses the stable anchor id, never the
// positional index: the regenerated outline may have reordered or dropped
// sections. Customs whose anchor no longer exists go to the end, in their
// original relative order.
func MergeCustomSections(old, generated StructurePayload) StructurePayload {
	customs := make([]Section, 0, 4)
	for _, s := range old.Sections {
		if s.IsCustom {
			customs = append(customs, s)
		}
	}
	if len(customs) == 0 {
		return generated
	}

	byAnchor := make(map[string][]Section, len(customs))
	var orphaned []Section
	anchors := make(map[string]bool, len(generated.Sections))
	for _, s := range generated.Sections {
		anchors[s.ID] = true
	}
	for _, c := range customs {
		if c.AnchorID != "" && anchors[c.AnchorID] {
			byAnchor[c.AnchorID] = append(byAnchor[c.AnchorID], c)
			continue
		}
		orphaned = append(orphaned, c)
	}

	merged := make([]Section, 0, len(generated.Sections)+len(customs))
	for _, s := range generated.Sections {
		merged = append(merged, s)
		merged = append(merged, byAnchor[s.ID]...)
	}
	merged = append(merged, orphaned...)
	return StructurePayload{Sections: merged}
}
