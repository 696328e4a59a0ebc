package artifact

import (
	"testing"
)

func gen(id, title string) Section {
	return Section{ID: id, Title: title}
}

func TestMergeCustomSectionsAnchored(t *testing.T) {
	custom := NewCustomSection("Our Team", "bios", "s2")
	old := StructurePayload{Sections: []Section{
		gen("s1", "Intro"),
		gen("s2", "Approach"),
		custom,
		gen("s3", "Pricing"),
	}}
	// Regeneration reordered the outline; s2 survives under a new position.
	regenerated := StructurePayload{Sections: []Section{
		gen("s3", "Pricing"),
		gen("s2", "Approach"),
		gen("s4", "Timeline"),
	}}

	merged := MergeCustomSections(old, regenerated)
	want := []string{"s3", "s2", custom.ID, "s4"}
	if len(merged.Sections) != len(want) {
		t.Fatalf("merged %d sections, want %d", len(merged.Sections), len(want))
	}
	for i, id := range want {
		if merged.Sections[i].ID != id {
			t.Fatalf("section[%d].ID = %s, want %s", i, merged.Sections[i].ID, id)
		}
	}
	if !merged.Sections[2].IsCustom {
		t.Fatalf("re-attached section lost its custom flag")
	}
}

func TestMergeCustomSectionsOrphanedAnchor(t *testing.T) {
	first := NewCustomSection("A", "", "gone-1")
	second := NewCustomSection("B", "", "gone-2")
	old := StructurePayload{Sections: []Section{
		gen("s1", "Intro"), first, second,
	}}
	regenerated := StructurePayload{Sections: []Section{gen("s9", "Fresh")}}

	merged := MergeCustomSections(old, regenerated)
	if len(merged.Sections) != 3 {
		t.Fatalf("merged %d sections, want 3", len(merged.Sections))
	}
	// Orphans keep their relative order at the end.
	if merged.Sections[1].ID != first.ID || merged.Sections[2].ID != second.ID {
		t.Fatalf("orphans out of order: %s then %s", merged.Sections[1].ID, merged.Sections[2].ID)
	}
}

func TestMergeCustomSectionsNoCustoms(t *testing.T) {
	old := StructurePayload{Sections: []Section{gen("s1", "Intro")}}
	regenerated := StructurePayload{Sections: []Section{gen("s2", "Other")}}

	merged := MergeCustomSections(old, regenerated)
	if len(merged.Sections) != 1 || merged.Sections[0].ID != "s2" {
		t.Fatalf("merge without customs must return the generated payload as-is: %+v", merged.Sections)
	}
}

func TestClearedPreservesInputs(t *testing.T) {
	a := Artifact{
		Name:    NameConcept,
		Status:  StatusCompleted,
		Payload: []byte(`{"x":1}`),
		Inputs:  map[string]string{"evaluation_selections": `["e1"]`},
	}
	c := a.Cleared()
	if c.Status != StatusAbsent {
		t.Fatalf("Status = %v, want %v", c.Status, StatusAbsent)
	}
	if len(c.Payload) != 0 {
		t.Fatalf("payload must not survive a clear")
	}
	if c.Inputs["evaluation_selections"] != `["e1"]` {
		t.Fatalf("inputs must survive a clear: %v", c.Inputs)
	}
}

func TestSetInputCopies(t *testing.T) {
	a := Artifact{Name: NameEvaluation, Inputs: map[string]string{"k": "v"}}
	b := a.SetInput("k2", "v2")
	if _, ok := a.Inputs["k2"]; ok {
		t.Fatalf("SetInput must not mutate the receiver's map")
	}
	if b.Inputs["k"] != "v" || b.Inputs["k2"] != "v2" {
		t.Fatalf("unexpected inputs: %v", b.Inputs)
	}
}
