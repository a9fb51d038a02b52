package types

import "testing"

func TestRowIDMissing(t *testing.T) {
	r := Row{"name": "widget"}
	if got := r.ID(); got != "" {
		t.Errorf("ID() = %q, want empty string", got)
	}
}

func TestRowIDPresent(t *testing.T) {
	r := Row{FieldID: "abc123", "name": "widget"}
	if got := r.ID(); got != "abc123" {
		t.Errorf("ID() = %q, want %q", got, "abc123")
	}
}

func TestRowCleanStripsReservedFields(t *testing.T) {
	r := Row{
		FieldID:           "abc123",
		FieldStatus:       "updated",
		FieldChanged:      "name,price",
		FieldFireChange:   "U",
		FieldFireRevision: int64(7),
		"name":            "widget",
	}

	clean := r.Clean()

	for _, reserved := range []string{FieldStatus, FieldChanged, FieldFireChange, FieldFireRevision} {
		if _, ok := clean[reserved]; ok {
			t.Errorf("Clean() retained reserved field %q", reserved)
		}
	}
	if clean[FieldID] != "abc123" {
		t.Error("Clean() should retain the id field")
	}
	if clean["name"] != "widget" {
		t.Error("Clean() should retain ordinary fields")
	}
}

func TestRowCleanDoesNotMutateOriginal(t *testing.T) {
	r := Row{FieldID: "a", FieldStatus: "created"}
	_ = r.Clean()
	if _, ok := r[FieldStatus]; !ok {
		t.Error("Clean() should not mutate the receiver")
	}
}
