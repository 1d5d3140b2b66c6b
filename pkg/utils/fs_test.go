package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONAtomic_ReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	in := []map[string]string{{"doc_id": "a"}, {"doc_id": "b"}}
	if err := WriteJSONAtomic(path, in); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}
	if FileExists(path + ".tmp") {
		t.Error("temp file should be renamed away")
	}
	var out []map[string]string
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(out) != 2 || out[1]["doc_id"] != "b" {
		t.Errorf("ReadJSON: %v", out)
	}
}

func TestReadJSON_Missing(t *testing.T) {
	var v []int
	err := ReadJSON(filepath.Join(t.TempDir(), "none.json"), &v)
	if !os.IsNotExist(err) {
		t.Errorf("ReadJSON missing: %v", err)
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	if removed, err := RemoveIfExists(path); err != nil || removed {
		t.Errorf("missing: removed=%v err=%v", removed, err)
	}
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if removed, err := RemoveIfExists(path); err != nil || !removed {
		t.Errorf("existing: removed=%v err=%v", removed, err)
	}
}
