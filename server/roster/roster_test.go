package roster

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("[Info]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCombatants(t *testing.T) {
	chars := filepath.Join(t.TempDir(), "chars")

	mkdirAll(t, filepath.Join(chars, "Ryu"))
	touch(t, filepath.Join(chars, "Ryu", "Ryu.def"))
	mkdirAll(t, filepath.Join(chars, "Ken"))
	touch(t, filepath.Join(chars, "Ken", "Ken.def"))

	// directory without a matching descriptor is not a combatant
	mkdirAll(t, filepath.Join(chars, "Empty"))
	// mismatched descriptor name doesn't count either
	mkdirAll(t, filepath.Join(chars, "Wrong"))
	touch(t, filepath.Join(chars, "Wrong", "Other.def"))
	// stray file at the chars root is ignored
	touch(t, filepath.Join(chars, "readme.txt"))

	got, err := Combatants(chars)
	if err != nil {
		t.Fatalf("Combatants: %v", err)
	}
	want := []string{"Ken", "Ryu"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestCombatantsMissingRoot(t *testing.T) {
	if _, err := Combatants(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing chars root")
	}
}

func TestArenas(t *testing.T) {
	stages := filepath.Join(t.TempDir(), "stages")
	mkdirAll(t, filepath.Join(stages, "extra"))
	touch(t, filepath.Join(stages, "dojo.def"))
	touch(t, filepath.Join(stages, "Temple.DEF")) // extension match is case-insensitive
	touch(t, filepath.Join(stages, "extra", "volcano.def"))
	touch(t, filepath.Join(stages, "notes.txt"))

	got, err := Arenas(stages)
	if err != nil {
		t.Fatalf("Arenas: %v", err)
	}
	want := []string{"Temple", "dojo", "extra/volcano"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDefPath(t *testing.T) {
	if got := DefPath("chars", "Ryu"); got != "chars/Ryu/Ryu.def" {
		t.Fatalf("unexpected def path: %q", got)
	}
}
