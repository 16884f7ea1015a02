// Package roster enumerates the combatants and arenas installed under the
// engine's directory convention: a combatant is a subdirectory of the chars
// root carrying a same-named .def descriptor; an arena is any .def file under
// the stages root, namespaced by its parent directory when nested.
package roster

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Combatants lists every valid combatant under charsDir, sorted.
func Combatants(charsDir string) ([]string, error) {
	entries, err := os.ReadDir(charsDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		def := filepath.Join(charsDir, e.Name(), e.Name()+".def")
		if fi, err := os.Stat(def); err == nil && !fi.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Arenas lists every arena descriptor under stagesDir, sorted. The name is
// the file stem; descriptors in subdirectories get a "parent/stem" name.
func Arenas(stagesDir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(stagesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".def") {
			return nil
		}
		rel, err := filepath.Rel(stagesDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name := strings.TrimSuffix(rel, filepath.Ext(rel))
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// DefPath is the descriptor path the engine expects for a combatant,
// relative to the engine's working directory.
func DefPath(charsDir, name string) string {
	return filepath.ToSlash(filepath.Join(charsDir, name, name+".def"))
}
