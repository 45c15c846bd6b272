package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrObjectNotFound is returned when a workspace has no object with the requested name.
var ErrObjectNotFound = errors.New("object metadata not found")

// Set is an immutable snapshot of every active object of one workspace.
type Set struct {
	WorkspaceID string
	objects     []ObjectMetadata
	byName      map[string]int
	fingerprint string
}

// NewSet indexes objects by singular name. Objects are sorted by name so the
// fingerprint does not depend on load order.
func NewSet(workspaceID string, objects []ObjectMetadata) *Set {
	sorted := append([]ObjectMetadata(nil), objects...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].NameSingular < sorted[j].NameSingular })

	byName := make(map[string]int, len(sorted))
	for i, obj := range sorted {
		byName[obj.NameSingular] = i
	}
	return &Set{
		WorkspaceID: workspaceID,
		objects:     sorted,
		byName:      byName,
		fingerprint: fingerprint(sorted),
	}
}

// Get returns the object with the given singular name.
func (s *Set) Get(nameSingular string) (ObjectMetadata, error) {
	idx, ok := s.byName[nameSingular]
	if !ok {
		return ObjectMetadata{}, fmt.Errorf("%w: %s", ErrObjectNotFound, nameSingular)
	}
	return s.objects[idx], nil
}

// Objects returns all objects ordered by singular name.
func (s *Set) Objects() []ObjectMetadata {
	return s.objects
}

// Fingerprint changes whenever an object or field is added, removed or retyped.
func (s *Set) Fingerprint() string {
	return s.fingerprint
}

func fingerprint(objects []ObjectMetadata) string {
	h := sha256.New()
	for _, obj := range objects {
		fmt.Fprintf(h, "%s|%s|%s|%t\n", obj.ID, obj.NameSingular, obj.NamePlural, obj.IsCustom)
		for _, f := range obj.Fields {
			parts := []string{f.ID, f.Name, string(f.Type), fmt.Sprint(f.IsActive), fmt.Sprint(f.IsNullable)}
			if f.Relation != nil {
				parts = append(parts, string(f.Relation.Kind), f.Relation.TargetObjectNameSingular)
			}
			fmt.Fprintln(h, strings.Join(parts, "|"))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
