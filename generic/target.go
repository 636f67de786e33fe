/*
target.go - Target type registration and lookup

PURPOSE:
  Provides a registry for domain packages to register the kinds of entity
  that can be reacted to. This enables turning URL segments and stored
  strings back into concrete types while keeping this package
  domain-agnostic.

HOW IT WORKS:
  1. Domain packages define their TargetType implementations
  2. They register them in init()
  3. Stores and the API use the registry to reconstruct types

USAGE:
  // In reaction/types.go
  func init() {
      generic.RegisterTargetType(TargetPost)
  }

  // In the API
  ref, err := generic.ParseTargetRef("post", "123")

SEE ALSO:
  - types.go: TargetType interface definition
  - reaction/types.go: Built-in target types
*/
package generic

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// TARGET TYPE REGISTRY
// =============================================================================

var (
	targetRegistry = make(map[string]TargetType)
	registryMu     sync.RWMutex
)

// RegisterTargetType adds a target type to the global registry.
// Call this from domain package init() functions.
func RegisterTargetType(t TargetType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	targetRegistry[t.TypeID()] = t
}

// LookupTargetType finds a registered target type by ID.
// Returns nil if not found.
func LookupTargetType(id string) TargetType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return targetRegistry[id]
}

// ListTargetTypes returns all registered target types sorted by ID.
func ListTargetTypes() []TargetType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]TargetType, 0, len(targetRegistry))
	for _, t := range targetRegistry {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TypeID() < result[j].TypeID() })
	return result
}

// ParseTargetRef builds a reference from a registered type ID and an entity ID.
func ParseTargetRef(typeID, id string) (TargetRef, error) {
	t := LookupTargetType(typeID)
	if t == nil {
		return TargetRef{}, fmt.Errorf("%w: %q", ErrUnknownTargetType, typeID)
	}
	if id == "" {
		return TargetRef{}, fmt.Errorf("%w: empty target id", ErrInvalidReaction)
	}
	return TargetRef{Type: t, ID: id}, nil
}

// =============================================================================
// STRING TARGET TYPE - For testing and fallback
// =============================================================================

// StringTargetType is a simple string-based target type.
// Use only for testing or when a stored type is no longer registered.
type StringTargetType struct {
	ID     string
	Domain string
}

func (t StringTargetType) TypeID() string     { return t.ID }
func (t StringTargetType) TypeDomain() string { return t.Domain }

// GetOrCreateTargetType looks up a target type, or creates a StringTargetType
// fallback. Use this when scanning rows.
func GetOrCreateTargetType(id string) TargetType {
	if t := LookupTargetType(id); t != nil {
		return t
	}
	return StringTargetType{ID: id, Domain: "unknown"}
}
