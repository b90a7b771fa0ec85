// Package characters reads character summaries from persona files on disk.
package characters

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/matt-davison/agent-quest/internal/session/domain"
	"gopkg.in/yaml.v3"
)

// ErrNotFound indicates no persona file exists for the character.
var ErrNotFound = errors.New("character not found")

// PersonaFile is the file name of a character persona.
const PersonaFile = "persona.yaml"

// Resolver loads personas from worlds/<world>/players/<identity>/personas/<character>.
type Resolver struct {
	root string
}

// NewResolver returns a resolver reading under root, the directory holding
// the worlds tree.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Path returns the persona file path for a character.
func (r *Resolver) Path(world, identity, character string) string {
	return filepath.Join(r.root, "worlds", world, "players", identity, "personas", character, PersonaFile)
}

// Resolve returns the character's summary.
func (r *Resolver) Resolve(_ context.Context, world, identity, character string) (domain.Snapshot, error) {
	for _, part := range []string{world, identity, character} {
		if strings.TrimSpace(part) == "" || strings.ContainsAny(part, `/\`) || part == ".." {
			return domain.Snapshot{}, fmt.Errorf("%w: invalid path segment %q", ErrNotFound, part)
		}
	}
	path := r.Path(world, identity, character)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, character)
		}
		return domain.Snapshot{}, fmt.Errorf("read persona %s: %w", path, err)
	}
	snap, err := ParsePersona(data)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("parse persona %s: %w", path, err)
	}
	snap.Character = character
	return snap, nil
}

// ParsePersona extracts the summary fields from a persona document. Fields
// may sit at any depth; the first occurrence wins. Resource blocks are read
// from "hp" and "willpower" mappings with current and max keys.
func ParsePersona(data []byte) (domain.Snapshot, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.Snapshot{}, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	var snap domain.Snapshot
	if root.Kind != yaml.MappingNode {
		return snap, nil
	}

	snap.Name = scalar(lookup(root, "name", false))
	snap.Class = scalar(lookup(root, "class", false))
	snap.Level = integer(lookup(root, "level", true))
	snap.Location = scalar(lookup(root, "current_location", true))
	snap.Gold = integer(lookup(root, "gold", true))

	if hp := lookup(root, "hp", true); hp != nil && hp.Kind == yaml.MappingNode {
		snap.HP = integer(lookup(hp, "current", false))
		snap.MaxHP = integer(lookup(hp, "max", false))
	} else {
		snap.HP = integer(lookup(root, "current", true))
		snap.MaxHP = integer(lookup(root, "max", true))
	}
	if wp := lookup(root, "willpower", true); wp != nil && wp.Kind == yaml.MappingNode {
		snap.WP = integer(lookup(wp, "current", false))
		snap.MaxWP = integer(lookup(wp, "max", false))
	}
	return snap, nil
}

// lookup finds key in a mapping, searching nested mappings depth-first when
// deep is set.
func lookup(node *yaml.Node, key string, deep bool) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	if !deep {
		return nil
	}
	for i := 1; i < len(node.Content); i += 2 {
		if found := lookup(node.Content[i], key, true); found != nil {
			return found
		}
	}
	return nil
}

func scalar(node *yaml.Node) string {
	if node == nil || node.Kind != yaml.ScalarNode {
		return ""
	}
	return strings.TrimSpace(node.Value)
}

func integer(node *yaml.Node) int {
	n, err := strconv.Atoi(scalar(node))
	if err != nil {
		return 0
	}
	return n
}
