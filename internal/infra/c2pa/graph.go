package c2pa

import (
	"fmt"

	"title/internal/domain"
	titlecrypto "title/internal/infra/crypto"
)

// maxIngredientDepth bounds the recursive descent through nested
// ingredient manifests.
const maxIngredientDepth = 32

// ProvenanceGraph is the derived DAG: one final node, ingredient nodes
// deduplicated by content identifier, and one link per parent/child pair
// whose source is the ingredient and whose target is the parent.
type ProvenanceGraph struct {
	Nodes []domain.GraphNode
	Links []domain.GraphLink
}

// BuildProvenanceGraph walks the active manifest's ingredients
// depth-first, left to right. Ingredients without an embedded manifest
// are skipped (no identifier can be derived for them), back-edges are
// dropped silently to preserve the DAG property, and the combined
// node+link count is bounded by maxGraphSize.
func BuildProvenanceGraph(set *VerifiedManifestSet, maxGraphSize int) (*ProvenanceGraph, error) {
	active := set.Active()
	if active == nil {
		return nil, ErrNoManifest
	}

	rootHash := titlecrypto.ContentHash(active.Signature)
	rootID := titlecrypto.FormatContentHash(rootHash)

	g := &ProvenanceGraph{
		Nodes: []domain.GraphNode{{ID: rootID, Type: domain.NodeFinal}},
	}
	visiting := map[string]bool{active.Label: true}
	seen := map[string]bool{rootID: true}

	if err := walkIngredients(set.Store, active, rootID, g, visiting, seen, 0); err != nil {
		return nil, err
	}

	if total := len(g.Nodes) + len(g.Links); total > maxGraphSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrGraphTooLarge, total, maxGraphSize)
	}
	return g, nil
}

func walkIngredients(store *ManifestStore, m *Manifest, parentID string, g *ProvenanceGraph, visiting, seen map[string]bool, depth int) error {
	if depth > maxIngredientDepth {
		return fmt.Errorf("%w: ingredient recursion exceeds %d", ErrMalformedStore, maxIngredientDepth)
	}

	for _, ing := range m.Ingredients {
		if ing.ManifestLabel == "" {
			continue
		}
		child := store.ByLabel(ing.ManifestLabel)
		if child == nil {
			continue
		}
		// Cycle guard: a back-edge into a manifest currently on the
		// traversal stack is dropped.
		if visiting[child.Label] {
			continue
		}

		hash := titlecrypto.ContentHash(child.Signature)
		id := titlecrypto.FormatContentHash(hash)

		if !seen[id] {
			seen[id] = true
			g.Nodes = append(g.Nodes, domain.GraphNode{ID: id, Type: domain.NodeIngredient})
		}
		g.Links = append(g.Links, domain.GraphLink{
			Source: id,
			Target: parentID,
			Role:   RoleIngredient,
		})

		visiting[child.Label] = true
		err := walkIngredients(store, child, id, g, visiting, seen, depth+1)
		delete(visiting, child.Label)
		if err != nil {
			return err
		}
	}
	return nil
}

// RoleIngredient is the edge role for ingredient links.
const RoleIngredient = "ingredient"
