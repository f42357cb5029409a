package c2pa

import (
	"errors"
	"strings"
	"testing"

	"title/internal/infra/c2pa/c2patest"
)

func TestVerifySingleManifest(t *testing.T) {
	signer := c2patest.NewSigner(t)
	img := c2patest.SignedJPEG(t, signer, c2patest.ManifestSpec{Label: "urn:uuid:active-1"})

	set, err := Verify(img)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if set.ContentType != "image/jpeg" {
		t.Fatalf("content type: %s", set.ContentType)
	}
	active := set.Active()
	if active == nil || active.Label != "urn:uuid:active-1" {
		t.Fatalf("active manifest: %+v", active)
	}
	if len(active.Signature) == 0 {
		t.Fatal("empty signature blob")
	}

	found := false
	for _, code := range set.ValidationCodes {
		if code == "claimSignature.validated" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing validation code, got %v", set.ValidationCodes)
	}
}

func TestVerifyNoManifest(t *testing.T) {
	bare := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	if _, err := Verify(bare); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("expected ErrNoManifest, got %v", err)
	}
}

func TestVerifyTamperedClaimFails(t *testing.T) {
	signer := c2patest.NewSigner(t)
	store := c2patest.BuildStore(t, signer, c2patest.ManifestSpec{Label: "urn:uuid:tamper"})

	// Flip a byte inside the claim's title string (located after the
	// "dc:title" key, so the superbox label stays intact); the claim
	// signature must stop verifying.
	title := strings.Index(string(store), "dc:title")
	if title < 0 {
		t.Fatal("claim bytes not found")
	}
	idx := strings.Index(string(store[title:]), "tamper")
	if idx < 0 {
		t.Fatal("claim title not found")
	}
	store[title+idx] ^= 0x01

	if _, err := VerifyStore(store, "image/jpeg"); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestContentIdentifierFormatAndDeterminism(t *testing.T) {
	signer := c2patest.NewSigner(t)
	img := c2patest.SignedJPEG(t, signer, c2patest.ManifestSpec{Label: "urn:uuid:hash"})

	set1, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}
	set2, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}

	id1 := ContentIdentifier(set1)
	id2 := ContentIdentifier(set2)
	if id1 != id2 {
		t.Fatalf("identifier not deterministic: %s vs %s", id1, id2)
	}
	if !strings.HasPrefix(id1, "0x") || len(id1) != 66 {
		t.Fatalf("identifier format: %s", id1)
	}
}

func TestBuildProvenanceGraphSimple(t *testing.T) {
	signer := c2patest.NewSigner(t)
	img := c2patest.SignedJPEG(t, signer, c2patest.ManifestSpec{Label: "urn:uuid:solo"})

	set, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}
	graph, err := BuildProvenanceGraph(set, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Nodes) != 1 || len(graph.Links) != 0 {
		t.Fatalf("graph shape: %d nodes %d links", len(graph.Nodes), len(graph.Links))
	}
	if graph.Nodes[0].Type != "final" || !strings.HasPrefix(graph.Nodes[0].ID, "0x") {
		t.Fatalf("root node: %+v", graph.Nodes[0])
	}
}

func TestBuildProvenanceGraphTwoIngredients(t *testing.T) {
	signer := c2patest.NewSigner(t)
	img := c2patest.SignedJPEG(t, signer,
		c2patest.ManifestSpec{Label: "urn:uuid:ing-a"},
		c2patest.ManifestSpec{Label: "urn:uuid:ing-b"},
		c2patest.ManifestSpec{Label: "urn:uuid:final", Ingredients: []string{"urn:uuid:ing-a", "urn:uuid:ing-b"}},
	)

	set, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}
	graph, err := BuildProvenanceGraph(set, 1000)
	if err != nil {
		t.Fatal(err)
	}

	if len(graph.Nodes) != 3 {
		t.Fatalf("nodes: %d", len(graph.Nodes))
	}
	if len(graph.Links) != 2 {
		t.Fatalf("links: %d", len(graph.Links))
	}
	finals, ingredients := 0, 0
	for _, n := range graph.Nodes {
		switch n.Type {
		case "final":
			finals++
		case "ingredient":
			ingredients++
		}
	}
	if finals != 1 || ingredients != 2 {
		t.Fatalf("node kinds: %d final, %d ingredient", finals, ingredients)
	}
	root := graph.Nodes[0].ID
	for _, l := range graph.Links {
		if l.Role != RoleIngredient {
			t.Fatalf("link role: %s", l.Role)
		}
		if l.Target != root {
			t.Fatalf("link target %s, want root %s", l.Target, root)
		}
	}
}

func TestBuildProvenanceGraphNested(t *testing.T) {
	signer := c2patest.NewSigner(t)
	img := c2patest.SignedJPEG(t, signer,
		c2patest.ManifestSpec{Label: "urn:uuid:leaf"},
		c2patest.ManifestSpec{Label: "urn:uuid:mid", Ingredients: []string{"urn:uuid:leaf"}},
		c2patest.ManifestSpec{Label: "urn:uuid:root", Ingredients: []string{"urn:uuid:mid"}},
	)

	set, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}
	graph, err := BuildProvenanceGraph(set, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Nodes) != 3 || len(graph.Links) != 2 {
		t.Fatalf("graph shape: %d nodes %d links", len(graph.Nodes), len(graph.Links))
	}
	// Every node must be reachable from the final node walking links in
	// reverse (source → target means ingredient → product).
	reach := map[string]bool{graph.Nodes[0].ID: true}
	for changed := true; changed; {
		changed = false
		for _, l := range graph.Links {
			if reach[l.Target] && !reach[l.Source] {
				reach[l.Source] = true
				changed = true
			}
		}
	}
	for _, n := range graph.Nodes {
		if !reach[n.ID] {
			t.Fatalf("node %s unreachable from final", n.ID)
		}
	}
}

func TestBuildProvenanceGraphCycleDropped(t *testing.T) {
	signer := c2patest.NewSigner(t)
	// a references b, b references a: the back-edge must be dropped.
	img := c2patest.SignedJPEG(t, signer,
		c2patest.ManifestSpec{Label: "urn:uuid:a", Ingredients: []string{"urn:uuid:b"}},
		c2patest.ManifestSpec{Label: "urn:uuid:b", Ingredients: []string{"urn:uuid:a"}},
	)

	set, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}
	graph, err := BuildProvenanceGraph(set, 1000)
	if err != nil {
		t.Fatalf("cycle must not fail the build: %v", err)
	}
	if len(graph.Nodes) != 2 {
		t.Fatalf("nodes: %d", len(graph.Nodes))
	}
	// a→b edge plus the dropped back-edge leaves exactly one link... the
	// traversal from b (active) visits a, whose reference back to b is on
	// the stack and gets dropped.
	if len(graph.Links) != 1 {
		t.Fatalf("links: %d", len(graph.Links))
	}
}

func TestBuildProvenanceGraphSizeExceeded(t *testing.T) {
	signer := c2patest.NewSigner(t)
	img := c2patest.SignedJPEG(t, signer, c2patest.ManifestSpec{Label: "urn:uuid:limit"})

	set, err := Verify(img)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := BuildProvenanceGraph(set, 0); !errors.Is(err, ErrGraphTooLarge) {
		t.Fatalf("expected ErrGraphTooLarge, got %v", err)
	}
}

func TestExtractJUMBFRoundTrip(t *testing.T) {
	signer := c2patest.NewSigner(t)
	store := c2patest.BuildStore(t, signer, c2patest.ManifestSpec{Label: "urn:uuid:embed"})
	img := c2patest.EmbedJPEG(t, store)

	extracted, err := ExtractJUMBF(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(extracted) != len(store) {
		t.Fatalf("extracted %d bytes, want %d", len(extracted), len(store))
	}
	if _, err := ParseStore(extracted); err != nil {
		t.Fatalf("parse extracted store: %v", err)
	}
}

func TestDetectContentType(t *testing.T) {
	if got := DetectContentType([]byte{0xFF, 0xD8, 0xFF, 0xE0}); got != "image/jpeg" {
		t.Fatalf("jpeg: %s", got)
	}
	if got := DetectContentType([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}); got != "image/png" {
		t.Fatalf("png: %s", got)
	}
}
