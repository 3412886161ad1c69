// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreatePersonIdempotent(t *testing.T) {
	s := testStore(t)

	id1, err := s.GetOrCreatePerson("Alice Cohen", "972501234567@c.us", "+972501234567", "", false)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.GetOrCreatePerson("Alice Cohen", "972501234567@c.us", "+972501234567", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("same person created twice: %d vs %d", id1, id2)
	}
}

func TestIdentifierCascadePhoneFirst(t *testing.T) {
	s := testStore(t)

	id1, _ := s.GetOrCreatePerson("Shiran Waintrob", "", "+972-50-111-2233", "", false)

	// Same phone in a different formatting, different name: must resolve to
	// the same person via the normalized phone comparison.
	id2, err := s.GetOrCreatePerson("שירן ויינטרוב", "", "972 50 111 2233", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("phone cascade failed: %d vs %d", id1, id2)
	}

	// The incoming Hebrew name must have been recorded as an alias and the
	// display name synthesized bilingually.
	p, err := s.GetPerson(id1)
	if err != nil {
		t.Fatal(err)
	}
	hasHebrewAlias := false
	for _, a := range p.Aliases {
		if a.Alias == "שירן ויינטרוב" {
			hasHebrewAlias = true
		}
	}
	if !hasHebrewAlias {
		t.Errorf("incoming name not aliased: %+v", p.Aliases)
	}
	if p.CanonicalName != "Shiran Waintrob / שירן ויינטרוב" {
		t.Errorf("bilingual display name not synthesized: %q", p.CanonicalName)
	}
}

func TestIdentifierCascadeEmail(t *testing.T) {
	s := testStore(t)

	id1, _ := s.GetOrCreatePerson("Bob", "", "", "Bob@Example.com", false)
	id2, err := s.GetOrCreatePerson("Robert", "", "", "bob@example.com", false)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("email cascade is case-sensitive: %d vs %d", id1, id2)
	}
}

func TestLidPhoneNotStored(t *testing.T) {
	s := testStore(t)

	id, err := s.GetOrCreatePerson("Lid Contact", "19612115875@lid", "19612115875", "", false)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := s.GetPerson(id)
	if p.Phone != "" {
		t.Errorf("LID digits stored as phone: %q", p.Phone)
	}
}

func TestAutoAliases(t *testing.T) {
	s := testStore(t)
	id, _ := s.GetOrCreatePerson("David Cohen", "", "", "", false)
	p, _ := s.GetPerson(id)

	got := map[string]bool{}
	for _, a := range p.Aliases {
		got[a.Alias] = true
	}
	if !got["David Cohen"] || !got["David"] {
		t.Errorf("auto aliases missing: %+v", p.Aliases)
	}
}

func TestFactConfidenceMonotonic(t *testing.T) {
	s := testStore(t)
	id, _ := s.GetOrCreatePerson("Carol", "", "", "", false)

	if err := s.SetFact(id, "city", "Tel Aviv", 0.8, "extracted", "", ""); err != nil {
		t.Fatal(err)
	}
	// Lower confidence must not overwrite.
	if err := s.SetFact(id, "city", "Haifa", 0.5, "extracted", "", ""); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetFact(id, "city"); v != "Tel Aviv" {
		t.Errorf("lower-confidence write overwrote: %q", v)
	}

	// Equal confidence updates the value.
	if err := s.SetFact(id, "city", "Jerusalem", 0.8, "extracted", "", ""); err != nil {
		t.Fatal(err)
	}
	if v, _ := s.GetFact(id, "city"); v != "Jerusalem" {
		t.Errorf("equal-confidence write ignored: %q", v)
	}

	p, _ := s.GetPerson(id)
	if p.FactsDetail[0].Confidence < 0.8 {
		t.Errorf("stored confidence decreased: %v", p.FactsDetail[0].Confidence)
	}
}

func TestExpandPersonIDsBFS(t *testing.T) {
	s := testStore(t)
	a, _ := s.GetOrCreatePerson("A", "", "", "", false)
	b, _ := s.GetOrCreatePerson("B", "", "", "", false)
	c, _ := s.GetOrCreatePerson("C", "", "", "", false)
	d, _ := s.GetOrCreatePerson("D", "", "", "", false)

	s.AddRelationship(a, b, "spouse", 0.9, "")
	s.AddRelationship(c, b, "parent", 0.9, "") // reverse direction from b
	s.AddRelationship(c, d, "friend", 0.9, "")

	depth1, err := s.ExpandPersonIDs([]int64{a}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(depth1) != 2 {
		t.Errorf("depth 1 from A should reach {A,B}, got %v", depth1)
	}

	depth2, _ := s.ExpandPersonIDs([]int64{a}, 2)
	if len(depth2) != 3 {
		t.Errorf("depth 2 from A should reach {A,B,C} (via reverse edge), got %v", depth2)
	}

	depth3, _ := s.ExpandPersonIDs([]int64{a}, 3)
	if len(depth3) != 4 {
		t.Errorf("depth 3 from A should reach everyone, got %v", depth3)
	}
}

func TestMergePersonsAbsorbsEverything(t *testing.T) {
	s := testStore(t)

	target, _ := s.GetOrCreatePerson("Shiran Waintrob", "", "+972501112233", "", false)
	source, _ := s.GetOrCreatePerson("שירן ויינטרוב", "", "", "shiran@example.com", false)
	s.AddAlias(source, "שירן", "", "manual")
	s.SetFact(source, "city", "Tel Aviv", 0.9, "extracted", "", "")

	result, err := s.MergePersons(target, []int64{source})
	if err != nil {
		t.Fatal(err)
	}
	if result.SourcesDeleted != 1 {
		t.Errorf("sources_deleted = %d", result.SourcesDeleted)
	}
	if result.DisplayName != "Shiran Waintrob / שירן ויינטרוב" {
		t.Errorf("post-merge display name = %q", result.DisplayName)
	}

	if p, _ := s.GetPerson(source); p != nil {
		t.Error("merge source still exists")
	}

	p, _ := s.GetPerson(target)
	if p.Email != "shiran@example.com" {
		t.Errorf("email not absorbed: %q", p.Email)
	}
	if p.Facts["city"] != "Tel Aviv" {
		t.Errorf("fact not moved: %v", p.Facts)
	}
	aliasSet := map[string]bool{}
	for _, a := range p.Aliases {
		aliasSet[a.Alias] = true
	}
	if !aliasSet["שירן"] || !aliasSet["שירן ויינטרוב"] {
		t.Errorf("aliases not absorbed: %+v", p.Aliases)
	}
}

func TestMergeSelfIsNoop(t *testing.T) {
	s := testStore(t)
	id, _ := s.GetOrCreatePerson("Solo", "", "", "", false)

	result, err := s.MergePersons(id, []int64{id})
	if err != nil {
		t.Fatal(err)
	}
	if result.SourcesDeleted != 0 {
		t.Error("merging a person into itself must be a no-op")
	}
	if p, _ := s.GetPerson(id); p == nil {
		t.Fatal("person deleted by self-merge")
	}
}

func TestMergeReverseRelationshipConflict(t *testing.T) {
	s := testStore(t)

	target, _ := s.GetOrCreatePerson("Target", "", "", "", false)
	source, _ := s.GetOrCreatePerson("Source", "", "", "", false)
	other, _ := s.GetOrCreatePerson("Other", "", "", "", false)

	// Other already relates to the target AND to the source with the same
	// type. Re-pointing the reverse edge would collide, so it must be
	// deleted; the target's original edge must survive.
	s.AddRelationship(other, target, "friend", 0.9, "ref-target")
	s.AddRelationship(other, source, "friend", 0.5, "ref-source")

	if _, err := s.MergePersons(target, []int64{source}); err != nil {
		t.Fatal(err)
	}

	p, _ := s.GetPerson(other)
	friendEdges := 0
	for _, r := range p.Relationships {
		if r.Type == "friend" {
			friendEdges++
			if r.RelatedID != target {
				t.Errorf("friend edge points at %d, want target %d", r.RelatedID, target)
			}
			if r.Confidence != 0.9 {
				t.Errorf("target's original edge replaced, confidence = %v", r.Confidence)
			}
		}
	}
	if friendEdges != 1 {
		t.Errorf("expected exactly one friend edge after merge, got %d", friendEdges)
	}
}

func TestMergeReverseRelationshipRepointed(t *testing.T) {
	s := testStore(t)

	target, _ := s.GetOrCreatePerson("Target2", "", "", "", false)
	source, _ := s.GetOrCreatePerson("Source2", "", "", "", false)
	other, _ := s.GetOrCreatePerson("Other2", "", "", "", false)

	// Only the source is related - no conflict, so the edge re-points.
	s.AddRelationship(other, source, "colleague", 0.7, "")

	if _, err := s.MergePersons(target, []int64{source}); err != nil {
		t.Fatal(err)
	}

	p, _ := s.GetPerson(other)
	if len(p.Relationships) != 1 || p.Relationships[0].RelatedID != target {
		t.Errorf("reverse edge not re-pointed: %+v", p.Relationships)
	}
}

func TestFindMergeCandidates(t *testing.T) {
	s := testStore(t)

	a, _ := s.GetOrCreatePerson("Dana Levi", "", "", "", false)
	b, _ := s.GetOrCreatePerson("Dana L", "", "", "", false)
	s.AddAlias(b, "Dana Levi", "", "manual")

	// Single-token shared aliases must NOT surface.
	c, _ := s.GetOrCreatePerson("David Cohen", "", "", "", false)
	d, _ := s.GetOrCreatePerson("David Levi2", "", "", "", false)
	_ = c
	_ = d

	candidates, err := s.FindMergeCandidates(50)
	if err != nil {
		t.Fatal(err)
	}

	foundPair := false
	for _, cand := range candidates {
		ids := map[int64]bool{}
		for _, p := range cand.Persons {
			ids[p.ID] = true
		}
		if ids[a] && ids[b] {
			foundPair = true
		}
		if ids[c] && ids[d] {
			t.Error("persons sharing only the first name 'David' must not be candidates")
		}
	}
	if !foundPair {
		t.Errorf("shared full-name alias pair not found: %+v", candidates)
	}
}

func TestCleanupGarbagePersons(t *testing.T) {
	s := testStore(t)
	s.GetOrCreatePerson("Real Person", "", "", "", false)
	s.GetOrCreatePerson("12345", "", "", "", true)
	s.GetOrCreatePerson("!!", "", "", "", false)

	result, err := s.CleanupGarbagePersons()
	if err != nil {
		t.Fatal(err)
	}
	if result.Deleted != 2 {
		t.Errorf("deleted = %d, want 2 (names: %v)", result.Deleted, result.Names)
	}

	remaining, _ := s.ListPersons(0)
	if len(remaining) != 1 || remaining[0].CanonicalName != "Real Person" {
		t.Errorf("unexpected survivors: %+v", remaining)
	}
}

func TestSeedFromContacts(t *testing.T) {
	s := testStore(t)

	contacts := []Contact{
		{ID: "972501234567@c.us", Name: "Alice", Number: "972501234567"},
		{ID: "972501234567@c.us", Name: "Alice", Number: "972501234567"}, // duplicate
		{ID: "status@broadcast", Name: "Status"},
		{ID: "x@newsletter", Name: "Some Newsletter"},
		{ID: "1@c.us", Name: "*K"},
		{ID: "196121158754@lid", Name: "Lid Friend", Number: "196121158754"},
		{ID: "2@c.us", Name: "Biz Co", IsBusiness: true},
	}
	result, err := s.SeedFromContacts(contacts)
	if err != nil {
		t.Fatal(err)
	}
	if result.Skipped != 3 {
		t.Errorf("skipped = %d, want 3", result.Skipped)
	}
	if result.Created != 3 || result.Updated != 1 {
		t.Errorf("created/updated = %d/%d, want 3/1", result.Created, result.Updated)
	}

	// Re-running is a no-op on person count.
	before, _ := s.ListPersons(0)
	s.SeedFromContacts(contacts)
	after, _ := s.ListPersons(0)
	if len(before) != len(after) {
		t.Errorf("re-seed created persons: %d → %d", len(before), len(after))
	}

	// Business fact recorded.
	persons, _ := s.ResolveName("Biz Co")
	if len(persons) != 1 || persons[0].Facts["is_business"] != "true" {
		t.Errorf("is_business fact missing: %+v", persons)
	}
}

func TestLinkAssetsAndCounts(t *testing.T) {
	s := testStore(t)
	id, _ := s.GetOrCreatePerson("Asset Owner", "", "", "", false)

	added, err := s.LinkPersonAsset(id, "whatsapp_msg", "chat_A:1000", RoleSender, 1.0)
	if err != nil || !added {
		t.Fatalf("link failed: %v %v", added, err)
	}
	// Duplicate link ignored.
	added, _ = s.LinkPersonAsset(id, "whatsapp_msg", "chat_A:1000", RoleSender, 1.0)
	if added {
		t.Error("duplicate link must be ignored")
	}

	s.LinkAssets("gmail:m1", "gmail:m1:att:invoice.pdf", RelAttachmentOf, 1.0, "gmail-sync")
	edges, _ := s.AssetNeighbors("gmail:m1", 10)
	if len(edges) != 1 || edges[0].RelationType != RelAttachmentOf {
		t.Errorf("asset edge missing: %+v", edges)
	}

	p, _ := s.GetPerson(id)
	if p.AssetCounts["whatsapp_msg"] != 1 {
		t.Errorf("asset counts wrong: %v", p.AssetCounts)
	}
}
