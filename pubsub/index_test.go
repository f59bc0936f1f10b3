package pubsub

import "testing"

func TestMatchByPrefix(t *testing.T) {
	ix := NewIndex()
	ix.Subscribe("A", 1)
	ix.Subscribe("AB", 2)
	ix.Subscribe("Z", 3)

	hits := ix.Match("ABC")
	if len(hits) != 2 {
		t.Fatalf("expected 2 subscribers for ABC, got %v", hits)
	}
	seen := map[SubscriberID]bool{}
	for _, h := range hits {
		seen[h] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected subscribers 1 and 2, got %v", hits)
	}
}

func TestMatchDedupesOverlappingPrefixes(t *testing.T) {
	ix := NewIndex()
	ix.Subscribe("A", 1)
	ix.Subscribe("AB", 1) // same subscriber, two matching prefixes
	hits := ix.Match("ABC")
	if len(hits) != 1 {
		t.Fatalf("expected deduped single hit, got %v", hits)
	}
}

func TestEmptyPrefixSubscribesToEverything(t *testing.T) {
	ix := NewIndex()
	ix.Subscribe("", 1)
	hits := ix.Match("anything")
	if len(hits) != 1 || hits[0] != 1 {
		t.Fatalf("expected empty prefix to match all topics, got %v", hits)
	}
}

func TestUnsubscribeRemovesEmptyEntry(t *testing.T) {
	ix := NewIndex()
	ix.Subscribe("X", 1)
	ix.Unsubscribe("X", 1)
	if hits := ix.Match("X"); len(hits) != 0 {
		t.Fatalf("expected no subscribers after unsubscribe, got %v", hits)
	}
	if len(ix.entries) != 0 {
		t.Fatalf("expected entry removed once subscriber set empties, got %d entries", len(ix.entries))
	}
}

func TestMatchStopsAtFirstPrefixGreaterThanTopic(t *testing.T) {
	ix := NewIndex()
	ix.Subscribe("B", 1)
	ix.Subscribe("C", 2)
	hits := ix.Match("AAA")
	if len(hits) != 0 {
		t.Fatalf("expected no matches for a topic before every prefix, got %v", hits)
	}
}

func TestRemoveSubscriberClearsAllPrefixes(t *testing.T) {
	ix := NewIndex()
	ix.Subscribe("A", 1)
	ix.Subscribe("B", 1)
	ix.RemoveSubscriber(1)
	if hits := ix.Match("A"); len(hits) != 0 {
		t.Fatalf("expected subscriber removed from A, got %v", hits)
	}
	if hits := ix.Match("B"); len(hits) != 0 {
		t.Fatalf("expected subscriber removed from B, got %v", hits)
	}
}
