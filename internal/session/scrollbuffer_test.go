package session

import "testing"

func TestScrollBufferEvictsOldest(t *testing.T) {
	b := NewScrollBuffer(3)
	for i := 0; i < 5; i++ {
		b.Append(string(rune('a'+i)), int64(i))
	}
	if b.Len() != 3 {
		t.Fatalf("expected occupancy 3, got %d", b.Len())
	}
	if b.TotalLines() != 5 {
		t.Fatalf("expected total 5, got %d", b.TotalLines())
	}
	lines := b.Range(0, b.Len())
	got := ""
	for _, l := range lines {
		got += l.Text
	}
	if got != "cde" {
		t.Fatalf("expected surviving lines 'cde', got %q", got)
	}
}

func TestScrollBufferTail(t *testing.T) {
	b := NewScrollBuffer(10)
	for i := 0; i < 4; i++ {
		b.Append(string(rune('a'+i)), int64(i))
	}
	tail := b.Tail(2)
	if len(tail) != 2 || tail[0].Text != "c" || tail[1].Text != "d" {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestScrollBufferSearchCaseInsensitive(t *testing.T) {
	b := NewScrollBuffer(10)
	b.Append("Hello World", 0)
	b.Append("goodbye", 1)
	matches := b.Search(SearchOptions{Query: "hello"})
	if len(matches) != 1 || matches[0].LineIndex != 0 {
		t.Fatalf("expected one match at index 0, got %+v", matches)
	}
}

func TestScrollBufferSearchMaxResults(t *testing.T) {
	b := NewScrollBuffer(10)
	for i := 0; i < 5; i++ {
		b.Append("match", int64(i))
	}
	matches := b.Search(SearchOptions{Query: "match", MaxResults: 2})
	if len(matches) != 2 {
		t.Fatalf("expected capped at 2 matches, got %d", len(matches))
	}
}
