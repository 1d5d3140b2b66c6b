package splitter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewRecursiveCharacterSplitter_Validation(t *testing.T) {
	if _, err := NewRecursiveCharacterSplitter(0, 0); err == nil {
		t.Error("chunk size 0 should error")
	}
	if _, err := NewRecursiveCharacterSplitter(10, 10); err == nil {
		t.Error("overlap == size should error")
	}
	s, err := NewRecursiveCharacterSplitter(500, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Separators) != 4 {
		t.Errorf("default separators = %q", s.Separators)
	}
}

func TestRecursiveSplit_ShortTextSingleChunk(t *testing.T) {
	s, _ := NewRecursiveCharacterSplitter(500, 100)
	got := s.Split("  Hello world.\n\nSecond paragraph.  ")
	if len(got) != 1 || got[0] != "Hello world.\n\nSecond paragraph." {
		t.Fatalf("got %q", got)
	}
	if len(s.Split("   \n\n  ")) != 0 {
		t.Error("blank text should produce no chunks")
	}
}

func TestRecursiveSplit_PrefersParagraphs(t *testing.T) {
	s, _ := NewRecursiveCharacterSplitter(30, 0)
	got := s.Split("first paragraph here\n\nsecond paragraph here\n\nthird")
	want := []string{"first paragraph here", "second paragraph here\n\nthird"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRecursiveSplit_WordsWithOverlap(t *testing.T) {
	s, _ := NewRecursiveCharacterSplitter(10, 4)
	got := s.Split("aa bb cc dd ee ff")
	want := []string{"aa bb cc", "cc dd ee", "ee ff"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRecursiveSplit_HardCutsLongWords(t *testing.T) {
	s, _ := NewRecursiveCharacterSplitter(4, 1)
	got := s.Split("abcdefghij")
	for _, c := range got {
		if utf8.RuneCountInString(c) > 4 {
			t.Errorf("chunk %q exceeds size", c)
		}
	}
	if got[0] != "abcd" || got[1] != "defg" {
		t.Fatalf("got %q", got)
	}
}

func TestRecursiveSplit_RuneLengths(t *testing.T) {
	s, _ := NewRecursiveCharacterSplitter(3, 0)
	got := s.Split("多模态检索")
	if strings.Join(got, "|") != "多模态|检索" {
		t.Fatalf("got %q", got)
	}
}

func TestRecursiveSplit_BoundedChunks(t *testing.T) {
	s, _ := NewRecursiveCharacterSplitter(500, 100)
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("lorem ipsum dolor sit amet ")
		if i%20 == 19 {
			b.WriteString("\n\n")
		}
	}
	chunks := s.Split(b.String())
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 500 {
			t.Errorf("chunk length %d > 500", utf8.RuneCountInString(c))
		}
	}
}

func TestHardSplit(t *testing.T) {
	got := HardSplit("abcdefg", 3, 1)
	if strings.Join(got, "|") != "abc|cde|efg" {
		t.Fatalf("got %q", got)
	}
	if got := HardSplit("ab", 3, 1); len(got) != 1 || got[0] != "ab" {
		t.Fatalf("short text = %q", got)
	}
}
