package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Introduction", CategoryTitle},
		{"2. Related Work", CategoryListItem},
		{"- bullet point", CategoryListItem},
		{"This is a sentence.", CategoryNarrative},
		{"12345", CategoryNarrative},
		{"第一章 概述", CategoryTitle},
		{"本节介绍系统架构。", CategoryNarrative},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.in), c.in)
	}
}

func TestParagraphs(t *testing.T) {
	text := "Title\n\nfirst line\nsecond line\n\n- a\n- b\n\n\n"
	assert.Equal(t, []string{"Title", "first line second line", "- a", "- b"}, Paragraphs(text))
	assert.Empty(t, Paragraphs("  \n \n"))
}

func TestPartitionText_AssignsSections(t *testing.T) {
	els := PartitionText("Overview\n\nBody text here.\n\nDetails\n\nMore body.", 3)
	assignSections(els)
	if assert.Len(t, els, 4) {
		assert.Equal(t, 3, els[1].Page)
		assert.Equal(t, "Overview", els[1].Section)
		assert.Equal(t, "Details", els[3].Section)
	}
}

func TestTableText(t *testing.T) {
	assert.Equal(t, "a\tb\n1\t2", TableText([][]string{{"a", "b"}, {"1", "2"}}))
	assert.Equal(t, "", TableText(nil))
}
