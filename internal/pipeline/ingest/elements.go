// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"image"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// 元素类别
const (
	CategoryTitle     = "Title"
	CategoryNarrative = "NarrativeText"
	CategoryListItem  = "ListItem"
	CategoryTable     = "Table"
	CategoryImage     = "Image"
	CategoryComposite = "CompositeElement"
)

const maxTitleChars = 120

// Element 版面元素
type Element struct {
	Category string
	Text     string
	Page     int // 从 1 开始
	Section  string
	Image    image.Image
	ImageIdx int
	Rows     [][]string
}

var listPrefix = regexp.MustCompile(`^\s*(?:[-*•▪●◦‣]|\(?\d{1,3}[.)]|\(?[a-zA-Z][.)])\s+`)

// Classify 判断段落类别
func Classify(paragraph string) string {
	p := strings.TrimSpace(paragraph)
	switch {
	case listPrefix.MatchString(p):
		return CategoryListItem
	case isTitle(p):
		return CategoryTitle
	default:
		return CategoryNarrative
	}
}

// isTitle 单行、较短、无句末标点且含字母
func isTitle(p string) bool {
	if p == "" || strings.Contains(p, "\n") || utf8.RuneCountInString(p) > maxTitleChars {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(p)
	if strings.ContainsRune(".!?;,:。！？；，：", last) {
		return false
	}
	return strings.IndexFunc(p, unicode.IsLetter) >= 0
}

// Paragraphs 按空行切分页面文本，段内折行合并为空格
func Paragraphs(text string) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		// 列表项各自成段
		if listPrefix.MatchString(line) {
			flush()
		}
		cur = append(cur, line)
	}
	flush()
	return out
}

// PartitionText 把页面文本转换为 Title/ListItem/NarrativeText 元素
func PartitionText(text string, page int) []Element {
	var els []Element
	for _, p := range Paragraphs(text) {
		els = append(els, Element{Category: Classify(p), Text: p, Page: page})
	}
	return els
}

// TableText 单元格以制表符分隔，行以换行分隔
func TableText(rows [][]string) string {
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, strings.Join(r, "\t"))
	}
	return strings.Join(lines, "\n")
}

// assignSections 最近的 Title 作为后续元素的 section
func assignSections(els []Element) {
	section := ""
	for i := range els {
		if els[i].Category == CategoryTitle {
			section = els[i].Text
		}
		els[i].Section = section
	}
}
