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
	"strings"
	"unicode/utf8"

	"mmrag/internal/splitter"
)

const elementSeparator = "\n\n"

// ChunkingOptions by_title 切片参数
type ChunkingOptions struct {
	MaxCharacters          int
	NewAfterNChars         int
	CombineTextUnderNChars int
	Overlap                int
}

// DefaultChunking 1000 / 800 / 200
func DefaultChunking() ChunkingOptions {
	return ChunkingOptions{MaxCharacters: 1000, NewAfterNChars: 800, CombineTextUnderNChars: 200}
}

func (o ChunkingOptions) normalized() ChunkingOptions {
	d := DefaultChunking()
	if o.MaxCharacters <= 0 {
		o.MaxCharacters = d.MaxCharacters
	}
	if o.NewAfterNChars <= 0 || o.NewAfterNChars > o.MaxCharacters {
		o.NewAfterNChars = o.MaxCharacters
	}
	if o.CombineTextUnderNChars < 0 || o.CombineTextUnderNChars > o.MaxCharacters {
		o.CombineTextUnderNChars = o.MaxCharacters
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxCharacters {
		o.Overlap = 0
	}
	return o
}

type chunkBuilder struct {
	els  []Element
	text []string
	n    int
}

func (b *chunkBuilder) len() int { return b.n }

func (b *chunkBuilder) lenWith(s string) int {
	if len(b.text) == 0 {
		return utf8.RuneCountInString(s)
	}
	return b.n + utf8.RuneCountInString(elementSeparator) + utf8.RuneCountInString(s)
}

func (b *chunkBuilder) add(el Element) {
	b.n = b.lenWith(el.Text)
	b.els = append(b.els, el)
	b.text = append(b.text, el.Text)
}

func (b *chunkBuilder) build() Element {
	first := b.els[0]
	out := Element{Category: first.Category, Text: strings.Join(b.text, elementSeparator), Page: first.Page, Section: first.Section}
	if len(b.els) > 1 {
		out.Category = CategoryComposite
	}
	return out
}

// ChunkByTitle 按标题切片
//
// Title 开启新段；表格与图片原样输出并截断当前切片；切片达到 NewAfterNChars
// 或加入下一个元素会超过 MaxCharacters 时关闭；超过 MaxCharacters 的单个元素硬切。
// 上一段（标题段）的最后一个切片短于 CombineTextUnderNChars 时，与下一段的开头合并。
func ChunkByTitle(els []Element, opts ChunkingOptions) []Element {
	opts = opts.normalized()
	var out []Element
	cur := &chunkBuilder{}

	closeCur := func() {
		if len(cur.els) > 0 {
			out = append(out, cur.build())
		}
		cur = &chunkBuilder{}
	}

	for _, el := range els {
		switch el.Category {
		case CategoryTable, CategoryImage:
			closeCur()
			out = append(out, el)
			continue
		}
		if strings.TrimSpace(el.Text) == "" {
			continue
		}
		if el.Category == CategoryTitle && len(cur.els) > 0 {
			short := cur.len() < opts.CombineTextUnderNChars
			if !short || cur.lenWith(el.Text) > opts.MaxCharacters {
				closeCur()
			}
		}
		if utf8.RuneCountInString(el.Text) > opts.MaxCharacters {
			closeCur()
			for _, piece := range splitter.HardSplit(el.Text, opts.MaxCharacters, opts.Overlap) {
				part := el
				part.Text = piece
				out = append(out, part)
			}
			continue
		}
		if len(cur.els) > 0 {
			over := cur.lenWith(el.Text) > opts.MaxCharacters
			full := cur.len() >= opts.NewAfterNChars
			if over || full {
				closeCur()
			}
		}
		cur.add(el)
	}
	closeCur()
	return out
}
