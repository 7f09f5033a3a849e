// Package blocks finds fenced code blocks in Markdown text.
package blocks

import (
	"regexp"
	"strings"
)

// Fence is the marker opening and closing a code block.
const Fence = "```"

// fencePattern matches a fence, a word tag, a newline, the shortest body and
// the next fence. The first closing fence wins, so blocks never nest.
var fencePattern = regexp.MustCompile("```(\\w+)\\n((?s:.*?))```")

// Block is one fenced region of a document. Blocks are values created by a
// single scan and are not meant to outlive the pass that produced them.
type Block struct {
	// Language is the lower-cased fence tag, used for lookups.
	Language string
	// Tag is the fence tag as written.
	Tag string
	// Code is the text between the opening line and the closing fence.
	Code string
	// Original is the whole match, fences included.
	Original string
	// Start and End are the byte offsets of Original in the scanned text.
	Start int
	End   int
}

// Rebuild returns the block fenced again around code, keeping the tag as written.
func (b Block) Rebuild(code string) string {
	var sb strings.Builder
	sb.Grow(len(Fence)*2 + len(b.Tag) + len(code) + 2)
	sb.WriteString(Fence)
	sb.WriteString(b.Tag)
	sb.WriteByte('\n')
	sb.WriteString(code)
	sb.WriteByte('\n')
	sb.WriteString(Fence)
	return sb.String()
}

// Extract returns every block of text in document order.
func Extract(text string) []Block {
	var result []Block
	Each(text, func(b Block) bool {
		result = append(result, b)
		return true
	})
	return result
}

// Each scans text and calls yield for every block in document order until
// yield returns false. Each scan starts from the beginning of text.
func Each(text string, yield func(Block) bool) {
	offset := 0
	for offset <= len(text) {
		loc := fencePattern.FindStringSubmatchIndex(text[offset:])
		if loc == nil {
			return
		}

		start, end := offset+loc[0], offset+loc[1]
		tag := text[offset+loc[2] : offset+loc[3]]
		block := Block{
			Language: strings.ToLower(tag),
			Tag:      tag,
			Code:     text[offset+loc[4] : offset+loc[5]],
			Original: text[start:end],
			Start:    start,
			End:      end,
		}
		if !yield(block) {
			return
		}

		offset = end
	}
}
