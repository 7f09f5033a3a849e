package blocks_test

import (
	"testing"

	"github.com/cristianradulescu/mdfence-ls/internal/blocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []blocks.Block
	}{
		{
			name:     "no blocks",
			text:     "# Title\n\nplain text only\n",
			expected: nil,
		},
		{
			name: "single block",
			text: "intro\n```java\nclass A {}\n```\noutro",
			expected: []blocks.Block{
				{
					Language: "java",
					Tag:      "java",
					Code:     "class A {}\n",
					Original: "```java\nclass A {}\n```",
					Start:    6,
					End:      28,
				},
			},
		},
		{
			name: "tag case is kept but language is lower-cased",
			text: "```SQL\nselect 1;\n```",
			expected: []blocks.Block{
				{
					Language: "sql",
					Tag:      "SQL",
					Code:     "select 1;\n",
					Original: "```SQL\nselect 1;\n```",
					Start:    0,
					End:      20,
				},
			},
		},
		{
			name: "empty body",
			text: "```javascript\n```",
			expected: []blocks.Block{
				{
					Language: "javascript",
					Tag:      "javascript",
					Code:     "",
					Original: "```javascript\n```",
					Start:    0,
					End:      17,
				},
			},
		},
		{
			name:     "unterminated fence is plain text",
			text:     "```sql\nselect 1;\n",
			expected: nil,
		},
		{
			name:     "fence without tag is not a block",
			text:     "```\nselect 1;\n```",
			expected: nil,
		},
		{
			name:     "tag must be followed by a newline",
			text:     "```sql select 1;```",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, blocks.Extract(tt.text))
		})
	}
}

func TestExtract_DocumentOrder(t *testing.T) {
	text := "a\n```sql\nselect 1;\n```\nb\n```java\nclass A {}\n```\nc\n```python\nprint(1)\n```\n"

	got := blocks.Extract(text)

	require.Len(t, got, 3)
	assert.Equal(t, []string{"sql", "java", "python"}, []string{got[0].Language, got[1].Language, got[2].Language})
	for _, b := range got {
		assert.Equal(t, b.Original, text[b.Start:b.End])
	}
}

func TestExtract_FirstClosingFenceTerminates(t *testing.T) {
	text := "```markdown\nouter\n```sql\ninner\n```\n```\n"

	got := blocks.Extract(text)

	require.Len(t, got, 1)
	assert.Equal(t, "markdown", got[0].Language)
	assert.Equal(t, "outer\n", got[0].Code)
	assert.Equal(t, "```markdown\nouter\n```", got[0].Original)
}

func TestEach_StopsWhenYieldReturnsFalse(t *testing.T) {
	text := "```sql\na\n```\n```sql\nb\n```\n```sql\nc\n```"

	var seen []string
	blocks.Each(text, func(b blocks.Block) bool {
		seen = append(seen, b.Code)
		return len(seen) < 2
	})

	assert.Equal(t, []string{"a\n", "b\n"}, seen)
}

func TestBlock_Rebuild(t *testing.T) {
	b := blocks.Block{Tag: "SQL"}

	assert.Equal(t, "```SQL\nSELECT\n    1;\n```", b.Rebuild("SELECT\n    1;"))
	assert.Equal(t, "```SQL\n\n```", b.Rebuild(""))
}
