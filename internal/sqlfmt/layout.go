package sqlfmt

import "strings"

// clausePhrase is a keyword sequence that opens a clause.
type clausePhrase struct {
	words []string
	// inline clauses keep their body on the same line and are indented one level.
	inline bool
	// conditions enables AND/OR line breaks in the clause body.
	conditions bool
}

// Longer phrases first so "LEFT OUTER JOIN" wins over "LEFT JOIN".
var clausePhrases = []clausePhrase{
	{words: []string{"SELECT", "DISTINCT"}},
	{words: []string{"SELECT"}},
	{words: []string{"INSERT", "INTO"}},
	{words: []string{"DELETE", "FROM"}},
	{words: []string{"GROUP", "BY"}},
	{words: []string{"ORDER", "BY"}},
	{words: []string{"UNION", "ALL"}},
	{words: []string{"UNION"}},
	{words: []string{"INTERSECT"}},
	{words: []string{"EXCEPT"}},
	{words: []string{"FROM"}},
	{words: []string{"WHERE"}, conditions: true},
	{words: []string{"HAVING"}, conditions: true},
	{words: []string{"LIMIT"}},
	{words: []string{"OFFSET"}},
	{words: []string{"VALUES"}},
	{words: []string{"UPDATE"}},
	{words: []string{"SET"}},
	{words: []string{"WITH"}},
	{words: []string{"RETURNING"}},
	{words: []string{"LEFT", "OUTER", "JOIN"}, inline: true},
	{words: []string{"RIGHT", "OUTER", "JOIN"}, inline: true},
	{words: []string{"FULL", "OUTER", "JOIN"}, inline: true},
	{words: []string{"LEFT", "JOIN"}, inline: true},
	{words: []string{"RIGHT", "JOIN"}, inline: true},
	{words: []string{"FULL", "JOIN"}, inline: true},
	{words: []string{"INNER", "JOIN"}, inline: true},
	{words: []string{"CROSS", "JOIN"}, inline: true},
	{words: []string{"JOIN"}, inline: true},
}

// matchClause returns the phrase starting at items[i], if any.
func matchClause(items []item, i int) (clausePhrase, bool) {
	for _, phrase := range clausePhrases {
		if i+len(phrase.words) > len(items) {
			continue
		}
		matched := true
		for j, word := range phrase.words {
			if items[i+j].kind != kindWord || items[i+j].upper != word {
				matched = false
				break
			}
		}
		if matched {
			return phrase, true
		}
	}
	return clausePhrase{}, false
}

type writer struct {
	sb          strings.Builder
	indent      string
	atLineStart bool
	prev        *item
}

func (w *writer) newline(level int) {
	if w.sb.Len() == 0 {
		return
	}
	text := strings.TrimRight(w.sb.String(), " ")
	w.sb.Reset()
	w.sb.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		w.sb.WriteByte('\n')
	}
	w.sb.WriteString(strings.Repeat(w.indent, level))
	w.atLineStart = true
}

func (w *writer) write(it *item) {
	if !w.atLineStart && w.prev != nil && needsSpace(w.prev, it) {
		w.sb.WriteByte(' ')
	}
	w.sb.WriteString(it.text)
	w.atLineStart = false
	w.prev = it
}

// needsSpace decides the separator between two items on one line. Outside
// the fixed rules below, items that touch in the source keep touching.
func needsSpace(prev, cur *item) bool {
	switch cur.kind {
	case kindComma, kindSemicolon, kindClose, kindDot:
		return false
	case kindOpen:
		if prev.kind == kindWord {
			// Function calls and type sizes hug their parenthesis.
			return isKeyword(prev.upper) && !isFunctionKeyword(prev.upper)
		}
	}
	switch prev.kind {
	case kindOpen, kindDot:
		return false
	case kindComma:
		return true
	}
	if cur.text == "::" || prev.text == "::" {
		return false
	}
	return cur.spaceBefore
}

func layout(items []item, indent string) string {
	w := &writer{indent: indent, atLineStart: true}

	depth := 0
	conditions := false
	betweenOpen := false

	for i := 0; i < len(items); i++ {
		it := &items[i]

		if depth == 0 && it.kind == kindWord {
			if phrase, ok := matchClause(items, i); ok {
				if phrase.inline {
					w.newline(1)
				} else {
					w.newline(0)
				}
				for j := range phrase.words {
					w.write(&items[i+j])
				}
				i += len(phrase.words) - 1
				conditions = phrase.conditions
				betweenOpen = false
				if !phrase.inline && !nextIsClause(items, i+1) {
					w.newline(1)
				}
				continue
			}

			switch it.upper {
			case "BETWEEN":
				betweenOpen = true
			case "AND", "OR":
				if conditions && !(it.upper == "AND" && betweenOpen) {
					w.newline(1)
				}
				if it.upper == "AND" {
					betweenOpen = false
				}
			}
		}

		w.write(it)

		switch it.kind {
		case kindOpen:
			depth++
		case kindClose:
			depth--
		case kindComma:
			if depth == 0 {
				w.newline(1)
			}
		case kindLineComment:
			// Whatever follows a line comment must start a new line.
			if i+1 < len(items) {
				w.newline(1)
			}
		case kindSemicolon:
			if i+1 < len(items) {
				w.newline(0)
				conditions = false
			}
		}
	}

	return strings.TrimSpace(w.sb.String())
}

func nextIsClause(items []item, i int) bool {
	if i >= len(items) || items[i].kind != kindWord {
		return i >= len(items)
	}
	_, ok := matchClause(items, i)
	return ok
}
