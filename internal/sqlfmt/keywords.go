package sqlfmt

var keywords = toSet(
	"ADD", "ALL", "ALTER", "AND", "ANY", "AS", "ASC", "BEGIN", "BETWEEN", "BY",
	"CASCADE", "CASE", "CHECK", "COLUMN", "COMMIT", "CONSTRAINT", "CREATE", "CROSS",
	"DATABASE", "DEFAULT", "DELETE", "DESC", "DISTINCT", "DROP", "ELSE", "END",
	"EXCEPT", "EXISTS", "FALSE", "FETCH", "FIRST", "FOREIGN", "FROM", "FULL",
	"GRANT", "GROUP", "HAVING", "IF", "ILIKE", "IN", "INDEX", "INNER", "INSERT",
	"INTERSECT", "INTO", "IS", "JOIN", "KEY", "LEFT", "LIKE", "LIMIT", "NEXT",
	"NOT", "NULL", "OFFSET", "ON", "OR", "ORDER", "OUTER", "OVER", "PARTITION",
	"PRIMARY", "REFERENCES", "REPLACE", "RETURNING", "REVOKE", "RIGHT", "ROLLBACK",
	"ROWS", "SELECT", "SET", "TABLE", "THEN", "TOP", "TRUE", "TRUNCATE", "UNION",
	"UNIQUE", "UPDATE", "USING", "VALUES", "VIEW", "WHEN", "WHERE", "WINDOW", "WITH",
)

// functionKeywords are upper-cased like keywords but written like function
// calls, with no space before "(".
var functionKeywords = toSet(
	"AVG", "CAST", "COALESCE", "COUNT", "LOWER", "MAX", "MIN", "NOW", "NULLIF",
	"ROUND", "SUBSTRING", "SUM", "TRIM", "UPPER",
	"BIGINT", "BOOLEAN", "CHAR", "DATE", "DECIMAL", "FLOAT", "INT", "INTEGER",
	"NUMERIC", "SMALLINT", "TEXT", "TIMESTAMP", "VARCHAR",
)

func isKeyword(upper string) bool {
	_, ok := keywords[upper]
	return ok || isFunctionKeyword(upper)
}

func isFunctionKeyword(upper string) bool {
	_, ok := functionKeywords[upper]
	return ok
}

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
