package store

import (
	"fmt"
	"strings"

	"github.com/stratadb/strata/pkg/types"
)

// CreateTableSQL renders the CREATE TABLE statement for a schema.
func CreateTableSQL(s *types.Schema) (string, error) {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(s.Table))
	b.WriteString(" (")
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n  ")
		b.WriteString(quoteIdent(c.Name))
		if c.DeclaredType != "" {
			if err := checkDeclaredType(c.DeclaredType); err != nil {
				return "", fmt.Errorf("store: column %s.%s: %w", s.Table, c.Name, err)
			}
			b.WriteString(" ")
			b.WriteString(c.DeclaredType)
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.Default != nil {
			if err := checkExpression(*c.Default); err != nil {
				return "", fmt.Errorf("store: default of %s.%s: %w", s.Table, c.Name, err)
			}
			b.WriteString(" DEFAULT (")
			b.WriteString(*c.Default)
			b.WriteString(")")
		}
	}
	pk := s.PrimaryKeyColumns()
	if len(pk) > 0 {
		b.WriteString(",\n  PRIMARY KEY (")
		b.WriteString(quoteList(pk))
		b.WriteString(")")
	}
	b.WriteString("\n)")
	if s.WithoutRowID && len(pk) > 0 {
		b.WriteString(" WITHOUT ROWID")
	}
	return b.String(), nil
}

// CreateIndexSQL renders the CREATE INDEX statement for an index on table.
func CreateIndexSQL(table string, idx types.IndexDef) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	keys := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		key := quoteIdent(col)
		if coll := idx.Collation(i); coll != "" {
			key += " COLLATE " + quoteIdent(coll)
		}
		if idx.Desc(i) {
			key += " DESC"
		}
		keys[i] = key
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, quoteIdent(idx.Name), quoteIdent(table), strings.Join(keys, ", "))
}

// InsertSQL renders a parameterized INSERT for every column of the schema.
func InsertSQL(s *types.Schema) string {
	params := strings.TrimSuffix(strings.Repeat("?, ", len(s.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(s.Table), quoteList(s.ColumnNames()), params)
}

// checkDeclaredType accepts the type names SQLite's grammar allows: words
// with an optional signed numeric argument list.
func checkDeclaredType(t string) error {
	if strings.Contains(t, "--") {
		return fmt.Errorf("invalid declared type %q", t)
	}
	depth := 0
	for _, r := range t {
		switch {
		case r == '(':
			depth++
			if depth > 1 {
				return fmt.Errorf("invalid declared type %q", t)
			}
		case r == ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("invalid declared type %q", t)
			}
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == ' ', r == ',', r == '+', r == '-', r == '.':
		default:
			return fmt.Errorf("invalid declared type %q", t)
		}
	}
	if depth != 0 {
		return fmt.Errorf("invalid declared type %q", t)
	}
	return nil
}

// checkExpression rejects text that would escape the parentheses of a
// DEFAULT (...) clause. Outside quoted literals it may not hold unbalanced
// parentheses, statement separators or comments.
func checkExpression(expr string) error {
	depth := 0
	var quote, prev rune
	for _, r := range expr {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			prev = 0
			continue
		}
		if (prev == '-' && r == '-') || (prev == '/' && r == '*') {
			return fmt.Errorf("invalid expression %q", expr)
		}
		prev = r
		switch r {
		case '\'', '"', '`':
			quote = r
		case '[':
			quote = ']'
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced expression %q", expr)
			}
		case ';':
			return fmt.Errorf("invalid expression %q", expr)
		}
	}
	if depth != 0 || quote != 0 {
		return fmt.Errorf("unbalanced expression %q", expr)
	}
	return nil
}
