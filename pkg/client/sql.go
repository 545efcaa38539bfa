package client

import "strings"

// quoteLiteral renders a string as a SQL literal for commands that cannot
// take bind parameters (PREPARE TRANSACTION and friends).
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// quoteIdent renders an identifier for DECLARE/FETCH/CLOSE.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
