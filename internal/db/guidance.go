package db

import "strings"

const existsGuidance = `SYNTAX UPDATE REQUIRED: property existence checks with exists() were removed in Neo4j 5.
Replace 'exists(n.property)' with 'n.property IS NOT NULL'.
  Before: MATCH (n:TOPIC) WHERE exists(n.alias) RETURN n
  After:  MATCH (n:TOPIC) WHERE n.alias IS NOT NULL RETURN n`

const caseGuidance = `Check case sensitivity: CONTAINS, STARTS WITH and ENDS WITH compare strings exactly.
Use toLower() on both sides for case-insensitive matching.
  Example: WHERE toLower(n.name) CONTAINS toLower($term)`

const sizePatternGuidance = `SYNTAX UPDATE REQUIRED: size() over a pattern is no longer supported.
Replace 'size((n)-->())' with 'COUNT { (n)-->() }'.`

const idGuidance = `SYNTAX UPDATE RECOMMENDED: id() is deprecated.
Replace 'id(n)' with 'elementId(n)' and compare against string ids.`

const genericSyntaxGuidance = `Cypher syntax checklist:
  1. Run the query with EXPLAIN to locate the failing clause.
  2. Check that every $parameter used in the query is supplied.
  3. Check label and relationship type spelling (labels are case-sensitive).
  4. Check for functions removed in Neo4j 5 (exists(), size() on patterns, id()).`

// SyntaxGuidance returns advisory text for a syntax error message.
// It only inspects the text and never changes how a query runs.
func SyntaxGuidance(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "exists("):
		return existsGuidance
	case strings.Contains(lower, "contains"),
		strings.Contains(lower, "starts with"),
		strings.Contains(lower, "ends with"),
		strings.Contains(lower, "case sensitiv"),
		strings.Contains(lower, "case-sensitiv"),
		strings.Contains(lower, "case-insensitiv"),
		strings.Contains(lower, "case insensitiv"):
		return caseGuidance
	case strings.Contains(lower, "size(") && strings.Contains(lower, "pattern"):
		return sizePatternGuidance
	case strings.Contains(lower, "id("):
		return idGuidance
	default:
		return genericSyntaxGuidance
	}
}
