package querylog

import "strings"

// Solution is advice for a recognised failure in the query log.
type Solution struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Solution    string `json:"solution"`
	Example     string `json:"example"`
}

var (
	existsSolution = Solution{
		Title:       "Deprecated Syntax - Property Existence Check",
		Description: "The exists() function is no longer supported in Neo4j 5+",
		Solution:    "Replace exists(n.property) with n.property IS NOT NULL",
		Example: `# Before
MATCH (n) WHERE exists(n.name) RETURN n

# After
MATCH (n) WHERE n.name IS NOT NULL RETURN n`,
	}
	caseSolution = Solution{
		Title:       "Case-Sensitive String Matching",
		Description: "String operations are case-sensitive by default",
		Solution:    "Use toLower() for case-insensitive matching",
		Example: `# Before (case-sensitive)
WHERE n.name CONTAINS 'text'

# After (case-insensitive)
WHERE toLower(n.name) CONTAINS toLower($text)`,
	}
	indexSolution = Solution{
		Title:       "Missing Index or Property",
		Description: "Query references a property that isn't indexed or doesn't exist",
		Solution:    "Create the appropriate index or check property name",
		Example: `# Check property existence
MATCH (n:TOPIC) WHERE n.name = 'Example' RETURN n LIMIT 1

# Create index if needed
CREATE INDEX topic_name_index IF NOT EXISTS FOR (t:TOPIC) ON (t.name)`,
	}
	timeoutSolution = Solution{
		Title:       "Query Timeout or Deadlock",
		Description: "Query took too long or encountered lock contention",
		Solution:    "Optimize the query with more specific patterns, add LIMIT, or use EXPLAIN/PROFILE",
		Example: `# Run EXPLAIN to see query plan
EXPLAIN MATCH (n)-[r]-(m) RETURN n, r, m

# Add more specific patterns and limits
MATCH (n:TOPIC)-[r:HAS_CHILD]->(m)
RETURN n, r, m LIMIT 100`,
	}
	authSolution = Solution{
		Title:       "Authentication Failure",
		Description: "The database rejected the configured credentials",
		Solution:    "Check NEO4J_USERNAME and NEO4J_PASSWORD, and decrypt the password with the configured encryption key",
		Example:     "wisdomgraph health --config config.yml",
	}
)

// Remediate suggests a fix for an error entry. It returns nil for entries
// without an error.
func Remediate(e Entry) *Solution {
	if !e.HasError() {
		return nil
	}
	text := e.Error
	if text == "" {
		text = e.Message
	}
	// only the failure itself, not the echoed query or guidance
	if i := strings.Index(text, "\nCypher: "); i >= 0 {
		text = text[:i]
	}
	lower := strings.ToLower(text)

	var s Solution
	switch {
	case strings.Contains(lower, "exists("):
		s = existsSolution
	case strings.Contains(text, "CONTAINS") && strings.Contains(lower, "case"):
		s = caseSolution
	case strings.Contains(lower, "no such index"),
		strings.Contains(lower, "could not resolve the referenced property"):
		s = indexSolution
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadlock"):
		s = timeoutSolution
	case strings.Contains(lower, "authentication failed"), strings.Contains(lower, "unauthorized"):
		s = authSolution
	default:
		s = Solution{
			Title:       "Unrecognized Error Pattern",
			Description: "This error doesn't match common patterns",
			Solution:    "Check Neo4j logs and documentation for more details",
			Example:     "Error message: " + text,
		}
	}
	return &s
}
