package domain

import (
	"regexp"
)

// RegexRewriter retargets table references in SQL text at a sandbox schema
// by string substitution. It is not SQL-aware: a table name that also
// appears inside a string literal or as a whitespace-delimited column name
// is rewritten too, and references followed by "," or ")" are missed.
type RegexRewriter struct{}

func NewRegexRewriter() *RegexRewriter {
	return &RegexRewriter{}
}

var (
	onQualified   = regexp.MustCompile(`(?i)(\bON\s+(?:ONLY\s+)?)(\w+)\.(\w+)`)
	onUnqualified = regexp.MustCompile(`(?i)(\bON\s+(?:ONLY\s+)?)(\w+)(\s|\(|;|$)`)
)

// RewriteQuery replaces schema-qualified references first, then bare
// references bounded by whitespace, ";" or end of statement.
func (RegexRewriter) RewriteQuery(sql string, refs []TableRef, sandbox string) string {
	out := sql
	for _, ref := range refs {
		if ref.Qualified() {
			out = replaceQualified(out, ref, sandbox)
			continue
		}
		re := regexp.MustCompile(`(\s)` + regexp.QuoteMeta(ref.Name) + `(\s|;|$)`)
		out = replaceAllRepeated(re, out, "${1}"+sandbox+"."+ref.Name+"${2}")
	}
	return out
}

// RewriteIndexDDL points a CREATE INDEX statement's target table at the
// sandbox schema. With no references it rewrites whatever follows ON.
func (RegexRewriter) RewriteIndexDDL(ddl string, refs []TableRef, sandbox string) string {
	out := ddl
	if len(refs) == 0 {
		if onQualified.MatchString(out) {
			return onQualified.ReplaceAllString(out, "${1}"+sandbox+".${3}")
		}
		return onUnqualified.ReplaceAllString(out, "${1}"+sandbox+".${2}${3}")
	}

	for _, ref := range refs {
		if ref.Qualified() {
			out = replaceQualified(out, ref, sandbox)
		}
		re := regexp.MustCompile(`(?i)(\bON\s+(?:ONLY\s+)?)` + regexp.QuoteMeta(ref.Name) + `(\s|\(|;|$)`)
		out = re.ReplaceAllString(out, "${1}"+sandbox+"."+ref.Name+"${2}")
	}
	return out
}

func replaceQualified(sql string, ref TableRef, sandbox string) string {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(ref.Schema) + `\.` + regexp.QuoteMeta(ref.Name) + `\b`)
	return re.ReplaceAllString(sql, sandbox+"."+ref.Name)
}

// replaceAllRepeated applies re until the text stops changing, so that
// adjacent matches sharing a delimiter are all rewritten.
func replaceAllRepeated(re *regexp.Regexp, s, repl string) string {
	for range 4 {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			break
		}
		s = next
	}
	return s
}
