// Package classifier categorizes incoming queries into the engine classes
// the coordinator dispatches on. The rules are regex-driven; every regex
// lives here so a later parser swap touches one file.
package classifier

import (
	"regexp"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

// Class is the engine a query is dispatched to.
type Class string

const (
	ClassVectorSearch Class = "vector_search"
	ClassHybridSearch Class = "hybrid_search"
	ClassAnalytics    Class = "analytics"
	ClassSimpleSQL    Class = "simple_sql"
)

var (
	semanticRe  = regexp.MustCompile(`(?i)(\bSEMANTIC\b|\bVECTOR_SEARCH\b|\bSIMILAR\s+TO\b|\bvec_distance\s*\()`)
	whereRe     = regexp.MustCompile(`(?i)\bWHERE\b`)
	analyticsRe = regexp.MustCompile(`(?i)(\bGROUP\s+BY\b|\bHAVING\b|\bWINDOW\b|\bOVER\s*\(|\bWITH\s+\w+\s+AS\s*\(|\bJOIN\b|\bUNION\b|\bINTERSECT\b|\bEXCEPT\b)`)
	aggregateRe = regexp.MustCompile(`(?i)\b(COUNT|SUM|MIN|MAX|AVG)\s*\(`)
)

// Classify assigns a query its engine class. Priority order: a semantic
// marker without WHERE is a pure vector search, with WHERE a hybrid;
// relational constructs or multiple aggregates go to analytics; anything
// left is simple SQL fanned out verbatim.
func Classify(query string) Class {
	semantic := semanticRe.MatchString(query)
	hasWhere := whereRe.MatchString(query)

	switch {
	case semantic && !hasWhere:
		return ClassVectorSearch
	case semantic && hasWhere:
		return ClassHybridSearch
	case analyticsRe.MatchString(query):
		return ClassAnalytics
	case len(aggregateRe.FindAllStringIndex(query, -1)) > 1:
		return ClassAnalytics
	default:
		return ClassSimpleSQL
	}
}

// ParseForced validates a caller-forced class. An unknown name is a
// ClassifierBypass error; empty means no force.
func ParseForced(s string) (Class, error) {
	switch Class(s) {
	case "":
		return "", nil
	case ClassVectorSearch, ClassHybridSearch, ClassAnalytics, ClassSimpleSQL:
		return Class(s), nil
	default:
		return "", errors.Newf(errors.ErrClassifierBypass, "unknown engine class %q", s)
	}
}

var (
	hybridRe   = regexp.MustCompile(`(?is)^\s*SEMANTIC\s+'((?:[^']|'')*)'\s+WHERE\s+(.+?)\s*$`)
	semanticTx = regexp.MustCompile(`(?is)\bSEMANTIC\s+'((?:[^']|'')*)'`)
)

// ExtractSemantic pulls the quoted text out of a SEMANTIC '<text>' marker.
func ExtractSemantic(query string) (string, bool) {
	m := semanticTx.FindStringSubmatch(query)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// SplitHybrid parses the textual hybrid form SEMANTIC '<text>' WHERE <sql>,
// returning the semantic text and the SQL filter.
func SplitHybrid(query string) (text, filter string, err error) {
	m := hybridRe.FindStringSubmatch(query)
	if m == nil {
		return "", "", errors.New(errors.ErrInvalidInput, "hybrid query must have the form SEMANTIC '<text>' WHERE <sql>")
	}
	return m[1], m[2], nil
}
