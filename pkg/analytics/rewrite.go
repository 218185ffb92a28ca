// Package analytics is the warm query path: a single logical SQL query is
// rewritten into a federated UNION ALL over every attached shard and
// executed on an in-memory analytical engine, or, for simple aggregates,
// scattered to the shards and merged in-process.
package analytics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

// Every SQL-dissecting regex lives in this file. The rewrite is regex
// driven and deliberately conservative; replacing it with a real parser
// should touch nothing outside this file.
var (
	tableRefRe   = regexp.MustCompile(`(?i)\b(FROM|JOIN)\s+(documents|chunks)\b`)
	outerOrderRe = regexp.MustCompile(`(?is)\bORDER\s+BY\s+(.+?)\s*$`)
	outerLimitRe = regexp.MustCompile(`(?is)\bLIMIT\s+(\d+(?:\s+OFFSET\s+\d+)?)\s*$`)
	trailingSemi = regexp.MustCompile(`\s*;\s*$`)
)

// DetectTable finds which virtual table a query reads. Only the corpus
// tables are recognized; anything else is NotFound.
func DetectTable(query string) (string, error) {
	m := tableRefRe.FindStringSubmatch(query)
	if m == nil {
		return "", errors.New(errors.ErrNotFound, "query does not reference a known table (documents, chunks)")
	}
	return strings.ToLower(m[2]), nil
}

// splitOuterClauses strips a trailing ORDER BY / LIMIT from the query,
// returning the core plus the clauses for re-application after federation.
func splitOuterClauses(query string) (core, orderBy, limit string) {
	core = trailingSemi.ReplaceAllString(query, "")

	if loc := outerLimitRe.FindStringSubmatchIndex(core); loc != nil {
		limit = "LIMIT " + core[loc[2]:loc[3]]
		core = core[:loc[0]]
	}
	if loc := outerOrderRe.FindStringSubmatchIndex(core); loc != nil {
		orderBy = "ORDER BY " + strings.TrimSpace(core[loc[2]:loc[3]])
		core = core[:loc[0]]
	}
	return strings.TrimSpace(core), orderBy, limit
}

// Federate rewrites a logical query over one corpus table into the
// federated form executed on the analytical engine: one sub-select per
// attached shard alias, UNION ALL'd, with the outer ORDER BY and LIMIT
// re-applied on top.
func Federate(query string, aliases []string) (string, error) {
	table, err := DetectTable(query)
	if err != nil {
		return "", err
	}
	if len(aliases) == 0 {
		return "", errors.New(errors.ErrNotFound, "no active shards attached")
	}

	core, orderBy, limit := splitOuterClauses(query)

	subs := make([]string, len(aliases))
	for i, alias := range aliases {
		subs[i] = tableRefRe.ReplaceAllString(core, fmt.Sprintf("$1 %s.%s", alias, table))
	}

	var b strings.Builder
	b.WriteString("WITH federated AS (")
	b.WriteString(strings.Join(subs, " UNION ALL "))
	b.WriteString(") SELECT * FROM federated")
	if orderBy != "" {
		b.WriteString(" ")
		b.WriteString(orderBy)
	}
	if limit != "" {
		b.WriteString(" ")
		b.WriteString(limit)
	}
	return b.String(), nil
}
