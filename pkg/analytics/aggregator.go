package analytics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

// SimpleAggregate describes a query cheap enough to scatter to the shards
// and merge in-process instead of going through the analytical engine.
type SimpleAggregate struct {
	Func     string // COUNT, SUM, MIN, MAX, AVG
	Arg      string // * or a column
	GroupKey string // empty for a global aggregate
	OrderBy  string // group key or aggregate column, empty for none
	OrderAsc bool
	Limit    int // 0 for none
}

var (
	simpleAggRe = regexp.MustCompile(`(?is)^\s*SELECT\s+(?:([a-zA-Z_]\w*)\s*,\s*)?(COUNT|SUM|MIN|MAX|AVG)\s*\(\s*(\*|[a-zA-Z_][\w.]*)\s*\)(?:\s+AS\s+(\w+))?\s+FROM\s+(documents|chunks)(?:\s+WHERE\s+(.+?))?(?:\s+GROUP\s+BY\s+([a-zA-Z_]\w*))?(?:\s+ORDER\s+BY\s+([a-zA-Z_]\w*)\s*(ASC|DESC)?)?(?:\s+LIMIT\s+(\d+))?\s*;?\s*$`)
	escalateRe  = regexp.MustCompile(`(?is)(\bHAVING\b|\bJOIN\b|\bOVER\s*\(|\bUNION\b|\bINTERSECT\b|\bEXCEPT\b|\(\s*SELECT\b)`)
)

// DetectSimpleAggregate decides whether a query is a simple aggregate.
// Anything it cannot prove simple escalates to the federated engine.
func DetectSimpleAggregate(query string) (*SimpleAggregate, bool) {
	if escalateRe.MatchString(query) {
		return nil, false
	}
	m := simpleAggRe.FindStringSubmatch(query)
	if m == nil {
		return nil, false
	}
	leadCol, fn, arg, alias, _, _, groupKey, orderBy, orderDir, limitStr := m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8], m[9], m[10]

	// A leading column is only legal as the group key itself.
	if leadCol != "" && !strings.EqualFold(leadCol, groupKey) {
		return nil, false
	}
	if groupKey != "" && leadCol == "" {
		return nil, false
	}

	agg := &SimpleAggregate{
		Func:     strings.ToUpper(fn),
		Arg:      arg,
		GroupKey: strings.ToLower(groupKey),
		OrderAsc: !strings.EqualFold(orderDir, "DESC"),
	}
	if orderBy != "" {
		lower := strings.ToLower(orderBy)
		if lower != agg.GroupKey && !strings.EqualFold(orderBy, alias) && !strings.EqualFold(orderBy, fn) {
			return nil, false
		}
		agg.OrderBy = lower
	}
	if limitStr != "" {
		agg.Limit, _ = strconv.Atoi(limitStr)
	}
	return agg, true
}

// Merge combines per-shard result rows of a simple aggregate into the
// single logical result. COUNT and SUM add; MIN and MAX compare with nulls
// skipped; AVG is the equal-weight mean of per-shard means, which is exact
// only when shards hold equal counts.
func Merge(agg *SimpleAggregate, perShard []*shard.Rows) *shard.Rows {
	if agg.GroupKey == "" {
		return mergeGlobal(agg, perShard)
	}
	return mergeGrouped(agg, perShard)
}

func mergeGlobal(agg *SimpleAggregate, perShard []*shard.Rows) *shard.Rows {
	acc := newAccumulator(agg.Func)
	cols := []string{strings.ToLower(agg.Func)}
	for _, rows := range perShard {
		if rows == nil || len(rows.Values) == 0 {
			continue
		}
		if len(rows.Columns) > 0 {
			cols = []string{rows.Columns[len(rows.Columns)-1]}
		}
		acc.add(rows.Values[0][len(rows.Values[0])-1])
	}
	return &shard.Rows{
		Columns: cols,
		Values:  [][]interface{}{{acc.value()}},
	}
}

func mergeGrouped(agg *SimpleAggregate, perShard []*shard.Rows) *shard.Rows {
	groups := make(map[string]*accumulator)
	keys := make(map[string]interface{})
	cols := []string{agg.GroupKey, strings.ToLower(agg.Func)}

	for _, rows := range perShard {
		if rows == nil {
			continue
		}
		if len(rows.Columns) >= 2 {
			cols = []string{rows.Columns[0], rows.Columns[1]}
		}
		for _, row := range rows.Values {
			if len(row) < 2 {
				continue
			}
			key := keyString(row[0])
			acc, ok := groups[key]
			if !ok {
				acc = newAccumulator(agg.Func)
				groups[key] = acc
				keys[key] = row[0]
			}
			acc.add(row[1])
		}
	}

	out := &shard.Rows{Columns: cols}
	for key, acc := range groups {
		out.Values = append(out.Values, []interface{}{keys[key], acc.value()})
	}

	byValue := agg.OrderBy != "" && agg.OrderBy != agg.GroupKey
	sort.Slice(out.Values, func(i, j int) bool {
		var less bool
		if byValue {
			a, _ := toFloat(out.Values[i][1])
			b, _ := toFloat(out.Values[j][1])
			if a != b {
				less = a < b
			} else {
				less = keyString(out.Values[i][0]) < keyString(out.Values[j][0])
			}
		} else {
			less = keyString(out.Values[i][0]) < keyString(out.Values[j][0])
		}
		if agg.OrderBy != "" && !agg.OrderAsc {
			return !less
		}
		return less
	})
	if agg.Limit > 0 && len(out.Values) > agg.Limit {
		out.Values = out.Values[:agg.Limit]
	}
	return out
}

// accumulator merges one aggregate column across shards.
type accumulator struct {
	fn    string
	sum   float64
	best  float64
	count int
	isInt bool
}

func newAccumulator(fn string) *accumulator {
	return &accumulator{fn: fn, isInt: true}
}

func (a *accumulator) add(v interface{}) {
	f, ok := toFloat(v)
	if !ok {
		return
	}
	if _, isInt := asInt(v); !isInt {
		a.isInt = false
	}
	switch a.fn {
	case "COUNT", "SUM":
		a.sum += f
	case "AVG":
		a.sum += f
		a.isInt = false
	case "MIN":
		if a.count == 0 || f < a.best {
			a.best = f
		}
	case "MAX":
		if a.count == 0 || f > a.best {
			a.best = f
		}
	}
	a.count++
}

func (a *accumulator) value() interface{} {
	var f float64
	switch a.fn {
	case "COUNT", "SUM":
		f = a.sum
	case "AVG":
		if a.count == 0 {
			return nil
		}
		return a.sum / float64(a.count)
	case "MIN", "MAX":
		if a.count == 0 {
			return nil
		}
		f = a.best
	}
	if a.isInt {
		return int64(f)
	}
	return f
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	default:
		return 0, false
	}
}

func keyString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case nil:
		return ""
	default:
		return ""
	}
}
