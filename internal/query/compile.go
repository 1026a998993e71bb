// Package query compiles a role context and its resolved employer list into
// the structured directory search filter. Compilation is deterministic:
// the same inputs in any order produce an identical query and an identical
// canonical string, so sessions can be compared and deduplicated.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/resolve"
	"github.com/sells-group/scout/pkg/signalhire"
)

// Compile builds the directory search filter. Companies with a resolved
// directory ID contribute the ID only; their name is dropped so the exact
// match always wins over a looser name filter. Unresolved companies fall
// back to a normalized name clause.
func Compile(role model.RoleContext, companies []model.CompanyCandidate) signalhire.SearchQuery {
	idSet := make(map[int64]struct{})
	nameSet := make(map[string]struct{})
	for _, c := range companies {
		if c.Resolved() {
			idSet[*c.ResolvedID] = struct{}{}
			continue
		}
		if n := resolve.NormalizeName(c.Name); n != "" {
			nameSet[n] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	titles := make(map[string]struct{})
	if t := strings.ToLower(strings.TrimSpace(role.Title)); t != "" {
		titles[t] = struct{}{}
	}
	for _, kw := range role.Keywords {
		if k := strings.ToLower(strings.TrimSpace(kw)); k != "" {
			titles[k] = struct{}{}
		}
	}

	return signalhire.SearchQuery{
		CompanyIDs:    ids,
		CompanyNames:  sortedKeys(nameSet),
		TitleKeywords: sortedKeys(titles),
		LocationBoost: strings.ToLower(strings.TrimSpace(role.Location)),
	}
}

// Canonical renders the query as a stable single-line string for session
// records and logs.
func Canonical(q signalhire.SearchQuery) string {
	var b strings.Builder
	b.WriteString("ids=")
	for i, id := range q.CompanyIDs {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", id)
	}
	b.WriteString(";names=")
	b.WriteString(strings.Join(q.CompanyNames, ","))
	b.WriteString(";titles=")
	b.WriteString(strings.Join(q.TitleKeywords, ","))
	b.WriteString(";location=")
	b.WriteString(q.LocationBoost)
	return b.String()
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
