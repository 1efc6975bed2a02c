package commsutil

import "strings"

// SubjectInvalidated is the default global subject for invalidation events.
const SubjectInvalidated = "livequery.invalidated"

// BuildInvalidatedSubject builds the per-key subject under base. Subject tokens are separated by
// dots and may not contain wildcards, so those characters in the query key are replaced.
func BuildInvalidatedSubject(base, queryKey string) string {
	if base == "" {
		base = SubjectInvalidated
	}
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return base + "." + r.Replace(queryKey)
}
