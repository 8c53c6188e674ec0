package hostagg

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sort"
)

// computeETag returns base64url(sha256(canonicalJSON(hosts))). hosts is
// sorted by FQN first so the digest is independent of map iteration order.
func computeETag(hosts []*AggregatedHost) string {
	sorted := make([]*AggregatedHost, len(hosts))
	copy(sorted, hosts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FQN < sorted[j].FQN })

	// encoding/json already emits struct fields in declaration order and
	// object keys are fixed by the struct tags, so marshalling the sorted
	// slice directly is canonical enough for a change-detection digest —
	// this is not used as a security-sensitive signature.
	b, err := json.Marshal(sorted)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
