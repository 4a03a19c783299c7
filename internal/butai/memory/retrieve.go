package memory

import "strings"

// MaxTierMatches caps how many entries a tier contributes. The most recent
// matches are kept.
const MaxTierMatches = 2

// Tier identifies which precedence level satisfied a retrieval.
type Tier int

const (
	TierNone Tier = iota
	// TierTags: the entry's tags are a superset of the query tags.
	TierTags
	// TierTopics: the entry's topics are a superset of the query topics.
	TierTopics
	// TierOverlap: the entry shares at least one tag with the query.
	TierOverlap
	// TierRecent: nothing matched; the newest entry is used.
	TierRecent
)

func (t Tier) String() string {
	switch t {
	case TierTags:
		return "tags"
	case TierTopics:
		return "topics"
	case TierOverlap:
		return "overlap"
	case TierRecent:
		return "recent"
	default:
		return "none"
	}
}

// Query is the current turn's extraction result.
type Query struct {
	Tags   TagSet
	Topics TagSet
}

// Result is the outcome of a retrieval.
type Result struct {
	Tier    Tier
	Entries []Entry
}

// Text concatenates the entries in encounter order.
func (r Result) Text() string {
	var b strings.Builder
	for _, e := range r.Entries {
		b.WriteString(e.Text)
	}
	return b.String()
}

// Retrieve selects entries from pool for q. Only the highest non-empty tier
// contributes, and at most its last MaxTierMatches entries. Containment tiers
// need a non-empty query set; an empty query never matches them. When
// fallback is set and no tier matches, the newest entry is returned.
func Retrieve(q Query, pool []Entry, fallback bool) Result {
	tiers := []struct {
		tier  Tier
		match func(Entry) bool
	}{
		{TierTags, func(e Entry) bool { return len(q.Tags) > 0 && e.Tags.ContainsAll(q.Tags) }},
		{TierTopics, func(e Entry) bool { return len(q.Topics) > 0 && e.Topics.ContainsAll(q.Topics) }},
		{TierOverlap, func(e Entry) bool { return e.Tags.Intersects(q.Tags) }},
	}

	for _, tier := range tiers {
		var matched []Entry
		for _, e := range pool {
			if tier.match(e) {
				matched = append(matched, e)
			}
		}
		if len(matched) == 0 {
			continue
		}
		if len(matched) > MaxTierMatches {
			matched = matched[len(matched)-MaxTierMatches:]
		}
		return Result{Tier: tier.tier, Entries: matched}
	}

	if fallback && len(pool) > 0 {
		return Result{Tier: TierRecent, Entries: pool[len(pool)-1:]}
	}
	return Result{Tier: TierNone}
}
