// Package memory implements the bot's two memory pools and the tiered
// retrieval policy over them.
//
// Self memory is a fixed list of persona facts. User memory accumulates one
// entry per completed turn, kept separately for every (correspondent,
// scenario) pair. Each entry carries the entity tags and topic categories
// extracted from its text; retrieval compares those sets against the
// current turn's.
package memory

import (
	"encoding/json"
	"sort"
)

// TagSet is an unordered set of strings. It encodes to JSON as a sorted array.
type TagSet map[string]struct{}

// NewTagSet returns a set holding tags. Empty strings are dropped.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s.Add(t)
	}
	return s
}

// Add inserts tag unless it is empty.
func (s TagSet) Add(tag string) {
	if tag != "" {
		s[tag] = struct{}{}
	}
}

// Has reports membership.
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Sorted returns the members in lexical order.
func (s TagSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ContainsAll reports whether every member of other is in s.
func (s TagSet) ContainsAll(other TagSet) bool {
	for t := range other {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// Intersects reports whether s and other share a member.
func (s TagSet) Intersects(other TagSet) bool {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	for t := range small {
		if large.Has(t) {
			return true
		}
	}
	return false
}

// Equal reports whether both sets hold the same members.
func (s TagSet) Equal(other TagSet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*s = NewTagSet(tags...)
	return nil
}

// Entry is one remembered piece of text with the tags extracted from it.
type Entry struct {
	Text string `json:"text"`
	// Tags are the extracted entity strings.
	Tags TagSet `json:"tags"`
	// Topics are the schema categories those entities were found under.
	Topics TagSet `json:"topics"`
}

// NewEntry builds an entry, replacing nil sets with empty ones.
func NewEntry(text string, tags, topics TagSet) Entry {
	if tags == nil {
		tags = TagSet{}
	}
	if topics == nil {
		topics = TagSet{}
	}
	return Entry{Text: text, Tags: tags, Topics: topics}
}
