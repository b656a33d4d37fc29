package main

import (
	"strings"
	"unicode/utf8"
)

// minSubstringKeyLen is the length a topic name must exceed to take part in
// substring matching.
const minSubstringKeyLen = 3

// TopicMatcher resolves free-text queries to knowledge base topics.
type TopicMatcher struct {
	kb      *KnowledgeBase
	aliases AliasTable
}

func NewTopicMatcher(kb *KnowledgeBase, aliases AliasTable) *TopicMatcher {
	return &TopicMatcher{kb: kb, aliases: aliases}
}

// Match finds the topic for a query.
// Matching order:
//  1. Alias rewriting
//  2. Exact topic name
//  3. First topic, in knowledge base order, whose name is longer than three
//     characters and either contains or is contained in the query
func (m *TopicMatcher) Match(query string) (MatchResult, bool) {
	q := m.aliases.Resolve(query)
	if q == "" {
		return MatchResult{}, false
	}

	if t, ok := m.kb.Get(q); ok {
		return MatchResult{Topic: t, Query: q, MatchType: matchExact}, true
	}

	for el := m.kb.topics.Front(); el != nil; el = el.Next() {
		name := el.Key
		if utf8.RuneCountInString(name) <= minSubstringKeyLen {
			continue
		}
		if strings.Contains(q, name) || strings.Contains(name, q) {
			return MatchResult{Topic: el.Value.clone(), Query: q, MatchType: matchSubstring}, true
		}
	}

	return MatchResult{}, false
}
