package main

import (
	"strings"

	"github.com/elliotchance/orderedmap/v3"
	"golang.org/x/text/unicode/norm"
)

// KnowledgeBase maps topic names to topics. Iteration follows insertion
// order: description rows first, then precaution-only topics, each in file
// order. The topic matcher relies on that order for its first-match rule.
type KnowledgeBase struct {
	topics *orderedmap.OrderedMap[string, *Topic]
}

func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{topics: orderedmap.NewOrderedMap[string, *Topic]()}
}

// BuildKnowledgeBase parses the description and precaution datasets and
// merges them by topic name. Descriptions are always applied first.
func BuildKnowledgeBase(descriptions, precautions string) *KnowledgeBase {
	kb := NewKnowledgeBase()
	for _, cols := range dataRows(descriptions) {
		kb.entry(cols[0]).Description = cols[1]
	}
	for _, cols := range dataRows(precautions) {
		precs := make([]string, 0, len(cols)-1)
		for _, p := range cols[1:] {
			if p != "" {
				precs = append(precs, p)
			}
		}
		kb.entry(cols[0]).Precautions = precs
	}
	return kb
}

// entry returns the topic for name, creating it with defaults if needed.
func (kb *KnowledgeBase) entry(name string) *Topic {
	key := normalizeKey(name)
	if t, ok := kb.topics.Get(key); ok {
		return t
	}
	t := &Topic{Name: key, Description: noDescription, Precautions: []string{}}
	kb.topics.Set(key, t)
	return t
}

// Len returns the number of topics.
func (kb *KnowledgeBase) Len() int { return kb.topics.Len() }

// Get returns a copy of the topic stored under name.
func (kb *KnowledgeBase) Get(name string) (Topic, bool) {
	t, ok := kb.topics.Get(name)
	if !ok {
		return Topic{}, false
	}
	return t.clone(), true
}

// Names returns topic names in insertion order.
func (kb *KnowledgeBase) Names() []string {
	names := make([]string, 0, kb.topics.Len())
	for el := kb.topics.Front(); el != nil; el = el.Next() {
		names = append(names, el.Key)
	}
	return names
}

func (t *Topic) clone() Topic {
	c := *t
	c.Precautions = append([]string(nil), t.Precautions...)
	return c
}

// dataRows splits raw delimited text into rows of fields, skipping the
// header line, blank lines and rows with fewer than two fields.
func dataRows(raw string) [][]string {
	lines := strings.Split(raw, "\n")
	rows := make([][]string, 0, len(lines))
	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		cols := splitFields(line)
		if len(cols) < 2 || normalizeKey(cols[0]) == "" {
			continue
		}
		rows = append(rows, cols)
	}
	return rows
}

// splitFields splits one line on commas that are outside double quotes.
// Quotes are not escaped; each quote simply toggles the in-quote state.
func splitFields(line string) []string {
	var fields []string
	inQuote := false
	start := 0
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				fields = append(fields, cleanField(line[start:i]))
				start = i + 1
			}
		}
	}
	return append(fields, cleanField(line[start:]))
}

func cleanField(f string) string {
	f = strings.TrimSpace(f)
	f = strings.TrimPrefix(f, `"`)
	f = strings.TrimSuffix(f, `"`)
	return strings.TrimSpace(f)
}

// normalizeKey lowercases and trims s after unicode NFC normalization.
func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}
