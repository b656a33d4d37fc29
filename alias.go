package main

import "strings"

// Alias maps an informal term to a canonical topic name.
type Alias struct {
	Term      string
	Canonical string
}

// AliasTable is applied in order; each alias sees the output of the previous one.
type AliasTable []Alias

// DefaultAliases is the built-in alias table.
var DefaultAliases = AliasTable{
	{Term: "sugar", Canonical: "diabetes"},
	{Term: "bp", Canonical: "hypertension"},
	{Term: "flu", Canonical: "influenza"},
	{Term: "chickenpox", Canonical: "chicken pox"},
}

// Resolve rewrites the first occurrence of every alias term found in the
// normalized query. Matching is plain substring matching, so a term inside a
// longer word is rewritten too.
func (t AliasTable) Resolve(query string) string {
	q := normalizeKey(query)
	for _, a := range t {
		if a.Term != "" && strings.Contains(q, a.Term) {
			q = strings.Replace(q, a.Term, a.Canonical, 1)
		}
	}
	return q
}
