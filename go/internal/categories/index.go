package categories

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Entry is one catalog row: a category name and its canonical code within a region.
type Entry struct {
	Region string `yaml:"-"`
	Name   string `yaml:"name"`
	Code   string `yaml:"code"`
}

// Match is a completion returned by Query.
type Match struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type node struct {
	children map[rune]*node
	keys     []rune // sorted child keys, filled in by freeze
	terminal bool
	code     string
}

func newNode() *node {
	return &node{children: make(map[rune]*node)}
}

// Index holds one prefix trie per region. It is read-only after Build and safe for
// concurrent queries.
type Index struct {
	roots map[string]*node
}

// Build constructs the per-region tries from catalog entries.
func Build(catalog []Entry) *Index {
	idx := &Index{roots: make(map[string]*node)}
	for _, e := range catalog {
		root, ok := idx.roots[e.Region]
		if !ok {
			root = newNode()
			idx.roots[e.Region] = root
		}
		cur := root
		for _, r := range strings.ToLower(e.Name) {
			next, ok := cur.children[r]
			if !ok {
				next = newNode()
				cur.children[r] = next
			}
			cur = next
		}
		cur.terminal = true
		cur.code = e.Code
	}
	for _, root := range idx.roots {
		freeze(root)
	}
	return idx
}

func freeze(n *node) {
	n.keys = make([]rune, 0, len(n.children))
	for r, child := range n.children {
		n.keys = append(n.keys, r)
		freeze(child)
	}
	sort.Slice(n.keys, func(i, j int) bool { return n.keys[i] < n.keys[j] })
}

// Regions returns the regions present in the index, sorted.
func (idx *Index) Regions() []string {
	regions := make([]string, 0, len(idx.roots))
	for r := range idx.roots {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// Query returns every entry in region whose lowercase name starts with the lowercase
// prefix. Completions are listed depth-first, children in rune order. Unknown regions
// and prefixes without a path yield an empty result.
func (idx *Index) Query(region, prefix string) []Match {
	cur, ok := idx.roots[region]
	if !ok {
		return []Match{}
	}
	lower := strings.ToLower(prefix)
	for _, r := range lower {
		next, ok := cur.children[r]
		if !ok {
			return []Match{}
		}
		cur = next
	}

	matches := []Match{}
	var walk func(n *node, word []rune)
	walk = func(n *node, word []rune) {
		if n.terminal {
			matches = append(matches, Match{Name: capitalize(string(word)), Code: n.code})
		}
		for _, r := range n.keys {
			walk(n.children[r], append(word, r))
		}
	}
	walk(cur, []rune(lower))
	return matches
}

// Lookup returns the entry in region whose name equals name, ignoring case.
func (idx *Index) Lookup(region, name string) (Match, bool) {
	cur, ok := idx.roots[region]
	if !ok {
		return Match{}, false
	}
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, r := range lower {
		if cur = cur.children[r]; cur == nil {
			return Match{}, false
		}
	}
	if !cur.terminal {
		return Match{}, false
	}
	return Match{Name: capitalize(lower), Code: cur.code}, true
}

// Codes maps category names to their codes in region. Names missing from the
// catalog are passed through lowercased with spaces removed.
func (idx *Index) Codes(region string, names []string) []string {
	codes := make([]string, 0, len(names))
	for _, name := range names {
		if m, ok := idx.Lookup(region, name); ok {
			codes = append(codes, m.Code)
			continue
		}
		codes = append(codes, strings.ToLower(strings.Join(strings.Fields(name), "")))
	}
	return codes
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
