// Package taxonomy resolves an RMS item's (familia, categoria,
// extendedCategory) triple into a commerce taxonomy id / product type /
// vendor (§4.8). The static table is an in-process Go map, the same
// pull-the-small-fixed-table-into-process idiom the teacher uses for its
// document-type and account-type lookups (internal/core/rule_engine.go),
// since this set of categories is maintained by this engine, not queried
// from RMS.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Resolution is TaxonomyResolver's output (§4.8).
type Resolution struct {
	TaxonomyID  string
	ProductType string
	Vendor      string
}

// Miscellaneous is the terminal fallback when nothing else matches.
var Miscellaneous = Resolution{ProductType: "Miscellaneous"}

// Field weights for the token-scored fallback: extendedCategory is the
// most specific signal, familia the least.
const (
	weightFamilia          = 1
	weightCategoria         = 2
	weightExtendedCategory = 3
)

// tableEntry is one row of the static (familia, categoria) table plus the
// token set the fallback scorer matches against.
type tableEntry struct {
	Familia          string
	Categoria        string
	ExtendedCategory string
	Tokens           map[string]bool
	Resolution       Resolution
}

// staticTable is keyed by normalized "familia|categoria" for the exact
// lookup (§4.8 step 1); entries double as fallback-scoring candidates.
var staticTable = buildStaticTable([]tableEntry{
	{Familia: "camisetas", Categoria: "ropa", ExtendedCategory: "ropa hombre",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/apparel/tshirts", ProductType: "T-Shirts", Vendor: "Camisetas"}},
	{Familia: "pantalones", Categoria: "ropa", ExtendedCategory: "ropa hombre",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/apparel/pants", ProductType: "Pants", Vendor: "Pantalones"}},
	{Familia: "vestidos", Categoria: "ropa", ExtendedCategory: "ropa mujer",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/apparel/dresses", ProductType: "Dresses", Vendor: "Vestidos"}},
	{Familia: "zapatos", Categoria: "calzado", ExtendedCategory: "calzado hombre",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/footwear/shoes", ProductType: "Shoes", Vendor: "Zapatos"}},
	{Familia: "tenis", Categoria: "calzado", ExtendedCategory: "calzado deportivo",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/footwear/sneakers", ProductType: "Sneakers", Vendor: "Tenis"}},
	{Familia: "bolsos", Categoria: "accesorios", ExtendedCategory: "accesorios mujer",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/accessories/bags", ProductType: "Bags", Vendor: "Bolsos"}},
	{Familia: "cinturones", Categoria: "accesorios", ExtendedCategory: "accesorios hombre",
		Resolution: Resolution{TaxonomyID: "gid://taxonomy/accessories/belts", ProductType: "Belts", Vendor: "Cinturones"}},
})

// familyFallbackTable is the family-level fallback (§4.8 step 3): keyed
// by normalized familia alone, used once the token-scored match misses.
var familyFallbackTable = map[string]Resolution{
	"zapatos": {ProductType: "Footwear/Other", Vendor: "Zapatos"},
	"tenis":   {ProductType: "Footwear/Other", Vendor: "Tenis"},
	"bolsos":  {ProductType: "Accessories/Other", Vendor: "Bolsos"},
}

func buildStaticTable(entries []tableEntry) map[string]tableEntry {
	m := make(map[string]tableEntry, len(entries))
	for _, e := range entries {
		e.Tokens = tokenize(e.Familia, e.Categoria, e.ExtendedCategory)
		m[exactKey(e.Familia, e.Categoria)] = e
	}
	return m
}

func exactKey(familia, categoria string) string {
	return fold(familia) + "|" + fold(categoria)
}

// Tmin is the minimum token-overlap score the fallback match requires
// before it trusts a candidate over family-level/terminal fallback.
const Tmin = 2

// cacheEntry pairs a Resolution with its own expiry, since golang-lru/v2
// has no built-in TTL eviction.
type cacheEntry struct {
	resolution Resolution
	expiresAt  time.Time
}

// Resolver is the TaxonomyResolver of §4.8.
type Resolver struct {
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	now   func() time.Time
}

// NewResolver builds a Resolver backed by an LRU of the given size with
// entries expiring after ttl (§4.8: "cached (LRU, size Ctax, TTL 1
// hour)").
func NewResolver(cacheSize int, ttl time.Duration) (*Resolver, error) {
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("build taxonomy cache: %w", err)
	}
	return &Resolver{cache: cache, ttl: ttl, now: time.Now}, nil
}

// Resolve maps (familia, categoria, extendedCategory) to a Resolution,
// trying each rule of §4.8 in order and caching the final answer.
func (r *Resolver) Resolve(familia, categoria, extendedCategory string) Resolution {
	key := fold(familia) + "|" + fold(categoria) + "|" + fold(extendedCategory)

	if e, ok := r.cache.Get(key); ok {
		if r.now().Before(e.expiresAt) {
			return e.resolution
		}
		r.cache.Remove(key)
	}

	res := resolveUncached(familia, categoria, extendedCategory)
	r.cache.Add(key, cacheEntry{resolution: res, expiresAt: r.now().Add(r.ttl)})
	return res
}

func resolveUncached(familia, categoria, extendedCategory string) Resolution {
	if e, ok := staticTable[exactKey(familia, categoria)]; ok {
		return e.Resolution
	}

	if res, ok := tokenScoredMatch(familia, categoria, extendedCategory); ok {
		return res
	}

	if res, ok := familyFallbackTable[fold(familia)]; ok {
		return res
	}

	miscellaneous := Miscellaneous
	if familia != "" {
		miscellaneous.Vendor = familia
	}
	return miscellaneous
}

// tokenScoredMatch implements §4.8 step 2: tokenize, score each candidate
// by weighted term overlap, accept the best if it clears Tmin, breaking
// ties by longest extendedCategory prefix then alphabetically by key.
func tokenScoredMatch(familia, categoria, extendedCategory string) (Resolution, bool) {
	input := tokenizeWeighted(familia, categoria, extendedCategory)

	type scored struct {
		key   string
		entry tableEntry
		score int
	}
	var candidates []scored
	for key, e := range staticTable {
		score := 0
		for tok, weight := range input {
			if e.Tokens[tok] {
				score += weight
			}
		}
		if score >= Tmin {
			candidates = append(candidates, scored{key: key, entry: e, score: score})
		}
	}
	if len(candidates) == 0 {
		return Resolution{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		pi := commonPrefixLen(fold(extendedCategory), fold(candidates[i].entry.ExtendedCategory))
		pj := commonPrefixLen(fold(extendedCategory), fold(candidates[j].entry.ExtendedCategory))
		if pi != pj {
			return pi > pj
		}
		return candidates[i].key < candidates[j].key
	})
	return candidates[0].entry.Resolution, true
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// tokenize lowercases, accent-folds, and splits familia/categoria/
// extendedCategory into a set of distinct tokens, used to build a static
// entry's match set.
func tokenize(fields ...string) map[string]bool {
	set := make(map[string]bool)
	for _, f := range fields {
		for _, tok := range strings.Fields(fold(f)) {
			set[tok] = true
		}
	}
	return set
}

// tokenizeWeighted is tokenize, but keeps the highest field weight seen
// per token for the overlap score (§4.8 "term frequency × field
// weight").
func tokenizeWeighted(familia, categoria, extendedCategory string) map[string]int {
	weighted := make(map[string]int)
	apply := func(field string, weight int) {
		for _, tok := range strings.Fields(fold(field)) {
			if weighted[tok] < weight {
				weighted[tok] = weight
			}
		}
	}
	apply(familia, weightFamilia)
	apply(categoria, weightCategoria)
	apply(extendedCategory, weightExtendedCategory)
	return weighted
}

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases and strips diacritics so "Camisetas"/"CAMISETAS"/
// "camisétas" all key the same table entry.
func fold(s string) string {
	folded, _, err := transform.String(stripAccents, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return folded
}
