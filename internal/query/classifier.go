package query

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// shape classifies a raw query's apparent form, driving the adaptive
// semantic/lexical fusion weight when the caller doesn't set one
// explicitly (Options.SemanticWeight == 0).
type shape string

const (
	shapeLexical  shape = "lexical"
	shapeSemantic shape = "semantic"
	shapeMixed    shape = "mixed"
)

// weightForShape mirrors fuseWeights' own 0.7/0.3 default for the mixed
// case, and leans harder toward whichever strategy the shape favors.
func weightForShape(s shape) float64 {
	switch s {
	case shapeLexical:
		return 0.15
	case shapeSemantic:
		return 0.80
	default:
		return 0.7
	}
}

var (
	errorCodePattern  = regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)
	quotedPattern     = regexp.MustCompile(`^["'].*["']$`)
	filePathPattern   = regexp.MustCompile(`(?i)^[\w\-./\\]+\.(go|ts|tsx|js|jsx|py|md|json|yaml|yml|toml|html|rs|java|c|cpp|h|rb|sh)$`)
	camelCasePattern  = regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`)
	pascalCasePattern = regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`)
	snakeCasePattern  = regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`)

	naturalLanguagePattern = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|can|does|is|are|should|explain|describe|show|find|list)\s`)
)

func classifyShape(q string) shape {
	q = strings.TrimSpace(q)
	if q == "" {
		return shapeMixed
	}
	if isLexicalShape(q) {
		return shapeLexical
	}
	if naturalLanguagePattern.MatchString(q) {
		return shapeSemantic
	}
	if len(strings.Fields(q)) >= 3 {
		return shapeSemantic
	}
	return shapeMixed
}

func isLexicalShape(q string) bool {
	if errorCodePattern.MatchString(q) || quotedPattern.MatchString(q) || filePathPattern.MatchString(q) {
		return true
	}
	if !strings.Contains(q, " ") {
		return camelCasePattern.MatchString(q) || pascalCasePattern.MatchString(q) || snakeCasePattern.MatchString(q)
	}
	return false
}

// defaultClassifierCacheSize bounds the classifier's query->weight cache.
const defaultClassifierCacheSize = 10000

// classifier picks an adaptive semantic/lexical fusion weight per query,
// caching results since the same query shape is cheap to recompute but
// common queries repeat often enough to be worth memoizing.
type classifier struct {
	cache *lru.Cache[string, float64]
}

func newClassifier() *classifier {
	cache, _ := lru.New[string, float64](defaultClassifierCacheSize)
	return &classifier{cache: cache}
}

func (c *classifier) semanticWeight(rawQuery string) float64 {
	key := strings.ToLower(strings.TrimSpace(rawQuery))
	if key == "" {
		return weightForShape(shapeMixed)
	}
	if w, ok := c.cache.Get(key); ok {
		return w
	}
	w := weightForShape(classifyShape(rawQuery))
	c.cache.Add(key, w)
	return w
}
