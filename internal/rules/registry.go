package rules

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

var (
	ErrUnknownRule    = errors.New("unknown rule code")
	ErrUnknownRuleset = errors.New("unknown ruleset")
)

// Registry is the set of rules of one ruleset version.
type Registry struct {
	version string
	mu      sync.RWMutex
	rules   map[string]Rule
}

// NewRegistry returns an empty registry for a ruleset version.
func NewRegistry(version string) *Registry {
	return &Registry{version: version, rules: make(map[string]Rule)}
}

// Version returns the ruleset version, e.g. "2024".
func (r *Registry) Version() string { return r.version }

// Register adds a rule.
// Panics if the code is empty or already registered, or the rule has no Func.
func (r *Registry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rule.Code == "" {
		panic("rule registered without a code")
	}
	if rule.Func == nil {
		panic(fmt.Sprintf("rule %s registered without a func", rule.Code))
	}
	if _, exists := r.rules[rule.Code]; exists {
		panic(fmt.Sprintf("rule already registered in %s: %s", r.version, rule.Code))
	}
	r.rules[rule.Code] = rule
}

// Get returns a rule by code.
func (r *Registry) Get(code string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[code]
	return rule, ok
}

// Len returns the number of rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Rules returns every rule, ordered by code.
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return CodeLess(out[i].Code, out[j].Code) })
	return out
}

// Filter returns the named rules in code order. An empty list selects every
// rule. Unknown codes are an error.
func (r *Registry) Filter(codes []string) ([]Rule, error) {
	if len(codes) == 0 {
		return r.Rules(), nil
	}
	want := make(map[string]bool, len(codes))
	var unknown []string
	for _, c := range codes {
		if _, ok := r.Get(c); !ok {
			unknown = append(unknown, c)
		}
		want[c] = true
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w in ruleset %s: %s", ErrUnknownRule, r.version, strings.Join(unknown, ", "))
	}

	var out []Rule
	for _, rule := range r.Rules() {
		if want[rule.Code] {
			out = append(out, rule)
		}
	}
	return out, nil
}

// Extend returns a new registry for version holding every rule of r. Later
// rulesets build on earlier ones this way.
func (r *Registry) Extend(version string) *Registry {
	next := NewRegistry(version)
	for _, rule := range r.Rules() {
		next.Register(rule)
	}
	return next
}

// CodeLess orders rule codes by their leading number, then lexically, so
// "101" sorts before "1001" and "392c" after "392".
func CodeLess(a, b string) bool {
	na, ra := splitCode(a)
	nb, rb := splitCode(b)
	switch {
	case na >= 0 && nb >= 0 && na != nb:
		return na < nb
	case na >= 0 && nb < 0:
		return true
	case na < 0 && nb >= 0:
		return false
	}
	if ra != rb {
		return ra < rb
	}
	return a < b
}

func splitCode(code string) (int, string) {
	i := strings.IndexFunc(code, func(r rune) bool { return !unicode.IsDigit(r) })
	if i == -1 {
		i = len(code)
	}
	if i == 0 {
		return -1, code
	}
	n, err := strconv.Atoi(code[:i])
	if err != nil {
		return -1, code
	}
	return n, code[i:]
}

var (
	rulesets   = make(map[string]*Registry)
	rulesetsMu sync.RWMutex
)

// AddRegistry makes a registry selectable by version.
// Panics if the version is already registered.
func AddRegistry(r *Registry) {
	rulesetsMu.Lock()
	defer rulesetsMu.Unlock()

	if _, exists := rulesets[r.version]; exists {
		panic(fmt.Sprintf("ruleset already registered: %s", r.version))
	}
	rulesets[r.version] = r
}

// Ruleset returns the registry for a version.
func Ruleset(version string) (*Registry, error) {
	rulesetsMu.RLock()
	defer rulesetsMu.RUnlock()

	r, ok := rulesets[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleset, version)
	}
	return r, nil
}

// Versions returns the registered ruleset versions, sorted.
func Versions() []string {
	rulesetsMu.RLock()
	defer rulesetsMu.RUnlock()

	out := make([]string, 0, len(rulesets))
	for v := range rulesets {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
