// Package protection decides which folders and data extensions must never be
// deleted automatically.
package protection

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/natserract/sfclean/pkg/patterns"
	"github.com/natserract/sfclean/pkg/resource"
	"gopkg.in/yaml.v3"
)

// DefaultPrefixes are name prefixes used by platform-managed objects.
var DefaultPrefixes = []string{"_", "CASL", "ent."}

// Rules is the on-disk protection file.
//
//	prefixes: ["_", "CASL", "ent."]
//	names: ["Master Subscribers"]
//	keys: ["ALL_SUBSCRIBERS"]
//	patterns: ["^prod_"]
type Rules struct {
	Prefixes []string `yaml:"prefixes"`
	Names    []string `yaml:"names"`
	Keys     []string `yaml:"keys"`
	Patterns []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// DefaultRules protects the platform prefixes only.
func DefaultRules() *Rules {
	return &Rules{Prefixes: append([]string(nil), DefaultPrefixes...)}
}

// Load reads rules from path. An empty path yields DefaultRules. Prefixes
// listed in the file replace the defaults; omitting the key keeps them.
func Load(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protection rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML rules and compiles their patterns.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse protection rules: %w", err)
	}
	if r.Prefixes == nil {
		r.Prefixes = append([]string(nil), DefaultPrefixes...)
	}
	for _, p := range r.Patterns {
		re, err := patterns.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("protection pattern: %w", err)
		}
		r.compiled = append(r.compiled, re)
	}
	return &r, nil
}

// MatchName checks a bare name against prefixes, names and patterns.
func (r *Rules) MatchName(name string) (bool, string) {
	lower := strings.ToLower(name)
	for _, p := range r.Prefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true, fmt.Sprintf("name starts with protected prefix %q", p)
		}
	}
	for _, n := range r.Names {
		if strings.EqualFold(n, name) {
			return true, "name is on the protected list"
		}
	}
	for i, re := range r.compiled {
		if re.MatchString(name) {
			return true, fmt.Sprintf("name matches protected pattern %q", r.Patterns[i])
		}
	}
	return false, ""
}

// Match reports whether c is protected and why.
func (r *Rules) Match(c resource.Container) (bool, string) {
	if c.IsProtected {
		return true, "marked undeletable by the platform"
	}
	for _, k := range r.Keys {
		if k == c.CustomerKey {
			return true, "customer key is on the protected list"
		}
	}
	return r.MatchName(c.Name)
}

// MatchFolder reports whether n is protected and why.
func (r *Rules) MatchFolder(n resource.Node) (bool, string) {
	if n.IsProtected {
		return true, "system folder"
	}
	return r.MatchName(n.Name)
}
