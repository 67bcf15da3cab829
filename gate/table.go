package gate

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class decides how the gate treats a request path.
type Class string

const (
	// Public paths pass through without touching the session.
	Public Class = "public"
	// ProtectedRedirect paths send anonymous browsers to sign-in.
	ProtectedRedirect Class = "protectedRedirect"
	// ProtectedAPI paths answer anonymous callers with 401.
	ProtectedAPI Class = "protectedApi"
	// Unprotected is the class of paths no rule matches.
	Unprotected Class = "unprotected"
)

func ParseClass(s string) (Class, error) {
	switch c := Class(s); c {
	case Public, ProtectedRedirect, ProtectedAPI:
		return c, nil
	}
	return "", fmt.Errorf("unknown route class %q", s)
}

// Rule maps a path pattern to a class. Patterns are exact ("/index.html"),
// subtree ("/v2/*" matches "/v2" and everything below) or path.Match globs ("/*.png").
type Rule struct {
	Pattern string `yaml:"pattern"`
	Class   Class  `yaml:"class"`
}

// Auth endpoints the gate itself serves.
const (
	SignInPath   = "/auth/signin"
	CallbackPath = "/auth/redirect"
	SignOutPath  = "/auth/signout"
	ErrorPath    = "/auth/error"
)

var builtinRules = []Rule{
	{Pattern: SignInPath, Class: Public},
	{Pattern: CallbackPath, Class: Public},
	{Pattern: SignOutPath, Class: Public},
	{Pattern: ErrorPath, Class: Public},
}

// Table is an ordered routing table; the first matching rule wins.
type Table struct {
	rules []Rule
}

// NewTable validates rules and places the auth endpoints ahead of them.
func NewTable(rules ...Rule) (*Table, error) {
	all := make([]Rule, 0, len(builtinRules)+len(rules))
	all = append(all, builtinRules...)
	for _, r := range rules {
		if _, err := ParseClass(string(r.Class)); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Pattern, err)
		}
		if !strings.HasPrefix(r.Pattern, "/") {
			return nil, fmt.Errorf("route %q: pattern must start with /", r.Pattern)
		}
		if _, err := path.Match(r.Pattern, "/"); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Pattern, err)
		}
		all = append(all, r)
	}
	return &Table{rules: all}, nil
}

// FromLists builds a table from per-class pattern lists, in the order public, API, browser.
func FromLists(public, protectedAPI, protectedBrowser []string) (*Table, error) {
	var rules []Rule
	for _, group := range []struct {
		class    Class
		patterns []string
	}{
		{Public, public},
		{ProtectedAPI, protectedAPI},
		{ProtectedRedirect, protectedBrowser},
	} {
		for _, p := range group.patterns {
			rules = append(rules, Rule{Pattern: p, Class: group.class})
		}
	}
	return NewTable(rules...)
}

type tableFile struct {
	Routes []Rule `yaml:"routes"`
}

// LoadFile reads a YAML routing table of the form
//
//	routes:
//	  - pattern: /v2/*
//	    class: protectedApi
func LoadFile(filename string) (*Table, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}
	return NewTable(f.Routes...)
}

// Classify returns the class of the first rule matching urlPath, or Unprotected.
func (t *Table) Classify(urlPath string) Class {
	p := cleanPath(urlPath)
	for _, r := range t.rules {
		if matches(r.Pattern, p) {
			return r.Class
		}
	}
	return Unprotected
}

// Rules returns the effective rules, built-ins first.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

func matches(pattern, p string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return p == prefix || strings.HasPrefix(p, prefix+"/")
	}
	if strings.ContainsAny(pattern, "*?[") {
		ok, _ := path.Match(pattern, p)
		return ok
	}
	return pattern == p
}

// cleanPath resolves dot segments so "/public/../v2/x" is classified as "/v2/x".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

// RoutesConfig is the configuration a table can be built from.
type RoutesConfig interface {
	GetPublicPaths() []string
	GetProtectedAPIPaths() []string
	GetProtectedBrowserPaths() []string
	GetRoutesFile() string
}

// FromConfig loads the YAML routes file when one is configured, otherwise the per-class lists.
func FromConfig(cfg RoutesConfig) (*Table, error) {
	if f := cfg.GetRoutesFile(); f != "" {
		return LoadFile(f)
	}
	return FromLists(cfg.GetPublicPaths(), cfg.GetProtectedAPIPaths(), cfg.GetProtectedBrowserPaths())
}
