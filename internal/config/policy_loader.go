package config

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/quillcms/quillgate/internal/expr"
)

const inlineSourceName = "inline-config"

// PolicyBundle captures the merged table policies after loading every
// configured source. The metadata explains what was loaded and why certain
// definitions were skipped.
type PolicyBundle struct {
	Policies map[string]TablePolicy
	Sources  []string
	Skipped  []PolicySkip
}

type policyDocument struct {
	Policies map[string]TablePolicy `koanf:"policies"`
}

type policyAggregator struct {
	policies map[string]TablePolicy
	sources  map[string]string
	skips    map[string]*PolicySkip

	seenSources map[string]struct{}
}

func newPolicyAggregator() *policyAggregator {
	return &policyAggregator{
		policies:    make(map[string]TablePolicy),
		sources:     make(map[string]string),
		skips:       make(map[string]*PolicySkip),
		seenSources: make(map[string]struct{}),
	}
}

func (a *policyAggregator) addDocument(doc policyDocument, source string) {
	if source != "" {
		a.seenSources[source] = struct{}{}
	}
	for table, policy := range doc.Policies {
		a.addPolicy(table, policy, source)
	}
}

func (a *policyAggregator) addPolicy(table string, policy TablePolicy, source string) {
	if existing, ok := a.skips[table]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.sources[table]; ok {
		a.recordSkip(table, "duplicate definition", prev, source)
		delete(a.sources, table)
		delete(a.policies, table)
		return
	}
	a.sources[table] = source
	a.policies[table] = policy
}

// validatePredicates quarantines policies whose predicates neither match a
// built-in name nor compile as a CEL expression. Capturing the issue here
// records the offending table in SkippedPolicies so operators get a precise
// diagnosis instead of a runtime denial.
func (a *policyAggregator) validatePredicates(env *expr.Environment) {
	for table, policy := range a.policies {
		if err := validatePolicyPredicates(policy, env); err != nil {
			source := a.sources[table]
			a.recordSkip(table, fmt.Sprintf("invalid predicate: %v", err), source)
			delete(a.sources, table)
			delete(a.policies, table)
		}
	}
}

func (a *policyAggregator) recordSkip(table, reason string, sources ...string) {
	if skip, ok := a.skips[table]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &PolicySkip{
		Table:   table,
		Reason:  reason,
		Sources: []string{},
	}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	a.skips[table] = skip
}

func (a *policyAggregator) bundle() PolicyBundle {
	policies := make(map[string]TablePolicy, len(a.policies))
	for table, policy := range a.policies {
		policies[table] = policy
	}
	skipped := make([]PolicySkip, 0, len(a.skips))
	for _, skip := range a.skips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool {
		return skipped[i].Table < skipped[j].Table
	})
	sources := make([]string, 0, len(a.seenSources))
	for src := range a.seenSources {
		if src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return PolicyBundle{Policies: policies, Sources: sources, Skipped: skipped}
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	if !slices.Contains(list, value) {
		list = append(list, value)
	}
	return list
}

func buildPolicyBundle(ctx context.Context, inline map[string]TablePolicy, policiesCfg PoliciesConfig) (PolicyBundle, error) {
	agg := newPolicyAggregator()
	if len(inline) > 0 {
		agg.addDocument(policyDocument{Policies: inline}, inlineSourceName)
	}

	files, err := collectPolicySources(ctx, policiesCfg)
	if err != nil {
		return PolicyBundle{}, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return PolicyBundle{}, ctx.Err()
		default:
		}
		doc, err := loadPolicyDocument(path)
		if err != nil {
			return PolicyBundle{}, err
		}
		agg.addDocument(doc, path)
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return PolicyBundle{}, err
	}
	agg.validatePredicates(env)
	return agg.bundle(), nil
}

func validatePolicyPredicates(policy TablePolicy, env *expr.Environment) error {
	ops := policy.Operations
	for _, check := range []struct {
		name      string
		predicate string
	}{
		{"operations.read", ops.Read},
		{"operations.create", ops.Create},
		{"operations.update", ops.Update},
		{"operations.delete", ops.Delete},
	} {
		if err := validatePredicate(env, check.name, check.predicate); err != nil {
			return err
		}
	}
	for field, rule := range policy.Fields {
		if err := validatePredicate(env, fmt.Sprintf("fields.%s.read", field), rule.Read); err != nil {
			return err
		}
		if err := validatePredicate(env, fmt.Sprintf("fields.%s.update", field), rule.Update); err != nil {
			return err
		}
	}
	return nil
}

// builtinPredicates are the predicate names resolved without CEL. "false" and
// "true" are accepted as aliases so policy documents read naturally.
var builtinPredicates = map[string]struct{}{
	"":                      {},
	"public":                {},
	"true":                  {},
	"none":                  {},
	"false":                 {},
	"admin":                 {},
	"adminoreditor":         {},
	"adminoreditororapikey": {},
}

// IsBuiltinPredicate reports whether the predicate resolves without compiling
// a CEL expression.
func IsBuiltinPredicate(predicate string) bool {
	_, ok := builtinPredicates[strings.ToLower(strings.TrimSpace(predicate))]
	return ok
}

func validatePredicate(env *expr.Environment, name, predicate string) error {
	if IsBuiltinPredicate(predicate) {
		return nil
	}
	if _, err := env.Compile(predicate); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func collectPolicySources(ctx context.Context, policiesCfg PoliciesConfig) ([]string, error) {
	if policiesCfg.PoliciesFile != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := ensureFileExists(policiesCfg.PoliciesFile); err != nil {
			return nil, err
		}
		return []string{policiesCfg.PoliciesFile}, nil
	}
	if policiesCfg.PoliciesFolder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(policiesCfg.PoliciesFolder)
	if err != nil {
		return nil, fmt.Errorf("config: policies folder %s: %w", policiesCfg.PoliciesFolder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: policies folder %s is not a directory", policiesCfg.PoliciesFolder)
	}
	var files []string
	err = filepath.WalkDir(policiesCfg.PoliciesFolder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedPolicyFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk policies folder %s: %w", policiesCfg.PoliciesFolder, err)
	}
	sort.Strings(files)
	return files, nil
}

func ensureFileExists(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: policies file %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: policies file %s: expected a file, found directory", path)
	}
	return nil
}

func loadPolicyDocument(path string) (policyDocument, error) {
	parser, err := parserFor(path)
	if err != nil {
		return policyDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return policyDocument{}, fmt.Errorf("config: load policies from %s: %w", path, err)
	}
	var doc policyDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return policyDocument{}, fmt.Errorf("config: decode policies from %s: %w", path, err)
	}
	if doc.Policies == nil {
		doc.Policies = make(map[string]TablePolicy)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported policies file extension %s", ext)
	}
}

func isSupportedPolicyFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}

func clonePolicyMap(in map[string]TablePolicy) map[string]TablePolicy {
	if len(in) == 0 {
		return nil
	}
	return maps.Clone(in)
}
