package access

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quillcms/quillgate/internal/config"
	"github.com/quillcms/quillgate/internal/expr"
)

// Operation names the table operations a policy can gate.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// predicate decides one operation or field rule for a caller.
type predicate func(Caller, Operation, string, string) bool

type fieldRules struct {
	read   predicate
	update predicate
}

type tableRules struct {
	operations map[Operation]predicate
	fields     map[string]fieldRules
}

// Evaluator answers per-table, per-operation (and per-field) authorization
// questions. Policies are compiled once per load and swapped atomically on
// reload, so evaluation never blocks on parsing.
type Evaluator struct {
	logger *slog.Logger

	mu     sync.RWMutex
	tables map[string]tableRules
}

// NewEvaluator compiles the supplied policies. Predicates were already
// validated by the config loader; compile errors here mean the bundle was
// assembled outside the loader and are returned rather than swallowed.
func NewEvaluator(logger *slog.Logger, policies map[string]config.TablePolicy) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger.With(slog.String("component", "access"))}
	if err := e.Reload(policies); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload swaps the compiled policy set. Used by the policy watcher on
// configuration changes.
func (e *Evaluator) Reload(policies map[string]config.TablePolicy) error {
	env, err := expr.NewEnvironment()
	if err != nil {
		return err
	}
	tables := make(map[string]tableRules, len(policies))
	for name, policy := range policies {
		compiled, err := compileTable(env, policy)
		if err != nil {
			return fmt.Errorf("access: table %s: %w", name, err)
		}
		tables[name] = compiled
	}
	e.mu.Lock()
	e.tables = tables
	e.mu.Unlock()
	e.logger.Debug("policies loaded", slog.Int("tables", len(tables)))
	return nil
}

// CanPerform decides whether the caller may run the operation against the
// table. Unknown tables fail closed.
func (e *Evaluator) CanPerform(table string, op Operation, caller Caller) bool {
	e.mu.RLock()
	rules, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	pred, ok := rules.operations[op]
	if !ok {
		return false
	}
	return pred(caller, op, table, "")
}

// CanWriteField layers field-level update rules on top of the operation rule.
// A field without an explicit rule inherits the operation-level decision.
func (e *Evaluator) CanWriteField(table string, op Operation, caller Caller, field string) bool {
	if !e.CanPerform(table, op, caller) {
		return false
	}
	e.mu.RLock()
	rules, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	fr, ok := rules.fields[field]
	if !ok || fr.update == nil {
		return true
	}
	return fr.update(caller, op, table, field)
}

// CanReadField mirrors CanWriteField for read access.
func (e *Evaluator) CanReadField(table string, caller Caller, field string) bool {
	if !e.CanPerform(table, OpRead, caller) {
		return false
	}
	e.mu.RLock()
	rules, ok := e.tables[table]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	fr, ok := rules.fields[field]
	if !ok || fr.read == nil {
		return true
	}
	return fr.read(caller, OpRead, table, field)
}

// Tables lists the known table names, for health reporting.
func (e *Evaluator) Tables() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	return names
}

func compileTable(env *expr.Environment, policy config.TablePolicy) (tableRules, error) {
	rules := tableRules{
		operations: make(map[Operation]predicate, 4),
		fields:     make(map[string]fieldRules, len(policy.Fields)),
	}
	for op, source := range map[Operation]string{
		OpRead:   policy.Operations.Read,
		OpCreate: policy.Operations.Create,
		OpUpdate: policy.Operations.Update,
		OpDelete: policy.Operations.Delete,
	} {
		pred, err := compilePredicate(env, source, false)
		if err != nil {
			return tableRules{}, fmt.Errorf("operations.%s: %w", op, err)
		}
		rules.operations[op] = pred
	}
	for field, fp := range policy.Fields {
		var fr fieldRules
		if fp.Read != "" {
			pred, err := compilePredicate(env, fp.Read, true)
			if err != nil {
				return tableRules{}, fmt.Errorf("fields.%s.read: %w", field, err)
			}
			fr.read = pred
		}
		if fp.Update != "" {
			pred, err := compilePredicate(env, fp.Update, true)
			if err != nil {
				return tableRules{}, fmt.Errorf("fields.%s.update: %w", field, err)
			}
			fr.update = pred
		}
		rules.fields[field] = fr
	}
	return rules, nil
}

// compilePredicate maps a predicate string to a decision function. Built-in
// names avoid CEL entirely; anything else compiles as a CEL expression over
// the caller context. An empty operation-level predicate fails closed; field
// rules never reach here empty (empty means inherit).
func compilePredicate(env *expr.Environment, source string, field bool) (predicate, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "":
		if field {
			return nil, fmt.Errorf("empty predicate")
		}
		return func(Caller, Operation, string, string) bool { return false }, nil
	case "public", "true":
		return func(Caller, Operation, string, string) bool { return true }, nil
	case "none", "false":
		return func(Caller, Operation, string, string) bool { return false }, nil
	case "admin":
		return func(c Caller, _ Operation, _, _ string) bool { return IsAdmin(c) }, nil
	case "adminoreditor":
		return func(c Caller, _ Operation, _, _ string) bool { return IsAdminOrEditor(c) }, nil
	case "adminoreditororapikey":
		return func(c Caller, _ Operation, _, _ string) bool { return IsAdminOrEditorOrAPIKey(c) }, nil
	}
	program, err := env.Compile(source)
	if err != nil {
		return nil, err
	}
	return func(c Caller, op Operation, table, field string) bool {
		userVars := map[string]any{}
		if c.User != nil {
			userVars["id"] = c.User.ID
			userVars["role"] = c.User.Role
		}
		ok, err := program.EvalBool(map[string]any{
			"user":      userVars,
			"apiKey":    c.APIKey,
			"table":     table,
			"operation": string(op),
			"field":     field,
			"now":       time.Now().UTC(),
		})
		if err != nil {
			// Evaluation faults deny rather than grant.
			return false
		}
		return ok
	}, nil
}
