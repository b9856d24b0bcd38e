package expr

import (
	"testing"
	"time"
)

func baseVars(role string) map[string]any {
	user := map[string]any{}
	if role != "" {
		user["id"] = "u-1"
		user["role"] = role
	}
	return map[string]any{
		"user":      user,
		"apiKey":    false,
		"table":     "posts",
		"operation": "read",
		"field":     "",
		"now":       time.Now().UTC(),
	}
}

func TestCompileAndEval(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}

	program, err := env.Compile(`hasRole(user, "admin")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ok, err := program.EvalBool(baseVars("admin"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !ok {
		t.Fatal("expected admin to match")
	}

	ok, err = program.EvalBool(baseVars("user"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if ok {
		t.Fatal("expected non-admin to be rejected")
	}
}

func TestHasRoleIgnoresCase(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	program, err := env.Compile(`hasRole(user, "Editor")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ok, err := program.EvalBool(baseVars("EDITOR"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !ok {
		t.Fatal("expected case-insensitive role match")
	}
}

func TestHasRoleMissingRole(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	program, err := env.Compile(`hasRole(user, "admin")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	ok, err := program.EvalBool(baseVars(""))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if ok {
		t.Fatal("expected anonymous user to match no role")
	}
}

func TestCompileRejectsNonBool(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	if _, err := env.Compile(`table`); err == nil {
		t.Fatal("expected string-typed expression to be rejected")
	}
}

func TestCompileRejectsEmpty(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	if _, err := env.Compile("  "); err == nil {
		t.Fatal("expected empty expression to be rejected")
	}
}

func TestCompileRejectsSyntaxError(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	if _, err := env.Compile(`user.role ==`); err == nil {
		t.Fatal("expected syntax error to be rejected")
	}
}

func TestContextVariables(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	program, err := env.Compile(`apiKey || (table == "posts" && operation == "read")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ok, err := program.EvalBool(baseVars("user"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !ok {
		t.Fatal("expected table/operation variables to be visible")
	}
}
