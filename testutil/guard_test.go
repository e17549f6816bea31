package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
}

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"custodyledger/internal/core", true},
		{"custodyledger/pkg/domain", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInfraImportForbiddenPredicate(t *testing.T) {
	if !InfraImportForbidden("custodyledger/internal/infra/blob/s3") {
		t.Fatalf("expected infra path to be forbidden")
	}
	if InfraImportForbidden("custodyledger/internal/blob") {
		t.Fatalf("blob facade must be allowed")
	}
}

func TestOutsideAllowlist(t *testing.T) {
	pred := OutsideAllowlist("custodyledger", "github.com/shopspring/decimal", "github.com/google/uuid")
	cases := []struct {
		in   string
		want bool
	}{
		{"fmt", false},
		{"encoding/json", false},
		{"custodyledger/pkg/domain", false},
		{"github.com/shopspring/decimal", false},
		{"github.com/google/uuid", false},
		{"github.com/redis/go-redis/v9", true},
		{"github.com/shopspring/decimalx", true},
	}
	for _, c := range cases {
		if got := pred(c.in); got != c.want {
			t.Fatalf("OutsideAllowlist(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")
}

func TestDirectImportViolationsReportsMatches(t *testing.T) {
	dir := t.TempDir()
	src := []byte("package tmp\nimport (\n\"fmt\"\n\"custodyledger/internal/core\"\n)\nvar _ = fmt.Sprint\nvar _ = core.Service{}\n")
	if err := os.WriteFile(filepath.Join(dir, "x.go"), src, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package tmp\nimport \"custodyledger/internal/infra\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "custodyledger/internal/core") {
		t.Fatalf("unexpected violations: %v", viols)
	}
}

func TestDirectImportViolationsMissingDir(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestTransitiveViolationsUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\ncustodyledger/internal/infra/blob/fs\n\ncustodyledger/pkg/domain\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", InfraImportForbidden)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(viols) != 1 || viols[0] != "custodyledger/internal/infra/blob/fs" {
		t.Fatalf("unexpected violations: %v", viols)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	if _, out, err := transitiveDependencyViolations("./...", InfraImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list failure to propagate, got %v %q", err, out)
	}
}

func TestFailIfReportsViolations(t *testing.T) {
	rec := &recordingFatal{}
	failIf(rec, "headline", "reason", nil)
	if rec.msg != "" {
		t.Fatalf("expected no failure, got %q", rec.msg)
	}
	failIf(rec, "headline", "reason", []string{"a"})
	if rec.msg == "" {
		t.Fatalf("expected failure to be recorded")
	}
}
