// Package verify checks one project-level structural invariant: every
// package under pkg/ is reachable from non-test code. A package that
// compiles and passes its own tests but is never imported is dead code.
//
// Run: go test -run TestNoDeadPackages .
package config_store_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/txn2/config-store"

func TestNoDeadPackages(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	// Every directory under pkg/ with non-test Go sources is a package
	// that must be imported somewhere.
	packages := map[string]bool{}
	err = filepath.Walk(filepath.Join(root, "pkg"), func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil || !info.IsDir() {
			return walkErr
		}
		if hasGoSource(t, path) {
			rel, relErr := filepath.Rel(root, path)
			require.NoError(t, relErr)
			packages[modulePath+"/"+filepath.ToSlash(rel)] = false
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, packages)

	importRe := regexp.MustCompile(`"(` + regexp.QuoteMeta(modulePath) + `/[^"]+)"`)
	for _, dir := range []string{"pkg", "cmd"} {
		err = filepath.Walk(filepath.Join(root, dir), func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil || info.IsDir() {
				return walkErr
			}
			if !strings.HasSuffix(info.Name(), ".go") || strings.HasSuffix(info.Name(), "_test.go") {
				return nil
			}
			content, readErr := os.ReadFile(path) //nolint:gosec // test reads source files
			require.NoError(t, readErr)
			for _, match := range importRe.FindAllStringSubmatch(string(content), -1) {
				if _, ok := packages[match[1]]; ok {
					packages[match[1]] = true
				}
			}
			return nil
		})
		require.NoError(t, err)
	}

	for pkg, imported := range packages {
		assert.True(t, imported,
			"package %q is never imported by non-test code; wire it into the service or delete it", pkg)
	}
}

func hasGoSource(t *testing.T, dir string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".go") && !strings.HasSuffix(e.Name(), "_test.go") {
			return true
		}
	}
	return false
}
