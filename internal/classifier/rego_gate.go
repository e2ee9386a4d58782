package classifier

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

//go:embed policy/permissions.rego
var defaultPermissionsPolicy string

// RegoPermissionGate evaluates gate 4 against a compiled Rego policy instead
// of the literal keyword algorithm, so the allowlist/vault-path decision can
// be externalized and hot-reloaded without a binary redeploy. For identical
// input it decides the same boolean as KeywordPermissionGate.
type RegoPermissionGate struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	dir      string
	watcher  *fsnotify.Watcher
}

// NewRegoPermissionGate compiles the bundled default policy. Call Watch to
// additionally hot-reload from a directory of .rego files.
func NewRegoPermissionGate() (*RegoPermissionGate, error) {
	g := &RegoPermissionGate{}
	if err := g.compile(map[string]string{"permissions.rego": defaultPermissionsPolicy}); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *RegoPermissionGate) compile(files map[string]string) error {
	modules := make(map[string]*ast.Module, len(files))
	for name, content := range files {
		mod, err := ast.ParseModule(name, content)
		if err != nil {
			return fmt.Errorf("parse policy %s: %w", name, err)
		}
		modules[name] = mod
	}

	compiler := ast.NewCompiler()
	compiler.Compile(modules)
	if compiler.Failed() {
		return fmt.Errorf("compile policies: %v", compiler.Errors)
	}

	ctx := context.Background()
	prepared, err := rego.New(
		rego.Query("data.taskctl.permissions.allow"),
		rego.Compiler(compiler),
		rego.Store(nil),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare permissions query: %w", err)
	}

	g.mu.Lock()
	g.prepared = &prepared
	g.mu.Unlock()
	return nil
}

// LoadDir compiles every .rego file under dir, replacing the active policy.
func (g *RegoPermissionGate) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return fmt.Errorf("glob policies: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no policy files found in %s", dir)
	}
	contents := make(map[string]string, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read policy %s: %w", f, err)
		}
		contents[f] = string(data)
	}
	g.dir = dir
	return g.compile(contents)
}

// Watch reloads the policy on any .rego change under dir, debounced by
// 200ms so a burst of filesystem events compiles once.
func (g *RegoPermissionGate) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	g.watcher = watcher

	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				watcher.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(event.Name) != ".rego" {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					if err := g.LoadDir(dir); err != nil {
						slog.Warn("policy reload failed", "error", err)
					} else {
						slog.Info("permissions policy reloaded", "dir", dir)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("policy watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the filesystem watcher, if one was started.
func (g *RegoPermissionGate) Close() error {
	if g.watcher != nil {
		return g.watcher.Close()
	}
	return nil
}

// Check evaluates the compiled policy, translating the keyword-gate's
// surface-level signals (network keyword, allowlist match, vault-relative
// path) into the policy's input document.
func (g *RegoPermissionGate) Check(combinedContent string, cfg Config) (bool, string) {
	networkRequested := containsAny(combinedContent, networkKeywords)
	allowlistMatched := false
	if networkRequested {
		for _, svc := range cfg.ExternalServicesAllowlist {
			if strings.Contains(combinedContent, strings.ToLower(svc)) {
				allowlistMatched = true
				break
			}
		}
	}
	pathOK := true
	if path, found := findAbsolutePath(combinedContent); found {
		pathOK = pathWithinVault(path, cfg.VaultRoot, cfg.VaultWhitelistDirs)
	}

	input := map[string]interface{}{
		"network_requested":  networkRequested,
		"allowlist_matched":  allowlistMatched,
		"path_ok":            pathOK,
	}

	g.mu.RLock()
	prepared := g.prepared
	g.mu.RUnlock()
	if prepared == nil {
		return false, "permissions policy not loaded"
	}

	results, err := prepared.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		return false, "policy evaluation error: " + err.Error()
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "policy returned no decision"
	}
	allow, _ := results[0].Expressions[0].Value.(bool)
	if allow {
		return true, ""
	}
	if networkRequested && !allowlistMatched {
		return false, "network operation requested outside external-services allowlist"
	}
	if !pathOK {
		return false, "path outside vault root"
	}
	return false, "permissions policy denied"
}
