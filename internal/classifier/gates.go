package classifier

import (
	"path/filepath"
	"regexp"
	"strings"
)

// credentialKeywords is the closed keyword set backing gate 2.
var credentialKeywords = []string{
	"password", "secret", "token", "api_key", "api-key", "credential",
	"auth", "oauth", "private_key", "access_key", "ssh", "certificate",
	".pem", ".key", ".env",
}

// nondeterministicKeywords is the closed keyword set backing gate 3.
var nondeterministicKeywords = []string{
	"api call", "http request", "download", "upload", "send email",
	"network", "external service", "database", "deploy", "install",
}

// networkKeywords is the closed keyword set backing gate 4.
var networkKeywords = []string{
	"http", "https", "api", "curl", "wget", "fetch", "request",
	"endpoint", "webhook", "socket",
}

var absolutePathPattern = regexp.MustCompile(`(^|\s)(/[\w./-]+)`)

// PermissionGate decides gate 4 (Permissions). KeywordPermissionGate is the
// spec's literal algorithm; RegoPermissionGate is an externally-policy-driven
// alternative that must agree with it on the same input.
type PermissionGate interface {
	Check(combinedContent string, cfg Config) (ok bool, reason string)
}

// KeywordPermissionGate implements the spec's allowlist/vault-path check
// directly.
type KeywordPermissionGate struct{}

// Check reports whether combinedContent passes the permissions gate.
func (KeywordPermissionGate) Check(combinedContent string, cfg Config) (bool, string) {
	if containsAny(combinedContent, networkKeywords) {
		if len(cfg.ExternalServicesAllowlist) == 0 {
			return false, "network operation requested with empty external-services allowlist"
		}
		allowed := false
		for _, svc := range cfg.ExternalServicesAllowlist {
			if strings.Contains(combinedContent, strings.ToLower(svc)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false, "network operation requested outside external-services allowlist"
		}
	}

	if path, found := findAbsolutePath(combinedContent); found {
		if !pathWithinVault(path, cfg.VaultRoot, cfg.VaultWhitelistDirs) {
			return false, "path outside vault root: " + path
		}
	}

	return true, ""
}

func findAbsolutePath(content string) (string, bool) {
	m := absolutePathPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[2]), true
}

func pathWithinVault(path, vaultRoot string, whitelist []string) bool {
	if vaultRoot == "" {
		return false
	}
	cleanPath := filepath.Clean(path)
	cleanRoot := filepath.Clean(vaultRoot)
	if cleanPath == cleanRoot || strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator)) {
		return true
	}
	for _, w := range whitelist {
		wp := filepath.Clean(filepath.Join(vaultRoot, w))
		if cleanPath == wp || strings.HasPrefix(cleanPath, wp+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
