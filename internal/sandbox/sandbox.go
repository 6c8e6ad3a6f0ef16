// Package sandbox implements the stateless policy evaluator that decides
// whether a file, shell, or network operation may proceed, needs human
// approval, or is denied outright.
package sandbox

import (
	"net/url"
	"path/filepath"
	"strings"
)

// Verdict is the outcome of a policy check.
type Verdict string

const (
	Allowed          Verdict = "allowed"
	RequiresApproval Verdict = "requires_approval"
	Denied           Verdict = "denied"
)

// ViolationKind enumerates machine-readable reasons behind a non-Allowed
// Decision, so callers (and the model, via a ToolResult) can react
// programmatically instead of parsing free text.
type ViolationKind string

const (
	DeniedPath        ViolationKind = "DENIED_PATH"
	OutsideWorkspace  ViolationKind = "OUTSIDE_WORKSPACE"
	FileSizeExceeded  ViolationKind = "FILE_SIZE_EXCEEDED"
	DangerousCommand  ViolationKind = "DANGEROUS_COMMAND"
	NotInWhitelist    ViolationKind = "NOT_IN_WHITELIST"
	DangerousRedirect ViolationKind = "DANGEROUS_REDIRECT"
	NetworkAccess     ViolationKind = "NETWORK_ACCESS"
	DeniedDomain      ViolationKind = "DENIED_DOMAIN"
)

// Decision is the result of evaluating an operation against a Policy.
type Decision struct {
	Verdict   Verdict
	Violation ViolationKind
	Reason    string
}

func allow() Decision { return Decision{Verdict: Allowed} }

func deny(kind ViolationKind, reason string) Decision {
	return Decision{Verdict: Denied, Violation: kind, Reason: reason}
}

func needsApproval(kind ViolationKind, reason string) Decision {
	return Decision{Verdict: RequiresApproval, Violation: kind, Reason: reason}
}

// FileOp identifies the kind of filesystem access being validated.
type FileOp string

const (
	FileRead   FileOp = "read"
	FileWrite  FileOp = "write"
	FileDelete FileOp = "delete"
)

// Policy is the validated, immutable set of rules a Validator evaluates
// against. It carries no behavior of its own; Validator functions are pure
// given a Policy and an operand.
type Policy struct {
	// Disabled, when true, makes every Check* call return Allowed
	// unconditionally (the sandbox is globally off).
	Disabled bool

	// WorkspaceRoot is the absolute path all relative file operations are
	// resolved against.
	WorkspaceRoot string

	// DeniedPathGlobs are glob patterns (matched against the cleaned path
	// as given, and against its base name) that always deny, for any FileOp.
	DeniedPathGlobs []string

	// AllowedOutsideWorkspace is a list of absolute path prefixes that are
	// permitted for write/delete even though they fall outside
	// WorkspaceRoot, without requiring approval.
	AllowedOutsideWorkspace []string

	// MaxFileSizeBytes caps write size; zero means unbounded.
	MaxFileSizeBytes int64

	// DangerousCommandMode, when false, activates DangerousPatterns
	// checking for shell commands. When true, dangerous-pattern checks are
	// skipped (the caller has opted into a more permissive "dangerous
	// command" mode, e.g. inside an isolated sandbox).
	DangerousCommandMode bool

	// DangerousPatterns are substrings that make a shell command denied
	// when DangerousCommandMode is false.
	DangerousPatterns []string

	// CommandWhitelist, if non-empty, requires a shell command's first bare
	// token to appear in this list or the command requires approval.
	CommandWhitelist []string

	// ExternalAccessDisabled, when true, makes every network URL require
	// approval.
	ExternalAccessDisabled bool

	// DeniedDomains are hostnames (exact match) that are always denied for
	// network access.
	DeniedDomains []string
}

// dangerousRedirectPrefixes are target directories a shell redirect must
// never write into.
var dangerousRedirectPrefixes = []string{"/dev/", "/etc/", "/usr/", "/System/"}

// Validator evaluates operations against a Policy. It holds no mutable
// state; every method is a pure function of its arguments.
type Validator struct{}

// NewValidator returns a ready-to-use Validator.
func NewValidator() *Validator { return &Validator{} }

// CheckPath evaluates a filesystem operation.
func (v *Validator) CheckPath(policy Policy, op FileOp, path string) Decision {
	if policy.Disabled {
		return allow()
	}

	clean := filepath.Clean(path)
	for _, glob := range policy.DeniedPathGlobs {
		if ok, _ := filepath.Match(glob, clean); ok {
			return deny(DeniedPath, "path matches denied pattern: "+glob)
		}
		// Also match against the base name, so "*.env" denies nested paths.
		if ok, _ := filepath.Match(glob, filepath.Base(clean)); ok {
			return deny(DeniedPath, "path matches denied pattern: "+glob)
		}
	}

	if op == FileRead {
		return allow()
	}

	if !withinWorkspace(policy.WorkspaceRoot, clean) && !withinAllowlist(policy.AllowedOutsideWorkspace, clean) {
		return needsApproval(OutsideWorkspace, "path is outside the workspace root: "+clean)
	}

	return allow()
}

// CheckWriteSize evaluates a write operation's size against the policy's
// MaxFileSizeBytes. Call in addition to CheckPath, after the path itself
// has been validated, once the write's byte length is known.
func (v *Validator) CheckWriteSize(policy Policy, size int64) Decision {
	if policy.Disabled {
		return allow()
	}
	if policy.MaxFileSizeBytes > 0 && size > policy.MaxFileSizeBytes {
		return deny(FileSizeExceeded, "file size exceeds configured maximum")
	}
	return allow()
}

func withinWorkspace(root, path string) bool {
	if root == "" {
		return true
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func withinAllowlist(allowed []string, path string) bool {
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		pathAbs = path
	}
	for _, prefix := range allowed {
		prefixAbs, err := filepath.Abs(prefix)
		if err != nil {
			prefixAbs = prefix
		}
		if pathAbs == prefixAbs || strings.HasPrefix(pathAbs, prefixAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// CheckCommand evaluates a shell command string.
func (v *Validator) CheckCommand(policy Policy, command string) Decision {
	if policy.Disabled {
		return allow()
	}

	if !policy.DangerousCommandMode {
		for _, pattern := range policy.DangerousPatterns {
			if pattern != "" && strings.Contains(command, pattern) {
				return deny(DangerousCommand, "command matches dangerous pattern: "+pattern)
			}
		}
	}

	if hasDangerousRedirect(command) {
		return deny(DangerousRedirect, "command redirects into a protected system path")
	}

	if len(policy.CommandWhitelist) > 0 {
		first := firstToken(command)
		if !containsString(policy.CommandWhitelist, first) {
			return needsApproval(NotInWhitelist, "command is not in the configured whitelist: "+first)
		}
	}

	return allow()
}

func firstToken(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	fields := strings.Fields(trimmed)
	return fields[0]
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// hasDangerousRedirect looks for a shell redirection operator (">" or ">>",
// with or without a space before the target) whose target falls under a
// protected system directory.
func hasDangerousRedirect(command string) bool {
	tokens := strings.Fields(command)
	for i, tok := range tokens {
		var target string
		switch {
		case tok == ">" || tok == ">>":
			if i+1 >= len(tokens) {
				continue
			}
			target = tokens[i+1]
		case strings.HasPrefix(tok, ">"):
			target = strings.TrimLeft(tok, ">")
		default:
			continue
		}
		for _, prefix := range dangerousRedirectPrefixes {
			if strings.HasPrefix(target, prefix) {
				return true
			}
		}
	}
	return false
}

// CheckURL evaluates a network destination.
func (v *Validator) CheckURL(policy Policy, rawURL string) Decision {
	if policy.Disabled {
		return allow()
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		host := parsed.Hostname()
		for _, denied := range policy.DeniedDomains {
			if strings.EqualFold(host, denied) {
				return deny(DeniedDomain, "host is in the denied domain list: "+host)
			}
		}
	}

	if policy.ExternalAccessDisabled {
		return needsApproval(NetworkAccess, "external network access is disabled by policy")
	}

	return allow()
}
