package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"warden/internal/logging"
)

// MaxShellNestingDepth bounds how many "sh -c" layers and command
// substitutions the guard will unwrap. Anything nested deeper is blocked
// outright.
const MaxShellNestingDepth = 8

// DefaultProtectedPaths are resolved relative to the install root when no
// protected paths are configured.
var DefaultProtectedPaths = []string{".", "src/cli", "dist/cli", "cli", "src/bin", "dist/bin", "bin"}

// installRootMarkers identify a package or workspace root.
var installRootMarkers = []string{"go.mod", "package.json", ".git"}

// ProtectedPath is one configured entry and its canonical absolute form.
type ProtectedPath struct {
	Raw  string
	Path string
}

// Policy is the resolved self-protection configuration. It is built once by
// ResolvePolicy and must not be mutated afterwards.
type Policy struct {
	Enabled     bool
	InstallRoot string
	Protected   []ProtectedPath
}

// PolicyOptions is the raw configuration a Policy is resolved from.
type PolicyOptions struct {
	Enabled        bool
	InstallRoot    string
	ProtectedPaths []string
}

// ResolvePolicy detects the install root (unless overridden) and resolves the
// protected path list against it, dropping entries that canonicalize to a
// path already present.
func ResolvePolicy(opts PolicyOptions) (*Policy, error) {
	root := strings.TrimSpace(opts.InstallRoot)
	if root == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		root = DetectInstallRoot(filepath.Dir(exe))
	} else {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve install root %q: %w", root, err)
		}
		root = abs
	}
	root = CanonicalPath(root)

	raws := opts.ProtectedPaths
	if len(raws) == 0 {
		raws = DefaultProtectedPaths
	}

	policy := &Policy{Enabled: opts.Enabled, InstallRoot: root}
	seen := make(map[string]bool, len(raws))
	for _, raw := range raws {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		resolved := ResolvePath(raw, root)
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		policy.Protected = append(policy.Protected, ProtectedPath{Raw: raw, Path: resolved})
	}

	return policy, nil
}

// DetectInstallRoot walks up from start looking for a package or workspace
// marker. It returns start itself when no marker is found.
func DetectInstallRoot(start string) string {
	origin := CanonicalPath(start)
	dir := origin
	for {
		for _, marker := range installRootMarkers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return origin
		}
		dir = parent
	}
}

// TokenPath is a positional argument resolved against the working directory.
// For wildcard arguments Path is the literal directory the pattern expands in.
type TokenPath struct {
	Raw      string
	Path     string
	Wildcard bool
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

func resolveTokenPath(raw, cwd string) TokenPath {
	tp := TokenPath{Raw: raw, Wildcard: hasGlobMeta(raw)}
	if !tp.Wildcard {
		tp.Path = ResolvePath(raw, cwd)
		return tp
	}
	base, _ := doublestar.SplitPattern(filepath.ToSlash(raw))
	tp.Path = ResolvePath(filepath.FromSlash(base), cwd)
	return tp
}

// AssertExecCommandAllowed statically inspects command text and returns a
// *BlockedCommand when it would delete or alter a protected path. A nil or
// disabled policy allows everything. This is a heuristic, not a sandbox.
func AssertExecCommandAllowed(command, cwd string, policy *Policy) error {
	if policy == nil || !policy.Enabled {
		return nil
	}
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to determine working directory: %w", err)
		}
		cwd = wd
	}
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return fmt.Errorf("failed to resolve working directory %q: %w", cwd, err)
	}
	return policy.assert(command, CanonicalPath(abs), 0)
}

func (p *Policy) assert(command, cwd string, depth int) error {
	if depth > MaxShellNestingDepth {
		return &BlockedCommand{
			Command: command,
			Reason:  fmt.Sprintf("shell nesting deeper than %d levels", MaxShellNestingDepth),
		}
	}
	for _, segment := range SplitSegments(command) {
		if err := p.assertSegment(segment, cwd, depth); err != nil {
			return err
		}
	}
	for _, sub := range CommandSubstitutions(command) {
		if err := p.assert(sub, cwd, depth+1); err != nil {
			return err
		}
	}
	return nil
}

var inlineShells = map[string]bool{"bash": true, "sh": true, "zsh": true}

var deleteCommands = map[string]bool{
	"rm": true, "rmdir": true, "unlink": true, "shred": true, "wipefs": true, "mkfs": true,
}

func (p *Policy) assertSegment(segment, cwd string, depth int) error {
	args := effectiveCommand(stripRedirections(Tokenize(segment)))
	if len(args) == 0 {
		return nil
	}

	name := commandName(args[0])
	rest := args[1:]

	switch {
	case inlineShells[name]:
		if script, ok := inlineScript(rest); ok {
			return p.assert(script, cwd, depth+1)
		}
	case name == "git":
		return p.checkGit(segment, rest, cwd)
	case name == "find":
		return p.checkFind(segment, rest, cwd)
	case name == "mv":
		return p.checkMove(segment, rest, cwd)
	case deleteCommands[name] || strings.HasPrefix(name, "mkfs."):
		return p.checkDelete(segment, name, rest, cwd)
	}
	return nil
}

func (p *Policy) checkGit(segment string, args []string, cwd string) error {
	dir := cwd
	i := 0
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		switch args[i] {
		case "-C":
			if i+1 < len(args) {
				dir = ResolvePath(args[i+1], dir)
			}
			i += 2
		case "-c", "--git-dir", "--work-tree", "--namespace":
			i += 2
		default:
			i++
		}
	}
	if i >= len(args) {
		return nil
	}

	var reason string
	sub, opts := args[i], args[i+1:]
	switch sub {
	case "reset":
		if containsToken(opts, "--hard") {
			reason = "git reset --hard inside a protected path"
		}
	case "clean":
		if hasForceFlag(opts) {
			reason = "git clean --force inside a protected path"
		}
	}
	if reason == "" {
		return nil
	}

	for _, pp := range p.Protected {
		if IsPathWithin(dir, pp.Path) {
			return p.blocked(segment, dir, pp, reason)
		}
	}
	return nil
}

func (p *Policy) checkFind(segment string, args []string, cwd string) error {
	if !containsToken(args, "-delete") {
		return nil
	}

	i := 0
options:
	for i < len(args) {
		switch t := args[i]; {
		case t == "-H" || t == "-L" || t == "-P":
			i++
		case t == "-D":
			i += 2
		case strings.HasPrefix(t, "-O"):
			i++
		default:
			break options
		}
	}

	var roots []string
	for ; i < len(args); i++ {
		t := args[i]
		if strings.HasPrefix(t, "-") || t == "(" || t == "!" || t == ")" {
			break
		}
		roots = append(roots, t)
	}
	if len(roots) == 0 {
		roots = []string{"."}
	}

	for _, raw := range roots {
		if err := p.checkTarget(segment, resolveTokenPath(raw, cwd), "find -delete"); err != nil {
			return err
		}
	}
	return nil
}

var moveValueFlags = map[string]bool{"-t": true, "--target-directory": true, "-S": true, "--suffix": true}

func (p *Policy) checkMove(segment string, args []string, cwd string) error {
	positional, flags := splitPositional(args, moveValueFlags)

	sources := positional
	if _, ok := flags["-t"]; !ok {
		if _, ok := flags["--target-directory"]; !ok {
			if len(sources) > 0 {
				sources = sources[:len(sources)-1]
			}
		}
	}

	for _, raw := range sources {
		if err := p.checkTarget(segment, resolveTokenPath(raw, cwd), "mv"); err != nil {
			return err
		}
	}
	return nil
}

var deleteValueFlags = map[string]map[string]bool{
	"shred":  {"-n": true, "--iterations": true, "-s": true, "--size": true, "--random-source": true},
	"mkfs":   {"-t": true, "-L": true, "-b": true},
	"wipefs": {"-o": true, "--offset": true, "-t": true, "--types": true, "-O": true, "--output": true},
}

func (p *Policy) checkDelete(segment, name string, args []string, cwd string) error {
	valueFlags := deleteValueFlags[name]
	if strings.HasPrefix(name, "mkfs.") {
		valueFlags = deleteValueFlags["mkfs"]
	}

	targets, _ := splitPositional(args, valueFlags)
	if len(targets) == 0 {
		targets = []string{cwd}
	}

	for _, raw := range targets {
		if err := p.checkTarget(segment, resolveTokenPath(raw, cwd), name); err != nil {
			return err
		}
	}
	return nil
}

// checkTarget blocks when target and a protected path contain one another.
// Deleting an ancestor removes the protected path and deleting a descendant
// alters it. Wildcards are checked through their literal base directory, so
// the check stays conservative about what the pattern may match.
func (p *Policy) checkTarget(segment string, target TokenPath, op string) error {
	for _, pp := range p.Protected {
		if pathsOverlap(target.Path, pp.Path) {
			reason := op + " would alter a protected path"
			if target.Wildcard {
				reason = fmt.Sprintf("%s with wildcard %q may reach a protected path", op, target.Raw)
			}
			return p.blocked(segment, target.Path, pp, reason)
		}
	}
	return nil
}

func (p *Policy) blocked(segment, target string, pp ProtectedPath, reason string) error {
	rel, err := filepath.Rel(p.InstallRoot, pp.Path)
	if err != nil {
		rel = pp.Path
	}
	return &BlockedCommand{
		Command:       segment,
		Target:        target,
		ProtectedPath: pp.Path,
		ProtectedRel:  rel,
		Reason:        reason,
	}
}

// Guard applies a Policy and logs its decisions. Its policy can be swapped
// when configuration changes; each Policy itself stays immutable.
type Guard struct {
	mu             sync.RWMutex
	policy         *Policy
	warnedDisabled bool
}

// NewGuard creates a guard for the given policy.
func NewGuard(policy *Policy) *Guard {
	return &Guard{policy: policy}
}

// Policy returns the current policy.
func (g *Guard) Policy() *Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.policy
}

// SetPolicy replaces the policy used for subsequent checks.
func (g *Guard) SetPolicy(policy *Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
	g.warnedDisabled = false
}

// Check runs AssertExecCommandAllowed with the current policy.
func (g *Guard) Check(command, cwd string) error {
	g.mu.Lock()
	policy := g.policy
	if (policy == nil || !policy.Enabled) && !g.warnedDisabled {
		g.warnedDisabled = true
		logging.Warn("self-protection guard is disabled")
	}
	g.mu.Unlock()

	err := AssertExecCommandAllowed(command, cwd, policy)
	var blocked *BlockedCommand
	if errors.As(err, &blocked) {
		logging.Warn("command blocked by self-protection",
			"command", blocked.Command,
			"target", blocked.Target,
			"protected_path", blocked.ProtectedPath,
			"reason", blocked.Reason)
	}
	return err
}

// effectiveCommand skips shell keywords, leading NAME=value assignments and
// env/sudo wrappers (with their flags) and returns the remaining tokens.
func effectiveCommand(tokens []string) []string {
	i := 0
	for i < len(tokens) {
		t := tokens[i]
		if shellKeywords[t] || isEnvAssignment(t) {
			i++
			continue
		}
		switch commandName(t) {
		case "env":
			i = skipFlags(tokens, i+1, envValueFlags)
			continue
		case "sudo":
			i = skipFlags(tokens, i+1, sudoValueFlags)
			continue
		}
		return tokens[i:]
	}
	return nil
}

var shellKeywords = map[string]bool{
	"!": true, "{": true, "}": true, "if": true, "then": true, "else": true, "elif": true,
	"do": true, "while": true, "until": true, "time": true,
}

var envValueFlags = map[string]bool{"-u": true, "--unset": true, "-C": true, "--chdir": true, "-S": true, "--split-string": true}

var sudoValueFlags = map[string]bool{
	"-u": true, "--user": true, "-g": true, "--group": true, "-h": true, "--host": true,
	"-p": true, "--prompt": true, "-C": true, "--close-from": true, "-D": true, "--chdir": true,
	"-r": true, "--role": true, "-t": true, "--type": true, "-U": true, "--other-user": true,
	"-T": true, "--command-timeout": true,
}

func skipFlags(tokens []string, i int, valueFlags map[string]bool) int {
	for i < len(tokens) {
		t := tokens[i]
		if t == "--" {
			return i + 1
		}
		if !strings.HasPrefix(t, "-") || t == "-" {
			return i
		}
		if valueFlags[t] {
			i += 2
		} else {
			i++
		}
	}
	return i
}

// splitPositional separates positional arguments from flags. Everything after
// "--" is positional. Flags listed in valueFlags consume the next token; the
// returned map holds each flag seen and its value, if any.
func splitPositional(args []string, valueFlags map[string]bool) ([]string, map[string]string) {
	var positional []string
	flags := make(map[string]string)
	for i := 0; i < len(args); i++ {
		t := args[i]
		if t == "--" {
			positional = append(positional, args[i+1:]...)
			break
		}
		if !strings.HasPrefix(t, "-") || t == "-" {
			positional = append(positional, t)
			continue
		}
		if name, value, ok := strings.Cut(t, "="); ok && strings.HasPrefix(t, "--") {
			flags[name] = value
			continue
		}
		if valueFlags[t] && i+1 < len(args) {
			flags[t] = args[i+1]
			i++
			continue
		}
		flags[t] = ""
	}
	return positional, flags
}

func stripRedirections(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		redirect, takesNext := isRedirection(tokens[i])
		if !redirect {
			out = append(out, tokens[i])
			continue
		}
		if takesNext {
			i++
		}
	}
	return out
}

// inlineScript finds the script argument of "sh -c <script>" style calls,
// including combined flags like -lc or -ec.
func inlineScript(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		t := args[i]
		switch {
		case t == "-o" || t == "+o":
			i++
		case t == "--" || !strings.HasPrefix(t, "-"):
			return "", false
		case strings.HasPrefix(t, "--"):
		case strings.ContainsRune(t[1:], 'c'):
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func commandName(tok string) string {
	if i := strings.LastIndexAny(tok, `/\`); i >= 0 {
		tok = tok[i+1:]
	}
	tok = strings.ToLower(tok)
	return strings.TrimSuffix(tok, ".exe")
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

func hasForceFlag(tokens []string) bool {
	for _, t := range tokens {
		if t == "--force" {
			return true
		}
		if strings.HasPrefix(t, "-") && !strings.HasPrefix(t, "--") && strings.ContainsRune(t, 'f') {
			return true
		}
	}
	return false
}
