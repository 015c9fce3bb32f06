package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type guardFixture struct {
	policy  *Policy
	root    string // install root, protected as "."
	outside string
}

func newGuardFixture(t *testing.T) guardFixture {
	t.Helper()
	base := t.TempDir()
	root := filepath.Join(base, "install")
	outside := filepath.Join(base, "work")
	for _, dir := range []string{filepath.Join(root, "bin"), filepath.Join(root, "src", "cli"), outside} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	policy, err := ResolvePolicy(PolicyOptions{Enabled: true, InstallRoot: root})
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	return guardFixture{policy: policy, root: CanonicalPath(root), outside: CanonicalPath(outside)}
}

func (f guardFixture) expectBlocked(t *testing.T, command, cwd string) *BlockedCommand {
	t.Helper()
	err := AssertExecCommandAllowed(command, cwd, f.policy)
	var blocked *BlockedCommand
	if !errors.As(err, &blocked) {
		t.Fatalf("%q in %s: got %v, want *BlockedCommand", command, cwd, err)
	}
	return blocked
}

func (f guardFixture) expectAllowed(t *testing.T, command, cwd string) {
	t.Helper()
	if err := AssertExecCommandAllowed(command, cwd, f.policy); err != nil {
		t.Fatalf("%q in %s: unexpected error %v", command, cwd, err)
	}
}

func TestResolvePolicyDefaults(t *testing.T) {
	f := newGuardFixture(t)
	if f.policy.InstallRoot != f.root {
		t.Fatalf("install root = %s, want %s", f.policy.InstallRoot, f.root)
	}
	if len(f.policy.Protected) != len(DefaultProtectedPaths) {
		t.Fatalf("protected = %d entries, want %d", len(f.policy.Protected), len(DefaultProtectedPaths))
	}
	if f.policy.Protected[0].Path != f.root || f.policy.Protected[0].Raw != "." {
		t.Fatalf("first entry = %+v", f.policy.Protected[0])
	}
}

func TestResolvePolicyDedupes(t *testing.T) {
	root := t.TempDir()
	policy, err := ResolvePolicy(PolicyOptions{
		Enabled:        true,
		InstallRoot:    root,
		ProtectedPaths: []string{"bin", "./bin", "bin/", filepath.Join(root, "bin"), "  ", "lib"},
	})
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	if len(policy.Protected) != 2 {
		t.Fatalf("protected = %+v, want bin and lib", policy.Protected)
	}
}

func TestDetectInstallRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deep := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	if got := DetectInstallRoot(deep); got != CanonicalPath(root) {
		t.Fatalf("DetectInstallRoot = %s, want %s", got, root)
	}
}

func TestGuardRm(t *testing.T) {
	f := newGuardFixture(t)

	blocked := f.expectBlocked(t, "rm -rf "+filepath.Join(f.root, "bin"), f.outside)
	if blocked.ProtectedPath != f.root {
		// "." (the install root) matches first and covers bin.
		t.Fatalf("protected path = %s", blocked.ProtectedPath)
	}
	if !strings.Contains(blocked.Error(), filepath.Join(f.root, "bin")) {
		t.Fatalf("error does not name the target: %s", blocked.Error())
	}

	f.expectBlocked(t, "rm -rf bin/tool", f.root)
	f.expectBlocked(t, "rm -rf -- "+f.root, f.outside)
	f.expectBlocked(t, "rmdir "+filepath.Join(f.root, "src", "cli"), f.outside)
	f.expectBlocked(t, "unlink ../install/go.mod", f.outside)
	f.expectBlocked(t, "shred -n 3 "+filepath.Join(f.root, "bin", "x"), f.outside)

	f.expectAllowed(t, "rm -rf build", f.outside)
	f.expectAllowed(t, "rm -rf "+filepath.Join(f.outside, "tmp"), f.root)
}

func TestGuardRmAncestorIsBlocked(t *testing.T) {
	f := newGuardFixture(t)
	f.expectBlocked(t, "rm -rf "+filepath.Dir(f.root), f.outside)
}

func TestGuardRmWithoutTargetUsesCwd(t *testing.T) {
	f := newGuardFixture(t)
	f.expectBlocked(t, "rm -r", f.root)
	f.expectAllowed(t, "rm -r", f.outside)
}

func TestGuardWildcard(t *testing.T) {
	f := newGuardFixture(t)

	blocked := f.expectBlocked(t, "rm -rf ./*", f.root)
	if !strings.Contains(blocked.Reason, "wildcard") {
		t.Fatalf("reason = %q", blocked.Reason)
	}
	f.expectBlocked(t, "rm -rf bin/*", f.root)
	f.expectBlocked(t, "rm -rf "+filepath.Join(f.root, "**", "*.go"), f.outside)

	f.expectAllowed(t, "rm -rf ./*", f.outside)
	f.expectAllowed(t, "rm -f *.log", f.outside)
}

func TestGuardGit(t *testing.T) {
	f := newGuardFixture(t)

	f.expectBlocked(t, "git reset --hard HEAD~1", f.root)
	f.expectBlocked(t, "git clean -fdx", filepath.Join(f.root, "bin"))
	f.expectBlocked(t, "git clean --force", f.root)
	f.expectBlocked(t, "git -C "+f.root+" reset --hard", f.outside)

	f.expectAllowed(t, "git reset --hard", f.outside)
	f.expectAllowed(t, "git clean -f", f.outside)
	f.expectAllowed(t, "git reset --soft HEAD~1", f.root)
	f.expectAllowed(t, "git clean -n", f.root)
	f.expectAllowed(t, "git status", f.root)
}

func TestGuardFind(t *testing.T) {
	f := newGuardFixture(t)

	f.expectBlocked(t, "find . -name '*.tmp' -delete", f.root)
	f.expectBlocked(t, "find -L "+f.root+" -type f -delete", f.outside)
	f.expectBlocked(t, "find -delete", f.root)

	f.expectAllowed(t, "find . -name '*.tmp' -delete", f.outside)
	f.expectAllowed(t, "find . -name '*.go'", f.root)
}

func TestGuardMove(t *testing.T) {
	f := newGuardFixture(t)

	f.expectBlocked(t, "mv "+filepath.Join(f.root, "bin")+" /tmp/elsewhere", f.outside)
	f.expectBlocked(t, "mv -t "+f.outside+" "+filepath.Join(f.root, "src"), f.outside)

	f.expectAllowed(t, "mv a.txt b.txt", f.outside)
	// The destination is not a source; copying into a protected dir is out of scope.
	f.expectAllowed(t, "mv a.txt "+filepath.Join(f.root, "bin"), f.outside)
}

func TestGuardPrefixesAndCompound(t *testing.T) {
	f := newGuardFixture(t)
	target := filepath.Join(f.root, "bin")

	f.expectBlocked(t, "sudo -u root rm -rf "+target, f.outside)
	f.expectBlocked(t, "FOO=1 env -i BAR=2 rm -rf "+target, f.outside)
	f.expectBlocked(t, "echo ok && rm -rf "+target+" 2>/dev/null", f.outside)
	f.expectBlocked(t, "if true; then rm -rf "+target+"; fi", f.outside)
	f.expectBlocked(t, "/bin/RM -rf "+target, f.outside)

	f.expectAllowed(t, "echo rm -rf "+target, f.outside)
	f.expectAllowed(t, "ls "+target+" > /dev/null", f.outside)
}

func TestGuardInlineShell(t *testing.T) {
	f := newGuardFixture(t)
	target := filepath.Join(f.root, "bin")

	f.expectBlocked(t, `bash -lc "rm -rf `+target+`"`, f.outside)
	f.expectBlocked(t, `sh -c "zsh -c 'rm -rf `+target+`'"`, f.outside)
	f.expectBlocked(t, `bash -o pipefail -ec "git reset --hard"`, f.root)

	f.expectAllowed(t, `bash -c "rm -rf build"`, f.outside)
	f.expectAllowed(t, `bash script.sh -c`, f.root)
}

func TestGuardCommandSubstitution(t *testing.T) {
	f := newGuardFixture(t)
	target := filepath.Join(f.root, "bin")

	f.expectBlocked(t, `echo "$(rm -rf `+target+`)"`, f.outside)
	f.expectBlocked(t, "echo `rm -rf "+target+"`", f.outside)
	f.expectBlocked(t, "echo \"`rm -rf "+target+"`\"", f.outside)
	f.expectBlocked(t, `echo "$(echo "$(rm -rf `+target+`)")"`, f.outside)

	f.expectAllowed(t, `echo '$(rm -rf `+target+`)'`, f.outside)
	f.expectAllowed(t, `echo "$(date)" `+"`pwd`", f.outside)
}

func TestGuardNestingDepthCap(t *testing.T) {
	f := newGuardFixture(t)
	err := f.policy.assert("echo harmless", f.outside, MaxShellNestingDepth+1)
	var blocked *BlockedCommand
	if !errors.As(err, &blocked) || !strings.Contains(blocked.Reason, "nesting") {
		t.Fatalf("assert beyond depth cap = %v", err)
	}
	if err := f.policy.assert("echo harmless", f.outside, MaxShellNestingDepth); err != nil {
		t.Fatalf("assert at depth cap = %v", err)
	}
}

func TestGuardDisabled(t *testing.T) {
	f := newGuardFixture(t)
	disabled := *f.policy
	disabled.Enabled = false
	if err := AssertExecCommandAllowed("rm -rf "+f.root, f.outside, &disabled); err != nil {
		t.Fatalf("disabled policy blocked: %v", err)
	}
	if err := AssertExecCommandAllowed("rm -rf "+f.root, f.outside, nil); err != nil {
		t.Fatalf("nil policy blocked: %v", err)
	}

	g := NewGuard(&disabled)
	if err := g.Check("rm -rf "+f.root, f.outside); err != nil {
		t.Fatalf("guard with disabled policy blocked: %v", err)
	}
	g.SetPolicy(f.policy)
	if err := g.Check("rm -rf "+f.root, f.outside); err == nil {
		t.Fatal("guard did not pick up the new policy")
	}
	if g.Policy() != f.policy {
		t.Fatal("Policy() does not return the swapped policy")
	}
}

func TestBlockedCommandRelativePath(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "dist", "bin"), 0o755); err != nil {
		t.Fatal(err)
	}
	policy, err := ResolvePolicy(PolicyOptions{Enabled: true, InstallRoot: root, ProtectedPaths: []string{"dist/bin"}})
	if err != nil {
		t.Fatal(err)
	}
	err = AssertExecCommandAllowed("rm -rf dist/bin/app", root, policy)
	var blocked *BlockedCommand
	if !errors.As(err, &blocked) {
		t.Fatalf("got %v", err)
	}
	if blocked.ProtectedRel != filepath.Join("dist", "bin") {
		t.Fatalf("relative path = %q", blocked.ProtectedRel)
	}
	if err := AssertExecCommandAllowed("rm -rf dist/other", root, policy); err != nil {
		t.Fatalf("sibling of a protected path blocked: %v", err)
	}
}
