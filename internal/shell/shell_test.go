package shell

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/opuadm/HappyPhoneBot/internal/engine"
	"github.com/opuadm/HappyPhoneBot/internal/netsim"
	"github.com/opuadm/HappyPhoneBot/internal/pkgs"
	"github.com/opuadm/HappyPhoneBot/internal/repository"
	"github.com/opuadm/HappyPhoneBot/internal/vfs"
)

func newTestShell(t *testing.T) (*Shell, *netsim.Store) {
	t.Helper()

	repo, err := repository.NewBoltRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	profiles := netsim.NewStore(repo, netsim.Profile{
		SpeedMbps: 100,
		LatencyMs: 20,
		Enabled:   true,
	})
	filesystems := vfs.NewStore(repo, vfs.Defaults{
		OSVersion: pkgs.DefaultOSVersion,
		OSBranch:  pkgs.DefaultOSBranch,
	})
	eng := engine.NewEngine(profiles, filesystems)

	return New(eng, profiles, filesystems), profiles
}

func run(t *testing.T, s *Shell, userID, line string) string {
	t.Helper()

	out, err := s.Execute(userID, line)
	if err != nil {
		t.Fatalf("command %q failed: %v", line, err)
	}
	return out
}

func TestFilesystemCommands(t *testing.T) {
	s, _ := newTestShell(t)

	if got := run(t, s, "u1", "pwd"); got != "/home" {
		t.Errorf("expected /home, got %q", got)
	}

	run(t, s, "u1", "mkdir docs")
	run(t, s, "u1", "write docs/note.txt hello world")

	if got := run(t, s, "u1", "cat docs/note.txt"); got != "hello world" {
		t.Errorf("expected file content, got %q", got)
	}

	out := run(t, s, "u1", "ls")
	if !strings.Contains(out, "docs/") {
		t.Errorf("expected docs/ in listing, got %q", out)
	}

	run(t, s, "u1", "cd /sys")
	if got := run(t, s, "u1", "pwd"); got != "/sys" {
		t.Errorf("expected /sys, got %q", got)
	}

	out = run(t, s, "u1", "cat os_version")
	if out != pkgs.DefaultOSVersion {
		t.Errorf("expected OS version leaf, got %q", out)
	}
}

func TestUnknownCommandIsUserFacing(t *testing.T) {
	s, _ := newTestShell(t)

	out, err := s.Execute("u1", "frobnicate")
	if err != nil {
		t.Fatalf("unknown command must not be an internal error: %v", err)
	}
	if !strings.Contains(out, "command not found") {
		t.Errorf("expected command-not-found output, got %q", out)
	}
}

func TestNetsetSpeedWithUnit(t *testing.T) {
	s, profiles := newTestShell(t)

	out := run(t, s, "u1", "netset 2 gbps")
	if !strings.Contains(out, "speed: 2000 Mbps") {
		t.Errorf("expected 2000 Mbps after netset 2 gbps, got %q", out)
	}

	p, err := profiles.Profile("u1")
	if err != nil {
		t.Fatalf("failed to read profile: %v", err)
	}
	if p.SpeedMbps != 2000 {
		t.Errorf("expected profile speed 2000, got %v", p.SpeedMbps)
	}

	// Query form reports the same profile.
	out = run(t, s, "u1", "netset")
	if !strings.Contains(out, "speed: 2000 Mbps") {
		t.Errorf("expected query to report 2000 Mbps, got %q", out)
	}
}

func TestNetsetValidation(t *testing.T) {
	s, _ := newTestShell(t)

	out := run(t, s, "u1", "netset 2 pbps")
	if !strings.Contains(out, "unknown speed unit") {
		t.Errorf("expected unknown-unit output, got %q", out)
	}

	out = run(t, s, "u1", "netset loss 250")
	if !strings.Contains(out, "packet loss") {
		t.Errorf("expected loss validation output, got %q", out)
	}

	out = run(t, s, "u1", "netset latency abc")
	if !strings.Contains(out, "not a number") {
		t.Errorf("expected number validation output, got %q", out)
	}
}

func TestNettoggleMakesInstallsInstant(t *testing.T) {
	s, _ := newTestShell(t)

	out := run(t, s, "u1", "nettoggle")
	if !strings.Contains(out, "disabled") {
		t.Errorf("expected disable message, got %q", out)
	}

	out = run(t, s, "u1", "pkg install cowsay")
	if !strings.Contains(out, "installed") {
		t.Errorf("expected instant install, got %q", out)
	}

	out = run(t, s, "u1", "run cowsay")
	if out == "" {
		t.Error("expected package output")
	}
}

func TestInstallProgressAcrossPolls(t *testing.T) {
	s, _ := newTestShell(t)

	out := run(t, s, "u1", "pkg install htop")
	if !strings.Contains(out, "Downloading htop") {
		t.Errorf("expected first progress message, got %q", out)
	}

	// Any command acts as a poll and re-reports progress.
	out = run(t, s, "u1", "ls")
	if !strings.Contains(out, "htop") {
		t.Errorf("expected progress notice on poll, got %q", out)
	}

	out = run(t, s, "u1", "status")
	if !strings.Contains(out, "htop") {
		t.Errorf("expected status to report the transfer, got %q", out)
	}
}

func TestStatusWithNothingActive(t *testing.T) {
	s, _ := newTestShell(t)

	out, err := s.Execute("u1", "status")
	if err != nil {
		t.Fatalf("status must not fail: %v", err)
	}
	if !strings.Contains(out, "no active download") {
		t.Errorf("expected no-active-download output, got %q", out)
	}
}

func TestPkgList(t *testing.T) {
	s, _ := newTestShell(t)

	out := run(t, s, "u1", "pkg list")
	for _, name := range pkgs.Names() {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in package list", name)
		}
	}
}

func TestOsinfoAndUpdateValidation(t *testing.T) {
	s, _ := newTestShell(t)

	out := run(t, s, "u1", "osinfo")
	if !strings.Contains(out, pkgs.DefaultOSVersion) {
		t.Errorf("expected current version in osinfo, got %q", out)
	}

	out = run(t, s, "u1", "update --branch nightly")
	if !strings.Contains(out, "unknown branch") {
		t.Errorf("expected unknown-branch output, got %q", out)
	}

	out = run(t, s, "u1", "update")
	if !strings.Contains(out, "up to date") {
		t.Errorf("expected up-to-date output, got %q", out)
	}
}

func TestUsersDoNotShareState(t *testing.T) {
	s, _ := newTestShell(t)

	run(t, s, "u1", "mkdir secret")

	out := run(t, s, "u2", "ls")
	if strings.Contains(out, "secret") {
		t.Errorf("expected isolated filesystems, got %q", out)
	}
}

func TestTouchKeepsExistingContent(t *testing.T) {
	s, _ := newTestShell(t)

	run(t, s, "u1", "write note.txt hello world")
	run(t, s, "u1", "touch note.txt")

	if got := run(t, s, "u1", "cat note.txt"); got != "hello world" {
		t.Errorf("touch must not erase content, got %q", got)
	}

	run(t, s, "u1", "touch fresh.txt")
	if got := run(t, s, "u1", "cat fresh.txt"); got != "" {
		t.Errorf("expected empty new file, got %q", got)
	}
}
