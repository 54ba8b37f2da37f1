package engine

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opuadm/HappyPhoneBot/internal/netsim"
	"github.com/opuadm/HappyPhoneBot/internal/pkgs"
	"github.com/opuadm/HappyPhoneBot/internal/repository"
	"github.com/opuadm/HappyPhoneBot/internal/vfs"
)

type fixture struct {
	engine   *Engine
	profiles *netsim.Store
	fsStore  *vfs.Store
	clock    *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.NewBoltRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	profiles := netsim.NewStore(repo, netsim.Profile{
		SpeedMbps: 500,
		LatencyMs: 20,
		Enabled:   true,
	})
	fsStore := vfs.NewStore(repo, vfs.Defaults{
		OSVersion: pkgs.DefaultOSVersion,
		OSBranch:  pkgs.DefaultOSBranch,
	})

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	eng := NewEngine(profiles, fsStore)
	eng.now = clock.Now

	return &fixture{engine: eng, profiles: profiles, fsStore: fsStore, clock: clock}
}

// drain polls until the transfer disappears from the registry, advancing the
// clock past each step's wait. Returns all notices seen.
func (f *fixture) drain(t *testing.T, userID, key string) []string {
	t.Helper()

	var notices []string
	for i := 0; i < 100; i++ {
		state, ok := f.engine.GetStatus(userID, key)
		if !ok {
			return notices
		}
		f.clock.Advance(time.Duration(state.Steps[state.CurrentStep].WaitMs+1) * time.Millisecond)

		out, err := f.engine.ProcessDownloads(userID)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		notices = append(notices, out...)
	}
	t.Fatalf("transfer %s never completed", key)
	return nil
}

func TestInstallPackageLifecycle(t *testing.T) {
	f := newFixture(t)

	msg, err := f.engine.InstallPackage("user-1", "cowsay")
	if err != nil {
		t.Fatalf("failed to start install: %v", err)
	}
	if msg == "" {
		t.Error("expected a first progress message")
	}

	state, ok := f.engine.GetStatus("user-1", "cowsay")
	if !ok {
		t.Fatal("expected an active transfer")
	}
	if state.CurrentStep != 0 {
		t.Errorf("expected transfer to start at step 0, got %d", state.CurrentStep)
	}
	// 472 KB at 500 Mbps with 20 ms latency is 492 ms, still three steps.
	if len(state.Steps) != 3 {
		t.Errorf("expected 3 steps, got %d", len(state.Steps))
	}

	f.drain(t, "user-1", "cowsay")

	installed, err := f.engine.Installed("user-1", "cowsay")
	if err != nil {
		t.Fatalf("installed check failed: %v", err)
	}
	if !installed {
		t.Error("expected cowsay installed after completion")
	}

	// The package record is a real file in the user's tree.
	fs, err := f.fsStore.Filesystem("user-1")
	if err != nil {
		t.Fatalf("failed to get filesystem: %v", err)
	}
	if _, err := fs.ReadFile("/sys/pkgs/cowsay"); err != nil {
		t.Errorf("expected package record file: %v", err)
	}
}

func TestInstallAlreadyInstalled(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "sl"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}
	f.drain(t, "user-1", "sl")

	_, err := f.engine.InstallPackage("user-1", "sl")
	if !errors.Is(err, ErrAlreadyInstalled) {
		t.Errorf("expected ErrAlreadyInstalled, got %v", err)
	}

	// No transfer was registered by the rejected request.
	if _, ok := f.engine.GetStatus("user-1", "sl"); ok {
		t.Error("expected no registry entry after rejected install")
	}
}

func TestInstallAlreadyInProgress(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "htop"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	before, _ := f.engine.GetStatus("user-1", "htop")
	_, err := f.engine.InstallPackage("user-1", "htop")
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("expected ErrAlreadyInProgress, got %v", err)
	}

	after, ok := f.engine.GetStatus("user-1", "htop")
	if !ok || after.ID != before.ID {
		t.Error("expected the original transfer to be untouched")
	}
}

func TestInstallUnknownAndUnavailable(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "doom"); !errors.Is(err, ErrUnknownPackage) {
		t.Errorf("expected ErrUnknownPackage, got %v", err)
	}

	// Push the OS below neofetch's stable minimum.
	fs, err := f.fsStore.Filesystem("user-1")
	if err != nil {
		t.Fatalf("failed to get filesystem: %v", err)
	}
	if err := fs.WriteFile(vfs.OSVersionPath, "2.0.0"); err != nil {
		t.Fatalf("failed to set version: %v", err)
	}

	if _, err := f.engine.InstallPackage("user-1", "neofetch"); !errors.Is(err, ErrPackageUnavailable) {
		t.Errorf("expected ErrPackageUnavailable, got %v", err)
	}
}

func TestInstantInstallWhenDisabled(t *testing.T) {
	f := newFixture(t)

	if _, err := f.profiles.Toggle("user-1"); err != nil {
		t.Fatalf("failed to toggle: %v", err)
	}

	msg, err := f.engine.InstallPackage("user-1", "fortune")
	if err != nil {
		t.Fatalf("failed to install: %v", err)
	}
	if msg == "" {
		t.Error("expected a completion message")
	}

	// Never entered the registry.
	if _, ok := f.engine.GetStatus("user-1", "fortune"); ok {
		t.Error("expected no registry entry for instant install")
	}

	installed, err := f.engine.Installed("user-1", "fortune")
	if err != nil || !installed {
		t.Errorf("expected fortune installed immediately, got %v %v", installed, err)
	}
}

func TestPollIdempotentSideEffect(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "cowsay"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	// Force the transfer onto its final step.
	state, _ := f.engine.GetStatus("user-1", "cowsay")
	state.CurrentStep = len(state.Steps) - 1
	f.engine.SetStatus("user-1", "cowsay", state)

	first, err := f.engine.ProcessDownloads("user-1")
	if err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected one completion notice, got %v", first)
	}

	if _, ok := f.engine.GetStatus("user-1", "cowsay"); ok {
		t.Error("expected transfer removed after completion")
	}

	second, err := f.engine.ProcessDownloads("user-1")
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("expected silent poll on absent transfer, got %v", second)
	}
}

func TestPollAdvancesAtMostOneStep(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "htop"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	// A long silence still only consumes one step per poll.
	f.clock.Advance(time.Hour)
	if _, err := f.engine.ProcessDownloads("user-1"); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	state, ok := f.engine.GetStatus("user-1", "htop")
	if !ok {
		t.Fatal("expected transfer still active")
	}
	if state.CurrentStep != 1 {
		t.Errorf("expected exactly one step consumed, got %d", state.CurrentStep)
	}

	// Polling again before the new step's wait elapses does not advance.
	if _, err := f.engine.ProcessDownloads("user-1"); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	state, _ = f.engine.GetStatus("user-1", "htop")
	if state.CurrentStep != 1 {
		t.Errorf("expected no advance before wait elapsed, got %d", state.CurrentStep)
	}
}

func TestProfileChangeRecalculatesActiveTransfer(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "htop"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	// Consume a couple of steps.
	for i := 0; i < 2; i++ {
		state, _ := f.engine.GetStatus("user-1", "htop")
		f.clock.Advance(time.Duration(state.Steps[state.CurrentStep].WaitMs+1) * time.Millisecond)
		if _, err := f.engine.ProcessDownloads("user-1"); err != nil {
			t.Fatalf("poll failed: %v", err)
		}
	}

	before, _ := f.engine.GetStatus("user-1", "htop")
	k := before.CurrentStep
	consumed := make(netsim.Plan, k+1)
	copy(consumed, before.Steps[:k+1])

	// Setter fires the recalculation hook.
	if _, err := f.profiles.SetSpeed("user-1", 1); err != nil {
		t.Fatalf("failed to set speed: %v", err)
	}

	after, ok := f.engine.GetStatus("user-1", "htop")
	if !ok {
		t.Fatal("expected transfer still active after recalculation")
	}
	if after.CurrentStep != k {
		t.Errorf("expected cursor unchanged at %d, got %d", k, after.CurrentStep)
	}
	for i := 0; i <= k; i++ {
		if after.Steps[i] != consumed[i] {
			t.Errorf("consumed step %d mutated by recalculation", i)
		}
	}
	lastStep := after.Steps[len(after.Steps)-1]
	if !lastStep.Complete || lastStep.ProgressPct != 100 {
		t.Error("recalculated plan must still end complete at 100%")
	}

	// The transfer still runs to completion under the new profile.
	f.drain(t, "user-1", "htop")
}

func TestRemovePackageCancelsActiveDownload(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "figlet"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	msg, err := f.engine.RemovePackage("user-1", "figlet")
	if err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	if msg == "" {
		t.Error("expected a cancellation message")
	}

	if _, ok := f.engine.GetStatus("user-1", "figlet"); ok {
		t.Error("expected transfer cancelled")
	}

	installed, _ := f.engine.Installed("user-1", "figlet")
	if installed {
		t.Error("cancelled download must not install the package")
	}
}

func TestRemoveInstalledPackage(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "sl"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}
	f.drain(t, "user-1", "sl")

	if _, err := f.engine.RemovePackage("user-1", "sl"); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}

	installed, _ := f.engine.Installed("user-1", "sl")
	if installed {
		t.Error("expected sl removed")
	}

	if _, err := f.engine.RemovePackage("user-1", "sl"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("expected ErrNotInstalled, got %v", err)
	}
}

func TestUpdateLifecycle(t *testing.T) {
	f := newFixture(t)

	msg, err := f.engine.StartUpdate("user-1", pkgs.BranchUnstable)
	if err != nil {
		t.Fatalf("failed to start update: %v", err)
	}
	if msg == "" {
		t.Error("expected a start message")
	}

	state, ok := f.engine.GetStatus("user-1", UpdateTransferKey)
	if !ok {
		t.Fatal("expected an active update transfer")
	}
	if !state.IsUpdate || state.TargetVersion != "2.3.1" {
		t.Errorf("unexpected update state: %+v", state)
	}

	f.drain(t, "user-1", UpdateTransferKey)

	fs, err := f.fsStore.Filesystem("user-1")
	if err != nil {
		t.Fatalf("failed to get filesystem: %v", err)
	}
	if fs.OSVersion() != "2.3.1" || fs.OSBranch() != pkgs.BranchUnstable {
		t.Errorf("expected OS 2.3.1/unstable, got %s/%s", fs.OSVersion(), fs.OSBranch())
	}
}

func TestUpdateAlreadyUpToDate(t *testing.T) {
	f := newFixture(t)

	msg, err := f.engine.StartUpdate("user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg == "" {
		t.Error("expected an up-to-date message")
	}
	if _, ok := f.engine.GetStatus("user-1", UpdateTransferKey); ok {
		t.Error("expected no transfer for an up-to-date system")
	}
}

func TestUpdateUnknownBranch(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.StartUpdate("user-1", "nightly"); !errors.Is(err, ErrUnknownBranch) {
		t.Errorf("expected ErrUnknownBranch, got %v", err)
	}
}

func TestBranchSwitchSupersedesPendingUpdate(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.StartUpdate("user-1", pkgs.BranchUnstable); err != nil {
		t.Fatalf("failed to start update: %v", err)
	}
	first, _ := f.engine.GetStatus("user-1", UpdateTransferKey)

	// Move to unstable first so a switch back is a downgrade.
	f.drain(t, "user-1", UpdateTransferKey)

	if _, err := f.engine.StartUpdate("user-1", pkgs.BranchStable); err != nil {
		t.Fatalf("failed to start downgrade: %v", err)
	}
	second, ok := f.engine.GetStatus("user-1", UpdateTransferKey)
	if !ok {
		t.Fatal("expected an active downgrade transfer")
	}
	if second.ID == first.ID {
		t.Error("expected a fresh transfer after the branch switch")
	}
	if second.TargetVersion != "2.1.4" {
		t.Errorf("expected downgrade target 2.1.4, got %s", second.TargetVersion)
	}
}

func TestDowngradeWording(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.StartUpdate("user-1", pkgs.BranchUnstable); err != nil {
		t.Fatalf("failed to start update: %v", err)
	}
	f.drain(t, "user-1", UpdateTransferKey)

	msg, err := f.engine.StartUpdate("user-1", pkgs.BranchStable)
	if err != nil {
		t.Fatalf("failed to start downgrade: %v", err)
	}
	if want := "Downgrading"; len(msg) < len(want) || msg[:len(want)] != want {
		t.Errorf("expected downgrade wording, got %q", msg)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "cowsay"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	notices, err := f.engine.ProcessDownloads("user-2")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(notices) != 0 {
		t.Errorf("expected no notices for an idle user, got %v", notices)
	}

	if _, ok := f.engine.GetStatus("user-2", "cowsay"); ok {
		t.Error("expected user-2 to have no transfer")
	}
}

func TestRunPackage(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.RunPackage("user-1", "cowsay"); !errors.Is(err, ErrNotInstalled) {
		t.Errorf("expected ErrNotInstalled, got %v", err)
	}

	if _, err := f.engine.InstallPackage("user-1", "cowsay"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}
	f.drain(t, "user-1", "cowsay")

	out, err := f.engine.RunPackage("user-1", "cowsay")
	if err != nil {
		t.Fatalf("failed to run: %v", err)
	}
	if out == "" {
		t.Error("expected package output")
	}
}

func TestConcurrentPollsAndProfileChanges(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "neofetch"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	// Polls and profile changes for the same transfer must serialize; the
	// race detector flags any unguarded state access here.
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.engine.ProcessDownloads("user-1"); err != nil {
				t.Errorf("poll failed: %v", err)
			}
		}()
		go func(mbps float64) {
			defer wg.Done()
			if _, err := f.profiles.SetSpeed("user-1", mbps); err != nil {
				t.Errorf("failed to set speed: %v", err)
			}
		}(float64(100 + i))
	}
	wg.Wait()

	state, ok := f.engine.GetStatus("user-1", "neofetch")
	if !ok {
		t.Fatal("expected transfer still active")
	}
	if state.CurrentStep < 0 || state.CurrentStep >= len(state.Steps) {
		t.Fatalf("cursor %d out of range for %d steps", state.CurrentStep, len(state.Steps))
	}

	f.drain(t, "user-1", "neofetch")
	installed, err := f.engine.Installed("user-1", "neofetch")
	if err != nil {
		t.Fatalf("failed to check install: %v", err)
	}
	if !installed {
		t.Error("expected neofetch installed after drain")
	}
}

func TestRecalculateSkipsTransferOnFinalStep(t *testing.T) {
	f := newFixture(t)

	if _, err := f.engine.InstallPackage("user-1", "cowsay"); err != nil {
		t.Fatalf("failed to start install: %v", err)
	}

	// Park the transfer on its final complete step, as if the user already
	// saw the completion message.
	state, _ := f.engine.GetStatus("user-1", "cowsay")
	state.CurrentStep = len(state.Steps) - 1
	steps := len(state.Steps)

	if _, err := f.profiles.SetSpeed("user-1", 1); err != nil {
		t.Fatalf("failed to set speed: %v", err)
	}

	after, ok := f.engine.GetStatus("user-1", "cowsay")
	if !ok {
		t.Fatal("expected transfer still active")
	}
	if len(after.Steps) != steps {
		t.Errorf("expected plan untouched at %d steps, got %d", steps, len(after.Steps))
	}
	if after.CurrentStep != steps-1 {
		t.Errorf("expected cursor still on final step, got %d", after.CurrentStep)
	}

	// The very next poll completes the install with no extra waiting.
	notices, err := f.engine.ProcessDownloads("user-1")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(notices) != 1 || notices[0] != "cowsay installed." {
		t.Errorf("expected completion notice, got %v", notices)
	}
}
