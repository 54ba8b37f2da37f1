package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opuadm/HappyPhoneBot/internal/logger"
	"github.com/opuadm/HappyPhoneBot/internal/netsim"
	"github.com/opuadm/HappyPhoneBot/internal/pkgs"
	"github.com/opuadm/HappyPhoneBot/internal/version"
	"github.com/opuadm/HappyPhoneBot/internal/vfs"
)

// UpdateTransferKey is the registry key shared by all OS update transfers;
// a user has at most one update in flight.
const UpdateTransferKey = "os-update"

var (
	// ErrUnknownPackage is returned for a package not in the catalog.
	ErrUnknownPackage = errors.New("unknown package")

	// ErrPackageUnavailable is returned when the OS identity does not meet
	// the package's branch/version requirements.
	ErrPackageUnavailable = errors.New("package not available for this system")

	// ErrAlreadyInstalled is returned when installing an installed package.
	ErrAlreadyInstalled = errors.New("package already installed")

	// ErrNotInstalled is returned when removing or running a package that
	// is not installed.
	ErrNotInstalled = errors.New("package not installed")

	// ErrAlreadyInProgress is returned when a transfer for the same key is
	// already active.
	ErrAlreadyInProgress = errors.New("download already in progress")

	// ErrUnknownBranch is returned for a branch missing from the branch table.
	ErrUnknownBranch = errors.New("unknown branch")

	// ErrNoActiveTransfer is returned by a status query with nothing active.
	ErrNoActiveTransfer = errors.New("no active download")
)

// Engine is the download/update orchestrator: it starts, advances,
// completes and cancels transfers, applying filesystem side effects
// atomically with registry updates.
type Engine struct {
	registry    *Registry
	profiles    *netsim.Store
	filesystems *vfs.Store
	now         func() time.Time
}

// NewEngine wires the orchestrator to its collaborators and hooks profile
// changes to in-flight recalculation.
func NewEngine(profiles *netsim.Store, filesystems *vfs.Store) *Engine {
	e := &Engine{
		registry:    NewRegistry(),
		profiles:    profiles,
		filesystems: filesystems,
		now:         time.Now,
	}
	profiles.SetOnChange(e.RecalculateTransfers)

	return e
}

// GetStatus returns the transfer state for (userID, transferKey).
func (e *Engine) GetStatus(userID, transferKey string) (*TransferState, bool) {
	return e.registry.Get(userID, transferKey)
}

// SetStatus overwrites (or, with nil, removes) the transfer state for
// (userID, transferKey).
func (e *Engine) SetStatus(userID, transferKey string, state *TransferState) {
	e.registry.Set(userID, transferKey, state)
}

// ActiveTransfers returns the user's in-flight transfers.
func (e *Engine) ActiveTransfers(userID string) []*TransferState {
	return e.registry.ForUser(userID)
}

func pkgRecordPath(name string) string {
	return vfs.PkgsDir + "/" + name
}

// Installed reports whether the package record exists in the user's
// filesystem.
func (e *Engine) Installed(userID, name string) (bool, error) {
	fs, err := e.filesystems.Filesystem(userID)
	if err != nil {
		return false, err
	}

	_, err = fs.Stat(pkgRecordPath(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, vfs.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// InstallPackage begins a simulated download of the named package. Instant
// plans (disabled network) install immediately; otherwise the transfer is
// registered and the first progress message returned.
func (e *Engine) InstallPackage(userID, name string) (string, error) {
	pkg, ok := pkgs.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}

	if _, active := e.registry.Get(userID, name); active {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInProgress, name)
	}

	installed, err := e.Installed(userID, name)
	if err != nil {
		return "", err
	}
	if installed {
		return "", fmt.Errorf("%w: %s", ErrAlreadyInstalled, name)
	}

	fs, err := e.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}
	if !pkgs.Available(pkg, fs.OSVersion(), fs.OSBranch()) {
		return "", fmt.Errorf("%w: %s requires a newer system on branch %s",
			ErrPackageUnavailable, name, fs.OSBranch())
	}

	profile, err := e.profiles.Profile(userID)
	if err != nil {
		return "", err
	}

	d := netsim.ComputeDuration(pkg.SizeKB, profile)
	plan := netsim.CreateDownloadSteps(pkg.SizeKB, d.DurationMs, name)

	if len(plan) == 1 {
		// Instant: apply the side effect now, never register the transfer.
		if err := e.applyInstall(userID, pkg); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s\n%s installed.", plan[0].Message, name), nil
	}

	now := e.now()
	e.registry.Set(userID, name, &TransferState{
		ID:         uuid.New(),
		UserID:     userID,
		Key:        name,
		Label:      name,
		SizeKB:     pkg.SizeKB,
		Steps:      plan,
		StartedAt:  now,
		LastUpdate: now,
	})

	logger.Infof("User %s started downloading %s (%s over %s)",
		userID, name, netsim.FormatSize(pkg.SizeKB), netsim.FormatTime(d.DurationMs))

	return plan[0].Message, nil
}

// RemovePackage removes an installed package, or cancels its in-flight
// download if one is active.
func (e *Engine) RemovePackage(userID, name string) (string, error) {
	if _, ok := pkgs.Get(name); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}

	if _, active := e.registry.Get(userID, name); active {
		e.registry.Set(userID, name, nil)
		logger.Infof("User %s cancelled download of %s", userID, name)
		return fmt.Sprintf("Download of %s cancelled.", name), nil
	}

	installed, err := e.Installed(userID, name)
	if err != nil {
		return "", err
	}
	if !installed {
		return "", fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	fs, err := e.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}
	if err := fs.Remove(pkgRecordPath(name)); err != nil {
		return "", fmt.Errorf("failed to remove package record: %w", err)
	}
	if err := e.filesystems.Save(userID); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s removed.", name), nil
}

// StartUpdate begins an OS update transfer. An empty branch targets the
// current branch's latest version. A pending update transfer is superseded
// (cancelled) by a new one.
func (e *Engine) StartUpdate(userID, branch string) (string, error) {
	fs, err := e.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	currentVersion := fs.OSVersion()
	currentBranch := fs.OSBranch()

	if branch == "" {
		branch = currentBranch
	}
	targetVersion, ok := pkgs.BranchVersion(branch)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}

	if currentBranch == branch && version.Compare(currentVersion, targetVersion) == 0 {
		return fmt.Sprintf("Already up to date (%s, %s branch).", currentVersion, branch), nil
	}

	// Only the wording changes on a downgrade; the transfer is identical.
	verb := "Upgrading"
	switch cmp := version.Compare(targetVersion, currentVersion); {
	case cmp < 0:
		verb = "Downgrading"
	case cmp == 0:
		verb = "Switching"
	}

	// A branch switch supersedes any pending update.
	e.registry.Set(userID, UpdateTransferKey, nil)

	profile, err := e.profiles.Profile(userID)
	if err != nil {
		return "", err
	}

	sizeKB := pkgs.UpdateSizeKB(targetVersion)
	label := fmt.Sprintf("system update %s", targetVersion)
	d := netsim.ComputeDuration(sizeKB, profile)
	plan := netsim.CreateDownloadSteps(sizeKB, d.DurationMs, label)

	headline := fmt.Sprintf("%s to %s (%s branch).", verb, targetVersion, branch)

	if len(plan) == 1 {
		if err := e.applyUpdate(userID, targetVersion, branch); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s\n%s\nSystem is now on %s (%s branch).",
			headline, plan[0].Message, targetVersion, branch), nil
	}

	now := e.now()
	e.registry.Set(userID, UpdateTransferKey, &TransferState{
		ID:            uuid.New(),
		UserID:        userID,
		Key:           UpdateTransferKey,
		Label:         label,
		SizeKB:        sizeKB,
		Steps:         plan,
		StartedAt:     now,
		LastUpdate:    now,
		IsUpdate:      true,
		TargetVersion: targetVersion,
		TargetBranch:  branch,
	})

	logger.Infof("User %s started OS update to %s (%s branch)", userID, targetVersion, branch)

	return fmt.Sprintf("%s\n%s", headline, plan[0].Message), nil
}

// Cancel removes the transfer for (userID, transferKey); idempotent.
func (e *Engine) Cancel(userID, transferKey string) {
	e.registry.Set(userID, transferKey, nil)
}

// ProcessDownloads is the poll tick: every qualifying command calls it.
// For each active transfer it advances at most one step once the current
// step's wait has elapsed; a transfer sitting on its final step has its
// side effect applied exactly once and is removed from the registry.
// Returned messages are progress/completion notices for the user.
func (e *Engine) ProcessDownloads(userID string) ([]string, error) {
	var notices []string

	for _, state := range e.registry.ForUser(userID) {
		notice, err := e.pollTransfer(state)
		if err != nil {
			return notices, err
		}
		if notice != "" {
			notices = append(notices, notice)
		}
	}

	return notices, nil
}

func (e *Engine) pollTransfer(state *TransferState) (string, error) {
	state.mu.Lock()
	defer state.mu.Unlock()

	last := len(state.Steps) - 1

	// Terminal: side effect exactly once, the done flag guards against a
	// concurrent poll seeing the same final step.
	if state.CurrentStep >= last {
		if state.done {
			return "", nil
		}
		state.done = true
		e.registry.Set(state.UserID, state.Key, nil)

		if state.IsUpdate {
			if err := e.applyUpdate(state.UserID, state.TargetVersion, state.TargetBranch); err != nil {
				return "", err
			}
			return fmt.Sprintf("System updated to %s (%s branch).",
				state.TargetVersion, state.TargetBranch), nil
		}

		pkg, ok := pkgs.Get(state.Key)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownPackage, state.Key)
		}
		if err := e.applyInstall(state.UserID, pkg); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s installed.", state.Key), nil
	}

	elapsed := e.now().Sub(state.LastUpdate).Milliseconds()
	if elapsed >= state.Steps[state.CurrentStep].WaitMs {
		state.CurrentStep++
		state.LastUpdate = e.now()
	}

	return state.Steps[state.CurrentStep].Message, nil
}

// RecalculateTransfers re-plans the remainder of every active transfer the
// user owns against a freshly changed profile. Consumed steps are kept
// untouched; a transfer already sitting on its final step is left alone so
// its completion is not pushed back.
func (e *Engine) RecalculateTransfers(userID string, profile netsim.Profile) {
	for _, state := range e.registry.ForUser(userID) {
		state.mu.Lock()
		if state.done || state.CurrentStep >= len(state.Steps)-1 {
			state.mu.Unlock()
			continue
		}
		state.Steps = netsim.RecalculatePlan(state.Steps, state.CurrentStep, profile, state.SizeKB, state.Label)
		state.LastUpdate = e.now()
		step := state.CurrentStep
		state.mu.Unlock()

		logger.Debugf("Recalculated transfer %s for user %s at step %d",
			state.Key, userID, step)
	}
}

// applyInstall commits the package record to the user's filesystem.
func (e *Engine) applyInstall(userID string, pkg pkgs.Package) error {
	fs, err := e.filesystems.Filesystem(userID)
	if err != nil {
		return err
	}

	record := fmt.Sprintf("name: %s\nsize: %s\n", pkg.Name, netsim.FormatSize(pkg.SizeKB))
	if err := fs.WriteFile(pkgRecordPath(pkg.Name), record); err != nil {
		return fmt.Errorf("failed to write package record: %w", err)
	}

	return e.filesystems.Save(userID)
}

// applyUpdate commits the new OS identity to the user's filesystem.
func (e *Engine) applyUpdate(userID, targetVersion, targetBranch string) error {
	fs, err := e.filesystems.Filesystem(userID)
	if err != nil {
		return err
	}

	if err := fs.WriteFile(vfs.OSVersionPath, targetVersion); err != nil {
		return fmt.Errorf("failed to write OS version: %w", err)
	}
	if err := fs.WriteFile(vfs.OSBranchPath, targetBranch); err != nil {
		return fmt.Errorf("failed to write OS branch: %w", err)
	}

	return e.filesystems.Save(userID)
}

// RunPackage returns the output of an installed package.
func (e *Engine) RunPackage(userID, name string) (string, error) {
	pkg, ok := pkgs.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}

	installed, err := e.Installed(userID, name)
	if err != nil {
		return "", err
	}
	if !installed {
		return "", fmt.Errorf("%w: %s", ErrNotInstalled, name)
	}

	return pkg.Output, nil
}
