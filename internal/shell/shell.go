package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opuadm/HappyPhoneBot/internal/engine"
	"github.com/opuadm/HappyPhoneBot/internal/logger"
	"github.com/opuadm/HappyPhoneBot/internal/netsim"
	"github.com/opuadm/HappyPhoneBot/internal/pkgs"
	"github.com/opuadm/HappyPhoneBot/internal/vfs"
)

// ErrUnknownCommand is returned for a command not in the dispatch table.
var ErrUnknownCommand = errors.New("command not found")

// Shell dispatches one terminal command line for one user. Every invocation
// first polls the user's active transfers, so any chat command acts as a
// simulation tick.
type Shell struct {
	engine      *engine.Engine
	profiles    *netsim.Store
	filesystems *vfs.Store
}

// New creates a shell over the given collaborators.
func New(eng *engine.Engine, profiles *netsim.Store, filesystems *vfs.Store) *Shell {
	return &Shell{engine: eng, profiles: profiles, filesystems: filesystems}
}

type handler func(s *Shell, userID string, args []string) (string, error)

var commands = map[string]handler{
	"help":      cmdHelp,
	"ls":        cmdLs,
	"cd":        cmdCd,
	"pwd":       cmdPwd,
	"cat":       cmdCat,
	"mkdir":     cmdMkdir,
	"touch":     cmdTouch,
	"write":     cmdWrite,
	"rm":        cmdRm,
	"pkg":       cmdPkg,
	"run":       cmdRun,
	"osinfo":    cmdOsinfo,
	"update":    cmdUpdate,
	"netset":    cmdNetset,
	"nettoggle": cmdNettoggle,
	"status":    cmdStatus,
}

// Execute runs one command line for the user. Transfer progress notices are
// prepended to the command output. User-caused failures (bad arguments,
// unknown packages and the like) come back as output text; only internal
// failures are returned as errors.
func (s *Shell) Execute(userID, line string) (string, error) {
	notices, err := s.engine.ProcessDownloads(userID)
	if err != nil {
		return "", fmt.Errorf("failed to advance downloads: %w", err)
	}

	out, err := s.dispatch(userID, line)
	if err != nil {
		if !isUserFacing(err) {
			return "", err
		}
		out = errorStyle.Render(err.Error())
	}

	parts := make([]string, 0, len(notices)+1)
	for _, n := range notices {
		parts = append(parts, noticeStyle.Render(n))
	}
	if out != "" {
		parts = append(parts, out)
	}

	return strings.Join(parts, "\n"), nil
}

func (s *Shell) dispatch(userID, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	cmd, ok := commands[fields[0]]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}

	logger.Debugf("User %s: %s", userID, line)

	return cmd(s, userID, fields[1:])
}

// isUserFacing reports whether err should be shown to the user as command
// output rather than propagated as an internal failure.
func isUserFacing(err error) bool {
	for _, target := range []error{
		ErrUnknownCommand,
		engine.ErrUnknownPackage,
		engine.ErrPackageUnavailable,
		engine.ErrAlreadyInstalled,
		engine.ErrNotInstalled,
		engine.ErrAlreadyInProgress,
		engine.ErrUnknownBranch,
		engine.ErrNoActiveTransfer,
		netsim.ErrInvalidSpeed,
		netsim.ErrInvalidLatency,
		netsim.ErrInvalidJitter,
		netsim.ErrInvalidLoss,
		netsim.ErrUnknownUnit,
		vfs.ErrNotFound,
		vfs.ErrNotDir,
		vfs.ErrIsDir,
		vfs.ErrExists,
		vfs.ErrContentTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func cmdHelp(_ *Shell, _ string, _ []string) (string, error) {
	return strings.TrimSpace(`
Available commands:
  ls [path]            list directory contents
  cd <path>            change directory
  pwd                  print working directory
  cat <file>           print file contents
  mkdir <path>         create a directory
  touch <file>         create an empty file
  write <file> <text>  write text to a file
  rm <path>            remove a file or directory
  pkg list             list installable packages
  pkg install <name>   download and install a package
  pkg remove <name>    remove a package (cancels an active download)
  run <name>           run an installed package
  osinfo               show OS version and branch
  update [--branch <b>] update the OS, optionally switching branch
  netset               show network settings
  netset <value> <unit> set speed (bps/kbps/mbps/gbps/tbps)
  netset latency <ms>  set latency
  netset jitter <ms>   set jitter
  netset loss <pct>    set packet loss
  nettoggle            toggle the network simulation
  status               show active downloads`), nil
}

func cmdLs(s *Shell, userID string, args []string) (string, error) {
	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	names, err := fs.List(vfs.ResolvePath(fs.CurrentDir, arg))
	if err != nil {
		return "", err
	}

	return strings.Join(names, "  "), nil
}

func cmdCd(s *Shell, userID string, args []string) (string, error) {
	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	arg := "/home"
	if len(args) > 0 {
		arg = args[0]
	}

	if err := fs.ChangeDir(vfs.ResolvePath(fs.CurrentDir, arg)); err != nil {
		return "", err
	}

	return "", s.filesystems.Save(userID)
}

func cmdPwd(s *Shell, userID string, _ []string) (string, error) {
	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}
	return fs.CurrentDir, nil
}

func cmdCat(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: cat <file>", nil
	}

	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	return fs.ReadFile(vfs.ResolvePath(fs.CurrentDir, args[0]))
}

func cmdMkdir(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: mkdir <path>", nil
	}

	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	if err := fs.Mkdir(vfs.ResolvePath(fs.CurrentDir, args[0])); err != nil {
		return "", err
	}

	return "", s.filesystems.Save(userID)
}

func cmdTouch(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: touch <file>", nil
	}

	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	// An existing file keeps its content.
	if _, err := fs.Stat(vfs.ResolvePath(fs.CurrentDir, args[0])); err == nil {
		return "", nil
	} else if !errors.Is(err, vfs.ErrNotFound) {
		return "", err
	}

	return cmdWrite(s, userID, []string{args[0]})
}

func cmdWrite(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: write <file> <text>", nil
	}

	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	content := strings.Join(args[1:], " ")
	if err := fs.WriteFile(vfs.ResolvePath(fs.CurrentDir, args[0]), content); err != nil {
		return "", err
	}

	return "", s.filesystems.Save(userID)
}

func cmdRm(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: rm <path>", nil
	}

	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	if err := fs.Remove(vfs.ResolvePath(fs.CurrentDir, args[0])); err != nil {
		return "", err
	}

	return "", s.filesystems.Save(userID)
}

func cmdPkg(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: pkg <list|install|remove> [name]", nil
	}

	switch args[0] {
	case "list":
		return s.renderPackageList(userID)
	case "install":
		if len(args) < 2 {
			return "usage: pkg install <name>", nil
		}
		return s.engine.InstallPackage(userID, args[1])
	case "remove":
		if len(args) < 2 {
			return "usage: pkg remove <name>", nil
		}
		return s.engine.RemovePackage(userID, args[1])
	default:
		return fmt.Sprintf("pkg: unknown subcommand %q", args[0]), nil
	}
}

func (s *Shell) renderPackageList(userID string) (string, error) {
	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, name := range pkgs.Names() {
		pkg, _ := pkgs.Get(name)

		marker := " "
		switch {
		case !pkgs.Available(pkg, fs.OSVersion(), fs.OSBranch()):
			marker = "-"
		default:
			installed, err := s.engine.Installed(userID, name)
			if err != nil {
				return "", err
			}
			if installed {
				marker = "*"
			}
		}

		fmt.Fprintf(&b, "%s %-10s %s\n", marker, name, netsim.FormatSize(pkg.SizeKB))
	}
	b.WriteString("(* installed, - unavailable on this system)")

	return b.String(), nil
}

func cmdRun(s *Shell, userID string, args []string) (string, error) {
	if len(args) < 1 {
		return "usage: run <name>", nil
	}
	return s.engine.RunPackage(userID, args[0])
}

func cmdOsinfo(s *Shell, userID string, _ []string) (string, error) {
	fs, err := s.filesystems.Filesystem(userID)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("HappyPhone OS %s (%s branch)", fs.OSVersion(), fs.OSBranch()), nil
}

func cmdUpdate(s *Shell, userID string, args []string) (string, error) {
	branch := ""
	if len(args) > 0 {
		if args[0] != "--branch" || len(args) < 2 {
			return "usage: update [--branch <" + strings.Join(pkgs.BranchNames(), "|") + ">]", nil
		}
		branch = args[1]
	}

	return s.engine.StartUpdate(userID, branch)
}

func cmdNetset(s *Shell, userID string, args []string) (string, error) {
	if len(args) == 0 {
		p, err := s.profiles.Profile(userID)
		if err != nil {
			return "", err
		}
		return renderProfile(p), nil
	}

	switch args[0] {
	case "latency", "jitter", "loss":
		if len(args) < 2 {
			return fmt.Sprintf("usage: netset %s <value>", args[0]), nil
		}
		value, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Sprintf("netset: %q is not a number", args[1]), nil
		}

		var p netsim.Profile
		switch args[0] {
		case "latency":
			p, err = s.profiles.SetLatency(userID, value)
		case "jitter":
			p, err = s.profiles.SetJitter(userID, value)
		case "loss":
			p, err = s.profiles.SetPacketLoss(userID, value)
		}
		if err != nil {
			return "", err
		}
		return renderProfile(p), nil
	default:
		if len(args) < 2 {
			return "usage: netset <value> <bps|kbps|mbps|gbps|tbps>", nil
		}
		value, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Sprintf("netset: %q is not a number", args[0]), nil
		}

		mbps, err := netsim.ParseSpeedMbps(value, args[1])
		if err != nil {
			return "", err
		}

		p, err := s.profiles.SetSpeed(userID, mbps)
		if err != nil {
			return "", err
		}
		return renderProfile(p), nil
	}
}

func cmdNettoggle(s *Shell, userID string, _ []string) (string, error) {
	p, err := s.profiles.Toggle(userID)
	if err != nil {
		return "", err
	}

	if p.Enabled {
		return "Network simulation enabled.", nil
	}
	return "Network simulation disabled. Transfers complete instantly.", nil
}

func cmdStatus(s *Shell, userID string, _ []string) (string, error) {
	transfers := s.engine.ActiveTransfers(userID)
	if len(transfers) == 0 {
		return "", engine.ErrNoActiveTransfer
	}

	lines := make([]string, 0, len(transfers))
	for _, tr := range transfers {
		pct, msg := tr.CurrentProgress()
		lines = append(lines, fmt.Sprintf("%s: %.0f%% - %s", tr.Label, pct, msg))
	}

	return strings.Join(lines, "\n"), nil
}

func renderProfile(p netsim.Profile) string {
	state := "on"
	if !p.Enabled {
		state = "off"
	}

	return fmt.Sprintf(
		"speed: %g Mbps\nlatency: %g ms\njitter: %g ms\npacket loss: %g%%\nsimulation: %s",
		p.SpeedMbps, p.LatencyMs, p.JitterMs, p.PacketLossPct, state)
}
