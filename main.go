package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/opuadm/HappyPhoneBot/internal/config"
	"github.com/opuadm/HappyPhoneBot/internal/engine"
	"github.com/opuadm/HappyPhoneBot/internal/logger"
	"github.com/opuadm/HappyPhoneBot/internal/netsim"
	"github.com/opuadm/HappyPhoneBot/internal/pkgs"
	"github.com/opuadm/HappyPhoneBot/internal/repository"
	"github.com/opuadm/HappyPhoneBot/internal/shell"
	"github.com/opuadm/HappyPhoneBot/internal/vfs"
)

// localUser is the user id the development REPL runs as. A bot transport
// would pass its own per-chat user ids instead.
const localUser = "local"

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Printf("Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogging(cfg.Debug, cfg.LogFile); err != nil {
		fmt.Printf("Warning: Failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	repo, err := repository.NewBoltRepository(filepath.Join(cfg.DataDir, "happyphone.db"))
	if err != nil {
		logger.Errorf("Error creating repository: %v", err)
		fmt.Printf("Error creating repository: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	profiles := netsim.NewStore(repo, netsim.Profile{
		SpeedMbps:     cfg.Network.SpeedMbps,
		LatencyMs:     cfg.Network.LatencyMs,
		JitterMs:      cfg.Network.JitterMs,
		PacketLossPct: cfg.Network.PacketLossPct,
		Enabled:       !cfg.Network.Disabled,
	})
	filesystems := vfs.NewStore(repo, vfs.Defaults{
		OSVersion: pkgs.DefaultOSVersion,
		OSBranch:  pkgs.DefaultOSBranch,
	})

	eng := engine.NewEngine(profiles, filesystems)
	sh := shell.New(eng, profiles, filesystems)

	// Graceful shutdown on interrupt.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		logger.Close()
		repo.Close()
		os.Exit(0)
	}()

	fmt.Println(shell.Banner())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(shell.Prompt(localUser))
		if !scanner.Scan() {
			break
		}

		out, err := sh.Execute(localUser, scanner.Text())
		if err != nil {
			logger.Errorf("Command failed: %v", err)
			fmt.Printf("internal error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Println(out)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}
