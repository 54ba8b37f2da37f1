package pkgs

import (
	"sort"

	"github.com/opuadm/HappyPhoneBot/internal/version"
)

// Package is a catalog entry: pure reference data, never mutated.
type Package struct {
	Name string
	// SizeKB drives the simulated download duration.
	SizeKB float64
	// MinVersion maps a branch to the minimum OS version the package
	// requires on that branch. A branch absent from the map means the
	// package is not shipped for that branch at all.
	MinVersion map[string]string
	// Output is what running the installed package prints.
	Output string
}

// Branch names and their latest versions. Default identity for new users.
const (
	BranchStable   = "stable"
	BranchUnstable = "unstable"

	DefaultOSVersion = "2.1.4"
	DefaultOSBranch  = BranchStable
)

// BranchVersions maps each release branch to its latest version.
var BranchVersions = map[string]string{
	BranchStable:   "2.1.4",
	BranchUnstable: "2.3.1",
}

// updateSizesKB maps an update's target version to its download size.
// Unlisted versions fall back to DefaultUpdateSizeKB.
var updateSizesKB = map[string]float64{
	"2.1.4": 28672,
	"2.3.1": 51200,
}

// DefaultUpdateSizeKB is the size assumed for OS updates without a listed size.
const DefaultUpdateSizeKB = 35840

// Catalog is every installable package, keyed by name.
var Catalog = map[string]Package{
	"cowsay": {
		Name:       "cowsay",
		SizeKB:     472,
		MinVersion: map[string]string{BranchStable: "2.0.0", BranchUnstable: "2.0.0"},
		Output:     "< moo >",
	},
	"fortune": {
		Name:       "fortune",
		SizeKB:     1293,
		MinVersion: map[string]string{BranchStable: "2.0.0", BranchUnstable: "2.0.0"},
		Output:     "You will download many things, but keep none of them.",
	},
	"figlet": {
		Name:       "figlet",
		SizeKB:     857,
		MinVersion: map[string]string{BranchStable: "2.0.0", BranchUnstable: "2.0.0"},
		Output:     "_  _ ____ _    _    ____",
	},
	"sl": {
		Name:       "sl",
		SizeKB:     210,
		MinVersion: map[string]string{BranchStable: "2.0.0", BranchUnstable: "2.0.0"},
		Output:     "choo choo",
	},
	"htop": {
		Name:       "htop",
		SizeKB:     2048,
		MinVersion: map[string]string{BranchStable: "2.1.0", BranchUnstable: "2.1.0"},
		Output:     "CPU [||||      ] 38%   MEM [||        ] 12%",
	},
	"neofetch": {
		Name:       "neofetch",
		SizeKB:     3672,
		MinVersion: map[string]string{BranchStable: "2.1.4", BranchUnstable: "2.2.0"},
		Output:     "OS: HappyPhone OS",
	},
}

// Get looks up a package by name.
func Get(name string) (Package, bool) {
	pkg, ok := Catalog[name]
	return pkg, ok
}

// Names returns all catalog package names, sorted.
func Names() []string {
	names := make([]string, 0, len(Catalog))
	for name := range Catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available reports whether pkg can be installed on the given OS identity:
// the package must ship for the branch, and the OS version must meet the
// branch's minimum.
func Available(pkg Package, currentVersion, currentBranch string) bool {
	minVersion, ok := pkg.MinVersion[currentBranch]
	if !ok {
		return false
	}
	return version.AtLeast(currentVersion, minVersion)
}

// BranchVersion resolves a branch name to its latest version.
func BranchVersion(branch string) (string, bool) {
	v, ok := BranchVersions[branch]
	return v, ok
}

// UpdateSizeKB returns the download size for an update to targetVersion.
func UpdateSizeKB(targetVersion string) float64 {
	if size, ok := updateSizesKB[targetVersion]; ok {
		return size
	}
	return DefaultUpdateSizeKB
}

// BranchNames returns all known branch names, sorted.
func BranchNames() []string {
	names := make([]string, 0, len(BranchVersions))
	for name := range BranchVersions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
