package vfs

import (
	"errors"
	"path"
	"sort"
	"strings"
)

// MaxContentLength is the ceiling on a single file's content.
const MaxContentLength = 4096

// Well-known paths inside every user filesystem.
const (
	PkgsDir       = "/sys/pkgs"
	OSVersionPath = "/sys/os_version"
	OSBranchPath  = "/sys/os_branch"
)

var (
	// ErrNotFound is returned when a path does not resolve to a node.
	ErrNotFound = errors.New("no such file or directory")

	// ErrNotDir is returned when a path component is not a directory.
	ErrNotDir = errors.New("not a directory")

	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("is a directory")

	// ErrExists is returned when creating a node that already exists.
	ErrExists = errors.New("file exists")

	// ErrContentTooLarge is returned when a write exceeds MaxContentLength.
	ErrContentTooLarge = errors.New("content exceeds maximum length")
)

// Node is a single entry in a user's virtual filesystem tree.
type Node struct {
	Name     string           `json:"name"`
	IsDir    bool             `json:"is_dir"`
	Content  string           `json:"content,omitempty"`
	Children map[string]*Node `json:"children,omitempty"`
}

// Filesystem is one user's tree plus their working directory.
type Filesystem struct {
	Root       *Node  `json:"root"`
	CurrentDir string `json:"current_dir"`
}

// NewFilesystem builds the default tree every user starts with. The OS
// identity leaves are seeded with the given version and branch.
func NewFilesystem(osVersion, osBranch string) *Filesystem {
	root := newDir("/")
	fs := &Filesystem{Root: root, CurrentDir: "/home"}

	for _, dir := range []string{"/home", "/tmp", "/sys", PkgsDir} {
		fs.mustMkdirAll(dir)
	}
	fs.mustWrite(OSVersionPath, osVersion)
	fs.mustWrite(OSBranchPath, osBranch)

	return fs
}

func newDir(name string) *Node {
	return &Node{Name: name, IsDir: true, Children: make(map[string]*Node)}
}

// ResolvePath turns arg into a cleaned absolute path relative to cwd.
func ResolvePath(cwd, arg string) string {
	if arg == "" {
		return path.Clean(cwd)
	}
	if !strings.HasPrefix(arg, "/") {
		arg = path.Join(cwd, arg)
	}
	return path.Clean(arg)
}

// LookupResult describes where a path landed in the tree.
type LookupResult struct {
	Parent   *Node
	FileName string
	Target   *Node
	Found    bool
}

// Lookup walks the tree for an absolute path. With createParents set,
// missing intermediate directories are created on the way down. A missing
// leaf is not an error: Found is false and Target nil, with Parent set so
// the caller can create the leaf.
func (fs *Filesystem) Lookup(absPath string, createParents bool) (LookupResult, error) {
	absPath = path.Clean(absPath)
	if absPath == "/" {
		return LookupResult{Parent: nil, FileName: "/", Target: fs.Root, Found: true}, nil
	}

	parts := strings.Split(strings.TrimPrefix(absPath, "/"), "/")
	current := fs.Root

	for _, part := range parts[:len(parts)-1] {
		child, ok := current.Children[part]
		if !ok {
			if !createParents {
				return LookupResult{}, ErrNotFound
			}
			child = newDir(part)
			current.Children[part] = child
		}
		if !child.IsDir {
			return LookupResult{}, ErrNotDir
		}
		current = child
	}

	leaf := parts[len(parts)-1]
	target, found := current.Children[leaf]

	return LookupResult{Parent: current, FileName: leaf, Target: target, Found: found}, nil
}

// Stat returns the node at absPath.
func (fs *Filesystem) Stat(absPath string) (*Node, error) {
	res, err := fs.Lookup(absPath, false)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, ErrNotFound
	}
	return res.Target, nil
}

// Mkdir creates a directory at absPath, creating parents as needed.
func (fs *Filesystem) Mkdir(absPath string) error {
	res, err := fs.Lookup(absPath, true)
	if err != nil {
		return err
	}
	if res.Found {
		return ErrExists
	}
	res.Parent.Children[res.FileName] = newDir(res.FileName)
	return nil
}

// WriteFile creates or replaces the file at absPath with content.
func (fs *Filesystem) WriteFile(absPath, content string) error {
	if len(content) > MaxContentLength {
		return ErrContentTooLarge
	}

	res, err := fs.Lookup(absPath, true)
	if err != nil {
		return err
	}
	if res.Found && res.Target.IsDir {
		return ErrIsDir
	}

	res.Parent.Children[res.FileName] = &Node{Name: res.FileName, Content: content}
	return nil
}

// ReadFile returns the content of the file at absPath.
func (fs *Filesystem) ReadFile(absPath string) (string, error) {
	node, err := fs.Stat(absPath)
	if err != nil {
		return "", err
	}
	if node.IsDir {
		return "", ErrIsDir
	}
	return node.Content, nil
}

// Remove deletes the node at absPath. The root cannot be removed.
func (fs *Filesystem) Remove(absPath string) error {
	res, err := fs.Lookup(absPath, false)
	if err != nil {
		return err
	}
	if !res.Found {
		return ErrNotFound
	}
	if res.Parent == nil {
		return ErrIsDir
	}
	delete(res.Parent.Children, res.FileName)
	return nil
}

// List returns the sorted child names of the directory at absPath.
// Directory names carry a trailing slash.
func (fs *Filesystem) List(absPath string) ([]string, error) {
	node, err := fs.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !node.IsDir {
		return nil, ErrNotDir
	}

	names := make([]string, 0, len(node.Children))
	for name, child := range node.Children {
		if child.IsDir {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

// ChangeDir updates the working directory to absPath.
func (fs *Filesystem) ChangeDir(absPath string) error {
	node, err := fs.Stat(absPath)
	if err != nil {
		return err
	}
	if !node.IsDir {
		return ErrNotDir
	}
	fs.CurrentDir = path.Clean(absPath)
	return nil
}

// OSVersion reads the OS version leaf.
func (fs *Filesystem) OSVersion() string {
	v, err := fs.ReadFile(OSVersionPath)
	if err != nil {
		return ""
	}
	return v
}

// OSBranch reads the OS branch leaf.
func (fs *Filesystem) OSBranch() string {
	b, err := fs.ReadFile(OSBranchPath)
	if err != nil {
		return ""
	}
	return b
}

func (fs *Filesystem) mustMkdirAll(absPath string) {
	res, err := fs.Lookup(absPath, true)
	if err != nil {
		panic(err)
	}
	if !res.Found {
		res.Parent.Children[res.FileName] = newDir(res.FileName)
	}
}

func (fs *Filesystem) mustWrite(absPath, content string) {
	if err := fs.WriteFile(absPath, content); err != nil {
		panic(err)
	}
}
