package profile

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"
)

// MaxSearchDepth bounds profile-root discovery below the extraction directory.
const MaxSearchDepth = 3

// profileMarkers identify a browser user-data directory.
var profileMarkers = []string{"Default", "Preferences", "Bookmarks"}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func hasMarkers(dir string) bool {
	for _, m := range profileMarkers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

// LocateProfileRoot searches base breadth-first, at most maxDepth levels deep,
// for a directory named "profile" or one holding profile marker files.
func LocateProfileRoot(base string, maxDepth int) (string, bool) {
	type node struct {
		dir   string
		depth int
	}
	queue := []node{{dir: base}}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		if candidate := filepath.Join(n.dir, profileDirName); isDir(candidate) {
			return candidate, true
		}
		if hasMarkers(n.dir) {
			return n.dir, true
		}
		if n.depth >= maxDepth {
			continue
		}

		children, err := os.ReadDir(n.dir)
		if err != nil {
			continue
		}
		for _, c := range children {
			if c.IsDir() {
				queue = append(queue, node{dir: filepath.Join(n.dir, c.Name()), depth: n.depth + 1})
			}
		}
	}
	return "", false
}

// FindSessionState returns the shallowest file under base named
// session_state.json, compared case-insensitively.
func FindSessionState(base string) (string, bool) {
	var (
		mu      sync.Mutex
		matches []string
	)
	conf := fastwalk.Config{Follow: false}
	fastwalk.Walk(&conf, base, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(d.Name(), sessionStateName) {
			mu.Lock()
			matches = append(matches, p)
			mu.Unlock()
		}
		return nil
	})
	if len(matches) == 0 {
		return "", false
	}

	depth := func(p string) int { return strings.Count(filepath.ToSlash(p), "/") }
	sort.Slice(matches, func(i, j int) bool {
		di, dj := depth(matches[i]), depth(matches[j])
		if di != dj {
			return di < dj
		}
		return matches[i] < matches[j]
	})
	return matches[0], true
}
