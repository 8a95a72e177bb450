package profile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

const (
	sessionStateDir  = "session_state"
	sessionStateName = "session_state.json"
	profileDirName   = "profile"
)

// fullExcludes are never exported: locks, crash dumps and caches.
var fullExcludes = []string{
	"**/SingletonLock",
	"**/SingletonSocket",
	"**/lockfile*",
	"**/GpuCache/**",
	"**/Crashpad/**",
	"**/Cache/**",
	"**/ShaderCache/**",
}

// minimalPaths is the allow-list exported when the full profile is not requested.
var minimalPaths = []string{
	"Default/Bookmarks",
	"Default/Preferences",
	"Default/Cookies",
	"Default/Local Extension Settings",
	"Default/Extensions",
	"Extensions",
	"Default/Network Action Predictor",
	"Default/History",
}

func excluded(rel string) bool {
	for _, pattern := range fullExcludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// walkFiles returns the regular files under root as slash paths relative to root.
func walkFiles(root string, keep func(rel string) bool) ([]string, error) {
	var (
		mu  sync.Mutex
		out []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if keep != nil && !keep(rel) {
			return nil
		}
		mu.Lock()
		out = append(out, rel)
		mu.Unlock()
		return nil
	})
	sort.Strings(out)
	return out, err
}

// CollectEntries lists what an export contains: the persisted state file
// when present, and either the filtered full profile or the allow-list.
func CollectEntries(profileDir, statePath string, full bool) ([]Entry, error) {
	var entries []Entry
	if info, err := os.Stat(statePath); err == nil && info.Mode().IsRegular() {
		entries = append(entries, Entry{Name: sessionStateDir + "/" + sessionStateName, Path: statePath})
	}

	if info, err := os.Stat(profileDir); err == nil && info.IsDir() {
		profileEntries, err := collectProfile(profileDir, full)
		if err != nil {
			return nil, err
		}
		entries = append(entries, profileEntries...)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, ErrNothingToExport
	}
	return entries, nil
}

func collectProfile(profileDir string, full bool) ([]Entry, error) {
	var entries []Entry
	add := func(rel string) {
		entries = append(entries, Entry{
			Name: profileDirName + "/" + rel,
			Path: filepath.Join(profileDir, filepath.FromSlash(rel)),
		})
	}

	if full {
		files, err := walkFiles(profileDir, func(rel string) bool { return !excluded(rel) })
		if err != nil {
			return nil, err
		}
		for _, rel := range files {
			add(rel)
		}
		return entries, nil
	}

	for _, rel := range minimalPaths {
		p := filepath.Join(profileDir, filepath.FromSlash(rel))
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			add(rel)
			continue
		}
		if !info.IsDir() {
			continue
		}
		files, err := walkFiles(p, nil)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			add(strings.TrimSuffix(rel, "/") + "/" + f)
		}
	}
	return entries, nil
}
