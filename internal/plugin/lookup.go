package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotFound is returned when a plugin name cannot be resolved by any
// of the three mechanisms in §6.3.
type ErrNotFound struct {
	Name    string
	Tried   []string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("plugin: could not resolve %q (tried: %s)", e.Name, strings.Join(e.Tried, ", "))
}

// soSuffix is the platform's shared-library extension (§6.3).
func soSuffix() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// pathListSeparator is ':' on POSIX and ';' on Windows (§6.3).
func pathListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// Resolve implements the §6.3 lookup order for one plugin role's
// registry:
//
//  1. If name contains a path separator, load it as a path directly.
//  2. Else, for each directory in TSPLUGINS_PATH, then the directory
//     containing the tsp binary, try tsplugin_<name>.<suffix>,
//     <name>.<suffix>, then <name> (bare).
//  3. Fall back to the host's dynamic-loader default search.
//
// A built-in registered in reg under the bare name always short-circuits
// steps 1-3 — in-process registration is cheaper and unambiguous, and is
// how every plugin shipped with this module is actually resolved; steps
// 1-3 exist for genuinely out-of-tree plugins built as Go plugin.Open
// shared objects.
func Resolve(reg *Registry, name string, exeDir string) (Factory, error) {
	if f, ok := reg.Lookup(name); ok {
		return f, nil
	}

	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return loadDynamic(name)
	}

	var tried []string
	suffix := soSuffix()

	dirs := make([]string, 0, 8)
	if env := os.Getenv("TSPLUGINS_PATH"); env != "" {
		dirs = append(dirs, strings.Split(env, pathListSeparator())...)
	}
	if exeDir != "" {
		dirs = append(dirs, exeDir)
	}

	for _, d := range dirs {
		candidates := []string{
			filepath.Join(d, "tsplugin_"+name+suffix),
			filepath.Join(d, name+suffix),
			filepath.Join(d, name),
		}
		for _, c := range candidates {
			tried = append(tried, c)
			if _, err := os.Stat(c); err == nil {
				return loadDynamic(c)
			}
		}
	}

	// Step 3: fall back to the host dynamic loader's own default
	// search path (e.g. LD_LIBRARY_PATH), by name alone.
	tried = append(tried, name+" (loader default search)")
	if f, err := loadDynamic(name); err == nil {
		return f, nil
	}

	return nil, &ErrNotFound{Name: name, Tried: tried}
}
