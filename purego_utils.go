//go:build darwin || linux

// Shared utilities for the purego-loaded native libraries.

package capture

import (
	"os"
	"path/filepath"
	"runtime"
	"unsafe"
)

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Add(p, length)) == 0 {
			break
		}
		length++
		if length > 1024 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// sharedLibName returns the platform file name of a native library.
func sharedLibName(base string) string {
	if runtime.GOOS == "darwin" {
		return base + ".dylib"
	}
	return base + ".so"
}

// findLibrary searches for a native library in STREAM_SDK_LIB_PATH, next to
// the executable, in the build directories of the module and in the system
// library paths. It returns "" when nothing is found.
func findLibrary(libName string) string {
	searchPaths := []string{
		os.Getenv("STREAM_SDK_LIB_PATH"),
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		searchPaths = append(searchPaths, exeDir, filepath.Join(exeDir, "..", "lib"))
	}
	if root := findModuleRoot(); root != "" {
		searchPaths = append(searchPaths,
			filepath.Join(root, "build"),
			filepath.Join(root, "build", "ffi"),
		)
	}
	searchPaths = append(searchPaths,
		"build",
		"build/ffi",
		"../build",
		"../build/ffi",
		"../../build",
		"../../build/ffi",
		"/usr/local/lib",
		"/usr/lib",
	)
	if runtime.GOOS == "darwin" {
		searchPaths = append(searchPaths, "/opt/homebrew/lib")
	}

	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		candidate := filepath.Join(p, libName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findModuleRoot walks up the directory tree from the current working directory
// to find the module root (directory containing go.mod).
func findModuleRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}
