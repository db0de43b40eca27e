// Package config resolves the linker configuration: the target to load, the
// library search paths and the dependency remap table. Defaults may be
// overridden by an optional YAML file and by FOLD_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"

	"github.com/zboralski/fold/internal/manifold"
)

// File is the YAML configuration shape.
//
//	search_paths: [/opt/sysroot/lib]
//	remap:
//	  libc.so.6: libc.so   # substitute
//	  libm.so:             # drop (provided by the libc above)
//	verbose: true
type File struct {
	SearchPaths []string           `yaml:"search_paths"`
	Remap       map[string]*string `yaml:"remap"`
	Verbose     bool               `yaml:"verbose"`
}

// Config is the resolved linker configuration.
type Config struct {
	// Target is the path of the program to load.
	Target string
	// Env is the process environment handed to the loaded program.
	Env *manifold.Env
	// SearchPaths are probed in order by the collector.
	SearchPaths []string
	// Remap maps dependency-name prefixes to substitutes; a nil value drops
	// the dependency.
	Remap map[string]*string
	// Verbose enables debug logging.
	Verbose bool
}

// DefaultRemap returns the musl substitution table: the versioned system
// libc maps to the musl libc and the libraries musl itself provides are
// dropped.
func DefaultRemap() map[string]*string {
	libc := "libc.so"
	m := map[string]*string{
		"libc.so": &libc,
	}
	for _, drop := range []string{
		"ld-linux-x86-64.so",
		"libcrypt.so",
		"libdl.so",
		"libm.so",
		"libpthread.so",
		"libresolv.so",
		"librt.so",
		"libutil.so",
		"libxnet.so",
	} {
		m[drop] = nil
	}
	return m
}

// FindTarget applies the interpreter-invocation rule: when argv[0] does not
// end with the loader binary's name, the loader was invoked as the program's
// interpreter and argv[0] is the target; otherwise the target is argv[1].
func FindTarget(args []string, loaderName string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("no target to execute")
	}
	if !strings.HasSuffix(args[0], loaderName) {
		return args[0], nil
	}
	if len(args) < 2 {
		return "", fmt.Errorf("no target to execute")
	}
	return args[1], nil
}

// Load resolves the configuration for the given process environment.
func Load(procEnv *manifold.Env, loaderName string) (*Config, error) {
	target, err := FindTarget(procEnv.Args, loaderName)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Target:  target,
		Env:     procEnv,
		Remap:   DefaultRemap(),
		Verbose: env.Bool("FOLD_DEBUG"),
	}

	var file File
	if path := env.Str("FOLD_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		for k, v := range file.Remap {
			cfg.Remap[k] = v
		}
		cfg.Verbose = cfg.Verbose || file.Verbose
	}

	cfg.SearchPaths = searchPaths(target, file.SearchPaths)
	return cfg, nil
}

// searchPaths seeds the probe order: the target's directory first, then the
// FOLD_LIBRARY_PATH entries, then the configured list, then the system
// defaults.
func searchPaths(target string, configured []string) []string {
	paths := []string{targetDir(target)}
	if lp := env.Str("FOLD_LIBRARY_PATH"); lp != "" {
		paths = append(paths, filepath.SplitList(lp)...)
	}
	paths = append(paths, configured...)
	paths = append(paths, "/lib/fold-musl", "/lib", "/lib64", "/usr/lib/")
	return paths
}

func targetDir(target string) string {
	if dir := filepath.Dir(target); dir != "" {
		return dir
	}
	return "."
}
