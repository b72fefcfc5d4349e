package sweph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mshafiee/sweph/bytesource"
	"github.com/mshafiee/sweph/internal/logging"
)

// EnvEphePath names the environment variable holding the search path.
const EnvEphePath = "SE_EPHE_PATH"

const zstdSuffix = ".zst"

// PathsFromEnv returns the search path from SE_EPHE_PATH, or nil when it is
// unset.
func PathsFromEnv() []string {
	return SplitPaths(os.Getenv(EnvEphePath))
}

// SplitPaths splits a search path at ';' and ':'. A colon that starts "://"
// does not separate, nor does one after a lone drive letter followed by a
// slash or backslash (C:\ephe).
func SplitPaths(s string) []string {
	var paths []string
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ';':
		case ':':
			if strings.HasPrefix(s[i:], "://") {
				continue
			}
			if i-start == 1 && isLetter(s[start]) && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == '/') {
				continue
			}
		default:
			continue
		}
		if p := strings.TrimSpace(s[start:i]); p != "" {
			paths = append(paths, p)
		}
		start = i + 1
	}
	if p := strings.TrimSpace(s[start:]); p != "" {
		paths = append(paths, p)
	}
	return paths
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Resolver finds ephemeris files along a search path. A path entry is a
// directory, a doublestar pattern matching directories (/data/ephe/**), or
// an http(s) base URL. A local file may also be stored as a seekable zstd
// archive next to where the plain file would be, with ".zst" appended.
type Resolver struct {
	paths  []string
	http   bytesource.HTTPConfig
	logger *slog.Logger
}

// NewResolver returns a resolver over paths, tried in order.
func NewResolver(paths []string, httpCfg bytesource.HTTPConfig, logger *slog.Logger) *Resolver {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return &Resolver{
		paths:  paths,
		http:   httpCfg,
		logger: logging.Default(logger).With("component", "resolver"),
	}
}

// Paths returns the search path.
func (r *Resolver) Paths() []string { return r.paths }

// Open returns a source for the file name, a slash separated path relative
// to the search path entries. ctx bounds the life of remote sources.
func (r *Resolver) Open(ctx context.Context, name string) (bytesource.ByteSource, error) {
	for _, p := range r.paths {
		src, err := r.openIn(ctx, p, name)
		if err == nil {
			r.logger.Debug("resolved ephemeris file", "name", name, "source", src.Name())
			return src, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, strings.Join(r.paths, ";"))
}

func (r *Resolver) openIn(ctx context.Context, p, name string) (bytesource.ByteSource, error) {
	if isURL(p) {
		url := strings.TrimSuffix(p, "/") + "/" + name
		src, err := bytesource.OpenHTTP(ctx, url, r.http)
		if errors.Is(err, bytesource.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return src, err
	}

	found := r.candidates(p, name)
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	if strings.HasSuffix(found[0], zstdSuffix) {
		return bytesource.OpenZstd(found[0])
	}
	return bytesource.OpenFile(found[0])
}

// candidates lists the existing local files for name under path entry p,
// plain files first.
func (r *Resolver) candidates(p, name string) []string {
	rel := filepath.FromSlash(name)
	if !hasMeta(p) {
		var found []string
		for _, c := range []string{filepath.Join(p, rel), filepath.Join(p, rel) + zstdSuffix} {
			if isRegular(c) {
				found = append(found, c)
			}
		}
		return found
	}

	var plain, packed []string
	for _, suffix := range []string{"", zstdSuffix} {
		matches, err := doublestar.FilepathGlob(filepath.Join(p, rel) + suffix)
		if err != nil {
			r.logger.Warn("bad search path pattern", "pattern", p, "error", err)
			return nil
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !isRegular(m) {
				continue
			}
			if suffix == "" {
				plain = append(plain, m)
			} else {
				packed = append(packed, m)
			}
		}
	}
	return append(plain, packed...)
}

// watchDirs returns the local directories of the search path: plain
// entries as they are, patterns cut at their first meta character.
func (r *Resolver) watchDirs() []string {
	var dirs []string
	seen := make(map[string]bool)
	for _, p := range r.paths {
		if isURL(p) {
			continue
		}
		dir := p
		if hasMeta(p) {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(p))
			dir = filepath.FromSlash(base)
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func isURL(p string) bool {
	return strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://")
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
