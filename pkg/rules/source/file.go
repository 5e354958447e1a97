package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"mercator-hq/arbiter/pkg/limits/ratelimit"
	"mercator-hq/arbiter/pkg/rules"
)

// LoadError indicates a rule file could not be read or parsed.
type LoadError struct {
	FilePath string
	Message  string
	Cause    error
}

// Error returns the error message.
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying cause.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// FileSourceConfig configures a FileSource.
type FileSourceConfig struct {
	// Extensions lists the file extensions loaded from a directory.
	// Default: .yaml, .yml, .json
	Extensions []string

	// MaxFileSize rejects larger files. Default: 1 MiB
	MaxFileSize int64

	// SkipHidden skips dot files and dot directories. Default: true
	SkipHidden bool
}

// DefaultFileSourceConfig returns the default configuration.
func DefaultFileSourceConfig() *FileSourceConfig {
	return &FileSourceConfig{
		Extensions:  []string{".yaml", ".yml", ".json"},
		MaxFileSize: 1 << 20,
		SkipHidden:  true,
	}
}

// FileSource loads rules from a file or a directory tree of rule files.
type FileSource struct {
	path   string
	config *FileSourceConfig
	logger *slog.Logger
}

// NewFileSource creates a file source. The path can be either a single file
// or a directory, which is walked recursively.
func NewFileSource(path string, config *FileSourceConfig, logger *slog.Logger) *FileSource {
	if config == nil {
		config = DefaultFileSourceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		config: config,
		logger: logger.With("component", "rules.source"),
	}
}

// Path returns the configured path.
func (s *FileSource) Path() string {
	return s.path
}

// LoadRules loads every rule and rate limit config under the path. Files are
// read in lexical order. Any unreadable or malformed file fails the load.
func (s *FileSource) LoadRules(ctx context.Context) ([]*rules.Rule, []ratelimit.Config, error) {
	files, err := s.Files()
	if err != nil {
		return nil, nil, err
	}

	var (
		allRules  []*rules.Rule
		allLimits []ratelimit.Config
	)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		doc, err := s.loadFile(path)
		if err != nil {
			return nil, nil, err
		}
		allRules = append(allRules, doc.Rules...)
		allLimits = append(allLimits, doc.RateLimits...)
	}

	s.logger.Info("loaded rules from source",
		"path", s.path,
		"files", len(files),
		"rules", len(allRules),
		"rate_limits", len(allLimits),
	)
	return allRules, allLimits, nil
}

// Files lists the rule files LoadRules reads, in load order.
func (s *FileSource) Files() ([]string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, &LoadError{FilePath: s.path, Message: "failed to access path", Cause: err}
	}
	if !info.IsDir() {
		return []string{s.path}, nil
	}
	return s.collectFiles()
}

// LoadFile reads and parses one rule file with the source's size and
// encoding checks. Rules are not validated.
func (s *FileSource) LoadFile(path string) (*Document, error) {
	return s.loadFile(path)
}

func (s *FileSource) loadFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to access file", Cause: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &LoadError{FilePath: path, Message: "not a regular file"}
	}
	if s.config.MaxFileSize > 0 && info.Size() > s.config.MaxFileSize {
		return nil, &LoadError{
			FilePath: path,
			Message:  fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), s.config.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to read file", Cause: err}
	}
	if !utf8.Valid(data) {
		return nil, &LoadError{FilePath: path, Message: "file contains invalid UTF-8 encoding"}
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, &LoadError{FilePath: path, Message: "failed to parse rules", Cause: err}
	}

	s.logger.Debug("loaded rule file", "path", path, "version", doc.Version, "rules", len(doc.Rules))
	return doc, nil
}

// collectFiles returns the rule files under the source directory, sorted.
func (s *FileSource) collectFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if s.config.SkipHidden && strings.HasPrefix(d.Name(), ".") && path != s.path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !hasExtension(path, s.config.Extensions) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, &LoadError{FilePath: s.path, Message: "failed to walk directory", Cause: err}
	}
	sort.Strings(files)
	return files, nil
}

func hasExtension(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, valid := range extensions {
		if ext == strings.ToLower(valid) {
			return true
		}
	}
	return false
}
