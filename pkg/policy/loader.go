package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// reloadDelay debounces bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego, .json and .yaml files and watches them
// for changes.
type Loader struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// policyDocument is the on-disk form of a JSON or YAML policy. Enabled
// defaults to true when omitted.
type policyDocument struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Rego        string   `json:"rego" yaml:"rego"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Enabled     *bool    `json:"enabled" yaml:"enabled"`
	Tags        []string `json:"tags" yaml:"tags"`
}

func (d policyDocument) policy(source string) Policy {
	enabled := d.Enabled == nil || *d.Enabled
	return Policy{
		Name:        d.Name,
		Description: d.Description,
		Rego:        d.Rego,
		Severity:    d.Severity,
		Enabled:     enabled,
		Tags:        d.Tags,
		Source:      source,
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

// loadFromPath loads policies from a single file or directory.
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}
	return l.loadFromFile(ctx, path)
}

// loadFromDirectory loads every policy file below dirPath. Files that fail
// to parse are logged and skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		loaded, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}
		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// loadFromFile loads the policies of one file. A .rego file is one policy
// named after the file; JSON and YAML files hold one policy or a bundle.
func (l *Loader) loadFromFile(ctx context.Context, filePath string) ([]Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policies []Policy
	switch filepath.Ext(filePath) {
	case ".rego":
		policies = []Policy{l.parseRego(filePath, data)}
	case ".json":
		policies, err = parseDocument(filePath, data, json.Unmarshal)
	case ".yaml", ".yml":
		policies, err = parseDocument(filePath, data, yaml.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return nil, err
	}

	for i := range policies {
		if err := validate.Struct(policies[i]); err != nil {
			return nil, fmt.Errorf("invalid policy in %s: %w", filePath, err)
		}
	}

	l.logger.Debug().
		Str("path", filePath).
		Int("policies", len(policies)).
		Msg("Policy file loaded")

	return policies, nil
}

// parseRego turns a .rego file into a policy. Leading comments become the
// description.
func (l *Loader) parseRego(filePath string, data []byte) Policy {
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{},
		Source:      filePath,
	}
}

// parseDocument decodes either a bundle (a document with a "policies" list)
// or a single policy.
func parseDocument(filePath string, data []byte, unmarshal func([]byte, any) error) ([]Policy, error) {
	var bundle struct {
		Name     string           `json:"name" yaml:"name"`
		Version  string           `json:"version" yaml:"version"`
		Policies []policyDocument `json:"policies" yaml:"policies"`
	}
	if err := unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(bundle.Policies) > 0 {
		out := make([]Policy, 0, len(bundle.Policies))
		for _, doc := range bundle.Policies {
			out = append(out, doc.policy(filePath))
		}
		return out, nil
	}

	var doc policyDocument
	if err := unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return []Policy{doc.policy(filePath)}, nil
}

// leadingComment collects the comment lines before the first statement.
func leadingComment(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && description.Len() > 0 {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if comment == "" {
			continue
		}
		if description.Len() > 0 {
			description.WriteString(" ")
		}
		description.WriteString(comment)
	}

	return description.String()
}

// LoadBundle loads a JSON or YAML policy bundle.
func (l *Loader) LoadBundle(bundlePath string) (*Bundle, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	unmarshal := json.Unmarshal
	if ext := filepath.Ext(bundlePath); ext == ".yaml" || ext == ".yml" {
		unmarshal = yaml.Unmarshal
	}

	var bundle struct {
		Name        string           `json:"name" yaml:"name"`
		Version     string           `json:"version" yaml:"version"`
		Description string           `json:"description" yaml:"description"`
		Policies    []policyDocument `json:"policies" yaml:"policies"`
	}
	if err := unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}

	out := &Bundle{Name: bundle.Name, Version: bundle.Version, Description: bundle.Description}
	for _, doc := range bundle.Policies {
		out.Policies = append(out.Policies, doc.policy(bundlePath))
	}
	if err := validate.Struct(out); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}

	l.logger.Info().
		Str("bundle", out.Name).
		Str("version", out.Version).
		Int("policies", len(out.Policies)).
		Msg("Policy bundle loaded")

	return out, nil
}

// Watch watches paths and calls reloadFn with the freshly loaded policies
// after changes settle. It returns once the watcher is running.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path")
		}
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().
		Int("paths", len(paths)).
		Msg("Started watching policy paths")
	return nil
}

// processEvents debounces file events into reloads.
func (l *Loader) processEvents(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if err := reloadFn(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}

	l.logger.Info().
		Int("count", len(policies)).
		Msg("Policies reloaded")
	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
