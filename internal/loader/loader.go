package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sdpower/clawtools/internal/types"
)

// DefaultPattern matches session logs at any depth below the base directory.
const DefaultPattern = "**/sessions/*.jsonl"

const (
	defaultWorkers  = 4
	readBufferBytes = 64 * 1024
)

// FileResult is the outcome of loading one session file. When Err is set
// the file was skipped and Events is empty.
type FileResult struct {
	Path      string
	Events    []types.UsageEvent
	Lines     int
	Malformed int
	Ignored   int
	Err       error
}

type Loader struct {
	maxWorkers int
	pattern    string
	logger     *slog.Logger
}

func New() *Loader {
	return &Loader{
		maxWorkers: defaultWorkers,
		pattern:    DefaultPattern,
		logger:     slog.New(slog.DiscardHandler),
	}
}

func (l *Loader) SetWorkers(n int) {
	if n > 0 {
		l.maxWorkers = n
	}
}

func (l *Loader) SetPattern(pattern string) {
	if pattern != "" {
		l.pattern = pattern
	}
}

func (l *Loader) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// FindSessionFiles returns the files below baseDir whose slash-separated
// relative path matches the loader pattern, sorted lexically. A base path
// that is missing, unreadable or not a directory yields no files.
func (l *Loader) FindSessionFiles(baseDir string) ([]string, error) {
	if !doublestar.ValidatePattern(l.pattern) {
		return nil, fmt.Errorf("%w: bad session pattern %q", types.ErrInvalidConfig, l.pattern)
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		l.logger.Debug("base directory unavailable", "path", baseDir, "err", err)
		return nil, nil
	}
	if !info.IsDir() {
		l.logger.Debug("base path is not a directory", "path", baseDir)
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Continue walking, ignore inaccessible entries
			l.logger.Debug("skipping unreadable entry", "path", path, "err", err)
			if d != nil && d.IsDir() && path != baseDir {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if ok, _ := doublestar.Match(l.pattern, filepath.ToSlash(rel)); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	l.logger.Debug("found session files", "count", len(files), "base", baseDir)
	return files, nil
}

// LoadFromPath discovers the session files below baseDir and loads them.
func (l *Loader) LoadFromPath(ctx context.Context, baseDir string) ([]types.UsageEvent, []FileResult, error) {
	paths, err := l.FindSessionFiles(baseDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session files: %w", err)
	}
	return l.Load(ctx, paths)
}

// Load parses the given files with a bounded worker pool. Events are
// returned in file order, then line order, regardless of scheduling.
func (l *Loader) Load(ctx context.Context, paths []string) ([]types.UsageEvent, []FileResult, error) {
	results := make([]FileResult, len(paths))
	if len(paths) == 0 {
		return nil, results, nil
	}

	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := l.maxWorkers
	if workers > len(paths) {
		workers = len(paths)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = l.LoadFile(paths[idx])
			}
		}()
	}

	var cancelled error
dispatch:
	for i := range paths {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case <-ctx.Done():
			cancelled = ctx.Err()
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return nil, nil, cancelled
	}

	var events []types.UsageEvent
	skipped := 0
	for _, res := range results {
		if res.Err != nil {
			skipped++
			l.logger.Debug("skipped session file", "path", res.Path, "err", res.Err)
			continue
		}
		if res.Malformed > 0 || res.Ignored > 0 {
			l.logger.Debug("session file lines skipped",
				"path", filepath.Base(res.Path),
				"malformed", res.Malformed,
				"ignored", res.Ignored)
		}
		events = append(events, res.Events...)
	}

	l.logger.Debug("loaded usage events", "events", len(events), "files", len(paths), "skipped_files", skipped)
	return events, results, nil
}

// LoadFile reads one session file. Lines of any length are accepted. Any
// open or read failure is recorded in the result and discards the events
// parsed so far.
func (l *Loader) LoadFile(path string) FileResult {
	res := FileResult{Path: path}

	file, err := os.Open(path)
	if err != nil {
		res.Err = types.LoaderError{Path: path, Err: err}
		return res
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, readBufferBytes)

	var firstErr error
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			res.Lines++
			event, kind, perr := ParseLine(line)
			switch kind {
			case LineEvent:
				event.SessionFile = path
				res.Events = append(res.Events, event)
			case LineMalformed:
				res.Malformed++
				if firstErr == nil {
					firstErr = types.ParseError{Line: res.Lines, Err: perr}
				}
			case LineIgnored:
				res.Ignored++
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return FileResult{Path: path, Lines: res.Lines, Err: types.LoaderError{Path: path, Err: err}}
		}
	}

	if firstErr != nil {
		l.logger.Debug("first malformed line", "path", filepath.Base(path), "err", firstErr)
	}
	return res
}
