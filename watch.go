package cfddns

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchConfig reloads the config file at path whenever its content changes.
//
// The directory is watched rather than the file so that editors which replace the file are noticed.
// A change that fails to load or validate is logged and skipped; the channel only carries valid configs.
// The channel is closed when ctx is done.
func WatchConfig(ctx context.Context, path string, logger zerolog.Logger) (<-chan *Config, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("error resolving config path: %w", err)
	}
	sum, err := fileHash(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("error watching %s: %w", filepath.Dir(path), err)
	}

	out := make(chan *Config)
	cw := &configWatcher{path: path, last: sum, logger: logger.With().Str("config", path).Logger()}
	go func() {
		defer close(out)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cw.logger.Warn().Err(err).Msg("config watcher error")
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !relevant(ev.Op) {
					continue
				}
				cfg := cw.check()
				if cfg == nil {
					continue
				}
				select {
				case out <- cfg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func relevant(op fsnotify.Op) bool {
	return op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

type configWatcher struct {
	path   string
	last   []byte
	logger zerolog.Logger
}

// check returns the new config if the file content changed and is valid.
func (cw *configWatcher) check() *Config {
	sum, err := fileHash(cw.path)
	if err != nil {
		// a rename may leave no file until the editor writes the replacement
		cw.logger.Debug().Err(err).Msg("config not readable")
		return nil
	}
	if bytes.Equal(sum, cw.last) {
		return nil
	}
	cfg, err := Load(cw.path)
	if err != nil {
		cw.logger.Warn().Err(err).Msg("config changed but is invalid, keeping the current one")
		return nil
	}
	cw.last = sum
	cw.logger.Info().Msg("config changed")
	return cfg
}

func fileHash(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(b)
	return h[:], nil
}
