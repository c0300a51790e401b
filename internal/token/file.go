// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package token

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jeranaias/petwell/internal/logging"
	"github.com/jeranaias/petwell/internal/util"
)

// sealedMagic prefixes encrypted credential files.
var sealedMagic = []byte("PWE1")

// ErrSealed is returned when an encrypted file is read without a key, or with
// the wrong one.
var ErrSealed = errors.New("credential file is encrypted and cannot be opened with the configured key")

// FileStore keeps the credential slots in a single JSON file, optionally
// sealed with XChaCha20-Poly1305. Every process pointing at the same file
// shares one session: an fsnotify watcher on the parent directory turns
// writes and deletions by other processes into Change events.
type FileStore struct {
	path string
	aead cipher.AEAD
	log  logrus.FieldLogger

	mu   sync.Mutex
	last map[Key]string

	subs    subscribers
	watch   bool
	watcher *fsnotify.Watcher
	done    chan struct{}
	closeMu sync.Once
}

// FileOption configures a FileStore.
type FileOption func(*FileStore) error

// WithEncryptionKey seals the file with a 32-byte key.
func WithEncryptionKey(key []byte) FileOption {
	return func(s *FileStore) error {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("invalid credential encryption key: %w", err)
		}
		s.aead = aead
		return nil
	}
}

// WithFileLogger sets the logger used for watcher diagnostics.
func WithFileLogger(l logrus.FieldLogger) FileOption {
	return func(s *FileStore) error {
		s.log = l
		return nil
	}
}

// WithoutWatch disables change notifications. Used by one-shot CLI commands.
func WithoutWatch() FileOption {
	return func(s *FileStore) error {
		s.watch = false
		return nil
	}
}

// ParseKey decodes a hex-encoded 32-byte encryption key.
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// NewFileStore opens (without creating) the credential file at path and
// starts watching it.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential path: %w", err)
	}

	s := &FileStore{
		path:  abs,
		log:   logging.Std(),
		watch: true,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	current, err := s.read()
	if err != nil {
		return nil, err
	}
	s.last = current

	if s.watch {
		if err := s.startWatcher(); err != nil {
			return nil, err
		}
	} else {
		close(s.done)
	}
	return s, nil
}

// Path returns the absolute path of the credential file.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(_ context.Context, key Key) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return "", err
	}
	return current[key], nil
}

func (s *FileStore) Set(_ context.Context, key Key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	if value == "" {
		delete(current, key)
	} else {
		current[key] = value
	}
	// Record before writing so the watcher sees no difference for our own write.
	s.last = copySlots(current)
	return s.write(current)
}

// Clear removes the file, which is a single atomic filesystem operation.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = make(map[Key]string)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}

func (s *FileStore) Subscribe(fn func(Change)) func() {
	return s.subs.add(fn)
}

// Close stops the watcher.
func (s *FileStore) Close() error {
	var err error
	s.closeMu.Do(func() {
		if s.watcher != nil {
			err = s.watcher.Close()
			<-s.done
		}
	})
	return err
}

// =============================================================================
// WATCHER
// =============================================================================

func (s *FileStore) startWatcher() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create credential watcher: %w", err)
	}
	// Watch the directory: atomic writes replace the file via rename, which
	// would drop a watch placed on the file itself.
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	s.watcher = w

	go s.processEvents()
	return nil
}

func (s *FileStore) processEvents() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			logging.Event(s.log, "TOKEN_WATCH_PANIC").Errorf("credential watcher stopped: %v", r)
		}
	}()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.reload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Event(s.log, "TOKEN_WATCH_ERROR").WithError(err).Warn("credential watcher error")
		}
	}
}

// reload re-reads the file and publishes whatever differs from what this
// handle last saw.
func (s *FileStore) reload() {
	s.mu.Lock()
	current, err := s.read()
	if err != nil {
		s.mu.Unlock()
		logging.Event(s.log, "TOKEN_RELOAD_FAILED").WithError(err).Warn("could not re-read credential file")
		return
	}
	changes := diffSlots(s.last, current)
	s.last = current
	s.mu.Unlock()

	if len(changes) > 0 {
		s.subs.publish(changes...)
	}
}

// =============================================================================
// ENCODING
// =============================================================================

func (s *FileStore) read() (map[Key]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[Key]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	if len(data) == 0 {
		return make(map[Key]string), nil
	}

	if bytes.HasPrefix(data, sealedMagic) {
		if s.aead == nil {
			return nil, ErrSealed
		}
		data, err = s.open(data[len(sealedMagic):])
		if err != nil {
			return nil, err
		}
	}

	slots := make(map[Key]string)
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode credential file: %w", err)
	}
	return slots, nil
}

func (s *FileStore) write(slots map[Key]string) error {
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if s.aead != nil {
		data, err = s.seal(data)
		if err != nil {
			return err
		}
	}
	return util.AtomicWriteFile(s.path, data, 0600)
}

func (s *FileStore) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(plain)+s.aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, plain, sealedMagic), nil
}

func (s *FileStore) open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrSealed
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], sealedMagic)
	if err != nil {
		return nil, ErrSealed
	}
	return plain, nil
}

func copySlots(in map[Key]string) map[Key]string {
	out := make(map[Key]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func diffSlots(before, after map[Key]string) []Change {
	var changes []Change
	for _, k := range Keys {
		was, now := before[k], after[k]
		if was == now {
			continue
		}
		changes = append(changes, Change{Key: k, Value: now, Removed: now == ""})
	}
	return changes
}
