// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poiesic/convodex/core"
	"golang.org/x/sys/unix"
)

const lockFileName = ".lock"

// processLock is an advisory flock held for the lifetime of an open store.
// The kernel releases the lock when the holding process dies, so a crashed
// run never leaves a stale lock behind.
type processLock struct {
	file *os.File
}

func acquireLock(storageDir string) (*processLock, error) {
	path := filepath.Join(storageDir, lockFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s held by another process", core.ErrAlreadyLocked, path)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	return &processLock{file: file}, nil
}

func (l *processLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
