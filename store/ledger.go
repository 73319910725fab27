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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const ledgerFileName = "processed_conversations.json"

// ledger tracks which conversation keys have already been indexed. It is
// persisted as a JSON array after every sub-batch, so a crash loses at most
// one sub-batch of progress.
type ledger struct {
	path string
	keys map[string]struct{}
}

func loadLedger(storageDir string) (*ledger, error) {
	l := &ledger{
		path: filepath.Join(storageDir, ledgerFileName),
		keys: map[string]struct{}{},
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", l.path, err)
	}
	for _, k := range keys {
		l.keys[k] = struct{}{}
	}
	return l, nil
}

func (l *ledger) contains(key string) bool {
	_, ok := l.keys[key]
	return ok
}

func (l *ledger) add(keys ...string) {
	for _, k := range keys {
		l.keys[k] = struct{}{}
	}
}

func (l *ledger) size() int {
	return len(l.keys)
}

// save writes the full key set to a temp file and renames it into place, so
// readers never observe a half-written ledger.
func (l *ledger) save() error {
	keys := make([]string, 0, len(l.keys))
	for k := range l.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
