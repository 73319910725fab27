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


package embedded

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/convodex/core"
)

// Key layout. Collection metadata and points live under distinct prefixes so
// a prefix scan over points never touches metadata.
//
//	meta:<collection>            -> 8-byte big-endian dimension
//	point:<collection>:<id>      -> marshaled point (id is 8-byte big-endian)
const (
	collectionKeyPrefix = "meta:"
	pointKeyPrefix      = "point:"
)

func makeCollectionKey(collection string) []byte {
	return []byte(collectionKeyPrefix + collection)
}

func pointPrefix(collection string) []byte {
	return []byte(pointKeyPrefix + collection + ":")
}

func makePointKey(collection string, id core.ID) []byte {
	prefix := pointPrefix(collection)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(id))
	return key
}

func pointIDFromKey(collection string, key []byte) (core.ID, error) {
	prefix := pointPrefix(collection)
	if len(key) != len(prefix)+8 {
		return 0, fmt.Errorf("malformed point key %q", key)
	}
	return core.ID(binary.BigEndian.Uint64(key[len(prefix):])), nil
}
