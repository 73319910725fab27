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


// Package index defines the vector index client contract used by the store:
// create-if-absent collections, batched upserts, similarity search with score
// thresholds and time filters, and collection statistics.
//
// Backends:
//
//   - index/qdrant: a Qdrant server over its REST API
//   - index/embedded: a local BadgerDB-backed index for single-machine
//     deployments and tests
//
// The index is an external collaborator — this package specifies the client
// protocol and nothing about the backend's storage engine.
package index
