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


// Package store orchestrates conversation indexing: it deduplicates against a
// persistent ledger, embeds canonical text in sub-batches, upserts the
// vectors, and records progress after every sub-batch so interrupted runs
// resume where they stopped.
//
// One store per storage directory. An advisory file lock enforces process
// exclusivity; a second Open fails with core.ErrAlreadyLocked while the first
// store is open.
package store
