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


// Package core defines the domain model for Convodex: exported conversation
// records in both archive shapes, the canonical text derivation used as
// embedding input, deterministic point identities, and the failure taxonomy
// shared by the ingestion pipeline.
//
// Everything in this package is pure: no I/O, no clocks, no randomness. That
// is what makes ingestion idempotent — the same archive always produces the
// same canonical texts and the same point ids.
package core
