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


package core

import "errors"

// Failure taxonomy shared across the pipeline. Construction-time occurrences
// of the infrastructure errors are fatal; per-batch occurrences during
// ingestion are caught, logged, and the batch is skipped.
var (
	// ErrMalformedInput indicates a file or record that does not parse as the
	// expected JSON shape. The offending input is skipped.
	ErrMalformedInput = errors.New("malformed input")

	// ErrServiceUnreachable indicates the embedding service could not be
	// reached (connection or timeout failure).
	ErrServiceUnreachable = errors.New("embedding service unreachable")

	// ErrInvalidResponse indicates the embedding service returned a malformed
	// body or a vector of the wrong dimension.
	ErrInvalidResponse = errors.New("invalid embedding response")

	// ErrIndexUnavailable indicates a transport or storage failure talking to
	// the vector index.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrAlreadyLocked indicates another live store instance holds the
	// exclusivity lock for the storage directory.
	ErrAlreadyLocked = errors.New("storage directory is locked by another instance")

	// ErrInsufficientDiskSpace indicates the pre-flight free-space check
	// failed. No work is performed for the run.
	ErrInsufficientDiskSpace = errors.New("insufficient disk space")
)
