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


// Package ai abstracts the embedding service behind the Embedder interface so
// the pipeline never couples to a specific backend.
//
// Implementation sub-packages:
//
//   - ai/ollama: the native Ollama embed API ({model, input} -> {embeddings}),
//     the reference deployment
//   - ai/openai: OpenAI-compatible services via langchaingo
//   - ai/mock: deterministic test doubles
//
// Production constructors return the ai.Embedder interface; mock constructors
// return concrete types so tests can inject behavior and assert on calls.
//
// Every implementation performs a single-text connectivity self-check at
// construction time and fails fast when the backend is dead, so the store
// never starts processing against an unreachable service.
package ai
