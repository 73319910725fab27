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

import "strings"

// CanonicalText derives the flattened searchable text for a conversation.
//
// The result starts with "Title: <title>" followed by a blank line and one
// "<role>: <text>" line per contributing message. For the mapping shape, a
// node contributes when its message's first content part is a non-empty
// string; nodes are visited in document order. For the flat shape, a message
// contributes when its content is non-empty, in list order.
//
// The derivation is a pure function of the record, so re-embedding the same
// record after a retry produces the same embedding input and the same
// hash-based identity.
func CanonicalText(conv *Conversation) string {
	var lines []string

	if conv.Mapping != nil {
		for _, node := range conv.Mapping.All() {
			msg := node.Message
			if msg == nil || len(msg.Content.Parts) == 0 {
				continue
			}
			text, ok := msg.Content.Parts[0].(string)
			if !ok || text == "" {
				continue
			}
			lines = append(lines, roleOrUnknown(msg.Author.Role)+": "+text)
		}
	} else {
		for _, msg := range conv.Messages {
			if msg.Content == "" {
				continue
			}
			lines = append(lines, roleOrUnknown(msg.Role)+": "+msg.Content)
		}
	}

	return "Title: " + conv.DisplayTitle() + "\n\n" + strings.Join(lines, "\n")
}

func roleOrUnknown(role string) string {
	if role == "" {
		return "unknown"
	}
	return role
}
