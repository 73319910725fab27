package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mappingConversation(t *testing.T) *Conversation {
	t.Helper()
	data := []byte(`{
		"id": "gpt-1",
		"title": "Trip planning",
		"mapping": {
			"root": {"message": null},
			"n1": {"message": {"author": {"role": "user"}, "content": {"parts": ["where should I go?"]}}},
			"n2": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["try Lisbon"]}}},
			"n3": {"message": {"author": {"role": "user"}, "content": {"parts": [""]}}},
			"n4": {"message": {"author": {"role": "tool"}, "content": {"parts": [{"kind": "image"}]}}}
		}
	}`)
	var conv Conversation
	require.NoError(t, json.Unmarshal(data, &conv))
	return &conv
}

func TestCanonicalText_MappingShape(t *testing.T) {
	conv := mappingConversation(t)

	got := CanonicalText(conv)
	want := "Title: Trip planning\n\n" +
		"user: where should I go?\n" +
		"assistant: try Lisbon"
	assert.Equal(t, want, got)
}

func TestCanonicalText_FlatShape(t *testing.T) {
	conv := &Conversation{
		Title: "Quick chat",
		Messages: []Message{
			{Role: "human", Content: "hi"},
			{Role: "assistant", Content: ""},
			{Role: "", Content: "anonymous line"},
		},
	}

	got := CanonicalText(conv)
	want := "Title: Quick chat\n\n" +
		"human: hi\n" +
		"unknown: anonymous line"
	assert.Equal(t, want, got)
}

func TestCanonicalText_Defaults(t *testing.T) {
	t.Run("untitled conversation", func(t *testing.T) {
		conv := &Conversation{Messages: []Message{{Role: "user", Content: "x"}}}
		assert.Equal(t, "Title: Untitled Conversation\n\nuser: x", CanonicalText(conv))
	})

	t.Run("no contributing messages", func(t *testing.T) {
		conv := &Conversation{Title: "Empty"}
		assert.Equal(t, "Title: Empty\n\n", CanonicalText(conv))
	})

	t.Run("missing role in mapping shape", func(t *testing.T) {
		data := []byte(`{
			"title": "t",
			"mapping": {"n1": {"message": {"author": {}, "content": {"parts": ["text"]}}}}
		}`)
		var conv Conversation
		require.NoError(t, json.Unmarshal(data, &conv))
		assert.Equal(t, "Title: t\n\nunknown: text", CanonicalText(&conv))
	})
}

// An empty mapping means the record is the mapping shape with nothing to say,
// not the flat shape.
func TestCanonicalText_EmptyMappingIgnoresMessages(t *testing.T) {
	data := []byte(`{
		"title": "t",
		"mapping": {},
		"messages": [{"role": "user", "content": "should not appear"}]
	}`)
	var conv Conversation
	require.NoError(t, json.Unmarshal(data, &conv))
	assert.Equal(t, "Title: t\n\n", CanonicalText(&conv))
}

func TestCanonicalText_Deterministic(t *testing.T) {
	conv := mappingConversation(t)

	first := CanonicalText(conv)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, CanonicalText(conv))
	}

	// A fresh decode of the same bytes must extract identically.
	again := mappingConversation(t)
	assert.Equal(t, first, CanonicalText(again))
}
