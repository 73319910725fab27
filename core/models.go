package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/go-crypt/x/blake2b"
)

// ID is the deterministic 64-bit identifier used for index points.
// It is derived from content so that identical input produces identical IDs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// PointID returns the index point id for a conversation identifier.
// The same conversation id always maps to the same point, which is what makes
// re-ingestion reproducible.
func PointID(conversationID string) ID {
	return IDFromContent(conversationID)
}

// DefaultTitle is used for conversations exported without a title.
const DefaultTitle = "Untitled Conversation"

// BatchSize is the shared unit of work: the chunker writes at most this many
// records per chunk file and the store embeds at most this many per sub-batch,
// so one chunk file maps onto one processing batch.
const BatchSize = 100

// Conversation is a single record from an exported chat-history archive.
// Exports come in two shapes: a mapping-of-nodes tree (Mapping) and a flat
// message list (Messages). Exactly one canonical text representation is
// derivable from either shape via CanonicalText.
type Conversation struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	CreateTime float64   `json:"create_time"`
	UpdateTime float64   `json:"update_time"`
	Mapping    *NodeMap  `json:"mapping,omitempty"`
	Messages   []Message `json:"messages,omitempty"`
}

// Key returns the conversation's dedup identity: the exported id when present,
// otherwise a content hash of the canonical text so id-less records still get
// a stable, reproducible identity.
func (c *Conversation) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("%016x", uint64(IDFromContent(CanonicalText(c))))
}

// DisplayTitle returns the conversation title, or DefaultTitle when absent.
func (c *Conversation) DisplayTitle() string {
	if c.Title == "" {
		return DefaultTitle
	}
	return c.Title
}

// Message is one entry of the flat list-of-messages shape.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Node is one entry of the mapping-of-nodes shape. Structural nodes carry no
// message.
type Node struct {
	Message *NodeMessage `json:"message"`
}

// NodeMessage is the message attached to a mapping node.
type NodeMessage struct {
	Author  Author      `json:"author"`
	Content NodeContent `json:"content"`
}

// Author identifies the speaker of a node message.
type Author struct {
	Role string `json:"role"`
}

// NodeContent holds the message parts. Only a leading string part contributes
// to the canonical text; other part types (images, tool results) are skipped.
type NodeContent struct {
	Parts []any `json:"parts"`
}

// NodeMap holds the mapping-of-nodes shape while preserving document order.
// Plain Go maps randomize iteration, which would make text extraction
// non-deterministic across runs; the ledger and point ids depend on it
// being stable.
type NodeMap struct {
	keys  []string
	nodes map[string]Node
}

// Len returns the number of nodes in the mapping.
func (m *NodeMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// All iterates over (key, node) pairs in document order.
func (m *NodeMap) All() iter.Seq2[string, Node] {
	return func(yield func(string, Node) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.nodes[k]) {
				return
			}
		}
	}
}

// UnmarshalJSON decodes a JSON object into the map, recording key order.
func (m *NodeMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: mapping must be a JSON object", ErrMalformedInput)
	}

	m.keys = m.keys[:0]
	m.nodes = make(map[string]Node)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("%w: mapping key is not a string", ErrMalformedInput)
		}
		var node Node
		if err := dec.Decode(&node); err != nil {
			return err
		}
		m.keys = append(m.keys, key)
		m.nodes[key] = node
	}

	_, err = dec.Token() // closing brace
	return err
}

// MarshalJSON encodes the map as a JSON object in document order.
func (m *NodeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		nodeJSON, err := json.Marshal(m.nodes[k])
		if err != nil {
			return nil, err
		}
		buf.Write(nodeJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
