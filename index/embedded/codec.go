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
	"encoding/json"
	"fmt"
	"math"

	"github.com/poiesic/convodex/core"
	"github.com/poiesic/convodex/index"
)

// Point values are a fixed-width vector section followed by a JSON payload:
//
//	uint32 big-endian vector length
//	length * float32 (IEEE 754 bits, big-endian)
//	JSON-encoded index.Payload

func marshalPoint(p *index.Point) ([]byte, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for point %d: %w", p.ID, err)
	}

	buf := make([]byte, 4+4*len(p.Vector), 4+4*len(p.Vector)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(p.Vector)))
	for i, v := range p.Vector {
		binary.BigEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return append(buf, payload...), nil
}

func unmarshalPoint(id core.ID, value []byte) (*index.Point, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("truncated point %d", id)
	}
	n := int(binary.BigEndian.Uint32(value))
	if len(value) < 4+4*n {
		return nil, fmt.Errorf("truncated vector in point %d", id)
	}

	vector := make([]float32, n)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.BigEndian.Uint32(value[4+4*i:]))
	}

	var payload index.Payload
	if err := json.Unmarshal(value[4+4*n:], &payload); err != nil {
		return nil, fmt.Errorf("decode payload for point %d: %w", id, err)
	}

	return &index.Point{ID: id, Vector: vector, Payload: payload}, nil
}
