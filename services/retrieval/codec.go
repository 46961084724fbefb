// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// float32Size is the encoded width of one vector element.
const float32Size = 4

// SerializeVector encodes an embedding as packed little-endian float32s.
//
// # Description
//
// This is the layout RediSearch expects for a FLOAT32 vector query
// parameter: 4 bytes per element, no padding, no length prefix. The index
// infers the length from its configured dimensionality.
//
// # Inputs
//
//   - vector: Embedding values. May be empty.
//
// # Outputs
//
//   - []byte: len(vector)*4 bytes. Empty (not nil) for an empty vector.
func SerializeVector(vector []float32) []byte {
	out := make([]byte, len(vector)*float32Size)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(out[i*float32Size:], math.Float32bits(v))
	}
	return out
}

// DeserializeVector decodes bytes produced by SerializeVector.
//
// The round trip is bitwise exact, NaN payloads included.
func DeserializeVector(data []byte) ([]float32, error) {
	if len(data)%float32Size != 0 {
		return nil, fmt.Errorf("vector byte length %d is not a multiple of %d", len(data), float32Size)
	}
	out := make([]float32, len(data)/float32Size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*float32Size:]))
	}
	return out, nil
}
