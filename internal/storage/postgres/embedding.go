package postgres

import (
	"encoding/binary"
	"fmt"
	"math"
)

// serializeEmbedding packs a float32 vector into little-endian bytes. The
// layout matches the SQLite backend so databases can be migrated between
// backends without re-embedding.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding unpacks little-endian bytes into a float32 vector,
// validating against the stored dimension.
func deserializeEmbedding(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension: %d", dimension)
	}
	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("embedding size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}

	embedding := make([]float32, dimension)
	for i := 0; i < dimension; i++ {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return embedding, nil
}
