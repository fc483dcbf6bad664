package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

// serializeEmbedding encodes a float32 vector as a little-endian BLOB.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding decodes a little-endian BLOB back into a float32
// vector of the given dimension.
func deserializeEmbedding(data []byte, dimension int) ([]float32, error) {
	if len(data) != dimension*4 {
		return nil, fmt.Errorf("embedding blob is %d bytes, expected %d for dimension %d",
			len(data), dimension*4, dimension)
	}
	embedding := make([]float32, dimension)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding, nil
}
