package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash represents a cryptographic hash
type Hash string

// NewHash creates a new hash from data
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// String returns the string representation
func (h Hash) String() string {
	return string(h)
}

// IsEmpty checks if the hash is empty
func (h Hash) IsEmpty() bool {
	return h == ""
}

// Equals checks if two hashes are equal
func (h Hash) Equals(other Hash) bool {
	return h == other
}

// Short returns the first 12 hex characters, enough for log lines.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// Domain-specific hash types
type (
	DatasetHash  Hash
	GeneListHash Hash
)

func (h DatasetHash) String() string  { return Hash(h).String() }
func (h GeneListHash) String() string { return Hash(h).String() }
func (h GeneListHash) Short() string  { return Hash(h).Short() }

// ComputeDatasetHash fingerprints a count matrix together with its sample and
// gene ordering.
func ComputeDatasetHash(geneIDs, sampleIDs []string, counts [][]int) DatasetHash {
	h := sha256.New()
	h.Write([]byte(strings.Join(geneIDs, "\x00")))
	h.Write([]byte{0xff})
	h.Write([]byte(strings.Join(sampleIDs, "\x00")))
	buf := make([]byte, 8)
	for _, row := range counts {
		for _, v := range row {
			binary.LittleEndian.PutUint64(buf, uint64(v))
			h.Write(buf)
		}
	}
	return DatasetHash(hex.EncodeToString(h.Sum(nil)))
}

// ComputeGeneListHash fingerprints a gene symbol set independent of order.
func ComputeGeneListHash(symbols []string) GeneListHash {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return GeneListHash(NewHash([]byte(strings.Join(sorted, "\n"))))
}
