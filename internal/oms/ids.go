package oms

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientIDLength is the length of generated uuid client order ids.
const ClientIDLength = 22

// IDGenerator hands out client order ids. Ids must never repeat within a process.
type IDGenerator interface {
	Next() string
}

// UUIDGenerator derives ids from random uuids as lowercase hex.
type UUIDGenerator struct{}

func (UUIDGenerator) Next() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:ClientIDLength]
}

// SequentialGenerator produces prefix1, prefix2, ... and suits deterministic runs.
type SequentialGenerator struct {
	prefix string
	n      atomic.Uint64
}

func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

func (g *SequentialGenerator) Next() string {
	return g.prefix + strconv.FormatUint(g.n.Add(1), 10)
}
