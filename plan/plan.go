// Package plan turns block assignments into an ordered list of
// operations: local copies and remote range downloads.
package plan

import (
	"fmt"

	"github.com/itchio/zsync/match"
)

type OpType byte

const (
	// OpLocal copies one block from a seed
	OpLocal OpType = iota
	// OpRemote downloads a run of blocks
	OpRemote
)

func (t OpType) String() string {
	switch t {
	case OpLocal:
		return "local"
	case OpRemote:
		return "remote"
	}
	return fmt.Sprintf("OpType(%d)", byte(t))
}

// Operation produces BlockSpan target blocks starting at BlockIndex.
// Local operations always span a single block.
type Operation struct {
	Type       OpType
	BlockIndex int64
	BlockSpan  int64

	// Source and SourceOffset are only set for OpLocal
	Source       *match.Seed
	SourceOffset int64
}

func (op Operation) String() string {
	if op.Type == OpLocal {
		return fmt.Sprintf("local block %d from %s at %d", op.BlockIndex, op.Source, op.SourceOffset)
	}
	return fmt.Sprintf("remote blocks %d-%d", op.BlockIndex, op.BlockIndex+op.BlockSpan-1)
}

// Make returns the merged plan for a target of numBlocks blocks.
func Make(numBlocks int64, assignments match.Assignments) []Operation {
	return Merge(Build(numBlocks, assignments))
}

// Build returns one operation per block, in block order.
func Build(numBlocks int64, assignments match.Assignments) []Operation {
	ops := make([]Operation, 0, numBlocks)
	for i := int64(0); i < numBlocks; i++ {
		if loc, ok := assignments[i]; ok {
			ops = append(ops, Operation{
				Type:         OpLocal,
				BlockIndex:   i,
				BlockSpan:    1,
				Source:       loc.Seed,
				SourceOffset: loc.Offset,
			})
		} else {
			ops = append(ops, Operation{
				Type:       OpRemote,
				BlockIndex: i,
				BlockSpan:  1,
			})
		}
	}
	return ops
}

// Merge combines consecutive remote operations so each run of missing
// blocks costs a single range request. Local operations pass through.
func Merge(ops []Operation) []Operation {
	var res []Operation
	for _, op := range ops {
		if n := len(res); n > 0 && op.Type == OpRemote && res[n-1].Type == OpRemote {
			prev := res[n-1]
			res[n-1] = Operation{
				Type:       OpRemote,
				BlockIndex: prev.BlockIndex,
				BlockSpan:  prev.BlockSpan + op.BlockSpan,
			}
			continue
		}
		res = append(res, op)
	}
	return res
}

// Summary counts what a plan will do.
type Summary struct {
	LocalBlocks  int64
	RemoteBlocks int64
	RemoteRanges int64
}

func Summarize(ops []Operation) Summary {
	var s Summary
	for _, op := range ops {
		switch op.Type {
		case OpLocal:
			s.LocalBlocks += op.BlockSpan
		case OpRemote:
			s.RemoteBlocks += op.BlockSpan
			s.RemoteRanges++
		}
	}
	return s
}
