// Package model defines the engine's data types: the inbound Plan, the
// normalized OpStream the validator produces from it, and the effects and
// errors the executor and transaction manager exchange.
package model

import "fmt"

// TransactionMode selects whether a run is all-or-nothing or per-operation.
type TransactionMode string

const (
	TransactionAll TransactionMode = "all"
	TransactionOp  TransactionMode = "op"
)

// CollisionPolicy selects how the executor rewrites a destination that
// already exists.
type CollisionPolicy string

const (
	CollisionFail                CollisionPolicy = "fail"
	CollisionSuffix              CollisionPolicy = "suffix"
	CollisionHash8               CollisionPolicy = "hash8"
	CollisionOverwriteWithBackup CollisionPolicy = "overwrite_with_backup"
)

// SymlinkPolicy selects how the resolver handles a symlink encountered
// while canonicalizing a path.
type SymlinkPolicy string

const (
	SymlinkFollow SymlinkPolicy = "follow"
	SymlinkSkip   SymlinkPolicy = "skip"
	SymlinkError  SymlinkPolicy = "error"
)

// OpKind is the tagged-variant discriminator for an operation, raw or
// normalized.
type OpKind string

const (
	OpMkdir  OpKind = "mkdir"
	OpMove   OpKind = "move"
	OpCopy   OpKind = "copy"
	OpRename OpKind = "rename"
	OpTrash  OpKind = "trash"

	// OpRemove and OpNoop never appear in a manifest; the Transaction
	// Manager's reverse-operation synthesizer uses them internally to
	// express "delete this path" (reversing a non-overwriting Copy, or a
	// MkdirCreated left empty) and "nothing to do" (reversing a
	// MkdirExisted) respectively.
	OpRemove OpKind = "remove"
	OpNoop   OpKind = "noop"
)

// RawOperation is a single path-level action as it appears in a manifest,
// before resolution. Fields not applicable to Kind are left zero.
type RawOperation struct {
	Kind    OpKind
	Src     string
	Dst     string
	Parents bool
}

// Plan is a validated request handed to the engine. It is immutable once
// constructed by the manifest loader.
type Plan struct {
	Root              string
	TransactionMode   TransactionMode
	CollisionPolicy   CollisionPolicy
	SymlinkPolicy     SymlinkPolicy
	AllowOverwrite    bool
	ForbidCrossDevice bool
	MaxBytes          int64 // 0 means unlimited
	Operations        []RawOperation
}

func (p *Plan) String() string {
	return fmt.Sprintf("Plan{root=%s mode=%s collision=%s ops=%d}",
		p.Root, p.TransactionMode, p.CollisionPolicy, len(p.Operations))
}
