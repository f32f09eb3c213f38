package model

// ResolvedPath is a path that has been through the resolver: its lexically
// normalized, root-relative form plus its absolute canonical form.
type ResolvedPath struct {
	RootRelative string
	Canonical    string
}

// NormalizedOp is an operation after validation: every path resolved, a
// stable op_id assigned by position in the stream.
type NormalizedOp struct {
	OpID    int
	Kind    OpKind
	Src     ResolvedPath
	Dst     ResolvedPath
	Parents bool // Mkdir only
	Implied bool // true if injected by the validator rather than user-specified
	Skipped bool // true if the symlink policy caused this op to be omitted
}

// OpStream is the canonical, normalized, ordered operation sequence the
// validator produces from a Plan.
type OpStream struct {
	Root            string // canonical form of Plan.Root
	TransactionMode TransactionMode
	CollisionPolicy CollisionPolicy
	SymlinkPolicy   SymlinkPolicy
	ForbidCrossDevice bool
	MaxBytes        int64
	Ops             []NormalizedOp
}
