package indexmanager

import "errors"

var (
	ErrDuplicateKey   = errors.New("key already exists in leaf")
	ErrLeafNotFull    = errors.New("leaf is not over capacity")
	ErrLeafFull       = errors.New("leaf is over capacity and must be split")
	ErrParentFull     = errors.New("parent internal page is full")
	ErrNotSiblings    = errors.New("pages are not adjacent children of one parent")
	ErrMergeOverflow  = errors.New("merged leaf would exceed max size")
	ErrCannotLend     = errors.New("sibling has no entry to spare")
	ErrRootHasNoPeers = errors.New("root leaf has no siblings")
)
