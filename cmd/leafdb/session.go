package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/leafdb/leafdb/core/indexing/btree"
	"github.com/leafdb/leafdb/core/indexmanager"
	flushmanager "github.com/leafdb/leafdb/core/write_engine/flush_manager"
	"github.com/leafdb/leafdb/core/write_engine/memtable"
	"github.com/leafdb/leafdb/pkg/telemetry"
	"go.uber.org/zap"
)

var errQuit = errors.New("quit")

// runner is a key-width-independent handle on an open page file.
type runner interface {
	// Exec runs one shell command line, writing its output to out. It returns
	// errQuit when the line asks to leave the shell.
	Exec(ctx context.Context, line string, out io.Writer) error
	Inspect(ctx context.Context, out io.Writer) error
	Close() error
}

// openRunner opens the page file in opts, creating it with an empty root
// leaf when it does not exist yet.
func openRunner(ctx context.Context, opts *options, log *zap.Logger, tel *telemetry.Telemetry) (runner, error) {
	switch opts.keyWidth {
	case 4:
		return openSession[btree.Key4](ctx, opts, log, tel)
	case 8:
		return openSession[btree.Key8](ctx, opts, log, tel)
	case 16:
		return openSession[btree.Key16](ctx, opts, log, tel)
	case 32:
		return openSession[btree.Key32](ctx, opts, log, tel)
	case 64:
		return openSession[btree.Key64](ctx, opts, log, tel)
	default:
		return nil, fmt.Errorf("unsupported key width %d", opts.keyWidth)
	}
}

type session[K btree.Key] struct {
	dm     *flushmanager.DiskManager
	bpm    *memtable.BufferPoolManager
	mgr    *indexmanager.LeafManager[K]
	root   btree.PageID
	logger *zap.Logger
}

func openSession[K btree.Key](ctx context.Context, opts *options, log *zap.Logger, tel *telemetry.Telemetry) (*session[K], error) {
	width := btree.KeyWidth[K]()
	dm, err := flushmanager.NewDiskManager(opts.dbPath, opts.pageSize, log)
	if err != nil {
		return nil, err
	}
	header, err := dm.OpenOrCreateFile(false, width)
	if errors.Is(err, flushmanager.ErrDBFileNotFound) {
		header, err = dm.OpenOrCreateFile(true, width)
	}
	if err != nil {
		return nil, err
	}
	if int(header.KeyWidth) != width {
		_ = dm.Close()
		return nil, fmt.Errorf("page file %s uses %d-byte keys, not %d", opts.dbPath, header.KeyWidth, width)
	}

	bpm, err := memtable.NewBufferPoolManager(memtable.Config{PoolSize: opts.poolSize}, dm, log, tel.Meter)
	if err != nil {
		_ = dm.Close()
		return nil, err
	}
	mgr, err := indexmanager.NewLeafManager[K](bpm, btree.GenericComparator[K], indexmanager.Config{LeafMaxSize: opts.leafMaxSize}, log, tel)
	if err != nil {
		_ = dm.Close()
		return nil, err
	}

	s := &session[K]{dm: dm, bpm: bpm, mgr: mgr, root: header.RootPageID, logger: log}
	if s.root == btree.InvalidPageID {
		root, err := mgr.CreateLeaf(ctx, btree.InvalidPageID)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		if err := s.setRoot(root); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session[K]) setRoot(id btree.PageID) error {
	if err := s.dm.UpdateHeaderField(func(h *flushmanager.DBFileHeader) { h.RootPageID = id }); err != nil {
		return err
	}
	s.logger.Info("root changed", zap.Int32("old_root", int32(s.root)), zap.Int32("new_root", int32(id)))
	s.root = id
	return nil
}

func (s *session[K]) Close() error {
	flushErr := s.bpm.FlushAllPages()
	closeErr := s.dm.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (s *session[K]) parseKey(arg string) (K, error) {
	var k K
	v, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return k, fmt.Errorf("key %q is not an integer", arg)
	}
	if btree.KeyWidth[K]() == 4 && (v < math.MinInt32 || v > math.MaxInt32) {
		return k, fmt.Errorf("key %d does not fit in 4 bytes", v)
	}
	return btree.KeyFromInt64[K](v), nil
}

func parseUint(arg string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(arg, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid number", arg)
	}
	return v, nil
}

const shellHelp = `commands:
  insert <key> [<page> <slot>]   add key; the RID defaults to <key>:0
  get <key>                      look key up
  delete <key>                   remove key, rebalancing the leaf if needed
  scan [<start> [<limit>]]       list entries in key order
  show <page>                    dump one tree page
  tree                           draw the whole tree
  chain                          draw the leaf chain
  root                           print the root page id
  flush                          write dirty pages to disk
  exit                           leave the shell`

func (s *session[K]) Exec(ctx context.Context, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(out, shellHelp)
		return nil
	case "exit", "quit":
		return errQuit
	case "insert", "put":
		return s.insert(ctx, args, out)
	case "get":
		return s.get(ctx, args, out)
	case "delete", "del":
		return s.delete(ctx, args, out)
	case "scan":
		return s.scan(ctx, args, out)
	case "show":
		if len(args) != 1 {
			return errors.New("usage: show <page>")
		}
		id, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("%q is not a page id", args[0])
		}
		desc, err := s.mgr.Describe(ctx, btree.PageID(id))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, desc)
		return nil
	case "tree":
		rendered, err := s.mgr.RenderTree(ctx, s.root)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	case "chain":
		first, err := s.mgr.FindLeaf(ctx, s.root, btree.KeyFromBytes[K](nil))
		if err != nil {
			return err
		}
		rendered, err := s.mgr.RenderChain(ctx, first)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	case "root":
		fmt.Fprintln(out, s.root)
		return nil
	case "flush":
		return s.bpm.FlushAllPages()
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (s *session[K]) insert(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 && len(args) != 3 {
		return errors.New("usage: insert <key> [<page> <slot>]")
	}
	key, err := s.parseKey(args[0])
	if err != nil {
		return err
	}
	rid := btree.NewRID(btree.PageID(btree.Int64FromKey(key)), 0)
	if len(args) == 3 {
		page, err := parseUint(args[1], 31)
		if err != nil {
			return err
		}
		slot, err := parseUint(args[2], 32)
		if err != nil {
			return err
		}
		rid = btree.NewRID(btree.PageID(page), uint32(slot))
	}

	leafID, err := s.mgr.FindLeaf(ctx, s.root, key)
	if err != nil {
		return err
	}
	size, err := s.mgr.Insert(ctx, leafID, key, rid)
	if err != nil {
		return err
	}
	if size <= s.mgr.LeafMaxSize() {
		fmt.Fprintf(out, "ok (leaf %d, size %d)\n", leafID, size)
		return nil
	}

	res, err := s.mgr.Split(ctx, leafID)
	if err != nil {
		return fmt.Errorf("inserted but split of leaf %d failed: %w", leafID, err)
	}
	if res.NewRoot {
		if err := s.setRoot(res.ParentID); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "ok, split leaf %d -> %d at %d\n", leafID, res.NewPageID, btree.Int64FromKey(res.Separator))
	if res.ParentOverflow {
		fmt.Fprintf(out, "warning: internal page %d is full; further splits under it will fail\n", res.ParentID)
	}
	return nil
}

func (s *session[K]) get(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}
	key, err := s.parseKey(args[0])
	if err != nil {
		return err
	}
	leafID, err := s.mgr.FindLeaf(ctx, s.root, key)
	if err != nil {
		return err
	}
	rid, found, err := s.mgr.Lookup(ctx, leafID, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(out, "not found")
		return nil
	}
	fmt.Fprintln(out, rid)
	return nil
}

func (s *session[K]) delete(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: delete <key>")
	}
	key, err := s.parseKey(args[0])
	if err != nil {
		return err
	}
	leafID, err := s.mgr.FindLeaf(ctx, s.root, key)
	if err != nil {
		return err
	}
	found, underflow, err := s.mgr.Delete(ctx, leafID, key)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(out, "not found")
		return nil
	}
	if !underflow {
		fmt.Fprintln(out, "ok")
		return nil
	}

	res, err := s.mgr.Rebalance(ctx, leafID)
	if err != nil {
		return fmt.Errorf("deleted but rebalance of leaf %d failed: %w", leafID, err)
	}
	if res.Action == indexmanager.RebalanceMerged && res.Merge.NewRootID != btree.InvalidPageID {
		if err := s.setRoot(res.Merge.NewRootID); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "ok, leaf %d %s\n", leafID, res.Action)
	return nil
}

func (s *session[K]) scan(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 2 {
		return errors.New("usage: scan [<start> [<limit>]]")
	}
	start := btree.KeyFromBytes[K](nil)
	if len(args) > 0 {
		k, err := s.parseKey(args[0])
		if err != nil {
			return err
		}
		start = k
	}
	limit := 0
	if len(args) > 1 {
		v, err := parseUint(args[1], 31)
		if err != nil {
			return err
		}
		limit = int(v)
	}

	leafID, err := s.mgr.FindLeaf(ctx, s.root, start)
	if err != nil {
		return err
	}
	entries, err := s.mgr.Scan(ctx, leafID, start, limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%d\t%s\n", btree.Int64FromKey(e.Key), e.Value)
	}
	fmt.Fprintf(out, "(%d entries)\n", len(entries))
	return nil
}

func (s *session[K]) Inspect(ctx context.Context, out io.Writer) error {
	header := s.dm.Header()
	fmt.Fprintf(out, "file:       %s\n", s.dm.FilePath())
	fmt.Fprintf(out, "file id:    %s\n", header.FileUUID())
	fmt.Fprintf(out, "page size:  %d\n", header.PageSize)
	fmt.Fprintf(out, "key width:  %d\n", header.KeyWidth)
	fmt.Fprintf(out, "pages:      %d (%d free)\n", s.dm.NumPages(), len(s.dm.FreePages()))
	fmt.Fprintf(out, "root:       %d\n", s.root)
	fmt.Fprintf(out, "leaf max:   %d\n\n", s.mgr.LeafMaxSize())

	if err := s.Exec(ctx, "tree", out); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return s.Exec(ctx, "chain", out)
}
