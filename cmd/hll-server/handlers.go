// handlers.go implements the command set.
//
// Every named value in the store is a live concurrent sketch, so the
// handlers are thin: resolve the name, then let the sketch's own lock-free
// machinery do the work. Nothing here deserializes on the hot path and no
// handler holds a shard lock while touching registers.
//
// All sketches share the server-wide precision and hash seed (fixed at
// startup, persisted with snapshots), so any pair of keys is mergeable
// and multi-key counts are always meaningful.

package main

import (
	"fmt"
	"io"
	"strings"

	hll "github.com/tomtomwombat/hyperloglockless"
)

// commandFunc is the signature every command implementation satisfies.
// Handlers write their reply to w, typically the connection's buffered
// writer.
type commandFunc func(w io.Writer, args []string)

// commandTable builds the dispatch map. Lookups are by upper-cased name,
// so commands are case-insensitive on the wire.
func (app *application) commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		"PING":      app.handlePing,
		"HLL.ADD":   app.handleAdd,
		"HLL.COUNT": app.handleCount,
		"HLL.MERGE": app.handleMerge,
		"HLL.CLEAR": app.handleClear,
		"HLL.INFO":  app.handleInfo,
		"DEL":       app.handleDel,
		"SAVE":      app.handleSave,
		"STATS":     app.handleStats,
	}
}

// dispatch routes one parsed command to its handler. The parser never
// yields an empty command, so parts[0] is always present.
func (app *application) dispatch(w io.Writer, parts []string) {
	app.metrics.TotalCommands.Add(1)

	name := strings.ToUpper(parts[0])
	handler, ok := app.commands[name]
	if !ok {
		_ = writeError(w, fmt.Sprintf("ERR unknown command '%s'", name))
		return
	}
	handler(w, parts[1:])
}

// newSketch builds a sketch with the server-wide parameters. It is the
// factory handed to GetOrCreate on every implicit key creation.
func (app *application) newSketch() *hll.AtomicSketch {
	sk, err := hll.NewAtomicWithHasher(app.config.precision, app.seed, app.hasher)
	if err != nil {
		// The precision was validated at startup; this cannot fail.
		panic(err)
	}
	return sk
}

// getScratch returns a cleared plain accumulator sketch from the
// application's pool. An accumulator is 2^p bytes; recycling keeps
// multi-key HLL.COUNT allocation-free at high throughput. The pool hangs
// off the application because its sketches are bound to the server-wide
// precision and seed.
func (app *application) getScratch() *hll.Sketch {
	if s, _ := app.scratch.Get().(*hll.Sketch); s != nil {
		s.Clear()
		return s
	}
	s, err := hll.NewWithHasher(app.config.precision, app.seed, app.hasher)
	if err != nil {
		panic(err)
	}
	return s
}

func (app *application) putScratch(s *hll.Sketch) {
	app.scratch.Put(s)
}

func (app *application) handlePing(w io.Writer, args []string) {
	_ = writeSimpleString(w, "PONG")
}

// handleAdd implements HLL.ADD key element [element ...].
// Replies :1 if any register moved (the estimate may have changed), :0
// otherwise, matching the convention of Redis's PFADD.
func (app *application) handleAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "HLL.ADD")
		return
	}

	sk := app.store.GetOrCreate(args[0], app.newSketch)

	changed := uint64(0)
	for _, el := range args[1:] {
		if sk.InsertString(el) {
			changed = 1
		}
	}
	app.metrics.TotalInserts.Add(uint64(len(args) - 1))

	if changed == 1 {
		app.markDirty()
	}
	_ = writeInteger(w, changed)
}

// handleCount implements HLL.COUNT key [key ...]. A single key counts its
// sketch directly; multiple keys estimate the cardinality of their union
// without modifying any source. Missing keys count as empty.
func (app *application) handleCount(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "HLL.COUNT")
		return
	}

	if len(args) == 1 {
		sk, found := app.store.Get(args[0])
		if !found {
			_ = writeInteger(w, 0)
			return
		}
		_ = writeInteger(w, sk.Count())
		return
	}

	// Union path: fold every source into a pooled plain accumulator.
	// MergeInto reads each source's registers lock-free; the sources stay
	// untouched and concurrent writers are never blocked.
	scratch := app.getScratch()
	defer app.putScratch(scratch)

	for _, key := range args {
		sk, found := app.store.Get(key)
		if !found {
			continue
		}
		if err := sk.MergeInto(scratch); err != nil {
			_ = writeError(w, "ERR internal sketch corruption")
			return
		}
	}

	_ = writeInteger(w, scratch.Count())
}

// handleMerge implements HLL.MERGE dest src [src ...]. The destination is
// created when missing; missing sources are skipped. Merging runs
// directly between live sketches, registerwise max, and is safe while
// writers are active on any of them.
func (app *application) handleMerge(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "HLL.MERGE")
		return
	}

	dst := app.store.GetOrCreate(args[0], app.newSketch)

	for _, key := range args[1:] {
		if key == args[0] {
			continue // self-merge is a no-op
		}
		src, found := app.store.Get(key)
		if !found {
			continue
		}
		if err := dst.Merge(src); err != nil {
			_ = writeError(w, "ERR internal sketch corruption")
			return
		}
	}

	app.markDirty()
	_ = writeSimpleString(w, "OK")
}

// handleClear implements HLL.CLEAR key. The reset is not atomic with
// respect to in-flight HLL.ADDs on the same key; late writers may leave
// registers behind, which is the documented sketch behavior.
func (app *application) handleClear(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "HLL.CLEAR")
		return
	}

	if sk, found := app.store.Get(args[0]); found {
		sk.Clear()
		app.markDirty()
	}
	_ = writeSimpleString(w, "OK")
}

// handleInfo implements HLL.INFO key.
func (app *application) handleInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "HLL.INFO")
		return
	}

	sk, found := app.store.Get(args[0])
	if !found {
		_ = writeError(w, "ERR no such key")
		return
	}

	info := fmt.Sprintf("precision=%d registers=%d bytes=%d count=%d",
		sk.Precision(), sk.Len(), sk.Len(), sk.Count())
	_ = writeBulk(w, info)
}

func (app *application) handleDel(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "DEL")
		return
	}

	if app.store.Delete(args[0]) {
		app.markDirty()
		_ = writeInteger(w, 1)
		return
	}
	_ = writeInteger(w, 0)
}

// handleSave forces a snapshot to disk, regardless of the dirty flag.
func (app *application) handleSave(w io.Writer, args []string) {
	if len(args) != 0 {
		app.wrongNumberOfArgsResponse(w, "SAVE")
		return
	}

	if err := app.saveSnapshot(); err != nil {
		app.logger.Error("SAVE failed", "error", err)
		_ = writeError(w, "ERR snapshot failed")
		return
	}
	_ = writeSimpleString(w, "OK")
}

func (app *application) handleStats(w io.Writer, args []string) {
	_ = writeBulk(w, app.metrics.render(app.store.Len()))
}
