// persistence.go implements snapshot persistence for the sketch store.
//
// Why snapshots and not a journal
// ===============================
//
// A sketch is pure union state: replaying a log of every ADD would do
// exactly the same registerwise max the snapshot already captured, at far
// greater cost. Serializing the registers IS the compacted log, so the
// durability story is snapshot-only: a background goroutine writes the
// store to disk whenever it is dirty, and the worst case on a crash is
// losing the inserts since the last interval, which only widens the
// estimate temporarily.
//
// The Snapshot Format (HLS1)
// ==========================
//
// The logical stream is:
//
//	+-------+-----+-----------+------+---------+     +-----+----------+
//	| Magic | Ver | Precision | Seed | Entry 0 | ... | EOF | Checksum |
//	+-------+-----+-----------+------+---------+     +-----+----------+
//	  4 B     1 B    1 B        8 B    variable       1 B    8 B
//
// Magic: "HLS1". Ver: format version, currently 1. Precision and Seed are
// the server-wide sketch parameters; every entry's payload must agree
// with them, which is what keeps all keys mutually mergeable after a
// reload.
//
// Each entry is:
//
//	+--------+------+-----+------+---------+
//	| OpCode | KLen | Key | PLen | Payload |
//	+--------+------+-----+------+---------+
//	  0xFE     4 B    var   4 B    var
//
// The payload is the sketch's own serialized form (precision byte, seed,
// register array), validated on load by the sketch deserializer itself.
// Lengths are little-endian uint32. A single 0xFF byte marks the end of
// the entries, followed by a CRC64 (ISO polynomial) over every preceding
// logical byte.
//
// On disk the logical stream is wrapped in an lz4 frame. Register arrays
// are mostly zeros at low cardinality and highly repetitive at high
// cardinality, so frame compression routinely shrinks snapshots by an
// order of magnitude for nearly free.
//
// Writes go to a temporary file in the snapshot's directory followed by a
// rename, so a crash mid-write leaves the previous snapshot intact.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	hll "github.com/tomtomwombat/hyperloglockless"
)

const (
	snapshotMagic   = "HLS1"
	snapshotVersion = 1

	opCodeEntry = 0xFE
	opCodeEOF   = 0xFF

	// maxSnapshotKeyLen bounds a single key on load, guarding the loader
	// against allocating based on a corrupt length field.
	maxSnapshotKeyLen = MaxLineSize
)

var errSnapshotChecksum = errors.New("snapshot corruption: checksum mismatch")

// writeSnapshot streams the store's state to w as an lz4-compressed HLS1
// stream. Sketch handles are collected shard by shard; serialization runs
// without store locks, so a large snapshot never stalls writers.
func writeSnapshot(w io.Writer, store *Store, precision uint8, seed uint64) error {
	zw := lz4.NewWriter(w)

	crc := crc64.New(crc64.MakeTable(crc64.ISO))
	// Every logical byte goes through both the compressor and the hasher,
	// so the checksum never needs a second pass.
	bw := bufio.NewWriter(io.MultiWriter(zw, crc))

	if _, err := bw.WriteString(snapshotMagic); err != nil {
		return err
	}
	header := []byte{snapshotVersion, precision}
	if _, err := bw.Write(header); err != nil {
		return err
	}
	var seedBuf [8]byte
	binary.LittleEndian.PutUint64(seedBuf[:], seed)
	if _, err := bw.Write(seedBuf[:]); err != nil {
		return err
	}

	lenBuf := make([]byte, 4)
	err := store.ForEach(func(key string, sk *hll.AtomicSketch) error {
		if err := bw.WriteByte(opCodeEntry); err != nil {
			return err
		}

		binary.LittleEndian.PutUint32(lenBuf, uint32(len(key)))
		if _, err := bw.Write(lenBuf); err != nil {
			return err
		}
		if _, err := bw.WriteString(key); err != nil {
			return err
		}

		payload := sk.Serialize()
		binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
		if _, err := bw.Write(lenBuf); err != nil {
			return err
		}
		_, err := bw.Write(payload)
		return err
	})
	if err != nil {
		return err
	}

	if err := bw.WriteByte(opCodeEOF); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	// The checksum itself is compressed but not hashed.
	binary.LittleEndian.PutUint64(seedBuf[:], crc.Sum64())
	if _, err := zw.Write(seedBuf[:]); err != nil {
		return err
	}
	return zw.Close()
}

// readSnapshot parses an HLS1 stream, returning the persisted sketch
// parameters and installing every entry into store. Each payload passes
// through the sketch deserializer, so register-level corruption is caught
// even when the checksum was forged.
func readSnapshot(r io.Reader, store *Store) (precision uint8, seed uint64, err error) {
	zr := bufio.NewReader(lz4.NewReader(r))

	crc := crc64.New(crc64.MakeTable(crc64.ISO))
	header := make([]byte, 4+1+1+8)
	if _, err := io.ReadFull(zr, header); err != nil {
		return 0, 0, fmt.Errorf("snapshot header: %w", err)
	}
	_, _ = crc.Write(header)

	if string(header[:4]) != snapshotMagic {
		return 0, 0, errors.New("snapshot corruption: bad magic")
	}
	if header[4] != snapshotVersion {
		return 0, 0, fmt.Errorf("unsupported snapshot version %d", header[4])
	}
	precision = header[5]
	seed = binary.LittleEndian.Uint64(header[6:14])

	lenBuf := make([]byte, 4)
	for {
		opcode, err := zr.ReadByte()
		if err != nil {
			return 0, 0, fmt.Errorf("snapshot entry opcode: %w", err)
		}
		_, _ = crc.Write([]byte{opcode})

		if opcode == opCodeEOF {
			break
		}
		if opcode != opCodeEntry {
			return 0, 0, fmt.Errorf("snapshot corruption: unexpected opcode %#x", opcode)
		}

		if _, err := io.ReadFull(zr, lenBuf); err != nil {
			return 0, 0, err
		}
		_, _ = crc.Write(lenBuf)
		kLen := binary.LittleEndian.Uint32(lenBuf)
		if kLen == 0 || kLen > maxSnapshotKeyLen {
			return 0, 0, fmt.Errorf("snapshot corruption: key length %d", kLen)
		}

		keyBuf := make([]byte, kLen)
		if _, err := io.ReadFull(zr, keyBuf); err != nil {
			return 0, 0, err
		}
		_, _ = crc.Write(keyBuf)

		if _, err := io.ReadFull(zr, lenBuf); err != nil {
			return 0, 0, err
		}
		_, _ = crc.Write(lenBuf)
		pLen := binary.LittleEndian.Uint32(lenBuf)
		if pLen == 0 || pLen > 9+(1<<hll.MaxPrecision) {
			return 0, 0, fmt.Errorf("snapshot corruption: payload length %d", pLen)
		}

		payload := make([]byte, pLen)
		if _, err := io.ReadFull(zr, payload); err != nil {
			return 0, 0, err
		}
		_, _ = crc.Write(payload)

		sk, err := hll.DeserializeAtomic(payload)
		if err != nil {
			return 0, 0, fmt.Errorf("snapshot key %q: %w", string(keyBuf), err)
		}
		if sk.Precision() != precision || sk.Seed() != seed {
			return 0, 0, fmt.Errorf("snapshot key %q disagrees with the snapshot parameters", string(keyBuf))
		}

		store.Set(string(keyBuf), sk)
	}

	stored := make([]byte, 8)
	if _, err := io.ReadFull(zr, stored); err != nil {
		return 0, 0, fmt.Errorf("snapshot checksum: %w", err)
	}
	if binary.LittleEndian.Uint64(stored) != crc.Sum64() {
		return 0, 0, errSnapshotChecksum
	}

	return precision, seed, nil
}

// saveSnapshot writes the current store to the configured path via a
// temporary file and rename, safe to call from any goroutine.
func (app *application) saveSnapshot() error {
	dir := filepath.Dir(app.config.snapshotPath)
	tmp, err := os.CreateTemp(dir, "hll-snapshot-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if err := writeSnapshot(tmp, app.store, app.config.precision, app.seed); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, app.config.snapshotPath); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	app.metrics.TotalSnapshots.Add(1)
	return nil
}

// loadSnapshot restores the store from the configured path. A missing
// file is a clean first boot, not an error; the returned bool reports
// whether a snapshot was actually loaded.
func (app *application) loadSnapshot() (bool, error) {
	f, err := os.Open(app.config.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	precision, seed, err := readSnapshot(f, app.store)
	if err != nil {
		return false, err
	}

	if precision != app.config.precision {
		return false, fmt.Errorf("snapshot precision %d conflicts with -precision %d",
			precision, app.config.precision)
	}
	app.seed = seed
	return true, nil
}

// markDirty records that in-memory state has drifted from the snapshot.
func (app *application) markDirty() {
	app.dirty.Store(true)
}
