// hll-check is a diagnostic tool for inspecting and validating hll-server
// snapshot files. It streams through the compressed HLS1 stream, checking
// structural integrity, the CRC64 checksum, and every sketch payload,
// without building the store in memory.
//
// This tool is the first line of defense when troubleshooting persistence
// issues. It can answer questions like:
//
//   - Is the snapshot file corrupted, and at which offset?
//   - Which precision and seed was the server running with?
//   - How many keys are stored, and what does each one estimate?
//
// Usage Examples
// ==============
//
// Basic validation (structure, payloads, checksum):
//
//	hll-check -file sketches.hls
//
// Verbose mode (lists every key with its estimated cardinality):
//
//	hll-check -file sketches.hls -v
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is corrupted or unreadable.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"time"

	"github.com/pierrec/lz4/v4"

	hll "github.com/tomtomwombat/hyperloglockless"
)

const (
	snapshotMagic = "HLS1"
	opCodeEntry   = 0xFE
	opCodeEOF     = 0xFF
)

// countReader wraps an io.Reader to track how many decompressed bytes have
// been pulled from the stream. checkSnapshot reads through a bufio.Reader
// layered on top of it, so the count includes the buffer's read-ahead: the
// offset in a message is at or past the byte where validation failed, not
// that byte's exact position.
type countReader struct {
	r     io.Reader
	count int64
}

func (cr *countReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

// checkError carries the logical offset at which validation failed.
type checkError struct {
	offset int64
	msg    string
	cause  error
}

func (e *checkError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[offset %d] %s: %v", e.offset, e.msg, e.cause)
	}
	return fmt.Sprintf("[offset %d] %s", e.offset, e.msg)
}

func (e *checkError) Unwrap() error { return e.cause }

// summary aggregates what a successful check observed.
type summary struct {
	Precision uint8
	Seed      uint64
	Keys      int
	TotalCard uint64
	Checksum  uint64
}

// checkSnapshot validates one HLS1 stream from r, writing progress to out.
// Every sketch payload goes through the library deserializer, so a file
// can fail here even with a valid checksum if it was written by a buggy
// or hostile producer.
func checkSnapshot(r io.Reader, out io.Writer, verbose bool) (*summary, error) {
	counter := &countReader{r: lz4.NewReader(r)}
	reader := bufio.NewReader(counter)

	crc := crc64.New(crc64.MakeTable(crc64.ISO))

	header := make([]byte, 4+1+1+8)
	if _, err := io.ReadFull(reader, header); err != nil {
		return nil, &checkError{counter.count, "failed to read header", err}
	}
	_, _ = crc.Write(header)

	if string(header[:4]) != snapshotMagic {
		return nil, &checkError{counter.count,
			fmt.Sprintf("invalid magic: expected %q, got %q", snapshotMagic, header[:4]), nil}
	}
	if header[4] != 1 {
		return nil, &checkError{counter.count,
			fmt.Sprintf("unsupported format version %d", header[4]), nil}
	}

	sum := &summary{
		Precision: header[5],
		Seed:      binary.LittleEndian.Uint64(header[6:14]),
	}
	if sum.Precision < hll.MinPrecision || sum.Precision > hll.MaxPrecision {
		return nil, &checkError{counter.count,
			fmt.Sprintf("precision %d out of range", sum.Precision), nil}
	}

	fmt.Fprintf(out, "[offset %d] Header OK: precision=%d seed=%d\n",
		counter.count, sum.Precision, sum.Seed)

	lenBuf := make([]byte, 4)
	for {
		opcode, err := reader.ReadByte()
		if err != nil {
			return nil, &checkError{counter.count, "failed reading opcode", err}
		}
		_, _ = crc.Write([]byte{opcode})

		if opcode == opCodeEOF {
			break
		}
		if opcode != opCodeEntry {
			return nil, &checkError{counter.count,
				fmt.Sprintf("unexpected opcode %#x", opcode), nil}
		}

		if _, err := io.ReadFull(reader, lenBuf); err != nil {
			return nil, &checkError{counter.count, "truncated key length", err}
		}
		_, _ = crc.Write(lenBuf)
		kLen := binary.LittleEndian.Uint32(lenBuf)
		if kLen == 0 || kLen > 64*1024 {
			return nil, &checkError{counter.count,
				fmt.Sprintf("implausible key length %d", kLen), nil}
		}

		keyBuf := make([]byte, kLen)
		if _, err := io.ReadFull(reader, keyBuf); err != nil {
			return nil, &checkError{counter.count, "truncated key data", err}
		}
		_, _ = crc.Write(keyBuf)

		if _, err := io.ReadFull(reader, lenBuf); err != nil {
			return nil, &checkError{counter.count, "truncated payload length", err}
		}
		_, _ = crc.Write(lenBuf)
		pLen := binary.LittleEndian.Uint32(lenBuf)
		if pLen == 0 || pLen > 9+(1<<hll.MaxPrecision) {
			return nil, &checkError{counter.count,
				fmt.Sprintf("implausible payload length %d", pLen), nil}
		}

		payload := make([]byte, pLen)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, &checkError{counter.count, "truncated payload data", err}
		}
		_, _ = crc.Write(payload)

		sk, err := hll.Deserialize(payload)
		if err != nil {
			return nil, &checkError{counter.count,
				fmt.Sprintf("key %q has an invalid sketch payload", keyBuf), err}
		}
		if sk.Precision() != sum.Precision || sk.Seed() != sum.Seed {
			return nil, &checkError{counter.count,
				fmt.Sprintf("key %q disagrees with the snapshot parameters", keyBuf), nil}
		}

		sum.Keys++
		count := sk.Count()
		sum.TotalCard += count

		if verbose {
			fmt.Fprintf(out, "[offset %d] Key '%s' count=%d\n", counter.count, keyBuf, count)
		}
	}

	calculated := crc.Sum64()
	stored := make([]byte, 8)
	if _, err := io.ReadFull(reader, stored); err != nil {
		return nil, &checkError{counter.count, "failed to read checksum", err}
	}
	sum.Checksum = binary.LittleEndian.Uint64(stored)

	if sum.Checksum != calculated {
		return nil, &checkError{counter.count,
			fmt.Sprintf("checksum mismatch: file %016x, calculated %016x", sum.Checksum, calculated), nil}
	}
	fmt.Fprintf(out, "[offset %d] Checksum OK (%016x)\n", counter.count, sum.Checksum)

	// Anything after the checksum is not ours.
	if _, err := reader.Peek(1); err == nil {
		return nil, &checkError{counter.count, "trailing data after checksum", nil}
	} else if !errors.Is(err, io.EOF) {
		return nil, &checkError{counter.count, "error checking for trailing data", err}
	}

	return sum, nil
}

func main() {
	filePath := flag.String("file", "sketches.hls", "Path to the snapshot file")
	verbose := flag.Bool("v", false, "Verbose mode (print keys with their estimates)")
	flag.Parse()

	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] Cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("Checking snapshot %s\n", *filePath)
	start := time.Now()

	sum, err := checkSnapshot(f, os.Stdout, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nSummary:")
	fmt.Printf("  Process Time:   %v\n", time.Since(start))
	fmt.Printf("  Precision:      %d (%d bytes per key)\n", sum.Precision, 1<<sum.Precision)
	fmt.Printf("  Total Keys:     %d\n", sum.Keys)
	fmt.Printf("  Total Estimate: %d\n", sum.TotalCard)
}
