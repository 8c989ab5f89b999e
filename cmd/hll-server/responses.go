package main

import (
	"fmt"
	"io"
)

// Reply writers for the RESP scalar types. Handlers ignore write errors;
// a dead client surfaces as a read error on the next Parse and tears the
// connection down through the normal path.

func writeSimpleString(w io.Writer, s string) error {
	_, err := fmt.Fprintf(w, "+%s\r\n", s)
	return err
}

func writeError(w io.Writer, msg string) error {
	_, err := fmt.Fprintf(w, "-%s\r\n", msg)
	return err
}

func writeInteger(w io.Writer, n uint64) error {
	_, err := fmt.Fprintf(w, ":%d\r\n", n)
	return err
}

func writeBulk(w io.Writer, s string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(s), s)
	return err
}

func (app *application) wrongNumberOfArgsResponse(w io.Writer, name string) {
	_ = writeError(w, fmt.Sprintf("ERR wrong number of arguments for '%s' command", name))
}
