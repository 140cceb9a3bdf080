package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// promptOverwrite returns a save confirmation hook. A missing destination
// needs no confirmation; an existing one is only replaced after a "y" typed
// on the terminal, or with --yes. Without a terminal the answer is no.
func promptOverwrite(in *os.File, out io.Writer, assumeYes bool) func(dest string) bool {
	return func(dest string) bool {
		if assumeYes {
			return true
		}
		if _, err := os.Stat(dest); err != nil {
			return true
		}

		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			fmt.Fprintf(out, "%s exists; pass --yes to overwrite\n", dest)
			return false
		}

		fmt.Fprintf(out, "%s exists. Overwrite? [y/N] ", dest)
		if oldState, err := term.MakeRaw(fd); err == nil {
			defer term.Restore(fd, oldState)
		} // cooked mode: the answer needs Enter
		reader := bufio.NewReaderSize(in, 16)
		answer, _ := reader.ReadByte()
		fmt.Fprint(out, "\r\n")
		return isYes(answer)
	}
}

func isYes(b byte) bool {
	return b == 'y' || b == 'Y'
}
