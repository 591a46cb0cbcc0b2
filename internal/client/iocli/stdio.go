package iocli

import (
	"fmt"
	"io"
	"os"
)

type Stdio struct {
	w io.Writer
}

// NewStdio пишет в w, по умолчанию в os.Stdout
func NewStdio(w io.Writer) IO {
	if w == nil {
		w = os.Stdout
	}
	return &Stdio{w: w}
}

func (s *Stdio) Println(a ...any) {
	_, _ = fmt.Fprintln(s.w, a...)
}

func (s *Stdio) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.w, format, a...)
}
