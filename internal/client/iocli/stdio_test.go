package iocli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStdio_DefaultsToStdout(t *testing.T) {
	assert.NotNil(t, NewStdio(nil))
}

func TestPrintlnAndPrintf(t *testing.T) {
	var buf bytes.Buffer
	stdio := NewStdio(&buf)

	stdio.Println("hello", "world")
	stdio.Printf("test %d %s\n", 1, "abc")

	assert.Equal(t, "hello world\ntest 1 abc\n", buf.String())
}
