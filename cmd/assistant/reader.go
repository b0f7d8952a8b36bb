package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"
)

// lineReader reads one line of user input after showing prompt.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// errInterrupted is returned when the user presses Ctrl+C at a prompt.
var errInterrupted = readline.ErrInterrupt

// newLineReader uses readline on a terminal and plain buffered reads when
// stdin is piped.
func newLineReader() lineReader {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return newPlainReader(os.Stdin, os.Stdout)
	}

	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:     filepath.Join(os.TempDir(), ".assistant_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Warning: readline not available, using simple mode\n")
		return newPlainReader(os.Stdin, os.Stdout)
	}
	return &readlineReader{rl: rl}
}

type readlineReader struct {
	rl *readline.Instance
}

func (r *readlineReader) ReadLine(prompt string) (string, error) {
	r.rl.SetPrompt(prompt)
	return r.rl.Readline()
}

func (r *readlineReader) Close() error {
	return r.rl.Close()
}

type plainReader struct {
	in  *bufio.Reader
	out io.Writer
}

func newPlainReader(in io.Reader, out io.Writer) *plainReader {
	return &plainReader{in: bufio.NewReader(in), out: out}
}

func (r *plainReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (r *plainReader) Close() error {
	return nil
}
