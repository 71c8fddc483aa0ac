package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/roach88/harvest/internal/engine"
)

var _ engine.Observer = (*terminalObserver)(nil)

// terminalObserver reports a run on the terminal. Rows are printed as
// they arrive in text mode; dialogs are answered on stdin.
type terminalObserver struct {
	mu        sync.Mutex
	out       io.Writer
	diag      io.Writer
	in        *bufio.Reader
	rows      bool
	assumeYes bool
}

func newTerminalObserver(out, diag io.Writer, in io.Reader, printRows, assumeYes bool) *terminalObserver {
	return &terminalObserver{
		out:       out,
		diag:      diag,
		in:        bufio.NewReader(in),
		rows:      printRows,
		assumeYes: assumeYes,
	}
}

func (o *terminalObserver) RowAdded(row []string) {
	if !o.rows {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.out, strings.Join(row, "\t"))
}

func (o *terminalObserver) LoopProgress(loop string, iterations int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.diag, "%s: %d\n", loop, iterations)
}

func (o *terminalObserver) Say(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.diag, text)
}

// WaitUntilReady prints message and blocks until a line is read or ctx
// ends.
func (o *terminalObserver) WaitUntilReady(ctx context.Context, message string) error {
	o.mu.Lock()
	fmt.Fprintf(o.diag, "%s\nPress Enter to continue. ", message)
	o.mu.Unlock()
	_, err := o.readLine(ctx)
	return err
}

func (o *terminalObserver) ConfirmLargeTrace(ctx context.Context, events int) (bool, error) {
	if o.assumeYes {
		return true, nil
	}
	o.mu.Lock()
	fmt.Fprintf(o.diag, "The next replay has %d events. Replay it? [y/N] ", events)
	o.mu.Unlock()
	line, err := o.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// readLine reads one line from stdin. End of input counts as an empty
// answer.
func (o *terminalObserver) readLine(ctx context.Context) (string, error) {
	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := o.in.ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		ch <- answer{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		return a.line, a.err
	}
}
