package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/aqasim81/migration-history/internal/migration"
	"github.com/aqasim81/migration-history/internal/syncer"
)

const promptHelp = `y - confirm the change
n - ask the server for a different change
q - abandon the migration`

// terminalPrompter asks about server proposals on a line-based terminal.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(in), out: out}
}

func (p *terminalPrompter) Confirm(ctx context.Context, prop *syncer.Proposal) (syncer.Decision, error) {
	question := prop.Prompt
	if question == "" {
		question = "Apply the following change?"
	}

	fmt.Fprintln(p.out, question)

	for _, s := range prop.Statements {
		fmt.Fprintf(p.out, "    %s\n", s.Text)
	}

	if !prop.DataSafe {
		_, _ = color.New(color.FgYellow).Fprintln(p.out, "This change may lose data.")
	}

	for {
		fmt.Fprint(p.out, "[y,n,q,?] > ")

		line, err := p.readLine(ctx)
		if err != nil {
			return syncer.Quit, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return syncer.Accept, nil
		case "n", "no":
			return syncer.Reject, nil
		case "q", "quit":
			return syncer.Quit, nil
		default:
			fmt.Fprintln(p.out, promptHelp)
		}
	}
}

// readLine reads one answer, giving up when ctx is done.
func (p *terminalPrompter) readLine(ctx context.Context) (string, error) {
	type answer struct {
		line string
		err  error
	}

	ch := make(chan answer, 1)

	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-ch:
		if errors.Is(a.err, io.EOF) {
			if a.line == "" {
				return "", fmt.Errorf("%w: input closed", migration.ErrUserAbort)
			}

			return a.line, nil
		}

		if a.err != nil {
			return "", fmt.Errorf("reading answer: %w", a.err)
		}

		return a.line, nil
	}
}
