package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/natserract/sfclean/pkg/resource"
)

// terminalPrompter asks the operator on a line-oriented terminal.
type terminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: bufio.NewReader(in), out: out}
}

// readLine returns the next input line. A closed input counts as an empty
// answer; ctx cancellation wins over a pending read.
func (p *terminalPrompter) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		ch <- result{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

func (p *terminalPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", message)
	line, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (p *terminalPrompter) Select(ctx context.Context, candidates []resource.Container) ([]resource.Container, error) {
	for i, c := range candidates {
		rows := "unknown rows"
		if c.RowCount != nil {
			rows = humanize.Comma(int64(*c.RowCount)) + " rows"
		}
		fmt.Fprintf(p.out, "%3d) %s  [%s]  %s, modified %s\n",
			i+1, c.Name, c.FolderPath, rows, humanize.Time(c.ModifiedAt))
	}

	for {
		fmt.Fprint(p.out, "Select data extensions to delete (e.g. 1,3-5 or all; empty for none): ")
		line, err := p.readLine(ctx)
		if err != nil {
			return nil, err
		}
		picked, err := parseSelection(line, len(candidates))
		if err != nil {
			fmt.Fprintf(p.out, "%v\n", err)
			continue
		}
		out := make([]resource.Container, 0, len(picked))
		for _, i := range picked {
			out = append(out, candidates[i])
		}
		return out, nil
	}
}

// parseSelection turns "1,3-5" into zero-based indexes in ascending order.
func parseSelection(input string, n int) ([]int, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" || input == "none" {
		return nil, nil
	}
	if input == "all" || input == "*" {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}

	chosen := make([]bool, n)
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid selection %q", part)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
				return nil, fmt.Errorf("invalid selection %q", part)
			}
		}
		if from < 1 || to > n || from > to {
			return nil, fmt.Errorf("selection %q is outside 1-%d", part, n)
		}
		for i := from; i <= to; i++ {
			chosen[i-1] = true
		}
	}

	var out []int
	for i, ok := range chosen {
		if ok {
			out = append(out, i)
		}
	}
	return out, nil
}
