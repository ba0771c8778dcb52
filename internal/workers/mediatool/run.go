package mediatool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"mediaflow/internal/services"
)

// tailLines bounds how much stderr is kept for error messages.
const tailLines = 8

// Command describes one external tool invocation.
type Command struct {
	Stage     string
	Operation string
	Binary    string
	Args      []string
	// OnLine receives each stderr line; carriage returns count as line breaks
	// so ffmpeg and tqdm progress updates arrive as they are drawn.
	OnLine func(line string)
}

// Run executes the command and waits for it. Context errors are returned
// unwrapped so callers can tell a deadline from a tool failure.
func Run(ctx context.Context, c Command) error {
	if strings.TrimSpace(c.Binary) == "" {
		return services.Wrap(services.ErrConfiguration, c.Stage, c.Operation, "binary not configured", nil)
	}
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, c.Stage, c.Operation, "open stderr", err)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return services.Wrap(services.ErrConfiguration, c.Stage, c.Operation,
				fmt.Sprintf("%s not found in PATH", c.Binary), err)
		}
		return services.Wrap(services.ErrExternalTool, c.Stage, c.Operation, "start "+c.Binary, err)
	}

	tail := scanLines(stderr, c.OnLine)
	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr != nil {
		detail := strings.Join(tail, " | ")
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		message := fmt.Sprintf("%s failed", c.Binary)
		if detail != "" {
			message += ": " + detail
		}
		return services.Wrap(services.ErrExternalTool, c.Stage, c.Operation, message, waitErr)
	}
	return nil
}

func scanLines(r io.Reader, onLine func(string)) []string {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitCRLF)
	var tail []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if onLine != nil {
			onLine(line)
		}
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
	}
	// Drain so the process never blocks on a full pipe after a scan error.
	_, _ = io.Copy(io.Discard, r)
	return tail
}

// splitCRLF is bufio.ScanLines that also breaks on a bare carriage return.
func splitCRLF(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance := i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
