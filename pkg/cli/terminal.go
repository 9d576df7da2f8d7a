package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// CommandPrefix marks a line as a command rather than chat text.
const CommandPrefix = "/"

// Terminal is an interactive line editor with command completion. When
// stdin is not a terminal it falls back to plain line reading.
type Terminal struct {
	cli    *CLI
	in     *os.File
	out    io.Writer
	prompt string

	mu      sync.Mutex
	term    *term.Terminal
	restore func()
}

func NewTerminal(c *CLI, in *os.File, out io.Writer, prompt string) *Terminal {
	return &Terminal{cli: c, in: in, out: out, prompt: prompt}
}

// Write prints above the prompt. Safe for concurrent use.
func (t *Terminal) Write(p []byte) (int, error) {
	t.mu.Lock()
	tt := t.term
	t.mu.Unlock()

	if tt != nil {
		return tt.Write(p)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.out.Write(p)
}

// Run reads lines until EOF, Ctrl+C/Ctrl+D or ctx cancellation and hands
// each non-empty line to handle.
func (t *Terminal) Run(ctx context.Context, handle func(line string)) error {
	fd := int(t.in.Fd())
	if !term.IsTerminal(fd) {
		return t.runPlain(ctx, handle)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return err
	}
	var once sync.Once
	restore := func() { once.Do(func() { _ = term.Restore(fd, oldState) }) }
	defer restore()

	tt := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{t.in, t.out}, t.prompt)
	tt.AutoCompleteCallback = t.autoComplete

	t.mu.Lock()
	t.term = tt
	t.restore = restore
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.term = nil
		t.restore = nil
		t.mu.Unlock()
	}()

	for ctx.Err() == nil {
		line, err := tt.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line = strings.TrimSpace(line); line != "" {
			handle(line)
		}
	}
	return nil
}

// Close puts the terminal back into cooked mode while Run may still be
// blocked reading.
func (t *Terminal) Close() {
	t.mu.Lock()
	restore := t.restore
	t.mu.Unlock()

	if restore != nil {
		restore()
	}
}

func (t *Terminal) runPlain(ctx context.Context, handle func(line string)) error {
	scanner := bufio.NewScanner(t.in)
	for ctx.Err() == nil && scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			handle(line)
		}
	}
	return scanner.Err()
}

// autoComplete completes "/command ..." lines on Tab.
func (t *Terminal) autoComplete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' || !strings.HasPrefix(line, CommandPrefix) {
		return "", 0, false
	}

	input := line[len(CommandPrefix):pos]
	completions := t.cli.Complete(input)

	switch len(completions) {
	case 0:
		return "", 0, false
	case 1:
		// если есть только один вариант, автоматически дополняем
		completed := CommandPrefix + CompleteLine(input, completions[0])
		return completed + line[pos:], len(completed), true
	default:
		// показываем варианты и дописываем общий префикс
		_, _ = io.WriteString(t, strings.Join(completions, "  ")+"\n")

		common := commonPrefix(completions)
		words := strings.Fields(input)
		if common == "" || strings.HasSuffix(input, " ") || len(words) == 0 || len(common) <= len(words[len(words)-1]) {
			return line, pos, true
		}
		words[len(words)-1] = common
		completed := CommandPrefix + strings.Join(words, " ")
		return completed + line[pos:], len(completed), true
	}
}

func commonPrefix(values []string) string {
	if len(values) == 0 {
		return ""
	}
	prefix := values[0]
	for _, v := range values[1:] {
		for !strings.HasPrefix(v, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
