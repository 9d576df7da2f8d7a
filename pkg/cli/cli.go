package cli

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type CommandPlugin interface {
	Meta() *cobra.Command
	Execute(cmd *cobra.Command, args []string) error
}

// CLI is a cobra command tree driven one line at a time.
type CLI struct {
	rootCmd *cobra.Command
	plugins []CommandPlugin
}

func NewCLI(use, short string) *CLI {
	root := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// help is reachable as a command, completion is handled by the terminal
	root.CompletionOptions.DisableDefaultCmd = true

	return &CLI{
		rootCmd: root,
		plugins: make([]CommandPlugin, 0, 10),
	}
}

func (c *CLI) RegisterPlugin(p CommandPlugin) {
	c.plugins = append(c.plugins, p)
	cmd := p.Meta()
	cmd.RunE = p.Execute
	c.rootCmd.AddCommand(cmd)
}

func (c *CLI) Root() *cobra.Command {
	return c.rootCmd
}

// ExecuteLine runs one command line, writing output and errors to out.
func (c *CLI) ExecuteLine(line string, out io.Writer) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}

	c.rootCmd.SetArgs(args)
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(out)

	cmd, err := c.rootCmd.ExecuteC()
	if cmd != nil {
		resetFlags(cmd)
	}
	return err
}

// resetFlags returns flags to their defaults, since the command tree is
// reused for every line.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

// Complete returns candidates for the last word of input.
func (c *CLI) Complete(input string) []string {
	parts := strings.Fields(input)
	trailingSpace := strings.HasSuffix(input, " ")

	if len(parts) == 0 {
		return matchingCommands(c.rootCmd, "")
	}
	if len(parts) == 1 && !trailingSpace {
		return matchingCommands(c.rootCmd, parts[0])
	}

	cmd, rest := findCommand(c.rootCmd, parts)
	if cmd == c.rootCmd {
		return nil
	}

	last := ""
	if !trailingSpace && len(rest) > 0 {
		last = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}

	if strings.HasPrefix(last, "-") {
		return matchingFlags(cmd, last)
	}

	if len(cmd.Commands()) > 0 {
		return matchingCommands(cmd, last)
	}

	if cmd.ValidArgsFunction != nil {
		candidates, _ := cmd.ValidArgsFunction(cmd, rest, last)
		var out []string
		for _, cand := range candidates {
			// drop cobra descriptions ("value\tdescription")
			cand, _, _ = strings.Cut(cand, "\t")
			if strings.HasPrefix(cand, last) {
				out = append(out, cand)
			}
		}
		return out
	}
	return nil
}

// CompleteLine applies a single completion to input.
func CompleteLine(input, completion string) string {
	if input == "" || strings.HasSuffix(input, " ") {
		return input + completion + " "
	}
	parts := strings.Fields(input)
	parts[len(parts)-1] = completion
	return strings.Join(parts, " ") + " "
}

// Usage renders the list of commands.
func (c *CLI) Usage() string {
	var buf bytes.Buffer
	for _, cmd := range c.rootCmd.Commands() {
		if cmd.Hidden {
			continue
		}
		fmt.Fprintf(&buf, "  /%-10s %s\n", cmd.Name(), cmd.Short)
	}
	return buf.String()
}

// matchingCommands возвращает команды, начинающиеся с prefix
func matchingCommands(parent *cobra.Command, prefix string) []string {
	var matches []string
	for _, cmd := range parent.Commands() {
		if !cmd.Hidden && strings.HasPrefix(cmd.Name(), prefix) {
			matches = append(matches, cmd.Name())
		}
	}
	return matches
}

// matchingFlags возвращает флаги, начинающиеся с prefix
func matchingFlags(cmd *cobra.Command, prefix string) []string {
	var matches []string
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Shorthand != "" {
			if short := "-" + flag.Shorthand; strings.HasPrefix(short, prefix) {
				matches = append(matches, short)
			}
		}
		if full := "--" + flag.Name; strings.HasPrefix(full, prefix) {
			matches = append(matches, full)
		}
	})
	return matches
}

// findCommand walks subcommands as far as the words allow and returns the
// command reached and the words left over.
func findCommand(root *cobra.Command, parts []string) (*cobra.Command, []string) {
	cmd := root
	i := 0
	for ; i < len(parts); i++ {
		if strings.HasPrefix(parts[i], "-") {
			break
		}
		var next *cobra.Command
		for _, sub := range cmd.Commands() {
			if sub.Name() == parts[i] {
				next = sub
				break
			}
		}
		if next == nil {
			break
		}
		cmd = next
	}
	return cmd, parts[i:]
}
