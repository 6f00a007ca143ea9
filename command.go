package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Command is one smallweb subcommand.
type Command struct {
	Name        string
	Description string
	Usage       string
	Examples    []string
	Run         func(cmd *Command, args []string) error
}

// NewFlagSet creates a flag set that prints this command's usage. Every
// command accepts -config.
func (c *Command) NewFlagSet() (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(c.Name, flag.ExitOnError)
	fs.Usage = func() {
		c.PrintUsage()
		fmt.Fprintln(os.Stderr, "\nFLAGS:")
		fs.PrintDefaults()
	}
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML config file")
	return fs, configPath
}

// PrintUsage prints the description, usage line and examples.
func (c *Command) PrintUsage() {
	fmt.Fprintf(os.Stderr, "%s\n\n", c.Description)
	fmt.Fprintf(os.Stderr, "USAGE:\n    %s\n\n", c.Usage)
	if len(c.Examples) > 0 {
		fmt.Fprintf(os.Stderr, "EXAMPLES:\n")
		for _, example := range c.Examples {
			fmt.Fprintf(os.Stderr, "    %s\n", example)
		}
	}
}

// CommandRegistry dispatches to registered commands.
type CommandRegistry struct {
	commands map[string]*Command
	order    []string
	version  VersionInfo
}

// VersionInfo holds build-time version information
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

func NewCommandRegistry(v VersionInfo) *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]*Command),
		version:  v,
	}
}

// Register adds a command. Help lists commands in registration order.
func (r *CommandRegistry) Register(cmd *Command) {
	if _, ok := r.commands[cmd.Name]; !ok {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

// Execute runs the command named by args[0].
func (r *CommandRegistry) Execute(args []string) error {
	if len(args) < 1 {
		r.PrintHelp(os.Stdout)
		return fmt.Errorf("no command specified")
	}

	cmdName := args[0]
	switch cmdName {
	case "help", "-h", "--help":
		r.PrintHelp(os.Stdout)
		return nil
	case "version", "--version":
		fmt.Printf("smallweb %s (commit %s, built %s)\n", r.version.Version, r.version.Commit, r.version.Date)
		return nil
	}

	cmd, ok := r.commands[cmdName]
	if !ok {
		r.PrintHelp(os.Stderr)
		return fmt.Errorf("unknown command: %s", cmdName)
	}
	return cmd.Run(cmd, args[1:])
}

// PrintHelp prints overall CLI help.
func (r *CommandRegistry) PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "smallweb - mirror, classify and curate the small web feed index")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "    smallweb <command> [flags] [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	for _, name := range r.order {
		fmt.Fprintf(w, "    %-12s %s\n", name, r.commands[name].Description)
	}
	fmt.Fprintf(w, "    %-12s %s\n", "version", "Print version information")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'smallweb <command> --help' for more information on a command.")
	fmt.Fprintln(w, "Settings come from -config and SMALLWEB_* environment variables.")
}

// TableWriter prints aligned tables with box borders.
type TableWriter struct {
	w       io.Writer
	headers []string
	rows    [][]string
	widths  []int
}

func NewTableWriter(w io.Writer, headers []string) *TableWriter {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &TableWriter{
		w:       w,
		headers: headers,
		widths:  widths,
	}
}

// AddRow adds a row to the table
func (t *TableWriter) AddRow(row ...string) {
	t.rows = append(t.rows, row)
	for i, cell := range row {
		if i < len(t.widths) && len(cell) > t.widths[i] {
			t.widths[i] = len(cell)
		}
	}
}

// Print prints the table with borders
func (t *TableWriter) Print() {
	t.printSeparator("┌", "┬", "┐")
	t.printRow(t.headers)
	t.printSeparator("├", "┼", "┤")
	for _, row := range t.rows {
		t.printRow(row)
	}
	t.printSeparator("└", "┴", "┘")
}

func (t *TableWriter) printSeparator(left, mid, right string) {
	fmt.Fprint(t.w, left)
	for i, width := range t.widths {
		fmt.Fprint(t.w, strings.Repeat("─", width+2))
		if i < len(t.widths)-1 {
			fmt.Fprint(t.w, mid)
		}
	}
	fmt.Fprintln(t.w, right)
}

func (t *TableWriter) printRow(row []string) {
	fmt.Fprint(t.w, "│")
	for i := range t.widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		fmt.Fprintf(t.w, " %-*s │", t.widths[i], cell)
	}
	fmt.Fprintln(t.w)
}
