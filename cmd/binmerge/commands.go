package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ergochat/readline"

	"github.com/oberien/binmerge"
	"github.com/oberien/binmerge/binmerge_errors"
	"github.com/oberien/binmerge/utils"
)

const promptDefault = "◌ "

// Console is the interactive decision surface: it enumerates the
// region store while the scan is still running, records decisions and
// gates the apply behind a confirmation prompt.
type Console struct {
	session *binmerge.Session
	dest    string
	rl      *readline.Instance
	log     utils.Logger
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("status"),
	readline.PcItem("regions"),
	readline.PcItem("show"),
	readline.PcItem("peek"),

	readline.PcItem("left"),
	readline.PcItem("right"),
	readline.PcItem("keep"),
	readline.PcItem("undo"),

	readline.PcItem("apply"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (c *Console) Open() (err error) {
	c.rl, err = readline.NewEx(&readline.Config{
		Prompt:          promptDefault,
		HistoryFile:     ".binmerge_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	c.rl.CaptureExitSignal()
	return
}

func (c *Console) Close() {
	if c.rl != nil {
		_ = c.rl.Close()
		c.rl = nil
	}
}

// Run loops until quit, a successful apply (exit 0) or a fatal apply
// error (non-zero, kind distinguishable).
func (c *Console) Run() int {
	for {
		line, err := c.rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return 0
			}
			continue
		} else if err == io.EOF {
			return 0
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "exit", "quit":
			return 0
		case "apply":
			err := c.cmdApply()
			if err == nil {
				return 0
			}
			if errors.Is(err, binmerge_errors.ErrApplyCanceled) {
				fmt.Println("apply canceled")
				continue
			}
			fmt.Fprintln(os.Stderr, err)
			return exitCode(err)
		default:
			if err := c.dispatch(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %s\n", cmd, err)
			}
		}
	}
}

func (c *Console) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		return c.cmdHelp()
	case "status":
		return c.cmdStatus()
	case "regions", "list":
		return c.cmdRegions(args)
	case "show":
		return c.cmdShow(args)
	case "peek":
		return c.cmdPeek(args)
	case "left":
		return c.cmdDecide(args, binmerge.TakeLeft)
	case "right":
		return c.cmdDecide(args, binmerge.TakeRight)
	case "keep":
		return c.cmdDecide(args, binmerge.KeepAsIs)
	case "undo":
		return c.cmdDecide(args, binmerge.Unresolved)
	default:
		return fmt.Errorf("command unknown (try help)")
	}
}

func (c *Console) cmdHelp() error {
	fmt.Print(`status              scan progress and decision coverage
regions [FROM [N]]  list discovered regions
show IDX            one region with a hexdump of both sides
peek OFFSET         hexdump both inputs at an offset
left IDX|all        take the left file's bytes for a region
right IDX|all       take the right file's bytes for a region
keep IDX|all        explicitly keep the left bytes (no-op marker)
undo IDX            drop a decision
apply               write the merged output (asks for confirmation)
quit                leave without writing anything
`)
	return nil
}

func (c *Console) cmdStatus() error {
	store := c.session.Regions()
	bytes, rate := c.session.Progress()
	total := max(c.session.Left().Size(), c.session.Right().Size())

	state := "scanning"
	if store.Closed() {
		state = "scan complete"
	} else if err := store.Err(); err != nil {
		state = fmt.Sprintf("scan failed: %s", err)
	}
	fmt.Printf("%s: %d / %d bytes (%.0f MB/s)\n", state, bytes, total, rate)
	fmt.Printf("regions: %d (%d bytes differing), decided: %d\n",
		store.Len(), store.TotalBytes(), c.session.Decisions().Resolved())
	if i, ok := c.session.Decisions().FirstUnresolved(); ok {
		fmt.Printf("first undecided: region %d %s\n", i, store.Get(i))
	} else if store.Len() > 0 {
		fmt.Println("all regions decided")
	}
	return nil
}

func (c *Console) cmdRegions(args []string) error {
	store := c.session.Regions()
	from, count := 0, 20
	var err error
	if len(args) > 0 {
		if from, err = strconv.Atoi(args[0]); err != nil {
			return err
		}
	}
	if len(args) > 1 {
		if count, err = strconv.Atoi(args[1]); err != nil {
			return err
		}
	}
	n := store.Len()
	for i := from; i < n && i < from+count; i++ {
		r := store.Get(i)
		fmt.Printf("%4d  %s  %8d bytes  %s\n", i, r, r.Length, c.session.Decision(i))
	}
	if n > from+count {
		fmt.Printf("... %d more\n", n-from-count)
	}
	return nil
}

func (c *Console) cmdShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("show IDX")
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	store := c.session.Regions()
	if i < 0 || i >= store.Len() {
		return fmt.Errorf("%w: index %d", binmerge_errors.ErrUnknownRegion, i)
	}
	r := store.Get(i)
	fmt.Printf("region %d %s, %d bytes, %s\n", i, r, r.Length, c.session.Decision(i))
	return c.dumpBoth(int64(r.Offset), int(min(r.Length, 64)))
}

func (c *Console) cmdPeek(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("peek OFFSET")
	}
	off, err := strconv.ParseUint(args[0], 0, 63)
	if err != nil {
		return err
	}
	return c.dumpBoth(int64(off), 256)
}

func (c *Console) dumpBoth(off int64, n int) error {
	for _, f := range []*binmerge.FileReader{c.session.Left(), c.session.Right()} {
		fmt.Printf("--- %s\n", f.Path())
		data, err := f.ReadCached(off, n)
		if err != nil {
			return err
		}
		hexdump(os.Stdout, data, uint64(off))
	}
	return nil
}

func (c *Console) cmdDecide(args []string, d binmerge.MergeDecision) error {
	if len(args) != 1 {
		return fmt.Errorf("need a region index or 'all'")
	}
	if args[0] == "all" {
		for i, n := 0, c.session.Regions().Len(); i < n; i++ {
			if err := c.session.SetDecision(i, d); err != nil {
				return err
			}
		}
		return nil
	}
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	return c.session.SetDecision(i, d)
}

func (c *Console) cmdApply() error {
	if c.dest == "" {
		return fmt.Errorf("view-only session, restart with an OUT path to merge")
	}
	store := c.session.Regions()
	confirm := func() bool {
		c.rl.SetPrompt(fmt.Sprintf("write %d regions to %s? [y/N] ", store.Len(), c.dest))
		defer c.rl.SetPrompt(promptDefault)
		line, err := c.rl.Readline()
		if err != nil {
			return false
		}
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes"
	}
	return c.session.Apply(context.Background(), c.dest, confirm)
}

// hexdump writes 16-byte lines: offset, hex bytes, printable ASCII.
func hexdump(w io.Writer, data []byte, base uint64) {
	for len(data) > 0 {
		row := data
		if len(row) > 16 {
			row = row[:16]
		}
		var hexPart, ascii strings.Builder
		for i, b := range row {
			fmt.Fprintf(&hexPart, "%02x ", b)
			if i == 7 {
				hexPart.WriteByte(' ')
			}
			if b >= 0x20 && b < 0x7f {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		fmt.Fprintf(w, "%10x  %-49s |%s|\n", base, hexPart.String(), ascii.String())
		base += uint64(len(row))
		data = data[len(row):]
	}
}
