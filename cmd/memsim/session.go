package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"
	cli "github.com/urfave/cli/v2"

	"github.com/Microsoft/memsim/internal/datatype"
	"github.com/Microsoft/memsim/internal/log"
	"github.com/Microsoft/memsim/internal/memerror"
	"github.com/Microsoft/memsim/internal/oc"
	"github.com/Microsoft/memsim/internal/vmm"
)

const usage = `commands:
  create                                  start a process, prints its pid
  allocate <pid> <name> <type> <count>    allocate a variable, prints its virtual address
  set <pid> <name> <offset> <value>...    store values from element offset
  free <pid> <name>                       release a variable
  terminate <pid>                         end a process
  print mmu|page|processes|<pid>:<name>   show the tables or a variable
  exit
types: char, short, int, float, long, double`

var shellCommand = &cli.Command{
	Name:   "shell",
	Usage:  "Read commands interactively from stdin",
	Action: shell,
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Execute the commands in a script file",
	ArgsUsage: "<script>",
	Action:    runScript,
}

func shell(c *cli.Context) error {
	m, cleanup, err := newManager(c)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Fprintln(os.Stdout, "memsim: type help for the list of commands")
	s := &session{m: m, out: os.Stdout, prompt: "> "}
	return s.run(c.Context, os.Stdin)
}

func runScript(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.Errorf("expected 1 argument, got %d", c.NArg())
	}
	f, err := os.Open(c.Args().First())
	if err != nil {
		return errors.Wrap(err, "failed to open script")
	}
	defer f.Close()

	m, cleanup, err := newManager(c)
	if err != nil {
		return err
	}
	defer cleanup()

	s := &session{m: m, out: os.Stdout}
	return s.run(c.Context, f)
}

var errExit = errors.New("exit")

// session executes commands against one memory manager.
type session struct {
	m      *vmm.Manager
	out    io.Writer
	prompt string
}

// run executes every line of r. Recoverable errors are reported and the
// session goes on; a fatal error ends it and is returned.
func (s *session) run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for lineNo := 1; ; lineNo++ {
		if s.prompt != "" {
			fmt.Fprint(s.out, s.prompt)
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err := s.exec(ctx, line)
		switch {
		case err == nil:
		case errors.Is(err, errExit):
			return nil
		case memerror.IsFatal(err):
			log.G(ctx).WithError(err).WithField("line", lineNo).Error("ending session")
			fmt.Fprintf(s.out, "fatal: %v\n", err)
			return err
		default:
			log.G(ctx).WithError(err).WithField("line", lineNo).Warn("command rejected")
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return sc.Err()
}

func (s *session) exec(ctx context.Context, line string) (err error) {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "%v", err)
	}
	if len(args) == 0 {
		return nil
	}
	cmd, args := args[0], args[1:]

	ctx, span := oc.StartSpan(ctx, "memsim::"+cmd, oc.WithServerSpanKind)
	defer span.End()
	defer func() { oc.SetSpanStatus(span, err) }()

	switch cmd {
	case "create":
		if err := wantArgs(args, 0); err != nil {
			return err
		}
		pid, err := s.m.CreateProcess(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, pid)
	case "allocate":
		if err := wantArgs(args, 4); err != nil {
			return err
		}
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		typ, err := datatype.Parse(args[2])
		if err != nil {
			return err
		}
		count, err := parseInt("count", args[3])
		if err != nil {
			return err
		}
		if err := s.m.Allocate(ctx, pid, args[1], typ, count); err != nil {
			return err
		}
		seg, err := s.m.Segment(ctx, pid, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, seg.VirtualAddress)
	case "set":
		if len(args) < 4 {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "set needs a pid, a name, an offset and at least one value")
		}
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		offset, err := parseInt("offset", args[2])
		if err != nil {
			return err
		}
		return s.m.Set(ctx, pid, args[1], offset, args[3:])
	case "free":
		if err := wantArgs(args, 2); err != nil {
			return err
		}
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		return s.m.Free(ctx, pid, args[1])
	case "terminate":
		if err := wantArgs(args, 1); err != nil {
			return err
		}
		pid, err := parsePID(args[0])
		if err != nil {
			return err
		}
		_, err = s.m.Terminate(ctx, pid)
		return err
	case "print":
		if err := wantArgs(args, 1); err != nil {
			return err
		}
		return s.print(ctx, args[0])
	case "help":
		fmt.Fprintln(s.out, usage)
	case "exit", "quit":
		return errExit
	default:
		return errors.Wrapf(errdefs.ErrInvalidArgument, "unknown command %q", cmd)
	}
	return nil
}

func (s *session) print(ctx context.Context, what string) error {
	switch what {
	case "mmu":
		return printSegments(s.out, s.m.DumpSegments(ctx))
	case "page":
		return printPages(s.out, s.m.DumpPages(ctx))
	case "processes":
		return printProcesses(s.out, s.m.ListProcesses(ctx))
	}
	spid, name, ok := strings.Cut(what, ":")
	if !ok {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "cannot print %q", what)
	}
	pid, err := parsePID(spid)
	if err != nil {
		return err
	}
	seq, err := s.m.Get(ctx, pid, name)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, formatValues(seq, previewValues))
	return nil
}

func wantArgs(args []string, n int) error {
	if len(args) != n {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "expected %d arguments, got %d", n, len(args))
	}
	return nil
}

func parsePID(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(errdefs.ErrInvalidArgument, "invalid pid %q", s)
	}
	return uint32(v), nil
}

func parseInt(what, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(errdefs.ErrInvalidArgument, "invalid %s %q", what, s)
	}
	return v, nil
}
