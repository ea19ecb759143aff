package main

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"text/tabwriter"

	"github.com/Microsoft/memsim/internal/datatype"
	"github.com/Microsoft/memsim/internal/paging"
	"github.com/Microsoft/memsim/internal/segment"
	"github.com/Microsoft/memsim/internal/vmm"
)

// previewValues is how many elements of a variable are shown before the count.
const previewValues = 4

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	return tw
}

func address(a int) string {
	if a < 0 {
		return "-"
	}
	return fmt.Sprintf("0x%08X", a)
}

// printSegments lists segments. The physical column of a swapped segment
// holds its offset in the swap store, prefixed with "swap:".
func printSegments(w io.Writer, segs []*segment.Segment) error {
	tw := newTable(w, "PID", "NAME", "TYPE", "VIRTUAL", "PHYSICAL", "SIZE")
	for _, s := range segs {
		phys := address(s.PhysicalAddress)
		if s.Swapped {
			phys = "swap:" + phys
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			s.PID, s.Name, s.Type, address(s.VirtualAddress), phys, s.Size)
	}
	return tw.Flush()
}

func printPages(w io.Writer, pages []paging.PageUnit) error {
	tw := newTable(w, "PID", "PAGE", "FRAME", "RESIDENT", "FREE")
	for _, p := range pages {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%t\t%d\n", p.PID, p.Number, p.Frame, p.Resident, p.FreeBytes)
	}
	return tw.Flush()
}

func printProcesses(w io.Writer, procs []vmm.ProcessInfo) error {
	tw := newTable(w, "PID", "TEXT", "GLOBALS", "STACK", "VARIABLES", "FRAMES", "FREE")
	for _, p := range procs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			p.PID, p.CodeSize, p.GlobalsSize, p.StackSize, p.Variables, p.Frames, p.FreeBytes)
	}
	return tw.Flush()
}

// formatValues joins the first n values; longer sequences end with the
// element count.
func formatValues(seq iter.Seq[datatype.Value], n int) string {
	var parts []string
	total := 0
	for v := range seq {
		if total < n {
			parts = append(parts, v.String())
		}
		total++
	}
	s := strings.Join(parts, ", ")
	if total > n {
		s += fmt.Sprintf(", ... [%d items]", total)
	}
	return s
}
