// Package vm - debugger support
package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/emberlang/ember/pkg/bytecode"
)

// Debugger provides interactive debugging and --trace support for a VM. It
// holds no state the VM itself needs at runtime, so it's a thin sidecar
// rather than something threaded through every opcode handler.
type Debugger struct {
	vm          *VM
	breakpoints map[int]bool
	stepMode    bool
	enabled     bool
}

func newDebugger(vm *VM) *Debugger {
	return &Debugger{vm: vm, breakpoints: make(map[int]bool)}
}

// Enable activates interactive stepping.
func (d *Debugger) Enable() { d.enabled = true }

// Disable turns interactive stepping back off.
func (d *Debugger) Disable() { d.enabled = false }

// SetStepMode toggles pause-after-every-instruction behavior.
func (d *Debugger) SetStepMode(enabled bool) { d.stepMode = enabled }

// AddBreakpoint pauses execution right before the instruction at ip runs.
func (d *Debugger) AddBreakpoint(ip int) { d.breakpoints[ip] = true }

// RemoveBreakpoint undoes AddBreakpoint.
func (d *Debugger) RemoveBreakpoint(ip int) { delete(d.breakpoints, ip) }

// ClearBreakpoints removes every breakpoint.
func (d *Debugger) ClearBreakpoints() { d.breakpoints = make(map[int]bool) }

func (d *Debugger) shouldPause(ip int) bool {
	return d.enabled && (d.stepMode || d.breakpoints[ip])
}

// trace is called by VM.Run before every instruction when --trace (debug
// log level) or --debug is set.
// It logs a one-line disassembly of the instruction about to execute plus
// the current stack depth, and drops into the interactive prompt if
// stepping or a breakpoint is active.
func (d *Debugger) trace(ip int) {
	_, instr := bytecode.DisassembleAt(d.vm.chunk, ip)
	d.vm.Log.WithFields(map[string]interface{}{
		"ip":    ip,
		"sp":    d.vm.sp,
		"frames": len(d.vm.frames),
	}).Debug(strings.TrimSpace(instr))
	if d.shouldPause(ip) {
		d.interactivePrompt(ip)
	}
}

// ShowStack dumps the live portion of the value stack with go-spew, the
// same tool the rest of the pack reaches for when a human needs to read an
// arbitrary Go value at a glance.
func (d *Debugger) ShowStack() string {
	var b strings.Builder
	fmt.Fprintf(&b, "stack (sp=%d):\n", d.vm.sp)
	for i := d.vm.sp - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "  [%3d] %s\n", i, spewValue(d.vm.stack[i]))
	}
	return b.String()
}

// ShowLocals dumps the active frame's slots relative to its frame pointer.
func (d *Debugger) ShowLocals() string {
	if len(d.vm.frames) == 0 {
		return "no active frame\n"
	}
	fp := d.vm.frameBase()
	var b strings.Builder
	fmt.Fprintf(&b, "locals (frame_pointer=%d):\n", fp)
	for i := fp; i < d.vm.sp; i++ {
		fmt.Fprintf(&b, "  [%d] %s\n", i-fp, spewValue(d.vm.stack[i]))
	}
	return b.String()
}

// ShowGlobals dumps every bound global by name.
func (d *Debugger) ShowGlobals() string {
	var b strings.Builder
	b.WriteString("globals:\n")
	names := make([]string, 0, len(d.vm.globals))
	for n := range d.vm.globals {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	for _, n := range names {
		fmt.Fprintf(&b, "  %s = %s\n", n, spewValue(d.vm.globals[n]))
	}
	return b.String()
}

// ShowCallStack dumps the active call frames, most recent first.
func (d *Debugger) ShowCallStack() string {
	var b strings.Builder
	b.WriteString("call stack:\n")
	for i := len(d.vm.frames) - 1; i >= 0; i-- {
		f := d.vm.frames[i]
		fmt.Fprintf(&b, "  #%d return_ip=%d frame_pointer=%d\n", i, f.ReturnIP, f.FramePointer)
	}
	return b.String()
}

func spewValue(v Value) string {
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true}
	return strings.TrimSpace(cfg.Sdump(v))
}

// interactivePrompt is the REPL-under-a-REPL: a tiny command loop that reads
// from stdin while a breakpoint or step is active.
func (d *Debugger) interactivePrompt(ip int) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("(emberdbg) ip=%d> ", ip)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "c", "continue":
			d.stepMode = false
			return
		case "s", "step":
			d.stepMode = true
			return
		case "stack":
			fmt.Print(d.ShowStack())
		case "locals":
			fmt.Print(d.ShowLocals())
		case "globals":
			fmt.Print(d.ShowGlobals())
		case "calls":
			fmt.Print(d.ShowCallStack())
		case "break":
			if len(fields) != 2 {
				fmt.Println("usage: break <ip>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("bad ip:", fields[1])
				continue
			}
			d.AddBreakpoint(n)
		case "list":
			fmt.Print(bytecode.Disassemble(d.vm.chunk))
		case "help":
			d.printHelp()
		default:
			fmt.Println("unknown command, try 'help'")
		}
	}
}

func (d *Debugger) printHelp() {
	fmt.Println(`commands:
  c, continue    resume execution
  s, step        execute one instruction and pause again
  stack          print the value stack
  locals         print the active frame's locals
  globals        print bound globals
  calls          print the call-frame stack
  break <ip>     set a breakpoint at instruction offset ip
  list           disassemble the whole chunk`)
}
