// Package vm implements the bytecode virtual machine for Ember.
//
// The VM is a stack-based interpreter that executes bytecode instructions.
// It's the final stage in the execution pipeline:
//
//	Source Code -> Lexer -> Parser -> AST -> Compiler -> Bytecode -> VM -> Execution
//
// The value stack doubles as local-variable storage: a function's
// parameters and `let` locals live at fixed offsets from the active call
// frame's frame pointer, addressed by DEEPGET/DEEPSET, rather than in a
// separate locals array. Globals live in a name-keyed map instead.
package vm

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/sirupsen/logrus"
)

const (
	stackMax    = 255
	maxCallDepth = 255
)

// frame tracks one active call. BaseSlot is where the stack is truncated
// back to on return: for OpCall it sits one slot below FramePointer (to
// also discard the hidden callee Function value); for OpCallMethod it
// equals FramePointer, since the receiver occupies slot 0 of the callee's
// own frame.
type frame struct {
	ReturnIP     int
	FramePointer int
	BaseSlot     int
}

// VM executes a single compiled Chunk to completion.
type VM struct {
	chunk  *bytecode.Chunk
	ip     int
	stack  [stackMax]Value
	sp     int
	frames []frame

	globals    map[string]Value
	blueprints map[string]*Blueprint

	Out    io.Writer
	Log    *logrus.Logger
	Debug  bool
	debugger *Debugger
}

// New constructs a VM ready to run chunk.
func New(chunk *bytecode.Chunk) *VM {
	vm := &VM{
		chunk:      chunk,
		globals:    make(map[string]Value),
		blueprints: make(map[string]*Blueprint),
		Out:        os.Stdout,
		Log:        logrus.New(),
	}
	vm.Log.SetLevel(logrus.WarnLevel)
	vm.debugger = newDebugger(vm)
	return vm
}

// Run executes the chunk from the current instruction pointer (offset 0 for
// a fresh VM) until it falls off the end of Code or an instruction faults.
// When Debug is set, the debugger is enabled in step mode the first time Run
// is called, so execution pauses before the first instruction.
func (vm *VM) Run() error {
	if vm.Debug && !vm.debugger.enabled {
		vm.debugger.Enable()
		vm.debugger.SetStepMode(true)
	}
	tracing := vm.Log.IsLevelEnabled(logrus.DebugLevel)
	for vm.ip < len(vm.chunk.Code) {
		if vm.Debug || tracing {
			vm.debugger.trace(vm.ip)
		}
		op := bytecode.Opcode(vm.chunk.Code[vm.ip])
		vm.ip++
		if err := vm.dispatch(op); err != nil {
			return err
		}
	}
	return nil
}

// Resume points the VM at a chunk that has grown since the last Run (the
// REPL's incremental-compile loop appends each line to the same chunk) and
// re-enters the fetch-decode-execute loop at offset from, keeping the
// existing stack, globals, and blueprints intact.
func (vm *VM) Resume(chunk *bytecode.Chunk, from int) error {
	vm.chunk = chunk
	vm.ip = from
	return vm.Run()
}

func (vm *VM) dispatch(op bytecode.Opcode) error {
	switch op {
	case bytecode.OpPop:
		vm.decref(vm.pop())
	case bytecode.OpTrue:
		return vm.push(BoolValue(true))
	case bytecode.OpNull:
		return vm.push(NullValue{})
	case bytecode.OpConst:
		idx := vm.readU32()
		return vm.push(NumberValue(vm.chunk.Consts[idx]))
	case bytecode.OpStr:
		idx := vm.readU32()
		return vm.push(StringValue(vm.chunk.Strings[idx]))

	case bytecode.OpAdd:
		return vm.execAdd()
	case bytecode.OpSub:
		return vm.execArith(func(a, b float64) float64 { return a - b })
	case bytecode.OpMul:
		return vm.execArith(func(a, b float64) float64 { return a * b })
	case bytecode.OpDiv:
		return vm.execDiv()
	case bytecode.OpMod:
		return vm.execMod()
	case bytecode.OpEq:
		return vm.execEq()
	case bytecode.OpGt:
		return vm.execCompare(func(a, b float64) bool { return a > b })
	case bytecode.OpLt:
		return vm.execCompare(func(a, b float64) bool { return a < b })
	case bytecode.OpBitAnd:
		return vm.execBitwise(func(a, b int64) int64 { return a & b })
	case bytecode.OpBitOr:
		return vm.execBitwise(func(a, b int64) int64 { return a | b })
	case bytecode.OpBitXor:
		return vm.execBitwise(func(a, b int64) int64 { return a ^ b })
	case bytecode.OpBitShl:
		return vm.execBitwise(func(a, b int64) int64 { return a << uint(b) })
	case bytecode.OpBitShr:
		return vm.execBitwise(func(a, b int64) int64 { return a >> uint(b) })
	case bytecode.OpBitNot:
		return vm.execBitNot()
	case bytecode.OpNot:
		v := vm.pop()
		vm.decref(v)
		return vm.push(BoolValue(!truthy(v)))
	case bytecode.OpNeg:
		v := vm.pop()
		n, ok := v.(NumberValue)
		if !ok {
			return vm.fault("operand to unary - must be a number, got %s", typeName(v))
		}
		return vm.push(-n)
	case bytecode.OpStrCat:
		return vm.execStrCat()

	case bytecode.OpJz:
		disp := vm.readI16()
		cond := vm.pop()
		vm.decref(cond)
		if !truthy(cond) {
			vm.ip += int(disp)
		}
	case bytecode.OpJmp:
		disp := vm.readI16()
		vm.ip += int(disp)

	case bytecode.OpSetGlobal:
		name := vm.chunk.Strings[vm.readU32()]
		v := vm.peek()
		if old, ok := vm.globals[name]; ok {
			vm.decref(old)
		}
		vm.globals[name] = v
		vm.incref(v)
	case bytecode.OpGetGlobal:
		name := vm.chunk.Strings[vm.readU32()]
		v, ok := vm.globals[name]
		if !ok {
			return vm.fault("undefined global %q", name)
		}
		vm.incref(v)
		return vm.push(v)
	case bytecode.OpGetGlobalPtr:
		name := vm.chunk.Strings[vm.readU32()]
		if _, ok := vm.globals[name]; !ok {
			return vm.fault("undefined global %q", name)
		}
		return vm.push(PointerValue{Kind: PointerGlobal, GlobalName: name})

	case bytecode.OpDeepSet:
		slot := int(vm.readU8())
		idx := vm.frameBase() + slot
		v := vm.peek()
		vm.decref(vm.stack[idx])
		vm.stack[idx] = v
		vm.incref(v)
	case bytecode.OpDeepGet:
		slot := int(vm.readU8())
		v := vm.stack[vm.frameBase()+slot]
		vm.incref(v)
		return vm.push(v)
	case bytecode.OpDeepGetPtr:
		slot := int(vm.readU8())
		return vm.push(PointerValue{Kind: PointerLocal, StackIndex: vm.frameBase() + slot})

	case bytecode.OpSetAttr:
		return vm.execSetAttr()
	case bytecode.OpGetAttr:
		return vm.execGetAttr()
	case bytecode.OpGetAttrPtr:
		return vm.execGetAttrPtr()

	case bytecode.OpStruct:
		idx := vm.readU32()
		name := vm.chunk.Strings[idx]
		bp, ok := vm.blueprints[name]
		if !ok {
			return vm.fault("unknown blueprint %q", name)
		}
		props := make(map[string]Value, len(bp.Properties))
		for _, p := range bp.Properties {
			props[p] = NullValue{}
		}
		return vm.push(HeapValue{Cell: &StructCell{
			Blueprint:  name,
			Properties: props,
			RefCount:   1,
		}})

	case bytecode.OpStructBlueprint:
		return vm.execStructBlueprint()
	case bytecode.OpImpl:
		return vm.execImpl()
	case bytecode.OpFuncVal:
		nameIdx := vm.readU32()
		paramCount := vm.readU32()
		entry := vm.readU32()
		return vm.push(FunctionValue{Name: vm.chunk.Strings[nameIdx], ParamCount: paramCount, EntryOffset: entry})

	case bytecode.OpCall:
		return vm.execCall()
	case bytecode.OpCallMethod:
		return vm.execCallMethod()
	case bytecode.OpRet:
		return vm.execRet()

	case bytecode.OpDeref:
		return vm.execDeref()
	case bytecode.OpDerefSet:
		return vm.execDerefSet()

	case bytecode.OpPrint:
		v := vm.pop()
		vm.decref(v)
		io.WriteString(vm.Out, valueToString(v))
		io.WriteString(vm.Out, "\n")

	default:
		panic(vm.fault("unhandled opcode %s", op))
	}
	return nil
}

// --- fetch helpers -----------------------------------------------------

func (vm *VM) readU8() byte {
	b := vm.chunk.Code[vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readU32() uint32 {
	v := binary.BigEndian.Uint32(vm.chunk.Code[vm.ip:])
	vm.ip += 4
	return v
}

func (vm *VM) readI16() int16 {
	v := int16(binary.BigEndian.Uint16(vm.chunk.Code[vm.ip:]))
	vm.ip += 2
	return v
}

// --- stack primitives ----------------------------------------------------

func (vm *VM) push(v Value) error {
	if vm.sp >= len(vm.stack) {
		return vm.fault("stack overflow")
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() Value {
	vm.sp--
	v := vm.stack[vm.sp]
	vm.stack[vm.sp] = nil
	return v
}

func (vm *VM) peek() Value {
	return vm.stack[vm.sp-1]
}

func (vm *VM) frameBase() int {
	if len(vm.frames) == 0 {
		return 0
	}
	return vm.frames[len(vm.frames)-1].FramePointer
}

// --- refcounting ---------------------------------------------------------

// incref and decref implement the refcounting protocol: a duplicating push
// (DEEPGET, GET_GLOBAL, GETATTR, DEREF, the re-push half of SETATTR/
// DEREFSET) increfs, and a discarding pop (POP, a frame's per-slot teardown
// on RET, a struct consumed in place by GETATTR/SETATTR) decrefs, freeing
// the cell's properties recursively the instant its count reaches zero.
func (vm *VM) incref(v Value) {
	if h, ok := v.(HeapValue); ok {
		h.Cell.RefCount++
	}
}

func (vm *VM) decref(v Value) {
	h, ok := v.(HeapValue)
	if !ok {
		return
	}
	h.Cell.RefCount--
	if h.Cell.RefCount <= 0 {
		for _, prop := range h.Cell.Properties {
			vm.decref(prop)
		}
	}
}
