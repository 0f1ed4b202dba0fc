package vm

import "math"

// execAdd dynamically dispatches between numeric addition and string
// concatenation: the untyped AST gives the compiler no static basis for
// choosing ADD vs STRCAT, so `+` always compiles to ADD and ADD resolves
// the operand kind at run time. STRCAT is kept as the spec's explicit
// concatenation primitive even though the compiler never emits it itself.
func (vm *VM) execAdd() error {
	b, a := vm.pop(), vm.pop()
	if an, ok := a.(NumberValue); ok {
		bn, ok := b.(NumberValue)
		if !ok {
			return vm.fault("operand to + must be a number, got %s", typeName(b))
		}
		return vm.push(an + bn)
	}
	if as, ok := a.(StringValue); ok {
		bs, ok := b.(StringValue)
		if !ok {
			return vm.fault("operand to + must be a string, got %s", typeName(b))
		}
		return vm.push(as + bs)
	}
	return vm.fault("operand to + must be a number or string, got %s", typeName(a))
}

func (vm *VM) execStrCat() error {
	b, a := vm.pop(), vm.pop()
	as, ok := a.(StringValue)
	if !ok {
		return vm.fault("operand to strcat must be a string, got %s", typeName(a))
	}
	bs, ok := b.(StringValue)
	if !ok {
		return vm.fault("operand to strcat must be a string, got %s", typeName(b))
	}
	return vm.push(as + bs)
}

func (vm *VM) execArith(f func(a, b float64) float64) error {
	b, a := vm.pop(), vm.pop()
	an, ok := a.(NumberValue)
	if !ok {
		return vm.fault("left operand must be a number, got %s", typeName(a))
	}
	bn, ok := b.(NumberValue)
	if !ok {
		return vm.fault("right operand must be a number, got %s", typeName(b))
	}
	return vm.push(NumberValue(f(float64(an), float64(bn))))
}

// execDiv divides two numbers. Division by zero is not a fault: it yields
// IEEE infinity or NaN, exactly what Go's native float64 division already
// produces.
func (vm *VM) execDiv() error {
	b, a := vm.pop(), vm.pop()
	an, ok := a.(NumberValue)
	if !ok {
		return vm.fault("left operand must be a number, got %s", typeName(a))
	}
	bn, ok := b.(NumberValue)
	if !ok {
		return vm.fault("right operand must be a number, got %s", typeName(b))
	}
	return vm.push(an / bn)
}

// execMod computes IEEE fmod, not truncated-integer remainder: 5.5 % 2.0 is
// 1.5. Like division, a zero divisor is not a fault — math.Mod(x, 0) is
// NaN.
func (vm *VM) execMod() error {
	b, a := vm.pop(), vm.pop()
	an, ok := a.(NumberValue)
	if !ok {
		return vm.fault("left operand must be a number, got %s", typeName(a))
	}
	bn, ok := b.(NumberValue)
	if !ok {
		return vm.fault("right operand must be a number, got %s", typeName(b))
	}
	return vm.push(NumberValue(math.Mod(float64(an), float64(bn))))
}

func (vm *VM) execCompare(f func(a, b float64) bool) error {
	b, a := vm.pop(), vm.pop()
	an, ok := a.(NumberValue)
	if !ok {
		return vm.fault("left operand must be a number, got %s", typeName(a))
	}
	bn, ok := b.(NumberValue)
	if !ok {
		return vm.fault("right operand must be a number, got %s", typeName(b))
	}
	return vm.push(BoolValue(f(float64(an), float64(bn))))
}

// truncInt converts a float64 to int64 for the bitwise opcodes. Converting a
// NaN float64 to int64 is implementation-defined in Go, so NaN is special-
// cased to 0, matching the spec's "integer bit ops on NaN produce 0".
func truncInt(f float64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	return int64(f)
}

// execBitwise truncates both operands to int64, matching Ember's
// float64-only number representation — there is no separate integer type,
// so bitwise operators operate on the truncated value.
func (vm *VM) execBitwise(f func(a, b int64) int64) error {
	b, a := vm.pop(), vm.pop()
	an, ok := a.(NumberValue)
	if !ok {
		return vm.fault("left operand must be a number, got %s", typeName(a))
	}
	bn, ok := b.(NumberValue)
	if !ok {
		return vm.fault("right operand must be a number, got %s", typeName(b))
	}
	return vm.push(NumberValue(f(truncInt(float64(an)), truncInt(float64(bn)))))
}

func (vm *VM) execBitNot() error {
	v := vm.pop()
	n, ok := v.(NumberValue)
	if !ok {
		return vm.fault("operand to ~ must be a number, got %s", typeName(v))
	}
	return vm.push(NumberValue(^truncInt(float64(n))))
}

func (vm *VM) execEq() error {
	b, a := vm.pop(), vm.pop()
	vm.decref(a)
	vm.decref(b)
	eq, err := valuesEqual(a, b, vm.blueprints)
	if err != nil {
		return &RuntimeError{IP: vm.ip, Message: err.Error()}
	}
	return vm.push(BoolValue(eq))
}

func asHeap(v Value) (HeapValue, bool) {
	h, ok := v.(HeapValue)
	return h, ok
}

func (vm *VM) execGetAttr() error {
	fieldIdx := vm.readU32()
	field := vm.chunk.Strings[fieldIdx]
	sv := vm.pop()
	h, ok := asHeap(sv)
	if !ok {
		return vm.fault("cannot access field %q of non-struct value %s", field, typeName(sv))
	}
	vm.decref(sv)
	val, ok := h.Cell.Properties[field]
	if !ok {
		return vm.fault("undefined property %q on %s", field, h.Cell.Blueprint)
	}
	vm.incref(val)
	return vm.push(val)
}

// execGetAttrPtr pops the struct's stack reference (decref) and immediately
// re-acquires one on the pointer's behalf (incref): a net no-op on the
// refcount that hands ownership from the stack slot to the pointer, pinning
// the cell for as long as the PointerField pointer is live.
func (vm *VM) execGetAttrPtr() error {
	fieldIdx := vm.readU32()
	field := vm.chunk.Strings[fieldIdx]
	sv := vm.pop()
	h, ok := asHeap(sv)
	if !ok {
		return vm.fault("cannot take address of field %q of non-struct value %s", field, typeName(sv))
	}
	if _, exists := h.Cell.Properties[field]; !exists {
		return vm.fault("undefined property %q on %s", field, h.Cell.Blueprint)
	}
	vm.decref(sv)
	vm.incref(sv)
	return vm.push(PointerValue{Kind: PointerField, Cell: h.Cell, Field: field})
}

func (vm *VM) execSetAttr() error {
	fieldIdx := vm.readU32()
	field := vm.chunk.Strings[fieldIdx]
	val := vm.pop()
	sv := vm.pop()
	h, ok := asHeap(sv)
	if !ok {
		return vm.fault("cannot set field %q of non-struct value %s", field, typeName(sv))
	}
	old, exists := h.Cell.Properties[field]
	if !exists {
		return vm.fault("undefined property %q on %s", field, h.Cell.Blueprint)
	}
	vm.decref(sv)
	vm.decref(old)
	h.Cell.Properties[field] = val
	if err := vm.push(val); err != nil {
		return err
	}
	vm.incref(val)
	return nil
}

func (vm *VM) execDeref() error {
	pv, ok := vm.pop().(PointerValue)
	if !ok {
		return vm.fault("cannot dereference a non-pointer value")
	}
	var v Value
	switch pv.Kind {
	case PointerLocal:
		v = vm.stack[pv.StackIndex]
	case PointerGlobal:
		gv, ok := vm.globals[pv.GlobalName]
		if !ok {
			return vm.fault("undefined global %q", pv.GlobalName)
		}
		v = gv
	case PointerField:
		fv, ok := pv.Cell.Properties[pv.Field]
		if !ok {
			return vm.fault("undefined property %q on %s", pv.Field, pv.Cell.Blueprint)
		}
		v = fv
	}
	vm.incref(v)
	return vm.push(v)
}

// execDerefSet balances execGetAttrPtr's incref for PointerField: once this
// pointer is consumed here, its pinning reference on Cell is released.
func (vm *VM) execDerefSet() error {
	val := vm.pop()
	pv, ok := vm.pop().(PointerValue)
	if !ok {
		return vm.fault("cannot assign through a non-pointer value")
	}
	switch pv.Kind {
	case PointerLocal:
		vm.decref(vm.stack[pv.StackIndex])
		vm.stack[pv.StackIndex] = val
	case PointerGlobal:
		if old, exists := vm.globals[pv.GlobalName]; exists {
			vm.decref(old)
		}
		vm.globals[pv.GlobalName] = val
	case PointerField:
		if old, exists := pv.Cell.Properties[pv.Field]; exists {
			vm.decref(old)
		}
		pv.Cell.Properties[pv.Field] = val
		vm.decref(HeapValue{Cell: pv.Cell})
	}
	if err := vm.push(val); err != nil {
		return err
	}
	vm.incref(val)
	return nil
}

func (vm *VM) execStructBlueprint() error {
	nameIdx := vm.readU32()
	count := int(vm.readU16())
	props := make([]string, count)
	for i := 0; i < count; i++ {
		props[i] = vm.chunk.Strings[vm.readU32()]
	}
	name := vm.chunk.Strings[nameIdx]
	vm.blueprints[name] = &Blueprint{
		Name:       name,
		Properties: props,
		Methods:    make(map[string]FunctionValue),
	}
	return nil
}

func (vm *VM) execImpl() error {
	blueprintIdx := vm.readU32()
	methodCount := int(vm.readU16())
	name := vm.chunk.Strings[blueprintIdx]
	bp, ok := vm.blueprints[name]
	if !ok {
		return vm.fault("impl for unknown blueprint %q", name)
	}
	for i := 0; i < methodCount; i++ {
		selectorIdx := vm.readU32()
		paramCount := int(vm.readU8())
		entry := vm.readU32()
		selector := vm.chunk.Strings[selectorIdx]
		bp.Methods[selector] = FunctionValue{Name: selector, ParamCount: uint32(paramCount), EntryOffset: entry}
	}
	return nil
}

func (vm *VM) readU16() uint16 {
	v := uint16(vm.chunk.Code[vm.ip])<<8 | uint16(vm.chunk.Code[vm.ip+1])
	vm.ip += 2
	return v
}

// execCall invokes a Function value already on the stack beneath its N
// arguments. The callee's slot isn't part of the new frame; BaseSlot
// records that it must also be unwound on return.
func (vm *VM) execCall() error {
	argc := int(vm.readU8())
	calleeIdx := vm.sp - 1 - argc
	callee, ok := vm.stack[calleeIdx].(FunctionValue)
	if !ok {
		return vm.fault("cannot call non-function value %s", typeName(vm.stack[calleeIdx]))
	}
	if uint32(argc) != callee.ParamCount {
		return vm.fault("function %s expects %d arguments, got %d", callee.Name, callee.ParamCount, argc)
	}
	if len(vm.frames) >= maxCallDepth {
		return vm.fault("call stack overflow")
	}
	newFP := vm.sp - argc
	vm.frames = append(vm.frames, frame{ReturnIP: vm.ip, FramePointer: newFP, BaseSlot: newFP - 1})
	vm.ip = int(callee.EntryOffset)
	return nil
}

// execCallMethod resolves selector on the receiver's blueprint and invokes
// it. The receiver occupies slot 0 of the callee's own frame (it's bound to
// `self`), so unlike OpCall there is no hidden slot below FramePointer.
func (vm *VM) execCallMethod() error {
	selectorIdx := vm.readU32()
	argc := int(vm.readU8())
	receiverIdx := vm.sp - 1 - argc
	receiver, ok := vm.stack[receiverIdx].(HeapValue)
	if !ok {
		return vm.fault("cannot call method on non-struct value %s", typeName(vm.stack[receiverIdx]))
	}
	bp, ok := vm.blueprints[receiver.Cell.Blueprint]
	if !ok {
		return vm.fault("unknown blueprint %q", receiver.Cell.Blueprint)
	}
	selector := vm.chunk.Strings[selectorIdx]
	method, ok := bp.Methods[selector]
	if !ok {
		return vm.fault("%s has no method %q", bp.Name, selector)
	}
	if uint32(argc)+1 != method.ParamCount {
		return vm.fault("method %s.%s expects %d arguments, got %d", bp.Name, selector, method.ParamCount-1, argc)
	}
	if len(vm.frames) >= maxCallDepth {
		return vm.fault("call stack overflow")
	}
	newFP := receiverIdx
	vm.frames = append(vm.frames, frame{ReturnIP: vm.ip, FramePointer: newFP, BaseSlot: newFP})
	vm.ip = int(method.EntryOffset)
	return nil
}

// execRet unwinds the active call frame. The popped return value is in
// transit (popped here, pushed back below) so it is neither increfed nor
// decrefed on that account. At the top level (no active frame, reached via
// the implicit `return null` every compiled program and REPL line ends
// with) there is no caller to hand it to, so it's decrefed as discarded and
// execution halts: Run's fetch loop is made to fall through by jumping to
// the end of Code.
func (vm *VM) execRet() error {
	retVal := vm.pop()
	if len(vm.frames) == 0 {
		vm.decref(retVal)
		vm.ip = len(vm.chunk.Code)
		return nil
	}
	f := vm.frames[len(vm.frames)-1]
	vm.frames = vm.frames[:len(vm.frames)-1]
	for i := f.BaseSlot; i < vm.sp; i++ {
		vm.decref(vm.stack[i])
		vm.stack[i] = nil
	}
	vm.sp = f.BaseSlot
	if err := vm.push(retVal); err != nil {
		return err
	}
	vm.ip = f.ReturnIP
	return nil
}
