// Package compiler lowers an Ember AST into a single flat bytecode.Chunk.
//
// Scope model: the compiler keeps an ordered stack of (name, depth) locals
// that mirrors the VM's own value stack slot-for-slot — declaring a local
// does not emit a store instruction, the value's push IS the local's
// storage cell. Entering a block increments the scope depth; leaving one
// pops every local declared at a depth greater than the block's own,
// emitting one POP per popped local. Each function body starts a fresh
// frame (frameBase resets to 0) with parameters pre-declared as its first
// locals, so DEEPGET/DEEPSET operands are always slot indices relative to
// the active frame, never absolute stack positions.
package compiler

import (
	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/pkg/errors"
)

type localVar struct {
	name  string
	depth int
}

// Compiler lowers a Program into a Chunk. A Compiler may be reused across
// several Compile calls against the same growing Chunk — the REPL does this,
// appending each line's compiled code to what came before while globals
// declared on earlier lines stay resolvable.
type Compiler struct {
	chunk      *bytecode.Chunk
	locals     []localVar
	scopeDepth int
	frameBase  int

	// stringIdx caches string-pool indices so repeated string literals and
	// identifiers reuse one sp entry without a linear scan of the pool at
	// lowering time. Number literals are not cached: each one is appended to
	// cp. The pools themselves stay append-only.
	stringIdx map[string]uint32
}

// New creates a compiler ready to compile a single program into a fresh chunk.
func New() *Compiler {
	return &Compiler{
		chunk:     bytecode.NewChunk(),
		stringIdx: make(map[string]uint32),
	}
}

// Compile lowers program into a Chunk. The returned chunk is self-contained:
// all functions are compiled inline, guarded by a leading jump so top-level
// execution skips over their bodies until called.
func (c *Compiler) Compile(program *ast.Program) (*bytecode.Chunk, error) {
	for _, stmt := range program.Statements {
		if err := c.compileStatement(stmt); err != nil {
			return nil, err
		}
	}
	c.emit(bytecode.OpNull)
	c.emit(bytecode.OpRet)
	return c.chunk, nil
}

// --- low-level emit helpers ---

func (c *Compiler) emit(op bytecode.Opcode) int {
	c.chunk.Code = append(c.chunk.Code, byte(op))
	return len(c.chunk.Code) - 1
}

func (c *Compiler) emitU8(op bytecode.Opcode, v uint8) int {
	pos := c.emit(op)
	c.chunk.Code = append(c.chunk.Code, v)
	return pos
}

func (c *Compiler) emitU32(op bytecode.Opcode, v uint32) int {
	pos := c.emit(op)
	c.chunk.Code = append(c.chunk.Code,
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	return pos
}

// emitJump emits a jump opcode with a 2-byte placeholder operand and
// returns the offset of the placeholder for a later patchJump call.
func (c *Compiler) emitJump(op bytecode.Opcode) int {
	c.emit(op)
	pos := len(c.chunk.Code)
	c.chunk.Code = append(c.chunk.Code, 0, 0)
	return pos
}

// patchJump backfills the placeholder at pos with the signed 16-bit
// displacement from the instruction following the operand to the chunk's
// current end (the jump target).
func (c *Compiler) patchJump(pos int) error {
	disp := len(c.chunk.Code) - (pos + 2)
	if disp < -32768 || disp > 32767 {
		return errors.Errorf("jump displacement %d overflows 16 bits", disp)
	}
	d := uint16(int16(disp))
	c.chunk.Code[pos] = byte(d >> 8)
	c.chunk.Code[pos+1] = byte(d)
	return nil
}

// emitJumpTo emits a jump with a known backward target, used for loop-back
// edges where the displacement is always computable immediately.
func (c *Compiler) emitJumpTo(op bytecode.Opcode, target int) error {
	c.emit(op)
	pos := len(c.chunk.Code)
	disp := target - (pos + 2)
	if disp < -32768 || disp > 32767 {
		return errors.Errorf("jump displacement %d overflows 16 bits", disp)
	}
	d := uint16(int16(disp))
	c.chunk.Code = append(c.chunk.Code, byte(d>>8), byte(d))
	return nil
}

func (c *Compiler) internString(s string) uint32 {
	if idx, ok := c.stringIdx[s]; ok {
		return idx
	}
	idx := c.chunk.AddString(s)
	c.stringIdx[s] = idx
	return idx
}

// --- scope management ---

func (c *Compiler) beginScope() { c.scopeDepth++ }

func (c *Compiler) endScope() {
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		c.emit(bytecode.OpPop)
		c.locals = c.locals[:len(c.locals)-1]
	}
	c.scopeDepth--
}

func (c *Compiler) declareLocal(name string) {
	c.locals = append(c.locals, localVar{name: name, depth: c.scopeDepth})
}

// resolveLocal returns the frame-relative slot for name, or -1 if name is
// not a local in the current frame (the caller should then try a global).
func (c *Compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= c.frameBase; i-- {
		if c.locals[i].name == name {
			return i - c.frameBase
		}
	}
	return -1
}

// --- statements ---

func (c *Compiler) compileStatement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.ExpressionStatement:
		if err := c.compileExpression(s.Expr); err != nil {
			return err
		}
		c.emit(bytecode.OpPop)
		return nil

	case *ast.LetStatement:
		return c.compileLet(s)

	case *ast.PrintStatement:
		if err := c.compileExpression(s.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpPrint)
		return nil

	case *ast.ReturnStatement:
		if s.Value != nil {
			if err := c.compileExpression(s.Value); err != nil {
				return err
			}
		} else {
			c.emit(bytecode.OpNull)
		}
		c.emit(bytecode.OpRet)
		return nil

	case *ast.BlockStatement:
		c.beginScope()
		for _, inner := range s.Statements {
			if err := c.compileStatement(inner); err != nil {
				return err
			}
		}
		c.endScope()
		return nil

	case *ast.IfStatement:
		return c.compileIf(s)

	case *ast.WhileStatement:
		return c.compileWhile(s)

	case *ast.FunctionStatement:
		return c.compileFunctionDecl(s)

	case *ast.StructStatement:
		return c.compileStruct(s)

	case *ast.ImplStatement:
		return c.compileImpl(s)

	default:
		return errors.Errorf("compiler: unhandled statement %T", stmt)
	}
}

func (c *Compiler) compileLet(s *ast.LetStatement) error {
	if err := c.compileExpression(s.Value); err != nil {
		return err
	}
	if c.scopeDepth > 0 {
		// The push above IS the local's storage slot; no store instruction
		// needed, matching the VM's stack-slot-as-local model.
		c.declareLocal(s.Name)
		return nil
	}
	nameIdx := c.internString(s.Name)
	c.emitU32(bytecode.OpSetGlobal, nameIdx)
	c.emit(bytecode.OpPop)
	return nil
}

func (c *Compiler) compileIf(s *ast.IfStatement) error {
	if err := c.compileExpression(s.Condition); err != nil {
		return err
	}
	jzPos := c.emitJump(bytecode.OpJz)
	if err := c.compileStatement(s.Then); err != nil {
		return err
	}

	if s.Else == nil {
		return c.patchJump(jzPos)
	}

	jmpPos := c.emitJump(bytecode.OpJmp)
	if err := c.patchJump(jzPos); err != nil {
		return err
	}
	if err := c.compileStatement(s.Else); err != nil {
		return err
	}
	return c.patchJump(jmpPos)
}

func (c *Compiler) compileWhile(s *ast.WhileStatement) error {
	loopStart := len(c.chunk.Code)
	if err := c.compileExpression(s.Condition); err != nil {
		return err
	}
	jzPos := c.emitJump(bytecode.OpJz)
	if err := c.compileStatement(s.Body); err != nil {
		return err
	}
	if err := c.emitJumpTo(bytecode.OpJmp, loopStart); err != nil {
		return err
	}
	return c.patchJump(jzPos)
}

// compileFunctionBody emits a guard jump, the function body at a fresh
// frame with params pre-declared as locals, and an implicit `return null`,
// returning the entry offset (just past the guard jump) and param count.
func (c *Compiler) compileFunctionBody(fn *ast.FunctionStatement) (entry int, paramCount int, err error) {
	guardPos := c.emitJump(bytecode.OpJmp)

	savedLocals, savedFrameBase, savedDepth := c.locals, c.frameBase, c.scopeDepth
	c.locals = nil
	c.frameBase = 0
	c.scopeDepth = 1

	entry = len(c.chunk.Code)
	for _, p := range fn.Parameters {
		c.declareLocal(p)
	}
	for _, stmt := range fn.Body.Statements {
		if cErr := c.compileStatement(stmt); cErr != nil {
			err = cErr
			break
		}
	}
	if err == nil {
		c.emit(bytecode.OpNull)
		c.emit(bytecode.OpRet)
	}

	c.locals, c.frameBase, c.scopeDepth = savedLocals, savedFrameBase, savedDepth
	if err != nil {
		return 0, 0, err
	}
	if patchErr := c.patchJump(guardPos); patchErr != nil {
		return 0, 0, patchErr
	}
	return entry, len(fn.Parameters), nil
}

// compileFunctionDecl compiles a top-level `fn` and binds it as an ordinary
// global Function value via FUNCVAL (DESIGN.md Open Question resolution 4).
func (c *Compiler) compileFunctionDecl(fn *ast.FunctionStatement) error {
	entry, paramCount, err := c.compileFunctionBody(fn)
	if err != nil {
		return err
	}
	nameIdx := c.internString(fn.Name)
	c.emitFuncVal(nameIdx, uint32(paramCount), uint32(entry))
	c.emitU32(bytecode.OpSetGlobal, nameIdx)
	c.emit(bytecode.OpPop)
	return nil
}

func (c *Compiler) emitFuncVal(nameIdx, paramCount, entry uint32) {
	c.emit(bytecode.OpFuncVal)
	for _, v := range []uint32{nameIdx, paramCount, entry} {
		c.chunk.Code = append(c.chunk.Code, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

func (c *Compiler) compileStruct(s *ast.StructStatement) error {
	seen := make(map[string]bool, len(s.Properties))
	for _, prop := range s.Properties {
		if seen[prop] {
			return errors.Errorf("compiler: duplicate property %q in struct %s", prop, s.Name)
		}
		seen[prop] = true
	}
	nameIdx := c.internString(s.Name)
	c.emit(bytecode.OpStructBlueprint)
	c.chunk.Code = append(c.chunk.Code,
		byte(nameIdx>>24), byte(nameIdx>>16), byte(nameIdx>>8), byte(nameIdx))
	propCount := uint16(len(s.Properties))
	c.chunk.Code = append(c.chunk.Code, byte(propCount>>8), byte(propCount))
	for _, prop := range s.Properties {
		pIdx := c.internString(prop)
		c.chunk.Code = append(c.chunk.Code, byte(pIdx>>24), byte(pIdx>>16), byte(pIdx>>8), byte(pIdx))
	}
	return nil
}

type compiledMethod struct {
	selectorIdx uint32
	paramCount  uint8
	entry       uint32
}

func (c *Compiler) compileImpl(s *ast.ImplStatement) error {
	var methods []compiledMethod
	for _, m := range s.Methods {
		entry, paramCount, err := c.compileFunctionBody(m)
		if err != nil {
			return err
		}
		methods = append(methods, compiledMethod{
			selectorIdx: c.internString(m.Name),
			paramCount:  uint8(paramCount),
			entry:       uint32(entry),
		})
	}

	blueprintIdx := c.internString(s.StructName)
	c.emit(bytecode.OpImpl)
	c.chunk.Code = append(c.chunk.Code,
		byte(blueprintIdx>>24), byte(blueprintIdx>>16), byte(blueprintIdx>>8), byte(blueprintIdx))
	methodCount := uint16(len(methods))
	c.chunk.Code = append(c.chunk.Code, byte(methodCount>>8), byte(methodCount))
	for _, m := range methods {
		c.chunk.Code = append(c.chunk.Code,
			byte(m.selectorIdx>>24), byte(m.selectorIdx>>16), byte(m.selectorIdx>>8), byte(m.selectorIdx),
			m.paramCount,
			byte(m.entry>>24), byte(m.entry>>16), byte(m.entry>>8), byte(m.entry))
	}
	return nil
}

// --- expressions ---

func (c *Compiler) compileExpression(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		idx := c.chunk.AddConst(e.Value)
		c.emitU32(bytecode.OpConst, idx)
		return nil

	case *ast.StringLiteral:
		idx := c.internString(e.Value)
		c.emitU32(bytecode.OpStr, idx)
		return nil

	case *ast.BooleanLiteral:
		c.emit(bytecode.OpTrue)
		if !e.Value {
			c.emit(bytecode.OpNot)
		}
		return nil

	case *ast.NullLiteral:
		c.emit(bytecode.OpNull)
		return nil

	case *ast.Identifier:
		return c.compileIdentifierLoad(e.Name)

	case *ast.UnaryExpr:
		return c.compileUnary(e)

	case *ast.BinaryExpr:
		return c.compileBinary(e)

	case *ast.AssignExpr:
		return c.compileAssign(e)

	case *ast.CallExpr:
		return c.compileCall(e)

	case *ast.MethodCallExpr:
		return c.compileMethodCall(e)

	case *ast.MemberExpr:
		if err := c.compileExpression(e.Object); err != nil {
			return err
		}
		idx := c.internString(e.Field)
		c.emitU32(bytecode.OpGetAttr, idx)
		return nil

	case *ast.StructLiteral:
		return c.compileStructLiteral(e)

	default:
		return errors.Errorf("compiler: unhandled expression %T", expr)
	}
}

func (c *Compiler) compileIdentifierLoad(name string) error {
	if slot := c.resolveLocal(name); slot >= 0 {
		c.emitU8(bytecode.OpDeepGet, uint8(slot))
		return nil
	}
	idx := c.internString(name)
	c.emitU32(bytecode.OpGetGlobal, idx)
	return nil
}

func (c *Compiler) compileUnary(e *ast.UnaryExpr) error {
	switch e.Operator {
	case "&":
		return c.compileAddressOf(e.Operand)
	case "*":
		if err := c.compileExpression(e.Operand); err != nil {
			return err
		}
		c.emit(bytecode.OpDeref)
		return nil
	}

	if err := c.compileExpression(e.Operand); err != nil {
		return err
	}
	switch e.Operator {
	case "-":
		c.emit(bytecode.OpNeg)
	case "!":
		c.emit(bytecode.OpNot)
	case "~":
		c.emit(bytecode.OpBitNot)
	default:
		return errors.Errorf("compiler: unknown unary operator %q", e.Operator)
	}
	return nil
}

// compileAddressOf pushes a Pointer value addressing a local slot, global,
// or struct field, using the *_PTR opcode variants instead of loading the
// value itself.
func (c *Compiler) compileAddressOf(target ast.Expression) error {
	switch t := target.(type) {
	case *ast.Identifier:
		if slot := c.resolveLocal(t.Name); slot >= 0 {
			c.emitU8(bytecode.OpDeepGetPtr, uint8(slot))
			return nil
		}
		idx := c.internString(t.Name)
		c.emitU32(bytecode.OpGetGlobalPtr, idx)
		return nil

	case *ast.MemberExpr:
		if err := c.compileExpression(t.Object); err != nil {
			return err
		}
		idx := c.internString(t.Field)
		c.emitU32(bytecode.OpGetAttrPtr, idx)
		return nil

	default:
		return errors.Errorf("compiler: & requires an identifier or field operand")
	}
}

// compileBinary lowers short-circuit && and || with jumps; every other
// binary operator lowers to the matching opcode over eagerly-evaluated
// operands.
func (c *Compiler) compileBinary(e *ast.BinaryExpr) error {
	switch e.Operator {
	case "&&":
		return c.compileShortCircuit(e)
	case "||":
		return c.compileShortCircuitOr(e)
	}

	if err := c.compileExpression(e.Left); err != nil {
		return err
	}
	if err := c.compileExpression(e.Right); err != nil {
		return err
	}
	switch e.Operator {
	case "+":
		c.emit(bytecode.OpAdd)
	case "-":
		c.emit(bytecode.OpSub)
	case "*":
		c.emit(bytecode.OpMul)
	case "/":
		c.emit(bytecode.OpDiv)
	case "%":
		c.emit(bytecode.OpMod)
	case "==":
		c.emit(bytecode.OpEq)
	case "!=":
		c.emit(bytecode.OpEq)
		c.emit(bytecode.OpNot)
	case ">":
		c.emit(bytecode.OpGt)
	case "<":
		c.emit(bytecode.OpLt)
	case ">=":
		c.emit(bytecode.OpLt)
		c.emit(bytecode.OpNot)
	case "<=":
		c.emit(bytecode.OpGt)
		c.emit(bytecode.OpNot)
	case "&":
		c.emit(bytecode.OpBitAnd)
	case "|":
		c.emit(bytecode.OpBitOr)
	case "^":
		c.emit(bytecode.OpBitXor)
	case "<<":
		c.emit(bytecode.OpBitShl)
	case ">>":
		c.emit(bytecode.OpBitShr)
	default:
		return errors.Errorf("compiler: unknown binary operator %q", e.Operator)
	}
	return nil
}

// bindTemp records the value already sitting on top of the stack as a
// compiler-only temporary local (the same trick compileStructLiteral uses),
// so it can be re-fetched with DEEPGET without a DUP opcode. dropTemp
// un-tracks it again; the physical stack slot is left untouched, since its
// contents become whatever the caller leaves there.
func (c *Compiler) bindTemp() int {
	slot := len(c.locals) - c.frameBase
	c.locals = append(c.locals, localVar{name: "", depth: c.scopeDepth})
	return slot
}

func (c *Compiler) dropTemp() {
	c.locals = c.locals[:len(c.locals)-1]
}

// compileShortCircuit lowers `a && b`. JZ pops its operand (there is no DUP
// opcode in Ember's instruction set), so a is first stashed in a temporary
// local via DEEPGET before JZ consumes the duplicate: if a is falsey, JZ's
// jump lands past the POP+b sequence and the stashed a is left as the
// result; if truthy, the stashed a is popped and b is evaluated in its
// place. Either path nets exactly one value on the stack, matching JZ's pop.
func (c *Compiler) compileShortCircuit(e *ast.BinaryExpr) error {
	if err := c.compileExpression(e.Left); err != nil {
		return err
	}
	slot := c.bindTemp()
	c.emitU8(bytecode.OpDeepGet, uint8(slot))
	jzPos := c.emitJump(bytecode.OpJz)
	c.emit(bytecode.OpPop)
	if err := c.compileExpression(e.Right); err != nil {
		return err
	}
	err := c.patchJump(jzPos)
	c.dropTemp()
	return err
}

// compileShortCircuitOr lowers `a || b` the same way as compileShortCircuit,
// mirrored: if a is truthy, the jump over the POP+b sequence leaves the
// stashed a as the result; if falsey, a is popped and b is evaluated.
func (c *Compiler) compileShortCircuitOr(e *ast.BinaryExpr) error {
	if err := c.compileExpression(e.Left); err != nil {
		return err
	}
	slot := c.bindTemp()
	c.emitU8(bytecode.OpDeepGet, uint8(slot))
	jzPos := c.emitJump(bytecode.OpJz)
	endJump := c.emitJump(bytecode.OpJmp)
	if err := c.patchJump(jzPos); err != nil {
		return err
	}
	c.emit(bytecode.OpPop)
	if err := c.compileExpression(e.Right); err != nil {
		return err
	}
	dropTemp := c.patchJump(endJump)
	c.dropTemp()
	return dropTemp
}

func (c *Compiler) compileAssign(e *ast.AssignExpr) error {
	switch target := e.Target.(type) {
	case *ast.Identifier:
		if err := c.compileExpression(e.Value); err != nil {
			return err
		}
		if slot := c.resolveLocal(target.Name); slot >= 0 {
			c.emitU8(bytecode.OpDeepSet, uint8(slot))
			return nil
		}
		idx := c.internString(target.Name)
		c.emitU32(bytecode.OpSetGlobal, idx)
		return nil

	case *ast.MemberExpr:
		if err := c.compileExpression(target.Object); err != nil {
			return err
		}
		if err := c.compileExpression(e.Value); err != nil {
			return err
		}
		idx := c.internString(target.Field)
		c.emitU32(bytecode.OpSetAttr, idx)
		return nil

	case *ast.UnaryExpr:
		if target.Operator != "*" {
			return errors.Errorf("compiler: invalid assignment target")
		}
		if err := c.compileExpression(target.Operand); err != nil {
			return err
		}
		if err := c.compileExpression(e.Value); err != nil {
			return err
		}
		c.emit(bytecode.OpDerefSet)
		return nil

	default:
		return errors.Errorf("compiler: invalid assignment target %T", e.Target)
	}
}

func (c *Compiler) compileCall(e *ast.CallExpr) error {
	if err := c.compileExpression(e.Callee); err != nil {
		return err
	}
	for _, arg := range e.Args {
		if err := c.compileExpression(arg); err != nil {
			return err
		}
	}
	c.emitU8(bytecode.OpCall, uint8(len(e.Args)))
	return nil
}

func (c *Compiler) compileMethodCall(e *ast.MethodCallExpr) error {
	if err := c.compileExpression(e.Receiver); err != nil {
		return err
	}
	for _, arg := range e.Args {
		if err := c.compileExpression(arg); err != nil {
			return err
		}
	}
	selIdx := c.internString(e.Method)
	c.emit(bytecode.OpCallMethod)
	c.chunk.Code = append(c.chunk.Code,
		byte(selIdx>>24), byte(selIdx>>16), byte(selIdx>>8), byte(selIdx),
		uint8(len(e.Args)))
	return nil
}

// compileStructLiteral pushes a fresh struct, then binds it to a compiler-
// only temporary local so each field initializer can re-fetch the struct
// with DEEPGET (there is no DUP opcode in Ember's instruction set). The
// temp's bookkeeping entry is dropped afterward without emitting a POP —
// its stack slot holds the literal's final value, not scratch state.
func (c *Compiler) compileStructLiteral(e *ast.StructLiteral) error {
	nameIdx := c.internString(e.Blueprint)
	c.emitU32(bytecode.OpStruct, nameIdx)

	tempSlot := len(c.locals) - c.frameBase
	c.locals = append(c.locals, localVar{name: "", depth: c.scopeDepth})

	for _, f := range e.Fields {
		c.emitU8(bytecode.OpDeepGet, uint8(tempSlot))
		if err := c.compileExpression(f.Value); err != nil {
			return err
		}
		fIdx := c.internString(f.Name)
		c.emitU32(bytecode.OpSetAttr, fIdx)
		c.emit(bytecode.OpPop) // discard SETATTR's returned field value
	}

	c.locals = c.locals[:len(c.locals)-1]
	return nil
}
