package vm

import "github.com/pkg/errors"

// RuntimeError is returned by Run when execution faults: a type mismatch,
// an undefined global or property, an arity mismatch, an unknown method or
// blueprint, or a stack or call-depth overflow. Division by zero is not a
// fault. IP is the instruction pointer at the moment of the fault, which is
// already past the faulting instruction's opcode byte and any operands it
// has read.
type RuntimeError struct {
	IP      int
	Message string
}

func (e *RuntimeError) Error() string {
	return errors.Errorf("runtime error at ip=%d: %s", e.IP, e.Message).Error()
}

func (vm *VM) fault(format string, args ...interface{}) error {
	return &RuntimeError{IP: vm.ip, Message: errors.Errorf(format, args...).Error()}
}
