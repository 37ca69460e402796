// Package bytecode handles formatting uint64 values which have meaning for the
// vm.
package bytecode

import (
	"fmt"
)

type (
	// Op is the descriptor of which kind of instruction each bytecode is.
	Op uint8
	// Type is a descriptor of what format an instruction has.
	Type string
)

const (
	// TypeABCD is an instruction with an a uint8 and b, c, d uint16 params.
	TypeABCD Type = "iABCD"
	// TypeABx is an instruction with an a uint8 and a uint32 param.
	TypeABx Type = "iABx"
	// TypeAsBx is an instruction with an a uint8 and an int32 param.
	TypeAsBx Type = "iAsBx"
	// TypeEx is a raw uint64 value.
	TypeEx Type = "EXARG"
)

// NoTarget is the A value of instructions whose result is discarded.
const NoTarget = 0xFF

const (
	// LOAD Load a literal from the literal pool.
	LOAD Op = iota
	// LOADINT Load an inline integer.
	LOADINT
	// LOADFLOAT Load a float literal.
	LOADFLOAT
	// LOADCOMPLEX Load a complex literal.
	LOADCOMPLEX
	// LOADBOOL Load a boolean.
	LOADBOOL
	// LOADNULL Load null into B registers, or the default marker if C is set.
	LOADNULL
	// LOADSPACE Load a space literal.
	LOADSPACE
	// LOADROOT Load the root table.
	LOADROOT
	// MOVE Copy a value between registers.
	MOVE
	// DMOVE Copy two values between registers.
	DMOVE
	// NEWOBJECT Create an array, dictionary or class.
	NEWOBJECT
	// APPENDTOARRAY Append a register to an array.
	APPENDTOARRAY
	// GET Read a member of a container.
	GET
	// SET Write an existing member of a container.
	SET
	// NEWSLOT Create or overwrite a member of a container.
	NEWSLOT
	// DELETE Remove a member from a container.
	DELETE
	// GETOUTER Read a captured variable.
	GETOUTER
	// SETOUTER Write a captured variable.
	SETOUTER
	// GETBASE Load the base class of the running method.
	GETBASE
	// ADD Addition operator.
	ADD
	// SUB Subtraction operator.
	SUB
	// MLT Multiplication operator.
	MLT
	// DIV Division operator.
	DIV
	// MOD Modulus (remainder) operator.
	MOD
	// EXP Exponentation operator.
	EXP
	// MMLT Matrix multiplication.
	MMLT
	// CARTESIAN Cartesian product of two arrays.
	CARTESIAN
	// TRANSPOSE Transpose a matrix.
	TRANSPOSE
	// NEG Unary minus.
	NEG
	// NOT Logical NOT operator.
	NOT
	// BNOT Bit-wise NOT operator.
	BNOT
	// BITW Bit-wise binary operator, kind in D.
	BITW
	// EQ Equality.
	EQ
	// NE Inequality.
	NE
	// CMP Ordering comparison, kind in D.
	CMP
	// EXISTS Key or element membership.
	EXISTS
	// INSTANCEOF Class membership of an instance.
	INSTANCEOF
	// TYPEOF Type name of a value.
	TYPEOF
	// INC Prefix increment of a member.
	INC
	// PINC Postfix increment of a member.
	PINC
	// INCL Prefix increment of a local.
	INCL
	// PINCL Postfix increment of a local.
	PINCL
	// JMP Unconditional jump.
	JMP
	// JZ Jump if false.
	JZ
	// AND Short circuit and.
	AND
	// OR Short circuit or.
	OR
	// CLOSURE Create a closure of a function prototype.
	CLOSURE
	// CALL Call a closure.
	CALL
	// TAILCALL Perform a tail call.
	TAILCALL
	// PREPCALL Fetch a method and its receiver for a call.
	PREPCALL
	// RETURN Return from function call.
	RETURN
	// RETURNBOOL Return a value coerced to bool.
	RETURNBOOL
	// FOREACH Load the next key and value of a container or exit the loop.
	FOREACH
	// POSTFOREACH Advance a foreach iterator and jump back.
	POSTFOREACH
	// CLOSE close outers.
	CLOSE
)

// NEWOBJECT kinds.
const (
	ObjArray = iota
	ObjDict
	ObjClass
)

// BITW kinds.
const (
	BitAnd = iota
	BitOr
	BitXor
	BitShl
	BitShr
	BitUShr
)

// CMP kinds.
const (
	CmpLt = iota
	CmpLe
	CmpGt
	CmpGe
)

var opcodeToString = map[Op]string{
	LOAD:          "LOAD",
	LOADINT:       "LOADINT",
	LOADFLOAT:     "LOADFLOAT",
	LOADCOMPLEX:   "LOADCOMPLEX",
	LOADBOOL:      "LOADBOOL",
	LOADNULL:      "LOADNULL",
	LOADSPACE:     "LOADSPACE",
	LOADROOT:      "LOADROOT",
	MOVE:          "MOVE",
	DMOVE:         "DMOVE",
	NEWOBJECT:     "NEWOBJECT",
	APPENDTOARRAY: "APPENDTOARRAY",
	GET:           "GET",
	SET:           "SET",
	NEWSLOT:       "NEWSLOT",
	DELETE:        "DELETE",
	GETOUTER:      "GETOUTER",
	SETOUTER:      "SETOUTER",
	GETBASE:       "GETBASE",
	ADD:           "ADD",
	SUB:           "SUB",
	MLT:           "MLT",
	DIV:           "DIV",
	MOD:           "MOD",
	EXP:           "EXP",
	MMLT:          "MMLT",
	CARTESIAN:     "CARTESIAN",
	TRANSPOSE:     "TRANSPOSE",
	NEG:           "NEG",
	NOT:           "NOT",
	BNOT:          "BNOT",
	BITW:          "BITW",
	EQ:            "EQ",
	NE:            "NE",
	CMP:           "CMP",
	EXISTS:        "EXISTS",
	INSTANCEOF:    "INSTANCEOF",
	TYPEOF:        "TYPEOF",
	INC:           "INC",
	PINC:          "PINC",
	INCL:          "INCL",
	PINCL:         "PINCL",
	JMP:           "JMP",
	JZ:            "JZ",
	AND:           "AND",
	OR:            "OR",
	CLOSURE:       "CLOSURE",
	CALL:          "CALL",
	TAILCALL:      "TAILCALL",
	PREPCALL:      "PREPCALL",
	RETURN:        "RETURN",
	RETURNBOOL:    "RETURNBOOL",
	FOREACH:       "FOREACH",
	POSTFOREACH:   "POSTFOREACH",
	CLOSE:         "CLOSE",
}

// Format values in the 64 bit opcode.
const (
	aShift     = 8
	bShift     = aShift + 8
	cShift     = bShift + 16
	dShift     = cShift + 16
	maskByte   = 0xFF
	mask2Bytes = 0xFFFF
	mask4Bytes = 0xFFFFFFFF
)

// IABCD creates a new bytecode instruction with the format
// | D: u16 | C: u16 | B: u16 | A: u8 | Opcode: u8 |.
func IABCD(op Op, a uint8, b, c, d uint16) uint64 {
	return uint64(d)<<dShift |
		uint64(c)<<cShift |
		uint64(b)<<bShift |
		uint64(a)<<aShift |
		uint64(op)
}

// IAB is a helper to create an IABCD instruction without c or d params.
func IAB(op Op, a uint8, b uint16) uint64 { return IABCD(op, a, b, 0, 0) }

// IABC is a helper to create an IABCD instruction without a d param.
func IABC(op Op, a uint8, b, c uint16) uint64 { return IABCD(op, a, b, c, 0) }

// IABsC creates an instruction whose c param is a signed offset.
func IABsC(op Op, a uint8, b uint16, c int16) uint64 { return IABCD(op, a, b, uint16(c), 0) }

// IABx creates an instruction with a register and a uint32 value usually a literal index.
func IABx(op Op, a uint8, b uint32) uint64 {
	return uint64(b)<<bShift | uint64(a)<<aShift | uint64(op)
}

// IAsBx creates an instruction with a register and a signed int32 value often used for jumps.
func IAsBx(op Op, a uint8, b int32) uint64 {
	return uint64(uint32(b))<<bShift | uint64(a)<<aShift | uint64(op)
}

// GetOp gets what type of instruction it is. Used for the switch in the vm.
func GetOp(bc uint64) Op { return Op(bc & maskByte) }

// GetA gets the a param in all of the instructions.
func GetA(bc uint64) int64 { return int64(bc >> aShift & maskByte) }

// GetB gets the b param in IABCD instructions.
func GetB(bc uint64) int64 { return int64(bc >> bShift & mask2Bytes) }

// GetC gets the c param in IABCD instructions.
func GetC(bc uint64) int64 { return int64(bc >> cShift & mask2Bytes) }

// GetsC gets the c param as a signed value.
func GetsC(bc uint64) int64 { return int64(int16(bc >> cShift & mask2Bytes)) }

// GetD gets the d param in IABCD instructions.
func GetD(bc uint64) int64 { return int64(bc >> dShift & mask2Bytes) }

// GetsD gets the d param as a signed value.
func GetsD(bc uint64) int64 { return int64(int16(bc >> dShift & mask2Bytes)) }

// GetBx gets the b param in IABx instructions.
func GetBx(bc uint64) int64 { return int64(bc >> bShift & mask4Bytes) }

// GetsBx gets the b param in IAsBx instructions.
func GetsBx(bc uint64) int64 { return int64(int32(bc >> bShift & mask4Bytes)) }

// SetsBx replaces the signed b param of an IAsBx instruction, used when
// patching jumps.
func SetsBx(bc uint64, b int32) uint64 {
	return IAsBx(GetOp(bc), uint8(GetA(bc)), b) | bc&(uint64(mask2Bytes)<<dShift)
}

// SetsC replaces the signed c param of an instruction.
func SetsC(bc uint64, c int16) uint64 {
	return bc&^(uint64(mask2Bytes)<<cShift) | uint64(uint16(c))<<cShift
}

// SetsD replaces the signed d param of an instruction.
func SetsD(bc uint64, d int16) uint64 {
	return bc&^(uint64(mask2Bytes)<<dShift) | uint64(uint16(d))<<dShift
}

// SetB replaces the b param of an instruction.
func SetB(bc uint64, b uint16) uint64 {
	return bc&^(uint64(mask2Bytes)<<bShift) | uint64(b)<<bShift
}

// String returns the mnemonic of the op.
func (op Op) String() string {
	if str, ok := opcodeToString[op]; ok {
		return str
	}
	return "UNDEFINED"
}

// ToString will format an instruction to be understandable.
func ToString(bc uint64) string {
	op := GetOp(bc).String()
	switch Kind(bc) {
	case TypeABx:
		return fmt.Sprintf("%-13v %-5v %-5v", op, GetA(bc), GetBx(bc))
	case TypeAsBx:
		return fmt.Sprintf("%-13v %-5v %-5v", op, GetA(bc), GetsBx(bc))
	case TypeABCD:
		return fmt.Sprintf("%-13v %-5v %-5v %-5v %-5v", op, GetA(bc), GetB(bc), GetsC(bc), GetsD(bc))
	default:
		return fmt.Sprintf("%-13v %-5v", "EXARG", bc)
	}
}

// Kind will return which type of bytecode it is, iABCD, iABx, iAsBx.
func Kind(bc uint64) Type {
	switch GetOp(bc) {
	case LOAD, LOADFLOAT, LOADCOMPLEX, LOADSPACE, CLOSURE:
		return TypeABx
	case LOADINT, JMP, JZ:
		return TypeAsBx
	case LOADBOOL, LOADNULL, LOADROOT, MOVE, DMOVE, NEWOBJECT, APPENDTOARRAY, GET, SET,
		NEWSLOT, DELETE, GETOUTER, SETOUTER, GETBASE, ADD, SUB, MLT, DIV, MOD, EXP, MMLT,
		CARTESIAN, TRANSPOSE, NEG, NOT, BNOT, BITW, EQ, NE, CMP, EXISTS, INSTANCEOF, TYPEOF,
		INC, PINC, INCL, PINCL, AND, OR, CALL, TAILCALL, PREPCALL, RETURN, RETURNBOOL,
		FOREACH, POSTFOREACH, CLOSE:
		return TypeABCD
	default:
		return TypeEx
	}
}
