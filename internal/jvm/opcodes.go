package jvm

// Class file constants.
const (
	classMagic uint32 = 0xCAFEBABE

	accPublic uint16 = 0x0001
	accStatic uint16 = 0x0008
	accSuper  uint16 = 0x0020
)

// JVM opcodes used by the emitter and the reader.
const (
	opNop        byte = 0x00
	opAconstNull byte = 0x01
	opIconstM1   byte = 0x02
	opIconst0    byte = 0x03
	opIconst5    byte = 0x08
	opLconst0    byte = 0x09
	opLconst1    byte = 0x0A
	opFconst0    byte = 0x0B
	opFconst2    byte = 0x0D
	opDconst0    byte = 0x0E
	opDconst1    byte = 0x0F
	opBipush     byte = 0x10
	opSipush     byte = 0x11
	opLdc        byte = 0x12
	opLdcW       byte = 0x13
	opLdc2W      byte = 0x14

	// Typed load/store base opcodes, in i, l, f, d, a order.
	opIload   byte = 0x15
	opIload0  byte = 0x1A
	opIstore  byte = 0x36
	opIstore0 byte = 0x3B

	opPop    byte = 0x57
	opPop2   byte = 0x58
	opDup    byte = 0x59
	opDupX2  byte = 0x5B
	opDup2   byte = 0x5C
	opDup2X2 byte = 0x5E
	opSwap   byte = 0x5F

	// Arithmetic base opcodes, in i, l, f, d order.
	opIadd byte = 0x60
	opIsub byte = 0x64
	opImul byte = 0x68
	opIdiv byte = 0x6C
	opIrem byte = 0x70
	opIneg byte = 0x74
	opIshl byte = 0x78
	opIshr byte = 0x7A
	opIand byte = 0x7E
	opIor  byte = 0x80
	opIxor byte = 0x82

	opI2l byte = 0x85
	opI2f byte = 0x86
	opI2d byte = 0x87
	opL2i byte = 0x88
	opL2f byte = 0x89
	opL2d byte = 0x8A
	opF2i byte = 0x8B
	opF2l byte = 0x8C
	opF2d byte = 0x8D
	opD2i byte = 0x8E
	opD2l byte = 0x8F
	opD2f byte = 0x90
	opI2b byte = 0x91
	opI2s byte = 0x93

	opLcmp  byte = 0x94
	opFcmpl byte = 0x95
	opFcmpg byte = 0x96
	opDcmpl byte = 0x97
	opDcmpg byte = 0x98

	opIfeq     byte = 0x99
	opIfne     byte = 0x9A
	opIflt     byte = 0x9B
	opIfge     byte = 0x9C
	opIfgt     byte = 0x9D
	opIfle     byte = 0x9E
	opIfIcmpeq byte = 0x9F
	opIfAcmpne byte = 0xA6
	opGoto     byte = 0xA7

	opIreturn byte = 0xAC
	opReturn  byte = 0xB1

	opGetstatic     byte = 0xB2
	opPutstatic     byte = 0xB3
	opGetfield      byte = 0xB4
	opPutfield      byte = 0xB5
	opInvokevirtual byte = 0xB6
	opInvokespecial byte = 0xB7
	opInvokestatic  byte = 0xB8
	opNew           byte = 0xBB
	opCheckcast     byte = 0xC0
	opWide          byte = 0xC4
	opIfnull        byte = 0xC6
	opIfnonnull     byte = 0xC7
	opGotoW         byte = 0xC8
)
