package component

// Preamble of a component binary: magic, version 0x0d, layer 1.
var Preamble = []byte{0x00, 0x61, 0x73, 0x6d, 0x0d, 0x00, 0x01, 0x00}

// Section ids
const (
	SectionCustom       byte = 0
	SectionCoreModule   byte = 1
	SectionCoreInstance byte = 2
	SectionCoreType     byte = 3
	SectionComponent    byte = 4
	SectionInstance     byte = 5
	SectionAlias        byte = 6
	SectionType         byte = 7
	SectionCanon        byte = 8
	SectionStart        byte = 9
	SectionImport       byte = 10
	SectionExport       byte = 11
)

// externDesc kinds
const (
	ExternCoreModule byte = 0x00
	ExternFunc       byte = 0x01
	ExternValue      byte = 0x02
	ExternType       byte = 0x03
	ExternComponent  byte = 0x04
	ExternInstance   byte = 0x05
)

// Sort kinds
const (
	SortCore      byte = 0x00
	SortFunc      byte = 0x01
	SortValue     byte = 0x02
	SortType      byte = 0x03
	SortComponent byte = 0x04
	SortInstance  byte = 0x05
)

// Core sort kinds
const (
	CoreSortFunc     byte = 0x00
	CoreSortTable    byte = 0x01
	CoreSortMemory   byte = 0x02
	CoreSortGlobal   byte = 0x03
	CoreSortType     byte = 0x10
	CoreSortModule   byte = 0x11
	CoreSortInstance byte = 0x12
)

// Alias targets
const (
	AliasExport     byte = 0x00
	AliasCoreExport byte = 0x01
	AliasOuter      byte = 0x02
)

// Declarators inside component and instance types
const (
	DeclCoreType byte = 0x00
	DeclType     byte = 0x01
	DeclAlias    byte = 0x02
	DeclImport   byte = 0x03
	DeclExport   byte = 0x04
)

// Type bounds
const (
	BoundEq          byte = 0x00
	BoundSubResource byte = 0x01
)

// PrimType represents primitive types
type PrimType byte

const (
	PrimBool   PrimType = 0x7f
	PrimS8     PrimType = 0x7e
	PrimU8     PrimType = 0x7d
	PrimS16    PrimType = 0x7c
	PrimU16    PrimType = 0x7b
	PrimS32    PrimType = 0x7a
	PrimU32    PrimType = 0x79
	PrimS64    PrimType = 0x78
	PrimU64    PrimType = 0x77
	PrimF32    PrimType = 0x76
	PrimF64    PrimType = 0x75
	PrimChar   PrimType = 0x74
	PrimString PrimType = 0x73
)

func (p PrimType) String() string {
	switch p {
	case PrimBool:
		return "bool"
	case PrimS8:
		return "s8"
	case PrimU8:
		return "u8"
	case PrimS16:
		return "s16"
	case PrimU16:
		return "u16"
	case PrimS32:
		return "s32"
	case PrimU32:
		return "u32"
	case PrimS64:
		return "s64"
	case PrimU64:
		return "u64"
	case PrimF32:
		return "f32"
	case PrimF64:
		return "f64"
	case PrimChar:
		return "char"
	case PrimString:
		return "string"
	default:
		return "unknown"
	}
}

// Type constructors
const (
	TypeRecord    byte = 0x72
	TypeVariant   byte = 0x71
	TypeList      byte = 0x70
	TypeTuple     byte = 0x6f
	TypeFlags     byte = 0x6e
	TypeEnum      byte = 0x6d
	TypeOption    byte = 0x6b
	TypeResult    byte = 0x6a
	TypeOwn       byte = 0x69
	TypeBorrow    byte = 0x68
	TypeFunc      byte = 0x40
	TypeComponent byte = 0x41
	TypeInstance  byte = 0x42
	TypeResource  byte = 0x3f
)

// Canon kinds
const (
	CanonLift  byte = 0x00
	CanonLower byte = 0x01
)

// CanonOption kinds
const (
	CanonOptUTF8         byte = 0x00
	CanonOptUTF16        byte = 0x01
	CanonOptCompactUTF16 byte = 0x02
	CanonOptMemory       byte = 0x03
	CanonOptRealloc      byte = 0x04
	CanonOptPostReturn   byte = 0x05
	CanonOptAsync        byte = 0x06
	CanonOptCallback     byte = 0x07
)

// Instance forms
const (
	InstanceInstantiate byte = 0x00
	InstanceFromExports byte = 0x01
)
