package module

import "fmt"

// Token identifies a row in one of the module's metadata tables. The high
// byte is the table, the low three bytes the 1-based row.
type Token uint32

// Metadata tables addressable by tokens.
const (
	TableTypeRef     byte = 0x01
	TableMethodDef   byte = 0x06
	TableMemberRef   byte = 0x0A
	TableAssemblyRef byte = 0x23
	TableMethodSpec  byte = 0x2B
	TableUserString  byte = 0x70
)

// MakeToken builds a token for a 1-based row in table.
func MakeToken(table byte, row int) Token {
	return Token(uint32(table)<<24 | uint32(row)&0x00FFFFFF)
}

// Table returns the token's table.
func (t Token) Table() byte { return byte(t >> 24) }

// Row returns the token's 1-based row, or 0 for a nil token.
func (t Token) Row() int { return int(t & 0x00FFFFFF) }

// IsNil reports whether the token refers to no row.
func (t Token) IsNil() bool { return t.Row() == 0 }

func (t Token) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}
