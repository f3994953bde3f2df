// Package bitfield は名前付きフラグによる権限集合を提供する。
package bitfield

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
)

// Wildcard は既知の全フラグを表す特別な名前。
const Wildcard = "*"

// ErrUnknownScope はテーブルに存在しないフラグ名が指定された場合のエラー。
var ErrUnknownScope = errors.New("unknown scope")

// Table はフラグ名からビット値への対応表。
type Table map[string]int64

// Validate は各フラグが2の累乗で、かつ重複していないことを確認する。
func (t Table) Validate() error {
	seen := make(map[int64]string, len(t))
	for name, flag := range t {
		if name == Wildcard {
			return fmt.Errorf("flag %q is reserved", name)
		}
		if flag <= 0 || bits.OnesCount64(uint64(flag)) != 1 {
			return fmt.Errorf("flag %q is not a power of two: %d", name, flag)
		}
		if other, ok := seen[flag]; ok {
			return fmt.Errorf("flags %q and %q share bit %d", other, name, flag)
		}
		seen[flag] = name
	}
	return nil
}

// Max は全フラグの論理和を返す。
func (t Table) Max() int64 {
	var total int64
	for _, flag := range t {
		total |= flag
	}
	return total
}

// Bitfield はフラグテーブルと現在のビット値を保持する。
type Bitfield struct {
	flags Table
	bits  int64
}

// New は初期値とフラグテーブルからBitfieldを生成する。
func New(initial int64, flags Table) *Bitfield {
	if flags == nil {
		flags = Table{}
	}
	return &Bitfield{flags: flags, bits: initial}
}

// Bits は現在のビット値を返す。
func (b *Bitfield) Bits() int64 {
	return b.bits
}

// Add は指定された名前のフラグを立てる。
func (b *Bitfield) Add(names ...string) error {
	var total int64
	for _, name := range names {
		if name == Wildcard {
			total |= b.flags.Max()
			continue
		}
		flag, ok := b.flags[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownScope, name)
		}
		total |= flag
	}
	b.bits |= total
	return nil
}

// AddAll は既知の全フラグを立てる。
func (b *Bitfield) AddAll() *Bitfield {
	b.bits |= b.flags.Max()
	return b
}

// Remove は指定された名前のフラグを下ろす。
func (b *Bitfield) Remove(names ...string) error {
	var total int64
	for _, name := range names {
		if name == Wildcard {
			total |= b.flags.Max()
			continue
		}
		flag, ok := b.flags[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownScope, name)
		}
		total |= flag
	}
	b.bits &^= total
	return nil
}

// Has は指定された名前のフラグが立っているかを返す。
// 未知の名前は常にfalse。Wildcardは既知の全フラグが立っている場合にtrue。
func (b *Bitfield) Has(name string) bool {
	var flag int64
	if name == Wildcard {
		flag = b.flags.Max()
		if flag == 0 {
			return false
		}
	} else {
		var ok bool
		flag, ok = b.flags[name]
		if !ok {
			return false
		}
	}
	return b.bits&flag == flag
}

// Enabled は立っているフラグ名をビット順に返す。
func (b *Bitfield) Enabled() []string {
	names := make([]string, 0, len(b.flags))
	for name, flag := range b.flags {
		if b.bits&flag == flag {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return b.flags[names[i]] < b.flags[names[j]]
	})
	return names
}

// Clone はフラグテーブルを共有したまま独立したBitfieldを返す。
func (b *Bitfield) Clone() *Bitfield {
	return &Bitfield{flags: b.flags, bits: b.bits}
}
