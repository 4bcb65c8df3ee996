// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"bytes"
	"encoding/hex"
)

const prefixSeparator = '/'

// Prefix namespaces the keys of one state field. Two different fields of
// a runtime must never share a prefix; the (path, module, field) triple
// guarantees it as long as no component contains the separator.
type Prefix struct {
	ModulePath  string
	ModuleName  string
	StorageName string
}

// NewModulePrefix is the prefix of a module as a whole.
func NewModulePrefix(modulePath, moduleName string) Prefix {
	return Prefix{
		ModulePath: modulePath,
		ModuleName: moduleName,
	}
}

// Field returns the prefix of the state field [name] of the module.
func (p Prefix) Field(name string) Prefix {
	return Prefix{
		ModulePath:  p.ModulePath,
		ModuleName:  p.ModuleName,
		StorageName: name,
	}
}

// Bytes encodes the prefix as "path/module/" or "path/module/field/".
func (p Prefix) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(p.ModulePath)
	b.WriteByte(prefixSeparator)
	b.WriteString(p.ModuleName)
	b.WriteByte(prefixSeparator)
	if p.StorageName != "" {
		b.WriteString(p.StorageName)
		b.WriteByte(prefixSeparator)
	}
	return b.Bytes()
}

func (p Prefix) String() string { return string(p.Bytes()) }

// StorageKey is a prefix followed by an encoded logical key. Keys compare
// byte-wise.
type StorageKey []byte

// NewStorageKey joins [prefix] and the encoded key [encoded].
func NewStorageKey(prefix Prefix, encoded []byte) StorageKey {
	p := prefix.Bytes()
	key := make([]byte, 0, len(p)+len(encoded))
	key = append(key, p...)
	return append(key, encoded...)
}

func (k StorageKey) String() string { return hex.EncodeToString(k) }

// Event is emitted by a transaction. Events of reverted transactions are
// dropped.
type Event struct {
	Key   []byte `serialize:"true" json:"key"`
	Value []byte `serialize:"true" json:"value"`
}
