// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"errors"
	"math"
	"time"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/utils/wrappers"
)

const (
	// CodecVersion is the current default codec version
	CodecVersion = 0

	// maxSize bounds a single serialized object. Witnesses for large slots
	// are the biggest objects written.
	maxSize = math.MaxInt32
)

var errWrongVersion = errors.New("wrong codec version")

// Codec does serialization and deserialization of everything that crosses
// the native/replay boundary or is hashed into a merkle key: witness hints,
// proofs, transactions, batches, state values and stored receipts.
//
// linearcodec writes fields in declaration order with fixed-width
// integers, so the encoding is canonical.
var Codec codec.Manager

func init() {
	c := linearcodec.NewCustomMaxLength(time.Time{}, math.MaxInt32)
	Codec = codec.NewManager(maxSize)

	errs := wrappers.Errs{}
	errs.Add(
		Codec.RegisterCodec(CodecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}

// Marshal encodes [v] with the current codec version.
func Marshal(v interface{}) ([]byte, error) {
	return Codec.Marshal(CodecVersion, v)
}

// Unmarshal decodes [b] into [dest], rejecting unknown codec versions.
func Unmarshal(b []byte, dest interface{}) error {
	version, err := Codec.Unmarshal(b, dest)
	if err != nil {
		return err
	}
	if version != CodecVersion {
		return errWrongVersion
	}
	return nil
}
