// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"errors"
	"math"
	"time"

	"github.com/ava-labs/avalanchego/codec"
	"github.com/ava-labs/avalanchego/codec/linearcodec"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	rollupcodec "github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/modules/bank"
	"github.com/ava-labs/rollupvm/modules/election"
	"github.com/ava-labs/rollupvm/modules/sequencer"
)

var (
	errWrongVersion = errors.New("wrong codec version")
	errNilCall      = errors.New("nil call message")
)

// Codec encodes call messages. Type ids follow registration order, so new
// messages must be appended.
var Codec codec.Manager

func init() {
	c := linearcodec.NewCustomMaxLength(time.Time{}, math.MaxInt32)
	Codec = codec.NewManager(math.MaxInt32)

	errs := wrappers.Errs{}
	errs.Add(
		c.RegisterType(&bank.CreateToken{}),
		c.RegisterType(&bank.Transfer{}),
		c.RegisterType(&bank.Mint{}),
		c.RegisterType(&bank.Burn{}),
		c.RegisterType(&sequencer.Register{}),
		c.RegisterType(&sequencer.Exit{}),
		c.RegisterType(&election.SetCandidates{}),
		c.RegisterType(&election.AddVoter{}),
		c.RegisterType(&election.Vote{}),
		c.RegisterType(&election.FreezeElection{}),
		Codec.RegisterCodec(rollupcodec.CodecVersion, c),
	)
	if errs.Errored() {
		panic(errs.Err)
	}
}

// EncodeCall encodes [msg] for the runtime message of a transaction.
func EncodeCall(msg CallMessage) ([]byte, error) {
	return Codec.Marshal(rollupcodec.CodecVersion, &msg)
}

func decodeCall(b []byte) (CallMessage, error) {
	var msg CallMessage
	version, err := Codec.Unmarshal(b, &msg)
	if err != nil {
		return nil, err
	}
	if version != rollupcodec.CodecVersion {
		return nil, errWrongVersion
	}
	if msg == nil {
		return nil, errNilCall
	}
	return msg, nil
}
