// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type blob struct {
	Items [][]byte `serialize:"true"`
	Tag   uint64   `serialize:"true"`
}

func TestLargeSliceRoundTrip(t *testing.T) {
	require := require.New(t)

	// More elements than linearcodec's default slice limit.
	in := blob{Items: make([][]byte, 300_000), Tag: 7}
	in.Items[len(in.Items)-1] = []byte{1, 2}

	b, err := Marshal(&in)
	require.NoError(err)

	var out blob
	require.NoError(Unmarshal(b, &out))
	require.Len(out.Items, len(in.Items))
	require.Equal([]byte{1, 2}, out.Items[len(out.Items)-1])
	require.Equal(uint64(7), out.Tag)
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	require := require.New(t)

	b, err := Marshal(&blob{Tag: 1})
	require.NoError(err)
	b[1] = 1

	var out blob
	require.Error(Unmarshal(b, &out))
}
