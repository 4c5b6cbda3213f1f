package ring

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStemRoundTrip(t *testing.T) {
	id := RingID{Epoch: 0x17a2b3c4d5e6f, Ord: 42}
	assert.Equal(t, "17a2b3c4d5e6f-42", id.Stem())

	back, err := ParseStem(id.Stem())
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestParseStemRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "abc", "-1", "zz-1", "10-", "10-x", "10-1-2"} {
		_, err := ParseStem(s)
		assert.Error(t, err, "ParseStem(%q)", s)
	}
}

func TestIDsAsJSONMapKeys(t *testing.T) {
	in := map[MioID]OpID{
		{RingID{Epoch: 1, Ord: 2}}: {RingID{Epoch: 3, Ord: 4}},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"1-2":"3-4"}`, string(data))

	var out map[MioID]OpID
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
