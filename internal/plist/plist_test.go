package plist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value any
	}{
		{"string", "QueryType"},
		{"int64", int64(42)},
		{"negative int", int64(-7)},
		{"bool true", true},
		{"bool false", false},
		{"float", 3.5},
		{"data", Data([]byte{0x01, 0x02, 0xff})},
		{"empty dict", Dict{}},
		{"nested dict", Dict{"Request": "QueryType", "Label": "idevicekit"}},
		{"array", []any{int64(1), int64(2), int64(3)}},
		{"mixed array", []any{"a", int64(1), true, 1.5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Marshal(tc.value)
			assert.NoError(t, err)
			assert.NotEmpty(t, encoded)

			decoded, err := Unmarshal(encoded)
			assert.NoError(t, err)
			assert.Equal(t, tc.value, decoded)
		})
	}
}

func TestMarshalNormalizesIntegerWidths(t *testing.T) {
	encoded, err := Marshal(int32(9))
	assert.NoError(t, err)

	decoded, err := Unmarshal(encoded)
	assert.NoError(t, err)
	assert.Equal(t, int64(9), decoded)
}

func TestDictWithManyKeysRoundTrips(t *testing.T) {
	dict := Dict{}
	for i := 0; i < 64; i++ {
		dict[string(rune('a'+i%26))+string(rune('0'+i%10))] = int64(i)
	}

	encoded, err := Marshal(dict)
	assert.NoError(t, err)

	decoded, err := Unmarshal(encoded)
	assert.NoError(t, err)
	assert.Equal(t, dict, decoded)
}

func TestUnmarshalRejectsTruncatedInput(t *testing.T) {
	_, err := Unmarshal([]byte("bplist00"))
	assert.Error(t, err)
}

func TestUnmarshalRejectsBadMagic(t *testing.T) {
	_, err := Unmarshal([]byte("not-a-plist-at-all-but-long-enough"))
	assert.Error(t, err)
}
