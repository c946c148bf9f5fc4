package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	st := State{
		Records: Records{"notes/a.md": {Score: 2.5, LastAccess: 1700000000000}},
		Settings: Settings{
			MaxAge:             200,
			MaxItems:           10,
			ExcludePathPattern: "^tmp/",
			ExcludeGlobs:       []string{"*.canvas"},
			RecordOnEveryVisit: true,
		},
	}
	data, err := EncodeState(st)
	require.NoError(t, err)
	assert.Equal(t, st, DecodeState(data, DefaultSettings()))
}

func TestEncodeStateNilRecords(t *testing.T) {
	data, err := EncodeState(State{Settings: DefaultSettings()})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"records":{}`)
}

func TestDecodeStateMalformed(t *testing.T) {
	fallback := DefaultSettings()
	inputs := map[string]string{
		"empty":          "",
		"null":           "null",
		"array":          "[1,2,3]",
		"number":         "42",
		"string":         `"records"`,
		"truncated":      `{"records":{"a":`,
		"records array":  `{"records":[{"score":1}]}`,
		"records string": `{"records":"nope"}`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			st := DecodeState([]byte(in), fallback)
			assert.Empty(t, st.Records)
			assert.NotNil(t, st.Records)
			assert.Equal(t, fallback, st.Settings)
		})
	}
}

func TestDecodeStateSkipsBadRecords(t *testing.T) {
	in := `{"records":{
		"good": {"score": 2, "lastAccess": 5},
		"text": "x",
		"neg": {"score": -1, "lastAccess": 5},
		"typed": {"score": "2"},
		"": {"score": 1, "lastAccess": 1},
		"zero": {"score": 0, "lastAccess": 5},
		"tiny": {"score": 0.99, "lastAccess": 5}
	}}`
	st := DecodeState([]byte(in), DefaultSettings())
	require.Len(t, st.Records, 1)
	assert.Equal(t, Record{Score: 2, LastAccess: 5}, *st.Records["good"])
}

func TestParseState(t *testing.T) {
	fallback := DefaultSettings()

	t.Run("valid", func(t *testing.T) {
		st, err := ParseState([]byte(`{"records":{"a":{"score":3,"lastAccess":7},"b":"junk"},"settings":{"maxItems":4}}`), fallback)
		require.NoError(t, err)
		require.Len(t, st.Records, 1)
		assert.Equal(t, Record{Score: 3, LastAccess: 7}, *st.Records["a"])
		assert.Equal(t, 4, st.Settings.MaxItems)
		assert.Equal(t, fallback.MaxAge, st.Settings.MaxAge)
	})

	t.Run("empty records", func(t *testing.T) {
		st, err := ParseState([]byte(`{"records":{}}`), fallback)
		require.NoError(t, err)
		assert.Empty(t, st.Records)
	})

	inputs := map[string]string{
		"empty":          "  ",
		"not json":       "not json",
		"null":           "null",
		"array":          "[1,2,3]",
		"string":         `"records"`,
		"truncated":      `{"records":{"a":`,
		"no records":     `{"settings":{"maxAge":20}}`,
		"records array":  `{"records":[{"score":1}]}`,
		"records string": `{"records":"nope"}`,
		"records null":   `{"records":null}`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := ParseState([]byte(in), fallback)
			assert.ErrorIs(t, err, ErrInvalidState)
		})
	}
}

func TestDecodeStateSettings(t *testing.T) {
	fallback := DefaultSettings()

	t.Run("partial settings keep fallback fields", func(t *testing.T) {
		st := DecodeState([]byte(`{"settings":{"maxAge":20}}`), fallback)
		assert.Equal(t, 20.0, st.Settings.MaxAge)
		assert.Equal(t, fallback.MaxItems, st.Settings.MaxItems)
	})

	t.Run("malformed settings fall back", func(t *testing.T) {
		st := DecodeState([]byte(`{"settings":{"maxAge":"lots"},"records":{"a":{"score":1,"lastAccess":1}}}`), fallback)
		assert.Equal(t, fallback, st.Settings)
		assert.Len(t, st.Records, 1)
	})
}
