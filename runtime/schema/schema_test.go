package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const pointSchema = `{
  "type": "object",
  "properties": {
    "x": {"type": "number"},
    "label": {"type": "string"}
  },
  "required": ["x"],
  "additionalProperties": false
}`

func TestValidate(t *testing.T) {
	t.Parallel()

	s, err := Compile("point", []byte(pointSchema))
	require.NoError(t, err)
	require.Equal(t, "point", s.Name())

	require.NoError(t, s.Validate([]byte(`{"x": 1.5, "label": "a"}`)))
	require.Error(t, s.Validate([]byte(`{"label": "a"}`)))
	require.Error(t, s.Validate([]byte(`{"x": "one"}`)))
	require.Error(t, s.Validate([]byte(`{"x": 1, "extra": true}`)))
	require.Error(t, s.Validate([]byte(`{not json`)))
	require.Error(t, s.Validate(nil))
}

func TestCompileErrors(t *testing.T) {
	t.Parallel()

	_, err := Compile("empty", nil)
	require.Error(t, err)

	_, err = Compile("broken", []byte(`{"type": `))
	require.Error(t, err)

	require.Panics(t, func() { MustCompile("bad", []byte(`{"type": 12}`)) })
}

func TestMap(t *testing.T) {
	t.Parallel()

	s := MustCompile("point", []byte(pointSchema))
	m, err := s.Map()
	require.NoError(t, err)
	require.Equal(t, "object", m["type"])
}
