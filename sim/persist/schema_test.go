package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sensorState struct {
	Count   int64
	Ticks   uint64
	Level   float64
	Label   string
	Enabled bool
	History []uint64
}

func (s *sensorState) schema() *Schema {
	return NewSchema().
		Int("count", &s.Count).
		Uint("ticks", &s.Ticks).
		Float("level", &s.Level).
		String("label", &s.Label).
		Bool("enabled", &s.Enabled).
		Value("history", &s.History)
}

func TestSchema_EncodeDecode_RoundTrip(t *testing.T) {
	// GIVEN a populated state
	src := &sensorState{Count: -4, Ticks: 1200, Level: 0.75, Label: "tank", Enabled: true, History: []uint64{100, 200}}

	// WHEN encoded and decoded into a fresh value
	doc, err := src.schema().Encode("sensor")
	require.NoError(t, err)
	dst := &sensorState{}
	require.NoError(t, dst.schema().Decode(doc))

	// THEN every field matches
	assert.Equal(t, src, dst)
	assert.Equal(t, "sensor", doc.Participant)
	assert.Equal(t, []string{"count", "ticks", "level", "label", "enabled", "history"}, src.schema().Names())
}

func TestSchema_Decode_RejectsMismatchedLayout(t *testing.T) {
	src := &sensorState{Count: 1}
	doc, err := src.schema().Encode("sensor")
	require.NoError(t, err)

	var count int64
	var label string
	shorter := NewSchema().Int("count", &count)
	assert.Error(t, shorter.Decode(doc))

	reordered := NewSchema().String("count", &label).Uint("ticks", new(uint64)).Float("level", new(float64)).
		String("label", new(string)).Bool("enabled", new(bool)).Value("history", new([]uint64))
	assert.Error(t, reordered.Decode(doc), "type mismatch on first field")
}

func TestSchema_Decode_AllOrNothing(t *testing.T) {
	// GIVEN a document whose last field cannot decode into the target type
	doc, err := NewSchema().Int("a", new(int64)).String("b", ptr("not a number")).Encode("x")
	require.NoError(t, err)
	doc.Fields[1].Type = FieldInt

	a := int64(7)
	b := int64(9)
	target := NewSchema().Int("a", &a).Int("b", &b)

	// WHEN decoding fails
	assert.Error(t, target.Decode(doc))

	// THEN nothing was assigned
	assert.Equal(t, int64(7), a)
	assert.Equal(t, int64(9), b)
}

func TestSchema_DeclarationErrorsPanic(t *testing.T) {
	var n int64
	assert.Panics(t, func() { NewSchema().Int("n", &n).Int("n", &n) })
	assert.Panics(t, func() { NewSchema().Value("v", 3) })
}

func ptr[T any](v T) *T { return &v }
