package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input string
		want  MeasurementMode
	}{
		{"DCV", ModeDCV},
		{"acv", ModeACV},
		{" dci ", ModeDCI},
		{"ACI", ModeACI},
		{"res2", ModeRES2},
		{"RES4", ModeRES4},
		{"freq", ModeFREQ},
		{"PER", ModePER},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseMode("VOLT:DC")
	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, "mode", configErr.Field)
}

func TestMeasurementMode_Subjects(t *testing.T) {
	for _, mode := range Modes() {
		subject, ok := mode.Subject()
		assert.True(t, ok, mode.String())
		assert.NotEmpty(t, subject)
	}

	_, ok := ModeUnknown.Subject()
	assert.False(t, ok)
	assert.False(t, MeasurementMode(42).IsValid())
	assert.Equal(t, "MeasurementMode(42)", MeasurementMode(42).String())
}

func TestMeasurementMode_Text(t *testing.T) {
	data, err := json.Marshal(map[string]MeasurementMode{"mode": ModeRES4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"RES4"}`, string(data))

	var decoded map[string]MeasurementMode
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"freq"}`), &decoded))
	assert.Equal(t, ModeFREQ, decoded["mode"])

	_, err = ModeUnknown.MarshalText()
	assert.Error(t, err)
}

func TestParseTriggerSource(t *testing.T) {
	for input, want := range map[string]TriggerSource{
		"imm":       TriggerImmediate,
		"IMMEDIATE": TriggerImmediate,
		"bus":       TriggerBus,
		"External":  TriggerExternal,
	} {
		got, err := ParseTriggerSource(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := ParseTriggerSource("TIMER")
	assert.Error(t, err)
}

func TestParseScalar(t *testing.T) {
	auto, err := ParseScalar("auto")
	require.NoError(t, err)
	assert.True(t, auto.IsKeyword())
	assert.Equal(t, "AUTO", auto.String())
	assert.True(t, auto.Equal(Auto()))

	num, err := ParseScalar("0.001")
	require.NoError(t, err)
	assert.False(t, num.IsKeyword())
	assert.Equal(t, "0.001", num.String())
	assert.True(t, num.Equal(Number(0.001)))

	_, err = ParseScalar("")
	assert.Error(t, err)
	_, err = ParseScalar("ten")
	assert.Error(t, err)
}

func TestScalar_JSON(t *testing.T) {
	var values []Scalar
	require.NoError(t, json.Unmarshal([]byte(`[10, "max", "1e-3"]`), &values))
	require.Len(t, values, 3)
	assert.Equal(t, "10", values[0].String())
	assert.Equal(t, "MAX", values[1].String())
	assert.True(t, values[2].Equal(Number(0.001)))

	data, err := json.Marshal(values)
	require.NoError(t, err)
	assert.JSONEq(t, `[10, "MAX", 0.001]`, string(data))
}

func TestRangeSpec_Resolve(t *testing.T) {
	broadcast, err := ParseRangeSpec("AUTO")
	require.NoError(t, err)
	assert.False(t, broadcast.IsPerDevice())

	ranges, err := broadcast.Resolve(3)
	require.NoError(t, err)
	assert.Len(t, ranges, 3)
	for _, r := range ranges {
		assert.True(t, r.Equal(Auto()))
	}

	perDevice, err := ParseRangeSpec("10, 1,AUTO")
	require.NoError(t, err)
	assert.True(t, perDevice.IsPerDevice())
	assert.Equal(t, "10,1,AUTO", perDevice.String())

	ranges, err = perDevice.Resolve(3)
	require.NoError(t, err)
	assert.Equal(t, "1", ranges[1].String())

	_, err = perDevice.Resolve(2)
	var rangeErr *RangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 3, rangeErr.Got)
	assert.Equal(t, 2, rangeErr.Want)

	_, err = ParseRangeSpec("10,,AUTO")
	assert.Error(t, err)
}

func TestRangeSpec_JSON(t *testing.T) {
	var r RangeSpec
	require.NoError(t, json.Unmarshal([]byte(`"AUTO"`), &r))
	assert.False(t, r.IsPerDevice())

	require.NoError(t, json.Unmarshal([]byte(`[1000, "AUTO"]`), &r))
	assert.True(t, r.IsPerDevice())
	assert.Equal(t, "1000,AUTO", r.String())

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `[1000, "AUTO"]`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"range": 1}`), &r))
}

func TestMatrix(t *testing.T) {
	m := NewMatrix([]string{"COM3", "COM4"})
	assert.Equal(t, 3, m.Cols())
	assert.Nil(t, m.Dense())

	require.NoError(t, m.Append(Sample{Elapsed: 0, Readings: []float64{1, 2}}))
	require.NoError(t, m.Append(Sample{Elapsed: 0.5, Readings: []float64{3, 4}}))
	assert.Error(t, m.Append(Sample{Elapsed: 1, Readings: []float64{5}}))
	assert.Equal(t, 2, m.Rows())

	dense := m.Dense()
	r, c := dense.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 0.5, dense.At(1, 0))
	assert.Equal(t, 4.0, dense.At(1, 2))

	clone := m.Clone()
	clone.Samples[0].Readings[0] = 99
	assert.Equal(t, 1.0, m.Samples[0].Readings[0])

	assert.Equal(t, "0.5\t3\t4", m.Samples[1].String())
}
