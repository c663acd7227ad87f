package keysight

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dmm-service/internal/model"
	"dmm-service/internal/protocol"
)

func testOptions(ports map[string]protocol.Port) Options {
	opts := DefaultOptions()
	opts.OpenSettle = 0
	opts.ReadTimeout = time.Second
	opts.PortOpener = protocol.MockOpener(ports, nil)
	return opts
}

func openDMM(t *testing.T, port *protocol.MockPort) *DMM {
	t.Helper()
	dmm, err := Open(context.Background(), model.Endpoint("COM3"),
		testOptions(map[string]protocol.Port{"COM3": port}), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { dmm.Close() })
	return dmm
}

func TestOpen_SendsRemote(t *testing.T) {
	port := protocol.NewMockPort()
	dmm := openDMM(t, port)

	assert.Equal(t, "COM3", dmm.Name())
	assert.Equal(t, []string{"SYSTem:REMote\n"}, port.Written())
}

func TestOpen_ConnectionError(t *testing.T) {
	_, err := Open(context.Background(), model.Endpoint("COM9"),
		testOptions(nil), zap.NewNop())

	var connErr *model.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "COM9", connErr.Port)
}

func TestOpen_CancelledDuringSettle(t *testing.T) {
	port := protocol.NewMockPort()
	opts := testOptions(map[string]protocol.Port{"COM3": port})
	opts.OpenSettle = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Open(ctx, model.Endpoint("COM3"), opts, zap.NewNop())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, port.Closed())
	assert.Empty(t, port.Written())
}

func TestConfigure_AllModes(t *testing.T) {
	tests := []struct {
		mode model.MeasurementMode
		want string
	}{
		{model.ModeDCV, "CONF:VOLT:DC AUTO, 0.001"},
		{model.ModeACV, "CONF:VOLT:AC AUTO, 0.001"},
		{model.ModeDCI, "CONF:CURR:DC AUTO, 0.001"},
		{model.ModeACI, "CONF:CURR:AC AUTO, 0.001"},
		{model.ModeRES2, "CONF:RES AUTO, 0.001"},
		{model.ModeRES4, "CONF:FRES AUTO, 0.001"},
		{model.ModeFREQ, "CONF:FREQ AUTO, 0.001"},
		{model.ModePER, "CONF:PER AUTO, 0.001"},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			port := protocol.NewMockPort()
			dmm := openDMM(t, port)

			require.NoError(t, dmm.Configure(context.Background(), tt.mode, model.Auto(), model.Number(0.001)))
			commands := port.Commands()
			require.Len(t, commands, 2)
			assert.Equal(t, tt.want, commands[1])
		})
	}
}

func TestConfigure_NumericRange(t *testing.T) {
	port := protocol.NewMockPort()
	dmm := openDMM(t, port)

	require.NoError(t, dmm.Configure(context.Background(), model.ModeRES4, model.Number(1000), model.Keyword(model.KeywordMin)))
	assert.Equal(t, "CONF:FRES 1000, MIN", port.Commands()[1])
}

func TestConfigure_UnknownModeIsNoop(t *testing.T) {
	port := protocol.NewMockPort()
	dmm := openDMM(t, port)

	require.NoError(t, dmm.Configure(context.Background(), model.MeasurementMode(42), model.Auto(), model.Number(0.001)))
	require.NoError(t, dmm.Configure(context.Background(), model.ModeUnknown, model.Auto(), model.Number(0.001)))
	assert.Equal(t, []string{"SYSTem:REMote"}, port.Commands())
}

func TestSetTrigger(t *testing.T) {
	port := protocol.NewMockPort()
	dmm := openDMM(t, port)

	require.NoError(t, dmm.SetTrigger(context.Background(), model.TriggerBus))
	assert.Equal(t, "TRIG:SOUR BUS", port.Commands()[1])

	var cfgErr *model.ConfigError
	require.ErrorAs(t, dmm.SetTrigger(context.Background(), "SOFTWARE"), &cfgErr)
	assert.Len(t, port.Commands(), 2)
}

func TestReadMeasurement(t *testing.T) {
	tests := []struct {
		name    string
		replies []string
		want    float64
	}{
		{name: "plain reply", replies: []string{"1.234500\r\n"}, want: 1.2345},
		{name: "scientific reply", replies: []string{"+5.50800000E+02\r\n"}, want: 550.8},
		{name: "retry after echo", replies: []string{"READ?\r\n", "-2.5E-03\r\n"}, want: -0.0025},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := protocol.NewMockPort(tt.replies...)
			dmm := openDMM(t, port)

			got, err := dmm.ReadMeasurement(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.Equal(t, "READ?", port.Commands()[1])
		})
	}
}

func TestReadMeasurement_TwoBadRepliesIsParseError(t *testing.T) {
	port := protocol.NewMockPort("garbage\r\n", "more garbage\r\n", "1.0\r\n")
	dmm := openDMM(t, port)

	_, err := dmm.ReadMeasurement(context.Background())

	var parseErr *model.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "COM3", parseErr.Port)
	assert.Equal(t, "more garbage\r\n", parseErr.Reply)
	// the valid third line is left unread
	assert.Len(t, port.Commands(), 2)
}

func TestReadMeasurement_ReadFailure(t *testing.T) {
	port := protocol.NewMockPort()
	dmm := openDMM(t, port)

	_, err := dmm.ReadMeasurement(context.Background())
	require.Error(t, err)

	var parseErr *model.ParseError
	assert.False(t, errors.As(err, &parseErr))
}

func TestIdentify(t *testing.T) {
	port := protocol.NewMockPort("HEWLETT-PACKARD,34401A,0,11-5-2\r\n")
	dmm := openDMM(t, port)

	info, err := dmm.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "34401A", info.Model)
	assert.Equal(t, "COM3", info.Port)
	assert.Equal(t, "*IDN?", port.Commands()[1])
}

func TestClose(t *testing.T) {
	port := protocol.NewMockPort()
	dmm := openDMM(t, port)

	require.NoError(t, dmm.Close())
	require.NoError(t, dmm.Close())
	assert.Equal(t, 1, port.CloseCount())

	assert.ErrorIs(t, dmm.Configure(context.Background(), model.ModeDCV, model.Auto(), model.Auto()), model.ErrHandleClosed)
	_, err := dmm.ReadMeasurement(context.Background())
	assert.ErrorIs(t, err, model.ErrHandleClosed)
}

func TestOpener_Simulated(t *testing.T) {
	opts := DefaultOptions()
	opts.OpenSettle = 0
	opts.PortOpener = protocol.SimulatedOpener(0)

	inst, err := NewOpener(opts, zap.NewNop()).Open(context.Background(), model.Endpoint("SIM1"))
	require.NoError(t, err)
	defer inst.Close()

	require.NoError(t, inst.Configure(context.Background(), model.ModeRES2, model.Auto(), model.Number(0.001)))
	value, err := inst.ReadMeasurement(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 550.8, value, 1e-9)
}
