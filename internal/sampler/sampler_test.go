package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dmm-service/internal/driver/keysight"
	"dmm-service/internal/model"
	"dmm-service/internal/protocol"
	"dmm-service/pkg/driver"
)

type fakeInstrument struct {
	name string

	mu         sync.Mutex
	configured []string
	triggers   []model.TriggerSource
	reads      int
	value      float64
	failOn     map[int]error
	closed     bool
}

func newFake(name string, value float64) *fakeInstrument {
	return &fakeInstrument{name: name, value: value, failOn: map[int]error{}}
}

func (f *fakeInstrument) Name() string                   { return f.name }
func (f *fakeInstrument) Endpoint() model.SerialEndpoint { return model.Endpoint(f.name) }

func (f *fakeInstrument) Configure(ctx context.Context, mode model.MeasurementMode, rng, res model.Scalar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.configured = append(f.configured, fmt.Sprintf("%s %s %s", mode, rng, res))
	return nil
}

func (f *fakeInstrument) SetTrigger(ctx context.Context, source model.TriggerSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.triggers = append(f.triggers, source)
	return nil
}

func (f *fakeInstrument) ReadMeasurement(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	f.reads++
	if err, ok := f.failOn[f.reads]; ok {
		return 0, err
	}
	return f.value + float64(f.reads), nil
}

func (f *fakeInstrument) Identify(context.Context) (*driver.DeviceInfo, error) {
	return &driver.DeviceInfo{Port: f.name}, nil
}

func (f *fakeInstrument) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeInstrument) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func instruments(fakes ...*fakeInstrument) []driver.Instrument {
	out := make([]driver.Instrument, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func fastSampler(policy ReadErrorPolicy) *Sampler {
	return New(Config{SettleDelay: 0, ReadErrorPolicy: policy}, zap.NewNop())
}

func baseRequest(fakes ...*fakeInstrument) Request {
	return Request{
		Mode:         model.ModeDCV,
		Instruments:  instruments(fakes...),
		TickInterval: time.Millisecond,
		Duration:     time.Hour,
		Range:        model.BroadcastRange(model.Auto()),
		Resolution:   model.Number(0.001),
	}
}

// cancelAfter returns a context cancelled by the observer once k rows exist
func cancelAfter(k int) (context.Context, Observer) {
	ctx, cancel := context.WithCancel(context.Background())
	return ctx, func(tick int, _ model.Sample) {
		if tick == k {
			cancel()
		}
	}
}

func TestRun_BroadcastRange(t *testing.T) {
	a, b, c := newFake("COM3", 0), newFake("COM4", 0), newFake("COM5", 0)
	req := baseRequest(a, b, c)
	req.Range = model.BroadcastRange(model.Number(10))
	req.Duration = 0

	_, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)
	require.NoError(t, err)

	for _, f := range []*fakeInstrument{a, b, c} {
		assert.Equal(t, []string{"DCV 10 0.001"}, f.configured)
	}
}

func TestRun_PerDeviceRange(t *testing.T) {
	a, b, c := newFake("COM3", 0), newFake("COM4", 0), newFake("COM5", 0)
	req := baseRequest(a, b, c)
	req.Mode = model.ModeRES4
	req.Range = model.PerDeviceRange(model.Number(100), model.Number(1000), model.Auto())
	req.Duration = 0

	_, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"RES4 100 0.001"}, a.configured)
	assert.Equal(t, []string{"RES4 1000 0.001"}, b.configured)
	assert.Equal(t, []string{"RES4 AUTO 0.001"}, c.configured)
}

func TestRun_RangeMismatchTouchesNothing(t *testing.T) {
	a, b, c := newFake("COM3", 0), newFake("COM4", 0), newFake("COM5", 0)
	req := baseRequest(a, b, c)
	req.Range = model.PerDeviceRange(model.Number(10), model.Number(1))

	matrix, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)
	assert.Nil(t, matrix)

	var rangeErr *model.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, 2, rangeErr.Got)
	assert.Equal(t, 3, rangeErr.Want)

	for _, f := range []*fakeInstrument{a, b, c} {
		assert.Empty(t, f.configured)
		assert.Zero(t, f.readCount())
	}
}

func TestRun_InvalidRequestTouchesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "unknown mode", mutate: func(r *Request) { r.Mode = model.MeasurementMode(42) }},
		{name: "unset mode", mutate: func(r *Request) { r.Mode = model.ModeUnknown }},
		{name: "bad trigger", mutate: func(r *Request) { r.Trigger = "SOFTWARE" }},
		{name: "negative duration", mutate: func(r *Request) { r.Duration = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFake("COM3", 0)
			req := baseRequest(a)
			tt.mutate(&req)

			_, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)

			var cfgErr *model.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Empty(t, a.configured)
			assert.Empty(t, a.triggers)
		})
	}
}

func TestRun_Trigger(t *testing.T) {
	a, b := newFake("COM3", 0), newFake("COM4", 0)
	req := baseRequest(a, b)
	req.Trigger = model.TriggerImmediate
	req.Duration = 0

	_, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.TriggerSource{model.TriggerImmediate}, a.triggers)
	assert.Equal(t, []model.TriggerSource{model.TriggerImmediate}, b.triggers)
}

func TestRun_ZeroDuration(t *testing.T) {
	a := newFake("COM3", 0)
	req := baseRequest(a)
	req.Duration = 0

	matrix, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, matrix.Rows())
	assert.Equal(t, []string{"COM3"}, matrix.Devices)
	assert.Zero(t, a.readCount())
}

func TestRun_CancelAfterTicks(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("after %d ticks", k), func(t *testing.T) {
			a, b := newFake("COM3", 100), newFake("COM4", 200)
			ctx, observer := cancelAfter(k)

			matrix, err := fastSampler(PolicyStop).Run(ctx, baseRequest(a, b), observer)
			require.NoError(t, err)
			require.Equal(t, k, matrix.Rows())

			for i, sample := range matrix.Samples {
				require.Len(t, sample.Readings, 2)
				assert.Equal(t, 100+float64(i+1), sample.Readings[0])
				assert.Equal(t, 200+float64(i+1), sample.Readings[1])
			}
			assert.Equal(t, k, a.readCount())
			assert.Equal(t, k, b.readCount())
		})
	}
}

func TestRun_ElapsedIsMonotonic(t *testing.T) {
	ctx, observer := cancelAfter(4)
	req := baseRequest(newFake("COM3", 0))
	req.TickInterval = 2 * time.Millisecond

	matrix, err := fastSampler(PolicyStop).Run(ctx, req, observer)
	require.NoError(t, err)

	previous := 0.0
	for _, sample := range matrix.Samples {
		assert.GreaterOrEqual(t, sample.Elapsed, previous+0.002)
		previous = sample.Elapsed
	}
}

func TestRun_DurationBoundsTheRun(t *testing.T) {
	req := baseRequest(newFake("COM3", 0))
	req.TickInterval = 5 * time.Millisecond
	req.Duration = 30 * time.Millisecond

	matrix, err := fastSampler(PolicyStop).Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.NotZero(t, matrix.Rows())
	assert.LessOrEqual(t, matrix.Rows(), 6)

	// the last row is the first to reach the duration
	last := matrix.Samples[matrix.Rows()-1]
	assert.GreaterOrEqual(t, last.Elapsed, 0.030)
	if matrix.Rows() > 1 {
		assert.Less(t, matrix.Samples[matrix.Rows()-2].Elapsed, 0.030)
	}
}

func TestRun_CancelDuringSettle(t *testing.T) {
	a := newFake("COM3", 0)
	s := New(Config{SettleDelay: time.Minute}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	matrix, err := s.Run(ctx, baseRequest(a), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, matrix.Rows())
	assert.Len(t, a.configured, 1)
	assert.Zero(t, a.readCount())
}

func TestRun_CancelledBeforeConfigure(t *testing.T) {
	a, b := newFake("COM3", 0), newFake("COM4", 0)
	req := baseRequest(a, b)
	req.Trigger = model.TriggerBus

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	matrix, err := fastSampler(PolicyStop).Run(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, matrix)
	assert.Equal(t, 0, matrix.Rows())
	assert.Equal(t, []string{"COM3", "COM4"}, matrix.Devices)
	assert.Len(t, a.configured, 1)
	assert.Equal(t, []model.TriggerSource{model.TriggerBus}, b.triggers)
	assert.Zero(t, a.readCount())
}

func TestRun_CancelledSimulatedInstrument(t *testing.T) {
	opts := keysight.DefaultOptions()
	opts.OpenSettle = 0
	opts.PortOpener = protocol.SimulatedOpener(0)
	dmm, err := keysight.Open(context.Background(), model.Endpoint("SIM1"), opts, zap.NewNop())
	require.NoError(t, err)
	defer dmm.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := Request{
		Mode:         model.ModeRES2,
		Instruments:  []driver.Instrument{dmm},
		TickInterval: time.Millisecond,
		Duration:     time.Second,
		Range:        model.BroadcastRange(model.Auto()),
		Resolution:   model.Number(0.001),
	}
	matrix, err := fastSampler(PolicyStop).Run(ctx, req, nil)
	require.NoError(t, err)
	require.NotNil(t, matrix)
	assert.Equal(t, 0, matrix.Rows())
}

func TestRun_ReadErrorKeepsRows(t *testing.T) {
	a, b := newFake("COM3", 0), newFake("COM4", 0)
	parseErr := &model.ParseError{Port: "COM4", Reply: "garbage\r\n", Err: errors.New("invalid syntax")}
	b.failOn[3] = parseErr

	matrix, err := fastSampler(PolicyStop).Run(context.Background(), baseRequest(a, b), nil)

	var readErr *model.ReadError
	require.ErrorAs(t, err, &readErr)
	assert.Equal(t, 3, readErr.Tick)
	assert.Equal(t, 1, readErr.Device)
	assert.ErrorIs(t, err, parseErr)

	require.NotNil(t, matrix)
	assert.Equal(t, 2, matrix.Rows())
	for _, sample := range matrix.Samples {
		assert.Len(t, sample.Readings, 2)
	}
}

func TestRun_SkipPolicyDropsTick(t *testing.T) {
	a, b := newFake("COM3", 0), newFake("COM4", 0)
	a.failOn[2] = errors.New("timeout")
	ctx, observer := cancelAfter(3)

	matrix, err := fastSampler(PolicySkip).Run(ctx, baseRequest(a, b), observer)
	require.NoError(t, err)
	require.Equal(t, 3, matrix.Rows())

	// the failed tick stops before the second device is read
	assert.Equal(t, 4, a.readCount())
	assert.Equal(t, 3, b.readCount())
	assert.Equal(t, []float64{1, 1}, matrix.Samples[0].Readings)
	assert.Equal(t, []float64{3, 2}, matrix.Samples[1].Readings)
}

func TestRun_SimulatedInstruments(t *testing.T) {
	opts := keysight.DefaultOptions()
	opts.OpenSettle = 0
	opts.PortOpener = protocol.SimulatedOpener(0)
	opener := keysight.NewOpener(opts, zap.NewNop())

	var insts []driver.Instrument
	for _, name := range []string{"SIM1", "SIM2"} {
		inst, err := opener.Open(context.Background(), model.Endpoint(name))
		require.NoError(t, err)
		defer inst.Close()
		insts = append(insts, inst)
	}

	ctx, observer := cancelAfter(2)
	matrix, err := fastSampler(PolicyStop).Run(ctx, Request{
		Mode:         model.ModeRES2,
		Instruments:  insts,
		TickInterval: time.Millisecond,
		Duration:     time.Hour,
		Range:        model.BroadcastRange(model.Auto()),
		Resolution:   model.Number(0.001),
	}, observer)
	require.NoError(t, err)
	require.Equal(t, 2, matrix.Rows())
	assert.Equal(t, []string{"SIM1", "SIM2"}, matrix.Devices)
	for _, sample := range matrix.Samples {
		assert.InDelta(t, 550.8, sample.Readings[0], 1e-9)
		assert.InDelta(t, 550.8, sample.Readings[1], 1e-9)
	}
}
