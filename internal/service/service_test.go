package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dmm-service/internal/discovery"
	"dmm-service/internal/driver"
	"dmm-service/internal/driver/keysight"
	"dmm-service/internal/export"
	"dmm-service/internal/model"
	"dmm-service/internal/protocol"
	"dmm-service/internal/repository"
	"dmm-service/internal/sampler"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (p *recordingPublisher) Publish(event model.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func testOptions(portOpener protocol.Opener) keysight.Options {
	opts := keysight.DefaultOptions()
	opts.OpenSettle = 0
	opts.ReadTimeout = time.Second
	opts.PortOpener = portOpener
	return opts
}

func defaultParams() model.SessionParams {
	return model.SessionParams{
		Mode:         model.ModeDCV,
		TickInterval: 5 * time.Millisecond,
		Duration:     30 * time.Millisecond,
		Range:        model.BroadcastRange(model.Auto()),
		Resolution:   model.Number(0.001),
	}
}

type fixture struct {
	service   *SessionService
	publisher *recordingPublisher
	ports     *PortGuard
}

func newFixture(t *testing.T, portOpener protocol.Opener, scanner discovery.PortScanner, exporter *export.Exporter) *fixture {
	t.Helper()
	publisher := &recordingPublisher{}
	ports := &PortGuard{}

	svc := NewSessionService(
		repository.NewMemorySessionRepository(zap.NewNop()),
		scanner,
		keysight.NewOpener(testOptions(portOpener), zap.NewNop()),
		sampler.New(sampler.Config{SettleDelay: 0, ReadErrorPolicy: sampler.PolicyStop}, zap.NewNop()),
		exporter,
		publisher,
		ports,
		defaultParams(),
		zap.NewNop(),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return &fixture{service: svc, publisher: publisher, ports: ports}
}

func waitSession(t *testing.T, svc *SessionService, id uuid.UUID) *model.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Wait(ctx))

	session, err := svc.GetSession(context.Background(), id)
	require.NoError(t, err)
	return session
}

func TestSessionService_RunToCompletion(t *testing.T) {
	dir := t.TempDir()
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner("SIM1", "SIM2"),
		export.NewExporter(dir, export.FormatCSV, zap.NewNop()))

	started, err := f.service.StartSession(context.Background(), defaultParams())
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRunning, started.Status)
	assert.Equal(t, []string{"SIM1", "SIM2"}, started.Devices)

	session := waitSession(t, f.service, started.ID)
	assert.Equal(t, model.SessionStatusCompleted, session.Status)
	require.NotNil(t, session.Matrix)
	assert.NotZero(t, session.Matrix.Rows())
	assert.Equal(t, session.Matrix.Rows(), session.Rows)
	assert.NotNil(t, session.CompletedAt)
	assert.InDelta(t, 0.5, session.Matrix.Samples[0].Readings[1], 1e-9)

	types := f.publisher.types()
	require.NotEmpty(t, types)
	assert.Equal(t, model.EventSessionStarted, types[0])
	assert.Equal(t, model.EventSessionCompleted, types[len(types)-1])
	assert.Len(t, types, session.Rows+2)

	assert.False(t, f.ports.Busy())
	_, err = os.Stat(filepath.Join(dir, started.ID.String()+".csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, started.ID.String()+".yaml"))
	assert.NoError(t, err)
}

func TestSessionService_ExplicitPorts(t *testing.T) {
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner("SIM1"), nil)

	params := defaultParams()
	params.Ports = []string{"SIM7", "SIM8", "SIM9"}
	started, err := f.service.StartSession(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, []string{"SIM7", "SIM8", "SIM9"}, started.Devices)
	waitSession(t, f.service, started.ID)
}

func TestSessionService_OneSessionAtATime(t *testing.T) {
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner("SIM1"), nil)

	params := defaultParams()
	params.Duration = time.Hour
	first, err := f.service.StartSession(context.Background(), params)
	require.NoError(t, err)

	_, err = f.service.StartSession(context.Background(), params)
	assert.ErrorIs(t, err, ErrPortsBusy)

	id, ok := f.service.ActiveSessionID()
	require.True(t, ok)
	assert.Equal(t, first.ID, id)

	// let a few ticks happen, then cancel
	time.Sleep(30 * time.Millisecond)
	_, err = f.service.CancelSession(context.Background(), first.ID)
	require.NoError(t, err)

	session := waitSession(t, f.service, first.ID)
	assert.Equal(t, model.SessionStatusCancelled, session.Status)
	assert.NotZero(t, session.Rows)
	for _, sample := range session.Matrix.Samples {
		assert.Len(t, sample.Readings, 1)
	}

	_, ok = f.service.ActiveSessionID()
	assert.False(t, ok)

	_, err = f.service.CancelSession(context.Background(), first.ID)
	assert.ErrorIs(t, err, ErrSessionNotRunning)

	_, err = f.service.CancelSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestSessionService_InvalidParams(t *testing.T) {
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner("SIM1"), nil)

	params := defaultParams()
	params.Mode = model.ModeUnknown
	_, err := f.service.StartSession(context.Background(), params)

	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.False(t, f.ports.Busy())
}

func TestSessionService_ConnectionFailure(t *testing.T) {
	com3 := protocol.NewMockPort()
	f := newFixture(t, protocol.MockOpener(map[string]protocol.Port{"COM3": com3}, errors.New("busy")),
		discovery.NewStaticScanner("COM3", "COM4"), nil)

	_, err := f.service.StartSession(context.Background(), defaultParams())

	var connErr *model.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "COM4", connErr.Port)
	assert.True(t, com3.Closed())
	assert.False(t, f.ports.Busy())
}

func TestSessionService_NoInstruments(t *testing.T) {
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner(), nil)

	_, err := f.service.StartSession(context.Background(), defaultParams())
	assert.ErrorIs(t, err, ErrNoInstruments)
	assert.False(t, f.ports.Busy())
}

func TestSessionService_RangeMismatch(t *testing.T) {
	com3, com4 := protocol.NewMockPort(), protocol.NewMockPort()
	f := newFixture(t, protocol.MockOpener(map[string]protocol.Port{"COM3": com3, "COM4": com4}, nil),
		discovery.NewStaticScanner("COM3", "COM4"), nil)

	params := defaultParams()
	params.Range = model.PerDeviceRange(model.Number(10))
	_, err := f.service.StartSession(context.Background(), params)

	var rangeErr *model.RangeError
	require.ErrorAs(t, err, &rangeErr)
	assert.True(t, com3.Closed())
	assert.True(t, com4.Closed())
	// nothing but the remote directive was sent
	assert.Equal(t, []string{"SYSTem:REMote"}, com3.Commands())
	assert.False(t, f.ports.Busy())
}

func TestSessionService_ReadFailureKeepsRows(t *testing.T) {
	com3 := protocol.NewMockPort("1.0\r\n", "2.0\r\n", "READ?\r\n", "READ?\r\n")
	f := newFixture(t, protocol.MockOpener(map[string]protocol.Port{"COM3": com3}, nil),
		discovery.NewStaticScanner("COM3"), nil)

	params := defaultParams()
	params.Duration = time.Hour
	started, err := f.service.StartSession(context.Background(), params)
	require.NoError(t, err)

	session := waitSession(t, f.service, started.ID)
	assert.Equal(t, model.SessionStatusFailed, session.Status)
	require.NotNil(t, session.ErrorMessage)
	assert.Contains(t, *session.ErrorMessage, "tick 3")
	assert.Equal(t, 2, session.Rows)
	assert.Equal(t, 1.0, session.Matrix.Samples[0].Readings[0])
	assert.Equal(t, 2.0, session.Matrix.Samples[1].Readings[0])
	assert.True(t, com3.Closed())

	types := f.publisher.types()
	assert.Equal(t, model.EventSessionFailed, types[len(types)-1])
}

func TestSessionService_ListSessions(t *testing.T) {
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner("SIM1"), nil)

	params := defaultParams()
	params.Duration = 0
	for i := 0; i < 3; i++ {
		started, err := f.service.StartSession(context.Background(), params)
		require.NoError(t, err)
		waitSession(t, f.service, started.ID)
	}

	sessions, pagination, err := f.service.ListSessions(context.Background(), &repository.SessionFilter{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
	assert.Equal(t, 3, pagination.Total)
	assert.Equal(t, 2, pagination.TotalPages)
}

func TestDiscoveryService_IdentifyInstruments(t *testing.T) {
	manager := discovery.NewScannerManager(zap.NewNop())
	manager.RegisterScanner(discovery.NewStaticScanner("SIM1", "SIM2"))

	registry := driver.NewRegistry(zap.NewNop())
	opts := keysight.DefaultOptions()
	opts.OpenSettle = 0
	driver.RegisterDefaultDrivers(registry, opts, 0, zap.NewNop())
	opener, err := registry.Opener(driver.DriverSimulated)
	require.NoError(t, err)

	ports := &PortGuard{}
	ds := NewDiscoveryService(manager, registry, opener, ports, zap.NewNop())

	endpoints, err := ds.ScanPorts(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)

	endpoints, err = ds.ScanPorts(context.Background(), "static")
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)

	_, err = ds.ScanPorts(context.Background(), "usb")
	assert.ErrorIs(t, err, discovery.ErrUnknownScanner)
	assert.Contains(t, ds.GetSupportedDrivers(), driver.DriverSimulated)

	results, err := ds.IdentifyInstruments(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "SIM1", results[0].Port)
	require.NotNil(t, results[0].Info)
	assert.Equal(t, "34401A", results[0].Info.Model)
	assert.False(t, ports.Busy())

	results, err = ds.IdentifyInstruments(context.Background(), []string{"SIM5"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "SIM5", results[0].Port)

	require.True(t, ports.TryAcquire())
	_, err = ds.IdentifyInstruments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrPortsBusy)
	ports.Release()
}

func TestDiscoveryService_IdentifyReportsPerPortErrors(t *testing.T) {
	manager := discovery.NewScannerManager(zap.NewNop())
	manager.RegisterScanner(discovery.NewStaticScanner("COM3", "COM4"))

	com3 := protocol.NewMockPort("HEWLETT-PACKARD,34401A,0,11-5-2\r\n")
	opener := keysight.NewOpener(testOptions(protocol.MockOpener(map[string]protocol.Port{"COM3": com3}, nil)), zap.NewNop())
	ds := NewDiscoveryService(manager, driver.NewRegistry(zap.NewNop()), opener, &PortGuard{}, zap.NewNop())

	results, err := ds.IdentifyInstruments(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "11-5-2", results[0].Info.FirmwareVersion)
	assert.True(t, com3.Closed())
	assert.Nil(t, results[1].Info)
	assert.NotEmpty(t, results[1].Error)
}

func TestSessionService_DeleteOldSessions(t *testing.T) {
	f := newFixture(t, protocol.SimulatedOpener(0), discovery.NewStaticScanner("SIM1"), nil)

	started, err := f.service.StartSession(context.Background(), defaultParams())
	require.NoError(t, err)
	waitSession(t, f.service, started.ID)

	deleted, err := f.service.DeleteOldSessions(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = f.service.DeleteOldSessions(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = f.service.GetSession(context.Background(), started.ID)
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}
