package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	greenhouse "greenhouse_controller"
	"greenhouse_controller/internal/logger"
	"greenhouse_controller/internal/platform"
)

var errTestPublish = errors.New("publish refused")

func testLogger() *logger.Logger {
	return logger.Get(logger.ErrorLevel)
}

// ---- repository fakes ----

type memSettingsRepo struct {
	values map[string]string
	puts   int
	putErr error
}

func newMemSettingsRepo() *memSettingsRepo {
	return &memSettingsRepo{values: make(map[string]string)}
}

func (m *memSettingsRepo) GetFloat(_ context.Context, key string, def float64) (float64, error) {
	v, ok := m.values[key]
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, nil
	}
	return f, nil
}

func (m *memSettingsRepo) GetInt(_ context.Context, key string, def int) (int, error) {
	v, ok := m.values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

func (m *memSettingsRepo) PutFloat(_ context.Context, key string, v float64) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.values[key] = strconv.FormatFloat(v, 'f', -1, 64)
	m.puts++
	return nil
}

func (m *memSettingsRepo) PutInt(_ context.Context, key string, v int) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.values[key] = strconv.Itoa(v)
	m.puts++
	return nil
}

type memSupervisorRepo struct {
	state   greenhouse.CrashState
	loadErr error
	saveErr error
	saves   []greenhouse.CrashState
}

func (m *memSupervisorRepo) Load(context.Context) (greenhouse.CrashState, error) {
	return m.state, m.loadErr
}

func (m *memSupervisorRepo) Save(_ context.Context, s greenhouse.CrashState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = s
	m.saves = append(m.saves, s)
	return nil
}

// memBacklog mimics the two-file layout in memory.
type memBacklog struct {
	newLines   []string
	retryLines []string
	appendErr  error
}

func (m *memBacklog) AppendNew(lines []string) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	m.newLines = append(m.newLines, lines...)
	return nil
}

func (m *memBacklog) HasRetry() bool { return len(m.retryLines) > 0 }
func (m *memBacklog) HasNew() bool   { return len(m.newLines) > 0 }

func (m *memBacklog) ReadRetry() ([]string, error) {
	out := make([]string, len(m.retryLines))
	copy(out, m.retryLines)
	return out, nil
}

func (m *memBacklog) DeleteRetry() error {
	m.retryLines = nil
	return nil
}

func (m *memBacklog) PromoteNew() error {
	m.retryLines = m.newLines
	m.newLines = nil
	return nil
}

// ---- broker fakes ----

type publishedMsg struct {
	topic   string
	payload string
}

// fakeSession satisfies both broker.Publisher and broker.Session.
// failAt makes the Nth publish (1-based) and every later one fail.
type fakeSession struct {
	mu            sync.Mutex
	connected     bool
	connectErr    error
	subscribeErr  error
	publishErr    error
	failAt        int
	published     []publishedMsg
	attempts      int
	subscriptions map[string]func([]byte)
	disconnects   int
}

func newFakeSession(connected bool) *fakeSession {
	return &fakeSession{connected: connected, subscriptions: make(map[string]func([]byte))}
}

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSession) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.publishErr != nil {
		return f.publishErr
	}
	if f.failAt > 0 && f.attempts >= f.failAt {
		return errTestPublish
	}
	f.published = append(f.published, publishedMsg{topic: topic, payload: string(payload)})
	return nil
}

func (f *fakeSession) Connect(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeSession) Subscribe(topic string, handler func(payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscriptions[topic] = handler
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeSession) payloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, p := range f.published {
		out[i] = p.payload
	}
	return out
}

// ---- platform fakes ----

type stubDistance struct {
	cm  int
	err error
}

func (s *stubDistance) Measure() (int, error) { return s.cm, s.err }

type stubActuators struct {
	applied []greenhouse.ActuatorStatus
}

func (s *stubActuators) Apply(a greenhouse.ActuatorStatus) {
	s.applied = append(s.applied, a)
}

func (s *stubActuators) last() (greenhouse.ActuatorStatus, bool) {
	if len(s.applied) == 0 {
		return greenhouse.ActuatorStatus{}, false
	}
	return s.applied[len(s.applied)-1], true
}

type fakeUpdater struct {
	prevAvailable bool
	fetchErr      error
	rollbackErr   error
	fetched       []string
	rollbacks     int
}

func (f *fakeUpdater) FetchAndApply(_ context.Context, url string) error {
	if f.fetchErr != nil {
		return f.fetchErr
	}
	f.fetched = append(f.fetched, url)
	return nil
}

func (f *fakeUpdater) PreviousImageAvailable() bool { return f.prevAvailable }

func (f *fakeUpdater) Rollback() error {
	if f.rollbackErr != nil {
		return f.rollbackErr
	}
	f.rollbacks++
	return nil
}

type fakeRestarter struct {
	reasons []string
}

func (f *fakeRestarter) Restart(reason string) {
	f.reasons = append(f.reasons, reason)
}

type fakeClock struct {
	now       time.Time
	synced    bool
	syncCalls int
}

func (f *fakeClock) Now() time.Time { return f.now }
func (f *fakeClock) IsSynced() bool { return f.synced }
func (f *fakeClock) Sync()          { f.syncCalls++ }

type fakeNetwork struct {
	status        platform.LinkStatus
	associateErr  error
	associations  int
	provisioning  bool
	savedSSID     string
	savedPassword string
}

func (f *fakeNetwork) Associate(context.Context) error {
	f.associations++
	return f.associateErr
}

func (f *fakeNetwork) Status() platform.LinkStatus { return f.status }

func (f *fakeNetwork) StartProvisioning() error {
	f.provisioning = true
	return nil
}

func (f *fakeNetwork) StopProvisioning() error {
	f.provisioning = false
	return nil
}

func (f *fakeNetwork) SaveCredentials(ssid, passphrase string) error {
	f.savedSSID = ssid
	f.savedPassword = passphrase
	return nil
}

type fakePortal struct {
	active   bool
	starts   int
	stops    int
	startErr error
}

func (f *fakePortal) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	f.starts++
	return nil
}

func (f *fakePortal) Stop() {
	f.active = false
	f.stops++
}

func (f *fakePortal) Active() bool { return f.active }
