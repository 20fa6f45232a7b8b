package engine

// Code in this file follows the shape go.uber.org/mock's mockgen produces
// for a small interface; hand-written here (mockgen is part of the build
// toolchain, not run in this exercise) but wired to the same
// gomock.Controller/gomock.Call API so it drops in wherever a generated
// mock would.

import (
	"reflect"
	"time"

	"go.uber.org/mock/gomock"
)

// MockClock is a mock of the Clock interface.
type MockClock struct {
	ctrl     *gomock.Controller
	recorder *MockClockMockRecorder
}

// MockClockMockRecorder is the mock recorder for MockClock.
type MockClockMockRecorder struct {
	mock *MockClock
}

// NewMockClock creates a new mock instance.
func NewMockClock(ctrl *gomock.Controller) *MockClock {
	mock := &MockClock{ctrl: ctrl}
	mock.recorder = &MockClockMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockClock) EXPECT() *MockClockMockRecorder {
	return m.recorder
}

// NewTicker mocks base method.
func (m *MockClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "NewTicker", d)
	ret0, _ := ret[0].(<-chan time.Time)
	ret1, _ := ret[1].(func())
	return ret0, ret1
}

// NewTicker indicates an expected call of NewTicker.
func (mr *MockClockMockRecorder) NewTicker(d interface{}) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "NewTicker", reflect.TypeOf((*MockClock)(nil).NewTicker), d)
}

// manualClock is a lightweight, channel-driven Clock used by tests that need
// to control tick delivery precisely (e.g. "report worker fell behind")
// without setting up gomock expectations for every tick.
type manualClock struct {
	ticks chan chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{ticks: make(chan chan time.Time, 8)}
}

func (m *manualClock) NewTicker(time.Duration) (<-chan time.Time, func()) {
	c := make(chan time.Time, 1)
	m.ticks <- c
	return c, func() {}
}

// fire sends one tick to every ticker this clock has handed out so far.
func (m *manualClock) fire(at time.Time) {
	n := len(m.ticks)
	tickers := make([]chan time.Time, 0, n)
	for i := 0; i < n; i++ {
		c := <-m.ticks
		tickers = append(tickers, c)
		m.ticks <- c
	}
	for _, c := range tickers {
		select {
		case c <- at:
		default:
		}
	}
}
