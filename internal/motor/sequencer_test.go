package motor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coin-bank/internal/clock"
)

type mockDriver struct {
	mock.Mock
}

func (m *mockDriver) Drive(forward, backward bool, speed uint8) error {
	args := m.Called(forward, backward, speed)
	return args.Error(0)
}

type call struct {
	forward, backward bool
}

// recordingDriver 记录输出序列
type recordingDriver struct {
	calls []call
}

func (r *recordingDriver) Drive(forward, backward bool, _ uint8) error {
	r.calls = append(r.calls, call{forward, backward})
	return nil
}

func TestDefaultSequence(t *testing.T) {
	drv := &recordingDriver{}
	s := NewSequencer(drv, DefaultOptions(), nil)
	require.True(t, s.Start(0))

	var (
		now      clock.Millis
		finished bool
		flipAt   []int
		lastDir  = s.State().Direction
	)
	for i := 0; i < 100000 && !finished; i++ {
		now++
		finished = s.Step(now)
		if st := s.State(); st.Direction != lastDir {
			flipAt = append(flipAt, st.TotalPulses)
			lastDir = st.Direction
		}
	}

	require.True(t, finished)
	st := s.State()
	assert.False(t, st.Running)
	assert.Equal(t, 10, st.TotalPulses)
	assert.Equal(t, 2, st.Sequences)
	assert.Equal(t, 4, st.Flips)
	// 第4个脉冲后反转，序列结束时回正
	assert.Equal(t, []int{4, 5, 9, 10}, flipAt)
	// 第10个脉冲的关断相位结束时停止：10*(100+100)ms
	assert.Equal(t, clock.Millis(2000), now)
	assert.Equal(t, 1, s.Runs())

	// 10次开启 + 10次关断 + 结束时再次切断
	require.Len(t, drv.calls, 21)
	var forward, backward int
	for i, c := range drv.calls {
		if i%2 == 1 || i == 20 {
			assert.Equal(t, call{}, c, "call %d should cut both outputs", i)
			continue
		}
		assert.False(t, c.forward && c.backward)
		if c.forward {
			forward++
		} else {
			backward++
		}
	}
	assert.Equal(t, 8, forward)
	assert.Equal(t, 2, backward)
	assert.Equal(t, call{backward: true}, drv.calls[8])

	// 停止后不再推进
	assert.False(t, s.Step(now+1000))
}

func TestPhaseTiming(t *testing.T) {
	s := NewSequencer(&recordingDriver{}, DefaultOptions(), nil)
	s.Start(1000)

	assert.False(t, s.Step(1099))
	assert.Equal(t, PulseOn, s.State().Pulse)
	s.Step(1100)
	assert.Equal(t, PulseOff, s.State().Pulse)
	s.Step(1199)
	assert.Equal(t, 0, s.State().TotalPulses)
	s.Step(1200)
	assert.Equal(t, 1, s.State().TotalPulses)
	assert.Equal(t, PulseOn, s.State().Pulse)
}

func TestStartWhileRunningIgnored(t *testing.T) {
	s := NewSequencer(&recordingDriver{}, DefaultOptions(), nil)
	assert.True(t, s.Start(0))
	s.Step(100)
	before := s.State()

	assert.False(t, s.Start(150))
	assert.Equal(t, before, s.State())
}

func TestForwardOnlyHasNoFlips(t *testing.T) {
	opts := DefaultOptions()
	opts.BackwardPulses = 0
	opts.Sequences = 1
	s := NewSequencer(&recordingDriver{}, opts, nil)
	s.Start(0)

	var now clock.Millis
	for !s.Step(now) {
		now += 50
	}
	assert.Equal(t, 4, s.State().TotalPulses)
	assert.Equal(t, 0, s.State().Flips)
}

func TestWraparound(t *testing.T) {
	s := NewSequencer(&recordingDriver{}, DefaultOptions(), nil)
	start := clock.Millis(^uint32(0) - 50)
	s.Start(start)

	s.Step(start + 99)
	assert.Equal(t, PulseOn, s.State().Pulse)
	s.Step(start + 100)
	assert.Equal(t, PulseOff, s.State().Pulse)
}

func TestDriveErrorsDoNotStall(t *testing.T) {
	drv := &mockDriver{}
	drv.On("Drive", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bus fault"))

	opts := DefaultOptions()
	opts.Sequences = 1
	s := NewSequencer(drv, opts, nil)
	s.Start(0)

	var now clock.Millis
	for !s.Step(now) {
		now += 100
	}
	assert.Equal(t, 5, s.State().TotalPulses)
	assert.Equal(t, 11, s.DriveErrors())
	drv.AssertNumberOfCalls(t, "Drive", 11)
	drv.AssertCalled(t, "Drive", true, false, FullSpeed)
	drv.AssertCalled(t, "Drive", false, true, FullSpeed)
}

func TestHalt(t *testing.T) {
	drv := &mockDriver{}
	drv.On("Drive", true, false, FullSpeed).Return(nil).Once()
	drv.On("Drive", false, false, uint8(0)).Return(nil).Once()

	s := NewSequencer(drv, DefaultOptions(), nil)
	s.Start(0)
	s.Halt()
	assert.False(t, s.Running())
	s.Halt()
	drv.AssertExpectations(t)
}
