package voice

import (
	"context"
	"sync"

	"github.com/ent0n29/agentconsole/internal/reliability"
)

// MicConstraints are the capture settings requested for the transcription channel.
type MicConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

func DefaultMicConstraints() MicConstraints {
	return MicConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

type AudioFrame struct {
	AudioBase64 string
	SampleRate  int
	Commit      bool
}

// AudioSource yields captured frames until the microphone is released.
type AudioSource interface {
	Frames() <-chan AudioFrame
}

// Microphone is an exclusive capture device. Only the most recent acquirer owns it.
type Microphone interface {
	// Permit checks capture permission without acquiring the device.
	Permit(ctx context.Context) error
	Acquire(ctx context.Context, owner string, constraints MicConstraints) (AudioSource, error)
	// Release is a no-op unless owner currently holds the device.
	Release(owner string)
}

const micFrameBuffer = 64

// PushMicrophone is fed by an attached audio client. Permission is granted while
// at least one client is attached, or always when autoGrant is set.
type PushMicrophone struct {
	mu          sync.Mutex
	autoGrant   bool
	attached    int
	owner       string
	constraints MicConstraints
	frames      chan AudioFrame
	dropped     uint64
}

func NewPushMicrophone(autoGrant bool) *PushMicrophone {
	return &PushMicrophone{autoGrant: autoGrant}
}

// Attach registers an audio client. The returned func detaches it.
func (m *PushMicrophone) Attach() func() {
	m.mu.Lock()
	m.attached++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.attached--
		})
	}
}

func (m *PushMicrophone) Permit(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permitLocked()
}

func (m *PushMicrophone) permitLocked() error {
	if m.autoGrant || m.attached > 0 {
		return nil
	}
	return reliability.PermissionError("microphone", "no audio client attached")
}

func (m *PushMicrophone) Acquire(_ context.Context, owner string, constraints MicConstraints) (AudioSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.permitLocked(); err != nil {
		return nil, err
	}
	if m.frames != nil {
		close(m.frames)
	}
	m.owner = owner
	m.constraints = constraints
	m.frames = make(chan AudioFrame, micFrameBuffer)
	return pushSource{frames: m.frames}, nil
}

func (m *PushMicrophone) Release(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner == "" || owner != m.owner {
		return
	}
	close(m.frames)
	m.frames = nil
	m.owner = ""
}

// Push hands a frame to the current owner. It reports false when nobody owns
// the device or the owner is not keeping up.
func (m *PushMicrophone) Push(frame AudioFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		return false
	}
	select {
	case m.frames <- frame:
		return true
	default:
		m.dropped++
		return false
	}
}

// Owner returns the current owner token, or "".
func (m *PushMicrophone) Owner() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

func (m *PushMicrophone) Constraints() MicConstraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.constraints
}

func (m *PushMicrophone) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

type pushSource struct {
	frames chan AudioFrame
}

func (s pushSource) Frames() <-chan AudioFrame { return s.frames }
