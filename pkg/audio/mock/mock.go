// Package mock provides in-memory implementations of [audio.Platform] and
// [audio.Connection] for unit tests.
//
// All mocks are safe for concurrent use. They record calls so tests can assert
// on counts and arguments, and expose fields that control return values.
//
// Typical usage:
//
//	out := make(chan audio.AudioFrame, 16)
//	conn := &mock.Connection{
//	    Channel:      "voice-1",
//	    OutputStreamResult: out,
//	}
//	conn.SetInput("user-1", make(chan audio.AudioFrame))
//	platform := &mock.Platform{ConnectResult: conn}
package mock

import (
	"context"
	"sync"

	"github.com/shzanya/verificationBot/pkg/audio"
)

var (
	_ audio.Connection = (*Connection)(nil)
	_ audio.Platform   = (*Platform)(nil)
)

// Connection is a mock [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// Channel is returned by ChannelID.
	Channel string

	// OutputStreamResult is returned by OutputStream. When nil a buffered
	// channel is created lazily and drained by nobody, so writes beyond its
	// capacity block.
	OutputStreamResult chan<- audio.AudioFrame

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	CallCountInputStreams int
	CallCountDisconnect   int

	inputs    map[string]<-chan audio.AudioFrame
	callbacks []func(audio.Event)
}

// SetInput installs (or replaces) the input stream for participant id.
func (c *Connection) SetInput(id string, ch <-chan audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inputs == nil {
		c.inputs = make(map[string]<-chan audio.AudioFrame)
	}
	c.inputs[id] = ch
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Channel
}

// InputStreams implements [audio.Connection]. It returns a copy of the
// streams installed with SetInput.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OutputStreamResult == nil {
		c.OutputStreamResult = make(chan audio.AudioFrame, 1024)
	}
	return c.OutputStreamResult
}

// OnParticipantChange implements [audio.Connection]. Callbacks accumulate;
// [Connection.EmitEvent] invokes all of them.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// EmitEvent synchronously calls every registered callback with ev.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := make([]func(audio.Event), len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Platform is a mock [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is returned by Connect.
	ConnectError error

	// ConnectCalls records the channel IDs passed to Connect.
	ConnectCalls []string
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, channelID)
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	return p.ConnectResult, nil
}

// Connects returns how many times Connect was called.
func (p *Platform) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}
