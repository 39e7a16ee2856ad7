package discord

import (
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shzanya/verificationBot/pkg/audio"
)

// Opus silence frame.
var silenceOpus = []byte{0xF8, 0xFF, 0xFE}

// newTestConnection builds a Connection around fake Opus channels, without a
// voice websocket.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	vc := &discordgo.VoiceConnection{
		ChannelID: "voice-1",
		OpusSend:  make(chan []byte, 16),
		OpusRecv:  make(chan *discordgo.Packet, 16),
	}
	c := &Connection{
		vc:           vc,
		session:      &discordgo.Session{},
		guildID:      "guild-test",
		inputs:       make(map[string]chan audio.AudioFrame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: func() error { return nil },
	}
	go c.recvLoop()
	go c.sendLoop()
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func waitForStreams(t *testing.T, c *Connection, n int) map[string]<-chan audio.AudioFrame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s := c.InputStreams(); len(s) >= n {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d input streams, have %d", n, len(c.InputStreams()))
	return nil
}

func TestNewPlatform(t *testing.T) {
	t.Parallel()

	s := &discordgo.Session{}
	p := New(s, "guild-123")
	if p.session != s {
		t.Error("session not stored")
	}
	if p.guildID != "guild-123" {
		t.Errorf("guildID = %q, want %q", p.guildID, "guild-123")
	}
}

func TestConnection_ChannelID(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	if got := c.ChannelID(); got != "voice-1" {
		t.Errorf("ChannelID() = %q, want %q", got, "voice-1")
	}
}

func TestConnection_DisconnectIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	for i := range 3 {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("Disconnect[%d]: unexpected error: %v", i, err)
		}
	}
}

func TestConnection_RecvKeyedBySSRCUntilMapped(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 100, Opus: silenceOpus}

	streams := waitForStreams(t, c, 1)
	if _, ok := streams["100"]; !ok {
		t.Fatalf("InputStreams = %v, want key %q", streams, "100")
	}
}

func TestConnection_RecvKeyedByUserAfterSpeakingUpdate(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.handleSpeakingUpdate(nil, &discordgo.VoiceSpeakingUpdate{UserID: "user-a", SSRC: 200, Speaking: true})
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 200, Opus: silenceOpus}

	streams := waitForStreams(t, c, 1)
	ch, ok := streams["user-a"]
	if !ok {
		t.Fatalf("InputStreams = %v, want key %q", streams, "user-a")
	}
	select {
	case frame := <-ch:
		if frame.SampleRate != opusSampleRate || frame.Channels != opusChannels {
			t.Errorf("frame format = %d/%d, want %d/%d", frame.SampleRate, frame.Channels, opusSampleRate, opusChannels)
		}
		if len(frame.Data) != opusFrameBytes {
			t.Errorf("frame bytes = %d, want %d", len(frame.Data), opusFrameBytes)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestConnection_DisconnectClosesInputs(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.vc.OpusRecv <- &discordgo.Packet{SSRC: 7, Opus: silenceOpus}
	streams := waitForStreams(t, c, 1)

	_ = c.Disconnect()

	ch := streams["7"]
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("input stream not closed after Disconnect")
		}
	}
}

func TestConnection_SendEncodes(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.OutputStream() <- audio.AudioFrame{
		Data:       make([]byte, opusFrameBytes),
		SampleRate: opusSampleRate,
		Channels:   opusChannels,
	}

	select {
	case packet := <-c.vc.OpusSend:
		if len(packet) == 0 {
			t.Error("received empty Opus packet")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Opus packet")
	}
}

func TestConnection_SendDropsWrongFormat(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	c.OutputStream() <- audio.AudioFrame{
		Data:       make([]byte, opusFrameBytes),
		SampleRate: 16000,
		Channels:   1,
	}

	select {
	case <-c.vc.OpusSend:
		t.Fatal("frame in wrong format should not be sent")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestConnection_ParticipantEvents(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	events := make(chan audio.Event, 4)
	c.OnParticipantChange(func(ev audio.Event) { events <- ev })

	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "guild-test", UserID: "u1", ChannelID: "voice-1"},
	})
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{GuildID: "guild-test", UserID: "u1", ChannelID: ""},
		BeforeUpdate: &discordgo.VoiceState{GuildID: "guild-test", UserID: "u1", ChannelID: "voice-1"},
	})
	// Other guild: ignored.
	c.handleVoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{GuildID: "other", UserID: "u2", ChannelID: "voice-1"},
	})

	got := map[audio.EventType]string{}
	for range 2 {
		select {
		case ev := <-events:
			got[ev.Type] = ev.UserID
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	if got[audio.EventJoin] != "u1" || got[audio.EventLeave] != "u1" {
		t.Errorf("events = %v, want join and leave for u1", got)
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnection_ConcurrentDisconnect(t *testing.T) {
	t.Parallel()

	c := newTestConnection(t)
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = c.Disconnect()
		})
	}
	wg.Wait()
}
