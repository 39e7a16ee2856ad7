package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shzanya/verificationBot/pkg/audio"
)

var _ audio.Connection = (*Connection)(nil)

const (
	inputChannelBuffer  = 256
	outputChannelBuffer = 64
)

// Connection adapts a discordgo.VoiceConnection to [audio.Connection].
//
// Incoming Opus packets are decoded per SSRC and delivered on input streams
// keyed by Discord user ID. The SSRC to user mapping is learnt from voice
// speaking updates; packets from an SSRC that has not been announced yet are
// keyed by the SSRC itself.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.AudioFrame
	ssrcUser map[uint32]string

	output chan audio.AudioFrame

	changeCb func(audio.Event)
	changeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func()

	// disconnectVC defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Connection {
	c := &Connection{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.AudioFrame),
		ssrcUser:     make(map[uint32]string),
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()
	go c.sendLoop()
	return c
}

// ChannelID returns the voice channel the connection is joined to.
func (c *Connection) ChannelID() string {
	return c.vc.ChannelID
}

// InputStreams returns a snapshot of the per-participant input channels.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OutputStream returns the channel for prompt audio.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// OnParticipantChange registers cb for participant join/leave events.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect leaves the voice channel and closes every input stream.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return err
}

// mapSSRC records which user is transmitting on ssrc.
func (c *Connection) mapSSRC(ssrc uint32, userID string) {
	if userID == "" {
		return
	}
	c.inputsMu.Lock()
	c.ssrcUser[ssrc] = userID
	c.inputsMu.Unlock()
}

// participantFor returns the stream key for ssrc.
func (c *Connection) participantFor(ssrc uint32) string {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	if id, ok := c.ssrcUser[ssrc]; ok {
		return id
	}
	return strconv.FormatUint(uint64(ssrc), 10)
}

// streamFor returns the input channel for id, creating it if needed. The
// second result reports whether the channel was newly created.
func (c *Connection) streamFor(id string) (chan audio.AudioFrame, bool) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()
	select {
	case <-c.done:
		return nil, false
	default:
	}
	ch, ok := c.inputs[id]
	if !ok {
		ch = make(chan audio.AudioFrame, inputChannelBuffer)
		c.inputs[id] = ch
	}
	return ch, !ok
}

func (c *Connection) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Debug("discord: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			id := c.participantFor(pkt.SSRC)
			ch, created := c.streamFor(id)
			if ch == nil {
				return
			}
			if created {
				slog.Debug("discord: new input stream", "participant_id", id, "ssrc", pkt.SSRC)
			}

			frame := audio.AudioFrame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			// Disconnect closes done before taking the write lock, so an open
			// done observed under the read lock means ch is still open.
			c.inputsMu.RLock()
			select {
			case <-c.done:
				c.inputsMu.RUnlock()
				return
			default:
			}
			select {
			case ch <- frame:
			default:
				// Consumer is behind; drop rather than stall every speaker.
			}
			c.inputsMu.RUnlock()
		}
	}
}

// sendLoop encodes prompt PCM into 20 ms Opus packets. Frames that are not in
// Discord's wire format are dropped; the playback path transcodes up front.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "err", err)
		return
	}

	var (
		buf         []byte
		speaking    bool
		warnedOnce  sync.Once
		idleTimeout = time.NewTimer(time.Hour)
	)
	idleTimeout.Stop()
	defer idleTimeout.Stop()

	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case <-idleTimeout.C:
			// Flush a trailing partial frame padded with silence.
			if len(buf) > 0 {
				padded := make([]byte, opusFrameBytes)
				copy(padded, buf)
				buf = buf[:0]
				c.sendFrame(enc, padded)
			}
			if speaking {
				c.setSpeaking(false)
				speaking = false
			}
		case frame := <-c.output:
			if !audio.DiscordFormat.Matches(frame) || len(frame.Data)%2 != 0 {
				warnedOnce.Do(func() {
					slog.Warn("discord: dropping output frame in unexpected format",
						"sample_rate", frame.SampleRate, "channels", frame.Channels, "bytes", len(frame.Data))
				})
				continue
			}
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}
			buf = append(buf, frame.Data...)
			for len(buf) >= opusFrameBytes {
				if !c.sendFrame(enc, buf[:opusFrameBytes]) {
					return
				}
				buf = buf[opusFrameBytes:]
			}
			idleTimeout.Reset(100 * time.Millisecond)
		}
	}
}

// sendFrame encodes and transmits one frame. It returns false once the
// connection is closing.
func (c *Connection) sendFrame(enc *opusEncoder, pcm []byte) bool {
	packet, err := enc.encode(pcm)
	if err != nil {
		slog.Warn("discord: opus encode error", "err", err)
		return true
	}
	select {
	case c.vc.OpusSend <- packet:
		return true
	case <-c.done:
		return false
	}
}

// handleSpeakingUpdate learns the SSRC of each speaking user.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.SSRC <= 0 {
		return
	}
	c.mapSSRC(uint32(vs.SSRC), vs.UserID)
}

// handleVoiceStateUpdate turns guild voice state changes into join and leave
// events for this connection's channel.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}
	channelID := c.vc.ChannelID

	username := ""
	if vsu.Member != nil && vsu.Member.User != nil {
		username = vsu.Member.User.Username
	}

	wasHere := vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID
	isHere := vsu.ChannelID == channelID

	switch {
	case wasHere && !isHere:
		c.emitEvent(audio.Event{Type: audio.EventLeave, UserID: vsu.UserID, Username: username})
	case isHere && !wasHere:
		c.emitEvent(audio.Event{Type: audio.EventJoin, UserID: vsu.UserID, Username: username})
	}
}

func (c *Connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "speaking", b, "err", err)
	}
}

func (c *Connection) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
