package voice

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"
	"go.uber.org/zap"
)

// frameSamples is the per-channel sample count of one 20ms opus frame at 48kHz.
const frameSamples = 960

// DiscordPlatform implements Platform over a discordgo session.
type DiscordPlatform struct {
	session   *discordgo.Session
	converter *AudioConverter
	logger    *zap.Logger
}

// NewDiscordPlatform creates the production voice platform.
func NewDiscordPlatform(session *discordgo.Session, converter *AudioConverter, logger *zap.Logger) *DiscordPlatform {
	return &DiscordPlatform{
		session:   session,
		converter: converter,
		logger:    logger,
	}
}

// UserChannelID resolves the voice channel a user currently occupies.
func (p *DiscordPlatform) UserChannelID(guildID, userID string) string {
	guild, err := p.session.State.Guild(guildID)
	if err != nil || guild == nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

// Join connects to a voice channel without muting or deafening the bot.
func (p *DiscordPlatform) Join(guildID, channelID string) (Conn, error) {
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, err
	}

	return &discordConn{
		guildID:   guildID,
		vc:        vc,
		converter: p.converter,
		logger:    p.logger,
		ssrcUsers: make(map[uint32]string),
		decoders:  make(map[uint32]*opus.Decoder),
		done:      make(chan struct{}),
	}, nil
}

// discordConn wraps a discordgo voice connection with opus decode on the
// receive path and opus encode on the send path.
type discordConn struct {
	guildID   string
	vc        *discordgo.VoiceConnection
	converter *AudioConverter
	logger    *zap.Logger

	listening atomic.Bool
	playing   atomic.Bool

	mu        sync.Mutex
	ssrcUsers map[uint32]string
	decoders  map[uint32]*opus.Decoder

	closeOnce sync.Once
	done      chan struct{}
}

func (c *discordConn) GuildID() string { return c.guildID }

func (c *discordConn) ChannelID() string {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.ChannelID
}

func (c *discordConn) Move(channelID string) error {
	return c.vc.ChangeChannel(channelID, false, false)
}

// Listen starts the opus receive loop. SSRC-to-user mappings come from
// speaking updates; frames whose SSRC has no known user yet are dropped.
func (c *discordConn) Listen(sink FrameSink) error {
	if !c.listening.CompareAndSwap(false, true) {
		return nil
	}

	c.vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		c.mu.Lock()
		c.ssrcUsers[uint32(vs.SSRC)] = vs.UserID
		c.mu.Unlock()
	})

	go c.receiveLoop(sink)
	return nil
}

func (c *discordConn) Listening() bool {
	return c.listening.Load()
}

func (c *discordConn) receiveLoop(sink FrameSink) {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			userID := c.userForSSRC(pkt.SSRC)
			if userID == "" {
				continue
			}
			pcm, err := c.decode(pkt)
			if err != nil {
				c.logger.Debug("Opus decode failed",
					zap.String("guild_id", c.guildID),
					zap.Uint32("ssrc", pkt.SSRC),
					zap.Error(err),
				)
				continue
			}
			sink(Speaker{GuildID: c.guildID, UserID: userID}, pcm)
		}
	}
}

func (c *discordConn) userForSSRC(ssrc uint32) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ssrcUsers[ssrc]
}

func (c *discordConn) decode(pkt *discordgo.Packet) ([]byte, error) {
	c.mu.Lock()
	dec, ok := c.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(SampleRate, Channels)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.decoders[pkt.SSRC] = dec
	}
	c.mu.Unlock()

	pcm := make([]int16, frameSamples*Channels)
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		return nil, err
	}
	return Int16ToBytes(pcm[:n*Channels]), nil
}

// Play decodes the audio file with ffmpeg and streams 20ms opus frames to
// Discord on a background goroutine. Playing reports completion.
func (c *discordConn) Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}

	pcmReader, err := c.converter.ToPCM(ctx, f)
	if err != nil {
		f.Close()
		return err
	}

	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		pcmReader.Close()
		f.Close()
		return err
	}

	c.playing.Store(true)
	go func() {
		defer func() {
			c.playing.Store(false)
			pcmReader.Close()
			f.Close()
		}()

		_ = c.vc.Speaking(true)
		defer func() { _ = c.vc.Speaking(false) }()

		frame := make([]byte, frameSamples*Channels*bytesPerSample)
		pcm := make([]int16, frameSamples*Channels)
		packet := make([]byte, 4000)

		for {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}

			if _, err := io.ReadFull(pcmReader, frame); err != nil {
				// EOF or trailing partial frame ends playback.
				return
			}
			for i := range pcm {
				pcm[i] = int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
			}

			n, err := enc.Encode(pcm, packet)
			if err != nil {
				c.logger.Warn("Opus encode failed", zap.String("guild_id", c.guildID), zap.Error(err))
				return
			}

			out := make([]byte, n)
			copy(out, packet[:n])
			select {
			case c.vc.OpusSend <- out:
			case <-time.After(5 * time.Second):
				c.logger.Warn("Timeout sending audio frame", zap.String("guild_id", c.guildID))
				return
			case <-c.done:
				return
			}
		}
	}()

	return nil
}

func (c *discordConn) Playing() bool {
	return c.playing.Load()
}

func (c *discordConn) Disconnect() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.vc.Disconnect()
}
