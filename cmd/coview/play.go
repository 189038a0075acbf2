// ABOUTME: play command wiring media, processing tap, device and room together
// ABOUTME: Runs until the source ends, the TUI quits or the process is signalled
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/coview-go/internal/discovery"
	"github.com/Resonate-Protocol/coview-go/internal/transmit"
	"github.com/Resonate-Protocol/coview-go/internal/ui"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/hardware"
	"github.com/Resonate-Protocol/coview-go/pkg/device"
	"github.com/Resonate-Protocol/coview-go/pkg/media"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
)

// discoverTimeout bounds how long play waits for a relay on the network
const discoverTimeout = 10 * time.Second

var playCmd = &cobra.Command{
	Use:   "play [file-or-url]",
	Short: "Play audio through a processing tap",
	Long: `Play an MP3 or FLAC file, an HTTP stream or a test tone through a
processing tap into an audio device. With --server or --discover the
device joins a room: other participants' audio is mixed into the output
and captured audio is sent to them.`,
	Example: `  coview play song.flac --loop
  coview play --backend malgo --capture --server 192.168.1.10:8927 --room movie-night`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			v.Set("file", args[0])
		}
		opts, err := loadPlayOptions(v)
		if err != nil {
			return err
		}

		logs, err := setupLogging(v, !opts.TUI)
		if err != nil {
			return err
		}
		defer logs.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runPlay(ctx, opts)
	},
}

func init() {
	f := playCmd.Flags()
	f.String("file", "", "Audio file or URL (default: test tone)")
	f.Bool("loop", false, "Loop local files")
	f.String("backend", "malgo", "Audio backend: malgo, oto, portaudio, virtual")
	f.Float64("rate", 48000, "Device sample rate")
	f.Int("channels", 2, "Device channels")
	f.Int("bit-depth", 16, "Device sample size: 16, 24 or 32 (float)")
	f.Int("period", hardware.DefaultPeriodFrames, "Hardware period in frames")
	f.Bool("capture", false, "Capture the microphone and send it with the tap's audio")
	f.Int("buffer-ms", tap.DefaultRingBufferMs, "Tap ring buffer per direction in milliseconds")
	f.Int("quantum", 0, "Conversion quantum in frames (default: converter default)")
	f.String("quality", "high", "Sample rate conversion for room and outbound audio: realtime or high")
	f.String("host-output", "mute", "What the tap hands back to the player: mute or passthrough")
	f.String("server", "", "Relay address host:port")
	f.Bool("discover", false, "Find a relay with mDNS")
	f.String("room", "default", "Room to join")
	f.String("name", "", "Participant name (default: hostname-coview)")
	f.String("codec", "opus", "Outbound codec: opus or pcm")
	f.Int("room-buffer-ms", transmit.DefaultRoomBufferMs, "Buffer per remote participant in milliseconds")
	f.Bool("no-tui", false, "Disable TUI, stream logs to stdout")
}

// session holds everything a play run creates, torn down in reverse
type session struct {
	room   *transmit.Room
	client *transmit.Client
	dev    *device.Device
	tap    *tap.Tap
	src    media.Source
	player *media.Player
}

func runPlay(ctx context.Context, opts playOptions) error {
	s := &session{}
	defer s.close()

	if opts.Transmitting() {
		if err := s.joinRoom(ctx, opts); err != nil {
			return err
		}
	}

	backend, err := hardware.New(opts.Backend)
	if err != nil {
		return err
	}
	cfg := device.Config{
		Render:       opts.Render,
		Capture:      opts.Capture,
		Backend:      backend,
		PeriodFrames: opts.Period,
	}
	if s.room != nil {
		cfg.Room = s.room
	}
	if s.client != nil && opts.Capture.Channels > 0 {
		cfg.Sink = s.client
	}
	s.dev, err = device.New(cfg)
	if err != nil {
		return err
	}

	s.tap, err = s.dev.CreateProcessingTap(opts.Tap)
	if err != nil {
		return err
	}
	if err := s.dev.Start(ctx); err != nil {
		return err
	}

	s.src, err = media.Open(opts.Source, opts.Loop)
	if err != nil {
		return err
	}
	s.player, err = media.NewPlayer(s.src, s.tap, media.PlayerConfig{})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	playErr := make(chan error, 1)
	go func() {
		playErr <- s.player.Run(ctx)
		cancel()
	}()

	if opts.TUI {
		if err := ui.Run(ctx, ui.Config{Name: "coview " + opts.Name, Poll: s.snapshot, Controls: s.dev}); err != nil {
			return fmt.Errorf("TUI error: %w", err)
		}
		cancel()
	}
	return <-playErr
}

// joinRoom connects to the relay given by --server or found with mDNS
func (s *session) joinRoom(ctx context.Context, opts playOptions) error {
	addr := opts.Server
	if opts.Discover {
		found, err := discoverRelay(ctx, opts)
		if err != nil {
			return err
		}
		addr = found
	}

	room, err := transmit.NewRoom(transmit.RoomConfig{
		Render:   opts.Render,
		BufferMs: opts.RoomBuffer,
		Quality:  opts.Quality,
	})
	if err != nil {
		return err
	}
	s.room = room

	s.client = transmit.NewClient(transmit.Config{
		ServerAddr: addr,
		Name:       opts.Name,
		Room:       opts.Room,
		Codec:      opts.Codec,
		Quality:    opts.Quality,
		Receiver:   room,
	})
	if err := s.client.Connect(ctx); err != nil {
		s.client = nil
		return fmt.Errorf("connection failed: %w", err)
	}
	log.Printf("Joined room %q on %s", opts.Room, addr)
	return nil
}

func discoverRelay(ctx context.Context, opts playOptions) (string, error) {
	log.Printf("Starting relay discovery...")
	disc := discovery.NewManager(discovery.Config{Room: opts.Room})
	defer disc.Stop()
	disc.Browse()

	select {
	case relay := <-disc.Relays():
		return relay.Addr(), nil
	case <-time.After(discoverTimeout):
		return "", fmt.Errorf("no relay found after %v", discoverTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *session) snapshot() ui.Snapshot {
	var snap ui.Snapshot
	if s.src != nil {
		snap.Title, snap.Artist, _ = s.src.Metadata()
	}
	if s.tap != nil {
		st := s.tap.Stats()
		snap.Tap = &st
	}
	if s.dev != nil {
		st := s.dev.Stats()
		snap.Device = &st
	}
	if s.room != nil {
		st := s.room.Stats()
		snap.Room = &st
	}
	if s.client != nil {
		st := s.client.Stats()
		snap.Client = &st
	}
	if s.player != nil {
		st := s.player.Stats()
		snap.Player = &st
	}
	return snap
}

func (s *session) close() {
	if s.player != nil {
		if err := s.player.Close(); err != nil {
			log.Printf("Error closing source: %v", err)
		}
	} else {
		if s.src != nil {
			s.src.Close()
		}
		if s.tap != nil {
			s.tap.Finalize()
		}
	}
	if s.dev != nil {
		s.dev.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
	if s.room != nil {
		s.room.Close()
	}
	log.Printf("Player stopped")
}
