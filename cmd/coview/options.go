// ABOUTME: Resolved play and relay settings
// ABOUTME: Turns viper keys into typed options and validates them before anything starts
package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Resonate-Protocol/coview-go/pkg/audio"
	"github.com/Resonate-Protocol/coview-go/pkg/audio/convert"
	"github.com/Resonate-Protocol/coview-go/pkg/tap"
)

// playOptions is everything the play command needs
type playOptions struct {
	Source     string
	Loop       bool
	Backend    string
	Render     audio.Format
	Capture    audio.Format // zero when capture is off
	Period     int
	Tap        tap.Config
	Quality    convert.Quality // room and outbound conversion, off the audio thread
	Server     string
	Discover   bool
	Room       string
	Name       string
	Codec      string
	RoomBuffer int
	TUI        bool
}

// Transmitting reports whether a relay connection is wanted
func (o playOptions) Transmitting() bool {
	return o.Server != "" || o.Discover
}

func loadPlayOptions(v *viper.Viper) (playOptions, error) {
	o := playOptions{
		Source:     v.GetString("file"),
		Loop:       v.GetBool("loop"),
		Backend:    v.GetString("backend"),
		Period:     v.GetInt("period"),
		Server:     v.GetString("server"),
		Discover:   v.GetBool("discover"),
		Room:       v.GetString("room"),
		Name:       v.GetString("name"),
		Codec:      v.GetString("codec"),
		RoomBuffer: v.GetInt("room-buffer-ms"),
		TUI:        !v.GetBool("no-tui"),
	}
	if o.Name == "" {
		o.Name = defaultName("coview")
	}

	rate := v.GetFloat64("rate")
	channels := v.GetInt("channels")
	switch depth := v.GetInt("bit-depth"); depth {
	case 16:
		o.Render = audio.Int16Interleaved(rate, channels)
	case 24:
		o.Render = audio.Format{SampleRate: rate, Channels: channels, BitDepth: 24, Interleaved: true}
	case 32:
		o.Render = audio.Format{SampleRate: rate, Channels: channels, BitDepth: 32, Float: true, Interleaved: true}
	default:
		return o, fmt.Errorf("unsupported bit depth %d (supported: 16, 24, 32)", depth)
	}
	if err := o.Render.Validate(); err != nil {
		return o, err
	}
	if v.GetBool("capture") {
		o.Capture = o.Render
	}

	var err error
	o.Quality, err = convert.ParseQuality(v.GetString("quality"))
	if err != nil {
		return o, err
	}
	hostOutput, err := tap.ParseHostOutput(v.GetString("host-output"))
	if err != nil {
		return o, err
	}
	o.Tap = tap.Config{
		RingBufferMs: v.GetInt("buffer-ms"),
		Quantum:      v.GetInt("quantum"),
		HostOutput:   hostOutput,
	}
	if err := o.Tap.Validate(); err != nil {
		return o, err
	}

	switch o.Codec {
	case "opus", "pcm":
	default:
		return o, fmt.Errorf("unsupported codec %q (supported: opus, pcm)", o.Codec)
	}
	if o.Server != "" && o.Discover {
		return o, fmt.Errorf("--server and --discover are mutually exclusive")
	}
	return o, nil
}

// relayOptions configures the relay command
type relayOptions struct {
	Port int
	Name string
	Room string
	MDNS bool
}

func loadRelayOptions(v *viper.Viper) (relayOptions, error) {
	o := relayOptions{
		Port: v.GetInt("port"),
		Name: v.GetString("name"),
		Room: v.GetString("room"),
		MDNS: !v.GetBool("no-mdns"),
	}
	if o.Port <= 0 || o.Port > 65535 {
		return o, fmt.Errorf("invalid port %d", o.Port)
	}
	if o.Name == "" {
		o.Name = defaultName("coview-relay")
	}
	return o, nil
}
