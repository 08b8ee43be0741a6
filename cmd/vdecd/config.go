package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/zsiec/vdec/internal/alloc"
	"github.com/zsiec/vdec/internal/component"
	"github.com/zsiec/vdec/internal/session"
)

type config struct {
	srtAddr string
	apiAddr string
	h3Addr  string
	session session.Config
}

// loadConfig reads the daemon settings from the environment. A blank
// H3_ADDR disables the HTTP/3 listener.
func loadConfig(getenv func(string) string) (config, error) {
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := config{
		srtAddr: envOr("SRT_ADDR", ":6000"),
		apiAddr: envOr("API_ADDR", ":4444"),
		h3Addr:  envOr("H3_ADDR", ":4445"),
		session: session.DefaultConfig(),
	}
	if getenv("H3_ADDR") == "off" {
		cfg.h3Addr = ""
	}

	var err error
	if cfg.session.Component.InputBufferCount, err = envInt(envOr, "VDEC_INPUT_BUFFERS", component.DefaultInputBufferCount); err != nil {
		return config{}, err
	}
	if cfg.session.Component.OutputBufferCount, err = envInt(envOr, "VDEC_OUTPUT_BUFFERS", component.DefaultOutputBufferCount); err != nil {
		return config{}, err
	}
	fps, err := strconv.ParseFloat(envOr("VDEC_FRAME_RATE", strconv.FormatFloat(session.DefaultFrameRate, 'f', -1, 64)), 64)
	if err != nil || fps <= 0 {
		return config{}, fmt.Errorf("VDEC_FRAME_RATE: invalid frame rate %q", getenv("VDEC_FRAME_RATE"))
	}
	cfg.session.FrameRate = fps
	if cfg.session.Component.ZeroTimestamps, err = envBool(getenv, "VDEC_TRICK_PLAY"); err != nil {
		return config{}, err
	}
	if cfg.session.MetaBuffers, err = envBool(getenv, "VDEC_META_BUFFERS"); err != nil {
		return config{}, err
	}
	if cfg.session.Component.Allocator, err = alloc.Parse(getenv("VDEC_ALLOCATOR")); err != nil {
		return config{}, fmt.Errorf("VDEC_ALLOCATOR: %w", err)
	}
	return cfg, nil
}

func envBool(getenv func(string) string, key string) (bool, error) {
	v := getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envInt(envOr func(string, string) string, key string, fallback int) (int, error) {
	n, err := strconv.Atoi(envOr(key, strconv.Itoa(fallback)))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer", key)
	}
	return n, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
