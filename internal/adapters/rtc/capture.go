package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/call"
	"github.com/lingolive/calls/internal/domain"
)

const (
	oggPageInterval = 20 * time.Millisecond
	opusSampleRate  = 48000
)

// FileCapture plays an ogg/opus file as the local microphone. An empty
// path means no capture source is available, which surfaces as the
// media-acquisition failure the session expects.
type FileCapture struct {
	Path string
	Loop bool
}

func (f *FileCapture) OpenMicrophone(ctx context.Context) (*call.LocalStream, error) {
	if f == nil || f.Path == "" {
		return nil, domain.ErrNoAudioDevice
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoAudioDevice, err)
	}

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrNoAudioDevice, err)
	}

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "mic",
	)
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	track := call.NewLocalAudioTrack("mic0", local)
	go f.pump(ctx, file, ogg, local, track)

	return call.NewLocalStream(track), nil
}

// pump pushes one ogg page per tick, pacing playback by the opus
// granule positions. A muted track keeps consuming pages silently so
// unmute resumes in real time.
func (f *FileCapture) pump(
	ctx context.Context,
	file *os.File,
	ogg *oggreader.OggReader,
	local *webrtc.TrackLocalStaticSample,
	track *call.LocalTrack,
) {
	defer func() { _ = file.Close() }()

	ticker := time.NewTicker(oggPageInterval)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-track.Stopped():
			return
		case <-ticker.C:
		}

		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !f.Loop {
				return
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				log.Warn().Err(err).Str("module", "rtc").Msg("capture rewind")
				return
			}
			ogg, _, err = oggreader.NewWith(file)
			if err != nil {
				log.Warn().Err(err).Str("module", "rtc").Msg("capture reopen")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("capture read")
			return
		}

		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(sampleCount) * time.Second / opusSampleRate

		if !track.Enabled() {
			continue
		}
		if err := local.WriteSample(media.Sample{Data: pageData, Duration: duration}); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("capture write")
			return
		}
	}
}
