package media

import (
	"context"
	"fmt"
	"sync"

	"streamcast/internal/core/domain"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	// Capture drivers register themselves on import.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

// Controller owns the local capture devices for one broadcast session.
// Acquire opens camera and microphone and hands back the encoded tracks;
// Release returns the devices to the OS. Both are safe to call repeatedly.
type Controller struct {
	videoBitrate int
	width        int
	height       int
	logger       *zap.SugaredLogger

	mu     sync.Mutex
	stream mediadevices.MediaStream
}

type Config struct {
	VideoBitrate int // bits per second, 0 means the encoder default
	Width        int
	Height       int
}

func NewController(cfg Config, logger *zap.SugaredLogger) *Controller {
	return &Controller{
		videoBitrate: cfg.VideoBitrate,
		width:        cfg.Width,
		height:       cfg.Height,
		logger:       logger,
	}
}

// Acquire opens the capture devices. A session already holding devices
// gets its existing tracks back.
func (c *Controller) Acquire(ctx context.Context) ([]webrtc.TrackLocal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return c.localTracks(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 encoder: %w", err)
	}
	if c.videoBitrate > 0 {
		vp8Params.BitRate = c.videoBitrate
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8Params),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(constraints *mediadevices.MediaTrackConstraints) {
			if c.width > 0 {
				constraints.Width = prop.Int(c.width)
			}
			if c.height > 0 {
				constraints.Height = prop.Int(c.height)
			}
		},
		Audio: func(constraints *mediadevices.MediaTrackConstraints) {},
		Codec: selector,
	})
	if err != nil {
		c.logger.Warnw("capture device unavailable", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
	}

	c.stream = stream
	tracks := c.localTracks()
	c.logger.Infow("capture devices acquired", "tracks", len(tracks))
	return tracks, nil
}

func (c *Controller) localTracks() []webrtc.TrackLocal {
	tracks := c.stream.GetTracks()
	locals := make([]webrtc.TrackLocal, 0, len(tracks))
	for _, track := range tracks {
		locals = append(locals, track)
	}
	return locals
}

// Release closes the capture devices. Calling it without devices held is
// a no-op.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return
	}
	for _, track := range c.stream.GetTracks() {
		if err := track.Close(); err != nil {
			c.logger.Debugw("track close failed", "track_id", track.ID(), "error", err)
		}
	}
	c.stream = nil
	c.logger.Infow("capture devices released")
}
