package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"streamcast/internal/core/ports"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const pliInterval = 3 * time.Second

// Config mirrors the relay-independent transport knobs of a client
// connection.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory builds Pion-backed peer connections. One factory serves a whole
// session; connections share the media engine and interceptor setup.
type Factory struct {
	config Config
	logger *zap.SugaredLogger
}

func NewFactory(config Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{config: config, logger: logger}
}

// signalEnvelope is the opaque payload the relay forwards verbatim. Both
// ends of a connection speak it; the relay never inspects it.
type signalEnvelope struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Peer is one negotiation-capable link toward a remote. The initiator
// side creates the offer as soon as the connection object exists; the
// responder waits for it. Remote candidates arriving before the remote
// description are queued, Pion rejects them otherwise.
type Peer struct {
	pc     *webrtc.PeerConnection
	cb     ports.PeerConnectionCallbacks
	logger *zap.SugaredLogger

	mu            sync.Mutex
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	tracks        []*webrtc.TrackRemote

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a connection. Initiators attach localTracks and open with an
// offer; responders register recvonly transceivers and answer.
func (f *Factory) New(ctx context.Context, initiator bool, localTracks []webrtc.TrackLocal, cb ports.PeerConnectionCallbacks) (ports.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	if f.config.PortRange.Min > 0 && f.config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.config.PortRange.Min, f.config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: f.config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:     pc,
		cb:     cb,
		logger: f.logger,
		done:   make(chan struct{}),
	}

	if initiator {
		for _, track := range localTracks {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
		}
	} else {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.emit(signalEnvelope{Type: "candidate", Candidate: &init})
	})

	pc.OnTrack(p.handleTrack)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Debugw("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			p.close(errors.New("peer connection failed"))
		case webrtc.PeerConnectionStateClosed:
			p.close(nil)
		}
	})

	if initiator {
		go func() {
			if err := p.sendOffer(); err != nil {
				p.logger.Errorw("offer failed", "error", err)
				p.close(err)
			}
		}()
	}

	return p, nil
}

// HandleSignal feeds one relayed payload into the connection.
func (p *Peer) HandleSignal(data json.RawMessage) error {
	var env signalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}

	switch env.Type {
	case "offer":
		return p.handleOffer(env.SDP)
	case "answer":
		return p.handleAnswer(env.SDP)
	case "candidate":
		if env.Candidate == nil {
			return errors.New("candidate signal without candidate")
		}
		return p.addCandidate(*env.Candidate)
	default:
		return fmt.Errorf("unknown signal type %q", env.Type)
	}
}

func (p *Peer) sendOffer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.emit(signalEnvelope{Type: "offer", SDP: offer.SDP})
	return nil
}

func (p *Peer) handleOffer(sdp string) error {
	if err := p.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.emit(signalEnvelope{Type: "answer", SDP: answer.SDP})
	return nil
}

func (p *Peer) handleAnswer(sdp string) error {
	return p.setRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *Peer) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	p.mu.Lock()
	p.remoteDescSet = true
	queued := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range queued {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Warnw("queued ice candidate rejected", "error", err)
		}
	}
	return nil
}

func (p *Peer) addCandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.remoteDescSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) emit(env signalEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Errorw("encode signal", "error", err)
		return
	}
	p.cb.OnSignal(data)
}

// handleTrack surfaces each arriving remote track as media and keeps
// every track drained so the interceptor chain sees the packet flow.
// OnMedia gets a fresh snapshot per track, so a camera+microphone sender
// yields a stream that grows to both kinds as they negotiate. Video
// tracks additionally get a PLI keepalive so the sender refreshes
// keyframes after loss.
func (p *Peer) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	p.logger.Infow("remote track arrived",
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
		"ssrc", track.SSRC(),
	)

	p.mu.Lock()
	p.tracks = append(p.tracks, track)
	snapshot := make([]*webrtc.TrackRemote, len(p.tracks))
	copy(snapshot, p.tracks)
	p.mu.Unlock()

	if p.cb.OnMedia != nil {
		p.cb.OnMedia(&ports.RemoteStream{Tracks: snapshot})
	}

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go p.pliLoop(track)
	}
	go p.drainTrack(track)
}

func (p *Peer) pliLoop(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				return
			}
		}
	}
}

func (p *Peer) drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	pkt := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			p.logger.Debugw("malformed rtp packet", "error", err)
		}
	}
}

func (p *Peer) close(cause error) {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.cb.OnClose != nil {
			p.cb.OnClose(cause)
		}
	})
}

// Close tears the connection down without firing OnClose; owners call it
// when they already know the peer is gone.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return p.pc.Close()
}
