package decode

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	astiav "github.com/asticode/go-astiav"

	"github.com/e7canasta/kmsplay/internal/errs"
	"github.com/e7canasta/kmsplay/internal/framepool"
)

// OpenConfig carries the subset of startup configuration Open needs
// (spec.md §6): whether to try hardware decode first, the consecutive
// failure threshold before falling back, and the dimension ceiling that
// turns an oversized stream into a configuration error rather than a
// runtime one.
type OpenConfig struct {
	PreferHardware    bool
	MaxDecodeAttempts int
	MaxWidth          int
	MaxHeight         int

	// FirstFrameTimeout bounds the start-up decode of the first frame
	// (spec.md §5, default 5s). Zero disables the deadline.
	FirstFrameTimeout time.Duration
}

// Stream is a decoding session bound to one media source (spec.md §3).
type Stream struct {
	source string
	cfg    OpenConfig

	formatCtx *astiav.FormatContext
	codecCtx  *astiav.CodecContext
	streamIdx int
	frame     *astiav.Frame
	packet    *astiav.Packet

	state State

	usingHardware      bool
	consecutiveHWFails int
	hwDevice           *astiav.HardwareDeviceContext

	// swFrame receives the CPU-side copy of a hardware-decoded frame; see
	// copyFrameIntoSlot's hardware path.
	swFrame *astiav.Frame

	// firstFrameDeadline bounds the start-up decode of the very first
	// frame (spec.md §5): once armed, NextFrame transitions the stream to
	// StateBroken if no frame has arrived by this time. Zero once the
	// first frame has been produced.
	firstFrameDeadline time.Time

	Width, Height int
}

// Open implements C4's open contract: opens the media source, selects the
// first video stream, and configures the codec context for hardware
// decode (if preferred) or software decode with slice+frame threading.
func Open(source string, cfg OpenConfig) (*Stream, error) {
	s := &Stream{source: source, cfg: cfg, state: StateOpening}

	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errs.New(errs.CategoryConfiguration, "decode: allocate format context")
	}

	if err := fc.OpenInput(source, nil, nil); err != nil {
		fc.Free()
		return nil, errs.New(errs.CategoryConfiguration, "decode: cannot open %q: %w", source, err)
	}
	if err := fc.FindStreamInfo(nil); err != nil {
		fc.CloseInput()
		fc.Free()
		return nil, errs.New(errs.CategoryConfiguration, "decode: find stream info: %w", err)
	}

	videoIdx := -1
	for i, st := range fc.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			videoIdx = i
			break
		}
	}
	if videoIdx < 0 {
		fc.CloseInput()
		fc.Free()
		return nil, errs.New(errs.CategoryConfiguration, "decode: no video track in %q", source)
	}

	vst := fc.Streams()[videoIdx]
	par := vst.CodecParameters()

	if int(par.Width()) > cfg.MaxWidth || int(par.Height()) > cfg.MaxHeight {
		fc.CloseInput()
		fc.Free()
		return nil, errs.New(errs.CategoryConfiguration, "decode: %dx%d exceeds configured max %dx%d",
			par.Width(), par.Height(), cfg.MaxWidth, cfg.MaxHeight)
	}

	s.formatCtx = fc
	s.streamIdx = videoIdx
	s.Width, s.Height = int(par.Width()), int(par.Height())
	s.frame = astiav.AllocFrame()
	s.packet = astiav.AllocPacket()
	s.swFrame = astiav.AllocFrame()

	if err := s.openCodecContext(cfg.PreferHardware); err != nil {
		s.Close()
		return nil, errs.New(errs.CategoryConfiguration, "decode: codec_unsupported: %w", err)
	}

	if cfg.FirstFrameTimeout > 0 {
		s.firstFrameDeadline = time.Now().Add(cfg.FirstFrameTimeout)
	}

	s.state = StateDraining
	return s, nil
}

// openCodecContext (re)opens the codec context, attempting hardware decode
// first when preferHardware is true, matching spec.md §4.2's fallback
// order. On any failure to construct the hardware path it silently
// continues in software — the hardware-vs-software decision only becomes
// externally observable through consecutive per-frame decode failures
// (handled by recordHardwareFailure), not through construction errors,
// since a missing hardware device is the common case on unfamiliar
// hardware and must not be fatal.
func (s *Stream) openCodecContext(preferHardware bool) error {
	vst := s.formatCtx.Streams()[s.streamIdx]
	par := vst.CodecParameters()

	dec := astiav.FindDecoder(par.CodecID())
	if dec == nil {
		return fmt.Errorf("no decoder for codec id %v", par.CodecID())
	}
	ctx := astiav.AllocCodecContext(dec)
	if ctx == nil {
		return errors.New("allocate codec context")
	}
	if err := par.ToCodecContext(ctx); err != nil {
		ctx.Free()
		return fmt.Errorf("codec parameters to context: %w", err)
	}

	opts := astiav.NewDictionary()
	defer opts.Free()

	s.usingHardware = false
	if preferHardware {
		if hwCtx, err := astiav.CreateHardwareDeviceContext(astiav.HardwareDeviceTypeVAAPI, "", nil, 0); err == nil {
			ctx.SetHardwareDeviceContext(hwCtx)
			s.hwDevice = hwCtx
			s.usingHardware = true
		}
	}

	if !s.usingHardware {
		// Software mode: slice + frame parallel threading, using every
		// CPU core available to the process, per spec.md §4.2's
		// threading hint.
		ctx.SetThreadCount(runtime.NumCPU())
		ctx.SetThreadType(astiav.NewThreadType(astiav.ThreadTypeSlice, astiav.ThreadTypeFrame))
	}

	if err := ctx.Open(dec, opts); err != nil {
		ctx.Free()
		return fmt.Errorf("open codec: %w", err)
	}

	if s.codecCtx != nil {
		s.codecCtx.Free()
	}
	s.codecCtx = ctx
	return nil
}

// fallbackToSoftware tears down the hardware decode path and reopens the
// same codec in software mode, resuming from the next keyframe (spec.md
// §4.2): FFmpeg decoders naturally discard non-keyframe packets after a
// context reset until the next IDR arrives, so no explicit seek is
// needed here.
func (s *Stream) fallbackToSoftware() error {
	if s.hwDevice != nil {
		s.hwDevice.Free()
		s.hwDevice = nil
	}
	s.consecutiveHWFails = 0
	return s.openCodecContext(false)
}

// recordHardwareFailure implements the bounded consecutive-failure
// counter of spec.md §4.2: after MaxDecodeAttempts consecutive hardware
// failures, tear down and fall back to software.
func (s *Stream) recordHardwareFailure() error {
	s.consecutiveHWFails++
	if s.consecutiveHWFails < s.cfg.MaxDecodeAttempts {
		return nil
	}
	return s.fallbackToSoftware()
}

// NextFrame implements C4's per-call contract, copying the decoded planes
// into outSlot on ResultOK.
func (s *Stream) NextFrame(outSlot *framepool.Slot) (Result, error) {
	if s.state == StateEnded || s.state == StateBroken {
		return resultFor(s.state), nil
	}

	if !s.firstFrameDeadline.IsZero() && time.Now().After(s.firstFrameDeadline) {
		s.state = transition(s.state, ResultFatal)
		return ResultFatal, fmt.Errorf("decode: first frame not received within the configured deadline")
	}

	if err := s.formatCtx.ReadFrame(s.packet); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			s.state = transition(s.state, ResultEOF)
			return ResultEOF, nil
		}
		s.state = transition(s.state, ResultFatal)
		return ResultFatal, fmt.Errorf("read frame: %w", err)
	}
	defer s.packet.Unref()

	if s.packet.StreamIndex() != s.streamIdx {
		s.state = transition(s.state, ResultRetry)
		return ResultRetry, nil
	}

	if err := s.codecCtx.SendPacket(s.packet); err != nil && !errors.Is(err, astiav.ErrEagain) {
		if s.usingHardware {
			if fbErr := s.recordHardwareFailure(); fbErr != nil {
				s.state = transition(s.state, ResultFatal)
				return ResultFatal, fmt.Errorf("hardware fallback failed: %w", fbErr)
			}
			s.state = transition(s.state, ResultRetry)
			return ResultRetry, nil
		}
		s.state = transition(s.state, ResultFatal)
		return ResultFatal, fmt.Errorf("send packet: %w", err)
	}

	if err := s.codecCtx.ReceiveFrame(s.frame); err != nil {
		if errors.Is(err, astiav.ErrEagain) {
			s.state = transition(s.state, ResultRetry)
			return ResultRetry, nil
		}
		if errors.Is(err, astiav.ErrEof) {
			s.state = transition(s.state, ResultEOF)
			return ResultEOF, nil
		}
		if s.usingHardware {
			if fbErr := s.recordHardwareFailure(); fbErr != nil {
				s.state = transition(s.state, ResultFatal)
				return ResultFatal, fmt.Errorf("hardware fallback failed: %w", fbErr)
			}
			s.state = transition(s.state, ResultRetry)
			return ResultRetry, nil
		}
		s.state = transition(s.state, ResultFatal)
		return ResultFatal, fmt.Errorf("receive frame: %w", err)
	}
	defer s.frame.Unref()

	// A successful hardware decode resets the failure streak.
	s.consecutiveHWFails = 0

	src := s.frame
	if s.usingHardware {
		// A VAAPI decode leaves s.frame holding a hardware surface handle,
		// not CPU-readable YUV420 planes: pull the picture down into
		// swFrame with av_hwframe_transfer_data before the stride copy can
		// touch it.
		if err := s.frame.TransferHWFrameData(s.swFrame); err != nil {
			if fbErr := s.recordHardwareFailure(); fbErr != nil {
				s.state = transition(s.state, ResultFatal)
				return ResultFatal, fmt.Errorf("hardware fallback failed: %w", fbErr)
			}
			s.state = transition(s.state, ResultRetry)
			return ResultRetry, nil
		}
		defer s.swFrame.Unref()
		src = s.swFrame
	}

	// A successful hardware decode (including the transfer) resets the
	// failure streak.
	s.consecutiveHWFails = 0

	s.Width, s.Height = src.Width(), src.Height()
	if !outSlot.Y.Fits(s.Width, s.Height) {
		// The decoded picture has grown past the slot's headroom (spec.md
		// §3/§4.1's mid-stream resolution-change case). Drop this frame
		// rather than copying it or going fatal: the worker observes the
		// new dimensions via Dimensions() and reallocates the pool before
		// its next attempt.
		s.state = transition(s.state, ResultRetry)
		return ResultRetry, nil
	}

	if err := copyFrameIntoSlot(src, outSlot); err != nil {
		s.state = transition(s.state, ResultFatal)
		return ResultFatal, fmt.Errorf("copy decoded frame: %w", err)
	}
	outSlot.PTS = time.Duration(s.frame.Pts())

	s.firstFrameDeadline = time.Time{}
	s.state = transition(s.state, ResultOK)
	return ResultOK, nil
}

// copyFrameIntoSlot moves the three decoded YUV420 planes into the pool
// slot via the stride-aware copier (C3), enforcing spec.md §3's
// dimension-bound invariant before touching any pool memory.
func copyFrameIntoSlot(frame *astiav.Frame, slot *framepool.Slot) error {
	w, h := frame.Width(), frame.Height()
	cw, ch := (w+1)/2, (h+1)/2

	if !slot.Y.Fits(w, h) || !slot.U.Fits(cw, ch) || !slot.V.Fits(cw, ch) {
		return fmt.Errorf("decoded %dx%d exceeds pool allocation", w, h)
	}

	linesize := frame.Linesize()
	planes := [3]struct {
		plane  *framepool.Plane
		width  int
		height int
		idx    int
	}{
		{&slot.Y, w, h, 0},
		{&slot.U, cw, ch, 1},
		{&slot.V, cw, ch, 2},
	}

	for _, p := range planes {
		src, err := frame.Data().Bytes(p.idx)
		if err != nil {
			return fmt.Errorf("plane %d bytes: %w", p.idx, err)
		}
		srcStride := linesize[p.idx]
		p.plane.Stride = p.plane.AllocWidth
		framepool.CopyPlane(p.plane.Data, p.plane.Stride, src, srcStride, p.width, p.height)
		p.plane.ValidWidth = p.width
		p.plane.ValidHeight = p.height
	}
	return nil
}

// Close releases codec resources per spec.md §4.2.
func (s *Stream) Close() {
	if s.frame != nil {
		s.frame.Free()
	}
	if s.swFrame != nil {
		s.swFrame.Free()
	}
	if s.packet != nil {
		s.packet.Free()
	}
	if s.codecCtx != nil {
		s.codecCtx.Free()
	}
	if s.hwDevice != nil {
		s.hwDevice.Free()
	}
	if s.formatCtx != nil {
		s.formatCtx.CloseInput()
		s.formatCtx.Free()
	}
}

// State returns the decoder's current state-machine state.
func (s *Stream) State() State { return s.state }

// UsingHardware reports whether the stream is currently decoding on the
// hardware path.
func (s *Stream) UsingHardware() bool { return s.usingHardware }

// Dimensions returns the width and height of the most recently decoded
// frame (the opened stream's size until the first frame arrives), updated
// on every NextFrame call that receives a decoded frame — the
// worker polls this to detect a mid-stream resolution change and decide
// whether the pool needs reallocating.
func (s *Stream) Dimensions() (width, height int) { return s.Width, s.Height }

func resultFor(st State) Result {
	switch st {
	case StateEnded:
		return ResultEOF
	case StateBroken:
		return ResultFatal
	default:
		return ResultRetry
	}
}
