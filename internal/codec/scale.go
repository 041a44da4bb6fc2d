package codec

import (
	"fmt"
	"strconv"
	"strings"

	astiav "github.com/asticode/go-astiav"
)

// scaler converts decoded frames of a fixed source geometry to packed BGR24
// at a configured target geometry. Rebuilt lazily if the source geometry
// changes (e.g. after a camera reconnect at a different resolution).
type scaler struct {
	ssc  *astiav.SoftwareScaleContext
	dst  *astiav.Frame
	srcW int
	srcH int
	srcP astiav.PixelFormat
	dstW int
	dstH int
}

// newScaler builds a scaler for src's geometry, targeting dstExpr
// ("-1:-1" keeps source size; "W:-1" keeps aspect ratio at width W).
func newScaler(src *astiav.Frame, dstExpr string) (*scaler, error) {
	s := &scaler{}
	if err := s.rebuild(src, dstExpr); err != nil {
		return nil, err
	}
	return s, nil
}

func parseScaleExpr(expr string, srcW, srcH int) (int, int) {
	if expr == "" {
		return srcW, srcH
	}
	parts := strings.SplitN(expr, ":", 2)
	if len(parts) != 2 {
		return srcW, srcH
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || w <= 0 {
		w = srcW
	}
	if errH != nil || h <= 0 {
		if w != srcW && srcW > 0 {
			h = srcH * w / srcW
		} else {
			h = srcH
		}
	}
	return w, h
}

func (s *scaler) rebuild(src *astiav.Frame, dstExpr string) error {
	sw, sh := src.Width(), src.Height()
	sp := src.PixelFormat()
	dw, dh := parseScaleExpr(dstExpr, sw, sh)

	ssc, err := astiav.CreateSoftwareScaleContext(
		sw, sh, sp,
		dw, dh, astiav.PixelFormatBgr24,
		astiav.NewSoftwareScaleContextFlags(),
	)
	if err != nil {
		return fmt.Errorf("codec: create scale context (%dx%d %v -> %dx%d bgr24): %w", sw, sh, sp, dw, dh, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(dw)
	dst.SetHeight(dh)
	dst.SetPixelFormat(astiav.PixelFormatBgr24)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("codec: scale dst alloc buffer: %w", err)
	}

	s.close()
	s.ssc, s.dst = ssc, dst
	s.srcW, s.srcH, s.srcP = sw, sh, sp
	s.dstW, s.dstH = dw, dh
	return nil
}

func (s *scaler) convert(src *astiav.Frame) (int, int, []byte, error) {
	if src.Width() != s.srcW || src.Height() != s.srcH || src.PixelFormat() != s.srcP {
		if err := s.rebuild(src, fmt.Sprintf("%d:%d", s.dstW, s.dstH)); err != nil {
			return 0, 0, nil, err
		}
	}
	if err := s.ssc.ScaleFrame(src, s.dst); err != nil {
		return 0, 0, nil, fmt.Errorf("codec: scale frame: %w", err)
	}
	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("codec: image buffer size: %w", err)
	}
	out := make([]byte, n)
	if _, err := s.dst.ImageCopyToBuffer(out, 1); err != nil {
		return 0, 0, nil, fmt.Errorf("codec: image copy to buffer: %w", err)
	}
	return s.dstW, s.dstH, out, nil
}

func (s *scaler) close() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}
