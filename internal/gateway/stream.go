package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/roach88/classwatch/internal/ir"
	"github.com/roach88/classwatch/internal/providers"
)

// stream serves an MJPEG feed of the latest frame, annotated with the latest
// association when there is one. Every read goes through engine queries.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		data, err := s.snapshot(ctx)
		switch {
		case err == nil:
			if err := writePart(w, data); err != nil {
				return
			}
			flusher.Flush()
		case !errors.Is(err, errNoFrame):
			s.logger.Warn("stream frame", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var errNoFrame = errors.New("no frame captured yet")

// snapshot encodes the current frame as JPEG, overlaid with the latest
// association through Renderer._overlay when it found anyone.
func (s *Server) snapshot(ctx context.Context) ([]byte, error) {
	latest, err := s.eng.Query(ctx, "Camera", "_latest", nil)
	if err != nil {
		return nil, err
	}
	frame, ok := latest.GetString("frame")
	if !ok {
		return nil, errNoFrame
	}
	got, err := s.eng.Query(ctx, "Camera", "_getFrame", ir.IRObject{"frame": ir.IRString(frame)})
	if err != nil {
		return nil, err
	}
	data, ok := got["data"]
	if !ok {
		return nil, errNoFrame
	}

	assoc, err := s.eng.Query(ctx, "Associator", "_latest", nil)
	if err != nil {
		return nil, err
	}
	persons := arrayOrEmpty(assoc, "persons")
	phones := arrayOrEmpty(assoc, "phones")
	if len(persons) > 0 || len(phones) > 0 {
		in := ir.IRObject{
			"img":     data,
			"persons": persons,
			"phones":  phones,
			"matches": arrayOrEmpty(assoc, "matches"),
			"using":   arrayOrEmpty(assoc, "using"),
		}
		out, err := s.eng.Query(ctx, "Renderer", "_overlay", in)
		if err != nil {
			return nil, err
		}
		jpg, ok := out.GetBytes("image")
		if !ok {
			return nil, errors.New("gateway: Renderer._overlay returned no image")
		}
		return jpg, nil
	}

	img, err := providers.ImageFromRef(data)
	if err != nil {
		return nil, err
	}
	return providers.EncodeJPEG(img, providers.RawQuality)
}

func arrayOrEmpty(obj ir.IRObject, key string) ir.IRArray {
	if arr, ok := obj.GetArray(key); ok {
		return arr
	}
	return ir.IRArray{}
}

func writePart(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(data))
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\r\n"))
	return err
}
