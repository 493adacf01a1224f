package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/camview/streamclient/internal/logger"
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

var (
	standbyOnce sync.Once
	standbyData []byte
)

// standbyJPEG renders the color-bar frame shown while a tile has no live
// stream. Encoded once and cached.
func standbyJPEG() []byte {
	standbyOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 640, 480))

		// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
		colors := []color.RGBA{
			{R: 255, G: 255, B: 255, A: 255},
			{R: 255, G: 255, B: 0, A: 255},
			{R: 0, G: 255, B: 255, A: 255},
			{R: 0, G: 255, B: 0, A: 255},
			{R: 255, G: 0, B: 255, A: 255},
			{R: 255, G: 0, B: 0, A: 255},
			{R: 0, G: 0, B: 255, A: 255},
			{R: 0, G: 0, B: 0, A: 255},
		}

		barWidth := 640 / len(colors)
		for y := range 480 {
			for x := range 640 {
				barIndex := x / barWidth
				if barIndex >= len(colors) {
					barIndex = len(colors) - 1
				}
				img.Set(x, y, colors[barIndex])
			}
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
			logger.Error("Viewer", "Failed to encode standby frame: %v", err)
			return
		}
		standbyData = buf.Bytes()
	})
	return standbyData
}

// serveMJPEG re-serves frames from a subscription channel as
// multipart/x-mixed-replace. When no frame arrives within idleInterval the
// standby image keeps the connection alive, so a tile that loses its camera
// shows color bars instead of a frozen last frame.
func serveMJPEG(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte, idleInterval time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	idle := time.NewTimer(idleInterval)
	defer idle.Stop()

	for {
		var jpegData []byte
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
			if !idle.Stop() {
				<-idle.C
			}
		case <-idle.C:
			jpegData = standbyJPEG()
		}
		idle.Reset(idleInterval)

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}
