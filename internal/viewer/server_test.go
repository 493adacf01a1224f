package viewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/camview/streamclient/internal/stream"
	"github.com/camview/streamclient/pkg/types"
)

func testJPEG(n int) []byte {
	frame := []byte{0xFF, 0xD8}
	for i := 0; i < n; i++ {
		frame = append(frame, byte(i)&0x7F)
	}
	return append(frame, 0xFF, 0xD9)
}

// cameraSource fakes an MJPEG camera that streams until the client leaves.
func cameraSource(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return
		}
		flusher := w.(http.Flusher)
		flusher.Flush()

		payload := testJPEG(256)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
			fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(payload))
			w.Write(payload)
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quickTuning() stream.Tuning {
	tuning := stream.DefaultTuning()
	tuning.NaturalCycleMinAge = 50 * time.Millisecond
	tuning.NaturalCycleMinFrames = 3
	tuning.ErrorBackoffBase = 5 * time.Millisecond
	tuning.ErrorBackoffCap = 15 * time.Millisecond
	tuning.ProbeTimeout = time.Second
	return tuning
}

type viewerClient struct {
	base string
	srv  *httptest.Server
}

func newViewerClient(t *testing.T, tileIDs ...string) *viewerClient {
	t.Helper()
	if len(tileIDs) == 0 {
		tileIDs = []string{"cam1"}
	}

	cfg := DefaultConfig()
	cfg.StatusInterval = 20 * time.Millisecond
	cfg.IdleFrameInterval = 50 * time.Millisecond

	tiles := make([]*Tile, 0, len(tileIDs))
	for _, id := range tileIDs {
		tiles = append(tiles, NewTile(id, quickTuning()))
	}
	s := NewServer(cfg, tiles...)
	t.Cleanup(s.Close)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &viewerClient{base: srv.URL, srv: srv}
}

func (c *viewerClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(c.base + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("GET %s read body: %v", path, err)
	}
	return resp, body
}

func (c *viewerClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(c.base+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("POST %s read body: %v", path, err)
	}
	return resp, body
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode JSON: %v (body %q)", err, body)
	}
	return payload
}

func connectBody(url string) map[string]any {
	return map[string]any{"url": url, "stream_type": "mjpeg"}
}

func (c *viewerClient) waitForState(t *testing.T, camera, state string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body := c.get(t, "/api/status")
		payload := decodeJSONMap(t, body)
		cameras, _ := payload["cameras"].(map[string]any)
		if cam, ok := cameras[camera].(map[string]any); ok {
			if got, _ := cam["state"].(float64); types.ConnState(got).String() == state {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("camera %s never reached state %s", camera, state)
}

func TestViewerHealth(t *testing.T) {
	client := newViewerClient(t, "cam1", "cam2")
	resp, body := client.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if payload["status"] != "ok" {
		t.Fatalf("health status = %v", payload["status"])
	}
	if payload["cameras"] != float64(2) {
		t.Fatalf("health cameras = %v", payload["cameras"])
	}
}

func TestViewerStatusListsAllTiles(t *testing.T) {
	client := newViewerClient(t, "cam1", "cam2")
	resp, body := client.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	cameras, ok := payload["cameras"].(map[string]any)
	if !ok {
		t.Fatalf("status payload missing cameras: %v", payload)
	}
	for _, id := range []string{"cam1", "cam2"} {
		cam, ok := cameras[id].(map[string]any)
		if !ok {
			t.Fatalf("status missing camera %s", id)
		}
		if cam["connection_quality"] != "disconnected" {
			t.Fatalf("idle camera quality = %v", cam["connection_quality"])
		}
	}
	if _, ok := payload["timestamp"].(float64); !ok {
		t.Fatalf("status payload missing timestamp")
	}
}

func TestViewerUnknownCameraIs404(t *testing.T) {
	client := newViewerClient(t)
	resp, _ := client.get(t, "/camera/nope/snapshot.jpg")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown camera status = %d", resp.StatusCode)
	}
	resp, _ = client.postJSON(t, "/camera/nope/disconnect", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown camera disconnect status = %d", resp.StatusCode)
	}
}

func TestViewerConnectRejectsBadRequests(t *testing.T) {
	client := newViewerClient(t)

	resp, body := client.postJSON(t, "/camera/cam1/connect", map[string]any{
		"url": "rtsp://cam.local/stream", "stream_type": "rtsp",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("rtsp connect status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if payload["error"] == "" {
		t.Fatalf("rtsp connect missing error")
	}

	resp, _ = client.postJSON(t, "/camera/cam1/connect", map[string]any{
		"url": "/not/absolute",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("relative URL connect status = %d", resp.StatusCode)
	}
}

func TestViewerConnectLifecycle(t *testing.T) {
	source := cameraSource(t)
	client := newViewerClient(t)

	resp, body := client.postJSON(t, "/camera/cam1/connect", connectBody(source.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d (%s)", resp.StatusCode, body)
	}
	client.waitForState(t, "cam1", "connected")

	// A live frame is retained for snapshots.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, data := client.get(t, "/camera/cam1/snapshot.jpg")
		if resp.Header.Get("X-Frame-Timestamp") != "" {
			if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
				t.Fatalf("snapshot is not a JPEG: % x", data[:4])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no live snapshot before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, _ = client.postJSON(t, "/camera/cam1/disconnect", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect status = %d", resp.StatusCode)
	}
	client.waitForState(t, "cam1", "idle")

	// Disconnected tiles fall back to the standby image.
	resp, data := client.get(t, "/camera/cam1/snapshot.jpg")
	if resp.Header.Get("X-Frame-Timestamp") != "" {
		t.Fatalf("disconnected snapshot still has a live timestamp")
	}
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Fatalf("standby snapshot is not a JPEG")
	}
}

func TestViewerReconnectRequiresPriorConnect(t *testing.T) {
	client := newViewerClient(t)
	resp, body := client.postJSON(t, "/camera/cam1/reconnect", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reconnect status = %d (%s)", resp.StatusCode, body)
	}
}

func TestViewerTestConnection(t *testing.T) {
	source := cameraSource(t)
	client := newViewerClient(t)

	resp, body := client.postJSON(t, "/camera/cam1/test", connectBody(source.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test status = %d (%s)", resp.StatusCode, body)
	}
	if decodeJSONMap(t, body)["reachable"] != true {
		t.Fatalf("reachable camera reported unreachable: %s", body)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	resp, body = client.postJSON(t, "/camera/cam1/test", connectBody(deadURL))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("dead camera test status = %d", resp.StatusCode)
	}
	if decodeJSONMap(t, body)["reachable"] != false {
		t.Fatalf("dead camera reported reachable: %s", body)
	}
}

func TestViewerStreamReservesMJPEG(t *testing.T) {
	source := cameraSource(t)
	client := newViewerClient(t)

	resp, _ := client.postJSON(t, "/camera/cam1/connect", connectBody(source.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, client.base+"/camera/cam1/stream", nil)
	streamResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer streamResp.Body.Close()

	if ct := streamResp.Header.Get("Content-Type"); !strings.Contains(ct, "multipart/x-mixed-replace") {
		t.Fatalf("stream content-type = %q", ct)
	}

	// The re-served stream must carry multipart boundaries and JPEG payloads.
	reader := bufio.NewReader(streamResp.Body)
	sawBoundary := false
	sawJPEG := false
	for i := 0; i < 64 && (!sawBoundary || !sawJPEG); i++ {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			break
		}
		if bytes.HasPrefix(line, []byte("--frame")) {
			sawBoundary = true
		}
		if bytes.Contains(line, []byte{0xFF, 0xD8}) {
			sawJPEG = true
		}
	}
	if !sawBoundary || !sawJPEG {
		t.Fatalf("re-served stream incomplete: boundary=%v jpeg=%v", sawBoundary, sawJPEG)
	}
}

func TestViewerStatusStream(t *testing.T) {
	client := newViewerClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, client.base+"/api/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET status stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("status stream content-type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read SSE event: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("SSE line = %q", line)
	}
	payload := decodeJSONMap(t, []byte(strings.TrimPrefix(line, "data: ")))
	if _, ok := payload["cameras"].(map[string]any); !ok {
		t.Fatalf("SSE payload missing cameras: %v", payload)
	}
}
