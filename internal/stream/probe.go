package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/camview/streamclient/internal/logger"
	"github.com/camview/streamclient/pkg/types"
)

// Probe is a lightweight, time-bounded reachability check used by settings
// UIs before committing to a full connect. It never reads the stream body:
// a HEAD request is tried first, and since many embedded camera servers
// reject HEAD, a GET whose body is closed straight after the status line
// serves as the fallback.
func Probe(ctx context.Context, cfg types.CameraConfig, tuning Tuning, extraHeader http.Header) error {
	ctx, cancel := context.WithTimeout(ctx, tuning.ProbeTimeout)
	defer cancel()

	client := NewStreamClient(tuning)

	if err := probeOnce(ctx, client, http.MethodHead, cfg, extraHeader); err == nil {
		return nil
	}
	if err := probeOnce(ctx, client, http.MethodGet, cfg, extraHeader); err != nil {
		logger.Debug("Probe", "%s unreachable: %v", cfg.URL, err)
		return err
	}
	return nil
}

func probeOnce(ctx context.Context, client *http.Client, method string, cfg types.CameraConfig, extraHeader http.Header) error {
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "multipart/x-mixed-replace, image/jpeg, */*")
	req.Header.Set("Cache-Control", "no-cache")
	for key, values := range extraHeader {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if cfg.Credentials != nil {
		req.SetBasicAuth(cfg.Credentials.Username, cfg.Credentials.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", method, err)
	}
	// Close immediately: a success is judged on the status line alone, and
	// reading an MJPEG body would block until the probe timeout.
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe %s: unexpected HTTP status %s", method, resp.Status)
	}
	return nil
}
