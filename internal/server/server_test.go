package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petero-dk/danfoss-air-api/internal/dfair"
)

func newTestServer(t *testing.T) (*Server, *dfair.Engine, *httptest.Server) {
	t.Helper()
	e, err := dfair.New(dfair.Options{IP: "127.0.0.1", DelaySeconds: 30})
	if err != nil {
		t.Fatalf("dfair.New err=%v", err)
	}
	cfg := DefaultConfig()
	cfg.path = t.TempDir() + "/config.yaml"
	cfg.Device.IP = "127.0.0.1"
	cfg.Recording.Path = t.TempDir()

	web := fstest.MapFS{"index.html": {Data: []byte("<html>dash</html>")}}
	s := New(cfg, e, web, zerolog.Nop())
	s.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	}))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, e, ts
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestParamsEndpoints(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := get(t, ts.URL+"/api/params")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var params []dfair.Param
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(params) != 22 {
		t.Fatalf("params=%d", len(params))
	}

	resp = get(t, ts.URL+"/api/params/fan_step")
	var p dfair.Param
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.ID != "fan_step" || !p.Writable || !p.Value.IsUnread() {
		t.Fatalf("param=%+v", p)
	}

	if resp := get(t, ts.URL+"/api/params/nonexistent"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown param status=%d", resp.StatusCode)
	}
}

func TestWriteEndpoints(t *testing.T) {
	_, e, ts := newTestServer(t)

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"boost on", "/api/boost", `{"active":true}`, http.StatusAccepted},
		{"boost missing", "/api/boost", `{}`, http.StatusBadRequest},
		{"mode", "/api/mode", `{"mode":2}`, http.StatusAccepted},
		{"mode out of range", "/api/mode", `{"mode":3}`, http.StatusBadRequest},
		{"fan step", "/api/fanstep", `{"step":6}`, http.StatusAccepted},
		{"fan step zero", "/api/fanstep", `{"step":0}`, http.StatusBadRequest},
		{"bypass", "/api/params/bypass", `{"value":true}`, http.StatusAccepted},
		{"read only", "/api/params/humidity_measured_relative", `{"value":1}`, http.StatusForbidden},
		{"unknown", "/api/params/nonexistent", `{"value":1}`, http.StatusNotFound},
		{"bool into byte", "/api/params/fan_step", `{"value":true}`, http.StatusBadRequest},
		{"string value", "/api/params/fan_step", `{"value":"x"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := post(t, ts.URL+tc.path, tc.body); resp.StatusCode != tc.want {
				t.Fatalf("status=%d want %d", resp.StatusCode, tc.want)
			}
		})
	}

	checks := map[string]dfair.Value{
		"boost":          dfair.Bool(true),
		"operation_mode": dfair.Number(2),
		"fan_step":       dfair.Number(6),
		"bypass":         dfair.Bool(true),
	}
	for id, want := range checks {
		p, _ := e.Parameter(id)
		if p.Value != want {
			t.Fatalf("%s=%v want %v", id, p.Value, want)
		}
	}
	if n := e.Status().PendingWrites; n != 4 {
		t.Fatalf("pending=%d want 4", n)
	}
}

func TestStatusAndStatic(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := get(t, ts.URL+"/api/status")
	var st map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st["state"] != "idle" || st["cycle"] != float64(120) {
		t.Fatalf("status=%v", st)
	}

	if resp := get(t, ts.URL+"/"); resp.StatusCode != http.StatusOK {
		t.Fatalf("index status=%d", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/metrics"); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
}

func TestConfigEndpoint(t *testing.T) {
	s, _, ts := newTestServer(t)

	if resp := post(t, ts.URL+"/api/config", `{"device":{"delaySeconds":0}}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid update status=%d", resp.StatusCode)
	}
	if s.cfg.Device.DelaySeconds != 30 {
		t.Fatalf("invalid update applied: %d", s.cfg.Device.DelaySeconds)
	}

	if resp := post(t, ts.URL+"/api/config", `{"device":{"delaySeconds":60},"recording":{"enabled":true}}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("update status=%d", resp.StatusCode)
	}
	if s.cfg.Device.DelaySeconds != 60 || s.cfg.Device.IP != "127.0.0.1" {
		t.Fatalf("device=%+v", s.cfg.Device)
	}
	if !s.recorder.IsEnabled() {
		t.Fatal("recording not enabled")
	}

	resp := get(t, ts.URL+"/api/config")
	var got map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["device"]["delaySeconds"] != float64(60) {
		t.Fatalf("config=%v", got["device"])
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	s, e, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Frame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("initial frame: %v", err)
	}
	if len(first.Params) != 22 || first.Status == nil {
		t.Fatalf("initial frame=%+v", first)
	}

	e.ActivateBoost()
	s.HandleBatch(e.Snapshot())

	var next Frame
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("batch frame: %v", err)
	}
	var boost dfair.Reading
	for _, r := range next.Params {
		if r.ID == "boost" {
			boost = r
		}
	}
	if boost.Value != dfair.Bool(true) {
		t.Fatalf("boost=%v", boost.Value)
	}
}
