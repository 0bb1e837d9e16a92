package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CropDetServer/engine"
	iface "CropDetServer/interface"
	"CropDetServer/llm"
	"CropDetServer/media"
	"CropDetServer/registry"
	"CropDetServer/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv       *Server
	svc       *service.Service
	uploadDir string
}

func newFixture(t *testing.T, llmURL string) *fixture {
	t.Helper()
	dir := t.TempDir()
	catalog := []iface.ModelDescriptor{
		{ID: "auraa-fs-2.1", Name: "Detector", Kind: iface.KindPrimary, Runtime: iface.RuntimeMock, Enabled: true},
		{ID: "auraa-fs-1.3", Name: "Classifier", Kind: iface.KindSecondary, Runtime: iface.RuntimeMock, Enabled: true},
	}
	models, err := registry.New("model", catalog, filepath.Join(dir, "models.json"))
	require.NoError(t, err)

	llmCatalog := llm.DefaultCatalog()
	if llmURL != "" {
		llmCatalog[0].BaseURL = llmURL
	}
	llmReg, err := registry.New("llm", llmCatalog, filepath.Join(dir, "llm_config.json"))
	require.NoError(t, err)

	factory := engine.Factory(engine.Options{})
	loader := registry.NewLoader(factory)
	pool := engine.NewPool(2)
	svc := service.New(models, loader, pool, factory, service.Options{FallbackModel: "auraa-fs-1.3"})
	t.Cleanup(func() {
		_ = svc.Close()
		_ = loader.Close()
		pool.Close()
	})

	uploadDir := filepath.Join(dir, "uploads")
	srv := New(svc, llm.NewService(llmReg, llm.Options{}), Options{UploadDir: uploadDir, MaxUploadMB: 1})
	return &fixture{srv: srv, svc: svc, uploadDir: uploadDir}
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	select {
	case <-f.svc.LoadActive():
	case <-time.After(2 * time.Second):
		t.Fatal("model did not load")
	}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, path, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestIndexAndHealth(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2.0", decode(t, rec)["version"])

	rec = f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "initializing", body["model_status"])
	assert.Equal(t, "auraa-fs-2.1", body["active_model"].(map[string]any)["id"])

	f.ready(t)
	body = decode(t, f.do(httptest.NewRequest(http.MethodGet, "/health", nil)))
	assert.Equal(t, "ready", body["model_status"])
	assert.Equal(t, "PRIMARY", body["active_model"].(map[string]any)["type"])
}

func TestModels(t *testing.T) {
	f := newFixture(t, "")
	f.ready(t)

	body := decode(t, f.do(httptest.NewRequest(http.MethodGet, "/models", nil)))
	models := body["models"].([]any)
	require.Len(t, models, 2)
	first := models[0].(map[string]any)
	assert.Equal(t, "auraa-fs-2.1", first["id"])
	assert.Equal(t, true, first["active"])
	assert.Equal(t, false, models[1].(map[string]any)["active"])

	rec := f.do(jsonRequest(http.MethodPost, "/models/switch", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])

	rec = f.do(jsonRequest(http.MethodPost, "/models/switch", `{"model_id":"ghost"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid model_id", decode(t, rec)["error"])

	rec = f.do(jsonRequest(http.MethodPost, "/models/switch", `{"model_id":"auraa-fs-1.3"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auraa-fs-1.3", decode(t, rec)["active_model"])

	body = decode(t, f.do(httptest.NewRequest(http.MethodGet, "/models/active", nil)))
	assert.Equal(t, "auraa-fs-1.3", body["active_model"].(map[string]any)["id"])
	assert.Eventually(t, func() bool {
		st := f.svc.Loader().Status()
		return st.Status == registry.StatusReady && st.ActiveModelID == "auraa-fs-1.3"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPredict(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(multipartRequest(t, "/predict", "leaf.png", pngBytes(t, 64, 48)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode(t, rec), "loading_status")

	f.ready(t)

	t.Run("image", func(t *testing.T) {
		rec := f.do(multipartRequest(t, "/predict", "leaf.png", pngBytes(t, 64, 48)))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "detector", body["source"])
		assert.NotEmpty(t, body["disease"])
		boxes := body["boxes"].([]any)
		require.NotEmpty(t, boxes)
		for _, b := range boxes {
			box := b.(map[string]any)
			for _, k := range []string{"x", "y", "w", "h"} {
				v := box[k].(float64)
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
			assert.Contains(t, box, "percent")
		}
	})

	t.Run("no file", func(t *testing.T) {
		rec := f.do(jsonRequest(http.MethodPost, "/predict", `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file", decode(t, rec)["required"])
	})

	t.Run("wrong extension", func(t *testing.T) {
		rec := f.do(multipartRequest(t, "/predict", "notes.txt", []byte("hello")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode(t, rec)["error"], "Invalid file type")
	})

	t.Run("unreadable image", func(t *testing.T) {
		rec := f.do(multipartRequest(t, "/predict", "leaf.jpg", []byte("garbage")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		rec := f.do(multipartRequest(t, "/predict", "leaf.png", bytes.Repeat([]byte{1}, 2<<20)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestUpload(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(multipartRequest(t, "/upload", "../../etc/field video.mp4", []byte("video")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	name := body["filename"].(string)
	assert.True(t, strings.HasSuffix(name, "_field_video.mp4"), name)

	path := body["file_path"].(string)
	assert.Equal(t, f.uploadDir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))
}

func TestStreamDetect(t *testing.T) {
	f := newFixture(t, "")
	f.ready(t)
	frame := base64.StdEncoding.EncodeToString(pngBytes(t, 320, 240))

	t.Run("frame", func(t *testing.T) {
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", `{"frame":"`+frame+`"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, []any{240.0, 320.0}, body["frame_size"])
		dets := body["detections"].([]any)
		assert.Equal(t, float64(len(dets)), body["count"])
		require.NotEmpty(t, dets)
		d := dets[0].(map[string]any)
		assert.InDelta(t, d["x1"].(float64)+d["w"].(float64), d["x2"].(float64), 1e-4)
	})

	t.Run("empty frame", func(t *testing.T) {
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", `{"frame":""}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Empty frame data", decode(t, rec)["error"])
	})

	t.Run("not an image", func(t *testing.T) {
		junk := base64.StdEncoding.EncodeToString([]byte("junk"))
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", `{"frame":"`+junk+`"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid frame image", decode(t, rec)["error"])
	})

	t.Run("nothing", func(t *testing.T) {
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", `{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("video outside uploads", func(t *testing.T) {
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", `{"video_path":"/etc/passwd"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing video", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"video_path": filepath.Join(f.uploadDir, "missing.mp4")})
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", string(body)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("video without decoder", func(t *testing.T) {
		if media.VideoSupported {
			t.Skip("built with video decoding")
		}
		require.NoError(t, os.MkdirAll(f.uploadDir, 0o755))
		clip := filepath.Join(f.uploadDir, "clip.mp4")
		require.NoError(t, os.WriteFile(clip, []byte("not really a video"), 0o644))
		body, _ := json.Marshal(map[string]string{"video_path": clip})
		rec := f.do(jsonRequest(http.MethodPost, "/stream/detect", string(body)))
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
		assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, false, decode(t, rec)["success"])
	})
}

func TestRTSPProxy(t *testing.T) {
	f := newFixture(t, "")
	for _, tc := range []struct {
		name   string
		query  string
		status int
	}{
		{"missing", "", http.StatusBadRequest},
		{"rtsp", "?url=rtsp://cam.local:554/field", http.StatusUnsupportedMediaType},
		{"hls", "?url=https://cdn.example.com/field/index.m3u8", http.StatusOK},
		{"ftp", "?url=ftp://cdn.example.com/clip.mp4", http.StatusBadRequest},
		{"no host", "?url=field.mp4", http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(httptest.NewRequest(http.MethodGet, "/api/rtsp-proxy"+tc.query, nil))
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.status == http.StatusOK, body["success"])
			if tc.name == "rtsp" {
				assert.Contains(t, body["hint"], "ffmpeg")
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(jsonRequest(http.MethodPost, "/analyze",
		`{"detections":[{"class":"Rust","conf":80},{"class":"Rust","conf":60},{"class":"Healthy","conf":95}]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	analysis := decode(t, rec)["analysis"].(map[string]any)
	assert.Equal(t, 3.0, analysis["total_detections"])
	summary := analysis["disease_summary"].([]any)
	require.Len(t, summary, 2)
	rust := summary[0].(map[string]any)
	assert.Equal(t, "Rust", rust["disease"])
	assert.Equal(t, "Medium", rust["severity"])

	rec = f.do(jsonRequest(http.MethodPost, "/analyze", `{"detections":[]}`))
	require.Equal(t, http.StatusOK, rec.Code)
	analysis = decode(t, rec)["analysis"].(map[string]any)
	assert.Equal(t, 0.0, analysis["total_detections"])
	assert.Empty(t, analysis["disease_summary"])

	rec = f.do(jsonRequest(http.MethodPost, "/analyze", `{"detections":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLLMRoutes(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{
			"role": "assistant",
			"content": `{"report_overview":"ok","treatments":[{"title":"t","description":"d"}],` +
				`"risk_analysis":[{"label":"Economic Impact","value":"Minor","severity":"low"}]}`,
		}})
	}))
	defer ollama.Close()
	f := newFixture(t, ollama.URL)

	body := decode(t, f.do(httptest.NewRequest(http.MethodGet, "/llm/models", nil)))
	assert.Len(t, body["models"], 3)

	body = decode(t, f.do(httptest.NewRequest(http.MethodGet, "/llm/active", nil)))
	assert.Equal(t, "ollama-llama3", body["active_model"].(map[string]any)["id"])

	rec := f.do(jsonRequest(http.MethodPost, "/llm/generate_report", `{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(jsonRequest(http.MethodPost, "/llm/generate_report",
		`{"analysis_data":{"disease_summary":[{"disease":"Rust","count":2}]}}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode(t, rec)["report"].(map[string]any)
	assert.Equal(t, "ok", report["report_overview"])

	rec = f.do(jsonRequest(http.MethodPost, "/llm/switch", `{"model_id":"nope"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	t.Setenv("GROQ_API_KEY", "")
	rec = f.do(jsonRequest(http.MethodPost, "/llm/switch", `{"model_id":"groq-llama3"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(jsonRequest(http.MethodPost, "/llm/generate_report", `{"analysis_data":{"diseases":["Rust"]}}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "GROQ_API_KEY")
}

func TestNotFoundAndCORS(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Endpoint not found", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = f.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec = f.do(req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRun(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
