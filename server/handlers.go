package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	iface "CropDetServer/interface"
	"CropDetServer/llm"
	"CropDetServer/logger"
	"CropDetServer/media"
	"CropDetServer/registry"
	"CropDetServer/report"
	"CropDetServer/service"
)

type switchRequest struct {
	ModelID string `json:"model_id" binding:"required"`
}

type modelEntry struct {
	iface.ModelDescriptor
	Active bool `json:"active"`
}

type llmEntry struct {
	llm.Info
	Active bool `json:"active"`
}

func (s *Server) listModels(c *gin.Context) {
	entries := s.svc.Models().List()
	out := make([]modelEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, modelEntry{ModelDescriptor: e.Descriptor, Active: e.Active})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "models": out})
}

func (s *Server) activeModel(c *gin.Context) {
	desc, err := s.svc.Models().GetActive()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active_model": desc})
}

func (s *Server) switchModel(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "model_id is required")
		return
	}
	if !s.svc.SwitchModel(req.ModelID) {
		fail(c, http.StatusBadRequest, "Invalid model_id")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Switched to model: " + req.ModelID,
		"active_model": req.ModelID,
	})
}

func (s *Server) listLLMs(c *gin.Context) {
	entries := s.llm.Registry().List()
	out := make([]llmEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, llmEntry{Info: e.Descriptor, Active: e.Active})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "models": out})
}

func (s *Server) activeLLM(c *gin.Context) {
	info, err := s.llm.Registry().GetActive()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "active_model": info})
}

func (s *Server) switchLLM(c *gin.Context) {
	var req switchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "model_id is required")
		return
	}
	if !s.llm.Registry().SetActive(req.ModelID) {
		fail(c, http.StatusBadRequest, "Invalid model_id")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Switched to LLM: " + req.ModelID,
		"active_model": req.ModelID,
	})
}

func (s *Server) generateReport(c *gin.Context) {
	var req struct {
		AnalysisData map[string]any `json:"analysis_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || len(req.AnalysisData) == 0 {
		fail(c, http.StatusBadRequest, "No analysis data provided")
		return
	}
	rep, err := s.llm.GenerateReport(c.Request.Context(), req.AnalysisData)
	if err != nil {
		_ = c.Error(err)
		status := http.StatusInternalServerError
		if errors.Is(err, llm.ErrNoAnalysis) {
			status = http.StatusBadRequest
		}
		fail(c, status, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": rep})
}

// readUpload pulls the "file" part and validates its extension.
func (s *Server) readUpload(c *gin.Context) (string, []byte, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large. Limit is %d MB", s.opts.MaxUploadMB))
			return "", nil, false
		}
		fail(c, http.StatusBadRequest, "No file provided", gin.H{"required": "file"})
		return "", nil, false
	}
	if fh.Filename == "" {
		fail(c, http.StatusBadRequest, "No file selected")
		return "", nil, false
	}
	if !media.Allowed(fh.Filename) {
		fail(c, http.StatusBadRequest, "Invalid file type. Allowed: "+strings.Join(media.AllowedExtensions(), ", "))
		return "", nil, false
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	return fh.Filename, data, true
}

func (s *Server) predict(c *gin.Context) {
	if st := s.svc.Loader().Status(); st.Status != registry.StatusReady {
		fail(c, http.StatusServiceUnavailable, "AI Model is initializing: "+st.Details, gin.H{"loading_status": st})
		return
	}
	name, data, ok := s.readUpload(c)
	if !ok {
		return
	}
	if media.IsVideo(name) {
		fail(c, http.StatusBadRequest, "Videos are processed through /upload and /stream/detect")
		return
	}
	frame, err := media.Inspect(name, data)
	if err != nil {
		fail(c, http.StatusBadRequest, "Cannot read image")
		return
	}
	logger.Log().Info("processing upload", zap.String("file", name), zap.Int("width", frame.Width), zap.Int("height", frame.Height))

	p, err := s.svc.Predict(c.Request.Context(), frame)
	if err != nil {
		s.predictionFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"source":     p.Source,
		"model_id":   p.ModelID,
		"disease":    p.Disease,
		"confidence": p.Confidence,
		"boxes":      p.Boxes,
		"info":       p.Info,
		"frame_size": p.FrameSize,
		"timestamp":  p.Timestamp,
	})
}

func (s *Server) predictionFailed(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, registry.ErrWarmingUp):
		fail(c, http.StatusServiceUnavailable, err.Error(), gin.H{"loading_status": s.svc.Loader().Status()})
	case errors.Is(err, service.ErrNoBackend):
		fail(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrVideoNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, media.ErrVideoUnsupported):
		fail(c, http.StatusNotImplemented, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName strips directories and anything but a conservative character set.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "._")
	if name == "" {
		name = "upload"
	}
	return name
}

func (s *Server) upload(c *gin.Context) {
	name, data, ok := s.readUpload(c)
	if !ok {
		return
	}
	if err := os.MkdirAll(s.opts.UploadDir, 0o755); err != nil {
		fail(c, http.StatusInternalServerError, "Failed to save file: "+err.Error())
		return
	}
	unique := fmt.Sprintf("%s_%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8], safeName(name))
	path := filepath.Join(s.opts.UploadDir, unique)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fail(c, http.StatusInternalServerError, "Failed to save file: "+err.Error())
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	logger.Log().Info("file uploaded", zap.String("path", abs), zap.Int("bytes", len(data)))
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "File uploaded successfully",
		"file_path": abs,
		"filename":  unique,
	})
}

type streamRequest struct {
	Frame     *string `json:"frame"`
	VideoPath *string `json:"video_path"`
}

func (s *Server) streamDetect(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if isTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, "Frame too large")
			return
		}
		fail(c, http.StatusBadRequest, "Provide frame (base64) or video_path")
		return
	}
	switch {
	case req.Frame != nil:
		s.detectFrame(c, *req.Frame)
	case req.VideoPath != nil:
		s.detectVideo(c, *req.VideoPath)
	default:
		fail(c, http.StatusBadRequest, "Provide frame (base64) or video_path")
	}
}

func (s *Server) detectFrame(c *gin.Context, b64 string) {
	data, err := media.DecodeBase64(b64)
	if err != nil {
		msg := "Frame decode failed"
		if errors.Is(err, media.ErrEmptyFrame) {
			msg = "Empty frame data"
		}
		fail(c, http.StatusBadRequest, msg)
		return
	}
	frame, err := media.Inspect("frame", data)
	if err != nil {
		fail(c, http.StatusBadRequest, "Invalid frame image", gin.H{"detections": []any{}})
		return
	}
	res, err := s.svc.DetectFrame(c.Request.Context(), frame)
	if err != nil {
		_ = c.Error(err)
		if errors.Is(err, registry.ErrWarmingUp) {
			fail(c, http.StatusServiceUnavailable, "Model initializing or unavailable: "+err.Error(), gin.H{"detections": []any{}})
			return
		}
		fail(c, http.StatusInternalServerError, err.Error(), gin.H{"detections": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"detections": res.Detections,
		"count":      res.Count,
		"frame_size": res.FrameSize,
	})
}

// videoPath resolves p and insists it lives inside the upload directory.
func (s *Server) videoPath(p string) (string, error) {
	root, err := filepath.Abs(s.opts.UploadDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("video_path must point into the upload directory")
	}
	return abs, nil
}

func (s *Server) detectVideo(c *gin.Context, p string) {
	path, err := s.videoPath(p)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(path); err != nil {
		fail(c, http.StatusNotFound, "Video not found")
		return
	}
	if !media.VideoSupported {
		fail(c, http.StatusNotImplemented, media.ErrVideoUnsupported.Error())
		return
	}
	if st := s.svc.Loader().Status(); st.Status != registry.StatusReady {
		fail(c, http.StatusServiceUnavailable, "Model initializing or unavailable: "+st.Details)
		return
	}

	// headers go out with the first frame so an early failure can still pick its status
	started := false
	enc := json.NewEncoder(c.Writer)
	err = s.svc.DetectVideo(c.Request.Context(), path, func(f service.VideoFrame) error {
		if !started {
			c.Header("Content-Type", "application/x-ndjson")
			c.Status(http.StatusOK)
			started = true
		}
		if err := enc.Encode(f); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	switch {
	case err == nil && !started:
		c.Header("Content-Type", "application/x-ndjson")
		c.Status(http.StatusOK)
	case err == nil, c.Request.Context().Err() != nil:
	case !started:
		s.predictionFailed(c, err)
	default:
		logger.Log().Error("video detection stopped", zap.String("video", path), zap.Error(err))
		_ = enc.Encode(gin.H{"success": false, "error": err.Error()})
		c.Writer.Flush()
	}
}

// rtspProxy hands playable stream URLs back to the browser. RTSP needs transcoding first.
func (s *Server) rtspProxy(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		fail(c, http.StatusBadRequest, "Missing url parameter")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		fail(c, http.StatusBadRequest, "Invalid stream url")
		return
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps":
		fail(c, http.StatusUnsupportedMediaType,
			"RTSP streams require server-side transcoding. Use HLS/DASH URLs or configure FFmpeg.",
			gin.H{"hint": "Convert RTSP to HLS using: ffmpeg -i rtsp://... -c:v copy -c:a aac -f hls output.m3u8"})
	case "http", "https":
		logger.Log().Info("stream url requested", zap.String("host", u.Host))
		c.JSON(http.StatusOK, gin.H{"success": true, "url": raw, "message": "Stream URL ready for playback"})
	default:
		fail(c, http.StatusBadRequest, "Unsupported stream scheme: "+u.Scheme)
	}
}

func (s *Server) analyze(c *gin.Context) {
	var req struct {
		Detections []report.Input `json:"detections"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, "Invalid detections payload: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "analysis": report.Aggregate(req.Detections)})
}
