// Package adhoc announces this instance to a registration server on a fixed heartbeat.
package adhoc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"CropDetServer/logger"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id          string `json:"id"`
	IP          string `json:"ip"`
	Port        int    `json:"port"`
	ActiveModel string `json:"activeModel"`
	Status      string `json:"status"`
	TimeStamp   int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

// StatusFunc reports the active model id and loader status at send time.
type StatusFunc func() (activeModel, status string)

type RegServerConfig struct {
	Addr string
	Port int
	// Interval between heartbeats. Zero means TimeOutSeconds.
	Interval time.Duration
}

// Heartbeat posts RegisterRequest to the registration server until its context ends.
type Heartbeat struct {
	cfg    RegServerConfig
	id     string
	ip     string
	port   int
	status StatusFunc
	client *resty.Client
}

func NewHeartbeat(cfg RegServerConfig, ip string, port int, status StatusFunc) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = TimeOutSeconds * time.Second
	}
	return &Heartbeat{
		cfg:    cfg,
		id:     uuid.NewString(),
		ip:     ip,
		port:   port,
		status: status,
		client: resty.New().
			SetBaseURL(fmt.Sprintf("http://%s:%d", cfg.Addr, cfg.Port)).
			SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *Heartbeat) ID() string { return h.id }

func (h *Heartbeat) Send(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panic: %v", r)
		}
	}()
	req := RegisterRequest{
		Id:        h.id,
		IP:        h.ip,
		Port:      h.port,
		TimeStamp: time.Now().Unix(),
	}
	if h.status != nil {
		req.ActiveModel, req.Status = h.status()
	}
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&respBody).
		Post("/api/register")
	if err != nil {
		return fmt.Errorf("register request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("registration server returned %s: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", h.id)
	}
	return nil
}

// Run sends immediately, then once per interval until ctx is done. wg.Done is called on exit.
func (h *Heartbeat) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := h.Send(ctx); err != nil && ctx.Err() == nil {
			logger.Log().Error("heartbeat failed", zap.String("id", h.id), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			logger.Log().Info("heartbeat stopped", zap.String("id", h.id))
			return
		case <-ticker.C:
		}
	}
}

// GetOutboundIP finds the local address used for outbound traffic. No packet is sent.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
