package bridge

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// healthClient 探测专用客户端；只看响应成败，不读响应体
var healthClient = &http.Client{Timeout: 10 * time.Second}

// healthLoop 独立于连接状态机运行，贯穿整个会话生命周期。
// 失败只记录日志，绝不影响连接状态。
func (s *Session) healthLoop() {
	ticker := time.NewTicker(s.opts.HealthPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.probe()
		}
	}
}

func (s *Session) probe() {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.opts.HealthURL, nil)
	if err != nil {
		log.Warn().Err(err).Msg("health probe request build failed")
		return
	}
	resp, err := healthClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", s.opts.HealthURL).Msg("health probe failed")
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("url", s.opts.HealthURL).Msg("health probe unhealthy")
	}
}
