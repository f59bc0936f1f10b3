// Command monocoque-bench wires together config loading, structured
// logging, Prometheus metrics export, and a small ROUTER/DEALER demo, as
// a composition root for the socket package.
package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/control"
	"github.com/monocoque/monocoque/logctx"
	"github.com/monocoque/monocoque/metrics"
	"github.com/monocoque/monocoque/socket"
)

// Config is the process-level configuration loaded via viper before any
// socket is constructed.
type Config struct {
	RouterEndpoint string
	MetricsAddr    string
	SendHWM        int
	RecvHWM        int
}

func loadConfig() Config {
	v := viper.New()
	v.SetDefault("router_endpoint", "tcp://127.0.0.1:5555")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("send_hwm", 1000)
	v.SetDefault("recv_hwm", 1000)
	v.SetEnvPrefix("MONOCOQUE")
	v.AutomaticEnv()

	return Config{
		RouterEndpoint: v.GetString("router_endpoint"),
		MetricsAddr:    v.GetString("metrics_addr"),
		SendHWM:        v.GetInt("send_hwm"),
		RecvHWM:        v.GetInt("recv_hwm"),
	}
}

func main() {
	cfg := loadConfig()

	logger, err := logctx.NewProduction()
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}

	runtime := control.NewRuntime()
	control.RegisterPlatformProbes(runtime.Debug)
	control.RegisterHostProbes(runtime.Debug)
	var ctrl api.Control = runtime

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(runtime.Metrics))
	http.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			logger.Errorw("metrics server stopped", "error", err)
		}
	}()

	runtime.Config.SetConfig(map[string]any{
		"send_hwm": cfg.SendHWM,
		"recv_hwm": cfg.RecvHWM,
	})
	opts := runtime.SocketOptions()

	router := socket.NewRouter(opts)
	if err := router.Bind(cfg.RouterEndpoint); err != nil {
		logger.Errorw("router bind failed", "error", err)
		return
	}
	defer router.Close()
	logger.Infow("router bound", "endpoint", cfg.RouterEndpoint)

	dealer := socket.NewDealer(opts)
	if err := dealer.Connect(cfg.RouterEndpoint); err != nil {
		logger.Errorw("dealer connect failed", "error", err)
		return
	}
	defer dealer.Close()

	go monitorLoop(api.SocketDealer, dealer.Monitor(), runtime.Metrics)
	go monitorLoop(api.SocketRouter, router.Monitor(), runtime.Metrics)
	go echoLoop(router, ctrl, logger)

	for i := 0; ; i++ {
		if err := dealer.Send([][]byte{[]byte(fmt.Sprintf("ping-%d", i))}); err != nil {
			logger.Warnw("send failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		frames, err := dealer.Recv()
		if err != nil {
			logger.Warnw("recv failed", "error", err)
			continue
		}
		runtime.Metrics.Set("bench.last_reply_size", len(frames))
		time.Sleep(200 * time.Millisecond)
	}
}

// monitorLoop drains a socket's lifecycle events into the metrics
// registry under the canonical socket.<type>.* keys, so a handshake
// failure or reconnect attempt shows up on the /metrics endpoint without
// the socket package itself depending on control.
func monitorLoop(t api.SocketType, events <-chan api.MonitorEvent, reg *control.MetricsRegistry) {
	for ev := range events {
		switch ev.Kind {
		case api.EventHandshakeFailed:
			reg.Incr(control.MetricHandshakeFailures(t), 1)
		case api.EventConnectFailed, api.EventDisconnected:
			reg.Incr(control.MetricReconnectAttempts(t), 1)
		}
	}
}

func echoLoop(router *socket.Router, ctrl api.Control, logger logctx.Zap) {
	var count int64
	ctrl.RegisterDebugProbe("bench.requests_total", func() any { return count })
	for {
		envelope, err := router.Recv()
		if err != nil {
			logger.Errorw("router recv stopped", "error", err)
			return
		}
		count++
		if err := router.Send(envelope); err != nil {
			logger.Warnw("router echo send failed", "error", err)
		}
	}
}
