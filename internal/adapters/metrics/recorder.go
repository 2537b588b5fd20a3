package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fractalTrader/internal/ports"
)

const namespace = "fractal_trader"

// Recorder implements ports.MetricsRecorder with Prometheus collectors on a
// private registry.
type Recorder struct {
	registry *prometheus.Registry

	balance       prometheus.Gauge
	profit        prometheus.Gauge
	profitPct     prometheus.Gauge
	openPositions prometheus.Gauge
	signals       *prometheus.CounterVec
	orders        *prometheus.CounterVec
	ticks         *prometheus.CounterVec
}

// NewRecorder creates and registers the collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Trading balance in the quote asset",
		}),
		profit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profit",
			Help:      "Profit over the initial balance in the quote asset",
		}),
		profitPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "profit_ratio",
			Help:      "Profit as a fraction of the initial balance",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Signals produced by the strategy",
		}, []string{"symbol", "type", "outcome"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Position operations sent to the exchange",
		}, []string{"op", "result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_ticks_total",
			Help:      "Periodic task executions",
		}, []string{"task", "result"}),
	}
	r.registry.MustRegister(
		r.balance,
		r.profit,
		r.profitPct,
		r.openPositions,
		r.signals,
		r.orders,
		r.ticks,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) SetBalance(balance float64) { r.balance.Set(balance) }

func (r *Recorder) SetProfit(total, pct float64) {
	r.profit.Set(total)
	r.profitPct.Set(pct)
}

func (r *Recorder) SetOpenPositions(n int) { r.openPositions.Set(float64(n)) }

func (r *Recorder) IncSignal(symbol, signalType string, rejected bool) {
	outcome := "emitted"
	if rejected {
		outcome = "rejected"
	}
	r.signals.WithLabelValues(symbol, signalType, outcome).Inc()
}

func (r *Recorder) IncOrder(op string, ok bool) {
	r.orders.WithLabelValues(op, result(ok)).Inc()
}

func (r *Recorder) IncTick(task string, ok bool) {
	r.ticks.WithLabelValues(task, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve runs the /metrics endpoint on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, logger ports.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "Starting metrics server", map[string]interface{}{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var _ ports.MetricsRecorder = (*Recorder)(nil)
