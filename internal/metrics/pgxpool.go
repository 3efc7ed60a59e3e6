package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterConfigPoolMetrics exposes the configuration store's connection
// pool statistics as Prometheus gauges.
func RegisterConfigPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	stat := func(f func(*pgxpool.Stat) int32) func() float64 {
		return func() float64 { return float64(f(pool.Stat())) }
	}
	for _, c := range []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mfafarm_config_pool_acquired_conns",
			Help: "Connections currently acquired from the configuration store pool",
		}, stat((*pgxpool.Stat).AcquiredConns)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mfafarm_config_pool_idle_conns",
			Help: "Idle connections in the configuration store pool",
		}, stat((*pgxpool.Stat).IdleConns)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mfafarm_config_pool_total_conns",
			Help: "Total connections in the configuration store pool",
		}, stat((*pgxpool.Stat).TotalConns)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mfafarm_config_pool_max_conns",
			Help: "Maximum connections of the configuration store pool",
		}, stat((*pgxpool.Stat).MaxConns)),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
