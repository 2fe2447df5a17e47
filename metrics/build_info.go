package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterBuildInfo 注册构建信息指标，重复调用时保留首次注册的取值。
func (m *Metrics) RegisterBuildInfo(serviceName, version string) {
	if m == nil || m.BuildInfo != nil {
		return
	}
	if serviceName == "" {
		serviceName = "unknown"
	}
	if version == "" {
		version = "unknown"
	}

	m.BuildInfo = m.NewGaugeVec(&prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build information of the cuckoo filter process",
	}, []string{"service", "version"})

	m.BuildInfo.WithLabelValues(serviceName, version).Set(1)
}
