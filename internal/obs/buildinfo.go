package obs

import (
	"errors"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// InitBuildInfo registers worknest_build_info on reg with value 1, labelled
// with the release, commit and Go runtime. Registering twice is a no-op.
func InitBuildInfo(reg prometheus.Registerer, version, commit string) error {
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worknest_build_info",
		Help: "WorkNest API build information.",
	}, []string{"version", "commit", "go_version"})
	if err := reg.Register(info); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		info = already.ExistingCollector.(*prometheus.GaugeVec)
	}
	info.WithLabelValues(version, commit, runtime.Version()).Set(1)
	return nil
}
