package roram

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// StashSize reports the current stash length of one sub-ORAM, labeled by
// its range-class index. Stash growth is the first sign of an eviction
// rate that can't keep up with the access pattern.
var StashSize = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "roram_stash_size",
		Help: "The number of blocks currently held in a sub-ORAM's stash.",
	},
	[]string{"suboram"},
)

// SeekCount reports the cumulative advisory seek count of one sub-ORAM's
// storage backend, labeled by range-class index.
var SeekCount = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "roram_seek_count",
		Help: "The cumulative number of non-sequential storage accesses observed by a sub-ORAM's backend.",
	},
	[]string{"suboram"},
)

// ReportMetrics pushes c's current stash sizes and seek counts into the
// StashSize and SeekCount gauges. The caller is responsible for calling this
// after every Access it wants reflected in a scrape; a sub-ORAM's backend
// doesn't update these gauges itself, since SubORAM has no reference to a
// metrics registry.
func (c *Coordinator) ReportMetrics() {
	sizes := c.StashSizes()
	for i, sub := range c.subs {
		label := prometheus.Labels{"suboram": strconv.Itoa(i)}
		StashSize.With(label).Set(float64(sizes[i]))
		SeekCount.With(label).Set(float64(sub.Backend().SeekCount()))
	}
}
