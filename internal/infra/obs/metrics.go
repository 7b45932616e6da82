package obs

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_reconnects_total",
			Help: "Reconnect attempts scheduled per websocket channel.",
		},
		[]string{"channel"},
	)
	framesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_frames_dropped_total",
			Help: "Inbound frames dropped because they could not be parsed.",
		},
		[]string{"channel"},
	)
	messagesReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_messages_reconciled_total",
			Help: "Confirmed messages fed through the reconcile path.",
		},
	)
	channelConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_channel_connected",
			Help: "1 while the channel transport is connected, 0 otherwise.",
		},
		[]string{"channel"},
	)
	notificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_notifications_total",
			Help: "New-message notifications emitted after dedup.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		reconnectsTotal,
		framesDroppedTotal,
		messagesReconciledTotal,
		channelConnected,
		notificationsTotal,
	)
}

func IncReconnect(channel string)    { reconnectsTotal.WithLabelValues(channel).Inc() }
func IncFrameDropped(channel string) { framesDroppedTotal.WithLabelValues(channel).Inc() }
func AddReconciled(n int)            { messagesReconciledTotal.Add(float64(n)) }
func IncNotification()               { notificationsTotal.Inc() }

func SetChannelConnected(channel string, connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	channelConnected.WithLabelValues(channel).Set(v)
}

// MetricsHandler serves the prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
