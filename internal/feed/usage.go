package feed

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UsageSnapshot expõe o consumo de cota para observabilidade externa
type UsageSnapshot struct {
	CreditsUsed int64 `json:"credits_used"`
	Failures    int64 `json:"failures"`
	Remaining   int64 `json:"remaining"` // -1 = desconhecido
}

// Usage contabiliza créditos gastos (só em sucesso) e falhas (por tentativa)
type Usage struct {
	credits   atomic.Int64
	failures  atomic.Int64
	remaining atomic.Int64

	creditsTotal  *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	remainingG    prometheus.Gauge
	usedG         prometheus.Gauge
}

func newUsage(reg prometheus.Registerer) *Usage {
	f := promauto.With(reg)
	u := &Usage{
		creditsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_credits_used_total",
			Help: "créditos do provedor consumidos por endpoint",
		}, []string{"endpoint"}),
		failuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_request_failures_total",
			Help: "tentativas que falharam por endpoint e tipo",
		}, []string{"endpoint", "kind"}),
		remainingG: f.NewGauge(prometheus.GaugeOpts{
			Name: "feed_quota_remaining",
			Help: "créditos restantes informados pelo provedor",
		}),
		usedG: f.NewGauge(prometheus.GaugeOpts{
			Name: "feed_quota_used",
			Help: "créditos usados informados pelo provedor",
		}),
	}
	u.remaining.Store(-1)
	return u
}

func (u *Usage) addCost(endpoint string, cost int) {
	if cost <= 0 {
		return
	}
	u.credits.Add(int64(cost))
	u.creditsTotal.WithLabelValues(endpoint).Add(float64(cost))
}

func (u *Usage) addFailure(endpoint string, kind ErrorKind) {
	u.failures.Add(1)
	u.failuresTotal.WithLabelValues(endpoint, string(kind)).Inc()
}

// observeHeaders registra os cabeçalhos de cota do provedor, quando presentes
func (u *Usage) observeHeaders(h http.Header) {
	if v, err := strconv.ParseInt(h.Get("x-requests-remaining"), 10, 64); err == nil {
		u.remaining.Store(v)
		u.remainingG.Set(float64(v))
	}
	if v, err := strconv.ParseFloat(h.Get("x-requests-used"), 64); err == nil {
		u.usedG.Set(v)
	}
}

func (u *Usage) Snapshot() UsageSnapshot {
	return UsageSnapshot{
		CreditsUsed: u.credits.Load(),
		Failures:    u.failures.Load(),
		Remaining:   u.remaining.Load(),
	}
}
