// Package backoff calcula esperas exponenciais com jitter para retries
// contra o provedor e para reconexões.
package backoff

import (
	"math/rand"
	"time"
)

// Backoff devolve, a cada Next, a próxima espera: base * 2^tentativa,
// espalhada por ±jitter e sempre limitada em max.
// Não é seguro para uso concorrente; cada loop de retry cria o seu.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	jitter  float64 // 0-1, ex: 0.2 = ±20%
	attempt int
}

func New(base, max time.Duration, jitter float64) *Backoff {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault: 500ms de base, teto de 30s, ±20%
func NewDefault() *Backoff {
	return New(500*time.Millisecond, 30*time.Second, 0.2)
}

func (b *Backoff) Next() time.Duration {
	// evita overflow do shift em sequências longas
	shift := b.attempt
	if shift > 30 {
		shift = 30
	}
	delay := b.base * time.Duration(int64(1)<<shift)
	if delay > b.max || delay <= 0 {
		delay = b.max
	}

	if b.jitter > 0 {
		factor := 1.0 + (rand.Float64()*2-1)*b.jitter
		delay = time.Duration(float64(delay) * factor)
	}
	// o jitter espalha para baixo do teto, nunca acima
	if delay > b.max {
		delay = b.max
	}

	b.attempt++
	return delay
}

// Reset volta para a primeira tentativa (chamar após sucesso)
func (b *Backoff) Reset() { b.attempt = 0 }

func (b *Backoff) Attempt() int { return b.attempt }

// Cap limita uma espera sugerida pelo servidor (ex: Retry-After) ao teto configurado
func (b *Backoff) Cap(d time.Duration) time.Duration {
	if d > b.max {
		return b.max
	}
	if d < 0 {
		return 0
	}
	return d
}
