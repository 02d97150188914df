package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokenExchanges = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "arcrest_auth_token_exchanges",
	Help: "Token exchange requests by manager kind and outcome",
}, []string{"manager", "status"})

// TokenExchangeCounter exposes the exchange counter to the oauth
// subpackage, which records its grants under the "identity" label.
func TokenExchangeCounter() *prometheus.CounterVec {
	return tokenExchanges
}
