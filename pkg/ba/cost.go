package ba

import "math"

// Loss shapes how pixel residuals enter the fit. Rho is the cost
// contributed by a residual of magnitude r; Weight is the matching
// IRLS weight applied when the residual enters the normal equations.
// Squared loss keeps every observation at full weight, the robust
// losses taper large residuals off.
type Loss interface {
	Name() string
	Rho(r float64) float64
	Weight(r float64) float64
}

// L2Loss is plain squared error.
type L2Loss struct{}

func (L2Loss) Name() string             { return "l2" }
func (L2Loss) Rho(r float64) float64    { return r * r }
func (L2Loss) Weight(r float64) float64 { return 1 }

// HuberLoss is quadratic inside K and linear outside.
type HuberLoss struct {
	K float64
}

func (HuberLoss) Name() string { return "huber" }

func (h HuberLoss) Rho(r float64) float64 {
	r = math.Abs(r)
	if r <= h.K {
		return r * r
	}
	return 2*h.K*r - h.K*h.K
}

func (h HuberLoss) Weight(r float64) float64 {
	r = math.Abs(r)
	if r <= h.K {
		return 1
	}
	return h.K / r
}

// CauchyLoss tapers residuals with a heavy-tailed weight, bounding the
// influence of gross outliers.
type CauchyLoss struct {
	Sigma float64
}

func (CauchyLoss) Name() string { return "cauchy" }

func (c CauchyLoss) Rho(r float64) float64 {
	u := r / c.Sigma
	return c.Sigma * c.Sigma * math.Log1p(u*u)
}

func (c CauchyLoss) Weight(r float64) float64 {
	u := r / c.Sigma
	return 1 / (1 + u*u)
}
