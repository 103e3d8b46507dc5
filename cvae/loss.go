package cvae

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"github.com/tsawler/go-surgeon/training"
)

// nbEpsilon keeps the negative binomial mean strictly positive
const nbEpsilon = 1e-8

// Loss returns the batch mean of eta * reconstruction + alpha * KL. When
// train is true it samples z with the reparameterisation trick, applies
// dropout and accumulates gradients; otherwise z is the latent mean.
func (m *Model) Loss(b *training.Batch, train bool) (float64, error) {
	n := b.Size()
	if n == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	mean, logVar, err := m.encode(b.Input, b.Conditions, train)
	if err != nil {
		return 0, err
	}

	z := mean
	var eps, sigma *mat.Dense
	if train {
		eps = m.noise(n, m.config.ZDimension)
		sigma = mat.NewDense(n, m.config.ZDimension, nil)
		sigma.Apply(func(_, _ int, v float64) float64 { return math.Exp(0.5 * v) }, logVar)
		var s mat.Dense
		s.MulElem(sigma, eps)
		z = mat.NewDense(n, m.config.ZDimension, nil)
		z.Add(mean, &s)
	}

	y, err := m.decode(z, b.Conditions, train)
	if err != nil {
		return 0, err
	}

	var recon float64
	var dy *mat.Dense
	var dLogTheta []float64
	switch m.config.LossFn {
	case LossNB:
		recon, dy, dLogTheta = m.negativeBinomial(y, b.Target, b.SizeFactors, train)
	default:
		recon, dy = squaredError(y, b.Target, train)
	}
	kl := klDivergence(mean, logVar)

	scale := 1 / float64(n)
	loss := (m.config.Eta*recon + m.config.Alpha*kl) * scale
	if !train {
		return loss, nil
	}

	dy.Scale(m.config.Eta*scale, dy)
	if dLogTheta != nil {
		g := m.logTheta.Grad.RawRowView(0)
		for j, v := range dLogTheta {
			g[j] += m.config.Eta * scale * v
		}
	}

	klScale := m.config.Alpha * scale
	m.backward(dy, func(dz *mat.Dense) (*mat.Dense, *mat.Dense) {
		dMean := mat.NewDense(n, m.config.ZDimension, nil)
		dLogVar := mat.NewDense(n, m.config.ZDimension, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < m.config.ZDimension; j++ {
				g := dz.At(i, j)
				mu, lv := mean.At(i, j), logVar.At(i, j)
				dMean.Set(i, j, g+klScale*mu)
				dLogVar.Set(i, j, g*eps.At(i, j)*0.5*sigma.At(i, j)+klScale*0.5*(math.Exp(lv)-1))
			}
		}
		return dMean, dLogVar
	})
	return loss, nil
}

// klDivergence sums KL(N(mean, exp(logVar)) || N(0, I)) over the batch
func klDivergence(mean, logVar *mat.Dense) float64 {
	r, c := mean.Dims()
	kl := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			mu, lv := mean.At(i, j), logVar.At(i, j)
			kl += -0.5 * (1 + lv - mu*mu - math.Exp(lv))
		}
	}
	return kl
}

// squaredError sums (y - t)^2 over the batch
func squaredError(y, target *mat.Dense, withGrad bool) (float64, *mat.Dense) {
	var diff mat.Dense
	diff.Sub(y, target)
	total := 0.0
	r, _ := diff.Dims()
	for i := 0; i < r; i++ {
		for _, v := range diff.RawRowView(i) {
			total += v * v
		}
	}
	if !withGrad {
		return total, nil
	}
	diff.Scale(2, &diff)
	return total, &diff
}

// negativeBinomial sums the NB negative log-likelihood of the raw counts in
// target. The mean of cell i, gene j is sf_i * y_ij; the inverse dispersion
// theta_j = exp(logTheta_j) is shared by all cells.
func (m *Model) negativeBinomial(y, target *mat.Dense, sizeFactors []float64, withGrad bool) (float64, *mat.Dense, []float64) {
	r, c := y.Dims()
	logTheta := m.logTheta.Value.RawRowView(0)
	theta := make([]float64, c)
	lgTheta := make([]float64, c)
	for j, lt := range logTheta {
		theta[j] = math.Exp(lt)
		lgTheta[j], _ = math.Lgamma(theta[j])
	}

	var dy *mat.Dense
	var dLogTheta []float64
	if withGrad {
		dy = mat.NewDense(r, c, nil)
		dLogTheta = make([]float64, c)
	}

	total := 0.0
	for i := 0; i < r; i++ {
		sf := 1.0
		if sizeFactors != nil {
			sf = sizeFactors[i]
		}
		yr := y.RawRowView(i)
		tr := target.RawRowView(i)
		for j := 0; j < c; j++ {
			x, th := tr[j], theta[j]
			mu := sf*yr[j] + nbEpsilon
			logThetaMu := math.Log(th + mu)

			lgX1, _ := math.Lgamma(x + 1)
			lgXTheta, _ := math.Lgamma(x + th)
			total += lgTheta[j] + lgX1 - lgXTheta +
				th*(logThetaMu-logTheta[j]) + x*(logThetaMu-math.Log(mu))

			if withGrad {
				dMu := (th+x)/(th+mu) - x/mu
				dy.Set(i, j, dMu*sf)
				dTheta := -(mathext.Digamma(x+th) - mathext.Digamma(th) + logTheta[j] - logThetaMu + 1 - (th+x)/(th+mu))
				dLogTheta[j] += dTheta * th
			}
		}
	}
	return total, dy, dLogTheta
}
