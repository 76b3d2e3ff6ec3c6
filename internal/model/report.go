package model

// Termination describes why the sampler stopped.
type Termination string

const (
	TerminationConverged     Termination = "converged"
	TerminationMaxIterations Termination = "max_iterations"
	TerminationStalled       Termination = "stalled"
	TerminationCancelled     Termination = "cancelled"
)

// Complete reports whether the termination produced a full posterior.
func (t Termination) Complete() bool {
	return t == TerminationConverged || t == TerminationMaxIterations
}

// QuantileValue is one weighted posterior quantile.
type QuantileValue struct {
	P     float64 `json:"p"`
	Value float64 `json:"value"`
}

// ParamSummary summarises the marginal posterior of a single parameter.
// Lower/Median/Upper are the 16th/50th/84th percentiles.
type ParamSummary struct {
	Name      string          `json:"name"`
	Unit      string          `json:"unit,omitempty"`
	Mean      float64         `json:"mean"`
	Std       float64         `json:"std"`
	Lower     float64         `json:"lower"`
	Median    float64         `json:"median"`
	Upper     float64         `json:"upper"`
	Quantiles []QuantileValue `json:"quantiles,omitempty"`
}

// BestFit is the maximum-likelihood sample and its goodness of fit.
type BestFit struct {
	LogL        float64            `json:"log_l"`
	Params      map[string]float64 `json:"params"`
	ResidualRMS float64            `json:"residual_rms"`
	ReducedChi2 float64            `json:"reduced_chi2"`
	BIC         float64            `json:"bic"`
}

// PosteriorReport is the output of a fit.
type PosteriorReport struct {
	Status      Termination        `json:"status"`
	Complete    bool               `json:"complete"`
	Converged   bool               `json:"converged"`
	LogZ        float64            `json:"log_z"`
	LogZErr     float64            `json:"log_z_err"`
	Information float64            `json:"information"`
	ESS         float64            `json:"ess"`
	Iterations  int                `json:"iterations"`
	Evaluations int                `json:"evaluations"`
	LivePoints  int                `json:"live_points"`
	NumSamples  int                `json:"num_samples"`
	Seed        uint64             `json:"seed"`
	Parameters  []ParamSummary     `json:"parameters"`
	Derived     []ParamSummary     `json:"derived,omitempty"`
	Fixed       map[string]float64 `json:"fixed,omitempty"`
	BestFit     *BestFit           `json:"best_fit,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
	ElapsedSecs float64            `json:"elapsed_secs"`
}

// Param returns the summary for the named free parameter.
func (r *PosteriorReport) Param(name string) (ParamSummary, bool) {
	for _, p := range r.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSummary{}, false
}

// DerivedParam returns the summary for the named derived quantity.
func (r *PosteriorReport) DerivedParam(name string) (ParamSummary, bool) {
	for _, p := range r.Derived {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSummary{}, false
}

// Quantile returns the value of quantile p if it was computed.
func (s ParamSummary) Quantile(p float64) (float64, bool) {
	for _, q := range s.Quantiles {
		if q.P == p {
			return q.Value, true
		}
	}
	return 0, false
}
