package ingest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/exowatch/transit-cli/internal/fiterr"
	"github.com/exowatch/transit-cli/internal/model"
)

// Prior file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// priorFile is the on-disk layout shared by YAML and TOML:
//
//	parameters:
//	  - {name: rprs, prior: uniform, lo: 0.05, hi: 0.2}
//	  - {name: per, prior: fixed, value: 3.5, unit: d}
type priorFile struct {
	Parameters []priorEntry `yaml:"parameters" toml:"parameters"`
}

type priorEntry struct {
	Name  string   `yaml:"name" toml:"name"`
	Prior string   `yaml:"prior" toml:"prior"`
	Lo    *float64 `yaml:"lo,omitempty" toml:"lo,omitempty"`
	Hi    *float64 `yaml:"hi,omitempty" toml:"hi,omitempty"`
	Mu    *float64 `yaml:"mu,omitempty" toml:"mu,omitempty"`
	Sigma *float64 `yaml:"sigma,omitempty" toml:"sigma,omitempty"`
	Value *float64 `yaml:"value,omitempty" toml:"value,omitempty"`
	Unit  string   `yaml:"unit,omitempty" toml:"unit,omitempty"`
}

// LoadPriors reads a prior file, choosing the format from its extension.
func LoadPriors(path string) ([]model.ParameterSpec, error) {
	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".toml":
		format = FormatTOML
	default:
		return nil, fiterr.NewConfigError("priors", fmt.Sprintf("unrecognised prior file extension %q", filepath.Ext(path)))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read priors %s", path)
	}
	return ParsePriors(data, format)
}

// ParsePriors decodes prior specs from data in the given format. Unknown
// keys are rejected.
func ParsePriors(data []byte, format string) ([]model.ParameterSpec, error) {
	var pf priorFile
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil {
			return nil, fiterr.NewConfigError("priors", "yaml: "+err.Error())
		}
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&pf); err != nil {
			return nil, fiterr.NewConfigError("priors", "toml: "+err.Error())
		}
	default:
		return nil, fiterr.NewConfigError("priors", fmt.Sprintf("unknown format %q", format))
	}

	if len(pf.Parameters) == 0 {
		return nil, fiterr.NewConfigError("priors", "no parameters listed")
	}
	specs := make([]model.ParameterSpec, 0, len(pf.Parameters))
	for i, e := range pf.Parameters {
		spec, err := e.spec()
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: parameter %d", i)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// MarshalPriors renders specs in the YAML prior file layout.
func MarshalPriors(specs []model.ParameterSpec) ([]byte, error) {
	pf := priorFile{Parameters: make([]priorEntry, len(specs))}
	for i, s := range specs {
		e := priorEntry{Name: s.Name, Prior: string(s.Prior.Kind), Unit: s.Unit}
		p := s.Prior
		switch p.Kind {
		case model.PriorUniform, model.PriorLogUniform:
			e.Lo, e.Hi = &p.Lo, &p.Hi
		case model.PriorGaussian:
			e.Mu, e.Sigma = &p.Mu, &p.Sigma
		case model.PriorFixed:
			e.Value = &p.Value
		}
		pf.Parameters[i] = e
	}
	out, err := yaml.Marshal(pf)
	return out, eris.Wrap(err, "ingest: marshal priors")
}

func (e priorEntry) spec() (model.ParameterSpec, error) {
	if e.Name == "" {
		return model.ParameterSpec{}, fiterr.NewConfigError("", "parameter without a name")
	}
	need := func(field string, v *float64) (float64, error) {
		if v == nil {
			return 0, fiterr.NewConfigError(e.Name, fmt.Sprintf("%s prior needs %q", e.Prior, field))
		}
		return *v, nil
	}

	var (
		prior model.Prior
		a, b  float64
		errA  error
		errB  error
	)
	switch model.PriorKind(strings.ToLower(e.Prior)) {
	case model.PriorUniform:
		a, errA = need("lo", e.Lo)
		b, errB = need("hi", e.Hi)
		prior = model.Uniform(a, b)
	case model.PriorLogUniform:
		a, errA = need("lo", e.Lo)
		b, errB = need("hi", e.Hi)
		prior = model.LogUniform(a, b)
	case model.PriorGaussian:
		a, errA = need("mu", e.Mu)
		b, errB = need("sigma", e.Sigma)
		prior = model.Gaussian(a, b)
	case model.PriorFixed:
		a, errA = need("value", e.Value)
		prior = model.Fixed(a)
	default:
		return model.ParameterSpec{}, fiterr.NewConfigError(e.Name, fmt.Sprintf("unknown prior kind %q", e.Prior))
	}
	if errA != nil {
		return model.ParameterSpec{}, errA
	}
	if errB != nil {
		return model.ParameterSpec{}, errB
	}
	if err := prior.Validate(); err != nil {
		return model.ParameterSpec{}, fiterr.NewConfigError(e.Name, err.Error())
	}
	return model.ParameterSpec{Name: e.Name, Prior: prior, Unit: e.Unit}, nil
}
