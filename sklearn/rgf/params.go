package rgf

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// Algorithm names.
const (
	AlgoRGF    = "RGF"
	AlgoRGFOpt = "RGF_Opt"
	AlgoRGFSib = "RGF_Sib"
)

// Memory policies for the per-node sorted feature lists.
const (
	MemGenerous = "Generous"
	MemTight    = "Tight"
)

// Params holds every training parameter. The json tag is also the key used
// in the flat config string stored inside trained models.
type Params struct {
	Algorithm string `json:"algorithm" yaml:"algorithm" validate:"oneof=RGF RGF_Opt RGF_Sib"`
	Loss      string `json:"loss" yaml:"loss" validate:"oneof=LS Log Expo Logit LogRe LogRe2"`

	// Regularization
	RegL2    float64 `json:"reg_L2" yaml:"reg_L2" validate:"gte=0"`
	RegSL2   float64 `json:"reg_sL2" yaml:"reg_sL2" validate:"eq=-1|gte=0"`
	RegL1    float64 `json:"reg_L1" yaml:"reg_L1" validate:"gte=0"`
	RegSL1   float64 `json:"reg_sL1" yaml:"reg_sL1" validate:"eq=-1|gte=0"`
	RegDepth float64 `json:"reg_depth" yaml:"reg_depth" validate:"gt=0"`

	// Forest and tree budgets
	MaxLeafForest int `json:"max_leaf_forest" yaml:"max_leaf_forest" validate:"gt=0"`
	MaxTree       int `json:"max_tree" yaml:"max_tree" validate:"gte=-1"`
	MaxDepth      int `json:"max_depth" yaml:"max_depth" validate:"gte=-1"`
	MaxLeafTree   int `json:"max_leaf_tree" yaml:"max_leaf_tree" validate:"gte=-1"`
	MinPop        int `json:"min_pop" yaml:"min_pop" validate:"gte=-1"`

	// Forest controller
	NumTreeSearch int `json:"num_tree_search" yaml:"num_tree_search" validate:"gt=0"`
	OptInterval   int `json:"opt_interval" yaml:"opt_interval" validate:"gt=0"`
	TestInterval  int `json:"test_interval" yaml:"test_interval" validate:"gt=0"`

	// Weight optimizer
	NumIterationOpt   int     `json:"num_iteration_opt" yaml:"num_iteration_opt" validate:"gte=-1"`
	OptStepsize       float64 `json:"opt_stepsize" yaml:"opt_stepsize" validate:"gt=0"`
	MaxDelta          float64 `json:"max_delta" yaml:"max_delta"`
	ExitDelta         float64 `json:"exit_delta" yaml:"exit_delta"`
	OptIntercept      bool    `json:"opt_intercept" yaml:"opt_intercept"`
	OptUnregIntercept bool    `json:"opt_unreg_intercept" yaml:"opt_unreg_intercept"`
	NormalizeTarget   bool    `json:"NormalizeTarget" yaml:"NormalizeTarget"`
	OptVerbose        bool    `json:"opt_verbose" yaml:"opt_verbose"`

	// Sampling
	FRatio     float64 `json:"f_ratio" yaml:"f_ratio" validate:"lte=1"`
	RandomSeed int64   `json:"random_seed" yaml:"random_seed"`

	// Memory
	MemPolicy    string `json:"mem_policy" yaml:"mem_policy" validate:"oneof=Generous Tight"`
	TempForTrees string `json:"temp_for_trees" yaml:"temp_for_trees"`

	// Tree-structure regularization
	RegIteNum   int  `json:"reg_ite_num" yaml:"reg_ite_num" validate:"gt=0"`
	DoApproxTsr bool `json:"doApproxTsr" yaml:"doApproxTsr"`

	DoPassiveRoot       bool `json:"doPassiveRoot" yaml:"doPassiveRoot"`
	DoForceToRefreshAll bool `json:"doForceToRefreshAll" yaml:"doForceToRefreshAll"`
	UseInternalNodes    bool `json:"use_internal_nodes" yaml:"use_internal_nodes"`
	DoTime              bool `json:"doTime" yaml:"doTime"`
}

// DefaultParams returns the documented defaults. reg_L2 has no default and
// must be set before Validate succeeds.
func DefaultParams() Params {
	return Params{
		Algorithm:       AlgoRGF,
		Loss:            LossSquare.String(),
		RegL2:           -1,
		RegSL2:          -1,
		RegL1:           0,
		RegSL1:          -1,
		RegDepth:        1,
		MaxLeafForest:   10000,
		MaxTree:         -1,
		MaxDepth:        -1,
		MaxLeafTree:     -1,
		MinPop:          10,
		NumTreeSearch:   1,
		OptInterval:     100,
		TestInterval:    500,
		NumIterationOpt: -1,
		OptStepsize:     0.5,
		MaxDelta:        -1,
		ExitDelta:       -1,
		FRatio:          -1,
		RandomSeed:      -1,
		MemPolicy:       MemGenerous,
		RegIteNum:       10,
	}
}

var paramValidate *validator.Validate

func init() {
	paramValidate = validator.New()
	paramValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
}

// Validate checks ranges with struct tags and then the cross-field rules.
func (p *Params) Validate() error {
	if err := paramValidate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.NewValidationError(fe.Field(), describeRule(fe.Tag(), fe.Param()), fe.Value())
		}
		return errors.Wrap(err, "rgf: parameter validation")
	}
	if p.Algorithm == AlgoRGFOpt && p.RegDepth < 1 {
		return errors.NewValidationError("reg_depth", "must be no smaller than 1 for "+AlgoRGFOpt, p.RegDepth)
	}
	if p.UseInternalNodes && p.Algorithm != AlgoRGF {
		return errors.NewValidationError("use_internal_nodes", "cannot be combined with tree-structured regularization", p.Algorithm)
	}
	return nil
}

func describeRule(tag, param string) string {
	switch tag {
	case "gte":
		if param == "0" {
			return "must be specified and non-negative"
		}
		return "must be >= " + param
	case "gt":
		return "must be > " + param
	case "lte":
		return "must be <= " + param
	case "oneof":
		return "must be one of: " + param
	case "eq=-1|gte=0":
		return "must be non-negative"
	}
	return "failed on '" + tag + "'"
}

// LossType returns the parsed loss.
func (p *Params) LossType() LossType {
	l, err := ParseLoss(p.Loss)
	if err != nil {
		return LossSquare
	}
	return l
}

// searchLambda returns λ for split search: reg_sL2 if set, else reg_L2.
func (p *Params) searchLambda() float64 {
	if p.RegSL2 >= 0 {
		return p.RegSL2
	}
	return p.RegL2
}

func (p *Params) searchSigma() float64 {
	if p.RegSL1 >= 0 {
		return p.RegSL1
	}
	return p.RegL1
}

// maxTrees resolves max_tree; unset means half the leaf budget.
func (p *Params) maxTrees() int {
	if p.MaxTree > 0 {
		return p.MaxTree
	}
	return max(1, p.MaxLeafForest/2)
}

// maxLeavesPerTree caps max_leaf_tree by 2^max_depth.
func (p *Params) maxLeavesPerTree() int {
	n := p.MaxLeafTree
	if p.MaxDepth > 0 && p.MaxDepth < 31 {
		byDepth := 1 << p.MaxDepth
		if n <= 0 || n > byDepth {
			n = byDepth
		}
	}
	return n
}

func (p *Params) optIterations() int {
	if p.NumIterationOpt > 0 {
		return p.NumIterationOpt
	}
	if p.LossType().IsExpoFamily() {
		return 5
	}
	return 10
}

func (p *Params) optMaxDelta() float64 {
	if p.MaxDelta < 0 && p.LossType().IsExpoFamily() {
		return 1
	}
	return p.MaxDelta
}

// usesTreeReg reports whether a tree-structure regularizer is active.
func (p *Params) usesTreeReg() bool {
	return p.Algorithm == AlgoRGFOpt || p.Algorithm == AlgoRGFSib
}

// String renders the canonical config string. Switches appear only when on.
func (p Params) String() string {
	var parts []string
	v := reflect.ValueOf(p)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("json")
		f := v.Field(i)
		switch f.Kind() {
		case reflect.Bool:
			if f.Bool() {
				parts = append(parts, key)
			}
		case reflect.String:
			if f.String() != "" {
				parts = append(parts, key+"="+f.String())
			}
		case reflect.Int, reflect.Int64:
			parts = append(parts, key+"="+strconv.FormatInt(f.Int(), 10))
		case reflect.Float64:
			parts = append(parts, key+"="+strconv.FormatFloat(f.Float(), 'g', -1, 64))
		}
	}
	return strings.Join(parts, ",")
}

// ParseParams parses "key=value,key=value" (also ';' or newline separated)
// on top of DefaultParams. A bare key turns a switch on.
func ParseParams(s string) (Params, error) {
	p := DefaultParams()
	if err := p.Set(s); err != nil {
		return p, err
	}
	return p, nil
}

// Set applies a config string to p.
func (p *Params) Set(s string) error {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	for _, kv := range fields {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		key, val, hasVal := strings.Cut(kv, "=")
		if err := p.setKey(strings.TrimSpace(key), strings.TrimSpace(val), hasVal); err != nil {
			return err
		}
	}
	return nil
}

func (p *Params) setKey(key, val string, hasVal bool) error {
	v := reflect.ValueOf(p).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("json") != key {
			continue
		}
		f := v.Field(i)
		if f.Kind() == reflect.Bool {
			if !hasVal {
				f.SetBool(true)
				return nil
			}
			b, err := strconv.ParseBool(val)
			if err != nil {
				return errors.NewValidationError(key, "expected a boolean", val)
			}
			f.SetBool(b)
			return nil
		}
		if !hasVal {
			return errors.NewValidationError(key, "missing '=value'", "")
		}
		switch f.Kind() {
		case reflect.String:
			f.SetString(val)
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return errors.NewValidationError(key, "expected an integer", val)
			}
			f.SetInt(n)
		case reflect.Float64:
			x, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return errors.NewValidationError(key, "expected a number", val)
			}
			f.SetFloat(x)
		default:
			return errors.NewValidationError(key, fmt.Sprintf("unsupported kind %s", f.Kind()), val)
		}
		return nil
	}
	return errors.NewValidationError(key, "unknown parameter", val)
}
