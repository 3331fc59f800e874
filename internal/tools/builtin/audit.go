package builtin

import (
	"context"
	"fmt"
	"math"
	"strings"

	"AgentOS-Bridge/internal/tools"
)

const (
	auditFeatures      = 10
	auditInformative   = 5
	minMinorityRatio   = 0.3
	maxStdDevSpread    = 10.0
	defaultAuditSample = 500
)

// DataAudit 返回数据质量审计工具：生成带缺陷的合成数据，检查类别平衡与特征尺度，并在需要时修正。
func DataAudit(seed int64) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "data_audit",
			Description: "Generate a synthetic dataset, audit class balance and feature scaling, refine it and report before/after quality.",
			Params: []tools.Param{
				{Name: "samples", Type: tools.TypeInteger, Default: float64(defaultAuditSample), Rules: "min=50,max=5000"},
				{Name: "minority", Type: tools.TypeNumber, Default: 0.15, Rules: "gt=0,lt=1"},
				{Name: "seed", Type: tools.TypeInteger, Default: float64(seed)},
			},
			SideEffect: tools.PureQuery,
			Latency:    tools.LatencyStandard,
		},
		Fn: func(_ context.Context, p tools.Params) (tools.Observation, error) {
			return audit(int64(p.Int("seed")), p.Int("samples"), p.Float("minority")), nil
		},
	}
}

type auditCheck struct {
	Samples       int     `json:"samples"`
	MinorityRatio float64 `json:"minority_ratio"`
	StdDevSpread  float64 `json:"std_dev_spread"`
	Balanced      bool    `json:"balanced"`
	Scaled        bool    `json:"scaled"`
}

func (c auditCheck) passed() bool { return c.Balanced && c.Scaled }

func (c auditCheck) asMap() map[string]any {
	return map[string]any{
		"samples":        c.Samples,
		"minority_ratio": round2(c.MinorityRatio),
		"std_dev_spread": round2(c.StdDevSpread),
		"balanced":       c.Balanced,
		"scaled":         c.Scaled,
	}
}

func check(d *dataset) auditCheck {
	ratio, _ := classBalance(d.labels)
	spread, _, _ := scaleSpread(d.cols)
	return auditCheck{
		Samples:       d.rows(),
		MinorityRatio: ratio,
		StdDevSpread:  spread,
		Balanced:      ratio >= minMinorityRatio,
		Scaled:        spread <= maxStdDevSpread,
	}
}

func audit(seed int64, samples int, minority float64) tools.Observation {
	rng := newRand(seed)
	raw := makeClassification(rng, samples, auditFeatures, auditInformative, minority, true)
	before := check(raw)

	var report []string
	report = append(report, fmt.Sprintf("generated %d rows x %d features (seed %d)", samples, auditFeatures, seed))
	if before.Balanced {
		report = append(report, "class balance acceptable")
	} else {
		report = append(report, fmt.Sprintf("imbalance detected: minority ratio %.2f", before.MinorityRatio))
	}
	if before.Scaled {
		report = append(report, "feature scaling acceptable")
	} else {
		report = append(report, fmt.Sprintf("scaling issue: std-dev spread %.1fx", before.StdDevSpread))
	}

	after := before
	refined := !before.passed()
	var steps []any
	if refined {
		data := raw
		if !before.Balanced {
			data = oversample(rng, raw)
			steps = append(steps, "oversampling")
			report = append(report, fmt.Sprintf("oversampled minority class to %d rows", data.rows()))
		}
		if !before.Scaled || data != raw {
			standardize(data.cols)
			steps = append(steps, "standardization")
			report = append(report, "standardized features")
		}
		after = check(data)
	}
	status := "QUALIFIED"
	if refined {
		status = "REFINED -> QUALIFIED"
		if !after.passed() {
			status = "REJECTED"
		}
	}
	report = append(report, "status: "+status)

	return tools.NewObservation(strings.Join(report, "\n"), map[string]any{
		"seed":    seed,
		"before":  before.asMap(),
		"after":   after.asMap(),
		"refined": refined,
		"steps":   steps,
		"status":  status,
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
