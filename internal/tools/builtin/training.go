package builtin

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"AgentOS-Bridge/internal/tools"
)

// ModelTraining 返回模型训练工具：在合成数据上训练基线与线性模型并报告指标。
func ModelTraining(seed int64) tools.Tool {
	return tools.Func{
		Def: tools.Definition{
			Name:        "model_training",
			Description: "Train a baseline and a linear model (logistic or least squares) on synthetic data and report train/test metrics.",
			Params: []tools.Param{
				{Name: "task", Type: tools.TypeString, Default: "classification", Rules: "oneof=classification regression"},
				{Name: "samples", Type: tools.TypeInteger, Default: float64(400), Rules: "min=50,max=5000"},
				{Name: "features", Type: tools.TypeInteger, Default: float64(8), Rules: "min=1,max=50"},
				{Name: "seed", Type: tools.TypeInteger, Default: float64(seed)},
			},
			SideEffect: tools.PureQuery,
			Latency:    tools.LatencySlow,
		},
		Fn: func(ctx context.Context, p tools.Params) (tools.Observation, error) {
			return train(ctx, p.String("task"), int64(p.Int("seed")), p.Int("samples"), p.Int("features"))
		},
	}
}

type split struct {
	trainX, testX [][]float64
	trainY, testY []float64
}

// makeSplit 生成样本并按 75/25 切分，特征使用训练集统计量标准化。
func makeSplit(rng *rand.Rand, task string, samples, features int) split {
	weights := make([]float64, features)
	for j := range weights {
		weights[j] = rng.NormFloat64()
	}
	rows := make([][]float64, samples)
	ys := make([]float64, samples)
	for i := range rows {
		row := make([]float64, features)
		for j := range row {
			row[j] = rng.NormFloat64() * float64(1+j%3)
		}
		signal := floats.Dot(row, weights)
		if task == "regression" {
			ys[i] = signal + 0.1*rng.NormFloat64()
		} else if signal+0.5*rng.NormFloat64() > 0 {
			ys[i] = 1
		}
		rows[i] = row
	}
	cut := samples * 3 / 4
	s := split{trainX: rows[:cut], testX: rows[cut:], trainY: ys[:cut], testY: ys[cut:]}

	col := make([]float64, cut)
	for j := 0; j < features; j++ {
		for i, r := range s.trainX {
			col[i] = r[j]
		}
		m, sd := stat.MeanStdDev(col, nil)
		if sd == 0 {
			sd = 1
		}
		for _, r := range rows {
			r[j] = (r[j] - m) / sd
		}
	}
	return s
}

func train(ctx context.Context, task string, seed int64, samples, features int) (tools.Observation, error) {
	s := makeSplit(newRand(seed), task, samples, features)
	if task == "regression" {
		return trainRegression(s, seed)
	}
	return trainClassifier(ctx, s, seed)
}

func trainRegression(s split, seed int64) (tools.Observation, error) {
	x := designMatrix(s.trainX)
	y := mat.NewVecDense(len(s.trainY), append([]float64(nil), s.trainY...))
	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return tools.Observation{}, tools.Failuref("least squares did not converge")
	}
	predict := func(rows [][]float64) []float64 {
		out := make([]float64, len(rows))
		for i, r := range rows {
			out[i] = beta.AtVec(0)
			for j, v := range r {
				out[i] += beta.AtVec(j+1) * v
			}
		}
		return out
	}
	mean := stat.Mean(s.trainY, nil)
	baseline := func(rows [][]float64) []float64 {
		out := make([]float64, len(rows))
		for i := range out {
			out[i] = mean
		}
		return out
	}
	models := []modelScore{
		{"Baseline", r2(s.trainY, baseline(s.trainX)), r2(s.testY, baseline(s.testX))},
		{"LinReg", r2(s.trainY, predict(s.trainX)), r2(s.testY, predict(s.testX))},
	}
	return report("regression", "R²", seed, len(s.trainY)+len(s.testY), models, nil), nil
}

func trainClassifier(ctx context.Context, s split, seed int64) (tools.Observation, error) {
	features := len(s.trainX[0])
	w := make([]float64, features)
	var bias float64
	grad := make([]float64, features)
	const (
		epochs = 300
		rate   = 0.1
	)
	n := float64(len(s.trainX))
	for epoch := 0; epoch < epochs; epoch++ {
		if epoch%50 == 0 && ctx.Err() != nil {
			return tools.Observation{}, ctx.Err()
		}
		for j := range grad {
			grad[j] = 0
		}
		var gb float64
		for i, row := range s.trainX {
			diff := sigmoid(floats.Dot(w, row)+bias) - s.trainY[i]
			floats.AddScaled(grad, diff, row)
			gb += diff
		}
		floats.AddScaled(w, -rate/n, grad)
		bias -= rate * gb / n
	}
	classify := func(rows [][]float64) []float64 {
		out := make([]float64, len(rows))
		for i, r := range rows {
			if sigmoid(floats.Dot(w, r)+bias) >= 0.5 {
				out[i] = 1
			}
		}
		return out
	}
	majority := 0.0
	if stat.Mean(s.trainY, nil) >= 0.5 {
		majority = 1
	}
	constant := func(rows [][]float64) []float64 {
		out := make([]float64, len(rows))
		for i := range out {
			out[i] = majority
		}
		return out
	}
	testPred := classify(s.testX)
	models := []modelScore{
		{"Baseline", accuracy(s.trainY, constant(s.trainX)), accuracy(s.testY, constant(s.testX))},
		{"LogReg", accuracy(s.trainY, classify(s.trainX)), accuracy(s.testY, testPred)},
	}
	return report("classification", "accuracy", seed, len(s.trainY)+len(s.testY), models, confusion(s.testY, testPred)), nil
}

type modelScore struct {
	name        string
	train, test float64
}

func report(task, metric string, seed int64, samples int, models []modelScore, matrix [][]int) tools.Observation {
	best := models[0]
	labels := make([]any, len(models))
	trainVals := make([]any, len(models))
	testVals := make([]any, len(models))
	for i, m := range models {
		labels[i] = m.name
		trainVals[i] = round2(m.train)
		testVals[i] = round2(m.test)
		if m.test > best.test {
			best = m
		}
	}
	data := map[string]any{
		"task":       task,
		"metric":     metric,
		"seed":       seed,
		"samples":    samples,
		"best_model": best.name,
		"chart": map[string]any{
			"labels": labels,
			"train":  trainVals,
			"test":   testVals,
		},
	}
	if matrix != nil {
		grid := make([]any, len(matrix))
		for i, row := range matrix {
			cells := make([]any, len(row))
			for j, v := range row {
				cells[j] = v
			}
			grid[i] = cells
		}
		data["confusion_matrix"] = grid
	}
	summary := fmt.Sprintf("trained %d models on %d samples; best %s (test %s %.2f)",
		len(models), samples, best.name, metric, best.test)
	return tools.NewObservation(summary, data)
}

func designMatrix(rows [][]float64) *mat.Dense {
	cols := len(rows[0]) + 1
	x := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		x.Set(i, 0, 1)
		for j, v := range r {
			x.Set(i, j+1, v)
		}
	}
	return x
}

func sigmoid(z float64) float64 { return 1 / (1 + math.Exp(-z)) }

func accuracy(want, got []float64) float64 {
	if len(want) == 0 {
		return 0
	}
	hits := 0
	for i := range want {
		if want[i] == got[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

func r2(want, got []float64) float64 {
	mean := stat.Mean(want, nil)
	var ssRes, ssTot float64
	for i := range want {
		ssRes += (want[i] - got[i]) * (want[i] - got[i])
		ssTot += (want[i] - mean) * (want[i] - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

func confusion(want, got []float64) [][]int {
	m := [][]int{{0, 0}, {0, 0}}
	for i := range want {
		m[int(want[i])][int(got[i])]++
	}
	return m
}
