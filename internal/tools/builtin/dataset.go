package builtin

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// dataset 是按列存储的合成表格数据。
type dataset struct {
	cols   [][]float64
	labels []float64
}

func (d *dataset) rows() int { return len(d.labels) }

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// makeClassification 生成二分类数据，前 informative 列与标签相关，各列尺度不同。
func makeClassification(rng *rand.Rand, samples, features, informative int, minority float64, scaled bool) *dataset {
	d := &dataset{cols: make([][]float64, features), labels: make([]float64, samples)}
	for j := range d.cols {
		d.cols[j] = make([]float64, samples)
	}
	for i := 0; i < samples; i++ {
		label := 0.0
		if rng.Float64() < minority {
			label = 1
		}
		d.labels[i] = label
		for j := 0; j < features; j++ {
			v := rng.NormFloat64()
			if j < informative {
				v += (2*label - 1) * 1.5
			}
			if scaled {
				v *= 1 + 3*float64(j)
			}
			d.cols[j][i] = v
		}
	}
	return d
}

// classBalance 返回少数类占比与各类数量。
func classBalance(labels []float64) (ratio float64, counts map[float64]int) {
	counts = make(map[float64]int)
	for _, l := range labels {
		counts[l]++
	}
	if len(labels) == 0 {
		return 0, counts
	}
	minCount := len(labels)
	for _, c := range counts {
		minCount = min(minCount, c)
	}
	if len(counts) < 2 {
		minCount = 0
	}
	return float64(minCount) / float64(len(labels)), counts
}

// scaleSpread 返回各列标准差的最大值与最小值之比。
func scaleSpread(cols [][]float64) (ratio, lo, hi float64) {
	for j, col := range cols {
		sd := stat.StdDev(col, nil)
		if j == 0 || sd < lo {
			lo = sd
		}
		if j == 0 || sd > hi {
			hi = sd
		}
	}
	if lo == 0 {
		return 0, lo, hi
	}
	return hi / lo, lo, hi
}

// oversample 有放回地复制少数类样本，直到各类数量相等。
func oversample(rng *rand.Rand, d *dataset) *dataset {
	_, counts := classBalance(d.labels)
	target := 0
	for _, c := range counts {
		target = max(target, c)
	}
	byClass := make(map[float64][]int)
	for i, l := range d.labels {
		byClass[l] = append(byClass[l], i)
	}
	out := &dataset{cols: make([][]float64, len(d.cols))}
	for j := range d.cols {
		out.cols[j] = append([]float64(nil), d.cols[j]...)
	}
	out.labels = append([]float64(nil), d.labels...)
	for _, class := range []float64{0, 1} {
		idx := byClass[class]
		if len(idx) == 0 {
			continue
		}
		for n := len(idx); n < target; n++ {
			pick := idx[rng.IntN(len(idx))]
			for j := range out.cols {
				out.cols[j] = append(out.cols[j], d.cols[j][pick])
			}
			out.labels = append(out.labels, class)
		}
	}
	return out
}

// standardize 将每列变换为零均值单位方差，返回使用的均值与标准差。
func standardize(cols [][]float64) (means, sds []float64) {
	means = make([]float64, len(cols))
	sds = make([]float64, len(cols))
	for j, col := range cols {
		m, sd := stat.MeanStdDev(col, nil)
		means[j], sds[j] = m, sd
		applyScale(col, m, sd)
	}
	return means, sds
}

func applyScale(col []float64, mean, sd float64) {
	if sd == 0 {
		sd = 1
	}
	for i := range col {
		col[i] = (col[i] - mean) / sd
	}
}
