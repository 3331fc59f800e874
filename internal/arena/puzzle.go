package arena

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	xerrors "AgentOS-Bridge/internal/errors"
)

// Family 是谜题类别。
type Family string

const (
	FamilyPattern   Family = "pattern"
	FamilyDeduction Family = "deduction"
	FamilyStrategy  Family = "strategy"
)

// Families 返回全部谜题类别。
func Families() []Family {
	return []Family{FamilyPattern, FamilyDeduction, FamilyStrategy}
}

// Puzzle 是一个固定的谜题实例及其标准答案校验器。对局期间不可修改。
type Puzzle struct {
	ID          string
	Family      Family
	Prompt      string
	Expected    string
	Explanation string

	validate func(answer string) bool
}

// Validate 判断答案是否正确。
func (p Puzzle) Validate(answer string) bool {
	if p.validate == nil {
		return strings.EqualFold(strings.TrimSpace(answer), p.Expected)
	}
	return p.validate(answer)
}

var numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// numericValidator 在答案中查找与期望值相等的数字。
func numericValidator(expected int64) func(string) bool {
	return func(answer string) bool {
		for _, tok := range numberPattern.FindAllString(answer, -1) {
			v, err := strconv.ParseFloat(tok, 64)
			if err == nil && v == float64(expected) {
				return true
			}
		}
		return false
	}
}

// NewSequencePuzzle 构造数列补全谜题，期望值为下一项。
func NewSequencePuzzle(sequence []int64, next int64, rule string) Puzzle {
	items := make([]string, len(sequence))
	for i, v := range sequence {
		items[i] = strconv.FormatInt(v, 10)
	}
	shown := strings.Join(items, ", ") + ", ?"
	return Puzzle{
		ID:     uuid.NewString(),
		Family: FamilyPattern,
		Prompt: fmt.Sprintf("PATTERN RECOGNITION\nObserve the sequence: %s\nWhat number comes next? "+
			"Explain the pattern, then give the next number as the final answer.", shown),
		Expected:    strconv.FormatInt(next, 10),
		Explanation: rule,
		validate:    numericValidator(next),
	}
}

// Generate 按类别生成谜题。相同的随机源产生相同的谜题。
func Generate(family Family, rng *rand.Rand) (Puzzle, error) {
	switch family {
	case FamilyPattern:
		return generatePattern(rng), nil
	case FamilyDeduction:
		return generateDeduction(rng), nil
	case FamilyStrategy:
		return generateKnapsack(rng), nil
	default:
		return Puzzle{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown puzzle family %q", family))
	}
}

func generatePattern(rng *rand.Rand) Puzzle {
	const shown = 4
	seq := make([]int64, shown+1)
	var rule string
	switch rng.IntN(4) {
	case 0:
		start, step := int64(rng.IntN(20)+1), int64(rng.IntN(9)+2)
		for i := range seq {
			seq[i] = start + int64(i)*step
		}
		rule = fmt.Sprintf("add %d each time", step)
	case 1:
		start, ratio := int64(rng.IntN(5)+1), int64(rng.IntN(2)+2)
		seq[0] = start
		for i := 1; i < len(seq); i++ {
			seq[i] = seq[i-1] * ratio
		}
		rule = fmt.Sprintf("multiply by %d each time", ratio)
	case 2:
		offset := int64(rng.IntN(6) + 1)
		for i := range seq {
			n := offset + int64(i)
			seq[i] = n * n
		}
		rule = fmt.Sprintf("squares starting at %d", offset)
	default:
		a, b := int64(rng.IntN(4)+1), int64(rng.IntN(4)+2)
		seq[0], seq[1] = a, a+b
		for i := 2; i < len(seq); i++ {
			seq[i] = seq[i-1] + seq[i-2]
		}
		rule = "each number is the sum of the previous two"
	}
	return NewSequencePuzzle(seq[:shown], seq[shown], rule)
}

var deductionNames = []string{"Alice", "Bruno", "Chen", "Dana", "Emeka", "Farah"}

func generateDeduction(rng *rand.Rand) Puzzle {
	n := 4
	perm := rng.Perm(len(deductionNames))[:n]
	people := make([]string, n)
	for i, idx := range perm {
		people[i] = deductionNames[idx] // 从高到矮
	}
	premises := make([]string, 0, n-1)
	for i := 0; i < n-1; i++ {
		premises = append(premises, fmt.Sprintf("%s is taller than %s.", people[i], people[i+1]))
	}
	rng.Shuffle(len(premises), func(i, j int) { premises[i], premises[j] = premises[j], premises[i] })

	tallest := rng.IntN(2) == 0
	question, expected := "Who is the tallest?", people[0]
	if !tallest {
		question, expected = "Who is the shortest?", people[n-1]
	}

	var b strings.Builder
	b.WriteString("LOGICAL DEDUCTION\nGiven the premises:\n")
	for _, p := range premises {
		b.WriteString("- ")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	b.WriteString(question)
	b.WriteString(" Answer with the name.")

	return Puzzle{
		ID:          uuid.NewString(),
		Family:      FamilyDeduction,
		Prompt:      b.String(),
		Expected:    expected,
		Explanation: "transitivity: " + strings.Join(people, " > "),
		validate:    nameValidator(expected, people),
	}
}

// nameValidator 以答案中最先出现的候选人为准。
func nameValidator(expected string, candidates []string) func(string) bool {
	return func(answer string) bool {
		lower := strings.ToLower(answer)
		first, firstAt := "", -1
		for _, c := range candidates {
			re := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(c)) + `\b`)
			loc := re.FindStringIndex(lower)
			if loc != nil && (firstAt < 0 || loc[0] < firstAt) {
				first, firstAt = c, loc[0]
			}
		}
		return first == expected
	}
}

type item struct {
	name   string
	weight int
	value  int
}

var knapsackItems = []string{"tent", "stove", "rope", "lamp", "radio", "map", "water", "kit"}

func generateKnapsack(rng *rand.Rand) Puzzle {
	n := 5
	perm := rng.Perm(len(knapsackItems))[:n]
	items := make([]item, n)
	total := 0
	for i, idx := range perm {
		items[i] = item{name: knapsackItems[idx], weight: rng.IntN(6) + 1, value: rng.IntN(11) + 2}
		total += items[i].weight
	}
	capacity := max(total/2, 1)
	best := knapsack(items, capacity)

	var b strings.Builder
	fmt.Fprintf(&b, "STRATEGIC PLANNING\nA pack holds at most %d kg. Available items:\n", capacity)
	for _, it := range items {
		fmt.Fprintf(&b, "- %s: %d kg, value %d\n", it.name, it.weight, it.value)
	}
	b.WriteString("Each item can be packed once. What is the highest total value that fits? Give the number as the final answer.")

	return Puzzle{
		ID:          uuid.NewString(),
		Family:      FamilyStrategy,
		Prompt:      b.String(),
		Expected:    strconv.Itoa(best),
		Explanation: "0/1 knapsack optimum",
		validate:    numericValidator(int64(best)),
	}
}

// knapsack 返回 0/1 背包的最优价值。
func knapsack(items []item, capacity int) int {
	best := make([]int, capacity+1)
	for _, it := range items {
		for w := capacity; w >= it.weight; w-- {
			best[w] = max(best[w], best[w-it.weight]+it.value)
		}
	}
	return best[capacity]
}
