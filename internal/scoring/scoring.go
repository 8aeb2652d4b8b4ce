// Package scoring combines weighted factor signals into bounded category and
// overall scores. Trust and risk both describe their factor catalogs as a
// Model and share Aggregate.
//
// Aggregate is a pure function: it never reads clocks or global state and
// iterates categories and factors in sorted order, so identical inputs produce
// bit-identical outputs.
package scoring

import (
	"math"
	"sort"
)

// Neutral is the contribution of a factor whose signal is absent. Missing data
// neither penalizes nor rewards a subject.
const Neutral = 0.5

// Factor is a leaf signal with a fixed weight inside its category.
type Factor struct {
	ID       string
	Category string
	Weight   float64
}

// Category groups factors and carries a fixed weight in the overall score.
type Category struct {
	ID     string
	Weight float64
}

// Model is a static catalog of categories and their member factors.
// AdjustmentWeight scales the secondary adjustment derived from the factors
// that actually reported a signal.
type Model struct {
	Categories       []Category
	Factors          []Factor
	AdjustmentWeight float64
}

// Result is the output of one aggregation. CategoryScores only holds categories
// with at least one reported factor; FactorScores only holds reported factors.
type Result struct {
	Overall        float64
	CategoryScores map[string]float64
	FactorScores   map[string]float64
}

// Clamp bounds v to [0,1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize converts a raw signal to a [0,1] score. Booleans map to {0,1},
// numbers are clamped. Unsupported types report ok=false.
func Normalize(raw any) (float64, bool) {
	if b, ok := raw.(bool); ok {
		if b {
			return 1, true
		}
		return 0, true
	}
	v, ok := Number(raw)
	if !ok {
		return 0, false
	}
	return Clamp(v), true
}

// Number converts numeric signal values, including json.Number, to float64
// without clamping.
func Number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case interface{ Float64() (float64, error) }:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Aggregate scores signals against the model.
//
// Per-category score is the weighted mean of member factors, with absent
// factors contributing Neutral. The overall score is the category-weighted mean
// over categories that reported at least one signal, shifted by
// AdjustmentWeight × (weighted mean of reported factors − Neutral), then
// clamped. With no reported signals the overall score is Neutral.
func Aggregate(model Model, signals map[string]any) Result {
	res := Result{
		CategoryScores: make(map[string]float64),
		FactorScores:   make(map[string]float64),
	}

	byCategory := make(map[string][]Factor, len(model.Categories))
	for _, f := range model.Factors {
		byCategory[f.Category] = append(byCategory[f.Category], f)
	}

	categories := append([]Category(nil), model.Categories...)
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })

	var catSum, catWeight float64
	var trigSum, trigWeight float64
	for _, cat := range categories {
		factors := byCategory[cat.ID]
		sort.Slice(factors, func(i, j int) bool { return factors[i].ID < factors[j].ID })

		var sum, weight float64
		present := false
		for _, f := range factors {
			w := math.Max(f.Weight, 0)
			score := Neutral
			if raw, ok := signals[f.ID]; ok {
				if v, ok := Normalize(raw); ok {
					score = v
					present = true
					res.FactorScores[f.ID] = v
					trigSum += v * w
					trigWeight += w
				}
			}
			sum += score * w
			weight += w
		}
		if !present || weight == 0 {
			continue
		}

		catScore := Clamp(sum / weight)
		res.CategoryScores[cat.ID] = catScore
		cw := math.Max(cat.Weight, 0)
		catSum += catScore * cw
		catWeight += cw
	}

	if catWeight == 0 {
		res.Overall = Neutral
		return res
	}

	overall := catSum / catWeight
	if trigWeight > 0 {
		overall += model.AdjustmentWeight * (trigSum/trigWeight - Neutral)
	}
	res.Overall = Clamp(overall)
	return res
}

// WeightedMean returns the weighted mean of values keyed like weights, counting
// only keys present in values. ok=false when nothing contributed.
func WeightedMean(values, weights map[string]float64) (float64, bool) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sum, total float64
	for _, k := range keys {
		w, ok := weights[k]
		if !ok || w <= 0 {
			continue
		}
		sum += values[k] * w
		total += w
	}
	if total == 0 {
		return 0, false
	}
	return Clamp(sum / total), true
}
