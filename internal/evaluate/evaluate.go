// Package evaluate computes forecast quality metrics: multi-class Brier
// score, expected calibration error, accuracy and macro-F1, a binary AUC
// approximation, segment breakdowns, and chronological robustness.
package evaluate

import (
	"math"
	"sort"
	"time"

	"stockcast/internal/domain"
)

// Sample is one prediction joined with its outcome. Actual is empty for
// unlabeled predictions; they count toward totals but not quality metrics.
type Sample struct {
	Prediction     string
	PUp            float64
	PDown          float64
	PFlat          float64
	Actual         string
	RealizedRet    *float64
	ExcessRet      *float64
	IsCorrect      *bool
	PredictionDate time.Time
	EventType      domain.EventType
}

func (s Sample) labeled() bool { return s.Actual != "" }

// Brier computes the 3-class Brier score over labeled samples:
// mean over samples of sum over classes of (p_k - o_k)^2.
// Empty input scores worst-possible 1.0; lower is better.
func Brier(samples []Sample) float64 {
	total := 0.0
	count := 0
	for _, s := range samples {
		if !s.labeled() {
			continue
		}
		oUp, oDown, oFlat := oneHot(s.Actual)
		bs := sq(s.PUp-oUp) + sq(s.PDown-oDown) + sq(s.PFlat-oFlat)
		total += bs
		count++
	}
	if count == 0 {
		return 1.0
	}
	return total / float64(count)
}

func oneHot(label string) (up, down, flat float64) {
	switch label {
	case domain.PredictionUp:
		return 1, 0, 0
	case domain.PredictionDown:
		return 0, 1, 0
	case domain.PredictionFlat:
		return 0, 0, 1
	}
	return 0, 0, 0
}

func sq(v float64) float64 { return v * v }

// ECE computes the expected calibration error over nBins confidence bins.
// Confidence is the probability assigned to the predicted class. Abstain
// predictions are excluded. Empty input scores worst-possible 1.0.
func ECE(samples []Sample, nBins int) float64 {
	type bin struct {
		correct       int
		total         int
		confidenceSum float64
	}
	bins := make([]bin, nBins)

	for _, s := range samples {
		if !s.labeled() || s.Prediction == domain.PredictionAbstain {
			continue
		}
		var confidence float64
		switch s.Prediction {
		case domain.PredictionUp:
			confidence = s.PUp
		case domain.PredictionDown:
			confidence = s.PDown
		case domain.PredictionFlat:
			confidence = s.PFlat
		default:
			confidence = 0.33
		}

		idx := int(confidence * float64(nBins))
		if idx >= nBins {
			idx = nBins - 1
		}
		if idx < 0 {
			idx = 0
		}
		bins[idx].total++
		bins[idx].confidenceSum += confidence
		if s.Prediction == s.Actual {
			bins[idx].correct++
		}
	}

	totalSamples := 0
	for _, b := range bins {
		totalSamples += b.total
	}
	if totalSamples == 0 {
		return 1.0
	}

	ece := 0.0
	for _, b := range bins {
		if b.total == 0 {
			continue
		}
		avgConfidence := b.confidenceSum / float64(b.total)
		accuracy := float64(b.correct) / float64(b.total)
		ece += float64(b.total) / float64(totalSamples) * math.Abs(accuracy-avgConfidence)
	}
	return ece
}

// AccuracyF1 computes accuracy and macro-F1 over the three directional
// classes. Abstain and unlabeled samples are excluded.
func AccuracyF1(samples []Sample) (accuracy, f1 float64) {
	classes := []string{domain.PredictionUp, domain.PredictionDown, domain.PredictionFlat}
	tp := make(map[string]int)
	fp := make(map[string]int)
	fn := make(map[string]int)

	correct, total := 0, 0
	for _, s := range samples {
		if !s.labeled() || s.Prediction == domain.PredictionAbstain {
			continue
		}
		total++
		if s.Prediction == s.Actual {
			correct++
			tp[s.Prediction]++
		} else {
			fp[s.Prediction]++
			fn[s.Actual]++
		}
	}

	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}

	f1Sum := 0.0
	for _, cls := range classes {
		var precision, recall float64
		if tp[cls]+fp[cls] > 0 {
			precision = float64(tp[cls]) / float64(tp[cls]+fp[cls])
		}
		if tp[cls]+fn[cls] > 0 {
			recall = float64(tp[cls]) / float64(tp[cls]+fn[cls])
		}
		if precision+recall > 0 {
			f1Sum += 2 * precision * recall / (precision + recall)
		}
	}
	f1 = f1Sum / float64(len(classes))

	return round4(accuracy), round4(f1)
}

// AUCBinary approximates the Up-vs-not-Up AUC with the Mann-Whitney U
// statistic over p_up. Returns nil when either class is empty.
func AUCBinary(samples []Sample) *float64 {
	var positives, negatives []float64
	for _, s := range samples {
		if !s.labeled() || s.Prediction == domain.PredictionAbstain {
			continue
		}
		if s.Actual == domain.PredictionUp {
			positives = append(positives, s.PUp)
		} else {
			negatives = append(negatives, s.PUp)
		}
	}
	if len(positives) == 0 || len(negatives) == 0 {
		return nil
	}

	concordant := 0.0
	for _, p := range positives {
		for _, n := range negatives {
			if p > n {
				concordant++
			} else if p == n {
				concordant += 0.5
			}
		}
	}
	auc := concordant / float64(len(positives)*len(negatives))
	return domain.Ptr(round4(auc))
}

// ByEventType breaks performance down per event type.
func ByEventType(samples []Sample) map[domain.EventType]domain.SegmentMetrics {
	byType := make(map[domain.EventType][]Sample)
	for _, s := range samples {
		et := s.EventType
		if et == "" {
			et = domain.EventOther
		}
		byType[et] = append(byType[et], s)
	}

	result := make(map[domain.EventType]domain.SegmentMetrics, len(byType))
	for et, group := range byType {
		accuracy, f1 := AccuracyF1(group)
		abstain := 0
		for _, s := range group {
			if s.Prediction == domain.PredictionAbstain {
				abstain++
			}
		}
		result[et] = domain.SegmentMetrics{
			Total:        len(group),
			Accuracy:     accuracy,
			F1:           f1,
			Brier:        round4(Brier(group)),
			AbstainCount: abstain,
		}
	}
	return result
}

// ByDirection breaks performance down per predicted class.
func ByDirection(samples []Sample) map[string]domain.DirectionMetrics {
	type stats struct{ total, correct int }
	byDir := make(map[string]*stats)
	for _, s := range samples {
		if !s.labeled() || s.Prediction == domain.PredictionAbstain {
			continue
		}
		st, ok := byDir[s.Prediction]
		if !ok {
			st = &stats{}
			byDir[s.Prediction] = st
		}
		st.total++
		if s.Prediction == s.Actual {
			st.correct++
		}
	}

	result := make(map[string]domain.DirectionMetrics, len(byDir))
	for dir, st := range byDir {
		var accuracy float64
		if st.total > 0 {
			accuracy = round4(float64(st.correct) / float64(st.total))
		}
		result[dir] = domain.DirectionMetrics{
			Total:    st.total,
			Correct:  st.correct,
			Accuracy: accuracy,
		}
	}
	return result
}

// Robustness splits samples into four chronological quartiles and reports
// the spread of per-quartile accuracy. Fields stay nil with fewer than 8
// samples or fewer than 2 non-empty quartiles.
func Robustness(samples []Sample) domain.RobustnessMetrics {
	if len(samples) < 8 {
		return domain.RobustnessMetrics{}
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PredictionDate.Before(sorted[j].PredictionDate)
	})

	quarter := len(sorted) / 4
	splits := [][]Sample{
		sorted[:quarter],
		sorted[quarter : 2*quarter],
		sorted[2*quarter : 3*quarter],
		sorted[3*quarter:],
	}

	var accuracies []float64
	for _, split := range splits {
		if len(split) == 0 {
			continue
		}
		acc, _ := AccuracyF1(split)
		accuracies = append(accuracies, acc)
	}
	if len(accuracies) < 2 {
		return domain.RobustnessMetrics{}
	}

	mean := 0.0
	for _, a := range accuracies {
		mean += a
	}
	mean /= float64(len(accuracies))

	variance := 0.0
	minAcc, maxAcc := accuracies[0], accuracies[0]
	rounded := make([]float64, len(accuracies))
	for i, a := range accuracies {
		variance += sq(a - mean)
		minAcc = math.Min(minAcc, a)
		maxAcc = math.Max(maxAcc, a)
		rounded[i] = round4(a)
	}
	variance /= float64(len(accuracies))

	return domain.RobustnessMetrics{
		Variance:        domain.Ptr(math.Round(variance*1e6) / 1e6),
		StdDev:          domain.Ptr(round4(math.Sqrt(variance))),
		MinAccuracy:     domain.Ptr(round4(minAcc)),
		MaxAccuracy:     domain.Ptr(round4(maxAcc)),
		SplitAccuracies: rounded,
	}
}

// Compute aggregates all metrics over the full sample set, labeled or not.
func Compute(samples []Sample) domain.Metrics {
	var labeled []Sample
	abstain := 0
	for _, s := range samples {
		if s.labeled() {
			labeled = append(labeled, s)
		}
		if s.Prediction == domain.PredictionAbstain {
			abstain++
		}
	}

	accuracy, f1 := AccuracyF1(labeled)
	m := domain.Metrics{
		Accuracy:           accuracy,
		F1:                 f1,
		Brier:              round4(Brier(labeled)),
		CalibrationError:   round4(ECE(labeled, 10)),
		AUC:                AUCBinary(labeled),
		TotalPredictions:   len(samples),
		LabeledPredictions: len(labeled),
		AbstainCount:       abstain,
		ByEventType:        ByEventType(labeled),
		ByDirection:        ByDirection(labeled),
		Robustness:         Robustness(labeled),
	}
	if len(samples) > 0 {
		m.AbstainRate = round4(float64(abstain) / float64(len(samples)))
	}

	var excessSum float64
	excessCount := 0
	for _, s := range labeled {
		if s.ExcessRet != nil {
			excessSum += *s.ExcessRet
			excessCount++
		}
	}
	if excessCount > 0 {
		m.AvgExcessReturn = domain.Ptr(round4(excessSum / float64(excessCount)))
	}

	return m
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
