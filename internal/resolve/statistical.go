package resolve

import "math"

// FeatureVector holds the per-option features used to separate chosen marks
// from unchosen ones.
type FeatureVector struct {
	Fill   float64 `json:"fill"`   // the option's own fill score
	Margin float64 `json:"margin"` // fill minus the best other option
	Share  float64 `json:"share"`  // fill as a fraction of the row total
}

// StatClassifier scores ambiguous options against feature statistics learned
// from labeled rows. Each option is compared to the distribution of known
// chosen marks and known non-marks; the inverse-distance weights give a
// likelihood per option.
type StatClassifier struct {
	trainingSet *TrainingSet

	posMean, posStd FeatureVector
	negMean, negStd FeatureVector

	trained bool
}

// NewStatClassifier creates a classifier over the given training set.
func NewStatClassifier(ts *TrainingSet) *StatClassifier {
	return &StatClassifier{trainingSet: ts}
}

// Train computes feature statistics from the training set. Rows labeled with
// a chosen option contribute that option as a positive and the rest as
// negatives; rows labeled unreadable contribute only negatives.
func (c *StatClassifier) Train() {
	if c.trainingSet == nil {
		return
	}

	var positives, negatives []FeatureVector
	for _, sample := range c.trainingSet.GetSamples() {
		for option := range sample.Scores {
			fv := extractFeatures(sample.Scores, option)
			if option == sample.Label {
				positives = append(positives, fv)
			} else {
				negatives = append(negatives, fv)
			}
		}
	}

	if len(positives) > 0 {
		c.posMean, c.posStd = featureStats(positives)
	}
	if len(negatives) > 0 {
		c.negMean, c.negStd = featureStats(negatives)
	}
	c.trained = len(positives) > 0 && len(negatives) > 0
}

// Trained reports whether statistics have been computed.
func (c *StatClassifier) Trained() bool {
	return c.trained
}

// Classify picks the most likely chosen option for an ambiguous row.
// Patches are accepted for interface compatibility but this model works from
// scores alone. Returns (-1, 0) when untrained.
func (c *StatClassifier) Classify(scores []float64, patches [][]uint8) (int, float64) {
	if !c.trained || len(scores) == 0 {
		return -1, 0
	}

	// Likelihood per option from inverse distances to the two distributions
	likelihoods := make([]float64, len(scores))
	for option := range scores {
		fv := extractFeatures(scores, option)
		posDist := featureDistance(fv, c.posMean, c.posStd)
		negDist := featureDistance(fv, c.negMean, c.negStd)

		posWeight := 1.0 / (posDist + 0.001)
		negWeight := 1.0 / (negDist + 0.001)
		likelihoods[option] = posWeight / (posWeight + negWeight)
	}

	best, second := topTwo(likelihoods)
	if best < 0 {
		return -1, 0
	}
	secondLikelihood := 0.0
	if second >= 0 {
		secondLikelihood = likelihoods[second]
	}

	// Confidence demands both a likely winner and an unlikely runner-up, so
	// two equally marked options can never be confidently split.
	confidence := likelihoods[best] * (1 - secondLikelihood)
	return best, confidence
}

// extractFeatures builds one option's feature vector from a row's scores.
func extractFeatures(scores []float64, option int) FeatureVector {
	var total, bestOther float64
	for i, s := range scores {
		total += s
		if i != option && s > bestOther {
			bestOther = s
		}
	}

	fv := FeatureVector{
		Fill:   scores[option],
		Margin: scores[option] - bestOther,
	}
	if total > 0 {
		fv.Share = scores[option] / total
	}
	return fv
}

// featureDistance computes a normalized distance between a feature vector
// and a distribution. Standard deviations are floored so tight training
// clusters do not blow up the distance.
func featureDistance(fv, mean, std FeatureVector) float64 {
	score := sqDiff(fv.Fill, mean.Fill, std.Fill+0.1)
	score += sqDiff(fv.Margin, mean.Margin, std.Margin+0.1)
	score += sqDiff(fv.Share, mean.Share, std.Share+0.1)
	return math.Sqrt(score)
}

func sqDiff(a, b, s float64) float64 {
	if s < 0.001 {
		s = 0.001
	}
	d := (a - b) / s
	return d * d
}

// featureStats computes the mean and standard deviation of each feature.
func featureStats(features []FeatureVector) (mean, std FeatureVector) {
	n := float64(len(features))
	if n == 0 {
		return
	}

	for _, fv := range features {
		mean.Fill += fv.Fill
		mean.Margin += fv.Margin
		mean.Share += fv.Share
	}
	mean.Fill /= n
	mean.Margin /= n
	mean.Share /= n

	for _, fv := range features {
		std.Fill += (fv.Fill - mean.Fill) * (fv.Fill - mean.Fill)
		std.Margin += (fv.Margin - mean.Margin) * (fv.Margin - mean.Margin)
		std.Share += (fv.Share - mean.Share) * (fv.Share - mean.Share)
	}
	std.Fill = math.Sqrt(std.Fill / n)
	std.Margin = math.Sqrt(std.Margin / n)
	std.Share = math.Sqrt(std.Share / n)

	return
}
