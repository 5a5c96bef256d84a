package classifier

import (
	"fmt"

	"github.com/powerpig99/smart-socks-sub000/errors"
	"github.com/powerpig99/smart-socks-sub000/message"
)

// Config tunes the inference post-processing.
type Config struct {
	ArtifactPath       string  `json:"artifact_path"`
	RejectionThreshold float64 `json:"rejection_threshold"` // top probability below this yields "unknown"
	SmoothingLength    int     `json:"smoothing_length"`    // majority vote over the last N results
	SmoothingMinVotes  int     `json:"smoothing_min_votes"` // winner needs at least this many votes

	// KnownLabels, when non-empty, is the closed set of activity labels an
	// artifact may emit. Loading an artifact with a class outside the set
	// fails, catching a model trained against a different label scheme.
	KnownLabels []string `json:"known_labels"`
}

// DefaultConfig returns the tuning the model was validated with.
func DefaultConfig() Config {
	return Config{
		RejectionThreshold: 0.6,
		SmoothingLength:    5,
		SmoothingMinVotes:  3,
		KnownLabels: []string{
			"walking_forward", "stairs_up", "stairs_down",
			"sitting", "standing", "ankle_rotation",
		},
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.RejectionThreshold <= 0 || c.RejectionThreshold > 1 {
		c.RejectionThreshold = d.RejectionThreshold
	}
	if c.SmoothingLength <= 0 {
		c.SmoothingLength = d.SmoothingLength
	}
	if c.SmoothingMinVotes <= 0 {
		c.SmoothingMinVotes = d.SmoothingMinVotes
	}
	if c.SmoothingMinVotes > c.SmoothingLength {
		c.SmoothingMinVotes = c.SmoothingLength
	}
}

// Classifier runs forest inference over standardized feature vectors and
// smooths the label stream. Not safe for concurrent use; the pipeline owns
// one instance per session.
type Classifier struct {
	art     *Artifact
	cfg     Config
	history []string
	scratch []float64
	probs   []float64
	treeAcc []float64
}

// New loads the artifact at cfg.ArtifactPath and checks it against the
// extractor's feature names.
func New(cfg Config, featureNames []string) (*Classifier, error) {
	art, err := LoadArtifact(cfg.ArtifactPath)
	if err != nil {
		return nil, err
	}
	return NewFromArtifact(art, cfg, featureNames)
}

// NewFromArtifact wires an already-parsed artifact.
func NewFromArtifact(art *Artifact, cfg Config, featureNames []string) (*Classifier, error) {
	if err := art.VerifySchema(featureNames); err != nil {
		return nil, err
	}
	cfg.normalize()
	if len(cfg.KnownLabels) > 0 {
		known := make(map[string]bool, len(cfg.KnownLabels))
		for _, l := range cfg.KnownLabels {
			known[l] = true
		}
		for _, class := range art.Classes {
			if !known[class] {
				return nil, errors.WrapFatal(
					fmt.Errorf("artifact class %q not in known labels", class),
					"Classifier", "NewFromArtifact", "label set check")
			}
		}
	}
	return &Classifier{
		art:     art,
		cfg:     cfg,
		scratch: make([]float64, len(art.FeatureNames)),
		probs:   make([]float64, len(art.Classes)),
		treeAcc: make([]float64, len(art.Classes)),
	}, nil
}

// Classes returns the artifact's label set.
func (c *Classifier) Classes() []string { return c.art.Classes }

// Reset clears the smoothing history. Called when a session stops so a new
// session never votes against stale labels.
func (c *Classifier) Reset() { c.history = c.history[:0] }

// Classify runs one feature vector through the forest. The returned result
// carries the smoothed label, the pre-smoothing raw label, the top
// probability, and the full class distribution.
func (c *Classifier) Classify(fv message.FeatureVector) (message.ClassificationResult, error) {
	if len(fv.Values) != len(c.art.FeatureNames) {
		return message.ClassificationResult{}, errors.WrapInvalid(
			fmt.Errorf("vector has %d values, artifact wants %d",
				len(fv.Values), len(c.art.FeatureNames)),
			"Classifier", "Classify", "vector length check")
	}

	for i, v := range fv.Values {
		c.scratch[i] = (v - c.art.Scaler.Mean[i]) / c.art.Scaler.Scale[i]
	}

	for i := range c.probs {
		c.probs[i] = 0
	}
	for _, tree := range c.art.Forest.Trees {
		c.accumulateTree(&tree)
	}
	for i := range c.probs {
		c.probs[i] /= float64(len(c.art.Forest.Trees))
	}

	best := 0
	for i, p := range c.probs {
		if p > c.probs[best] {
			best = i
		}
	}
	rawLabel := c.art.Classes[best]
	confidence := c.probs[best]

	decided := rawLabel
	if confidence < c.cfg.RejectionThreshold {
		decided = message.LabelUnknown
	}

	probs := make(map[string]float64, len(c.probs))
	for i, p := range c.probs {
		probs[c.art.Classes[i]] = p
	}

	return message.ClassificationResult{
		Label:       c.smooth(decided),
		RawLabel:    rawLabel,
		Confidence:  confidence,
		TimestampMs: fv.TimestampMs,
		Probs:       probs,
	}, nil
}

// accumulateTree walks one tree to its leaf and adds the normalized leaf
// distribution into probs.
func (c *Classifier) accumulateTree(tree *Tree) {
	node := 0
	for tree.ChildrenLeft[node] >= 0 {
		if c.scratch[tree.Feature[node]] <= tree.Threshold[node] {
			node = tree.ChildrenLeft[node]
		} else {
			node = tree.ChildrenRight[node]
		}
	}

	leaf := tree.Value[node]
	total := 0.0
	for _, v := range leaf {
		total += v
	}
	if total <= 0 {
		return
	}
	for i, v := range leaf {
		c.probs[i] += v / total
	}
}

// smooth appends the decided label to the history and returns the majority
// over the last SmoothingLength decisions. The winner needs
// SmoothingMinVotes; short or split histories yield "unknown".
func (c *Classifier) smooth(decided string) string {
	c.history = append(c.history, decided)
	if len(c.history) > c.cfg.SmoothingLength {
		c.history = c.history[len(c.history)-c.cfg.SmoothingLength:]
	}

	counts := make(map[string]int, len(c.history))
	winner := message.LabelUnknown
	best := 0
	for _, l := range c.history {
		counts[l]++
		if l != message.LabelUnknown && counts[l] > best {
			best = counts[l]
			winner = l
		}
	}
	if best < c.cfg.SmoothingMinVotes {
		return message.LabelUnknown
	}
	return winner
}
