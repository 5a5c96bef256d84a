package classifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpig99/smart-socks-sub000/message"
)

// stumpTree splits on feature 0 at threshold 0.5 and routes to pure leaves.
func stumpTree(leftClass, rightClass int, numClasses int) Tree {
	left := make([]float64, numClasses)
	right := make([]float64, numClasses)
	left[leftClass] = 10
	right[rightClass] = 10
	return Tree{
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{0, -2, -2},
		Threshold:     []float64{0.5, 0, 0},
		Value:         [][]float64{make([]float64, numClasses), left, right},
	}
}

func testArtifact(trees ...Tree) *Artifact {
	return &Artifact{
		SchemaVersion: SupportedSchemaVersion,
		FeatureNames:  []string{"f1", "f2"},
		Classes:       []string{"walking_forward", "sitting"},
		Scaler:        Scaler{Mean: []float64{0, 0}, Scale: []float64{1, 1}},
		Forest:        Forest{Trees: trees},
	}
}

func vec(f1, f2 float64) message.FeatureVector {
	return message.FeatureVector{Values: []float64{f1, f2}, TimestampMs: 1000}
}

func TestClassifyRoutesAndScores(t *testing.T) {
	c, err := NewFromArtifact(testArtifact(stumpTree(0, 1, 2)), DefaultConfig(), []string{"f1", "f2"})
	require.NoError(t, err)

	r, err := c.Classify(vec(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "walking_forward", r.RawLabel)
	assert.InDelta(t, 1.0, r.Confidence, 1e-9)
	assert.InDelta(t, 1.0, r.Probs["walking_forward"], 1e-9)
	assert.Equal(t, int64(1000), r.TimestampMs)

	r, err = c.Classify(vec(2, 0))
	require.NoError(t, err)
	assert.Equal(t, "sitting", r.RawLabel)
}

func TestClassifyAppliesScaler(t *testing.T) {
	art := testArtifact(stumpTree(0, 1, 2))
	art.Scaler = Scaler{Mean: []float64{100, 0}, Scale: []float64{10, 1}}
	c, err := NewFromArtifact(art, DefaultConfig(), []string{"f1", "f2"})
	require.NoError(t, err)

	// Raw 104 standardizes to 0.4, below the 0.5 split.
	r, err := c.Classify(vec(104, 0))
	require.NoError(t, err)
	assert.Equal(t, "walking_forward", r.RawLabel)

	r, err = c.Classify(vec(110, 0))
	require.NoError(t, err)
	assert.Equal(t, "sitting", r.RawLabel)
}

func TestRejectionBelowThreshold(t *testing.T) {
	// Two stumps disagree on the left branch: confidence caps at 0.5.
	c, err := NewFromArtifact(
		testArtifact(stumpTree(0, 1, 2), stumpTree(1, 1, 2)),
		DefaultConfig(), []string{"f1", "f2"})
	require.NoError(t, err)

	r, err := c.Classify(vec(0, 0))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	assert.Equal(t, message.LabelUnknown, r.Label)
	assert.NotEqual(t, message.LabelUnknown, r.RawLabel, "raw label survives rejection")
}

func TestSmoothingVote(t *testing.T) {
	c, err := NewFromArtifact(testArtifact(stumpTree(0, 1, 2)), DefaultConfig(), []string{"f1", "f2"})
	require.NoError(t, err)

	// First two confident results still report unknown: not enough votes.
	for i := 0; i < 2; i++ {
		r, err := c.Classify(vec(0, 0))
		require.NoError(t, err)
		assert.Equal(t, message.LabelUnknown, r.Label)
	}

	r, err := c.Classify(vec(0, 0))
	require.NoError(t, err)
	assert.Equal(t, "walking_forward", r.Label, "third agreeing vote flips the smoothed label")

	// A single transition frame does not flip the vote.
	r, err = c.Classify(vec(2, 0))
	require.NoError(t, err)
	assert.Equal(t, "walking_forward", r.Label)
	assert.Equal(t, "sitting", r.RawLabel)

	c.Reset()
	r, err = c.Classify(vec(0, 0))
	require.NoError(t, err)
	assert.Equal(t, message.LabelUnknown, r.Label, "history cleared on reset")
}

func TestClassifyVectorLengthMismatch(t *testing.T) {
	c, err := NewFromArtifact(testArtifact(stumpTree(0, 1, 2)), DefaultConfig(), []string{"f1", "f2"})
	require.NoError(t, err)

	_, err = c.Classify(message.FeatureVector{Values: []float64{1}})
	assert.Error(t, err)
}

func TestVerifySchema(t *testing.T) {
	art := testArtifact(stumpTree(0, 1, 2))

	assert.NoError(t, art.VerifySchema([]string{"f1", "f2"}))
	assert.Error(t, art.VerifySchema([]string{"f1"}))
	assert.Error(t, art.VerifySchema([]string{"f2", "f1"}))

	_, err := NewFromArtifact(art, DefaultConfig(), []string{"other", "f2"})
	assert.Error(t, err)
}

func TestKnownLabelsGate(t *testing.T) {
	art := testArtifact(stumpTree(0, 1, 2))
	art.Classes = []string{"walking_forward", "moonwalking"}

	_, err := NewFromArtifact(art, DefaultConfig(), []string{"f1", "f2"})
	assert.Error(t, err)

	open := DefaultConfig()
	open.KnownLabels = nil
	_, err = NewFromArtifact(art, open, []string{"f1", "f2"})
	assert.NoError(t, err)
}

func TestParseArtifactValidation(t *testing.T) {
	valid := testArtifact(stumpTree(0, 1, 2))

	mutate := func(fn func(*Artifact)) []byte {
		var a Artifact
		data, err := json.Marshal(valid)
		if err != nil {
			panic(err)
		}
		if err := json.Unmarshal(data, &a); err != nil {
			panic(err)
		}
		fn(&a)
		out, err := json.Marshal(&a)
		if err != nil {
			panic(err)
		}
		return out
	}

	_, err := ParseArtifact(mutate(func(*Artifact) {}))
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("{nope")},
		{"wrong schema version", mutate(func(a *Artifact) { a.SchemaVersion = 99 })},
		{"no classes", mutate(func(a *Artifact) { a.Classes = nil })},
		{"scaler length", mutate(func(a *Artifact) { a.Scaler.Mean = []float64{1} })},
		{"zero scale", mutate(func(a *Artifact) { a.Scaler.Scale[0] = 0 })},
		{"empty forest", mutate(func(a *Artifact) { a.Forest.Trees = nil })},
		{"child out of range", mutate(func(a *Artifact) { a.Forest.Trees[0].ChildrenLeft[0] = 7 })},
		{"split on unknown feature", mutate(func(a *Artifact) { a.Forest.Trees[0].Feature[0] = 5 })},
		{"leaf class count", mutate(func(a *Artifact) {
			a.Forest.Trees[0].Value[1] = []float64{1, 2, 3}
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArtifact(tt.data)
			assert.Error(t, err)
		})
	}
}
