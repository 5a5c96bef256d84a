// Package classifier loads an exported random-forest artifact and runs
// inference on feature vectors, with confidence rejection and majority-vote
// smoothing. The artifact is produced by the offline training tooling; this
// package only consumes it.
package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/powerpig99/smart-socks-sub000/errors"
)

// SupportedSchemaVersion is the artifact format this loader understands.
const SupportedSchemaVersion = 1

// Scaler holds per-feature standardization parameters.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Tree is a flattened decision tree. Node i is a leaf when ChildrenLeft[i]
// is negative; Value[i] then holds the per-class sample distribution.
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

// Forest is the tree ensemble.
type Forest struct {
	Trees []Tree `json:"trees"`
}

// Artifact is the exported model document.
type Artifact struct {
	SchemaVersion int      `json:"schema_version"`
	FeatureNames  []string `json:"feature_names"`
	Classes       []string `json:"classes"`
	Scaler        Scaler   `json:"scaler"`
	Forest        Forest   `json:"forest"`
}

// LoadArtifact reads and validates an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "classifier", "LoadArtifact", "artifact read failed")
	}
	return ParseArtifact(data)
}

// ParseArtifact decodes and validates an artifact document. Any structural
// defect is fatal: inference must never run on a half-understood model.
func ParseArtifact(data []byte) (*Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrArtifactCorrupt, err),
			"classifier", "ParseArtifact", "unmarshal failed")
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) validate() error {
	fail := func(format string, args ...any) error {
		return errors.WrapFatal(
			fmt.Errorf("%w: "+format, append([]any{errors.ErrArtifactCorrupt}, args...)...),
			"classifier", "validate", "artifact structure check")
	}

	if a.SchemaVersion != SupportedSchemaVersion {
		return fail("schema_version %d, want %d", a.SchemaVersion, SupportedSchemaVersion)
	}
	if len(a.FeatureNames) == 0 {
		return fail("empty feature_names")
	}
	if len(a.Classes) == 0 {
		return fail("empty classes")
	}
	if len(a.Scaler.Mean) != len(a.FeatureNames) || len(a.Scaler.Scale) != len(a.FeatureNames) {
		return fail("scaler length %d/%d, want %d",
			len(a.Scaler.Mean), len(a.Scaler.Scale), len(a.FeatureNames))
	}
	for i, s := range a.Scaler.Scale {
		if s == 0 {
			return fail("zero scale for feature %q", a.FeatureNames[i])
		}
	}
	if len(a.Forest.Trees) == 0 {
		return fail("empty forest")
	}
	for ti, tree := range a.Forest.Trees {
		n := len(tree.ChildrenLeft)
		if n == 0 {
			return fail("tree %d has no nodes", ti)
		}
		if len(tree.ChildrenRight) != n || len(tree.Feature) != n ||
			len(tree.Threshold) != n || len(tree.Value) != n {
			return fail("tree %d has inconsistent node arrays", ti)
		}
		for ni := 0; ni < n; ni++ {
			if tree.ChildrenLeft[ni] < 0 {
				if len(tree.Value[ni]) != len(a.Classes) {
					return fail("tree %d leaf %d has %d class values, want %d",
						ti, ni, len(tree.Value[ni]), len(a.Classes))
				}
				continue
			}
			if tree.ChildrenLeft[ni] >= n || tree.ChildrenRight[ni] < 0 || tree.ChildrenRight[ni] >= n {
				return fail("tree %d node %d has out-of-range children", ti, ni)
			}
			if tree.Feature[ni] < 0 || tree.Feature[ni] >= len(a.FeatureNames) {
				return fail("tree %d node %d splits on unknown feature %d", ti, ni, tree.Feature[ni])
			}
		}
	}
	return nil
}

// VerifySchema checks the artifact's feature columns against the live
// extractor's name list, element for element. A mismatch means the model
// was trained on a different extractor and must not be used.
func (a *Artifact) VerifySchema(names []string) error {
	if len(names) != len(a.FeatureNames) {
		return errors.WrapFatal(
			fmt.Errorf("%w: artifact has %d features, extractor produces %d",
				errors.ErrSchemaMismatch, len(a.FeatureNames), len(names)),
			"classifier", "VerifySchema", "feature count check")
	}
	for i, name := range names {
		if a.FeatureNames[i] != name {
			return errors.WrapFatal(
				fmt.Errorf("%w: column %d is %q in artifact, %q in extractor",
					errors.ErrSchemaMismatch, i, a.FeatureNames[i], name),
				"classifier", "VerifySchema", "feature order check")
		}
	}
	return nil
}
