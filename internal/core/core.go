package core

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Stage names used as keys of a suite's labelling.
const (
	StagePrecluster = "precluster"       // Label written by the pre-clustering pass
	StageFinal      = "mint_age_cluster" // Label written by the post-clustering pass
)

const outlierText = "outlier"

// Suite represents one RNA backbone fragment extracted from a structure file.
type Suite struct {
	ID        string       `json:"id"`                  // Unique identifier for the suite
	Source    string       `json:"source"`              // File the suite was parsed from
	PDBID     string       `json:"pdb_id,omitempty"`    // Structure identifier
	Chain     string       `json:"chain,omitempty"`     // Chain identifier within the structure
	Residue   int          `json:"residue,omitempty"`   // Residue number of the suite's first nucleotide
	Dihedrals []float64    `json:"dihedrals"`           // Dihedral angles in degrees; nil when unavailable
	Backbone  [][3]float64 `json:"backbone,omitempty"`  // Backbone atom coordinates
	Aligned   bool         `json:"aligned"`             // Whether the backbone went through alignment
	Labels    Labels       `json:"clustering"`          // Labels attached by the clustering stages
}

// HasFeatures reports whether the suite carries a dihedral feature vector
// and can therefore take part in clustering.
func (s *Suite) HasFeatures() bool {
	return s.Dihedrals != nil
}

// Labels holds the per-stage cluster assignments of a suite. A nil field
// means the stage did not label the suite.
type Labels struct {
	Precluster *Label `json:"precluster,omitempty"`
	Final      *Label `json:"mint_age_cluster,omitempty"`
}

// Get returns the label for a stage name.
func (l Labels) Get(stage string) (Label, bool) {
	var p *Label
	switch stage {
	case StagePrecluster:
		p = l.Precluster
	case StageFinal:
		p = l.Final
	}
	if p == nil {
		return Label{}, false
	}
	return *p, true
}

// Label is either a zero-based cluster index or the outlier sentinel.
type Label struct {
	Index   int
	Outlier bool
}

// ClusterLabel returns the label of cluster i.
func ClusterLabel(i int) Label {
	return Label{Index: i}
}

// OutlierLabel returns the sentinel label for outliers.
func OutlierLabel() Label {
	return Label{Outlier: true}
}

func (l Label) String() string {
	if l.Outlier {
		return outlierText
	}
	return strconv.Itoa(l.Index)
}

// ParseLabel is the inverse of Label.String.
func ParseLabel(text string) (Label, error) {
	if text == outlierText {
		return OutlierLabel(), nil
	}
	idx, err := strconv.Atoi(text)
	if err != nil {
		return Label{}, fmt.Errorf("invalid label %q", text)
	}
	return ClusterLabel(idx), nil
}

// MarshalJSON encodes cluster labels as numbers and the outlier sentinel as "outlier".
func (l Label) MarshalJSON() ([]byte, error) {
	if l.Outlier {
		return json.Marshal(outlierText)
	}
	return json.Marshal(l.Index)
}

// UnmarshalJSON accepts a number or the string "outlier".
func (l *Label) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		if text != outlierText {
			return fmt.Errorf("invalid label %q", text)
		}
		*l = OutlierLabel()
		return nil
	}

	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("invalid label %s: %w", string(data), err)
	}
	*l = ClusterLabel(idx)
	return nil
}

// ClusterList is an ordered list of clusters, each holding indices into the
// suite collection.
type ClusterList [][]int

// Sizes returns the member count of every cluster.
func (c ClusterList) Sizes() []int {
	sizes := make([]int, len(c))
	for i, members := range c {
		sizes[i] = len(members)
	}
	return sizes
}

// Members returns the total number of suites across all clusters.
func (c ClusterList) Members() int {
	total := 0
	for _, members := range c {
		total += len(members)
	}
	return total
}
