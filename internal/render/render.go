package render

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"mintage/internal/core"
)

// IndexFile is the markdown overview written next to the cluster files.
const IndexFile = "index.md"

// AngleStats summarises one dihedral across the members of a cluster.
// Angles are in degrees.
type AngleStats struct {
	Index        int     `yaml:"index"`
	CircularMean float64 `yaml:"circular_mean"`
	CircularStd  float64 `yaml:"circular_std"`
	Resultant    float64 `yaml:"resultant_length"` // 1 when all members agree
}

// ClusterData is the content of one cluster file.
type ClusterData struct {
	Label     int          `yaml:"label"`
	Size      int          `yaml:"size"`
	Members   []string     `yaml:"members"`
	Sources   []string     `yaml:"sources"`
	Dihedrals []AngleStats `yaml:"dihedrals"`
}

// ClusterReport writes one YAML file per refined cluster plus a markdown index.
type ClusterReport struct {
	now func() time.Time
}

// NewClusterReport creates a ClusterReport.
func NewClusterReport() *ClusterReport {
	return &ClusterReport{now: time.Now}
}

// Render writes the report for refined into outDir. Cluster positions are
// the final labels.
func (r *ClusterReport) Render(ctx context.Context, suites []core.Suite, refined core.ClusterList, outDir string) error {
	if outDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outDir, err)
	}

	clusters := make([]ClusterData, 0, len(refined))
	for label, members := range refined {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := Summarize(suites, members, label)
		if err != nil {
			return err
		}
		content, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode cluster %d: %w", label, err)
		}
		if _, err := WriteToFile(string(content), outDir, ClusterFileName(label)); err != nil {
			return err
		}
		clusters = append(clusters, data)
	}

	_, err := WriteToFile(r.markdownIndex(clusters), outDir, IndexFile)
	return err
}

// ClusterFileName returns the file name used for a cluster label.
func ClusterFileName(label int) string {
	return fmt.Sprintf("cluster_%03d.yaml", label)
}

// Summarize computes the per-dihedral circular statistics of a cluster.
func Summarize(suites []core.Suite, members []int, label int) (ClusterData, error) {
	data := ClusterData{Label: label, Size: len(members)}
	seen := make(map[string]bool)

	var columns [][]float64
	for _, id := range members {
		if id < 0 || id >= len(suites) {
			return ClusterData{}, fmt.Errorf("cluster %d references suite %d out of range", label, id)
		}
		s := suites[id]
		data.Members = append(data.Members, s.ID)
		if s.Source != "" && !seen[s.Source] {
			seen[s.Source] = true
			data.Sources = append(data.Sources, s.Source)
		}

		if columns == nil {
			columns = make([][]float64, len(s.Dihedrals))
		}
		for j, angle := range s.Dihedrals {
			if j < len(columns) {
				columns[j] = append(columns[j], angle*math.Pi/180)
			}
		}
	}

	for j, radians := range columns {
		data.Dihedrals = append(data.Dihedrals, circularStats(j, radians))
	}
	return data, nil
}

func circularStats(index int, radians []float64) AngleStats {
	if len(radians) == 0 {
		return AngleStats{Index: index}
	}
	mean := stat.CircularMean(radians, nil)

	var sumSin, sumCos float64
	for _, a := range radians {
		sumSin += math.Sin(a)
		sumCos += math.Cos(a)
	}
	n := float64(len(radians))
	resultant := math.Hypot(sumSin, sumCos) / n
	if 1-resultant < 1e-12 {
		resultant = 1
	}

	std := math.Inf(1)
	if resultant > 0 {
		std = math.Sqrt(-2 * math.Log(resultant))
	}

	deg := round(math.Mod(mean*180/math.Pi+360, 360))
	if deg >= 360 {
		deg -= 360
	}
	return AngleStats{
		Index:        index,
		CircularMean: deg,
		CircularStd:  round(std * 180 / math.Pi),
		Resultant:    round(resultant),
	}
}

func round(v float64) float64 {
	if math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*1e6) / 1e6
}

func (r *ClusterReport) markdownIndex(clusters []ClusterData) string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("# MINT-AGE Clusters - %s\n\n", now().UTC().Format("2006-01-02 15:04")))

	if len(clusters) == 0 {
		b.WriteString("No final clusters were produced.\n")
		return b.String()
	}

	total := 0
	for _, c := range clusters {
		total += c.Size
	}
	b.WriteString(fmt.Sprintf("%d clusters, %d suites.\n\n", len(clusters), total))
	b.WriteString("| Label | Size | Mean dihedrals (deg) | File |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, c := range clusters {
		means := make([]string, len(c.Dihedrals))
		for i, d := range c.Dihedrals {
			means[i] = fmt.Sprintf("%.1f", d.CircularMean)
		}
		name := ClusterFileName(c.Label)
		b.WriteString(fmt.Sprintf("| %d | %d | %s | [%s](%s) |\n", c.Label, c.Size, strings.Join(means, ", "), name, name))
	}
	return b.String()
}

// WriteToFile writes the provided content to a file in the specified directory
func WriteToFile(content, outputDir, filename string) (string, error) {
	err := os.MkdirAll(outputDir, 0755)
	if err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	filePath := filepath.Join(outputDir, filename)

	err = os.WriteFile(filePath, []byte(content), 0644)
	if err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", filePath, err)
	}

	return filePath, nil
}
