package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"mintage/internal/core"
	"mintage/internal/logger"
)

// DefaultDimensions is the number of backbone dihedrals describing a suite.
const DefaultDimensions = 7

// suiteRecord is the on-disk shape of a suite. Dihedrals are pointers so
// that null entries can be told apart from zero angles.
type suiteRecord struct {
	ID        string       `json:"id"`
	PDBID     string       `json:"pdb_id"`
	Chain     string       `json:"chain"`
	Residue   int          `json:"residue"`
	Dihedrals []*float64   `json:"dihedrals"`
	Backbone  [][3]float64 `json:"backbone"`
}

type suiteFile struct {
	Suites []suiteRecord `json:"suites"`
}

// Parser reads suite files extracted from structure files
type Parser struct {
	// Dimensions is the required length of a dihedral vector; 0 accepts any length
	Dimensions int
}

// NewParser creates a new Parser instance
func NewParser(dimensions int) *Parser {
	return &Parser{Dimensions: dimensions}
}

// ParseDirectory reads every *.json file in dir in lexical order and returns
// their suites in file order. Suites without a usable dihedral vector are
// kept with nil Dihedrals so that clustering skips them.
func (p *Parser) ParseDirectory(dir string) ([]core.Suite, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory %s: %w", dir, err)
	}

	var suites []core.Suite
	files := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		parsed, err := p.ParseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		suites = append(suites, parsed...)
		files++
	}

	missing := 0
	for i := range suites {
		if !suites[i].HasFeatures() {
			missing++
		}
	}
	logger.Info("Parsed suites", "dir", dir, "files", files, "suites", len(suites), "without_features", missing)
	return suites, nil
}

// ParseFile reads a single suite file
func (p *Parser) ParseFile(filePath string) ([]core.Suite, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	suites, err := p.ParseContent(content, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}
	return suites, nil
}

// ParseContent decodes suites from either a JSON array or an object with a
// "suites" array. source is recorded on every suite.
func (p *Parser) ParseContent(content []byte, source string) ([]core.Suite, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var records []suiteRecord
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
	case '{':
		var file suiteFile
		if err := json.Unmarshal(trimmed, &file); err != nil {
			return nil, err
		}
		records = file.Suites
	default:
		return nil, fmt.Errorf("expected a JSON array or object, got %q", trimmed[0])
	}

	suites := make([]core.Suite, 0, len(records))
	for i, rec := range records {
		s := core.Suite{
			ID:       rec.ID,
			Source:   source,
			PDBID:    rec.PDBID,
			Chain:    rec.Chain,
			Residue:  rec.Residue,
			Backbone: rec.Backbone,
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		s.Dihedrals = p.dihedrals(rec.Dihedrals)
		if rec.Dihedrals != nil && s.Dihedrals == nil {
			logger.Debug("Suite dihedrals unusable, excluding from clustering",
				"source", source, "index", i, "id", s.ID, "length", len(rec.Dihedrals))
		}
		suites = append(suites, s)
	}
	return suites, nil
}

// dihedrals returns nil when the vector is absent or empty, holds a null or
// has the wrong length.
func (p *Parser) dihedrals(raw []*float64) []float64 {
	if len(raw) == 0 {
		return nil
	}
	if p.Dimensions > 0 && len(raw) != p.Dimensions {
		return nil
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v == nil {
			return nil
		}
		out[i] = *v
	}
	return out
}
