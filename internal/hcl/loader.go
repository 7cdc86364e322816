package hcl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/computergrid/internal/config"
	"github.com/vk/computergrid/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load orchestrates the entire HCL configuration loading process. Blocks may
// appear in any file; simulation and broadcast blocks at most once overall.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(hclFiles) == 0 {
		return nil, errors.New("no .hcl files found")
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	model := config.NewModel()
	// Defaults are reapplied once every block is merged.
	model.Families = make(map[string]*config.Family)

	var sawSimulation, sawBroadcast bool
	parser := hclparse.NewParser()

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		if root.Simulation != nil {
			if sawSimulation {
				return nil, fmt.Errorf("%s: simulation block declared more than once", file)
			}
			sawSimulation = true
			if err := translateSimulation(root.Simulation, &model.Simulation); err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
		}
		if root.Broadcast != nil {
			if sawBroadcast {
				return nil, fmt.Errorf("%s: broadcast block declared more than once", file)
			}
			sawBroadcast = true
			b, err := translateBroadcast(root.Broadcast)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Broadcast = b
		}
		for _, fb := range root.Families {
			f, err := translateFamily(fb)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			if _, dup := model.Families[f.Name]; dup {
				return nil, fmt.Errorf("%s: family %q declared more than once", file, f.Name)
			}
			model.Families[f.Name] = f
		}
		for _, cb := range root.Computers {
			model.Computers = append(model.Computers, translateComputer(cb))
		}
		for _, nb := range root.Nodes {
			n, err := translateNode(nb)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Nodes = append(model.Nodes, n)
		}
		for _, cb := range root.Cables {
			model.Cables = append(model.Cables, translateCable(cb))
		}
		for _, eb := range root.Events {
			e, err := translateEvent(eb)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Events = append(model.Events, e)
		}
	}

	model.ApplyDefaults()
	if err := model.Validate(); err != nil {
		return nil, err
	}

	logger.Debug("HCL loading complete.",
		"computers", len(model.Computers),
		"nodes", len(model.Nodes),
		"cables", len(model.Cables),
		"events", len(model.Events),
	)
	return model, nil
}

// findAllHCLFiles walks all given paths and returns a sorted, flat list of
// all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
