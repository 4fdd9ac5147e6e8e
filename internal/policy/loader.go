package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadFromDirectory discovers and loads all policy files from a directory
func LoadFromDirectory(dirPath string) ([]PolicyWithFile, []ValidationError) {
	var policies []PolicyWithFile
	var errors []ValidationError

	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		})
		return nil, errors
	}

	for _, file := range files {
		pol, err := parseYAMLFile(file)
		if err != nil {
			errors = append(errors, ValidationError{
				File:    file,
				Message: fmt.Sprintf("failed to parse YAML: %v", err),
			})
			continue
		}
		policies = append(policies, PolicyWithFile{
			Policy: pol,
			File:   file,
		})
	}

	return policies, errors
}

// Parse decodes a single policy document from YAML or JSON bytes
// (YAML is a superset of JSON, so one decoder covers both).
func Parse(data []byte) (*Policy, error) {
	var pol Policy
	if err := yaml.Unmarshal(data, &pol); err != nil {
		return nil, fmt.Errorf("failed to parse policy document: %w", err)
	}
	applyDefaults(&pol)
	return &pol, nil
}

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

// parseYAMLFile parses a single policy YAML file
func parseYAMLFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// applyDefaults fills optional fields that have documented defaults
func applyDefaults(pol *Policy) {
	if pol.Spec.Lifecycle == "" {
		pol.Spec.Lifecycle = LifecycleActive
	}
	if pol.Spec.Segmentation == "" {
		pol.Spec.Segmentation = "none"
	}
	if pol.Spec.Algorithm == AlgoUCB && pol.Spec.UCBExploration == 0 {
		pol.Spec.UCBExploration = 1.0
	}
}
