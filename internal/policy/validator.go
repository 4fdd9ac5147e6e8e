package policy

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Validator validates allocation policy documents
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator creates a new validator with the given schema file
func NewValidator(schemaPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all policy files in a directory
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	withFiles, loadErrors := LoadFromDirectory(dirPath)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	if len(withFiles) == 0 {
		return allErrors
	}

	for _, pwf := range withFiles {
		allErrors = append(allErrors, v.Validate(pwf.File, pwf.Policy)...)
	}

	allErrors = append(allErrors, checkDuplicateIDs(withFiles)...)

	return allErrors
}

// Validate runs schema validation plus the extra rules for one document.
// file is used only for error reporting; pass the experiment id for
// documents received over the API.
func (v *Validator) Validate(file string, pol *Policy) []ValidationError {
	errors := v.validateSchema(file, pol)
	errors = append(errors, validateExtraRules(file, pol)...)
	return errors
}

// validateSchema validates a single policy against the JSON schema
func (v *Validator) validateSchema(file string, pol *Policy) []ValidationError {
	var errors []ValidationError

	// Round-trip through YAML so the schema sees plain maps/slices
	yamlBytes, err := yaml.Marshal(pol)
	if err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to marshal policy: %v", err),
		})
		return errors
	}

	var jsonData interface{}
	if err := yaml.Unmarshal(yamlBytes, &jsonData); err != nil {
		errors = append(errors, ValidationError{
			File:    file,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
		return errors
	}

	if err := v.schema.Validate(jsonData); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, extractSchemaErrors(file, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    file,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors converts JSON schema validation errors to ValidationErrors
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errors = append(errors, ValidationError{
		File:    file,
		Path:    path,
		Message: err.Error(),
	})

	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}

	return errors
}

// validateExtraRules applies rules the schema cannot express
func validateExtraRules(file string, pol *Policy) []ValidationError {
	var errors []ValidationError

	addErr := func(path, msg string) {
		errors = append(errors, ValidationError{File: file, Path: path, Message: msg})
	}

	if len(pol.Spec.Variants) < 2 {
		addErr("spec.variants", fmt.Sprintf("at least 2 variants required, got %d", len(pol.Spec.Variants)))
	}

	seen := make(map[string]bool)
	controls := 0
	for i, variant := range pol.Spec.Variants {
		if seen[variant.Name] {
			addErr(fmt.Sprintf("spec.variants[%d].name", i), fmt.Sprintf("duplicate variant name %q", variant.Name))
		}
		seen[variant.Name] = true
		if variant.Control {
			controls++
		}
		if variant.Prior != nil && (variant.Prior.Alpha <= 0 || variant.Prior.Beta <= 0) {
			addErr(fmt.Sprintf("spec.variants[%d].prior", i), "prior alpha and beta must be positive")
		}
	}
	if controls > 1 {
		addErr("spec.variants", fmt.Sprintf("at most one control variant allowed, got %d", controls))
	}

	c := pol.Spec.Constraints
	n := float64(len(pol.Spec.Variants))
	if c.MinTrafficPctPerVariant < 0 {
		addErr("spec.constraints.minTrafficPctPerVariant", "must be >= 0")
	}
	if n > 0 && c.MinTrafficPctPerVariant*n > 100 {
		addErr("spec.constraints.minTrafficPctPerVariant",
			fmt.Sprintf("floor %.1f%% x %d variants exceeds 100%%", c.MinTrafficPctPerVariant, len(pol.Spec.Variants)))
	}
	if c.MaxRampPerStepPct <= 0 || c.MaxRampPerStepPct > 100 {
		addErr("spec.constraints.maxRampPerStepPct", fmt.Sprintf("must be in (0,100], got %.1f", c.MaxRampPerStepPct))
	}
	if c.CooldownMinutes < 0 {
		addErr("spec.constraints.cooldownMinutes", "must be >= 0")
	}
	if c.MinSamplesPerVariant < 0 {
		addErr("spec.constraints.minSamplesPerVariant", "must be >= 0")
	}

	if pol.Spec.SafeExplorePct < 0 || pol.Spec.SafeExplorePct > 50 {
		addErr("spec.safeExplorePct", fmt.Sprintf("must be in [0,50], got %.1f", pol.Spec.SafeExplorePct))
	}

	switch pol.Spec.Algorithm {
	case AlgoThompson, AlgoUCB, AlgoContextual:
	case AlgoEpsilonGreedy:
		if pol.Spec.Epsilon < 0 || pol.Spec.Epsilon >= 1 {
			addErr("spec.epsilon", fmt.Sprintf("must be in [0,1), got %v", pol.Spec.Epsilon))
		}
	default:
		addErr("spec.algorithm", fmt.Sprintf("unknown algorithm %q", pol.Spec.Algorithm))
	}

	switch pol.Spec.RewardMapping.Mode {
	case RewardBinary:
	case RewardMinMax:
		if pol.Spec.RewardMapping.Max <= pol.Spec.RewardMapping.Min {
			addErr("spec.rewardMapping", "minmax mapping requires max > min")
		}
	case "":
		addErr("spec.rewardMapping.mode", "reward mapping mode is required (binary or minmax)")
	default:
		addErr("spec.rewardMapping.mode", fmt.Sprintf("unknown mode %q", pol.Spec.RewardMapping.Mode))
	}

	if pol.Spec.Lifecycle != LifecycleActive && pol.Spec.Lifecycle != LifecyclePaused {
		addErr("spec.lifecycle", fmt.Sprintf("must be ACTIVE or PAUSED, got %q", pol.Spec.Lifecycle))
	}

	if pol.Spec.Segmentation == "context" || pol.Spec.Algorithm == AlgoContextual {
		if pol.Spec.Context == nil ||
			(len(pol.Spec.Context.Categorical) == 0 && len(pol.Spec.Context.Cyclical) == 0) {
			addErr("spec.context", "contextual policies require a context block with at least one field")
		}
	}
	if pol.Spec.Context != nil {
		for i, cyc := range pol.Spec.Context.Cyclical {
			if cyc.Period <= 0 {
				addErr(fmt.Sprintf("spec.context.cyclical[%d].period", i), "period must be positive")
			}
		}
	}

	if pol.Spec.Version < 1 {
		addErr("spec.version", fmt.Sprintf("must be >= 1, got %d", pol.Spec.Version))
	}

	return errors
}

// checkDuplicateIDs flags experiment ids declared in more than one file
func checkDuplicateIDs(withFiles []PolicyWithFile) []ValidationError {
	var errors []ValidationError

	idSeen := make(map[string]string)
	for _, pwf := range withFiles {
		id := pwf.Policy.Metadata.ID
		if prevFile, exists := idSeen[id]; exists {
			errors = append(errors, ValidationError{
				File:    pwf.File,
				Path:    "metadata.id",
				Message: fmt.Sprintf("duplicate ID %q (also in %s)", id, filepath.Base(prevFile)),
			})
		} else {
			idSeen[id] = pwf.File
		}
	}

	return errors
}
