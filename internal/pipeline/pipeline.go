// Package pipeline loads job descriptors from .hcl pipeline files. One file
// declares one job: its variables, containers and the ordered step list.
// Block order in the file is the execution order of the main stage.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/rigrunner/internal/ctxlog"
	"github.com/vk/rigrunner/internal/fsutil"
	"github.com/vk/rigrunner/internal/job"
	"github.com/vk/rigrunner/internal/reposync"
	"github.com/vk/rigrunner/internal/restrict"
)

// fileSchema matches the top level of a pipeline file.
var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "job", LabelNames: []string{"id"}},
	},
}

// jobSchema matches a job block's body. Content() preserves source order
// across block types, which is what makes the declarative step list
// ordered.
var jobSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "display_name"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "variable", LabelNames: []string{"name"}},
		{Type: "container"},
		{Type: "sidecar"},
		{Type: "task", LabelNames: []string{"id"}},
		{Type: "checkout", LabelNames: []string{"id"}},
		{Type: "script", LabelNames: []string{"id"}},
	},
}

type hclVariable struct {
	Value  string `hcl:"value"`
	Secret bool   `hcl:"secret,optional"`
}

type hclContainer struct {
	Name    string            `hcl:"name,optional"`
	Image   string            `hcl:"image"`
	Options []string          `hcl:"options,optional"`
	Env     map[string]string `hcl:"env,optional"`
}

type hclTask struct {
	Uses              string            `hcl:"uses"`
	DisplayName       string            `hcl:"display_name,optional"`
	Condition         string            `hcl:"condition,optional"`
	ContinueOnError   bool              `hcl:"continue_on_error,optional"`
	Inputs            map[string]string `hcl:"inputs,optional"`
	Restricted        bool              `hcl:"restricted,optional"`
	SettableVariables *[]string         `hcl:"settable_variables,optional"`
}

type hclCheckout struct {
	Repository         string   `hcl:"repository"`
	DisplayName        string   `hcl:"display_name,optional"`
	Condition          string   `hcl:"condition,optional"`
	Ref                string   `hcl:"ref,optional"`
	Commit             string   `hcl:"commit,optional"`
	Clean              bool     `hcl:"clean,optional"`
	FetchDepth         int      `hcl:"fetch_depth,optional"`
	FetchByCommit      bool     `hcl:"fetch_by_commit,optional"`
	SparsePatterns     []string `hcl:"sparse_patterns,optional"`
	Submodules         bool     `hcl:"submodules,optional"`
	NestedSubmodules   bool     `hcl:"nested_submodules,optional"`
	LFS                bool     `hcl:"lfs,optional"`
	PersistCredentials bool     `hcl:"persist_credentials,optional"`

	// Credential, proxy and TLS fields may reference job variables
	// ("${token}"); they are resolved against the step scope at sync time
	// so secrets stay out of the pipeline file.
	Username      string `hcl:"username,optional"`
	Password      string `hcl:"password,optional"`
	ProxyURL      string `hcl:"proxy_url,optional"`
	ProxyUsername string `hcl:"proxy_username,optional"`
	ProxyPassword string `hcl:"proxy_password,optional"`
	CABundle      string `hcl:"ca_bundle,optional"`
	ClientCert    string `hcl:"client_cert,optional"`
	ClientKey     string `hcl:"client_key,optional"`
}

type hclScript struct {
	Run             string `hcl:"run"`
	DisplayName     string `hcl:"display_name,optional"`
	Condition       string `hcl:"condition,optional"`
	ContinueOnError bool   `hcl:"continue_on_error,optional"`
}

// Loader parses pipeline files. One parser instance accumulates file state
// for diagnostics, so reuse a Loader across files of one run.
type Loader struct {
	parser *hclparse.Parser
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{parser: hclparse.NewParser()}
}

// Load accepts a file or a directory. A directory yields one descriptor
// per .hcl file found, in lexical order.
func (l *Loader) Load(ctx context.Context, path string) ([]*job.Descriptor, error) {
	isDir, err := fsutil.IsDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline path %s: %w", path, err)
	}
	if !isDir {
		desc, err := l.LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []*job.Descriptor{desc}, nil
	}

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("finding pipeline files in %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl pipeline files under %s", path)
	}

	descs := make([]*job.Descriptor, 0, len(files))
	for _, file := range files {
		desc, err := l.LoadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// LoadFile parses one pipeline file into a job descriptor.
func (l *Loader) LoadFile(ctx context.Context, path string) (*job.Descriptor, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading pipeline file.", "path", path)

	file, diags := l.parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing pipeline file %s: %w", path, diags)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("reading pipeline file %s: %w", path, diags)
	}
	if len(content.Blocks) != 1 {
		return nil, fmt.Errorf("pipeline file %s must declare exactly one job, found %d", path, len(content.Blocks))
	}

	jobBlock := content.Blocks[0]
	desc, err := l.decodeJob(jobBlock)
	if err != nil {
		return nil, fmt.Errorf("decoding job %q in %s: %w", jobBlock.Labels[0], path, err)
	}
	return desc, nil
}

func (l *Loader) decodeJob(block *hcl.Block) (*job.Descriptor, error) {
	desc := &job.Descriptor{
		JobID:     block.Labels[0],
		Variables: map[string]job.VariableValue{},
	}

	content, diags := block.Body.Content(jobSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	if attr, ok := content.Attributes["display_name"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &desc.DisplayName); diags.HasErrors() {
			return nil, diags
		}
	}
	if desc.DisplayName == "" {
		desc.DisplayName = desc.JobID
	}

	for _, b := range content.Blocks {
		switch b.Type {
		case "variable":
			var v hclVariable
			if diags := gohcl.DecodeBody(b.Body, nil, &v); diags.HasErrors() {
				return nil, diags
			}
			desc.Variables[b.Labels[0]] = job.VariableValue{Value: v.Value, Secret: v.Secret}

		case "container":
			if desc.Container != nil {
				return nil, fmt.Errorf("job %s declares more than one container block", desc.JobID)
			}
			spec, err := decodeContainer(b, "job")
			if err != nil {
				return nil, err
			}
			desc.Container = spec

		case "sidecar":
			spec, err := decodeContainer(b, "")
			if err != nil {
				return nil, err
			}
			if spec.Name == "" {
				return nil, fmt.Errorf("job %s: sidecar blocks need a name", desc.JobID)
			}
			desc.Sidecars = append(desc.Sidecars, *spec)

		case "task":
			step, err := decodeTask(b)
			if err != nil {
				return nil, err
			}
			desc.Steps = append(desc.Steps, step)

		case "checkout":
			step, err := decodeCheckout(b)
			if err != nil {
				return nil, err
			}
			desc.Steps = append(desc.Steps, step)

		case "script":
			step, err := decodeScript(b)
			if err != nil {
				return nil, err
			}
			desc.Steps = append(desc.Steps, step)
		}
	}

	if err := validateStepIDs(desc.Steps); err != nil {
		return nil, fmt.Errorf("job %s: %w", desc.JobID, err)
	}
	return desc, nil
}

func decodeContainer(b *hcl.Block, defaultName string) (*job.ContainerSpec, error) {
	var c hclContainer
	if diags := gohcl.DecodeBody(b.Body, nil, &c); diags.HasErrors() {
		return nil, diags
	}
	name := c.Name
	if name == "" {
		name = defaultName
	}
	return &job.ContainerSpec{Name: name, Image: c.Image, Options: c.Options, Env: c.Env}, nil
}

func decodeTask(b *hcl.Block) (job.RequestedStep, error) {
	var t hclTask
	if diags := gohcl.DecodeBody(b.Body, nil, &t); diags.HasErrors() {
		return job.RequestedStep{}, diags
	}

	ref, err := parseTaskRef(t.Uses)
	if err != nil {
		return job.RequestedStep{}, fmt.Errorf("task %s: %w", b.Labels[0], err)
	}

	step := job.RequestedStep{
		Type:            job.StepTypeTask,
		ID:              b.Labels[0],
		DisplayName:     t.DisplayName,
		Condition:       t.Condition,
		ContinueOnError: t.ContinueOnError,
		Task:            ref,
		Inputs:          t.Inputs,
	}
	if t.Restricted {
		step.Target = &restrict.Restrictions{Mode: restrict.Restricted, ModeSet: true}
	}
	if t.SettableVariables != nil {
		// An empty list is a meaningful declaration: nothing settable.
		step.SettableVariables = *t.SettableVariables
		if step.SettableVariables == nil {
			step.SettableVariables = []string{}
		}
	}
	return step, nil
}

func decodeCheckout(b *hcl.Block) (job.RequestedStep, error) {
	var c hclCheckout
	if diags := gohcl.DecodeBody(b.Body, nil, &c); diags.HasErrors() {
		return job.RequestedStep{}, diags
	}
	if c.Repository == "" {
		return job.RequestedStep{}, fmt.Errorf("checkout %s: repository is required", b.Labels[0])
	}

	return job.RequestedStep{
		Type:        job.StepTypeCheckout,
		ID:          b.Labels[0],
		DisplayName: c.DisplayName,
		Condition:   c.Condition,
		Checkout: &reposync.Options{
			RepositoryURL:      c.Repository,
			Ref:                c.Ref,
			Commit:             c.Commit,
			Clean:              c.Clean,
			Depth:              c.FetchDepth,
			FetchByCommit:      c.FetchByCommit,
			SparsePatterns:     c.SparsePatterns,
			Submodules:         c.Submodules || c.NestedSubmodules,
			NestedSubmodules:   c.NestedSubmodules,
			LFS:                c.LFS,
			PersistCredentials: c.PersistCredentials,
			Username:           c.Username,
			Password:           c.Password,
			ProxyURL:           c.ProxyURL,
			ProxyUsername:      c.ProxyUsername,
			ProxyPassword:      c.ProxyPassword,
			CABundlePath:       c.CABundle,
			ClientCert:         c.ClientCert,
			ClientKey:          c.ClientKey,
		},
	}, nil
}

func decodeScript(b *hcl.Block) (job.RequestedStep, error) {
	var s hclScript
	if diags := gohcl.DecodeBody(b.Body, nil, &s); diags.HasErrors() {
		return job.RequestedStep{}, diags
	}
	return job.RequestedStep{
		Type:            job.StepTypeScript,
		ID:              b.Labels[0],
		DisplayName:     s.DisplayName,
		Condition:       s.Condition,
		ContinueOnError: s.ContinueOnError,
		Script:          s.Run,
	}, nil
}

// parseTaskRef splits "name@version" into a reference; the version part is
// optional.
func parseTaskRef(uses string) (job.TaskRef, error) {
	uses = strings.TrimSpace(uses)
	if uses == "" {
		return job.TaskRef{}, fmt.Errorf("uses is required")
	}
	name, version, _ := strings.Cut(uses, "@")
	if name == "" {
		return job.TaskRef{}, fmt.Errorf("uses %q has no task name", uses)
	}
	return job.TaskRef{Name: name, Version: version}, nil
}

func validateStepIDs(steps []job.RequestedStep) error {
	seen := map[string]struct{}{}
	for _, s := range steps {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
