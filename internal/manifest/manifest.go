// Package manifest loads and validates the YAML document (§6) that
// describes a Plan: its root, policies, and operation list.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/mjansen/tfs/internal/model"
)

// document is the YAML shape of a manifest, field for field against §6.
type document struct {
	Root              string         `yaml:"root"`
	Transaction       string         `yaml:"transaction"`
	Collision         string         `yaml:"collision"`
	Symlink           string         `yaml:"symlink"`
	AllowOverwrite    bool           `yaml:"allow_overwrite"`
	ForbidCrossDevice bool           `yaml:"forbid_cross_device"`
	MaxBytes          string         `yaml:"max_bytes"`
	Operations        []rawOperation `yaml:"operations"`
}

// rawOperation is one entry of the op-discriminated Operation union,
// decoded by switching on its "op" field.
type rawOperation struct {
	Kind    model.OpKind
	Src     string
	Dst     string
	Parents bool
}

func (r *rawOperation) UnmarshalYAML(value *yaml.Node) error {
	var shape struct {
		Op      string `yaml:"op"`
		Src     string `yaml:"src"`
		Dst     string `yaml:"dst"`
		Parents bool   `yaml:"parents"`
	}
	if err := value.Decode(&shape); err != nil {
		return fmt.Errorf("decoding operation: %w", err)
	}

	switch model.OpKind(shape.Op) {
	case model.OpMkdir, model.OpMove, model.OpCopy, model.OpRename, model.OpTrash:
		r.Kind = model.OpKind(shape.Op)
	case "":
		return fmt.Errorf(`operation missing required "op" field`)
	default:
		return fmt.Errorf("unknown operation %q", shape.Op)
	}
	r.Src = shape.Src
	r.Dst = shape.Dst
	r.Parents = shape.Parents
	return nil
}

func (r rawOperation) toModel() model.RawOperation {
	return model.RawOperation{Kind: r.Kind, Src: r.Src, Dst: r.Dst, Parents: r.Parents}
}

// Load reads and parses a manifest YAML file from path.
func Load(path string) (*model.Plan, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding manifest path: %w", err)
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", expanded, err)
	}

	plan, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", expanded, err)
	}
	return plan, nil
}

// Parse unmarshals a YAML manifest document into a model.Plan and
// validates it, filling in the defaults §6 leaves implicit.
func Parse(data []byte) (*model.Plan, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	plan, err := doc.toPlan()
	if err != nil {
		return nil, err
	}
	if err := validate(plan); err != nil {
		return nil, fmt.Errorf("validating manifest: %w", err)
	}
	return plan, nil
}

func (d *document) toPlan() (*model.Plan, error) {
	root, err := ExpandPath(d.Root)
	if err != nil {
		return nil, fmt.Errorf("expanding root: %w", err)
	}

	var maxBytes int64
	if strings.TrimSpace(d.MaxBytes) != "" {
		maxBytes, err = units.FromHumanSize(d.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("parsing max_bytes %q: %w", d.MaxBytes, err)
		}
	}

	ops := make([]model.RawOperation, 0, len(d.Operations))
	for _, op := range d.Operations {
		ops = append(ops, op.toModel())
	}

	return &model.Plan{
		Root:              root,
		TransactionMode:   model.TransactionMode(d.Transaction),
		CollisionPolicy:   model.CollisionPolicy(d.Collision),
		SymlinkPolicy:     model.SymlinkPolicy(d.Symlink),
		AllowOverwrite:    d.AllowOverwrite,
		ForbidCrossDevice: d.ForbidCrossDevice,
		MaxBytes:          maxBytes,
		Operations:        ops,
	}, nil
}

var validTransactions = map[model.TransactionMode]bool{
	model.TransactionAll: true,
	model.TransactionOp:  true,
}

var validCollisions = map[model.CollisionPolicy]bool{
	model.CollisionFail:                true,
	model.CollisionSuffix:              true,
	model.CollisionHash8:               true,
	model.CollisionOverwriteWithBackup: true,
}

var validSymlinks = map[model.SymlinkPolicy]bool{
	model.SymlinkFollow: true,
	model.SymlinkSkip:   true,
	model.SymlinkError:  true,
}

// validate checks a Plan is well-formed, applying §6's defaults
// (transaction "all", collision "fail", symlink "follow") for fields the
// manifest left blank.
func validate(plan *model.Plan) error {
	if plan.Root == "" {
		return fmt.Errorf("root is required")
	}
	if !filepath.IsAbs(plan.Root) {
		return fmt.Errorf("root %q must be an absolute path", plan.Root)
	}

	if plan.TransactionMode == "" {
		plan.TransactionMode = model.TransactionAll
	}
	if !validTransactions[plan.TransactionMode] {
		return fmt.Errorf("invalid transaction %q: must be \"all\" or \"op\"", plan.TransactionMode)
	}

	if plan.CollisionPolicy == "" {
		plan.CollisionPolicy = model.CollisionFail
	}
	if !validCollisions[plan.CollisionPolicy] {
		return fmt.Errorf("invalid collision %q", plan.CollisionPolicy)
	}

	if plan.SymlinkPolicy == "" {
		plan.SymlinkPolicy = model.SymlinkFollow
	}
	if !validSymlinks[plan.SymlinkPolicy] {
		return fmt.Errorf("invalid symlink %q", plan.SymlinkPolicy)
	}

	if plan.CollisionPolicy == model.CollisionOverwriteWithBackup && !plan.AllowOverwrite {
		return fmt.Errorf("collision \"overwrite_with_backup\" requires allow_overwrite: true")
	}

	if plan.MaxBytes < 0 {
		return fmt.Errorf("max_bytes must not be negative")
	}

	if len(plan.Operations) == 0 {
		return fmt.Errorf("at least one operation is required")
	}
	for i, op := range plan.Operations {
		if err := validateOperation(i, op); err != nil {
			return err
		}
	}
	return nil
}

func validateOperation(index int, op model.RawOperation) error {
	switch op.Kind {
	case model.OpMkdir:
		if op.Dst == "" {
			return fmt.Errorf("operation %d (mkdir): dst is required", index)
		}
		if op.Src != "" {
			return fmt.Errorf("operation %d (mkdir): src must not be set", index)
		}
	case model.OpMove, model.OpCopy, model.OpRename:
		if op.Src == "" || op.Dst == "" {
			return fmt.Errorf("operation %d (%s): src and dst are both required", index, op.Kind)
		}
	case model.OpTrash:
		if op.Src == "" {
			return fmt.Errorf("operation %d (trash): src is required", index)
		}
		if op.Dst != "" {
			return fmt.Errorf("operation %d (trash): dst must not be set", index)
		}
	default:
		return fmt.Errorf("operation %d: unknown op %q", index, op.Kind)
	}
	return nil
}

// ExpandPath expands a leading ~ in path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// SampleManifest returns a sample manifest YAML document, written out by
// "tfs init".
func SampleManifest() string {
	return "# tfs manifest\n" +
		"# every path under root is resolved and confined there before any\n" +
		"# operation runs; see the operations list below for the supported shapes.\n" +
		"\n" +
		"root: ~/Downloads\n" +
		"transaction: all\n" +
		"collision: suffix\n" +
		"symlink: follow\n" +
		"allow_overwrite: false\n" +
		"forbid_cross_device: false\n" +
		"max_bytes: 2GB\n" +
		"\n" +
		"operations:\n" +
		"  - op: mkdir\n" +
		"    dst: ~/Downloads/Sorted\n" +
		"    parents: true\n" +
		"\n" +
		"  - op: move\n" +
		"    src: ~/Downloads/report.pdf\n" +
		"    dst: ~/Downloads/Sorted/report.pdf\n" +
		"\n" +
		"  - op: copy\n" +
		"    src: ~/Downloads/photo.jpg\n" +
		"    dst: ~/Downloads/Sorted/photo.jpg\n" +
		"\n" +
		"  - op: trash\n" +
		"    src: ~/Downloads/installer.dmg\n"
}
