package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/execs"
	"github.com/macropower/rulebook/pkg/log"
)

// CodeInvalidOutput is reported for artifact outputs that escape the target
// directory.
const CodeInvalidOutput = "INVALID_OUTPUT"

// Hook environment variables.
const (
	EnvProfile   = execs.EnvPrefix + "PROFILE"
	EnvTargetDir = execs.EnvPrefix + "TARGET_DIR"
)

// DeployResult describes a finished deployment.
type DeployResult struct {
	// Hook is the output of the post-deploy hook, if one ran.
	Hook *execs.Result
	// Files lists the written paths, in artifact order.
	Files []string
}

type deployOptions struct {
	env       []string
	skipHooks bool
}

// DeployOpt configures [Renderer.Deploy].
type DeployOpt func(*deployOptions)

// WithoutHooks skips the post-deploy hook.
func WithoutHooks() DeployOpt {
	return func(o *deployOptions) {
		o.skipHooks = true
	}
}

// WithHookEnv sets the environment the hook inherits from. It defaults to
// [os.Environ].
func WithHookEnv(env []string) DeployOpt {
	return func(o *deployOptions) {
		o.env = env
	}
}

// OutputPath returns the path an artifact is written to: its output under
// the deployment target directory, defaulting to "<kind>.md".
func OutputPath(p *profiles.Profile, kind string) (string, error) {
	err := checkTarget(p)
	if err != nil {
		return "", err
	}

	out := kind + ".md"
	if a := p.Artifacts[kind]; a != nil && a.Output != "" {
		out = a.Output
	}

	if !filepath.IsLocal(out) {
		var vs errs.Violations
		vs.Add("artifacts."+kind+".output", CodeInvalidOutput, "output %q must be a relative path inside the target directory", out)

		return "", vs.Err()
	}

	return filepath.Join(p.Deployment.TargetDir, out), nil
}

// Deploy renders every artifact of p and writes it to its [OutputPath]
// through sink. Nothing is written unless every artifact renders. When sink
// is a [DirMaker], the target directory and deployment.directories are
// created first. The post-deploy hook then runs in the target directory.
func (r *Renderer) Deploy(ctx context.Context, p *profiles.Profile, sink Sink, opts ...DeployOpt) (*DeployResult, error) {
	o := deployOptions{env: os.Environ()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := r.tracer.Start(ctx, "deploy", trace.WithAttributes(
		attribute.String("profile", p.ID),
	))
	defer span.End()

	res, err := r.deploy(ctx, p, sink, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return res, fmt.Errorf("deploy %s: %w", p.ID, err)
	}

	log.WithContext(ctx).InfoContext(ctx, "deployed profile",
		slog.String("profile", p.ID),
		slog.String("target", p.Deployment.TargetDir),
		slog.Int("files", len(res.Files)),
	)

	return res, nil
}

func (r *Renderer) deploy(ctx context.Context, p *profiles.Profile, sink Sink, o deployOptions) (*DeployResult, error) {
	err := checkTarget(p)
	if err != nil {
		return nil, err
	}

	type output struct {
		path string
		text string
	}

	outputs := make([]output, 0, len(p.Artifacts))

	for _, kind := range p.ArtifactNames() {
		path, err := OutputPath(p, kind)
		if err != nil {
			return nil, err
		}

		text, err := r.RenderArtifact(ctx, p, kind)
		if err != nil {
			return nil, err
		}

		outputs = append(outputs, output{path: path, text: text})
	}

	if dm, ok := sink.(DirMaker); ok {
		target := p.Deployment.TargetDir

		err := dm.MkdirAll(ctx, target)
		if err != nil {
			return nil, err
		}

		for _, dir := range p.Deployment.Directories {
			err := dm.MkdirAll(ctx, filepath.Join(target, dir))
			if err != nil {
				return nil, err
			}
		}
	}

	res := &DeployResult{}

	for _, out := range outputs {
		err := sink.Write(ctx, out.path, out.text)
		if err != nil {
			return res, err
		}

		res.Files = append(res.Files, out.path)
	}

	if o.skipHooks || p.Deployment.Hooks == nil || p.Deployment.Hooks.PostDeploy == "" {
		return res, nil
	}

	hook, err := runHook(ctx, p, o.env)
	res.Hook = hook
	if err != nil {
		return res, fmt.Errorf("post-deploy hook: %w", err)
	}

	return res, nil
}

func runHook(ctx context.Context, p *profiles.Profile, env []string) (*execs.Result, error) {
	cmd, err := execs.ParseCommand(p.Deployment.Hooks.PostDeploy, env)
	if err != nil {
		return nil, err
	}

	cmd.SetEnv(EnvProfile, p.ID)
	cmd.SetEnv(EnvTargetDir, p.Deployment.TargetDir)

	return execs.NewExecutor(cmd).Exec(ctx, p.Deployment.TargetDir)
}

// checkTarget rejects a missing target directory and deployment
// directories outside of it.
func checkTarget(p *profiles.Profile) error {
	var vs errs.Violations
	vs.Merge("deployment", p.Deployment.Violations())

	return vs.Err()
}
