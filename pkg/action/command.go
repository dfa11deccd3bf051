package action

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/odvcencio/actionator/pkg/errors"
)

const commandWaitDelay = 2 * time.Second

// CommandSpec is one entry of the actions file: an external program whose
// output lines become progress messages.
type CommandSpec struct {
	Name        string            `yaml:"name"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Command     []string          `yaml:"command"`
	Dir         string            `yaml:"dir"`
	Env         map[string]string `yaml:"env"`
	Timeout     time.Duration     `yaml:"timeout"`
	Fields      []Field           `yaml:"fields"`
}

type commandFile struct {
	Actions []CommandSpec `yaml:"actions"`
}

// LoadCommandFile reads command actions from a YAML file. Relative working
// directories are resolved against the file's directory.
func LoadCommandFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "read actions file").
			WithContext("path", path)
	}
	defs, err := ParseCommands(data, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// ParseCommands decodes an actions document.
func ParseCommands(data []byte, baseDir string) ([]Definition, error) {
	var file commandFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigInvalid, "parse actions file")
	}

	defs := make([]Definition, 0, len(file.Actions))
	for i, spec := range file.Actions {
		if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
			return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "actions[%d] (%s): command is required", i, spec.Name)
		}
		if spec.Timeout < 0 {
			return nil, apperrors.Newf(apperrors.ErrCodeConfigInvalid, "actions[%d] (%s): timeout must be positive", i, spec.Name)
		}
		if spec.Dir != "" && !filepath.IsAbs(spec.Dir) && baseDir != "" {
			spec.Dir = filepath.Join(baseDir, spec.Dir)
		}
		def := Definition{
			Name:        spec.Name,
			Title:       spec.Title,
			Description: spec.Description,
			Fields:      spec.Fields,
			Func:        CommandFunc(spec),
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// CommandFunc returns an action function that runs spec.Command. Each param
// is exported as ACTION_<NAME>; stdout and stderr lines are emitted as they
// arrive.
func CommandFunc(spec CommandSpec) Func {
	return func(ctx context.Context, params Params, emit Emitter) error {
		if spec.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
		cmd.Dir = spec.Dir
		cmd.Env = commandEnv(os.Environ(), spec.Env, params)

		// stdout and stderr share one pipe so lines reach the emitter in
		// the order the process wrote them.
		pr, pw := io.Pipe()
		cmd.Stdout = pw
		cmd.Stderr = pw
		cmd.WaitDelay = commandWaitDelay

		if err := cmd.Start(); err != nil {
			_ = pw.Close()
			return fmt.Errorf("failed to start %s: %w", spec.Command[0], err)
		}

		readDone := make(chan error, 1)
		go func() { readDone <- streamLines(pr, emit) }()

		waitErr := cmd.Wait()
		_ = pw.Close()
		readErr := <-readDone

		if waitErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: %w", spec.Command[0], waitErr)
		}
		return readErr
	}
}

func streamLines(r io.Reader, emit Emitter) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit.Emit(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// Keep the writer from blocking on an abandoned pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func commandEnv(base []string, extra map[string]string, params Params) []string {
	env := append([]string(nil), base...)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	for k, v := range params {
		env = append(env, ParamEnvName(k)+"="+v)
	}
	return env
}

// ParamEnvName maps a form field name onto the environment variable a
// command action sees it as.
func ParamEnvName(name string) string {
	var b strings.Builder
	b.WriteString("ACTION_")
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
