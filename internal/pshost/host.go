// Package pshost issues platform commands through the automation host and
// wraps the host authentication pipeline's provider management.
package pshost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf16"

	"github.com/rs/zerolog"
)

// Host executes one automation script and returns its output objects.
// params are exposed to the script as properties of $p.
type Host interface {
	Run(ctx context.Context, script string, params map[string]any) ([]map[string]any, error)
}

// PowerShell runs scripts in a fresh powershell process per call.
type PowerShell struct {
	logger zerolog.Logger
	path   string
	exec   func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// NewPowerShell creates a Host that invokes the interpreter at path.
func NewPowerShell(logger zerolog.Logger, path string) *PowerShell {
	return &PowerShell{
		logger: logger.With().Str("component", "pshost").Logger(),
		path:   path,
		exec:   runProcess,
	}
}

func (h *PowerShell) Run(ctx context.Context, script string, params map[string]any) ([]map[string]any, error) {
	wrapped, err := wrapScript(script, params)
	if err != nil {
		return nil, err
	}

	h.logger.Debug().Str("script", firstLine(script)).Msg("running automation script")

	stdout, stderr, err := h.exec(ctx, h.path,
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-EncodedCommand", encodeCommand(wrapped))
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		return nil, fmt.Errorf("%s: %s: %w", firstLine(script), msg, err)
	}
	return decodeOutput(stdout)
}

// wrapScript binds params to $p, stops on the first error and serializes
// the pipeline output as JSON.
func wrapScript(script string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode script parameters: %w", err)
	}
	quoted := strings.ReplaceAll(string(raw), "'", "''")

	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Stop'\n")
	b.WriteString("$ProgressPreference = 'SilentlyContinue'\n")
	fmt.Fprintf(&b, "$p = '%s' | ConvertFrom-Json\n", quoted)
	b.WriteString("$out = & {\n")
	b.WriteString(script)
	b.WriteString("\n}\n")
	b.WriteString("if ($null -ne $out) { ConvertTo-Json -InputObject @($out) -Depth 4 -Compress }\n")
	return b.String(), nil
}

// encodeCommand produces the UTF-16LE base64 form -EncodedCommand expects.
func encodeCommand(script string) string {
	units := utf16.Encode([]rune(script))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		buf[2*i] = byte(u)
		buf[2*i+1] = byte(u >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func firstLine(script string) string {
	script = strings.TrimSpace(script)
	if i := strings.IndexByte(script, '\n'); i >= 0 {
		return strings.TrimSpace(script[:i])
	}
	return script
}

func runProcess(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
