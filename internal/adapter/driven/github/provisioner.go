package github

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"text/template"

	"github.com/Masterminds/sprig"
	gh "github.com/google/go-github/v82/github"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/sjson"

	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoProvisioner = (*Client)(nil)

const (
	devcontainerPath = ".devcontainer/devcontainer.json"
	startupPath      = "startup.sh"
	postStartCommand = "bash ${containerWorkspaceFolder}/startup.sh"
	commitMessage    = "Configure codespace for spacewake"
	webServerPort    = 8080
	// Seconds startup.sh waits for the tunnel before reading its URL.
	tunnelWait = 45
)

var forwardPorts = []int{25565, 24454, webServerPort}

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(
	template.New("").Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, "templates/*.tmpl"),
)

// Provision makes sure the repository's devcontainer runs startup.sh on every
// boot and that startup.sh is current. A devcontainer.json that already has a
// postStartCommand is left untouched; one without it is patched in place.
func (c *Client) Provision(ctx context.Context, token, repoFullName string, opts driven.ProvisionOptions) (driven.ProvisionReport, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return driven.ProvisionReport{}, err
	}
	client := c.forToken(token)

	env := map[string]string{
		"DISCORD_USER_ID": opts.OwnerID,
		"BOT_WEBHOOK_URL": opts.WebhookURL,
	}

	report := driven.ProvisionReport{Devcontainer: driven.FileFailed, StartupScript: driven.FileFailed}
	var errs []error

	res, err := c.ensureDevcontainer(ctx, client, owner, repo, opts.Branch, env)
	if err != nil {
		errs = append(errs, err)
	} else {
		report.Devcontainer = res
	}

	script, err := render("startup.sh.tmpl", map[string]any{
		"OwnerID":    opts.OwnerID,
		"WebhookURL": opts.WebhookURL,
		"WebPort":    webServerPort,
		"TunnelWait": tunnelWait,
	})
	if err != nil {
		errs = append(errs, err)
	} else {
		res, err = c.putFile(ctx, client, owner, repo, opts.Branch, startupPath, script)
		if err != nil {
			errs = append(errs, err)
		} else {
			report.StartupScript = res
		}
	}

	slog.Info("repository provisioned",
		"repo", repoFullName,
		"devcontainer", report.Devcontainer,
		"startup_script", report.StartupScript,
	)

	return report, errors.Join(errs...)
}

func (c *Client) ensureDevcontainer(ctx context.Context, client *gh.Client, owner, repo, branch string, env map[string]string) (driven.FileResult, error) {
	existing, sha, err := getFile(ctx, client, owner, repo, branch, devcontainerPath)
	if err != nil {
		return driven.FileFailed, err
	}

	var content []byte
	if existing == nil {
		content, err = render("devcontainer.json.tmpl", map[string]any{
			"PostStartCommand": postStartCommand,
			"ForwardPorts":     forwardPorts,
			"ContainerEnv":     env,
		})
	} else {
		content, err = patchDevcontainer(existing, env)
	}
	if err != nil {
		return driven.FileFailed, err
	}
	if content == nil {
		return driven.FileUnchanged, nil
	}

	return c.writeFile(ctx, client, owner, repo, branch, devcontainerPath, content, existing, sha)
}

// patchDevcontainer adds the startup hook and bot environment to an existing
// devcontainer.json, which may contain comments and trailing commas. It
// returns nil when the file already has a postStartCommand.
func patchDevcontainer(existing []byte, env map[string]string) ([]byte, error) {
	doc := jsonc.ToJSON(existing)
	if !gjson.ValidBytes(doc) {
		return nil, fmt.Errorf("existing %s is not valid JSON", devcontainerPath)
	}
	if gjson.GetBytes(doc, "postStartCommand").Exists() {
		return nil, nil
	}

	out, err := sjson.SetBytes(doc, "postStartCommand", postStartCommand)
	if err != nil {
		return nil, fmt.Errorf("setting postStartCommand: %w", err)
	}

	for _, key := range slices.Sorted(maps.Keys(env)) {
		out, err = sjson.SetBytes(out, "containerEnv."+key, env[key])
		if err != nil {
			return nil, fmt.Errorf("setting containerEnv.%s: %w", key, err)
		}
	}

	if !gjson.GetBytes(out, "forwardPorts").IsArray() {
		out, err = sjson.SetBytes(out, "forwardPorts", forwardPorts)
		if err != nil {
			return nil, fmt.Errorf("setting forwardPorts: %w", err)
		}
		return out, nil
	}

	present := map[int64]bool{}
	for _, p := range gjson.GetBytes(out, "forwardPorts").Array() {
		present[p.Int()] = true
	}
	for _, p := range forwardPorts {
		if present[int64(p)] {
			continue
		}
		out, err = sjson.SetBytes(out, "forwardPorts.-1", p)
		if err != nil {
			return nil, fmt.Errorf("adding forwarded port %d: %w", p, err)
		}
	}

	return out, nil
}

// putFile creates or updates a file through the contents API, skipping the
// write when the stored content is identical.
func (c *Client) putFile(ctx context.Context, client *gh.Client, owner, repo, branch, path string, content []byte) (driven.FileResult, error) {
	existing, sha, err := getFile(ctx, client, owner, repo, branch, path)
	if err != nil {
		return driven.FileFailed, err
	}
	if existing != nil && bytes.Equal(existing, content) {
		return driven.FileUnchanged, nil
	}
	return c.writeFile(ctx, client, owner, repo, branch, path, content, existing, sha)
}

// writeFile commits content to path. Updates must carry the current blob SHA.
func (c *Client) writeFile(ctx context.Context, client *gh.Client, owner, repo, branch, path string, content, existing []byte, sha string) (driven.FileResult, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.Ptr(commitMessage),
		Content: content,
	}
	if branch != "" {
		opts.Branch = gh.Ptr(branch)
	}

	if existing == nil {
		_, resp, err := client.Repositories.CreateFile(ctx, owner, repo, path, opts)
		logRateLimit(resp, "repos.contents.create")
		if err != nil {
			return driven.FileFailed, fmt.Errorf("creating %s in %s/%s: %w", path, owner, repo, apiError(err))
		}
		return driven.FileCreated, nil
	}

	opts.SHA = gh.Ptr(sha)
	_, resp, err := client.Repositories.UpdateFile(ctx, owner, repo, path, opts)
	logRateLimit(resp, "repos.contents.update")
	if err != nil {
		return driven.FileFailed, fmt.Errorf("updating %s in %s/%s: %w", path, owner, repo, apiError(err))
	}
	return driven.FileUpdated, nil
}

// getFile returns the decoded content and blob SHA of path, or (nil, "", nil)
// when the file does not exist.
func getFile(ctx context.Context, client *gh.Client, owner, repo, branch, path string) ([]byte, string, error) {
	var opts *gh.RepositoryContentGetOptions
	if branch != "" {
		opts = &gh.RepositoryContentGetOptions{Ref: branch}
	}

	file, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, opts)
	logRateLimit(resp, "repos.contents.get")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("reading %s in %s/%s: %w", path, owner, repo, apiError(err))
	}
	if file == nil {
		return nil, "", fmt.Errorf("%s in %s/%s is a directory", path, owner, repo)
	}

	text, err := file.GetContent()
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return []byte(text), file.GetSHA(), nil
}

func render(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
