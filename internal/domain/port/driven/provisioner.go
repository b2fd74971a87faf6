package driven

import "context"

// ProvisionOptions carries the values templated into the repository files.
type ProvisionOptions struct {
	OwnerID    string
	WebhookURL string
	Branch     string
}

// FileResult describes what happened to one provisioned file.
type FileResult string

const (
	FileCreated   FileResult = "created"
	FileUpdated   FileResult = "updated"
	FileUnchanged FileResult = "unchanged"
	FileFailed    FileResult = "failed"
)

// ProvisionReport summarizes a provisioning run.
type ProvisionReport struct {
	Devcontainer  FileResult
	StartupScript FileResult
}

// RepoProvisioner writes the devcontainer config and startup script that make
// a codespace report its tunnel URL back to the bot.
type RepoProvisioner interface {
	Provision(ctx context.Context, token, repoFullName string, opts ProvisionOptions) (ProvisionReport, error)
}
