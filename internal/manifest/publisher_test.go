package manifest

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultops/internal/config"
	"github.com/systmms/vaultops/internal/git"
	"github.com/systmms/vaultops/tests/testutil"
)

func TestPublish_Local(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	var observed []string
	p := NewPublisher(NewRenderer(fs, ""), fs, "/tmp",
		WithObserver(func(mode, result string) { observed = append(observed, mode+"/"+result) }))

	pub, err := p.Publish(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, pub.Mode)
	assert.Equal(t, "/tmp/job-1/vault-gke-42.yaml", pub.Path)

	data, err := afero.ReadFile(fs, pub.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "vault_name: \"payments\"")
	assert.Equal(t, []string{"local/ok"}, observed)
}

func newGitPublisher(t *testing.T) (*Publisher, *testutil.MockCommandExecutor, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	mock := testutil.NewMockCommandExecutor()
	repo, err := git.New(config.GitConfig{
		URL:         "https://git.example.com/config.git",
		Username:    "bot",
		Token:       "tok3n-value",
		AuthorEmail: "bot@example.com",
	}, git.WithExecutor(mock), git.WithFs(fs))
	require.NoError(t, err)
	return NewPublisher(NewRenderer(fs, ""), fs, "/out", WithRepository(repo)), mock, fs
}

func TestPublish_Git(t *testing.T) {
	t.Parallel()

	p, mock, fs := newGitPublisher(t)
	dir := "/out/job-1/config-repo-42"
	mock.AddResponse("git -C "+dir+" status", testutil.GitMockResponses{}.StatusModified(RepoFile))

	pub, err := p.Publish(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, ModeGit, pub.Mode)
	assert.Equal(t, "ct-uat", pub.Branch)
	assert.Equal(t, dir+"/input.yaml", pub.Path)
	assert.True(t, pub.Changed)

	written, err := afero.ReadFile(fs, dir+"/input.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(written), "ENV: uat")

	mock.AssertCalled(t, "--branch ct-uat")
	mock.AssertCalled(t, "commit -m Copy vault secret payments on uat (Job: job-1)")
	mock.AssertCalled(t, "push --porcelain origin ct-uat:ct-uat")
}

func TestPublish_GitUnchangedIsNoop(t *testing.T) {
	t.Parallel()

	p, mock, _ := newGitPublisher(t)
	mock.AddResponse("git -C /out/job-1/config-repo-42 status", testutil.GitMockResponses{}.StatusClean())

	pub, err := p.Publish(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.False(t, pub.Changed)
	mock.AssertNotCalled(t, " commit ")
}

func TestPublish_GitCloneFailure(t *testing.T) {
	t.Parallel()

	p, mock, _ := newGitPublisher(t)
	mock.AddErrorResponse("git clone", "fatal: Remote branch ct-uat not found", 128)

	_, err := p.Publish(context.Background(), sampleContext())
	require.Error(t, err)
	assert.True(t, git.IsError(err))
}

func TestPublish_RenderFailureSkipsClone(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tpl/vault-gke.tmpl", []byte("{{ .Broken"), 0o644))
	mock := testutil.NewMockCommandExecutor()
	repo, err := git.New(config.GitConfig{URL: "https://git.example.com/c.git"}, git.WithExecutor(mock), git.WithFs(fs))
	require.NoError(t, err)

	p := NewPublisher(NewRenderer(fs, "/tpl"), fs, "/out", WithRepository(repo))
	_, err = p.Publish(context.Background(), sampleContext())

	var renderErr *RenderError
	assert.ErrorAs(t, err, &renderErr)
	assert.Equal(t, 0, mock.CallCount())
}

func TestCommitMessage(t *testing.T) {
	t.Parallel()

	c := sampleContext()
	assert.Equal(t, "Copy vault secret payments on uat (Job: job-1)", CommitMessage(c))

	c.Title = ""
	assert.Equal(t, "Update input.yaml for payments on uat (Job: job-1)", CommitMessage(c))
}
