package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"freightdesk/pkg/config"
	"freightdesk/pkg/fault"
	"freightdesk/pkg/knowledge"
	providertypes "freightdesk/pkg/provider/types"
)

type fakeClient struct {
	mu       sync.Mutex
	requests []providertypes.Request
	reply    func(providertypes.Request) (string, error)
}

func (f *fakeClient) Health(context.Context) error { return nil }

func (f *fakeClient) Complete(_ context.Context, req providertypes.Request) (providertypes.PromptResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	text, err := f.reply(req)
	if err != nil {
		return providertypes.PromptResult{}, err
	}
	return providertypes.PromptResult{Text: text, Metadata: providertypes.PromptMetadata{Provider: "fake", Model: req.Model}}, nil
}

func fixedReply(text string) *fakeClient {
	return &fakeClient{reply: func(providertypes.Request) (string, error) { return text, nil }}
}

func TestRunSendsRoleSettings(t *testing.T) {
	client := fixedReply("A teak chair")
	a := New(RoleIdentifier, client, config.AgentConfig{Model: "gpt-4o-mini", MaxTokens: 200, Temperature: 0.3}, "  identify  ")

	image := providertypes.Image{MimeType: "image/jpeg", Data: []byte{0xff}}
	result, err := a.Run(context.Background(), " what is it? ", image)
	require.NoError(t, err)
	require.Equal(t, "A teak chair", result.Text)
	require.Equal(t, RoleIdentifier, result.Metadata.Agent)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Equal(t, "identify", req.System)
	require.Equal(t, "what is it?", req.Prompt)
	require.Equal(t, 200, req.MaxTokens)
	require.Equal(t, []providertypes.Image{image}, req.Images)
}

func TestRunWrapsFailuresAsAgentInvocation(t *testing.T) {
	client := &fakeClient{reply: func(providertypes.Request) (string, error) { return "", errors.New("quota exceeded") }}
	a := New(RoleEstimator, client, config.AgentConfig{Model: "gpt-4o-mini"}, "")

	_, err := a.Run(context.Background(), "ship a chair")
	require.Error(t, err)
	require.True(t, fault.Is(err, fault.AgentInvocation))
	require.Contains(t, err.Error(), "quota exceeded")
}

func TestBuildResolvesRoles(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.Exa.APIKey = "exa-test"

	for _, role := range []string{RoleIdentifier, RoleEstimator, RoleComplianceExport, RoleComplianceLocal, RoleProcurementAnalyst, RoleProcurementResearch} {
		a, err := Build(context.Background(), cfg, role, nil)
		require.NoError(t, err, role)
		require.Equal(t, role, a.Role())
		if role == RoleProcurementResearch {
			require.Empty(t, a.system)
			require.Equal(t, "exa-research", a.model)
		} else {
			require.NotEmpty(t, a.system, role)
		}
	}

	_, err := Build(context.Background(), cfg, "pirate", nil)
	require.True(t, fault.Is(err, fault.Configuration))
}

func TestBuildRequiresProviderKey(t *testing.T) {
	_, err := Build(context.Background(), config.DefaultConfig(), RoleIdentifier, nil)
	require.True(t, fault.Is(err, fault.Configuration))
}

func TestBuildRejectsImagelessIdentifier(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Agents.Identifier.Provider = "fantasy"

	_, err := Build(context.Background(), cfg, RoleIdentifier, nil)
	require.True(t, fault.Is(err, fault.Configuration))
}

type fakeKB struct{ results []knowledge.Result }

func (f fakeKB) Search(context.Context, string, int) ([]knowledge.Result, error) {
	return f.results, nil
}

func TestComplianceReportJoinsSections(t *testing.T) {
	exportClient := fixedReply("```html\n<h1>Import-Export</h1><p>licence</p>\n```")
	localClient := fixedReply("Here is the report:\n<h1>Local</h1><p>labels</p>")
	kb := fakeKB{results: []knowledge.Result{{Document: "uk-export.md", Content: "Electronics need a licence."}}}

	reporter := NewComplianceReporter(
		New(RoleComplianceExport, exportClient, config.AgentConfig{Model: "m"}, "export"),
		New(RoleComplianceLocal, localClient, config.AgentConfig{Model: "m"}, "local"),
		kb,
	)

	report, err := reporter.Report(context.Background(), "Air purifier from the UK to Morocco")
	require.NoError(t, err)
	require.Equal(t, "<h1>Import-Export</h1><p>licence</p><hr><h1>Local</h1><p>labels</p>", report)

	exportPrompt := exportClient.requests[0].Prompt
	require.True(t, strings.HasPrefix(exportPrompt, "Air purifier from the UK to Morocco\n\n## Relevant Knowledge"))
	require.Equal(t, "Air purifier from the UK to Morocco", localClient.requests[0].Prompt)

	_, err = reporter.Report(context.Background(), " ")
	require.True(t, fault.Is(err, fault.Validation))
}

func TestCleanHTML(t *testing.T) {
	require.Equal(t, "<h1>A</h1>", CleanHTML("```html\n<h1>A</h1>\n```"))
	require.Equal(t, "<h1>A</h1>", CleanHTML("```\n<h1>A</h1>```"))
	require.Equal(t, "<p>no heading</p>", CleanHTML("  <p>no heading</p> "))
	require.Equal(t, "<H1>B</H1>", CleanHTML("Sure!\n<H1>B</H1>"))
}

func TestTranscript(t *testing.T) {
	transcript := NewTranscript()
	transcript.Append("user", "  ship a sofa ")
	transcript.Append("", "ignored")
	transcript.Append("assistant", " ")
	transcript.Append("assistant", "DHL")

	turns := transcript.List()
	require.Len(t, turns, 2)
	require.Equal(t, "ship a sofa", turns[0].Content)

	md := transcript.Markdown()
	require.True(t, strings.HasPrefix(md, "# freightdesk session\n"))
	require.Contains(t, md, "## user (")
	require.Contains(t, md, "\n\nDHL\n")
	require.Nil(t, NewTranscript().List())
}
