package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cristianradulescu/mdfence-ls/internal/config"
	"github.com/cristianradulescu/mdfence-ls/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

const (
	testURI       = protocol.DocumentURI("file:///tmp/mdfence/README.md")
	unformatted   = "# Doc\n```sql\nselect a from t\n```\n"
	formattedText = "# Doc\n```sql\nSELECT\n    a\nFROM\n    t\n```\n"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *mockConn) {
	t.Helper()
	conn := &mockConn{}
	s := New(conn, append([]Option{WithRunner(nopRunner{})}, opts...)...)
	t.Cleanup(s.stop)
	return s, conn
}

func call(t *testing.T, s *Server, method string, params interface{}) *replyRecorder {
	t.Helper()
	req, err := jsonrpc2.NewCall(jsonrpc2.NewNumberID(1), method, params)
	require.NoError(t, err)

	rec := &replyRecorder{}
	require.NoError(t, s.Handle(context.Background(), rec.reply, req))
	return rec
}

func notify(t *testing.T, s *Server, method string, params interface{}) {
	t.Helper()
	req, err := jsonrpc2.NewNotification(method, params)
	require.NoError(t, err)

	rec := &replyRecorder{}
	require.NoError(t, s.Handle(context.Background(), rec.reply, req))
}

func openDocument(t *testing.T, s *Server, uri protocol.DocumentURI, text string) {
	notify(t, s, protocol.MethodTextDocumentDidOpen, map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri, "languageId": "markdown", "version": 1, "text": text},
	})
}

func changeDocument(t *testing.T, s *Server, uri protocol.DocumentURI, version int, text string) {
	notify(t, s, protocol.MethodTextDocumentDidChange, map[string]interface{}{
		"textDocument":   map[string]interface{}{"uri": uri, "version": version},
		"contentChanges": []map[string]interface{}{{"text": text}},
	})
}

func configure(t *testing.T, s *Server, settings map[string]interface{}) {
	notify(t, s, protocol.MethodWorkspaceDidChangeConfiguration, map[string]interface{}{
		"settings": map[string]interface{}{config.Name: settings},
	})
}

func TestServerCapabilities(t *testing.T) {
	capabilities := serverCapabilities()

	require.NotNil(t, capabilities.ExecuteCommandProvider)
	assert.Equal(t, []string{"mdfence-ls/formatCodeBlocks", "mdfence-ls/showConfig"}, capabilities.ExecuteCommandProvider.Commands)
	assert.Equal(t, true, capabilities.DocumentFormattingProvider)

	info := serverInfo()
	assert.Equal(t, config.Name, info.Name)
	assert.Equal(t, config.Version, info.Version)
}

func TestGetFullLspCommandName(t *testing.T) {
	assert.Equal(t, "mdfence-ls/showConfig", getFullLspCommandName(LspCommandNameShowConfig))
	assert.Equal(t, "mdfence-ls/formatCodeBlocks", getFullLspCommandName(LspCommandNameFormatCodeBlocks))
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		configFile string
		options    interface{}
		verify     func(t *testing.T, settings config.Settings)
	}{
		{
			name:       "config file in workspace root",
			configFile: `{"formatOnSave": true, "sqlDialect": "mysql", "formatInterval": 10}`,
			verify: func(t *testing.T, settings config.Settings) {
				assert.True(t, settings.FormatOnSave)
				assert.Equal(t, "mysql", settings.SQLDialect)
				assert.Equal(t, 10, settings.FormatInterval)
			},
		},
		{
			name: "missing config file keeps defaults",
			verify: func(t *testing.T, settings config.Settings) {
				assert.Equal(t, config.Defaults(), settings)
			},
		},
		{
			name:       "initialization options override the file",
			configFile: `{"sqlDialect": "mysql"}`,
			options:    map[string]interface{}{config.Name: map[string]interface{}{"sqlDialect": "postgresql", "supportedLanguages": "sql"}},
			verify: func(t *testing.T, settings config.Settings) {
				assert.Equal(t, "postgresql", settings.SQLDialect)
				assert.Equal(t, []string{"sql"}, settings.SupportedLanguages)
			},
		},
		{
			name:    "flat initialization options",
			options: map[string]interface{}{"formatOnSave": true},
			verify: func(t *testing.T, settings config.Settings) {
				assert.True(t, settings.FormatOnSave)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.configFile != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(tt.configFile), 0644))
			}
			s, conn := newTestServer(t)

			params := map[string]interface{}{
				"processId": 1,
				"rootUri":   utils.PathToURI(dir),
			}
			if tt.options != nil {
				params["initializationOptions"] = tt.options
			}
			rec := call(t, s, protocol.MethodInitialize, params)

			require.True(t, rec.called)
			require.NoError(t, rec.err)
			result, ok := rec.result.(protocol.InitializeResult)
			require.True(t, ok)
			assert.Equal(t, config.Name, result.ServerInfo.Name)
			assert.False(t, conn.closed)

			_, settings := s.snapshot()
			tt.verify(t, settings)
		})
	}
}

func TestDocumentFormatting(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		expectedEdits []protocol.TextEdit
		expectedDiags int
	}{
		{
			name: "formats sql block",
			text: unformatted,
			expectedEdits: []protocol.TextEdit{
				{
					Range: protocol.Range{
						Start: protocol.Position{Line: 0, Character: 0},
						End:   protocol.Position{Line: 4, Character: 0},
					},
					NewText: formattedText,
				},
			},
		},
		{
			name:          "already formatted",
			text:          formattedText,
			expectedEdits: []protocol.TextEdit{},
		},
		{
			name:          "broken block is reported",
			text:          "```sql\nselect (\n```\n",
			expectedEdits: []protocol.TextEdit{},
			expectedDiags: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, conn := newTestServer(t)
			openDocument(t, s, testURI, tt.text)

			rec := call(t, s, protocol.MethodTextDocumentFormatting, map[string]interface{}{
				"textDocument": map[string]interface{}{"uri": testURI},
				"options":      map[string]interface{}{"tabSize": 4, "insertSpaces": true},
			})

			require.NoError(t, rec.err)
			assert.Equal(t, tt.expectedEdits, rec.result)

			published := conn.Notifications(protocol.MethodTextDocumentPublishDiagnostics)
			require.Len(t, published, 1)
			params := published[0].params.(protocol.PublishDiagnosticsParams)
			assert.Equal(t, testURI, params.URI)
			assert.Len(t, params.Diagnostics, tt.expectedDiags)
		})
	}
}

func TestDocumentFormatting_ReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte(unformatted), 0644))
	s, _ := newTestServer(t)

	rec := call(t, s, protocol.MethodTextDocumentFormatting, map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": utils.PathToURI(path)},
		"options":      map[string]interface{}{"tabSize": 4, "insertSpaces": true},
	})

	require.NoError(t, rec.err)
	edits := rec.result.([]protocol.TextEdit)
	require.Len(t, edits, 1)
	assert.Equal(t, formattedText, edits[0].NewText)
}

func TestExecuteCommand_FormatCodeBlocks(t *testing.T) {
	s, conn := newTestServer(t)
	openDocument(t, s, testURI, unformatted)

	rec := call(t, s, protocol.MethodWorkspaceExecuteCommand, map[string]interface{}{
		"command":   getFullLspCommandName(LspCommandNameFormatCodeBlocks),
		"arguments": []interface{}{string(testURI)},
	})

	require.NoError(t, rec.err)
	edits := conn.Calls(protocol.MethodWorkspaceApplyEdit)
	require.Len(t, edits, 1)
	params := edits[0].params.(protocol.ApplyWorkspaceEditParams)
	require.Len(t, params.Edit.Changes[testURI], 1)
	assert.Equal(t, formattedText, params.Edit.Changes[testURI][0].NewText)

	content, _ := s.getDocumentContent(testURI)
	assert.Equal(t, formattedText, content)
}

func TestExecuteCommand_Errors(t *testing.T) {
	tests := []struct {
		name      string
		command   string
		arguments []interface{}
	}{
		{name: "unknown command", command: "mdfence-ls/unknown"},
		{name: "missing uri", command: getFullLspCommandName(LspCommandNameFormatCodeBlocks)},
		{name: "uri is not a string", command: getFullLspCommandName(LspCommandNameFormatCodeBlocks), arguments: []interface{}{42}},
		{name: "unreadable document", command: getFullLspCommandName(LspCommandNameFormatCodeBlocks), arguments: []interface{}{"file:///does/not/exist.md"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, conn := newTestServer(t)

			rec := call(t, s, protocol.MethodWorkspaceExecuteCommand, map[string]interface{}{
				"command":   tt.command,
				"arguments": tt.arguments,
			})

			assert.Error(t, rec.err)
			assert.Empty(t, conn.Calls(protocol.MethodWorkspaceApplyEdit))
		})
	}
}

func TestExecuteCommand_ShowConfig(t *testing.T) {
	s, conn := newTestServer(t)

	rec := call(t, s, protocol.MethodWorkspaceExecuteCommand, map[string]interface{}{
		"command": getFullLspCommandName(LspCommandNameShowConfig),
	})

	require.NoError(t, rec.err)
	messages := conn.messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Current configuration (defaults)")
	assert.Contains(t, messages[0], `"sqlDialect":"sql"`)
}

func TestDidChangeConfiguration(t *testing.T) {
	s, _ := newTestServer(t)

	configure(t, s, map[string]interface{}{"formatOnSave": true, "formatInterval": 120, "sqlDialect": "nope"})

	_, settings := s.snapshot()
	assert.True(t, settings.FormatOnSave)
	assert.Equal(t, config.MaxFormatInterval, settings.FormatInterval)
	assert.Equal(t, config.DefaultSQLDialect, settings.SQLDialect)
}

func TestApplySettings_Cache(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s.cache)

	cache := s.cache
	cache.Set("sql", "sql", "select 1", "SELECT\n    1")
	require.Equal(t, 1, cache.Len())

	configure(t, s, map[string]interface{}{"sqlDialect": "mysql"})
	assert.Same(t, cache, s.cache)
	assert.Equal(t, 0, s.cache.Len())

	configure(t, s, map[string]interface{}{"cacheTTL": 60})
	require.NotNil(t, s.cache)
	assert.NotSame(t, cache, s.cache)

	configure(t, s, map[string]interface{}{"cacheTTL": 0})
	assert.Nil(t, s.cache)
}

func TestAutoFormat_LastChangeWins(t *testing.T) {
	s, conn := newTestServer(t, WithFormatInterval(30*time.Millisecond))
	configure(t, s, map[string]interface{}{"formatOnSave": true})
	openDocument(t, s, testURI, "")

	changeDocument(t, s, testURI, 2, "```sql\nselect x from y\n```\n")
	changeDocument(t, s, testURI, 3, "```sql\nselect z from w\n```\n")
	changeDocument(t, s, testURI, 4, unformatted)

	assert.Eventually(t, func() bool {
		return len(conn.Calls(protocol.MethodWorkspaceApplyEdit)) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	edits := conn.Calls(protocol.MethodWorkspaceApplyEdit)
	require.Len(t, edits, 1)
	params := edits[0].params.(protocol.ApplyWorkspaceEditParams)
	assert.Equal(t, formattedText, params.Edit.Changes[testURI][0].NewText)
	assert.Contains(t, conn.messages(), NotificationCodeBlocksFormatted)
}

func TestAutoFormat_Disabled(t *testing.T) {
	s, conn := newTestServer(t, WithFormatInterval(10*time.Millisecond))
	openDocument(t, s, testURI, "")

	changeDocument(t, s, testURI, 2, unformatted)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, conn.Calls(protocol.MethodWorkspaceApplyEdit))
}

func TestAutoFormat_IgnoresOtherFiles(t *testing.T) {
	s, conn := newTestServer(t, WithFormatInterval(10*time.Millisecond))
	configure(t, s, map[string]interface{}{"formatOnSave": true})
	uri := protocol.DocumentURI("file:///tmp/mdfence/main.go")
	openDocument(t, s, uri, "")

	changeDocument(t, s, uri, 2, unformatted)
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, conn.Calls(protocol.MethodWorkspaceApplyEdit))
}

func TestAutoFormat_CancelledOnClose(t *testing.T) {
	s, conn := newTestServer(t, WithFormatInterval(50*time.Millisecond))
	configure(t, s, map[string]interface{}{"formatOnSave": true})
	openDocument(t, s, testURI, "")

	changeDocument(t, s, testURI, 2, unformatted)
	notify(t, s, protocol.MethodTextDocumentDidClose, map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": testURI},
	})
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, conn.Calls(protocol.MethodWorkspaceApplyEdit))
	_, exists := s.getDocumentContent(testURI)
	assert.False(t, exists)
}

func TestAutoFormat_RejectedEdit(t *testing.T) {
	s, conn := newTestServer(t, WithFormatInterval(10*time.Millisecond))
	conn.rejectEdits = true
	configure(t, s, map[string]interface{}{"formatOnSave": true})
	openDocument(t, s, testURI, "")

	changeDocument(t, s, testURI, 2, unformatted)

	assert.Eventually(t, func() bool {
		return len(conn.Calls(protocol.MethodWorkspaceApplyEdit)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.NotContains(t, conn.messages(), NotificationCodeBlocksFormatted)
	content, _ := s.getDocumentContent(testURI)
	assert.Equal(t, unformatted, content)
}

func TestShutdownAndExit(t *testing.T) {
	s, conn := newTestServer(t)

	rec := call(t, s, protocol.MethodShutdown, nil)
	require.NoError(t, rec.err)

	notify(t, s, protocol.MethodExit, nil)
	assert.True(t, conn.closed)
}

func TestUnhandledMethod(t *testing.T) {
	s, _ := newTestServer(t)

	rec := call(t, s, "textDocument/hover", map[string]interface{}{})

	assert.True(t, rec.called)
	assert.NoError(t, rec.err)
	assert.Nil(t, rec.result)
}
